//go:build opencl

package opencl

import (
	"fmt"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
	"github.com/notargets/devsync/device"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Backend is the registered backend name
const Backend = "opencl"

func init() {
	device.Register(Backend, driver{})
}

// statuses maps the binding's error values back to status codes
var statuses = map[error]device.Status{
	cl.ErrDeviceNotFound:             device.DeviceNotFound,
	cl.ErrMemObjectAllocationFailure: device.MemObjectAllocationFailure,
	cl.ErrOutOfResources:             device.OutOfResources,
	cl.ErrOutOfHostMemory:            device.OutOfHostMemory,
	cl.ErrProfilingInfoNotAvailable:  device.ProfilingInfoNotAvailable,
	cl.ErrBuildProgramFailure:        device.BuildProgramFailure,
	cl.ErrInvalidValue:               device.InvalidValue,
	cl.ErrInvalidDevice:              device.InvalidDevice,
	cl.ErrInvalidContext:             device.InvalidContext,
	cl.ErrInvalidCommandQueue:        device.InvalidCommandQueue,
	cl.ErrInvalidHostPtr:             device.InvalidHostPtr,
	cl.ErrInvalidMemObject:           device.InvalidMemObject,
	cl.ErrInvalidKernelName:          device.InvalidKernelName,
	cl.ErrInvalidKernel:              device.InvalidKernel,
	cl.ErrInvalidArgIndex:            device.InvalidArgIndex,
	cl.ErrInvalidArgValue:            device.InvalidArgValue,
	cl.ErrInvalidArgSize:             device.InvalidArgSize,
	cl.ErrInvalidKernelArgs:          device.InvalidKernelArgs,
	cl.ErrInvalidWorkGroupSize:       device.InvalidWorkGroupSize,
	cl.ErrInvalidEventWaitList:       device.InvalidEventWaitList,
	cl.ErrInvalidEvent:               device.InvalidEvent,
	cl.ErrInvalidOperation:           device.InvalidOperation,
	cl.ErrInvalidBufferSize:          device.InvalidBufferSize,
	cl.ErrInvalidGlobalWorkSize:      device.InvalidGlobalWorkSize,
}

// fail converts a binding error into a device error
func fail(op string, err error) error {
	if err == nil {
		return nil
	}
	status, ok := statuses[err]
	if !ok {
		if _, build := err.(cl.BuildError); build {
			status = device.BuildProgramFailure
		} else {
			status = device.InvalidOperation
		}
	}
	return device.Failf(status, op, "%v", err)
}

type driver struct{}

func (driver) Devices() ([]device.Info, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, fail("get platforms", err)
	}
	var out []device.Info
	for p, platform := range platforms {
		devs, err := platform.GetDevices(cl.DeviceTypeAll)
		if err != nil {
			klog.V(1).Infof("opencl: platform %s: %v", platform.Name(), err)
			continue
		}
		for i, d := range devs {
			out = append(out, device.Info{
				Backend: Backend, Platform: p, Index: i,
				Name: d.Name(), Type: deviceType(d.Type()), Extensions: d.Extensions(),
			})
		}
	}
	return out, nil
}

func (driver) Open(desc device.Descriptor) (device.Device, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, fail("get platforms", err)
	}
	if desc.Platform >= len(platforms) {
		return nil, device.Failf(device.DeviceNotFound, "open opencl", "platform %d of %d", desc.Platform, len(platforms))
	}
	devs, err := platforms[desc.Platform].GetDevices(cl.DeviceTypeAll)
	if err != nil {
		return nil, fail("get devices", err)
	}
	if desc.Index >= len(devs) {
		return nil, device.Failf(device.DeviceNotFound, "open opencl", "device %d of %d", desc.Index, len(devs))
	}
	return &Device{dev: devs[desc.Index]}, nil
}

func deviceType(t cl.DeviceType) device.Type {
	switch {
	case t&cl.DeviceTypeGPU != 0:
		return device.TypeGPU
	case t&cl.DeviceTypeCPU != 0:
		return device.TypeCPU
	case t&cl.DeviceTypeAccelerator != 0:
		return device.TypeAccelerator
	default:
		return device.TypeDefault
	}
}

// Device is one OpenCL device
type Device struct {
	dev *cl.Device
}

var _ device.Device = (*Device)(nil)

func (d *Device) Name() string       { return d.dev.Name() }
func (d *Device) Type() device.Type  { return deviceType(d.dev.Type()) }
func (d *Device) Extensions() string { return d.dev.Extensions() }
func (d *Device) Release() error     { return nil }
func (d *Device) String() string     { return fmt.Sprintf("opencl(%s)", d.dev.Name()) }

func (d *Device) NewContext() (device.Context, error) {
	ctx, err := cl.CreateContext([]*cl.Device{d.dev})
	if err != nil {
		return nil, fail("create context", err)
	}
	return &Context{dev: d.dev, ctx: ctx}, nil
}

// Context owns the OpenCL context of one device
type Context struct {
	dev *cl.Device
	ctx *cl.Context
}

func memFlags(f device.MemFlags) cl.MemFlag {
	var out cl.MemFlag
	switch {
	case f&device.MemReadOnly != 0:
		out = cl.MemReadOnly
	case f&device.MemWriteOnly != 0:
		out = cl.MemWriteOnly
	default:
		out = cl.MemReadWrite
	}
	if f&device.MemUseHostPtr != 0 {
		out |= cl.MemUseHostPtr
	}
	return out
}

func (c *Context) Alloc(flags device.MemFlags, size int, host unsafe.Pointer) (device.Memory, error) {
	if flags&device.MemUseHostPtr == 0 {
		host = nil
	}
	mem, err := c.ctx.CreateBufferUnsafe(memFlags(flags), size, host)
	if err != nil {
		return nil, fail("create buffer", err)
	}
	return &Memory{mem: mem, size: size}, nil
}

func (c *Context) Build(source, entry string) (device.Kernel, error) {
	prog, err := c.ctx.CreateProgramWithSource([]string{source})
	if err != nil {
		return nil, fail("create program", err)
	}
	if err := prog.BuildProgram([]*cl.Device{c.dev}, ""); err != nil {
		prog.Release()
		return nil, fail("build program", err)
	}
	k, err := prog.CreateKernel(entry)
	if err != nil {
		prog.Release()
		return nil, fail("create kernel "+entry, err)
	}
	return &Kernel{dev: c.dev, prog: prog, k: k, name: entry}, nil
}

func (c *Context) NewQueue(profiling bool) (device.Queue, error) {
	var props cl.CommandQueueProperty
	if profiling {
		props = cl.CommandQueueProfilingEnable
	}
	q, err := c.ctx.CreateCommandQueue(c.dev, props)
	if err != nil {
		return nil, fail("create queue", err)
	}
	return &Queue{q: q}, nil
}

func (c *Context) Release() error {
	c.ctx.Release()
	return nil
}

// Memory is one buffer object
type Memory struct {
	mem  *cl.MemObject
	size int
}

func (m *Memory) Size() int { return m.size }

func (m *Memory) Release() error {
	m.mem.Release()
	return nil
}

// Kernel owns its program
type Kernel struct {
	dev  *cl.Device
	prog *cl.Program
	k    *cl.Kernel
	name string
}

func (k *Kernel) SetArgMemory(pos int, m device.Memory) error {
	mem, ok := m.(*Memory)
	if !ok {
		return device.Failf(device.InvalidMemObject, "set arg", "position %d", pos)
	}
	return fail("set arg", k.k.SetArgBuffer(pos, mem.mem))
}

func (k *Kernel) SetArgLocal(pos int, size int) error {
	return fail("set arg", k.k.SetArgLocal(pos, size))
}

func (k *Kernel) SetArgScalar(pos int, value interface{}) error {
	switch v := value.(type) {
	case float32, float64, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return fail("set arg", k.k.SetArg(pos, v))
	default:
		return device.Failf(device.InvalidArgValue, "set arg", "scalar %T at position %d", value, pos)
	}
}

func (k *Kernel) WorkGroupSize() (int, error) {
	n, err := k.k.WorkGroupSize(k.dev)
	return n, fail("work group size", err)
}

func (k *Kernel) Release() error {
	k.k.Release()
	k.prog.Release()
	return nil
}

// Queue is an in-order command queue
type Queue struct {
	q *cl.CommandQueue
}

func waitList(wait []device.Event) ([]*cl.Event, error) {
	if len(wait) == 0 {
		return nil, nil
	}
	out := make([]*cl.Event, len(wait))
	for i, w := range wait {
		e, ok := w.(*Event)
		if !ok || e.ev == nil {
			return nil, device.Fail(device.InvalidEventWaitList, "wait list")
		}
		out[i] = e.ev
	}
	return out, nil
}

func (q *Queue) EnqueueWrite(m device.Memory, host unsafe.Pointer, size int, wait []device.Event) (device.Event, error) {
	mem, ok := m.(*Memory)
	if !ok {
		return nil, device.Fail(device.InvalidMemObject, "write")
	}
	wl, err := waitList(wait)
	if err != nil {
		return nil, err
	}
	ev, err := q.q.EnqueueWriteBuffer(mem.mem, false, 0, size, host, wl)
	if err != nil {
		return nil, fail("enqueue write", err)
	}
	return &Event{ev: ev}, nil
}

func (q *Queue) EnqueueRead(m device.Memory, host unsafe.Pointer, size int, wait []device.Event) (device.Event, error) {
	mem, ok := m.(*Memory)
	if !ok {
		return nil, device.Fail(device.InvalidMemObject, "read")
	}
	wl, err := waitList(wait)
	if err != nil {
		return nil, err
	}
	ev, err := q.q.EnqueueReadBuffer(mem.mem, false, 0, size, host, wl)
	if err != nil {
		return nil, fail("enqueue read", err)
	}
	return &Event{ev: ev}, nil
}

func (q *Queue) EnqueueKernel(k device.Kernel, r device.Range, wait []device.Event) (device.Event, error) {
	kern, ok := k.(*Kernel)
	if !ok {
		return nil, device.Fail(device.InvalidKernel, "enqueue kernel")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	wl, err := waitList(wait)
	if err != nil {
		return nil, err
	}
	global := append([]int(nil), r.Global[:r.Dims]...)
	local := append([]int(nil), r.Local[:r.Dims]...)
	ev, err := q.q.EnqueueNDRangeKernel(kern.k, nil, global, local, wl)
	if err != nil {
		return nil, errors.Wrapf(fail("enqueue kernel", err), "%s over %s", kern.name, r)
	}
	return &Event{ev: ev}, nil
}

func (q *Queue) EnqueueMarker() (device.Event, error) {
	ev, err := q.q.EnqueueMarkerWithWaitList(nil)
	if err != nil {
		return nil, fail("enqueue marker", err)
	}
	return &Event{ev: ev}, nil
}

func (q *Queue) WaitForEvents(events []device.Event) error {
	wl, err := waitList(events)
	if err != nil {
		return err
	}
	if len(wl) == 0 {
		return device.Fail(device.InvalidValue, "wait for events")
	}
	return fail("wait for events", cl.WaitForEvents(wl))
}

func (q *Queue) Finish() error {
	return fail("finish", q.q.Finish())
}

func (q *Queue) Release() error {
	q.q.Release()
	return nil
}

// Event wraps a cl event; ev is nil once released
type Event struct {
	ev *cl.Event
}

func (e *Event) Wait() error {
	if e.ev == nil {
		return device.Fail(device.InvalidEvent, "wait")
	}
	return fail("wait", cl.WaitForEvents([]*cl.Event{e.ev}))
}

// Status blocks until the command finished; a failed command reports its
// error
func (e *Event) Status() (device.ExecStatus, error) {
	if err := e.Wait(); err != nil {
		return 0, err
	}
	return device.Complete, nil
}

func (e *Event) Profile() (device.Timestamps, error) {
	if e.ev == nil {
		return device.Timestamps{}, device.Fail(device.InvalidEvent, "profile")
	}
	var ts device.Timestamps
	for _, f := range []struct {
		dst  *uint64
		info cl.ProfilingInfo
	}{
		{&ts.Queued, cl.ProfilingInfoCommandQueued},
		{&ts.Submit, cl.ProfilingInfoCommandSubmit},
		{&ts.Start, cl.ProfilingInfoCommandStart},
		{&ts.End, cl.ProfilingInfoCommandEnd},
	} {
		v, err := e.ev.GetEventProfilingInfo(f.info)
		if err != nil {
			return device.Timestamps{}, fail("profile", err)
		}
		*f.dst = uint64(v)
	}
	return ts, nil
}

func (e *Event) Release() error {
	if e.ev == nil {
		return device.Fail(device.InvalidEvent, "release event")
	}
	e.ev.Release()
	e.ev = nil
	return nil
}
