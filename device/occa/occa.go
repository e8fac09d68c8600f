//go:build occa

package occa

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/notargets/devsync/device"
	"github.com/notargets/gocca"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Backend is the registered backend name
const Backend = "occa"

// backendModes are tried in order when no property string is given
var backendModes = []string{
	`{"mode": "CUDA", "device_id": 0}`,
	`{"mode": "OpenMP"}`,
	`{"mode": "Serial"}`,
}

func init() {
	device.Register(Backend, driver{})
}

type driver struct{}

func (driver) Devices() ([]device.Info, error) {
	var out []device.Info
	for i, props := range backendModes {
		d, err := gocca.NewDevice(props)
		if err != nil {
			continue
		}
		out = append(out, device.Info{Backend: Backend, Index: i, Name: d.Mode(), Type: modeType(d.Mode())})
		d.Free()
	}
	return out, nil
}

// Open uses d.Props when set, otherwise backend mode d.Index, otherwise the
// first mode that opens
func (driver) Open(d device.Descriptor) (device.Device, error) {
	candidates := backendModes
	switch {
	case d.Props != "":
		candidates = []string{d.Props}
	case d.Index > 0 && d.Index < len(backendModes):
		candidates = backendModes[d.Index : d.Index+1]
	}
	var lastErr error
	for _, props := range candidates {
		dev, err := gocca.NewDevice(props)
		if err == nil {
			klog.V(1).Infof("occa: created %s device", dev.Mode())
			return &Device{dev: dev, props: props}, nil
		}
		lastErr = err
	}
	return nil, device.Failf(device.DeviceNotFound, "open occa", "%v", lastErr)
}

func modeType(mode string) device.Type {
	switch mode {
	case "CUDA", "HIP", "OpenCL", "Metal":
		return device.TypeGPU
	default:
		return device.TypeCPU
	}
}

// Device wraps one OCCA device
type Device struct {
	dev   *gocca.OCCADevice
	props string
	mu    sync.Mutex
	freed bool
}

var _ device.Device = (*Device)(nil)

func (d *Device) Name() string { return "occa:" + d.dev.Mode() }

func (d *Device) Type() device.Type { return modeType(d.dev.Mode()) }

func (d *Device) Extensions() string {
	if d.dev.Mode() == "CUDA" {
		return "cl_khr_fp64 cl_khr_fp16"
	}
	return "cl_khr_fp64"
}

func (d *Device) NewContext() (device.Context, error) {
	if d.freed {
		return nil, device.Fail(device.InvalidDevice, "new context")
	}
	return &Context{dev: d}, nil
}

func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.freed {
		return device.Fail(device.InvalidDevice, "release device")
	}
	d.freed = true
	d.dev.Free()
	return nil
}

// Context is a thin handle; OCCA keeps allocations on the device
type Context struct {
	dev      *Device
	released bool
}

func (c *Context) Alloc(flags device.MemFlags, size int, host unsafe.Pointer) (device.Memory, error) {
	if c.released {
		return nil, device.Fail(device.InvalidContext, "alloc")
	}
	if size <= 0 {
		return nil, device.Failf(device.InvalidBufferSize, "alloc", "size %d", size)
	}
	var src unsafe.Pointer
	if flags&device.MemUseHostPtr != 0 {
		src = host
	}
	mem := c.dev.dev.Malloc(int64(size), src, nil)
	if mem == nil {
		return nil, device.Failf(device.MemObjectAllocationFailure, "alloc", "%d bytes", size)
	}
	return &Memory{mem: mem, size: size}, nil
}

func (c *Context) Build(source, entry string) (device.Kernel, error) {
	props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
	k, err := c.dev.dev.BuildKernelFromString(source, entry, props)
	if err != nil {
		return nil, device.Failf(device.BuildProgramFailure, "build "+entry, "%v", err)
	}
	return &Kernel{dev: c.dev, k: k, name: entry, args: make(map[int]interface{})}, nil
}

func (c *Context) NewQueue(profiling bool) (device.Queue, error) {
	return &Queue{dev: c.dev, profiling: profiling}, nil
}

func (c *Context) Release() error {
	if c.released {
		return device.Fail(device.InvalidContext, "release context")
	}
	c.released = true
	return nil
}

// Memory is one OCCA allocation
type Memory struct {
	mem  *gocca.OCCAMemory
	size int
	done bool
}

func (m *Memory) Size() int { return m.size }

func (m *Memory) Release() error {
	if m.done {
		return device.Fail(device.InvalidMemObject, "release memory")
	}
	m.done = true
	m.mem.Free()
	return nil
}

// Kernel collects positional arguments until launch
type Kernel struct {
	dev  *Device
	k    *gocca.OCCAKernel
	name string
	args map[int]interface{}
	done bool
}

func (k *Kernel) SetArgMemory(pos int, m device.Memory) error {
	mem, ok := m.(*Memory)
	if !ok || mem.done {
		return device.Failf(device.InvalidMemObject, "set arg", "position %d", pos)
	}
	k.args[pos] = mem.mem
	return nil
}

func (k *Kernel) SetArgLocal(pos int, size int) error {
	return device.Failf(device.InvalidArgValue, "set arg",
		"%s: OKL kernels declare @shared memory, no local argument at %d", k.name, pos)
}

func (k *Kernel) SetArgScalar(pos int, value interface{}) error {
	switch value.(type) {
	case float32, float64, int32, int64, uint32, uint64, int8, uint8, int16, uint16:
	default:
		return device.Failf(device.InvalidArgValue, "set arg", "scalar %T at position %d", value, pos)
	}
	k.args[pos] = value
	return nil
}

// WorkGroupSize has no OCCA equivalent; @inner loop bounds decide
func (k *Kernel) WorkGroupSize() (int, error) { return 1024, nil }

func (k *Kernel) Release() error {
	if k.done {
		return device.Fail(device.InvalidKernel, "release kernel")
	}
	k.done = true
	k.k.Free()
	return nil
}

func (k *Kernel) ordered() ([]interface{}, error) {
	out := make([]interface{}, len(k.args))
	for pos := range out {
		v, ok := k.args[pos]
		if !ok {
			return nil, device.Failf(device.InvalidKernelArgs, "run "+k.name, "argument %d not set", pos)
		}
		out[pos] = v
	}
	return out, nil
}

// Queue issues commands straight to the device stream. Wait lists need no
// handling since the stream is in order.
type Queue struct {
	dev       *Device
	profiling bool
	released  bool
}

func (q *Queue) event(start time.Time, err error) *Event {
	return &Event{dev: q.dev, start: start, end: time.Now(), profiling: q.profiling, err: err}
}

func (q *Queue) transfer(op string, m device.Memory, host unsafe.Pointer, size int) (device.Event, error) {
	if q.released {
		return nil, device.Fail(device.InvalidCommandQueue, op)
	}
	mem, ok := m.(*Memory)
	if !ok || mem.done {
		return nil, device.Fail(device.InvalidMemObject, op)
	}
	if host == nil || size <= 0 || size > mem.size {
		return nil, device.Failf(device.InvalidValue, op, "size %d of %d", size, mem.size)
	}
	start := time.Now()
	if op == "write" {
		mem.mem.CopyFrom(host, int64(size))
	} else {
		mem.mem.CopyTo(host, int64(size))
	}
	return q.event(start, nil), nil
}

func (q *Queue) EnqueueWrite(m device.Memory, host unsafe.Pointer, size int, wait []device.Event) (device.Event, error) {
	return q.transfer("write", m, host, size)
}

func (q *Queue) EnqueueRead(m device.Memory, host unsafe.Pointer, size int, wait []device.Event) (device.Event, error) {
	return q.transfer("read", m, host, size)
}

func (q *Queue) EnqueueKernel(k device.Kernel, r device.Range, wait []device.Event) (device.Event, error) {
	kern, ok := k.(*Kernel)
	if !ok || kern.done {
		return nil, device.Fail(device.InvalidKernel, "enqueue kernel")
	}
	args, err := kern.ordered()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := kern.k.RunWithArgs(args...); err != nil {
		return q.event(start, device.Failf(device.ExecStatusError, "kernel "+kern.name, "%v", err)), nil
	}
	return q.event(start, nil), nil
}

func (q *Queue) EnqueueMarker() (device.Event, error) {
	return q.event(time.Now(), nil), nil
}

func (q *Queue) WaitForEvents(events []device.Event) error {
	if len(events) == 0 {
		return device.Fail(device.InvalidValue, "wait for events")
	}
	for _, e := range events {
		if err := e.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) Finish() error {
	q.dev.dev.Finish()
	return nil
}

func (q *Queue) Release() error {
	if q.released {
		return device.Fail(device.InvalidCommandQueue, "release queue")
	}
	q.released = true
	return nil
}

// Event completes once the device stream has drained
type Event struct {
	dev        *Device
	start, end time.Time
	profiling  bool
	err        error
	finished   bool
	released   bool
}

func (e *Event) Wait() error {
	if e.released {
		return device.Fail(device.InvalidEvent, "wait")
	}
	if !e.finished {
		e.dev.dev.Finish()
		e.end, e.finished = time.Now(), true
	}
	return e.err
}

func (e *Event) Status() (device.ExecStatus, error) {
	if e.released {
		return 0, device.Fail(device.InvalidEvent, "event status")
	}
	if e.err != nil {
		return 0, e.err
	}
	if !e.finished {
		return device.Submitted, nil
	}
	return device.Complete, nil
}

func (e *Event) Profile() (device.Timestamps, error) {
	if e.released {
		return device.Timestamps{}, device.Fail(device.InvalidEvent, "profile")
	}
	if !e.profiling {
		return device.Timestamps{}, device.Fail(device.ProfilingInfoNotAvailable, "profile")
	}
	start := uint64(e.start.UnixNano())
	return device.Timestamps{Queued: start, Submit: start, Start: start, End: uint64(e.end.UnixNano())}, nil
}

func (e *Event) Release() error {
	if e.released {
		return device.Fail(device.InvalidEvent, "release event")
	}
	e.released = true
	return nil
}

func (d *Device) String() string { return fmt.Sprintf("occa(%s)", d.props) }
