// Package hostsim is an in-process device. Kernels are Go functions looked up
// by entry name, device memory is separate from host memory, and every queue
// command is executed in order at enqueue time. Each call is recorded in a
// command log so callers can inspect ordering and event lifetimes.
package hostsim

import (
	"sync"
	"unsafe"

	"github.com/notargets/devsync/device"
	"k8s.io/klog/v2"
)

// Backend is the name hostsim registers under
const Backend = "hostsim"

// DefaultMaxWorkGroupSize is the largest work-group a kernel accepts unless
// overridden with WithMaxWorkGroupSize
const DefaultMaxWorkGroupSize = 256

const extensions = "cl_khr_fp64 cl_khr_fp16 cl_khr_byte_addressable_store cl_khr_global_int32_base_atomics"

func init() {
	device.Register(Backend, driver{})
}

type driver struct{}

func (driver) Devices() ([]device.Info, error) {
	return []device.Info{{
		Backend:    Backend,
		Name:       "hostsim",
		Type:       device.TypeCPU,
		Extensions: extensions,
	}}, nil
}

func (driver) Open(d device.Descriptor) (device.Device, error) {
	if d.Platform != 0 || d.Index != 0 {
		return nil, device.Failf(device.DeviceNotFound, "open", "hostsim has one device, got platform %d index %d",
			d.Platform, d.Index)
	}
	return New(), nil
}

// Option configures a Device
type Option func(*Device)

// WithLibrary adds kernels to the device's library
func WithLibrary(lib Library) Option {
	return func(d *Device) {
		for name, fn := range lib {
			d.library[name] = fn
		}
	}
}

// WithMaxWorkGroupSize sets the largest work-group kernels report
func WithMaxWorkGroupSize(n int) Option {
	return func(d *Device) { d.maxGroup = n }
}

// WithName sets the device name
func WithName(name string) Option {
	return func(d *Device) { d.name = name }
}

// Stats counts device objects and commands
type Stats struct {
	Allocs, MemReleases, LiveMemory int
	Events, EventReleases           int
	LiveEvents, LiveKernelEvents    int
	Writes, Reads, Launches         int
	Finishes, Waits                 int
	KernelsBuilt, KernelReleases    int
}

type fault struct {
	op     Op
	after  int
	status device.Status
}

// Device is a simulated compute device
type Device struct {
	mu       sync.Mutex
	name     string
	maxGroup int
	library  Library
	nextID   int
	clock    uint64
	log      []Command
	stats    Stats
	faults   []fault
	counts   map[Op]int
	released bool
}

var _ device.Device = (*Device)(nil)

// New creates a device holding the builtin kernels plus any added by opts
func New(opts ...Option) *Device {
	d := &Device{
		name:     "hostsim",
		maxGroup: DefaultMaxWorkGroupSize,
		library:  make(Library),
		counts:   make(map[Op]int),
	}
	for name, fn := range Builtins {
		d.library[name] = fn
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) Name() string { return d.name }

func (d *Device) Type() device.Type { return device.TypeCPU }

func (d *Device) Extensions() string { return extensions }

// MaxWorkGroupSize is the work-group limit every kernel reports
func (d *Device) MaxWorkGroupSize() int { return d.maxGroup }

// Register adds or replaces a kernel in the library
func (d *Device) Register(name string, fn KernelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.library[name] = fn
}

func (d *Device) NewContext() (device.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, device.Fail(device.InvalidDevice, "create context")
	}
	return &Context{dev: d, id: d.newID()}, nil
}

func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return device.Fail(device.InvalidDevice, "release device")
	}
	d.released = true
	return nil
}

// FailAt makes the n-th (1-based, counted from now) call of op fail with status
func (d *Device) FailAt(op Op, n int, status device.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = append(d.faults, fault{op: op, after: d.counts[op] + n, status: status})
}

// FailNext makes the next call of op fail with status
func (d *Device) FailNext(op Op, status device.Status) {
	d.FailAt(op, 1, status)
}

// Log returns a copy of the command log
func (d *Device) Log() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Command, len(d.log))
	copy(out, d.log)
	return out
}

// ResetLog clears the command log, keeping the counters
func (d *Device) ResetLog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = nil
}

// Stats returns the current counters
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// check counts one call of op and returns the injected failure, if any.
// Callers hold d.mu.
func (d *Device) check(op Op) error {
	d.counts[op]++
	for i, f := range d.faults {
		if f.op == op && f.after == d.counts[op] {
			d.faults = append(d.faults[:i], d.faults[i+1:]...)
			klog.V(2).Infof("hostsim: injected %s on %s #%d", f.status, op, d.counts[op])
			return device.Failf(f.status, string(op), "injected")
		}
	}
	return nil
}

func (d *Device) newID() int {
	d.nextID++
	return d.nextID
}

func (d *Device) record(c Command) {
	d.log = append(d.log, c)
}

// Context is a hostsim compute context
type Context struct {
	dev      *Device
	id       int
	released bool
}

func (c *Context) Alloc(flags device.MemFlags, size int, host unsafe.Pointer) (device.Memory, error) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpAlloc); err != nil {
		return nil, err
	}
	if c.released {
		return nil, device.Fail(device.InvalidContext, "alloc")
	}
	if size <= 0 {
		return nil, device.Failf(device.InvalidBufferSize, "alloc", "size %d", size)
	}
	if host != nil && flags&device.MemUseHostPtr == 0 {
		return nil, device.Fail(device.InvalidHostPtr, "alloc")
	}
	if host == nil && flags&device.MemUseHostPtr != 0 {
		return nil, device.Failf(device.InvalidHostPtr, "alloc", "use-host-ptr without host pointer")
	}
	m := &Memory{dev: d, id: d.newID(), flags: flags, data: alignedBytes(size)}
	if host != nil {
		copy(m.data, unsafe.Slice((*byte)(host), size))
	}
	d.stats.Allocs++
	d.stats.LiveMemory++
	d.record(Command{Op: OpAlloc, Mem: m.id, Size: size, Flags: flags})
	return m, nil
}

func (c *Context) Build(source, entry string) (device.Kernel, error) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpBuild); err != nil {
		return nil, err
	}
	fn, ok := d.library[entry]
	if !ok {
		return nil, device.Failf(device.BuildProgramFailure, "build", "no kernel %q in library", entry)
	}
	d.stats.KernelsBuilt++
	k := &Kernel{dev: d, id: d.newID(), name: entry, fn: fn, args: make(map[int]argValue)}
	d.record(Command{Op: OpBuild, Kernel: k.id, Name: entry})
	return k, nil
}

func (c *Context) NewQueue(profiling bool) (device.Queue, error) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.released {
		return nil, device.Fail(device.InvalidContext, "create queue")
	}
	return &Queue{dev: d, id: d.newID(), profiling: profiling}, nil
}

func (c *Context) Release() error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if c.released {
		return device.Fail(device.InvalidContext, "release context")
	}
	c.released = true
	return nil
}

// Memory is a hostsim allocation
type Memory struct {
	dev      *Device
	id       int
	flags    device.MemFlags
	data     []byte
	released bool
}

// ID identifies the allocation in the command log
func (m *Memory) ID() int { return m.id }

func (m *Memory) Size() int { return len(m.data) }

// Flags returns the flags the memory was allocated with
func (m *Memory) Flags() device.MemFlags { return m.flags }

// Bytes exposes the device-side contents
func (m *Memory) Bytes() []byte { return m.data }

func (m *Memory) Release() error {
	d := m.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if m.released {
		return device.Fail(device.InvalidMemObject, "release mem")
	}
	m.released = true
	d.stats.MemReleases++
	d.stats.LiveMemory--
	d.record(Command{Op: OpFreeMem, Mem: m.id})
	return nil
}

func alignedBytes(size int) []byte {
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}
