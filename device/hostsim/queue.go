package hostsim

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/notargets/devsync/device"
)

// Op names a logged device call
type Op string

const (
	OpAlloc   Op = "alloc"
	OpFreeMem Op = "free"
	OpBuild   Op = "build"
	OpSetArg  Op = "setarg"
	OpWrite   Op = "write"
	OpRead    Op = "read"
	OpKernel  Op = "kernel"
	OpMarker  Op = "marker"
	OpWait    Op = "wait"
	OpFinish  Op = "finish"
	OpProfile Op = "profile"
	OpRelease Op = "release"
)

// Command is one entry of the device log
type Command struct {
	Op     Op
	Event  int   // event created, waited, profiled or released
	Wait   []int // events the command waited on
	Mem    int
	Kernel int
	Pos    int
	Size   int
	Name   string
	Flags  device.MemFlags
	Range  device.Range
	// LiveKernelEvents is the number of unreleased kernel events right after
	// a launch
	LiveKernelEvents int
}

func (c Command) String() string {
	var b strings.Builder
	b.WriteString(string(c.Op))
	if c.Event != 0 {
		fmt.Fprintf(&b, " e%d", c.Event)
	}
	if c.Mem != 0 {
		fmt.Fprintf(&b, " m%d", c.Mem)
	}
	if len(c.Wait) > 0 {
		fmt.Fprintf(&b, " wait%v", c.Wait)
	}
	return b.String()
}

// Queue is an in-order hostsim queue
type Queue struct {
	dev       *Device
	id        int
	profiling bool
	released  bool
}

var _ device.Queue = (*Queue)(nil)

// waitIDs validates a wait list and reports whether any event in it failed.
// Callers hold dev.mu.
func (q *Queue) waitIDs(wait []device.Event) ([]int, bool, error) {
	var ids []int
	failed := false
	for _, we := range wait {
		e, ok := we.(*Event)
		if !ok || e == nil || e.released {
			return nil, false, device.Fail(device.InvalidEventWaitList, "wait list")
		}
		ids = append(ids, e.id)
		if e.execErr != nil {
			failed = true
		}
	}
	return ids, failed, nil
}

// newEvent creates a completed event. Callers hold dev.mu.
func (q *Queue) newEvent(op Op, ticks uint64) *Event {
	d := q.dev
	e := &Event{dev: d, id: d.newID(), op: op, profiling: q.profiling}
	d.clock += 100
	e.ts.Queued = d.clock
	d.clock += 100
	e.ts.Submit = d.clock
	d.clock += 100
	e.ts.Start = d.clock
	d.clock += ticks
	e.ts.End = d.clock
	d.stats.Events++
	d.stats.LiveEvents++
	if op == OpKernel {
		d.stats.LiveKernelEvents++
	}
	return e
}

func (q *Queue) memory(m device.Memory, op string) (*Memory, error) {
	mem, ok := m.(*Memory)
	if !ok || mem == nil || mem.released {
		return nil, device.Fail(device.InvalidMemObject, op)
	}
	return mem, nil
}

func (q *Queue) transfer(op Op, m device.Memory, host unsafe.Pointer, size int, wait []device.Event) (device.Event, error) {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(op); err != nil {
		return nil, err
	}
	if q.released {
		return nil, device.Fail(device.InvalidCommandQueue, string(op))
	}
	mem, err := q.memory(m, string(op))
	if err != nil {
		return nil, err
	}
	if host == nil || size <= 0 || size > len(mem.data) {
		return nil, device.Failf(device.InvalidValue, string(op), "size %d of %d", size, len(mem.data))
	}
	ids, failed, err := q.waitIDs(wait)
	if err != nil {
		return nil, err
	}
	e := q.newEvent(op, uint64(size))
	if failed {
		e.execErr = device.Fail(device.ExecStatusError, string(op))
	} else if op == OpWrite {
		copy(mem.data[:size], unsafe.Slice((*byte)(host), size))
		d.stats.Writes++
	} else {
		copy(unsafe.Slice((*byte)(host), size), mem.data[:size])
		d.stats.Reads++
	}
	d.record(Command{Op: op, Event: e.id, Wait: ids, Mem: mem.id, Size: size})
	return e, nil
}

func (q *Queue) EnqueueWrite(m device.Memory, host unsafe.Pointer, size int, wait []device.Event) (device.Event, error) {
	return q.transfer(OpWrite, m, host, size, wait)
}

func (q *Queue) EnqueueRead(m device.Memory, host unsafe.Pointer, size int, wait []device.Event) (device.Event, error) {
	return q.transfer(OpRead, m, host, size, wait)
}

func (q *Queue) EnqueueKernel(k device.Kernel, r device.Range, wait []device.Event) (device.Event, error) {
	d := q.dev
	d.mu.Lock()
	if err := d.check(OpKernel); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	kern, ok := k.(*Kernel)
	if !ok || kern == nil || kern.released {
		d.mu.Unlock()
		return nil, device.Fail(device.InvalidKernel, "enqueue kernel")
	}
	if err := r.Validate(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if r.GroupSize() > d.maxGroup {
		d.mu.Unlock()
		return nil, device.Failf(device.InvalidWorkGroupSize, "enqueue kernel", "group %d > max %d",
			r.GroupSize(), d.maxGroup)
	}
	args, err := kern.snapshot()
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	ids, failed, err := q.waitIDs(wait)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	e := q.newEvent(OpKernel, uint64(r.WorkItems()))
	d.stats.Launches++
	d.record(Command{Op: OpKernel, Event: e.id, Wait: ids, Kernel: kern.id, Name: kern.name, Range: r,
		LiveKernelEvents: d.stats.LiveKernelEvents})
	d.mu.Unlock()

	// Work-groups run without the device lock; kernels only touch memory
	// they were handed.
	if failed {
		e.execErr = device.Fail(device.ExecStatusError, "kernel "+kern.name)
	} else if err := execute(kern, r, args); err != nil {
		e.execErr = err
	}
	return e, nil
}

func (q *Queue) EnqueueMarker() (device.Event, error) {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpMarker); err != nil {
		return nil, err
	}
	e := q.newEvent(OpMarker, 0)
	d.record(Command{Op: OpMarker, Event: e.id})
	return e, nil
}

func (q *Queue) WaitForEvents(events []device.Event) error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpWait); err != nil {
		return err
	}
	if len(events) == 0 {
		return device.Fail(device.InvalidValue, "wait for events")
	}
	ids, _, err := q.waitIDs(events)
	if err != nil {
		return err
	}
	d.stats.Waits++
	d.record(Command{Op: OpWait, Wait: ids})
	for _, we := range events {
		if e := we.(*Event); e.execErr != nil {
			return device.Failf(device.ExecStatusError, "wait for events", "event %d: %v", e.id, e.execErr)
		}
	}
	return nil
}

func (q *Queue) Finish() error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpFinish); err != nil {
		return err
	}
	d.stats.Finishes++
	d.record(Command{Op: OpFinish})
	return nil
}

func (q *Queue) Release() error {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	if q.released {
		return device.Fail(device.InvalidCommandQueue, "release queue")
	}
	q.released = true
	return nil
}

// Event is a hostsim completion event. Commands run at enqueue time, so an
// event is complete as soon as it exists.
type Event struct {
	dev       *Device
	id        int
	op        Op
	ts        device.Timestamps
	profiling bool
	execErr   error
	released  bool
}

// ID identifies the event in the command log
func (e *Event) ID() int { return e.id }

func (e *Event) Wait() error {
	d := e.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpWait); err != nil {
		return err
	}
	if e.released {
		return device.Fail(device.InvalidEvent, "wait")
	}
	d.stats.Waits++
	d.record(Command{Op: OpWait, Wait: []int{e.id}})
	if e.execErr != nil {
		return device.Failf(device.ExecStatusError, "wait", "event %d: %v", e.id, e.execErr)
	}
	return nil
}

// Status reports Complete, or the execution failure of the command
func (e *Event) Status() (device.ExecStatus, error) {
	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	if e.released {
		return 0, device.Fail(device.InvalidEvent, "event status")
	}
	if e.execErr != nil {
		return 0, e.execErr
	}
	return device.Complete, nil
}

func (e *Event) Profile() (device.Timestamps, error) {
	d := e.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpProfile); err != nil {
		return device.Timestamps{}, err
	}
	if e.released {
		return device.Timestamps{}, device.Fail(device.InvalidEvent, "profile")
	}
	if !e.profiling {
		return device.Timestamps{}, device.Fail(device.ProfilingInfoNotAvailable, "profile")
	}
	d.record(Command{Op: OpProfile, Event: e.id})
	return e.ts, nil
}

func (e *Event) Release() error {
	d := e.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpRelease); err != nil {
		return err
	}
	if e.released {
		return device.Fail(device.InvalidEvent, "release event")
	}
	e.released = true
	d.stats.EventReleases++
	d.stats.LiveEvents--
	if e.op == OpKernel {
		d.stats.LiveKernelEvents--
	}
	d.record(Command{Op: OpRelease, Event: e.id})
	return nil
}
