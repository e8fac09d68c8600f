package runner

import (
	"github.com/notargets/devsync/buffer"
	"github.com/notargets/devsync/device"
	"github.com/notargets/devsync/host"
	"github.com/notargets/devsync/profile"
	"github.com/notargets/devsync/runner/builder"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Invocation is one compiled kernel, its bound arguments and the state of
// its most recent run
type Invocation struct {
	Name   string
	runner *Runner
	host   interface{}

	kernel   device.Kernel
	maxGroup int
	args     []*Arg

	firstRun bool
	state    State
	passes   int

	// per-run event slots, sized to the argument count on Bind
	writeEvents []device.Event
	writeArgs   []int
	readEvents  []device.Event
	readArgs    []int
	execEvent   device.Event

	// buffers pinned by the current run, in pin order
	pinned []*buffer.Buffer

	samples  []profile.Sample
	history  [][]profile.Sample
	trace    *profile.Trace
	baseTime uint64
	disposed bool
}

// Build compiles source and keeps entry as the invocation's kernel. A
// previously built kernel is released.
func (inv *Invocation) Build(source, entry string) error {
	k, err := inv.runner.ctx.Build(source, entry)
	if err != nil {
		return errors.Wrapf(err, "build %s", inv.Name)
	}
	maxGroup, err := k.WorkGroupSize()
	if err != nil {
		if rerr := k.Release(); rerr != nil {
			klog.Errorf("release kernel %s: %+v", entry, rerr)
		}
		return errors.Wrapf(err, "work group size of %s", inv.Name)
	}
	if inv.kernel != nil {
		if err := inv.kernel.Release(); err != nil {
			klog.Warningf("release replaced kernel of %s: %v", inv.Name, err)
		}
	}
	inv.kernel, inv.maxGroup = k, maxGroup
	inv.firstRun = true
	klog.V(1).Infof("built %s (entry %s, max group %d)", inv.Name, entry, maxGroup)
	return nil
}

// Bind replaces the argument list. References held by the previous
// arguments are released; buffers are resolved now so that identity is
// shared from the start. Each argument keeps the builder's declaration, so
// later modifiers on a builder are seen by the next run.
func (inv *Invocation) Bind(params ...*builder.ParamBuilder) error {
	args := make([]*Arg, 0, len(params))
	for i, p := range params {
		spec := &p.Spec
		if err := spec.Validate(); err != nil {
			return errors.Wrapf(err, "%s parameter %d", inv.Name, i)
		}
		a := &Arg{Spec: spec, Slots: 1}
		switch {
		case spec.IsBuffer():
			obj, err := a.object(inv.host)
			if err != nil {
				return errors.Wrapf(err, "%s parameter %s", inv.Name, spec.Name)
			}
			shape, err := host.Shape(obj)
			if err != nil {
				return errors.Wrapf(err, "%s parameter %s", inv.Name, spec.Name)
			}
			if spec.DataType == 0 {
				a.Spec.DataType, _ = builder.Infer(obj)
			}
			a.obj, a.dims = obj, len(shape)
		case spec.Direction == builder.DirectionLocal:
			a.dims = 1
		}
		if spec.WithLength && spec.Direction != builder.DirectionScalar {
			a.Slots += a.dims
		}
		args = append(args, a)
	}

	inv.releaseArgs()
	reg := inv.runner.registry
	pos := 0
	for _, a := range args {
		a.Pos = pos
		pos += a.Slots
		if a.obj == nil {
			continue
		}
		b, _, err := reg.Resolve(a.obj, a.Spec.Name)
		if err != nil {
			for _, prev := range args {
				reg.Release(prev.Buffer)
				prev.Buffer = nil
			}
			return errors.Wrapf(err, "%s parameter %s", inv.Name, a.Spec.Name)
		}
		reg.Acquire(b)
		a.Buffer = b
	}

	inv.args = args
	n := len(args)
	inv.writeEvents = make([]device.Event, 0, n)
	inv.writeArgs = make([]int, 0, n)
	inv.readEvents = make([]device.Event, 0, n)
	inv.readArgs = make([]int, 0, n)
	inv.firstRun = true
	inv.state = Idle
	klog.V(1).Infof("bound %s: %s", inv.Name, describeArgs(args))
	return nil
}

func (inv *Invocation) releaseArgs() {
	for _, a := range inv.args {
		if a.Buffer != nil {
			inv.runner.registry.Release(a.Buffer)
			a.Buffer = nil
		}
	}
	inv.args = nil
}

// Args returns the bound arguments
func (inv *Invocation) Args() []*Arg { return inv.args }

// SetExplicit switches every buffer argument between explicit and implicit
// data movement. It takes effect on the next run.
func (inv *Invocation) SetExplicit(explicit bool) {
	for _, a := range inv.args {
		if a.isBuffer() {
			a.Spec.IsExplicit = explicit
		}
	}
}

// State is the pipeline state of the last run
func (inv *Invocation) State() State { return inv.state }

// FirstRun reports whether the next run re-establishes kernel configuration
func (inv *Invocation) FirstRun() bool { return inv.firstRun }

// ProfileInfo returns the samples of the last run in pipeline order: writes,
// passes, reads. It is empty unless profiling is enabled.
func (inv *Invocation) ProfileInfo() []profile.Sample { return inv.samples }

// ProfileHistory returns the samples of every profiled run
func (inv *Invocation) ProfileHistory() [][]profile.Sample { return inv.history }

// BaseTime is the device timestamp taken before the first profiled run, in
// nanoseconds
func (inv *Invocation) BaseTime() uint64 { return inv.baseTime }

// Dispose releases the kernel and the argument references. Buffers stay
// registered until the next reclaim.
func (inv *Invocation) Dispose() error {
	if inv.disposed {
		return nil
	}
	inv.disposed = true
	var firstErr error
	if inv.kernel != nil {
		firstErr = errors.Wrapf(inv.kernel.Release(), "release kernel %s", inv.Name)
		inv.kernel = nil
	}
	inv.releaseArgs()
	if err := inv.trace.Close(); err != nil {
		if firstErr == nil {
			firstErr = err
		} else {
			klog.Errorf("dispose %s: %+v", inv.Name, err)
		}
	}
	inv.trace = nil
	inv.runner.forget(inv)
	klog.V(1).Infof("disposed %s", inv.Name)
	return firstErr
}
