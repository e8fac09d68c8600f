// Package runner drives kernels on a device while keeping host objects and
// their device buffers in sync. A Runner owns one device context, its single
// command queue and the buffer registry; an Invocation is one compiled kernel
// with its bound arguments.
package runner

import (
	"github.com/notargets/devsync/buffer"
	"github.com/notargets/devsync/device"
	"github.com/notargets/devsync/host"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options configures a Runner
type Options struct {
	// Profiling enables event timestamps and per-run samples
	Profiling bool
	// Trace writes one CSV line per run to a trace file in TraceDir.
	// It needs Profiling.
	Trace    bool
	TraceDir string
	// TrackResources logs every allocation and event release
	TrackResources bool
	// Pinner pins host objects, host.Heap when nil
	Pinner host.Pinner
}

// Runner is the device context: one device, one compute context, one command
// queue, one buffer registry and the invocations created against them. It is
// not safe for concurrent use.
type Runner struct {
	Device device.Device
	ctx    device.Context
	queue  device.Queue
	opts   Options

	registry    *buffer.Registry
	invocations []*Invocation
	pendingPuts map[host.Identity]struct{}

	res      Resources
	disposed bool
}

// NewRunner creates a context and a command queue on dev
func NewRunner(dev device.Device, opts Options) (*Runner, error) {
	if dev == nil {
		return nil, errors.New("runner: nil device")
	}
	if opts.Pinner == nil {
		opts.Pinner = host.Heap{}
	}
	if opts.Trace && !opts.Profiling {
		klog.Warningf("runner: trace requested without profiling; enabling profiling")
		opts.Profiling = true
	}
	ctx, err := dev.NewContext()
	if err != nil {
		return nil, errors.Wrapf(err, "create context on %s", dev.Name())
	}
	queue, err := ctx.NewQueue(opts.Profiling)
	if err != nil {
		if rerr := ctx.Release(); rerr != nil {
			klog.Errorf("release context: %+v", rerr)
		}
		return nil, errors.Wrapf(err, "create queue on %s", dev.Name())
	}
	klog.V(1).Infof("runner on %s (%s), profiling=%v", dev.Name(), dev.Type(), opts.Profiling)
	return &Runner{
		Device:      dev,
		ctx:         ctx,
		queue:       queue,
		opts:        opts,
		registry:    buffer.NewRegistry(),
		pendingPuts: make(map[host.Identity]struct{}),
	}, nil
}

// Registry returns the buffer registry shared by all invocations
func (r *Runner) Registry() *buffer.Registry { return r.registry }

// Options returns the options the runner was created with
func (r *Runner) Options() Options { return r.opts }

// Extensions returns the device extension string
func (r *Runner) Extensions() string { return r.Device.Extensions() }

// Invocations returns the live invocations in creation order
func (r *Runner) Invocations() []*Invocation {
	out := make([]*Invocation, len(r.invocations))
	copy(out, r.invocations)
	return out
}

// NewInvocation creates an invocation whose Field arguments are looked up on
// hostObj. hostObj may be nil when every argument is bound directly.
func (r *Runner) NewInvocation(name string, hostObj interface{}) (*Invocation, error) {
	if r.disposed {
		return nil, device.Failf(device.InvalidContext, "new invocation", "runner disposed")
	}
	inv := &Invocation{
		Name:     name,
		runner:   r,
		host:     hostObj,
		firstRun: true,
	}
	r.invocations = append(r.invocations, inv)
	return inv, nil
}

func (r *Runner) forget(inv *Invocation) {
	for i, x := range r.invocations {
		if x == inv {
			r.invocations = append(r.invocations[:i], r.invocations[i+1:]...)
			return
		}
	}
}

// Put schedules a write of obj's contents for the next run of any
// invocation that binds obj to an explicit argument
func (r *Runner) Put(obj interface{}) error {
	id, err := host.IdentityOf(obj)
	if err != nil {
		return errors.Wrap(err, "put")
	}
	r.pendingPuts[id] = struct{}{}
	klog.V(2).Infof("put pending for %s", id)
	return nil
}

func (r *Runner) putPending(id host.Identity) bool {
	_, ok := r.pendingPuts[id]
	return ok
}

// FreeMemory releases the device memory of every buffer. The next run of
// every invocation is treated as a first run.
func (r *Runner) FreeMemory() error {
	var firstErr error
	for _, b := range r.registry.Buffers() {
		had := b.Mem != nil
		if err := b.ReleaseMemory(); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				klog.Errorf("free memory: %+v", err)
			}
		}
		if had {
			r.res.MemoryReleases++
		}
	}
	for _, inv := range r.invocations {
		inv.firstRun = true
	}
	return firstErr
}

// Dispose tears the context down: every invocation first, then every
// registered buffer regardless of references, then the queue and the
// context. It returns the first error; the rest are logged.
func (r *Runner) Dispose() error {
	if r.disposed {
		return nil
	}
	var firstErr error
	keep := func(err error) {
		if err == nil {
			return
		}
		if firstErr == nil {
			firstErr = err
		} else {
			klog.Errorf("dispose: %+v", err)
		}
	}
	for _, inv := range r.Invocations() {
		keep(inv.Dispose())
	}
	n, err := r.registry.ReclaimUnreferenced(true)
	keep(err)
	r.res.Reclaimed += n
	keep(errors.Wrap(r.queue.Release(), "release queue"))
	keep(errors.Wrap(r.ctx.Release(), "release context"))
	r.disposed = true
	klog.V(1).Infof("runner on %s disposed", r.Device.Name())
	return firstErr
}
