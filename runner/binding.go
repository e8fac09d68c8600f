package runner

import (
	"slices"

	"github.com/notargets/devsync/buffer"
	"github.com/notargets/devsync/host"
	"github.com/notargets/devsync/runner/builder"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// refreshFlags re-derives every argument's flags from its live declaration.
// Arguments share the ParamSpec of the builder they were bound from, so
// modifiers applied to that builder after Bind (Explicit, Implicit,
// Constant) take effect on the next run, as does SetExplicit.
func (inv *Invocation) refreshFlags() {
	for _, a := range inv.args {
		a.Flags = a.Spec.Flags()
	}
}

// processArgs binds every argument in declaration order and enqueues the
// writes the run needs. It returns the position of the pass index slot.
// Unchanged memory arguments still advance the position without a set-arg
// call.
func (inv *Invocation) processArgs(needSync bool) (int, error) {
	r := inv.runner
	// shared buffers are established once with the union of their access
	need := make(map[*buffer.Buffer]buffer.Access)
	// buffers with a pending Put honored by at least one sharer
	putFor := make(map[*buffer.Buffer]bool)
	for _, a := range inv.args {
		if !a.isBuffer() {
			continue
		}
		if (inv.firstRun || needSync) && a.Spec.HostBinding == nil {
			if err := inv.rebind(a); err != nil {
				return 0, errors.Wrapf(err, "%s argument %s", inv.Name, a.Spec.Name)
			}
		}
		if a.Buffer == nil {
			continue
		}
		if a.Flags.Has(builder.FlagExplicit) && r.putPending(a.Buffer.Identity()) {
			a.Flags |= builder.FlagExplicitWrite
			putFor[a.Buffer] = true
		}
		need[a.Buffer] |= a.access()
	}

	pos := 0
	written := make(map[*buffer.Buffer]bool)
	for i, a := range inv.args {
		if a.Pos != pos {
			return 0, errors.Errorf("%s: argument %s expected at slot %d, bound at %d", inv.Name, a.Spec.Name, a.Pos, pos)
		}
		var err error
		switch {
		case a.Flags.Has(builder.FlagPrimitive):
			err = inv.bindScalar(a, pos)
		case a.Flags.Has(builder.FlagLocal):
			err = inv.bindLocal(a, pos)
		default:
			err = inv.bindBuffer(a, pos, need[a.Buffer])
			if err == nil && a.Flags.NeedsWrite() && !written[a.Buffer] {
				err = inv.enqueueWrite(i, a, putFor[a.Buffer])
				written[a.Buffer] = true
			}
		}
		if err != nil {
			return 0, errors.Wrapf(err, "%s argument %s", inv.Name, a.Spec.Name)
		}
		pos += a.Slots
	}
	if n := r.registry.Len(); r.registry.Dirty() {
		reclaimed, err := r.registry.Sweep()
		r.res.Reclaimed += reclaimed
		if err != nil {
			return 0, errors.Wrap(err, "sweep buffers")
		}
		if reclaimed > 0 {
			klog.V(1).Infof("%s: swept %d of %d buffers", inv.Name, reclaimed, n)
		}
	}
	return pos, nil
}

func (inv *Invocation) bindScalar(a *Arg, pos int) error {
	v, err := a.scalar(inv.host)
	if err != nil {
		return err
	}
	a.Value = v
	return inv.kernel.SetArgScalar(pos, v)
}

// bindLocal sizes a local region on the first run only; the kernel keeps the
// binding afterwards
func (inv *Invocation) bindLocal(a *Arg, pos int) error {
	if !inv.firstRun {
		return nil
	}
	if err := inv.kernel.SetArgLocal(pos, a.localBytes()); err != nil {
		return err
	}
	if a.Flags.Has(builder.FlagLength) {
		return inv.kernel.SetArgScalar(pos+1, int32(a.Spec.Size))
	}
	return nil
}

// bindBuffer pins and establishes the argument's buffer. The
// memory slot is set again only when the buffer got new device memory
// since this argument last bound it; length slots when the lengths change.
func (inv *Invocation) bindBuffer(a *Arg, pos int, need buffer.Access) error {
	r := inv.runner
	b := a.Buffer
	if b == nil {
		return errors.New("no buffer")
	}
	if !b.Pinned() {
		inv.pinned = append(inv.pinned, b)
	}
	if _, err := b.Pin(r.opts.Pinner, a.Spec.ConvertType); err != nil {
		return err
	}
	allocated, err := b.Establish(r.ctx, need, inv.firstRun)
	if err != nil {
		return err
	}
	if allocated {
		r.res.Allocations++
		if r.opts.TrackResources {
			klog.Infof("alloc %s", b)
		}
	}

	if inv.firstRun || a.boundGen != b.Generation {
		if err := inv.kernel.SetArgMemory(pos, b.Mem); err != nil {
			return err
		}
		klog.V(2).Infof("%s: slot %d -> %s", inv.Name, pos, b)
	}
	if a.Flags.Has(builder.FlagLength) {
		if inv.firstRun || a.boundGen != b.Generation || !slices.Equal(a.boundLens, b.Dims) {
			for d, n := range lengthValues(b.Dims) {
				if d >= a.Slots-1 {
					break
				}
				if err := inv.kernel.SetArgScalar(pos+1+d, n); err != nil {
					return err
				}
			}
			a.boundLens = slices.Clone(b.Dims)
		}
	}
	a.boundGen = b.Generation
	return nil
}

// rebind looks the argument's host object up again. A different object
// moves the argument's reference to that object's buffer.
func (inv *Invocation) rebind(a *Arg) error {
	obj, err := a.object(inv.host)
	if err != nil {
		return err
	}
	id, err := host.IdentityOf(obj)
	if err != nil {
		return err
	}
	if a.Buffer != nil && a.Buffer.Identity() == id {
		return nil
	}
	reg := inv.runner.registry
	b, _, err := reg.Resolve(obj, a.Spec.Name)
	if err != nil {
		return err
	}
	reg.Acquire(b)
	reg.Release(a.Buffer)
	klog.V(1).Infof("%s: %s now bound to %s", inv.Name, a.Spec.Name, id)
	a.Buffer, a.obj = b, obj
	a.boundGen = 0
	return nil
}

// enqueueWrite writes the argument's buffer. With consumesPut the pending
// Put of the buffer is cleared, whichever sharer emitted the write.
func (inv *Invocation) enqueueWrite(i int, a *Arg, consumesPut bool) error {
	r := inv.runner
	b := a.Buffer
	ev, err := r.queue.EnqueueWrite(b.Mem, b.Addr(), b.Length, nil)
	if err != nil {
		return err
	}
	r.trackEvent("write " + a.Spec.Name)
	inv.writeEvents = append(inv.writeEvents, ev)
	inv.writeArgs = append(inv.writeArgs, i)
	if consumesPut {
		delete(r.pendingPuts, b.Identity())
	}
	klog.V(1).Infof("%s: write %s (%d bytes)", inv.Name, a.Spec.Name, b.Length)
	return nil
}
