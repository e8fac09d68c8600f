package runner

import (
	"github.com/notargets/devsync/buffer"
	"github.com/notargets/devsync/device"
	"github.com/notargets/devsync/profile"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Run executes the kernel passes times over rng. Arguments are bound and
// written, the passes are launched back to back, results are read back and
// all events are released before Run returns. With needSync, Field
// arguments look up their host objects again even after the first run.
//
// A failed run releases what it can, unpins every buffer without committing
// and returns the device error; device.StatusOf recovers its status. Nothing
// is retried.
func (inv *Invocation) Run(rng device.Range, passes int, needSync bool) (err error) {
	if inv.disposed {
		return device.Failf(device.InvalidKernel, "run", "%s disposed", inv.Name)
	}
	if inv.kernel == nil {
		return device.Failf(device.InvalidKernel, "run", "%s not built", inv.Name)
	}
	if passes < 1 {
		return device.Failf(device.InvalidValue, "run", "%s: %d passes", inv.Name, passes)
	}
	inv.passes = passes
	inv.samples = nil
	defer func() {
		if err != nil {
			inv.fail(err)
		}
	}()

	r := inv.runner
	if inv.firstRun && r.opts.Profiling && inv.baseTime == 0 {
		inv.markBaseTime()
	}

	inv.state = Writing
	inv.refreshFlags()
	passSlot, err := inv.processArgs(needSync)
	if err != nil {
		return err
	}

	inv.state = Launching
	if err := inv.launch(rng, passSlot); err != nil {
		return err
	}

	inv.state = Reading
	if err := inv.enqueueReads(); err != nil {
		return err
	}
	if err := inv.complete(); err != nil {
		return err
	}
	inv.firstRun = false
	inv.state = Completed
	return nil
}

// markBaseTime records the device time before the first profiled run
func (inv *Invocation) markBaseTime() {
	r := inv.runner
	ev, err := r.queue.EnqueueMarker()
	if err != nil {
		klog.V(1).Infof("%s: no marker for base time: %v", inv.Name, err)
		return
	}
	r.trackEvent("marker")
	if err := ev.Wait(); err == nil {
		if ts, err := ev.Profile(); err == nil {
			inv.baseTime = ts.Queued
		}
	}
	if err := r.releaseEvent(&ev, "marker"); err != nil {
		klog.Warningf("%s: %v", inv.Name, err)
	}
}

// launch enqueues every pass. Pass 0 waits on the writes; every later pass
// first blocks on the previous pass and releases its event, so only one
// execution event is alive at any time.
func (inv *Invocation) launch(rng device.Range, passSlot int) error {
	r := inv.runner
	rng = rng.Clamp(inv.maxGroup)
	for pass := 0; pass < inv.passes; pass++ {
		if err := inv.kernel.SetArgScalar(passSlot, int32(pass)); err != nil {
			return errors.Wrapf(err, "%s pass %d", inv.Name, pass)
		}
		var wait []device.Event
		if pass == 0 {
			wait = inv.writeEvents
		} else {
			if err := inv.execEvent.Wait(); err != nil {
				return errors.Wrapf(err, "%s wait for pass %d", inv.Name, pass-1)
			}
			// pass 0 is only observable here, before its event goes away
			if pass == 1 && r.opts.Profiling {
				inv.captureExec(0)
			}
			if err := r.releaseEvent(&inv.execEvent, "exec"); err != nil {
				return err
			}
		}
		ev, err := r.queue.EnqueueKernel(inv.kernel, rng, wait)
		if err != nil {
			return errors.Wrapf(err, "%s launch pass %d over %s", inv.Name, pass, rng)
		}
		inv.execEvent = ev
		r.trackEvent("exec")
		if err := r.queue.Finish(); err != nil {
			return errors.Wrapf(err, "%s finish pass %d", inv.Name, pass)
		}
		if _, err := ev.Status(); err != nil {
			return errors.Wrapf(err, "%s pass %d", inv.Name, pass)
		}
	}
	klog.V(1).Infof("%s: %d passes over %s", inv.Name, inv.passes, rng)
	return nil
}

func (inv *Invocation) captureExec(pass int) {
	s, err := profile.Capture(inv.execEvent, profile.Exec, inv.Name, pass)
	if err != nil {
		klog.V(1).Infof("%s: %v", inv.Name, err)
		return
	}
	inv.samples = append(inv.samples, s)
}

// enqueueReads reads back every buffer the kernel wrote, after the final
// pass. readArgs maps each read event to its argument.
func (inv *Invocation) enqueueReads() error {
	r := inv.runner
	read := make(map[*buffer.Buffer]bool)
	for i, a := range inv.args {
		if a.Buffer == nil || !a.Flags.NeedsRead() || read[a.Buffer] {
			continue
		}
		read[a.Buffer] = true
		b := a.Buffer
		ev, err := r.queue.EnqueueRead(b.Mem, b.Addr(), b.Length, []device.Event{inv.execEvent})
		if err != nil {
			return errors.Wrapf(err, "%s read %s", inv.Name, a.Spec.Name)
		}
		r.trackEvent("read " + a.Spec.Name)
		inv.readEvents = append(inv.readEvents, ev)
		inv.readArgs = append(inv.readArgs, i)
		klog.V(1).Infof("%s: read %s (%d bytes)", inv.Name, a.Spec.Name, b.Length)
	}
	return nil
}

// complete waits for the run and releases its events, reads first, then the
// final pass, then the writes, capturing each profile before the release.
// Buffers are unpinned afterwards, committing those that were read back.
func (inv *Invocation) complete() error {
	r := inv.runner
	prof := r.opts.Profiling
	if len(inv.readEvents) > 0 {
		if err := r.queue.WaitForEvents(inv.readEvents); err != nil {
			return errors.Wrapf(err, "%s wait for reads", inv.Name)
		}
	} else if err := inv.execEvent.Wait(); err != nil {
		return errors.Wrapf(err, "%s wait for pass %d", inv.Name, inv.passes-1)
	}

	var reads, writes []profile.Sample
	// only buffers read back this run hold device results in their pin
	readBack := make(map[*buffer.Buffer]bool, len(inv.readArgs))
	for j := range inv.readEvents {
		a := inv.args[inv.readArgs[j]]
		readBack[a.Buffer] = true
		if prof {
			if s, err := profile.Capture(inv.readEvents[j], profile.Read, a.Spec.Name, 0); err == nil {
				a.Buffer.Read = s
				reads = append(reads, s)
			}
		}
		if err := r.releaseEvent(&inv.readEvents[j], "read "+a.Spec.Name); err != nil {
			return err
		}
	}
	inv.readEvents, inv.readArgs = inv.readEvents[:0], inv.readArgs[:0]

	if prof {
		inv.captureExec(inv.passes - 1)
	}
	if _, err := inv.execEvent.Status(); err != nil {
		return errors.Wrapf(err, "%s pass %d", inv.Name, inv.passes-1)
	}
	if err := r.releaseEvent(&inv.execEvent, "exec"); err != nil {
		return err
	}

	for j := range inv.writeEvents {
		a := inv.args[inv.writeArgs[j]]
		if prof {
			if s, err := profile.Capture(inv.writeEvents[j], profile.Write, a.Spec.Name, 0); err == nil {
				a.Buffer.Write = s
				writes = append(writes, s)
			}
		}
		if err := r.releaseEvent(&inv.writeEvents[j], "write "+a.Spec.Name); err != nil {
			return err
		}
	}
	inv.writeEvents, inv.writeArgs = inv.writeEvents[:0], inv.writeArgs[:0]

	inv.unpinAll(readBack)

	if prof {
		inv.samples = append(append(writes, inv.samples...), reads...)
		inv.history = append(inv.history, inv.samples)
		if r.opts.Trace {
			if inv.trace == nil {
				inv.trace = profile.OpenTrace(r.opts.TraceDir)
			}
			if err := inv.trace.WriteRun(inv.samples); err != nil {
				klog.Warningf("%s: %v", inv.Name, err)
			}
		}
	}
	return nil
}

// unpinAll unpins the buffers of the run, committing those in commit back
// to the host and aborting the rest. A buffer the kernel wrote but the run
// did not read back (explicit transfer) is aborted, so a staging copy never
// overwrites the host object with stale or converted contents.
func (inv *Invocation) unpinAll(commit map[*buffer.Buffer]bool) {
	for _, b := range inv.pinned {
		b.Unpin(commit[b])
	}
	inv.pinned = inv.pinned[:0]
}

// fail is the cleanup of a failed run: the queue is drained, outstanding
// events released and every buffer unpinned without commit
func (inv *Invocation) fail(err error) {
	r := inv.runner
	klog.V(1).Infof("%s failed in %s: %v", inv.Name, inv.state, err)
	inv.state = Failed
	if ferr := r.queue.Finish(); ferr != nil {
		klog.Warningf("%s: drain after failure: %v", inv.Name, ferr)
	}
	release := func(slot *device.Event, what string) {
		if rerr := r.releaseEvent(slot, what); rerr != nil {
			klog.Warningf("%s: %v", inv.Name, rerr)
		}
	}
	for j := range inv.readEvents {
		release(&inv.readEvents[j], "read")
	}
	release(&inv.execEvent, "exec")
	for j := range inv.writeEvents {
		release(&inv.writeEvents[j], "write")
	}
	inv.readEvents, inv.readArgs = inv.readEvents[:0], inv.readArgs[:0]
	inv.writeEvents, inv.writeArgs = inv.writeEvents[:0], inv.writeArgs[:0]
	inv.unpinAll(nil)
}
