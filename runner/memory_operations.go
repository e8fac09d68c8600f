package runner

import (
	"github.com/notargets/devsync/host"
	"github.com/notargets/devsync/profile"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Get reads obj's buffer back from the device right away, outside any run.
// The buffer is found through the first argument of any invocation bound to
// obj that has device memory. When none is, Get logs a warning and does
// nothing.
func (r *Runner) Get(obj interface{}) error {
	id, err := host.IdentityOf(obj)
	if err != nil {
		return errors.Wrap(err, "get")
	}
	for _, inv := range r.invocations {
		for _, a := range inv.args {
			b := a.Buffer
			if b == nil || b.Mem == nil || b.Identity() != id {
				continue
			}
			klog.V(1).Infof("explicit read of %s through %s.%s", b.Name, inv.Name, a.Spec.Name)
			if _, err := b.Pin(r.opts.Pinner, a.Spec.ConvertType); err != nil {
				return err
			}
			size := min(b.Length, b.Mem.Size())
			ev, err := r.queue.EnqueueRead(b.Mem, b.Addr(), size, nil)
			if err != nil {
				b.Unpin(false)
				return errors.Wrapf(err, "get %s", b.Name)
			}
			r.trackEvent("read " + b.Name)
			if err := ev.Wait(); err != nil {
				if rerr := r.releaseEvent(&ev, "read "+b.Name); rerr != nil {
					klog.Warningf("get %s: %v", b.Name, rerr)
				}
				b.Unpin(false)
				return errors.Wrapf(err, "get %s", b.Name)
			}
			if r.opts.Profiling {
				if s, err := profile.Capture(ev, profile.Read, a.Spec.Name, 0); err == nil {
					b.Read = s
				}
			}
			err = r.releaseEvent(&ev, "read "+b.Name)
			b.Unpin(true)
			return err
		}
	}
	klog.Warningf("get: %s is not bound to any argument with device memory", id)
	return nil
}

// WaitIdle blocks until the queue has drained
func (r *Runner) WaitIdle() error {
	return errors.Wrap(r.queue.Finish(), "finish")
}
