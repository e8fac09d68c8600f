package buffer

import (
	"fmt"

	"github.com/notargets/devsync/host"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Registry maps host object identity to Buffer for one device context. It is
// not safe for concurrent use.
type Registry struct {
	buffers map[host.Identity]*Buffer
	order   []*Buffer
	// dirty is set when a buffer is created or drops its last reference
	dirty bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{buffers: make(map[host.Identity]*Buffer)}
}

// Resolve returns the buffer for obj, creating and registering it the first
// time obj's identity is seen. The returned buffer is not acquired.
func (r *Registry) Resolve(obj interface{}, name string) (*Buffer, bool, error) {
	id, err := host.IdentityOf(obj)
	if err != nil {
		return nil, false, errors.Wrapf(err, "resolve %s", name)
	}
	if b, ok := r.buffers[id]; ok {
		return b, false, nil
	}
	b := &Buffer{id: id, obj: obj, Name: name}
	r.buffers[id] = b
	r.order = append(r.order, b)
	r.dirty = true
	klog.V(2).Infof("registered buffer %s for %s", name, id)
	return b, true, nil
}

// Lookup finds the buffer registered for obj
func (r *Registry) Lookup(obj interface{}) (*Buffer, bool) {
	id, err := host.IdentityOf(obj)
	if err != nil {
		return nil, false
	}
	b, ok := r.buffers[id]
	return b, ok
}

// Acquire records one more argument holding b
func (r *Registry) Acquire(b *Buffer) {
	b.refs++
}

// Release drops one reference. A buffer reaching zero stays registered until
// the next reclaim.
func (r *Registry) Release(b *Buffer) {
	if b == nil {
		return
	}
	if b.refs <= 0 {
		panic(fmt.Sprintf("buffer: release of unreferenced %s", b))
	}
	b.refs--
	if b.refs == 0 {
		r.dirty = true
	}
}

// Len is the number of registered buffers
func (r *Registry) Len() int { return len(r.buffers) }

// Dirty reports whether a reclaim could find something to free
func (r *Registry) Dirty() bool { return r.dirty }

// Buffers returns the registered buffers in creation order
func (r *Registry) Buffers() []*Buffer {
	out := make([]*Buffer, len(r.order))
	copy(out, r.order)
	return out
}

// ReclaimUnreferenced releases the device memory of every buffer with no
// references, or of every buffer when enforce is set, and removes them. It
// returns the number removed and the first release error; later errors are
// logged.
func (r *Registry) ReclaimUnreferenced(enforce bool) (int, error) {
	var firstErr error
	kept := r.order[:0]
	n := 0
	for _, b := range r.order {
		if b.refs > 0 && !enforce {
			kept = append(kept, b)
			continue
		}
		if b.refs > 0 {
			klog.V(1).Infof("enforced reclaim of %s", b)
		}
		b.Unpin(false)
		if err := b.ReleaseMemory(); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				klog.Errorf("reclaim: %+v", err)
			}
		}
		delete(r.buffers, b.id)
		n++
	}
	for i := len(kept); i < len(r.order); i++ {
		r.order[i] = nil
	}
	r.order = kept
	r.dirty = false
	if n > 0 {
		klog.V(1).Infof("reclaimed %d buffers, %d remain", n, len(r.order))
	}
	return n, firstErr
}

// Sweep reclaims unreferenced buffers if anything changed since the last
// reclaim
func (r *Registry) Sweep() (int, error) {
	if !r.dirty {
		return 0, nil
	}
	return r.ReclaimUnreferenced(false)
}
