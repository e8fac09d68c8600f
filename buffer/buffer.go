// Package buffer mirrors host objects in device memory. A Buffer is shared
// by every argument bound to the same host object; the Registry owns the
// buffers of one device context and reference counts them.
package buffer

import (
	"fmt"
	"unsafe"

	"github.com/notargets/devsync/device"
	"github.com/notargets/devsync/host"
	"github.com/notargets/devsync/profile"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Access is what kernels do with a buffer
type Access uint8

const (
	AccessRead Access = 1 << iota
	AccessWrite
)

// Mask is the allocation flags for an access pattern. Host-backed
// allocations always carry MemUseHostPtr.
func (a Access) Mask() device.MemFlags {
	switch {
	case a&AccessRead != 0 && a&AccessWrite != 0:
		return device.MemReadWrite | device.MemUseHostPtr
	case a&AccessRead != 0:
		return device.MemReadOnly | device.MemUseHostPtr
	case a&AccessWrite != 0:
		return device.MemWriteOnly | device.MemUseHostPtr
	default:
		return device.MemReadWrite | device.MemUseHostPtr
	}
}

// Buffer is one device allocation mirroring one host object
type Buffer struct {
	id   host.Identity
	obj  interface{}
	Name string

	// Length is the byte length of the current pin
	Length int
	Dims   []int
	Type   device.DataType
	Mem    device.Memory
	Mask   device.MemFlags
	access Access

	// Generation increases every time Mem is replaced
	Generation uint64

	prevAddr unsafe.Pointer
	prevLen  int
	pin      *host.Pinned
	moved    bool
	ready    bool
	refs     int

	Write profile.Sample
	Read  profile.Sample
}

func (b *Buffer) String() string {
	return fmt.Sprintf("%s[%s %dB %s gen %d refs %d]", b.Name, b.id, b.Length, b.Mask, b.Generation, b.refs)
}

// Identity returns the host object identity the buffer is registered under
func (b *Buffer) Identity() host.Identity { return b.id }

// Object returns the host object
func (b *Buffer) Object() interface{} { return b.obj }

// Refs is the number of arguments currently holding the buffer
func (b *Buffer) Refs() int { return b.refs }

// Pinned reports whether the host object is pinned
func (b *Buffer) Pinned() bool { return b.pin != nil }

// Moved reports whether the current pin found the object at a different
// address or size than the previous one, or got a copy
func (b *Buffer) Moved() bool { return b.moved }

// Addr is the pinned host address, nil when unpinned
func (b *Buffer) Addr() unsafe.Pointer {
	if b.pin == nil {
		return nil
	}
	return b.pin.Addr
}

// Pin fixes the host object in place. A buffer shared by several arguments
// is pinned once; later calls return the state of the first.
func (b *Buffer) Pin(p host.Pinner, as device.DataType) (moved bool, err error) {
	if b.pin != nil {
		return b.moved, nil
	}
	pin, err := p.Pin(b.obj, as)
	if err != nil {
		return false, errors.Wrapf(err, "pin %s", b.Name)
	}
	b.pin = pin
	b.ready = false
	b.moved = pin.IsCopy || pin.Addr != b.prevAddr || pin.Size != b.prevLen
	b.prevAddr, b.prevLen = pin.Addr, pin.Size
	b.Length, b.Dims, b.Type = pin.Size, pin.Dims, pin.Type
	if b.moved {
		klog.V(2).Infof("buffer %s moved to %p (%d bytes, copy=%v)", b.Name, pin.Addr, pin.Size, pin.IsCopy)
	}
	return b.moved, nil
}

// Establish makes sure device memory backs the current pin. Memory is
// (re)allocated on the first run of the caller, when none exists, when the
// object moved, or when the requested access widens the current mask;
// otherwise the allocation is reused. Within one pin only the first call
// can allocate unless the access widens. It reports whether it allocated.
func (b *Buffer) Establish(ctx device.Context, need Access, firstRun bool) (bool, error) {
	if b.pin == nil {
		return false, errors.Errorf("establish %s: not pinned", b.Name)
	}
	widened := b.access|need != b.access
	b.access |= need
	if b.Mem != nil && !widened && (b.ready || (!firstRun && !b.moved)) {
		b.ready = true
		return false, nil
	}
	if err := b.ReleaseMemory(); err != nil {
		return false, err
	}
	mask := b.access.Mask()
	mem, err := ctx.Alloc(mask, b.pin.Size, b.pin.Addr)
	if err != nil {
		return false, errors.Wrapf(err, "alloc %s (%d bytes %s)", b.Name, b.pin.Size, mask)
	}
	b.Mem, b.Mask = mem, mask
	b.Generation++
	b.ready = true
	klog.V(1).Infof("allocated %s", b)
	return true, nil
}

// Unpin releases the pin, committing device-side writes back to the host
// object when commit is set
func (b *Buffer) Unpin(commit bool) {
	if b.pin == nil {
		return
	}
	b.pin.Unpin(commit)
	b.pin = nil
	b.moved = false
	b.ready = false
}

// ReleaseMemory frees the device allocation. Mem is nil afterwards even if
// the release failed.
func (b *Buffer) ReleaseMemory() error {
	if b.Mem == nil {
		return nil
	}
	mem := b.Mem
	b.Mem = nil
	if err := mem.Release(); err != nil {
		return errors.Wrapf(err, "release %s", b.Name)
	}
	klog.V(1).Infof("released memory of %s", b.Name)
	return nil
}
