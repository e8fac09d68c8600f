// Package host resolves the identity of host objects bound to kernel
// arguments and pins their memory for device access.
package host

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNotAddressable is returned for host objects that have no stable
// identity: nil pointers, empty slices and plain values.
var ErrNotAddressable = errors.New("host object is not addressable")

// Identity is the key under which a host object is registered. Two distinct
// objects with equal contents have distinct identities. Holding the pointer
// keeps the object reachable, so an identity is never reused by another
// allocation while registered.
type Identity struct {
	Addr unsafe.Pointer
	Type reflect.Type
	// Len is the element count of a slice; two slices over the same array
	// with different lengths are different objects. Zero for pointers.
	Len int
}

func (id Identity) String() string {
	if id.Len > 0 {
		return fmt.Sprintf("%v@%p[%d]", id.Type, id.Addr, id.Len)
	}
	return fmt.Sprintf("%v@%p", id.Type, id.Addr)
}

// IsZero reports whether id is unset
func (id Identity) IsZero() bool { return id.Addr == nil }

// IdentityOf returns the identity of obj.
//
//   - []T and [][]T are identified by their backing array and length
//   - *[]T, *[N]T, *mat.Dense and other pointers are identified by the
//     pointer itself, so the owner may swap the contents underneath
func IdentityOf(obj interface{}) (Identity, error) {
	if obj == nil {
		return Identity{}, ErrNotAddressable
	}
	if d, ok := obj.(*mat.Dense); ok {
		if d == nil {
			return Identity{}, ErrNotAddressable
		}
		return Identity{Addr: unsafe.Pointer(d), Type: reflect.TypeOf(d)}, nil
	}
	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.Len() == 0 {
			return Identity{}, errors.Wrapf(ErrNotAddressable, "empty %v", rv.Type())
		}
		return Identity{Addr: rv.UnsafePointer(), Type: rv.Type(), Len: rv.Len()}, nil
	case reflect.Ptr:
		if rv.IsNil() {
			return Identity{}, errors.Wrapf(ErrNotAddressable, "nil %v", rv.Type())
		}
		return Identity{Addr: rv.UnsafePointer(), Type: rv.Type()}, nil
	default:
		return Identity{}, errors.Wrapf(ErrNotAddressable, "%v", rv.Type())
	}
}
