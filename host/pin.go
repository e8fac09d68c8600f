package host

import (
	"reflect"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/notargets/devsync/device"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Pinner obtains a stable address for a host object. Pinning as a different
// data type than the object's own converts through a staging copy.
type Pinner interface {
	Pin(obj interface{}, as device.DataType) (*Pinned, error)
}

// Pinned is a host region held at a fixed address until Unpin
type Pinned struct {
	Addr unsafe.Pointer
	Size int // bytes
	Type device.DataType
	// Dims holds the per-dimension element counts, outermost first
	Dims []int
	// IsCopy is set when Addr points at a staging copy rather than the
	// object's own memory
	IsCopy bool

	obj    interface{}
	finish func(commit bool)
	done   bool
}

var pinsAlive atomic.Int64

// PinsAlive returns the number of pins not yet released
func PinsAlive() int64 { return pinsAlive.Load() }

// Len is the number of elements
func (p *Pinned) Len() int {
	n := 1
	for _, d := range p.Dims {
		n *= d
	}
	return n
}

// Bytes views the pinned region
func (p *Pinned) Bytes() []byte {
	return unsafe.Slice((*byte)(p.Addr), p.Size)
}

// Unpin releases the pin. With commit, writes made through Addr are
// propagated to the host object; without it a staging copy is dropped.
// Unpinning twice is a no-op.
func (p *Pinned) Unpin(commit bool) {
	if p == nil || p.done {
		return
	}
	p.done = true
	p.finish(commit)
	p.obj = nil
	pinsAlive.Add(-1)
}

// NewPinned wraps a region pinned by a custom Pinner. finish runs once, on
// Unpin.
func NewPinned(addr unsafe.Pointer, size int, dt device.DataType, dims []int, isCopy bool,
	finish func(commit bool)) *Pinned {
	if finish == nil {
		finish = func(bool) {}
	}
	pinsAlive.Add(1)
	return &Pinned{Addr: addr, Size: size, Type: dt, Dims: dims, IsCopy: isCopy, finish: finish}
}

// Heap pins host objects in place whenever their layout allows it
type Heap struct{}

func (Heap) Pin(obj interface{}, as device.DataType) (*Pinned, error) {
	return pin(obj, as, false)
}

// Copying always pins through a staging copy. It models a host runtime that
// hands out copies instead of direct access.
type Copying struct{}

func (Copying) Pin(obj interface{}, as device.DataType) (*Pinned, error) {
	return pin(obj, as, true)
}

// layout describes the elements of a host object as one flat run
type layout struct {
	elem reflect.Type
	n    int
	dims []int
	// direct aliases the host memory when it is contiguous
	direct reflect.Value
	load   func(flat reflect.Value)
	store  func(flat reflect.Value)
}

func resolve(obj interface{}) (layout, error) {
	if d, ok := obj.(*mat.Dense); ok {
		return denseLayout(d)
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return layout{}, errors.Wrapf(ErrNotAddressable, "nil %v", rv.Type())
		}
		switch rv.Elem().Kind() {
		case reflect.Slice:
			rv = rv.Elem()
		case reflect.Array:
			rv = rv.Elem().Slice(0, rv.Elem().Len())
		default:
			return layout{
				elem:   rv.Elem().Type(),
				n:      1,
				dims:   []int{1},
				direct: reflect.SliceAt(rv.Elem().Type(), rv.UnsafePointer(), 1),
			}, nil
		}
	}
	if rv.Kind() != reflect.Slice {
		return layout{}, errors.Wrapf(ErrNotAddressable, "%v", rv.Type())
	}
	if rv.Len() == 0 {
		return layout{}, errors.Wrapf(ErrNotAddressable, "empty %v", rv.Type())
	}
	if rv.Type().Elem().Kind() == reflect.Slice {
		return nestedLayout(rv)
	}
	return layout{elem: rv.Type().Elem(), n: rv.Len(), dims: []int{rv.Len()}, direct: rv}, nil
}

func denseLayout(d *mat.Dense) (layout, error) {
	if d == nil || d.IsEmpty() {
		return layout{}, errors.Wrap(ErrNotAddressable, "empty matrix")
	}
	raw := d.RawMatrix()
	rows, cols := raw.Rows, raw.Cols
	l := layout{elem: reflect.TypeOf(float64(0)), n: rows * cols, dims: []int{rows, cols}}
	if raw.Stride == cols {
		l.direct = reflect.ValueOf(raw.Data[:rows*cols])
		return l, nil
	}
	l.load = func(flat reflect.Value) {
		dst := flat.Interface().([]float64)
		for r := 0; r < rows; r++ {
			copy(dst[r*cols:(r+1)*cols], raw.Data[r*raw.Stride:r*raw.Stride+cols])
		}
	}
	l.store = func(flat reflect.Value) {
		src := flat.Interface().([]float64)
		for r := 0; r < rows; r++ {
			copy(raw.Data[r*raw.Stride:r*raw.Stride+cols], src[r*cols:(r+1)*cols])
		}
	}
	return l, nil
}

func nestedLayout(rv reflect.Value) (layout, error) {
	rows := rv.Len()
	cols := rv.Index(0).Len()
	for r := 1; r < rows; r++ {
		if rv.Index(r).Len() != cols {
			return layout{}, errors.Errorf("ragged %v: row %d has %d elements, row 0 has %d",
				rv.Type(), r, rv.Index(r).Len(), cols)
		}
	}
	if cols == 0 {
		return layout{}, errors.Wrapf(ErrNotAddressable, "empty rows in %v", rv.Type())
	}
	return layout{
		elem: rv.Type().Elem().Elem(),
		n:    rows * cols,
		dims: []int{rows, cols},
		load: func(flat reflect.Value) {
			for r := 0; r < rows; r++ {
				reflect.Copy(flat.Slice(r*cols, (r+1)*cols), rv.Index(r))
			}
		},
		store: func(flat reflect.Value) {
			for r := 0; r < rows; r++ {
				reflect.Copy(rv.Index(r), flat.Slice(r*cols, (r+1)*cols))
			}
		},
	}, nil
}

func pin(obj interface{}, as device.DataType, forceCopy bool) (*Pinned, error) {
	l, err := resolve(obj)
	if err != nil {
		return nil, err
	}
	native := device.DataTypeOf(l.elem.Kind())
	if native == 0 && l.elem.Kind() != reflect.Struct {
		return nil, errors.Errorf("unsupported element type %v", l.elem)
	}
	if as == 0 {
		as = native
	}
	if as != native && (native == 0 || as.Size() == 0) {
		return nil, errors.Errorf("cannot pin %v as %v", l.elem, as)
	}

	p := &Pinned{Type: as, Dims: l.dims, obj: obj}
	var pinner runtime.Pinner
	if as == native && l.direct.IsValid() && !forceCopy {
		pinner.Pin(l.direct.Index(0).Addr().Interface())
		p.Addr = l.direct.UnsafePointer()
		p.Size = l.n * int(l.elem.Size())
		p.finish = func(bool) { pinner.Unpin() }
		pinsAlive.Add(1)
		return p, nil
	}

	flat := reflect.MakeSlice(reflect.SliceOf(l.elem), l.n, l.n)
	if l.direct.IsValid() {
		reflect.Copy(flat, l.direct)
	} else {
		l.load(flat)
	}
	var staging []byte
	if as == native {
		p.Size = l.n * int(l.elem.Size())
		staging = unsafe.Slice((*byte)(flat.UnsafePointer()), p.Size)
	} else {
		p.Size = l.n * as.Size()
		staging = make([]byte, p.Size)
		encode(staging, as, flat)
	}
	pinner.Pin(&staging[0])
	p.Addr = unsafe.Pointer(&staging[0])
	p.IsCopy = true
	p.finish = func(commit bool) {
		if commit {
			if as != native {
				decode(staging, as, flat)
			}
			if l.direct.IsValid() {
				reflect.Copy(l.direct, flat)
			} else {
				l.store(flat)
			}
		}
		pinner.Unpin()
	}
	pinsAlive.Add(1)
	return p, nil
}

// Shape returns the per-dimension element counts of obj without pinning it
func Shape(obj interface{}) ([]int, error) {
	l, err := resolve(obj)
	if err != nil {
		return nil, err
	}
	return l.dims, nil
}
