package hostsim

import (
	"fmt"
	"reflect"
	"runtime"
	"unsafe"

	"github.com/notargets/devsync/device"
	"golang.org/x/sync/errgroup"
)

// KernelFunc runs one work-item
type KernelFunc func(it Item, args Args)

// Library maps entry names to kernels
type Library map[string]KernelFunc

// Item identifies one work-item of a launch
type Item struct {
	global, local, group [3]int
	gsize, lsize         [3]int
}

func (it Item) GlobalID(dim int) int   { return it.global[dim] }
func (it Item) LocalID(dim int) int    { return it.local[dim] }
func (it Item) GroupID(dim int) int    { return it.group[dim] }
func (it Item) GlobalSize(dim int) int { return it.gsize[dim] }
func (it Item) LocalSize(dim int) int  { return it.lsize[dim] }

type argKind int

const (
	argMemory argKind = iota + 1
	argLocal
	argScalar
)

type argValue struct {
	kind   argKind
	mem    *Memory
	size   int
	scalar interface{}
}

// Value is one kernel argument as seen by a KernelFunc
type Value struct {
	bytes  []byte
	scalar interface{}
}

// Args are the bound arguments in position order
type Args []Value

func typed[T any](b []byte) []T {
	var zero T
	n := len(b) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}

func (v Value) Bytes() []byte       { return v.bytes }
func (v Value) Float32s() []float32 { return typed[float32](v.bytes) }
func (v Value) Float64s() []float64 { return typed[float64](v.bytes) }
func (v Value) Int32s() []int32     { return typed[int32](v.bytes) }
func (v Value) Int64s() []int64     { return typed[int64](v.bytes) }
func (v Value) Uint16s() []uint16   { return typed[uint16](v.bytes) }
func (v Value) Scalar() interface{} { return v.scalar }

// Int returns an integer scalar argument
func (v Value) Int() int {
	rv := reflect.ValueOf(v.scalar)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint())
	case reflect.Bool:
		if rv.Bool() {
			return 1
		}
		return 0
	default:
		panic(fmt.Sprintf("hostsim: argument %v is not an integer", v.scalar))
	}
}

// Float returns a floating point scalar argument
func (v Value) Float() float64 {
	rv := reflect.ValueOf(v.scalar)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	default:
		return float64(v.Int())
	}
}

// Kernel is a compiled hostsim kernel
type Kernel struct {
	dev      *Device
	id       int
	name     string
	fn       KernelFunc
	args     map[int]argValue
	released bool
}

var _ device.Kernel = (*Kernel)(nil)

func (k *Kernel) setArg(pos int, v argValue, c Command) error {
	d := k.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpSetArg); err != nil {
		return err
	}
	if k.released {
		return device.Fail(device.InvalidKernel, "set arg")
	}
	if pos < 0 {
		return device.Failf(device.InvalidArgIndex, "set arg", "position %d", pos)
	}
	k.args[pos] = v
	c.Op, c.Kernel, c.Pos = OpSetArg, k.id, pos
	d.record(c)
	return nil
}

func (k *Kernel) SetArgMemory(pos int, m device.Memory) error {
	mem, ok := m.(*Memory)
	if !ok || mem == nil || mem.released {
		return device.Failf(device.InvalidMemObject, "set arg", "position %d", pos)
	}
	return k.setArg(pos, argValue{kind: argMemory, mem: mem}, Command{Mem: mem.id, Size: len(mem.data)})
}

func (k *Kernel) SetArgLocal(pos int, size int) error {
	if size <= 0 {
		return device.Failf(device.InvalidArgSize, "set arg", "local size %d at position %d", size, pos)
	}
	return k.setArg(pos, argValue{kind: argLocal, size: size}, Command{Size: size, Name: "local"})
}

func (k *Kernel) SetArgScalar(pos int, value interface{}) error {
	switch value.(type) {
	case float32, float64, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
	default:
		return device.Failf(device.InvalidArgValue, "set arg", "scalar %T at position %d", value, pos)
	}
	return k.setArg(pos, argValue{kind: argScalar, scalar: value},
		Command{Size: int(reflect.TypeOf(value).Size()), Name: "scalar"})
}

func (k *Kernel) WorkGroupSize() (int, error) {
	if k.released {
		return 0, device.Fail(device.InvalidKernel, "work group size")
	}
	return k.dev.maxGroup, nil
}

func (k *Kernel) Release() error {
	d := k.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if k.released {
		return device.Fail(device.InvalidKernel, "release kernel")
	}
	k.released = true
	d.stats.KernelReleases++
	return nil
}

// snapshot resolves the arguments for a launch. Every position up to the
// highest bound one must be set. Callers hold dev.mu.
func (k *Kernel) snapshot() ([]argValue, error) {
	n := 0
	for pos := range k.args {
		if pos+1 > n {
			n = pos + 1
		}
	}
	out := make([]argValue, n)
	for pos := 0; pos < n; pos++ {
		v, ok := k.args[pos]
		if !ok {
			return nil, device.Failf(device.InvalidKernelArgs, "enqueue kernel", "%s: argument %d not set", k.name, pos)
		}
		if v.kind == argMemory && v.mem.released {
			return nil, device.Failf(device.InvalidMemObject, "enqueue kernel", "%s: argument %d released", k.name, pos)
		}
		out[pos] = v
	}
	return out, nil
}

// execute runs every work-group of r. Groups run concurrently, work-items
// inside a group run in order and share the group's local memory.
func execute(k *Kernel, r device.Range, args []argValue) error {
	var groups [3]int
	for i := 0; i < 3; i++ {
		groups[i] = 1
		if i < r.Dims {
			groups[i] = r.Global[i] / r.Local[i]
		}
	}
	var gsize, lsize [3]int
	for i := 0; i < 3; i++ {
		gsize[i], lsize[i] = 1, 1
		if i < r.Dims {
			gsize[i], lsize[i] = r.Global[i], r.Local[i]
		}
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for gz := 0; gz < groups[2]; gz++ {
		for gy := 0; gy < groups[1]; gy++ {
			for gx := 0; gx < groups[0]; gx++ {
				group := [3]int{gx, gy, gz}
				g.Go(func() (err error) {
					defer func() {
						if p := recover(); p != nil {
							err = device.Failf(device.ExecStatusError, "kernel "+k.name, "group %v: %v", group, p)
						}
					}()
					runGroup(k.fn, group, gsize, lsize, args)
					return nil
				})
			}
		}
	}
	return g.Wait()
}

func runGroup(fn KernelFunc, group, gsize, lsize [3]int, bound []argValue) {
	args := make(Args, len(bound))
	for i, v := range bound {
		switch v.kind {
		case argMemory:
			args[i] = Value{bytes: v.mem.data}
		case argLocal:
			args[i] = Value{bytes: alignedBytes(v.size)}
		case argScalar:
			args[i] = Value{scalar: v.scalar}
		}
	}
	it := Item{group: group, gsize: gsize, lsize: lsize}
	for lz := 0; lz < lsize[2]; lz++ {
		for ly := 0; ly < lsize[1]; ly++ {
			for lx := 0; lx < lsize[0]; lx++ {
				it.local = [3]int{lx, ly, lz}
				for d := 0; d < 3; d++ {
					it.global[d] = group[d]*lsize[d] + it.local[d]
				}
				fn(it, args)
			}
		}
	}
}
