package runner

import (
	"fmt"
	"strings"

	"github.com/notargets/devsync/buffer"
	"github.com/notargets/devsync/field"
	"github.com/notargets/devsync/runner/builder"
	"github.com/pkg/errors"
)

// Arg is one formal kernel parameter of an invocation
type Arg struct {
	// Spec is the live declaration, shared with the builder it was bound
	// from; flags are derived from it every run
	Spec  *builder.ParamSpec
	Flags builder.Flags

	Buffer *buffer.Buffer
	obj    interface{}
	// Value is the scalar bound by the last run
	Value interface{}

	// Pos is the first kernel slot of the argument; Slots counts it and its
	// length slots
	Pos   int
	Slots int
	dims  int

	boundGen  uint64
	boundLens []int
}

func (a *Arg) String() string {
	return fmt.Sprintf("%s@%d[%s]", a.Spec.Name, a.Pos, a.Flags)
}

// object resolves the host object behind a buffer argument
func (a *Arg) object(hostObj interface{}) (interface{}, error) {
	switch {
	case a.Spec.HostBinding != nil:
		return a.Spec.HostBinding, nil
	case a.Spec.IsStatic:
		return field.StaticAddr(a.staticName())
	case a.Spec.FieldName != "":
		return field.Addr(hostObj, a.Spec.FieldName)
	default:
		return nil, errors.Errorf("argument %s is not bound", a.Spec.Name)
	}
}

// scalar fetches the current value of a scalar argument
func (a *Arg) scalar(hostObj interface{}) (interface{}, error) {
	var v interface{}
	var err error
	switch {
	case a.Spec.IsStatic:
		v, err = field.Static(a.staticName())
	case a.Spec.FieldName != "":
		v, err = field.Value(hostObj, a.Spec.FieldName)
	default:
		v = a.Spec.HostBinding
	}
	if err != nil {
		return nil, err
	}
	return scalarValue(v)
}

func (a *Arg) staticName() string {
	if a.Spec.FieldName != "" {
		return a.Spec.FieldName
	}
	return a.Spec.Name
}

func (a *Arg) isBuffer() bool { return a.Spec.IsBuffer() }

// access is what the kernel does with the argument's buffer
func (a *Arg) access() buffer.Access {
	var acc buffer.Access
	if a.Flags.Has(builder.FlagRead) {
		acc |= buffer.AccessRead
	}
	if a.Flags.Has(builder.FlagWrite) {
		acc |= buffer.AccessWrite
	}
	return acc
}

// localBytes is the size of a local argument's region
func (a *Arg) localBytes() int {
	return int(a.Spec.Size) * a.Spec.DataType.Size()
}

// KernelArgument describes one kernel slot of a bound invocation
type KernelArgument struct {
	Pos      int
	Name     string
	Category string // "buffer", "constant", "local", "scalar", "length", "pass"
	Flags    builder.Flags
	Buffer   string
}

// KernelArguments returns the slot layout of the bound arguments, in
// position order, ending with the pass index
func (inv *Invocation) KernelArguments() []KernelArgument {
	info := builder.SignatureInfo(inv.specs(), inv.dims())
	out := make([]KernelArgument, 0, len(info))
	pos := 0
	for _, a := range inv.args {
		for s := 0; s < a.Slots; s++ {
			ka := KernelArgument{Pos: pos, Name: info[pos].Name, Category: info[pos].Category, Flags: a.Flags}
			if a.Buffer != nil {
				ka.Buffer = a.Buffer.String()
			}
			out = append(out, ka)
			pos++
		}
	}
	return append(out, KernelArgument{Pos: pos, Name: builder.PassIDName, Category: "pass"})
}

// Signature renders the kernel parameter list of the bound arguments
func (inv *Invocation) Signature(d builder.Dialect) string {
	return builder.GenerateDeclaration(d, inv.Name, inv.specs(), inv.dims())
}

func (inv *Invocation) specs() []builder.ParamSpec {
	out := make([]builder.ParamSpec, len(inv.args))
	for i, a := range inv.args {
		out[i] = *a.Spec
	}
	return out
}

func (inv *Invocation) dims() map[string]int {
	out := make(map[string]int, len(inv.args))
	for _, a := range inv.args {
		out[a.Spec.Name] = a.dims
	}
	return out
}

// PassSlot is the kernel slot the pass index is bound to
func (inv *Invocation) PassSlot() int {
	n := 0
	for _, a := range inv.args {
		n += a.Slots
	}
	return n
}

func describeArgs(args []*Arg) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, " ")
}

func lengthValues(dims []int) []int32 {
	out := make([]int32, len(dims))
	for i, d := range dims {
		out[i] = int32(d)
	}
	return out
}
