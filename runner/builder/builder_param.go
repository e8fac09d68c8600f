package builder

import (
	"fmt"
	"reflect"

	"github.com/notargets/devsync/device"
	"gonum.org/v1/gonum/mat"
)

// Direction indicates parameter data flow
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
	DirectionInOut
	DirectionLocal
	DirectionScalar
)

func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	case DirectionInOut:
		return "inout"
	case DirectionLocal:
		return "local"
	case DirectionScalar:
		return "scalar"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParamBuilder provides a fluent interface for building kernel parameters
type ParamBuilder struct {
	Spec ParamSpec
}

// ParamSpec holds the complete specification for a kernel parameter
type ParamSpec struct {
	Name      string
	Direction Direction

	// HostBinding is the host object or scalar; FieldName resolves one
	// against the invocation's host object instead
	HostBinding interface{}
	FieldName   string

	// Type and size (inferred or explicit)
	DataType DataType
	Size     int64

	// ConvertType is the device element type when it differs from the host's
	ConvertType DataType

	IsConstant bool
	IsExplicit bool
	WithLength bool
	IsStatic   bool
}

func newParam(name string, dir Direction) *ParamBuilder {
	return &ParamBuilder{Spec: ParamSpec{Name: name, Direction: dir}}
}

// Input creates a parameter the kernel only reads
func Input(deviceName string) *ParamBuilder { return newParam(deviceName, DirectionInput) }

// Output creates a parameter the kernel only writes
func Output(deviceName string) *ParamBuilder { return newParam(deviceName, DirectionOutput) }

// InOut creates a parameter the kernel reads and writes
func InOut(deviceName string) *ParamBuilder { return newParam(deviceName, DirectionInOut) }

// Scalar creates a by-value parameter
func Scalar(deviceName string) *ParamBuilder { return newParam(deviceName, DirectionScalar) }

// Local creates a work-group local array with no host mirror. Set its
// element type and count with Type and Size.
func Local(deviceName string) *ParamBuilder { return newParam(deviceName, DirectionLocal) }

// Bind associates a host variable with this parameter
func (p *ParamBuilder) Bind(hostVar interface{}) *ParamBuilder {
	p.Spec.HostBinding = hostVar
	p.inferFromBinding()
	return p
}

// Field binds the parameter to a field of the invocation's host object,
// looked up by Go name or `kernel` tag on every run
func (p *ParamBuilder) Field(name string) *ParamBuilder {
	p.Spec.FieldName = name
	return p
}

// Constant places an input in device constant memory
func (p *ParamBuilder) Constant() *ParamBuilder {
	p.Spec.IsConstant = true
	return p
}

// Explicit hands data movement to the caller (Runner.Put / Runner.Get)
func (p *ParamBuilder) Explicit() *ParamBuilder {
	p.Spec.IsExplicit = true
	return p
}

// Implicit returns data movement to the pipeline
func (p *ParamBuilder) Implicit() *ParamBuilder {
	p.Spec.IsExplicit = false
	return p
}

// WithLength appends the element count of every dimension after the
// parameter, as int arguments
func (p *ParamBuilder) WithLength() *ParamBuilder {
	p.Spec.WithLength = true
	return p
}

// Static reads the value from the static registered under the parameter's
// field name, or its own name when no field is set
func (p *ParamBuilder) Static() *ParamBuilder {
	p.Spec.IsStatic = true
	return p
}

// Convert sets the device element type when it differs from the host's
func (p *ParamBuilder) Convert(toType DataType) *ParamBuilder {
	p.Spec.ConvertType = toType
	return p
}

// Type sets explicit type (mainly for Local arrays)
func (p *ParamBuilder) Type(dataType DataType) *ParamBuilder {
	p.Spec.DataType = dataType
	return p
}

// Size sets explicit size (mainly for Local arrays)
func (p *ParamBuilder) Size(elements int) *ParamBuilder {
	p.Spec.Size = int64(elements)
	return p
}

// inferFromBinding extracts type and size information from the host binding
func (p *ParamBuilder) inferFromBinding() {
	if p.Spec.HostBinding == nil {
		return
	}
	dt, size := Infer(p.Spec.HostBinding)
	if dt != 0 {
		p.Spec.DataType = dt
	}
	p.Spec.Size = size
}

// Infer returns the element type and element count of a host value
func Infer(v interface{}) (DataType, int64) {
	if m, ok := v.(mat.Matrix); ok {
		rows, cols := m.Dims()
		return Float64, int64(rows * cols)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		et := rv.Type().Elem()
		if et.Kind() == reflect.Slice && rv.Len() > 0 {
			return device.DataTypeOf(et.Elem().Kind()), int64(rv.Len() * rv.Index(0).Len())
		}
		return device.DataTypeOf(et.Kind()), int64(rv.Len())
	case reflect.Invalid:
		return 0, 0
	default:
		return device.DataTypeOf(rv.Kind()), 1
	}
}

// Flags derives the access flags from the declaration
func (p *ParamSpec) Flags() Flags {
	var f Flags
	switch p.Direction {
	case DirectionInput:
		f |= FlagRead
	case DirectionOutput:
		f |= FlagWrite
	case DirectionInOut:
		f |= FlagRead | FlagWrite
	case DirectionLocal:
		f |= FlagLocal
	case DirectionScalar:
		f |= FlagPrimitive
	}
	if p.IsConstant {
		f |= FlagConstant
	}
	if p.IsExplicit {
		f |= FlagExplicit
	}
	if p.WithLength {
		f |= FlagLength
	}
	if p.IsStatic {
		f |= FlagStatic
	}
	return f
}

// IsBuffer reports whether the parameter is backed by a host object
func (p *ParamSpec) IsBuffer() bool {
	return p.Direction == DirectionInput || p.Direction == DirectionOutput || p.Direction == DirectionInOut
}

// Validate checks if the parameter specification is complete and valid
func (p *ParamSpec) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("parameter name cannot be empty")
	}
	bound := p.HostBinding != nil || p.FieldName != "" || p.IsStatic

	switch p.Direction {
	case DirectionScalar:
		if !bound {
			return fmt.Errorf("scalar %s needs a binding, field or static", p.Name)
		}
		if p.IsConstant || p.IsExplicit || p.WithLength || p.ConvertType != 0 {
			return fmt.Errorf("scalar %s only accepts Static", p.Name)
		}
	case DirectionLocal:
		if p.HostBinding != nil || p.FieldName != "" {
			return fmt.Errorf("local array %s cannot have host binding", p.Name)
		}
		if p.Size <= 0 {
			return fmt.Errorf("local array %s needs size", p.Name)
		}
		if p.DataType == 0 {
			return fmt.Errorf("local array %s needs type", p.Name)
		}
		if p.IsConstant || p.IsExplicit || p.IsStatic {
			return fmt.Errorf("local array %s cannot be constant, explicit or static", p.Name)
		}
	case DirectionInput, DirectionOutput, DirectionInOut:
		if !bound {
			return fmt.Errorf("array %s needs a binding, field or static", p.Name)
		}
		if p.IsConstant && p.Direction != DirectionInput {
			return fmt.Errorf("constant array %s must be an input", p.Name)
		}
	default:
		return fmt.Errorf("parameter %s has unknown direction %d", p.Name, p.Direction)
	}
	return nil
}

// IsConst returns whether this parameter should be const in the kernel signature
func (p *ParamSpec) IsConst() bool {
	switch p.Direction {
	case DirectionInput, DirectionScalar:
		return true
	default:
		return false
	}
}

// GetEffectiveType returns the type to use on device (considering conversion)
func (p *ParamSpec) GetEffectiveType() DataType {
	if p.ConvertType != 0 {
		return p.ConvertType
	}
	return p.DataType
}
