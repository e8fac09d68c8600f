package device

import (
	"fmt"
	"reflect"
)

// DataType represents the element type of device memory and scalar arguments
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
	INT32
	INT64
	INT8
	INT16
	UINT8
	Float16
)

// Size returns the size in bytes of one element
func (dt DataType) Size() int {
	switch dt {
	case Float32, INT32:
		return 4
	case Float64, INT64:
		return 8
	case INT16, Float16:
		return 2
	case INT8, UINT8:
		return 1
	default:
		return 0
	}
}

// String returns the C type name used in kernel source
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float"
	case Float64:
		return "double"
	case INT32:
		return "int"
	case INT64:
		return "long"
	case INT8:
		return "char"
	case INT16:
		return "short"
	case UINT8:
		return "uchar"
	case Float16:
		return "half"
	default:
		return fmt.Sprintf("DataType(%d)", int(dt))
	}
}

// DataTypeOf maps a Go element kind to its device type. Go int is carried as
// a 64 bit value and bool as a single byte.
func DataTypeOf(k reflect.Kind) DataType {
	switch k {
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	case reflect.Int32, reflect.Uint32:
		return INT32
	case reflect.Int64, reflect.Int, reflect.Uint64, reflect.Uint:
		return INT64
	case reflect.Int16, reflect.Uint16:
		return INT16
	case reflect.Int8:
		return INT8
	case reflect.Uint8, reflect.Bool:
		return UINT8
	default:
		return 0
	}
}

// MemFlags selects the access mode of a device allocation
type MemFlags uint32

const (
	MemReadWrite MemFlags = 1 << iota
	MemWriteOnly
	MemReadOnly
	MemUseHostPtr
)

func (f MemFlags) String() string {
	var s string
	switch {
	case f&MemReadWrite != 0:
		s = "RW"
	case f&MemReadOnly != 0:
		s = "RO"
	case f&MemWriteOnly != 0:
		s = "WO"
	default:
		s = "--"
	}
	if f&MemUseHostPtr != 0 {
		s += "|HOST"
	}
	return s
}

// ExecStatus is the execution state of a queued command
type ExecStatus int

const (
	Complete ExecStatus = iota
	Running
	Submitted
	Queued
)

func (s ExecStatus) String() string {
	switch s {
	case Complete:
		return "complete"
	case Running:
		return "running"
	case Submitted:
		return "submitted"
	case Queued:
		return "queued"
	default:
		return fmt.Sprintf("ExecStatus(%d)", int(s))
	}
}

// Timestamps holds the device profiling counters of one command, in nanoseconds
type Timestamps struct {
	Queued, Submit, Start, End uint64
}

// Type classifies a device
type Type int

const (
	TypeDefault Type = iota
	TypeCPU
	TypeGPU
	TypeAccelerator
)

func (t Type) String() string {
	switch t {
	case TypeCPU:
		return "CPU"
	case TypeGPU:
		return "GPU"
	case TypeAccelerator:
		return "ACC"
	default:
		return "DEFAULT"
	}
}
