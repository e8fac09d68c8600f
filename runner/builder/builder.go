package builder

import (
	"strings"

	"github.com/notargets/devsync/device"
)

// DataType represents the element type of a parameter
type DataType = device.DataType

const (
	Float32 = device.Float32
	Float64 = device.Float64
	INT32   = device.INT32
	INT64   = device.INT64
	INT8    = device.INT8
	INT16   = device.INT16
	UINT8   = device.UINT8
	Float16 = device.Float16
)

// Flags are the access flags of a kernel parameter. They are derived from the
// declaration at the start of every run.
type Flags uint16

const (
	// FlagRead: the kernel reads the parameter
	FlagRead Flags = 1 << iota
	// FlagWrite: the kernel writes the parameter
	FlagWrite
	// FlagLocal: work-group local memory with no host mirror
	FlagLocal
	// FlagConstant: device constant memory, only written on request
	FlagConstant
	// FlagExplicit: the caller moves data with Put and Get
	FlagExplicit
	// FlagExplicitWrite: a Put is pending for the parameter's buffer
	FlagExplicitWrite
	// FlagLength: the parameter is followed by its per-dimension lengths
	FlagLength
	// FlagStatic: the value is read from a registered static
	FlagStatic
	// FlagPrimitive: scalar value argument
	FlagPrimitive
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagRead, "R"}, {FlagWrite, "W"}, {FlagLocal, "LOCAL"}, {FlagConstant, "CONST"},
	{FlagExplicit, "EXPLICIT"}, {FlagExplicitWrite, "EXPLICIT_WRITE"}, {FlagLength, "LEN"},
	{FlagStatic, "STATIC"}, {FlagPrimitive, "PRIMITIVE"},
}

// Has reports whether all of x are set
func (f Flags) Has(x Flags) bool { return f&x == x }

func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}

// Global reports whether the parameter lives in global memory
func (f Flags) Global() bool { return f&(FlagLocal|FlagConstant|FlagPrimitive) == 0 }

// Implicit reports whether the pipeline moves the data
func (f Flags) Implicit() bool { return f&FlagExplicit == 0 }

// NeedsWrite reports whether the host contents must be written to the device
// before launch
func (f Flags) NeedsWrite() bool {
	if f&(FlagLocal|FlagPrimitive) != 0 {
		return false
	}
	want := (f.Implicit() && f.Has(FlagRead)) || f.Has(FlagExplicit|FlagExplicitWrite)
	return want && (!f.Has(FlagConstant) || f.Has(FlagExplicitWrite))
}

// NeedsRead reports whether the device contents must be read back after
// the final pass
func (f Flags) NeedsRead() bool {
	return f.Global() && f.Implicit() && f.Has(FlagWrite)
}
