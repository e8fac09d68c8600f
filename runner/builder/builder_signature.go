package builder

import (
	"fmt"
	"strings"
)

// Dialect selects the kernel language a signature is generated for
type Dialect int

const (
	OpenCL Dialect = iota
	OKL
)

func (d Dialect) String() string {
	if d == OKL {
		return "OKL"
	}
	return "OpenCL"
}

// PassIDName is the trailing int argument carrying the pass index
const PassIDName = "passid"

// KernelParameter is one slot of a kernel's parameter list
type KernelParameter struct {
	Type     string
	Name     string
	IsConst  bool
	Category string // "buffer", "constant", "local", "scalar", "length", "pass"
}

// SignatureInfo lists the kernel slots the params occupy, in binding order.
// Every WithLength array is followed by one int per dimension; the pass id
// is always last.
func SignatureInfo(params []ParamSpec, dims map[string]int) []KernelParameter {
	var out []KernelParameter
	for _, p := range params {
		ctype := p.GetEffectiveType().String()
		switch {
		case p.Direction == DirectionScalar:
			out = append(out, KernelParameter{Type: ctype, Name: p.Name, IsConst: true, Category: "scalar"})
			continue
		case p.Direction == DirectionLocal:
			out = append(out, KernelParameter{Type: ctype + "*", Name: p.Name, Category: "local"})
		case p.IsConstant:
			out = append(out, KernelParameter{Type: ctype + "*", Name: p.Name, IsConst: true, Category: "constant"})
		default:
			out = append(out, KernelParameter{Type: ctype + "*", Name: p.Name, IsConst: p.IsConst(), Category: "buffer"})
		}
		if p.WithLength {
			n := dims[p.Name]
			if n < 1 {
				n = 1
			}
			for d := 0; d < n; d++ {
				out = append(out, KernelParameter{Type: "int", Name: lengthName(p.Name, d), IsConst: true, Category: "length"})
			}
		}
	}
	return append(out, KernelParameter{Type: "int", Name: PassIDName, IsConst: true, Category: "pass"})
}

func lengthName(name string, dim int) string {
	if dim == 0 {
		return name + "__length"
	}
	return fmt.Sprintf("%s__length%d", name, dim)
}

// GenerateSignature renders the parameter list in the given dialect
func GenerateSignature(d Dialect, params []ParamSpec, dims map[string]int) string {
	var out []string
	for _, kp := range SignatureInfo(params, dims) {
		out = append(out, renderParam(d, kp))
	}
	return strings.Join(out, ",\n\t")
}

func renderParam(d Dialect, kp KernelParameter) string {
	var qual string
	switch kp.Category {
	case "buffer":
		if d == OpenCL {
			qual = "__global "
		}
	case "constant":
		if d == OpenCL {
			return fmt.Sprintf("__constant %s %s", kp.Type, kp.Name)
		}
	case "local":
		if d == OpenCL {
			qual = "__local "
		}
	case "scalar", "length", "pass":
		if d == OpenCL {
			return fmt.Sprintf("%s %s", kp.Type, kp.Name)
		}
		return fmt.Sprintf("const %s %s", kp.Type, kp.Name)
	}
	if kp.IsConst {
		return fmt.Sprintf("%sconst %s %s", qual, kp.Type, kp.Name)
	}
	return fmt.Sprintf("%s%s %s", qual, kp.Type, kp.Name)
}

// GenerateDeclaration generates a complete kernel function declaration
func GenerateDeclaration(d Dialect, kernelName string, params []ParamSpec, dims map[string]int) string {
	prefix := "__kernel void"
	if d == OKL {
		prefix = "@kernel void"
	}
	return fmt.Sprintf("%s %s(\n\t%s\n)", prefix, kernelName, GenerateSignature(d, params, dims))
}
