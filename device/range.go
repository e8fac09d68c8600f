package device

import "fmt"

// Range is an N-dimensional launch configuration. A zero Local entry lets
// Clamp pick the work-group size for that dimension.
type Range struct {
	Dims   int
	Global [3]int
	Local  [3]int
}

// NewRange creates a 1D range
func NewRange(global int) Range {
	return Range{Dims: 1, Global: [3]int{global, 1, 1}, Local: [3]int{0, 1, 1}}
}

// NewRange2D creates a 2D range
func NewRange2D(gx, gy int) Range {
	return Range{Dims: 2, Global: [3]int{gx, gy, 1}, Local: [3]int{0, 0, 1}}
}

// NewRange3D creates a 3D range
func NewRange3D(gx, gy, gz int) Range {
	return Range{Dims: 3, Global: [3]int{gx, gy, gz}}
}

// WithLocal fixes the work-group size
func (r Range) WithLocal(local ...int) Range {
	for i := 0; i < len(local) && i < 3; i++ {
		r.Local[i] = local[i]
	}
	return r
}

// GroupSize is the product of the local sizes over the active dimensions
func (r Range) GroupSize() int {
	n := 1
	for i := 0; i < r.Dims; i++ {
		n *= r.Local[i]
	}
	return n
}

// WorkItems is the product of the global sizes over the active dimensions
func (r Range) WorkItems() int {
	n := 1
	for i := 0; i < r.Dims; i++ {
		n *= r.Global[i]
	}
	return n
}

// Clamp fits the work-group into maxGroup and rounds every global size up to
// a multiple of its local size.
func (r Range) Clamp(maxGroup int) Range {
	if maxGroup < 1 {
		maxGroup = 1
	}
	for i := 0; i < r.Dims; i++ {
		if r.Global[i] < 1 {
			r.Global[i] = 1
		}
		if r.Local[i] <= 0 {
			r.Local[i] = largestPow2(min(r.Global[i], maxGroup))
		}
	}
	for r.GroupSize() > maxGroup {
		big := 0
		for i := 1; i < r.Dims; i++ {
			if r.Local[i] > r.Local[big] {
				big = i
			}
		}
		if r.Local[big] == 1 {
			break
		}
		r.Local[big] /= 2
	}
	for i := 0; i < r.Dims; i++ {
		if rem := r.Global[i] % r.Local[i]; rem != 0 {
			r.Global[i] += r.Local[i] - rem
		}
	}
	return r
}

// Validate rejects ranges the device would refuse
func (r Range) Validate() error {
	if r.Dims < 1 || r.Dims > 3 {
		return Failf(InvalidValue, "range", "dims=%d", r.Dims)
	}
	for i := 0; i < r.Dims; i++ {
		if r.Global[i] < 1 {
			return Failf(InvalidGlobalWorkSize, "range", "global[%d]=%d", i, r.Global[i])
		}
		if r.Local[i] < 1 || r.Global[i]%r.Local[i] != 0 {
			return Failf(InvalidWorkGroupSize, "range", "global[%d]=%d local[%d]=%d", i, r.Global[i], i, r.Local[i])
		}
	}
	return nil
}

func (r Range) String() string {
	switch r.Dims {
	case 1:
		return fmt.Sprintf("%d/%d", r.Global[0], r.Local[0])
	case 2:
		return fmt.Sprintf("%dx%d/%dx%d", r.Global[0], r.Global[1], r.Local[0], r.Local[1])
	default:
		return fmt.Sprintf("%dx%dx%d/%dx%dx%d", r.Global[0], r.Global[1], r.Global[2],
			r.Local[0], r.Local[1], r.Local[2])
	}
}

func largestPow2(n int) int {
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}
