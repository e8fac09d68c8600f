package hostsim

import "github.com/chewxy/math32"

// Builtins are the kernels every hostsim device starts with. Work-items past
// the end of a buffer return early since global sizes are padded to a
// multiple of the work-group size. The pass index is always the last
// argument.
var Builtins = Library{
	// copy_f32(const float* src, float* dst)
	"copy_f32": func(it Item, args Args) {
		src, dst := args[0].Float32s(), args[1].Float32s()
		if i := it.GlobalID(0); i < len(dst) && i < len(src) {
			dst[i] = src[i]
		}
	},
	// copy_f64(const double* src, double* dst)
	"copy_f64": func(it Item, args Args) {
		src, dst := args[0].Float64s(), args[1].Float64s()
		if i := it.GlobalID(0); i < len(dst) && i < len(src) {
			dst[i] = src[i]
		}
	},
	// square_f32(float* data)
	"square_f32": func(it Item, args Args) {
		data := args[0].Float32s()
		if i := it.GlobalID(0); i < len(data) {
			data[i] *= data[i]
		}
	},
	// scale_f32(float* data, float factor)
	"scale_f32": func(it Item, args Args) {
		data, factor := args[0].Float32s(), float32(args[1].Float())
		if i := it.GlobalID(0); i < len(data) {
			data[i] *= factor
		}
	},
	// abs_f32(float* data)
	"abs_f32": func(it Item, args Args) {
		data := args[0].Float32s()
		if i := it.GlobalID(0); i < len(data) {
			data[i] = math32.Abs(data[i])
		}
	},
	// magnitude_f32(const float* x, const float* y, float* out)
	"magnitude_f32": func(it Item, args Args) {
		x, y, out := args[0].Float32s(), args[1].Float32s(), args[2].Float32s()
		if i := it.GlobalID(0); i < len(out) {
			out[i] = math32.Sqrt(x[i]*x[i] + y[i]*y[i])
		}
	},
	// add_pass_f32(float* data, int passid): adds the pass index
	"add_pass_f32": func(it Item, args Args) {
		data, pass := args[0].Float32s(), args[len(args)-1].Int()
		if i := it.GlobalID(0); i < len(data) {
			data[i] += float32(pass)
		}
	},
	// group_sum_f32(const float* in, int n, __local float* scratch, float* out)
	// writes one partial sum per work-group
	"group_sum_f32": func(it Item, args Args) {
		in, n := args[0].Float32s(), args[1].Int()
		scratch, out := args[2].Float32s(), args[3].Float32s()
		if it.LocalID(0) == 0 {
			scratch[0] = 0
		}
		if i := it.GlobalID(0); i < n {
			scratch[0] += in[i]
		}
		if it.LocalID(0) == it.LocalSize(0)-1 && it.GroupID(0) < len(out) {
			out[it.GroupID(0)] = scratch[0]
		}
	},
	// fill_index_i32(int* out)
	"fill_index_i32": func(it Item, args Args) {
		out := args[0].Int32s()
		if i := it.GlobalID(0); i < len(out) {
			out[i] = int32(i)
		}
	},
	// transpose_f64(const double* in, int rows, int cols, double* out)
	"transpose_f64": func(it Item, args Args) {
		in, rows, cols, out := args[0].Float64s(), args[1].Int(), args[2].Int(), args[3].Float64s()
		r, c := it.GlobalID(0), it.GlobalID(1)
		if r < rows && c < cols {
			out[c*rows+r] = in[r*cols+c]
		}
	},
}
