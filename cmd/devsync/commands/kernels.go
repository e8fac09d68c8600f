package commands

import (
	"github.com/chewxy/math32"
	"github.com/notargets/devsync/runner/builder"
	"github.com/pkg/errors"
)

// demo is one sample kernel: its host data, parameter list, kernel bodies per
// dialect and a check of the result after passes runs
type demo struct {
	entry  string
	params []*builder.ParamBuilder
	local  int
	body   map[builder.Dialect]string
	check  func(passes int) (bad int)
}

const demoGroup = 64

func newDemo(kernel string, n int) (*demo, error) {
	src := make([]float32, n)
	for i := range src {
		src[i] = float32(i%17) * 0.5
	}
	count := int32(n)

	switch kernel {
	case "copy":
		dst := make([]float32, n)
		return &demo{
			entry: "copy_f32",
			params: []*builder.ParamBuilder{
				builder.Input("src").Bind(src),
				builder.Output("dst").Bind(dst),
				builder.Scalar("n").Bind(count),
			},
			body: map[builder.Dialect]string{
				builder.OpenCL: "int i = get_global_id(0);\n\tif (i < n) dst[i] = src[i];",
				builder.OKL:    "for (int i = 0; i < n; ++i; @tile(64, @outer, @inner)) {\n\t\tdst[i] = src[i];\n\t}",
			},
			check: func(int) int { return mismatches(dst, src) },
		}, nil

	case "square":
		data := append([]float32(nil), src...)
		return &demo{
			entry: "square_f32",
			params: []*builder.ParamBuilder{
				builder.InOut("data").Bind(data),
				builder.Scalar("n").Bind(count),
			},
			body: map[builder.Dialect]string{
				builder.OpenCL: "int i = get_global_id(0);\n\tif (i < n) data[i] *= data[i];",
				builder.OKL:    "for (int i = 0; i < n; ++i; @tile(64, @outer, @inner)) {\n\t\tdata[i] *= data[i];\n\t}",
			},
			check: func(passes int) int {
				want := append([]float32(nil), src...)
				for p := 0; p < passes; p++ {
					for i := range want {
						want[i] *= want[i]
					}
				}
				return mismatches(data, want)
			},
		}, nil

	case "reduce":
		groups := (n + demoGroup - 1) / demoGroup
		out := make([]float32, groups)
		return &demo{
			entry: "group_sum_f32",
			params: []*builder.ParamBuilder{
				builder.Input("in").Bind(src).WithLength(),
				builder.Local("scratch").Type(builder.Float32).Size(demoGroup),
				builder.Output("out").Bind(out),
			},
			local: demoGroup,
			body: map[builder.Dialect]string{
				builder.OpenCL: `int lid = get_local_id(0);
	int i = get_global_id(0);
	scratch[lid] = i < in__length ? in[i] : 0.0f;
	barrier(CLK_LOCAL_MEM_FENCE);
	for (int s = get_local_size(0) / 2; s > 0; s >>= 1) {
		if (lid < s) scratch[lid] += scratch[lid + s];
		barrier(CLK_LOCAL_MEM_FENCE);
	}
	if (lid == 0) out[get_group_id(0)] = scratch[0];`,
			},
			check: func(int) int {
				var got, want float32
				for _, v := range out {
					got += v
				}
				for _, v := range src {
					want += v
				}
				if math32.Abs(got-want) > 1e-3*math32.Max(1, math32.Abs(want)) {
					return 1
				}
				return 0
			},
		}, nil
	}
	return nil, errors.Errorf("unknown kernel %q (copy, square, reduce)", kernel)
}

// source completes the generated declaration with the kernel body
func (d *demo) source(sig string, dialect builder.Dialect) (string, error) {
	body, ok := d.body[dialect]
	if !ok {
		return "", errors.Errorf("%s has no %s version", d.entry, dialect)
	}
	return sig + " {\n\t" + body + "\n}\n", nil
}

func mismatches(got, want []float32) int {
	bad := 0
	for i := range want {
		if math32.Abs(got[i]-want[i]) > 1e-4*math32.Max(1, math32.Abs(want[i])) {
			bad++
		}
	}
	return bad
}
