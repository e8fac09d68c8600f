package runner

import (
	"math"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/notargets/devsync/device"
	"github.com/notargets/devsync/device/hostsim"
	"github.com/notargets/devsync/host"
	"github.com/notargets/devsync/runner/builder"
	"github.com/notargets/devsync/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, opts Options) (*hostsim.Device, *Runner) {
	t.Helper()
	dev := utils.CreateTestDevice()
	r, err := NewRunner(dev, opts)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, r.Dispose()) })
	return dev, r
}

func newInvocation(t *testing.T, r *Runner, entry string, hostObj interface{},
	params ...*builder.ParamBuilder) *Invocation {
	t.Helper()
	inv := must.M1(r.NewInvocation(entry, hostObj))
	require.NoError(t, inv.Build("", entry))
	require.NoError(t, inv.Bind(params...))
	return inv
}

func TestRunner_Creation(t *testing.T) {
	t.Run("NilDevice", func(t *testing.T) {
		_, err := NewRunner(nil, Options{})
		assert.Error(t, err)
	})

	t.Run("Defaults", func(t *testing.T) {
		_, r := newTestRunner(t, Options{Trace: true})
		assert.True(t, r.Options().Profiling, "trace turns profiling on")
		assert.IsType(t, host.Heap{}, r.Options().Pinner)
		assert.Contains(t, r.Extensions(), "cl_khr_fp64")
	})

	t.Run("InvocationAfterDispose", func(t *testing.T) {
		r := must.M1(NewRunner(utils.CreateTestDevice(), Options{}))
		require.NoError(t, r.Dispose())
		_, err := r.NewInvocation("late", nil)
		assert.Equal(t, device.InvalidContext, device.StatusOf(err))
		assert.NoError(t, r.Dispose(), "second dispose is a no-op")
	})
}

func TestRunner_RoundTrip(t *testing.T) {
	const n = 1000
	src := make([]float32, n)
	for i := range src {
		src[i] = float32(i) * 1.25
	}
	src[7] = float32(math.Inf(-1))
	src[8] = math.Float32frombits(0x7fc00123) // NaN payload
	src[9] = float32(math.Copysign(0, -1))
	dst := make([]float32, n)

	_, r := newTestRunner(t, Options{})
	inv := newInvocation(t, r, "copy_f32", nil,
		builder.Input("src").Bind(src),
		builder.Output("dst").Bind(dst))

	b, ok := r.Registry().Lookup(src)
	require.True(t, ok)
	refs := b.Refs()

	require.NoError(t, inv.Run(device.NewRange(n), 1, false))
	assert.Equal(t, Completed, inv.State())
	for i := range src {
		require.Equal(t, math.Float32bits(src[i]), math.Float32bits(dst[i]), "element %d", i)
	}
	assert.Equal(t, refs, b.Refs())
	assert.False(t, inv.FirstRun())
}

func TestRunner_IdentitySharing(t *testing.T) {
	dev, r := newTestRunner(t, Options{})
	x := []float32{3, 0, -5}
	out := make([]float32, 3)
	out2 := make([]float32, 3)

	mag := newInvocation(t, r, "magnitude_f32", nil,
		builder.Input("x").Bind(x),
		builder.Input("y").Bind(x),
		builder.Output("out").Bind(out))
	cp := newInvocation(t, r, "copy_f32", nil,
		builder.Input("src").Bind(x),
		builder.Output("dst").Bind(out2))

	bx, ok := r.Registry().Lookup(x)
	require.True(t, ok)
	assert.Equal(t, 3, bx.Refs(), "one reference per bound argument")
	assert.Same(t, mag.Args()[0].Buffer, mag.Args()[1].Buffer)
	assert.Same(t, bx, cp.Args()[0].Buffer)
	assert.Equal(t, 3, r.Registry().Len())

	require.NoError(t, mag.Run(device.NewRange(3), 1, false))
	assert.Equal(t, 1, dev.Stats().Writes, "shared buffer is written once per run")
	assert.InDeltaSlice(t, []float32{3 * math.Sqrt2, 0, 5 * math.Sqrt2}, out, 1e-5)

	require.NoError(t, cp.Run(device.NewRange(3), 1, false))
	assert.Equal(t, x, out2)

	require.NoError(t, cp.Dispose())
	assert.Equal(t, 2, bx.Refs())
	assert.Equal(t, 3, r.Registry().Len(), "dispose does not reclaim")
}

func TestRunner_ReclaimAfterRebind(t *testing.T) {
	dev, r := newTestRunner(t, Options{})
	a := []float32{1, 2}
	b := []float32{3, 4}

	inv := newInvocation(t, r, "square_f32", nil, builder.InOut("data").Bind(a))
	require.NoError(t, inv.Run(device.NewRange(2), 1, false))
	ba, _ := r.Registry().Lookup(a)
	require.NotNil(t, ba.Mem)
	assert.Equal(t, 1, dev.Stats().LiveMemory)

	require.NoError(t, inv.Bind(builder.InOut("data").Bind(b)))
	assert.Equal(t, 0, ba.Refs())
	assert.Equal(t, 2, r.Registry().Len(), "released buffers wait for the next sweep")
	assert.NotNil(t, ba.Mem)

	require.NoError(t, inv.Run(device.NewRange(2), 1, false))
	assert.Equal(t, 1, r.Registry().Len())
	_, ok := r.Registry().Lookup(a)
	assert.False(t, ok)
	assert.Nil(t, ba.Mem)
	assert.Equal(t, 1, dev.Stats().LiveMemory)
	assert.Equal(t, []float32{9, 16}, b)
	assert.Equal(t, 1, r.Resources().Reclaimed)
}

func TestRunner_FreeMemory(t *testing.T) {
	dev, r := newTestRunner(t, Options{})
	data := []float32{1, 2, 3}
	inv := newInvocation(t, r, "square_f32", nil, builder.InOut("data").Bind(data))
	require.NoError(t, inv.Run(device.NewRange(3), 1, false))
	allocs := dev.Stats().Allocs

	require.NoError(t, r.FreeMemory())
	assert.Equal(t, 0, dev.Stats().LiveMemory)
	assert.True(t, inv.FirstRun())
	assert.Equal(t, 1, r.Registry().Len(), "buffers stay registered")

	require.NoError(t, inv.Run(device.NewRange(3), 1, false))
	assert.Equal(t, allocs+1, dev.Stats().Allocs)
	assert.Equal(t, []float32{1, 16, 81}, data)
}

func TestRunner_Dispose(t *testing.T) {
	dev := utils.CreateTestDevice()
	r := must.M1(NewRunner(dev, Options{}))
	a := []float32{1, 2}
	out := make([]float32, 2)

	inv1 := newInvocation(t, r, "copy_f32", nil, builder.Input("src").Bind(a), builder.Output("dst").Bind(out))
	inv2 := newInvocation(t, r, "square_f32", nil, builder.InOut("data").Bind(a))
	require.NoError(t, inv1.Run(device.NewRange(2), 1, false))
	require.NoError(t, inv2.Run(device.NewRange(2), 1, false))
	require.Equal(t, 2, dev.Stats().LiveMemory)

	require.NoError(t, r.Dispose())
	st := dev.Stats()
	assert.Equal(t, 2, st.KernelReleases)
	assert.Equal(t, 0, st.LiveMemory)
	assert.Equal(t, 0, st.LiveEvents)
	assert.Equal(t, 0, r.Registry().Len())
	assert.Empty(t, r.Invocations())

	err := inv1.Run(device.NewRange(2), 1, false)
	assert.Equal(t, device.InvalidKernel, device.StatusOf(err))
}

func TestRunner_Resources(t *testing.T) {
	_, r := newTestRunner(t, Options{TrackResources: true})
	inv := newInvocation(t, r, "fill_index_i32", nil, builder.Output("out").Bind(make([]int32, 16)))
	require.NoError(t, inv.Run(device.NewRange(16), 1, false))

	res := r.Resources()
	assert.Equal(t, 1, res.Buffers)
	assert.Equal(t, 1, res.LiveMemory)
	assert.Equal(t, 64, res.LiveBytes)
	assert.Equal(t, 1, res.Allocations)
	assert.Equal(t, 2, res.Events, "exec and read")
	assert.Equal(t, 0, res.LiveEvents)
}
