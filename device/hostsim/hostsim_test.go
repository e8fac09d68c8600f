package hostsim

import (
	"testing"
	"unsafe"

	"github.com/notargets/devsync/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, opts ...Option) (*Device, device.Context, device.Queue) {
	t.Helper()
	dev := New(opts...)
	ctx, err := dev.NewContext()
	require.NoError(t, err)
	q, err := ctx.NewQueue(true)
	require.NoError(t, err)
	return dev, ctx, q
}

func TestAllocCopiesHost(t *testing.T) {
	dev, ctx, _ := setup(t)
	host := []float32{1, 2, 3}
	m, err := ctx.Alloc(device.MemReadWrite|device.MemUseHostPtr, 12, unsafe.Pointer(&host[0]))
	require.NoError(t, err)
	assert.Equal(t, 12, m.Size())

	// device memory is separate from host memory
	host[0] = 99
	assert.Equal(t, float32(1), typed[float32](m.(*Memory).Bytes())[0])

	_, err = ctx.Alloc(device.MemReadWrite, 12, unsafe.Pointer(&host[0]))
	assert.Equal(t, device.InvalidHostPtr, device.StatusOf(err))
	_, err = ctx.Alloc(device.MemReadWrite, 0, nil)
	assert.Equal(t, device.InvalidBufferSize, device.StatusOf(err))

	require.NoError(t, m.Release())
	assert.Equal(t, device.InvalidMemObject, device.StatusOf(m.Release()))
	assert.Equal(t, 0, dev.Stats().LiveMemory)
}

func TestKernelRoundTrip(t *testing.T) {
	dev, ctx, q := setup(t)
	src := []float32{1, 2, 3, 4, 5}
	dst := make([]float32, len(src))
	ms, err := ctx.Alloc(device.MemReadOnly|device.MemUseHostPtr, 20, unsafe.Pointer(&src[0]))
	require.NoError(t, err)
	md, err := ctx.Alloc(device.MemWriteOnly|device.MemUseHostPtr, 20, unsafe.Pointer(&dst[0]))
	require.NoError(t, err)

	k, err := ctx.Build("", "copy_f32")
	require.NoError(t, err)
	require.NoError(t, k.SetArgMemory(0, ms))
	require.NoError(t, k.SetArgMemory(1, md))

	wr, err := q.EnqueueWrite(ms, unsafe.Pointer(&src[0]), 20, nil)
	require.NoError(t, err)
	ex, err := q.EnqueueKernel(k, device.NewRange(5).Clamp(4), []device.Event{wr})
	require.NoError(t, err)
	rd, err := q.EnqueueRead(md, unsafe.Pointer(&dst[0]), 20, []device.Event{ex})
	require.NoError(t, err)
	require.NoError(t, q.WaitForEvents([]device.Event{rd}))
	assert.Equal(t, src, dst)

	ts, err := ex.Profile()
	require.NoError(t, err)
	assert.True(t, ts.Queued < ts.Submit && ts.Submit < ts.Start && ts.Start < ts.End)

	for _, e := range []device.Event{rd, ex, wr} {
		require.NoError(t, e.Release())
	}
	assert.Equal(t, 0, dev.Stats().LiveEvents)

	log := dev.Log()
	var kernelCmd Command
	for _, c := range log {
		if c.Op == OpKernel {
			kernelCmd = c
		}
	}
	assert.Equal(t, []int{wr.(*Event).ID()}, kernelCmd.Wait)
	assert.Equal(t, 1, kernelCmd.LiveKernelEvents)
}

func TestEventContract(t *testing.T) {
	_, ctx, q := setup(t)
	host := []int32{0, 0, 0, 0}
	m, err := ctx.Alloc(device.MemReadWrite|device.MemUseHostPtr, 16, unsafe.Pointer(&host[0]))
	require.NoError(t, err)

	e, err := q.EnqueueWrite(m, unsafe.Pointer(&host[0]), 16, nil)
	require.NoError(t, err)
	require.NoError(t, e.Release())

	assert.Equal(t, device.InvalidEvent, device.StatusOf(e.Release()))
	_, err = q.EnqueueRead(m, unsafe.Pointer(&host[0]), 16, []device.Event{e})
	assert.Equal(t, device.InvalidEventWaitList, device.StatusOf(err))
}

func TestKernelFailures(t *testing.T) {
	t.Run("missing entry", func(t *testing.T) {
		_, ctx, _ := setup(t)
		_, err := ctx.Build("", "nope")
		assert.Equal(t, device.BuildProgramFailure, device.StatusOf(err))
	})
	t.Run("unset argument", func(t *testing.T) {
		_, ctx, q := setup(t)
		k, err := ctx.Build("", "copy_f32")
		require.NoError(t, err)
		require.NoError(t, k.SetArgScalar(1, int32(3)))
		_, err = q.EnqueueKernel(k, device.NewRange(4).Clamp(4), nil)
		assert.Equal(t, device.InvalidKernelArgs, device.StatusOf(err))
	})
	t.Run("group too large", func(t *testing.T) {
		_, ctx, q := setup(t, WithMaxWorkGroupSize(8))
		k, err := ctx.Build("", "fill_index_i32")
		require.NoError(t, err)
		_, err = q.EnqueueKernel(k, device.NewRange(64).WithLocal(16), nil)
		assert.Equal(t, device.InvalidWorkGroupSize, device.StatusOf(err))
	})
	t.Run("panic fails execution", func(t *testing.T) {
		_, ctx, q := setup(t, WithLibrary(Library{"boom": func(Item, Args) { panic("boom") }}))
		k, err := ctx.Build("", "boom")
		require.NoError(t, err)
		e, err := q.EnqueueKernel(k, device.NewRange(4).Clamp(4), nil)
		require.NoError(t, err)
		_, err = e.Status()
		assert.Equal(t, device.ExecStatusError, device.StatusOf(err))
		assert.Equal(t, device.ExecStatusError, device.StatusOf(e.Wait()))
	})
	t.Run("injected", func(t *testing.T) {
		dev, _, q := setup(t)
		dev.FailAt(OpFinish, 2, device.OutOfResources)
		require.NoError(t, q.Finish())
		assert.Equal(t, device.OutOfResources, device.StatusOf(q.Finish()))
		require.NoError(t, q.Finish())
	})
}

func TestLocalMemoryAndGroups(t *testing.T) {
	_, ctx, q := setup(t)
	in := make([]float32, 10)
	for i := range in {
		in[i] = float32(i + 1)
	}
	out := make([]float32, 4)
	mIn, err := ctx.Alloc(device.MemReadOnly|device.MemUseHostPtr, 40, unsafe.Pointer(&in[0]))
	require.NoError(t, err)
	mout, err := ctx.Alloc(device.MemWriteOnly|device.MemUseHostPtr, 16, unsafe.Pointer(&out[0]))
	require.NoError(t, err)
	k, err := ctx.Build("", "group_sum_f32")
	require.NoError(t, err)
	require.NoError(t, k.SetArgMemory(0, mIn))
	require.NoError(t, k.SetArgScalar(1, int32(len(in))))
	require.NoError(t, k.SetArgLocal(2, 4))
	require.NoError(t, k.SetArgMemory(3, mout))

	ex, err := q.EnqueueKernel(k, device.NewRange(10).WithLocal(4).Clamp(256), nil)
	require.NoError(t, err)
	rd, err := q.EnqueueRead(mout, unsafe.Pointer(&out[0]), 16, []device.Event{ex})
	require.NoError(t, err)
	require.NoError(t, rd.Wait())
	assert.Equal(t, []float32{10, 26, 19, 0}, out)
}

func TestProfilingDisabled(t *testing.T) {
	dev := New()
	ctx, err := dev.NewContext()
	require.NoError(t, err)
	q, err := ctx.NewQueue(false)
	require.NoError(t, err)
	e, err := q.EnqueueMarker()
	require.NoError(t, err)
	_, err = e.Profile()
	assert.Equal(t, device.ProfilingInfoNotAvailable, device.StatusOf(err))
}

func TestDriverRegistered(t *testing.T) {
	assert.Contains(t, device.Backends(), Backend)
	dev, err := device.Open(device.Descriptor{Backend: Backend})
	require.NoError(t, err)
	assert.Equal(t, device.TypeCPU, dev.Type())
	_, err = device.Open(device.Descriptor{Backend: Backend, Index: 3})
	assert.Equal(t, device.DeviceNotFound, device.StatusOf(err))
	_, err = device.Open(device.Descriptor{Backend: "missing"})
	assert.Equal(t, device.DeviceNotFound, device.StatusOf(err))
}
