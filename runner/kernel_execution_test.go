package runner

import (
	"os"
	"strings"
	"testing"

	"github.com/notargets/devsync/device"
	"github.com/notargets/devsync/device/hostsim"
	"github.com/notargets/devsync/host"
	"github.com/notargets/devsync/runner/builder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexOf(log []hostsim.Command, match func(hostsim.Command) bool) int {
	for i, c := range log {
		if match(c) {
			return i
		}
	}
	return -1
}

func released(id int) func(hostsim.Command) bool {
	return func(c hostsim.Command) bool { return c.Op == hostsim.OpRelease && c.Event == id }
}

func TestExecution_EventOrdering(t *testing.T) {
	dev, r := newTestRunner(t, Options{})
	src := []float32{1, 2, 3}
	dst := make([]float32, 3)
	inv := newInvocation(t, r, "copy_f32", nil,
		builder.Input("src").Bind(src),
		builder.Output("dst").Bind(dst))
	dev.ResetLog()
	require.NoError(t, inv.Run(device.NewRange(3), 1, false))
	log := dev.Log()

	wi := indexOf(log, func(c hostsim.Command) bool { return c.Op == hostsim.OpWrite })
	ki := indexOf(log, func(c hostsim.Command) bool { return c.Op == hostsim.OpKernel })
	ri := indexOf(log, func(c hostsim.Command) bool { return c.Op == hostsim.OpRead })
	require.True(t, wi >= 0 && ki > wi && ri > ki, "write, kernel, read")
	w, k, rd := log[wi].Event, log[ki].Event, log[ri].Event
	assert.Equal(t, []int{w}, log[ki].Wait, "kernel waits on the write")
	assert.Equal(t, []int{k}, log[ri].Wait, "read waits on the kernel")

	relR, relK, relW := indexOf(log, released(rd)), indexOf(log, released(k)), indexOf(log, released(w))
	require.True(t, relR > ri && relK > relR && relW > relK, "release order read, exec, write: %v", log)
	assert.Equal(t, Completed, inv.State())
	assert.Zero(t, dev.Stats().LiveEvents)
	assert.Equal(t, src, dst)
}

func TestExecution_MultiPass(t *testing.T) {
	dev, r := newTestRunner(t, Options{Profiling: true})
	data := []float32{0, 10, 20}
	inv := newInvocation(t, r, "add_pass_f32", nil, builder.InOut("data").Bind(data))
	require.NoError(t, inv.Run(device.NewRange(3), 3, false))
	assert.Equal(t, []float32{3, 13, 23}, data)
	assert.NotZero(t, inv.BaseTime())

	log := dev.Log()
	var kernels []int
	for i, c := range log {
		if c.Op == hostsim.OpKernel {
			kernels = append(kernels, i)
			assert.Equal(t, 1, c.LiveKernelEvents, "one execution event alive per launch")
		}
	}
	require.Len(t, kernels, 3)
	first := log[kernels[0]].Event
	waited := indexOf(log, func(c hostsim.Command) bool {
		return c.Op == hostsim.OpWait && len(c.Wait) == 1 && c.Wait[0] == first
	})
	profiled := indexOf(log, func(c hostsim.Command) bool { return c.Op == hostsim.OpProfile && c.Event == first })
	rel := indexOf(log, released(first))
	assert.True(t, waited > kernels[0] && profiled > waited && rel > profiled && kernels[1] > rel,
		"pass 0 is waited, profiled and released before pass 1")
	assert.NotEmpty(t, log[kernels[0]].Wait, "pass 0 waits on the write")
	assert.Empty(t, log[kernels[1]].Wait)
	assert.Empty(t, log[kernels[2]].Wait)

	var labels []string
	for _, s := range inv.ProfileInfo() {
		labels = append(labels, s.Label())
	}
	assert.Equal(t, []string{"write data", "exec[0]", "exec[2]", "read data"}, labels)
	assert.Len(t, inv.ProfileHistory(), 1)
	assert.Zero(t, dev.Stats().LiveEvents)
}

func TestExecution_FailureInjection(t *testing.T) {
	for _, tc := range []struct {
		name   string
		op     hostsim.Op
		status device.Status
	}{
		{"Write", hostsim.OpWrite, device.OutOfResources},
		{"Launch", hostsim.OpKernel, device.InvalidKernelArgs},
		{"Read", hostsim.OpRead, device.MemObjectAllocationFailure},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev, r := newTestRunner(t, Options{})
			data := []float32{1, 2, 3}
			inv := newInvocation(t, r, "square_f32", nil, builder.InOut("data").Bind(data))
			pins := host.PinsAlive()

			dev.FailNext(tc.op, tc.status)
			err := inv.Run(device.NewRange(3), 1, false)
			require.Error(t, err)
			assert.Equal(t, tc.status, device.StatusOf(err))
			assert.Equal(t, Failed, inv.State())
			assert.True(t, inv.FirstRun(), "a failed run leaves the first-run state alone")
			assert.Equal(t, pins, host.PinsAlive(), "every pin released")
			assert.Zero(t, dev.Stats().LiveEvents, "every event released")
			assert.Equal(t, []float32{1, 2, 3}, data)

			require.NoError(t, inv.Run(device.NewRange(3), 1, false))
			assert.Equal(t, Completed, inv.State())
			assert.Equal(t, []float32{1, 4, 9}, data)
		})
	}
}

func TestExecution_KernelPanic(t *testing.T) {
	dev, r := newTestRunner(t, Options{})
	dev.Register("boom", func(it hostsim.Item, args hostsim.Args) {
		if it.GlobalID(0) == 1 {
			panic("out of bounds")
		}
	})
	inv := newInvocation(t, r, "boom", nil, builder.InOut("data").Bind([]float32{1, 2}))
	err := inv.Run(device.NewRange(2), 2, false)
	assert.Equal(t, device.ExecStatusError, device.StatusOf(err))
	assert.Equal(t, Failed, inv.State())
	assert.Zero(t, dev.Stats().LiveEvents)
	assert.Equal(t, 1, dev.Stats().Launches, "the second pass never launches")
}

func TestExecution_Trace(t *testing.T) {
	dir := t.TempDir()
	_, r := newTestRunner(t, Options{Trace: true, TraceDir: dir})
	src := []float32{1, 2}
	inv := newInvocation(t, r, "copy_f32", nil,
		builder.Input("src").Bind(src),
		builder.Output("dst").Bind(make([]float32, 2)))
	require.NoError(t, inv.Run(device.NewRange(2), 1, false))
	require.NoError(t, inv.Run(device.NewRange(2), 1, false))
	require.NotNil(t, inv.trace)
	path := inv.trace.Path
	require.True(t, strings.HasPrefix(path, dir))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "# PROFILE"))
	for _, l := range lines[1:] {
		assert.True(t, strings.HasPrefix(l, "1 write src,"), l)
		assert.Contains(t, l, "2 exec[0],")
		assert.Contains(t, l, "3 read dst,")
	}
	assert.Len(t, inv.ProfileHistory(), 2)
}
