package profile

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/notargets/devsync/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(phase Phase, name string, pass int, q uint64) Sample {
	return Sample{Phase: phase, Name: name, Pass: pass,
		Timestamps: device.Timestamps{Queued: q, Submit: q + 1000, Start: q + 2000, End: q + 5000}}
}

func TestTraceFormat(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTrace(&buf)
	run := []Sample{
		sample(Write, "a", 0, 10_000),
		sample(Exec, "", 0, 20_000),
		sample(Read, "b", 0, 30_000),
	}
	require.NoError(t, tr.WriteRun(run))
	require.NoError(t, tr.WriteRun(run[1:]))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, Header, lines[0])
	assert.Equal(t, "1 write a,0,1,2,5,2 exec[0],10,11,12,15,3 read b,20,21,22,25,", lines[1])
	assert.Equal(t, "1 exec[0],0,1,2,5,2 read b,10,11,12,15,", lines[2])
}

func TestOpenTrace(t *testing.T) {
	dir := t.TempDir()
	tr := OpenTrace(dir)
	require.NotEmpty(t, tr.Path)
	require.NoError(t, tr.WriteRun([]Sample{sample(Exec, "", 0, 0)}))
	require.NoError(t, tr.Close())
	data, err := os.ReadFile(tr.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), Header))
	assert.Contains(t, tr.Path, "devsyncprof.")

	fallback := OpenTrace(dir + "/missing/dir")
	assert.Empty(t, fallback.Path)
	assert.NoError(t, fallback.Close())
}

func TestTraceName(t *testing.T) {
	now := time.Date(2024, 1, 2, 13, 4, 5, 0, time.UTC)
	a, b := TraceName(now), TraceName(now)
	assert.True(t, strings.HasPrefix(a, "devsyncprof.130405."))
	assert.NotEqual(t, a, b)
}

func TestSummarize(t *testing.T) {
	history := [][]Sample{
		{sample(Exec, "", 0, 0), sample(Read, "b", 0, 0)},
		{sample(Exec, "", 0, 0)},
	}
	history[1][0].End += 2000
	sums := Summarize(history)
	require.Len(t, sums, 2)
	assert.Equal(t, "exec[0]", sums[0].Label)
	assert.Equal(t, 2, sums[0].Count)
	assert.InDelta(t, 4.0, sums[0].Mean, 1e-9)
	assert.Equal(t, 3.0, sums[0].Min)
	assert.Equal(t, 5.0, sums[0].Max)
	assert.Equal(t, "read b", sums[1].Label)
	assert.Equal(t, 1, sums[1].Count)
}
