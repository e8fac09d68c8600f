package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "devsync "+Version)
}

func TestDevices(t *testing.T) {
	out, err := execute(t, "devices")
	require.NoError(t, err)
	assert.Contains(t, out, "hostsim")
	assert.Contains(t, out, "BACKEND")
}

func TestRun(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"Copy", []string{"--kernel", "copy", "--n", "100"}, []string{"copy_f32 on hostsim: 100 elements"}},
		{"Square", []string{"--kernel", "square", "--n", "50", "--passes", "2", "--repeat", "2"},
			[]string{"square_f32", "2 passes, 2 runs: ok"}},
		{"ReduceProfiled", []string{"--kernel", "reduce", "--n", "300", "--profile"},
			[]string{"group_sum_f32", "ok", "exec[0]", "read out", "write in"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"run", "--repeat", "1", "--passes", "1", "--profile=false"}, tt.args...)...)
			require.NoError(t, err, out)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestRun_Errors(t *testing.T) {
	_, err := execute(t, "run", "--kernel", "fft")
	assert.Error(t, err)

	_, err = execute(t, "run", "--kernel", "copy", "--n", "0")
	assert.Error(t, err)

	_, err = execute(t, "--backend", "nosuch", "run", "--kernel", "copy", "--n", "8")
	assert.Error(t, err)
	_, err = execute(t, "--backend", "hostsim", "version")
	require.NoError(t, err)
}
