package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/notargets/devsync/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "hostsim", cfg.Device.Backend)
	assert.False(t, cfg.Profiling.Enabled)
	assert.Equal(t, ".", cfg.Profiling.Dir)
	assert.Equal(t, device.Descriptor{Backend: "hostsim"}, cfg.Descriptor())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device:
  backend: opencl
  platform: 1
  index: 2
profiling:
  csv: true
  dir: /tmp/traces
track_resources: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, device.Descriptor{Backend: "opencl", Platform: 1, Index: 2}, cfg.Descriptor())
	assert.True(t, cfg.TrackResources)

	opts := RunnerOptions(cfg)
	assert.True(t, opts.Profiling, "csv implies profiling")
	assert.True(t, opts.Trace)
	assert.Equal(t, "/tmp/traces", opts.TraceDir)
	assert.True(t, opts.TrackResources)

	t.Setenv("DEVSYNC_DEVICE_BACKEND", "occa")
	t.Setenv("DEVSYNC_DEVICE_PROPS", "{mode: 'Serial'}")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "occa", cfg.Device.Backend, "environment wins over the file")
	assert.Equal(t, "{mode: 'Serial'}", cfg.Device.Props)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "an explicit file must exist")

	bad := filepath.Join(t.TempDir(), "devsync.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("device: [unclosed"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"Defaults", func(*Config) {}, true},
		{"NoBackend", func(c *Config) { c.Device.Backend = "" }, false},
		{"NegativeIndex", func(c *Config) { c.Device.Index = -1 }, false},
		{"CSVWithoutDir", func(c *Config) { c.Profiling.CSV, c.Profiling.Dir = true, "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
