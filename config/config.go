// Package config loads devsync settings from defaults, an optional YAML file
// and DEVSYNC_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/notargets/devsync/device"
	"github.com/notargets/devsync/runner"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g.
// DEVSYNC_DEVICE_BACKEND=opencl
const EnvPrefix = "DEVSYNC"

// Config is the complete devsync configuration
type Config struct {
	Device         DeviceConfig    `mapstructure:"device"`
	Profiling      ProfilingConfig `mapstructure:"profiling"`
	Verbose        bool            `mapstructure:"verbose"`
	TrackResources bool            `mapstructure:"track_resources"`
}

type DeviceConfig struct {
	Backend  string `mapstructure:"backend"`
	Platform int    `mapstructure:"platform"`
	Index    int    `mapstructure:"index"`
	// Props is handed to backends that take a property string (OCCA)
	Props string `mapstructure:"props"`
}

type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// CSV writes one trace line per run into Dir
	CSV bool   `mapstructure:"csv"`
	Dir string `mapstructure:"dir"`
}

// DefaultConfig returns the configuration used when nothing overrides it
func DefaultConfig() *Config {
	return &Config{
		Device:    DeviceConfig{Backend: "hostsim"},
		Profiling: ProfilingConfig{Dir: "."},
	}
}

// Load reads cfgFile, or devsync.yaml from . and $HOME/.devsync when cfgFile
// is empty, then applies environment overrides. A missing default file is
// not an error.
func Load(cfgFile string) (*Config, error) {
	return LoadWith(viper.New(), cfgFile)
}

// LoadWith is Load on a caller-owned viper instance, so that command flags
// bound to v take part.
func LoadWith(v *viper.Viper, cfgFile string) (*Config, error) {
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".devsync"))
		}
		v.SetConfigType("yaml")
		v.SetConfigName("devsync")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "reading config")
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}
	cfg.Profiling.Dir = expandPath(cfg.Profiling.Dir)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

// Validate checks the values Load cannot type-check
func (c *Config) Validate() error {
	if c.Device.Backend == "" {
		return errors.New("device.backend must be set")
	}
	if c.Device.Platform < 0 || c.Device.Index < 0 {
		return errors.Errorf("device.platform and device.index must be >= 0, got %d/%d",
			c.Device.Platform, c.Device.Index)
	}
	if c.Profiling.CSV && c.Profiling.Dir == "" {
		return errors.New("profiling.dir must be set when profiling.csv is on")
	}
	return nil
}

// Descriptor selects the configured device
func (c *Config) Descriptor() device.Descriptor {
	return device.Descriptor{
		Backend:  c.Device.Backend,
		Platform: c.Device.Platform,
		Index:    c.Device.Index,
		Props:    c.Device.Props,
	}
}

// RunnerOptions derives the runner options. A CSV trace implies profiling.
func RunnerOptions(c *Config) runner.Options {
	return runner.Options{
		Profiling:      c.Profiling.Enabled || c.Profiling.CSV,
		Trace:          c.Profiling.CSV,
		TraceDir:       c.Profiling.Dir,
		TrackResources: c.TrackResources,
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("device.backend", cfg.Device.Backend)
	v.SetDefault("device.platform", cfg.Device.Platform)
	v.SetDefault("device.index", cfg.Device.Index)
	v.SetDefault("device.props", cfg.Device.Props)

	v.SetDefault("profiling.enabled", cfg.Profiling.Enabled)
	v.SetDefault("profiling.csv", cfg.Profiling.CSV)
	v.SetDefault("profiling.dir", cfg.Profiling.Dir)

	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("track_resources", cfg.TrackResources)
}
