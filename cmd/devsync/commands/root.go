// Package commands holds the devsync command tree
package commands

import (
	"flag"

	"github.com/notargets/devsync/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

var (
	cfgFile string
	v       = viper.New()
	cfg     *config.Config
	klogFS  = flag.NewFlagSet("klog", flag.ContinueOnError)
)

var rootCmd = &cobra.Command{
	Use:   "devsync",
	Short: "Host/device buffer synchronization for compute kernels",
	Long: `devsync binds host arrays to compute kernels, keeps device buffers in
step with them across runs and profiles every transfer and launch.

The device comes from devsync.yaml, DEVSYNC_* variables or flags; the
in-process hostsim backend is the default.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	klog.InitFlags(klogFS)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFS)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./devsync.yaml or $HOME/.devsync/devsync.yaml)")
	pf.String("backend", "", "device backend (hostsim, opencl, occa)")
	pf.Int("platform", 0, "platform index")
	pf.Int("device", 0, "device index within the platform")
	pf.Bool("verbose", false, "verbose device logging")
	pf.Bool("track-resources", false, "log every device allocation and event")

	bind := map[string]string{
		"device.backend":  "backend",
		"device.platform": "platform",
		"device.index":    "device",
		"verbose":         "verbose",
		"track_resources": "track-resources",
	}
	for key, name := range bind {
		if err := v.BindPFlag(key, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return err
	}
	if c.Verbose {
		if err := klogFS.Set("v", "2"); err != nil {
			klog.Warningf("raising verbosity: %v", err)
		}
	}
	cfg = c
	klog.V(1).Infof("config: %+v", *cfg)
	return nil
}

func currentConfig() (*config.Config, error) {
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
