package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/janpfeifer/must"
	"github.com/notargets/devsync/config"
	"github.com/notargets/devsync/device"
	"github.com/notargets/devsync/profile"
	"github.com/notargets/devsync/runner"
	"github.com/notargets/devsync/runner/builder"
	"github.com/notargets/devsync/utils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	runKernel  string
	runN       int
	runPasses  int
	runRepeat  int
	runProfile bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a sample kernel on the configured device",
	Long: `Bind host arrays to one of the sample kernels (copy, square, reduce),
run it and check the result on the host.

With --profile every write, pass and read is timed on the device and a
summary over all repeats is printed.`,
	Example: `  devsync run --kernel square --n 4096 --passes 3 --profile
  DEVSYNC_DEVICE_BACKEND=opencl devsync run --kernel reduce`,
	RunE: runSample,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runKernel, "kernel", "copy", "sample kernel: copy, square or reduce")
	f.IntVar(&runN, "n", 1024, "number of elements")
	f.IntVar(&runPasses, "passes", 1, "kernel passes per run")
	f.IntVar(&runRepeat, "repeat", 1, "number of runs")
	f.BoolVar(&runProfile, "profile", false, "profile every command and print a summary")
	rootCmd.AddCommand(runCmd)
}

func runSample(cmd *cobra.Command, args []string) (err error) {
	c, err := currentConfig()
	if err != nil {
		return err
	}
	if runN < 1 || runPasses < 1 || runRepeat < 1 {
		return errors.Errorf("--n, --passes and --repeat must be positive")
	}
	d, err := newDemo(runKernel, runN)
	if err != nil {
		return err
	}

	dev, err := utils.OpenDevice(c.Descriptor())
	if err != nil {
		return err
	}
	defer func() {
		if rerr := dev.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	opts := config.RunnerOptions(c)
	opts.Profiling = opts.Profiling || runProfile
	r, err := runner.NewRunner(dev, opts)
	if err != nil {
		return err
	}
	defer func() {
		if derr := r.Dispose(); derr != nil && err == nil {
			err = derr
		}
	}()

	inv, err := r.NewInvocation(d.entry, nil)
	if err != nil {
		return err
	}
	// the parameter lists are fixed, a bind failure is a bug
	must.M(inv.Bind(d.params...))

	dialect := builder.OpenCL
	if c.Device.Backend == "occa" {
		dialect = builder.OKL
	}
	src, err := d.source(inv.Signature(dialect), dialect)
	if err != nil {
		return err
	}
	klog.V(1).Infof("kernel source:\n%s", src)
	if err := inv.Build(src, d.entry); err != nil {
		return err
	}

	rng := device.NewRange(runN)
	if d.local > 0 {
		rng = rng.WithLocal(d.local)
	}
	out := cmd.OutOrStdout()
	for i := 0; i < runRepeat; i++ {
		if err := inv.Run(rng, runPasses, false); err != nil {
			return errors.Wrapf(err, "run %d (status %s)", i, device.StatusOf(err))
		}
	}
	// square compounds over repeats
	passes := runPasses
	if d.entry == "square_f32" {
		passes *= runRepeat
	}
	if bad := d.check(passes); bad > 0 {
		return errors.Errorf("%s on %s: %d mismatches", d.entry, dev.Name(), bad)
	}
	fmt.Fprintf(out, "%s on %s: %d elements, %d passes, %d runs: ok\n",
		d.entry, dev.Name(), runN, runPasses, runRepeat)

	res := r.Resources()
	fmt.Fprintf(out, "buffers %d, allocations %d, events %d\n", res.Buffers, res.Allocations, res.Events)

	if opts.Profiling {
		printSummary(out, profile.Summarize(inv.ProfileHistory()))
	}
	return nil
}

func printSummary(w io.Writer, sums []profile.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "COMMAND\tCOUNT\tMEAN us\tSTDDEV us\tMIN us\tMAX us\t")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t\n", s.Label, s.Count, s.Mean, s.StdDev, s.Min, s.Max)
	}
	if err := tw.Flush(); err != nil {
		klog.Warningf("profile summary: %v", err)
	}
}
