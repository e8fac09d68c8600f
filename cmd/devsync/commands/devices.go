package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/notargets/devsync/device"
	_ "github.com/notargets/devsync/device/hostsim"
	_ "github.com/notargets/devsync/device/occa"
	_ "github.com/notargets/devsync/device/opencl"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List backends and their devices",
	Long: `List every compiled-in backend and the devices it can open.

The opencl and occa backends are only present in binaries built with the
matching build tag.`,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backends: %s\n\n", strings.Join(device.Backends(), ", "))

	infos := device.Enumerate()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No devices found")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tPLATFORM\tINDEX\tTYPE\tNAME\tFP64")
	for _, info := range infos {
		fp64 := strings.Contains(info.Extensions, "cl_khr_fp64")
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%v\n", info.Backend, info.Platform, info.Index, info.Type, info.Name, fp64)
	}
	return tw.Flush()
}
