package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vmware2scw/vmware2scw/internal/inventory"
)

type InventoryOptions struct {
	GlobalOptions
	Filters []string
	Explain bool
}

func DefaultInventoryOptions() *InventoryOptions {
	return &InventoryOptions{GlobalOptions: DefaultGlobalOptions()}
}

func NewCmdInventory() *cobra.Command {
	o := DefaultInventoryOptions()
	cmd := &cobra.Command{
		Use:   "inventory [flags]",
		Short: "List vCenter VMs matching the given filters",
		Example: `  vmware2scw inventory --filter "name:web-*" --filter os:linux
  vmware2scw inventory --filter min-cpu:4 --filter "folder:/prod"`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			return o.Run(cmd)
		},
	}
	o.Bind(cmd.Flags())
	cmd.Flags().StringArrayVarP(&o.Filters, "filter", "f", nil, "Filter expression (repeatable), e.g. name:web-*, os:linux, min-cpu:2")
	cmd.Flags().BoolVar(&o.Explain, "explain", false, "Also print VMs that were filtered out and the first failing predicate")
	return cmd
}

func (o *InventoryOptions) Run(cmd *cobra.Command) error {
	ctx := cmd.Context()

	client, err := o.VSphereClient(ctx)
	if err != nil {
		return err
	}
	_, res, err := o.CollectInventory(ctx, client, o.Filters)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tOS\tCPU\tRAM\tDISK\tFIRMWARE\tSTATE\tHOST")
	for _, vm := range res.Accepted {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.0fG\t%.0fG\t%s\t%s\t%s\n",
			vm.Name, vm.GuestOSFamily, vm.CPUCount, vm.MemoryGiB(),
			vm.TotalDiskGiB(), vm.Firmware, vm.PowerState, vm.Host)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d VMs matched, %d filtered out\n", len(res.Accepted), len(res.Rejected))
	if o.Explain && len(res.Rejected) > 0 {
		fmt.Print(describeRejections(res.Rejected))
	}
	return nil
}

// describeRejections renders why VMs were filtered, for --explain output.
func describeRejections(rejected []inventory.Rejection) string {
	out := ""
	for _, r := range rejected {
		out += fmt.Sprintf("%s: failed %s\n", r.VM.Name, r.Predicate)
	}
	return out
}
