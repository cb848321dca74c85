package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vmware2scw/vmware2scw/internal/catalog"
	"github.com/vmware2scw/vmware2scw/internal/inventory"
	"github.com/vmware2scw/vmware2scw/internal/plan"
	"github.com/vmware2scw/vmware2scw/internal/sizing"
)

type InventoryPlanOptions struct {
	GlobalOptions
	Filters        []string
	Output         string
	Zone           string
	SizingStrategy string
	Tags           []string
}

func DefaultInventoryPlanOptions() *InventoryPlanOptions {
	return &InventoryPlanOptions{
		GlobalOptions:  DefaultGlobalOptions(),
		SizingStrategy: string(sizing.StrategyOptimize),
	}
}

func NewCmdInventoryPlan() *cobra.Command {
	o := DefaultInventoryPlanOptions()
	cmd := &cobra.Command{
		Use:   "inventory-plan [flags]",
		Short: "Generate a migration plan from filtered inventory",
		Example: `  vmware2scw inventory-plan --filter "name:web-*" --output plan.yaml
  vmware2scw inventory-plan --filter os:linux --sizing-strategy cost -o plan.yaml`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd)
		},
	}
	o.Bind(cmd.Flags())
	cmd.Flags().StringArrayVarP(&o.Filters, "filter", "f", nil, "Filter expression (repeatable)")
	cmd.Flags().StringVarP(&o.Output, "output", "o", "", "Write the plan YAML to this file (default stdout)")
	cmd.Flags().StringVar(&o.Zone, "zone", "", "Target zone (default from config)")
	cmd.Flags().StringVar(&o.SizingStrategy, "sizing-strategy", o.SizingStrategy, "Sizing strategy: exact, optimize, or cost")
	cmd.Flags().StringArrayVar(&o.Tags, "tag", nil, "Tag to apply to all created instances (repeatable)")
	return cmd
}

func (o *InventoryPlanOptions) Validate(args []string) error {
	if !sizing.Strategy(o.SizingStrategy).Valid() {
		return Exitf(ExitUsage, "unknown sizing strategy %q", o.SizingStrategy)
	}
	return nil
}

func (o *InventoryPlanOptions) Run(cmd *cobra.Command) error {
	ctx := cmd.Context()

	client, err := o.VSphereClient(ctx)
	if err != nil {
		return err
	}
	_, res, err := o.CollectInventory(ctx, client, o.Filters)
	if err != nil {
		return err
	}
	if len(res.Accepted) == 0 {
		return Exitf(ExitValidation, "no VMs matched the filters")
	}

	zone := o.Zone
	if zone == "" {
		zone = o.Config().Scaleway.DefaultZone
	}
	strategy := sizing.Strategy(o.SizingStrategy)
	mapper := sizing.NewMapper(catalog.Default())

	p := &plan.Plan{
		Version: plan.CurrentVersion,
		Metadata: map[string]interface{}{
			"generated_at": time.Now().UTC().Format(time.RFC3339),
			"vcenter":      o.Config().VMware.VCenter,
			"total_vms":    len(res.Accepted),
		},
		Defaults: plan.Defaults{
			Zone:           zone,
			SizingStrategy: strategy,
			Tags:           o.Tags,
		},
	}

	for _, vm := range res.Accepted {
		entry := plan.MigrationEntry{
			Selector: plan.Selector{VMName: vm.Name},
			Priority: plan.DefaultPriority,
		}
		mapped := mapper.Map(&vm, strategy)
		if mapped.Unmappable {
			entry.Notes = "UNMAPPABLE: no viable instance type"
		} else {
			entry.TargetType = mapped.Chosen
			entry.Notes = planNotes(&vm)
		}
		p.Migrations = append(p.Migrations, entry)
	}

	data, err := plan.Marshal(p)
	if err != nil {
		return Exitf(ExitInfraError, "serialising plan: %v", err)
	}

	if o.Output == "" {
		fmt.Print(string(data))
		return nil
	}
	if err := os.WriteFile(o.Output, data, 0o644); err != nil {
		return Exitf(ExitInfraError, "writing plan: %v", err)
	}
	fmt.Printf("plan with %d migrations written to %s\n", len(p.Migrations), o.Output)
	return nil
}

func planNotes(vm *inventory.VMDescriptor) string {
	notes := fmt.Sprintf("%dvCPU/%.0fG/%.0fG %s", vm.CPUCount, vm.MemoryGiB(), vm.TotalDiskGiB(), vm.GuestOSFull)
	if vm.Firmware == inventory.FirmwareBIOS {
		notes += " | BIOS to UEFI conversion needed"
	}
	if vm.GuestOSFamily == inventory.OSFamilyWindows {
		notes += " | VirtIO driver injection required"
	}
	return notes
}
