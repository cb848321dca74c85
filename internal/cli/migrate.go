package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vmware2scw/vmware2scw/internal/catalog"
	"github.com/vmware2scw/vmware2scw/internal/plan"
	"github.com/vmware2scw/vmware2scw/internal/sizing"
)

// MigrateOptions runs a single VM through the batch machinery with an
// implicit one-entry plan.
type MigrateOptions struct {
	GlobalOptions
	VMName         string
	TargetType     string
	Zone           string
	SizingStrategy string
	DryRun         bool
}

func DefaultMigrateOptions() *MigrateOptions {
	return &MigrateOptions{
		GlobalOptions:  DefaultGlobalOptions(),
		SizingStrategy: string(sizing.StrategyOptimize),
	}
}

func NewCmdMigrate() *cobra.Command {
	o := DefaultMigrateOptions()
	cmd := &cobra.Command{
		Use:   "migrate VM_NAME [flags]",
		Short: "Migrate a single VM",
		Example: `  vmware2scw migrate web-01
  vmware2scw migrate web-01 --target-type PRO2-S --zone fr-par-2`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			o.VMName = args[0]
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd)
		},
	}
	o.Bind(cmd.Flags())
	cmd.Flags().StringVar(&o.TargetType, "target-type", "", "Target instance type (default: auto-sized)")
	cmd.Flags().StringVar(&o.Zone, "zone", "", "Target zone (default from config)")
	cmd.Flags().StringVar(&o.SizingStrategy, "sizing-strategy", o.SizingStrategy, "Sizing strategy when auto-sizing")
	cmd.Flags().BoolVar(&o.DryRun, "dry-run", false, "Simulate without side effects")
	return cmd
}

func (o *MigrateOptions) Validate(args []string) error {
	if o.TargetType != "" && !catalog.Default().Has(o.TargetType) {
		return Exitf(ExitValidation, "unknown instance type %q", o.TargetType)
	}
	if !sizing.Strategy(o.SizingStrategy).Valid() {
		return Exitf(ExitUsage, "unknown sizing strategy %q", o.SizingStrategy)
	}
	return nil
}

func (o *MigrateOptions) Run(cmd *cobra.Command) error {
	p := &plan.Plan{
		Version: plan.CurrentVersion,
		Defaults: plan.Defaults{
			Zone:           o.Zone,
			SizingStrategy: sizing.Strategy(o.SizingStrategy),
		},
		Migrations: []plan.MigrationEntry{{
			Selector:   plan.Selector{VMName: o.VMName},
			TargetType: o.TargetType,
		}},
	}
	if p.Defaults.Zone == "" {
		p.Defaults.Zone = o.Config().Scaleway.DefaultZone
	}

	zap.S().Infof("migrating single VM %s", o.VMName)
	b := &BatchOptions{GlobalOptions: o.GlobalOptions, DryRun: o.DryRun}
	return b.runPlan(cmd, p)
}
