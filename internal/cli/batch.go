package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vmware2scw/vmware2scw/internal/batch"
	"github.com/vmware2scw/vmware2scw/internal/catalog"
	"github.com/vmware2scw/vmware2scw/internal/estimation"
	"github.com/vmware2scw/vmware2scw/internal/events"
	"github.com/vmware2scw/vmware2scw/internal/objstore"
	"github.com/vmware2scw/vmware2scw/internal/pipeline"
	"github.com/vmware2scw/vmware2scw/internal/plan"
	"github.com/vmware2scw/vmware2scw/internal/report"
	"github.com/vmware2scw/vmware2scw/internal/scaleway"
	"github.com/vmware2scw/vmware2scw/internal/sizing"
	"github.com/vmware2scw/vmware2scw/internal/state"
)

func NewCmdBatch() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Plan-driven batch migrations",
	}
	cmd.AddCommand(NewCmdBatchEstimate())
	cmd.AddCommand(NewCmdBatchRun())
	cmd.AddCommand(NewCmdBatchResume())
	cmd.AddCommand(NewCmdBatchStatus())
	cmd.AddCommand(NewCmdBatchReport())
	return cmd
}

// BatchOptions is shared by the batch subcommands that take a plan file.
type BatchOptions struct {
	GlobalOptions
	PlanPath         string
	BatchID          string
	DryRun           bool
	Interactive      bool
	ReconcileCatalog bool
	AvailableDiskGB  float64
}

func (o *BatchOptions) BindBatch(cmd *cobra.Command) {
	o.Bind(cmd.Flags())
	cmd.Flags().StringVarP(&o.PlanPath, "plan", "p", "", "Path to the plan YAML file")
	_ = cmd.MarkFlagRequired("plan")
}

// loadPlan parses and validates the plan file.
func (o *BatchOptions) loadPlan() (*plan.Plan, error) {
	p, err := plan.ParseFile(o.PlanPath)
	if err != nil {
		return nil, Exitf(ExitValidation, "%v", err)
	}
	if err := plan.Validate(p); err != nil {
		return nil, Exitf(ExitValidation, "%v", err)
	}
	return p, nil
}

// expandPlan freezes the plan against live inventory.
func (o *BatchOptions) expandPlan(ctx context.Context, p *plan.Plan, cat *catalog.Catalog) (*plan.ResolvedPlan, error) {
	client, err := o.VSphereClient(ctx)
	if err != nil {
		return nil, err
	}
	vms, err := client.ListVMs(ctx, "")
	if err != nil {
		return nil, Exitf(ExitInfraError, "listing VMs: %v", err)
	}
	rp, err := plan.Expand(p, vms, cat, sizing.NewMapper(cat))
	if err != nil {
		return nil, Exitf(ExitValidation, "%v", err)
	}
	return rp, nil
}

// stack wires the full execution stack for a run.
type stack struct {
	store *state.Store
	orch  *batch.Orchestrator
	reg   *pipeline.Registry
	bus   *events.Bus
}

func (o *BatchOptions) buildStack(ctx context.Context, p *plan.Plan) (*stack, error) {
	cfg := o.Config()

	vs, err := o.VSphereClient(ctx)
	if err != nil {
		return nil, err
	}
	storage, err := objstore.NewMinioStorage(cfg.Scaleway)
	if err != nil {
		return nil, Exitf(ExitInfraError, "creating object storage client: %v", err)
	}
	cloud := scaleway.NewClient(cfg.Scaleway)

	handlers := pipeline.NewHandlers(vs, storage, cloud, nil)
	handlers.PostActions = p.PostMigration
	registry := pipeline.NewRegistry(handlers)

	store := state.NewStore(cfg.BatchStateDir(), state.WithPerVMFiles())
	bus := events.NewBus()
	bus.Subscribe(report.NewDashboard().Handle)

	sems := batch.NewSemaphoreSet(p.Concurrency)
	executor := pipeline.NewExecutor(store, registry, sems, cfg, bus)

	var opts []batch.OrchestratorOption
	if o.Interactive {
		opts = append(opts, batch.WithConfirm(promptConfirm))
	}
	orch := batch.NewOrchestrator(store, executor, sems, bus, opts...)

	return &stack{store: store, orch: orch, reg: registry, bus: bus}, nil
}

// promptConfirm asks the operator to continue into the next wave.
func promptConfirm(wave string) bool {
	fmt.Printf("wave %s finished. continue with the next wave? [y/N] ", wave)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// exitForBatch maps a finished batch to the process exit code.
func exitForBatch(b *state.BatchState) error {
	if len(b.Failed()) > 0 {
		return Exitf(ExitPartialFailure, "batch %s finished with %d failed VM(s)", b.BatchID, len(b.Failed()))
	}
	return nil
}

// --- batch estimate ---

func NewCmdBatchEstimate() *cobra.Command {
	o := &BatchOptions{GlobalOptions: DefaultGlobalOptions()}
	cmd := &cobra.Command{
		Use:          "estimate [flags]",
		Short:        "Project cost, duration and work space for a plan",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			return o.runEstimate(cmd)
		},
	}
	o.BindBatch(cmd)
	cmd.Flags().BoolVar(&o.ReconcileCatalog, "reconcile-catalog", false, "Refresh catalogue prices from the provider API first")
	cmd.Flags().Float64Var(&o.AvailableDiskGB, "available-disk", 0, "Available work space in GiB (overrides config)")
	return cmd
}

func (o *BatchOptions) runEstimate(cmd *cobra.Command) error {
	ctx := cmd.Context()

	p, err := o.loadPlan()
	if err != nil {
		return err
	}

	cat := catalog.Default()
	if o.ReconcileCatalog {
		cloud := scaleway.NewClient(o.Config().Scaleway)
		fresh, err := cloud.ListInstanceTypes(ctx, o.Config().Scaleway.DefaultZone)
		if err != nil {
			zap.S().Warnf("catalogue reconcile failed, using static table: %v", err)
		} else {
			cat = cat.Reconcile(fresh)
		}
	}

	rp, err := o.expandPlan(ctx, p, cat)
	if err != nil {
		return err
	}

	if o.AvailableDiskGB > 0 {
		o.Config().Conversion.AvailableDiskGB = o.AvailableDiskGB
	}
	est := estimation.NewEstimator().Run(rp, cat, o.Config())

	fmt.Printf("VMs:               %d (%d linux, %d windows)\n", est.TotalVMs, est.LinuxVMs, est.WindowsVMs)
	fmt.Printf("Total disk:        %.0f GiB\n", est.TotalDiskGiB)
	fmt.Printf("Work space needed: %.0f GiB\n", est.WorkSpaceGiB)
	fmt.Printf("Estimated time:    %s\n", est.Duration.Round(time.Minute))
	for _, phase := range []string{"export", "convert", "upload", "overhead"} {
		if d, ok := est.Breakdown[phase]; ok {
			fmt.Printf("  %-9s %s\n", phase+":", d.Round(time.Minute))
		}
	}
	fmt.Printf("Monthly cost:      %.2f EUR\n", est.MonthlyCostEUR)
	for _, w := range est.Warnings {
		fmt.Printf("WARNING: %s\n", w)
	}
	return nil
}

// --- batch run ---

func NewCmdBatchRun() *cobra.Command {
	o := &BatchOptions{GlobalOptions: DefaultGlobalOptions()}
	cmd := &cobra.Command{
		Use:          "run [flags]",
		Short:        "Execute a migration plan",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			return o.runBatch(cmd)
		},
	}
	o.BindBatch(cmd)
	cmd.Flags().BoolVar(&o.DryRun, "dry-run", false, "Simulate the batch without side effects")
	cmd.Flags().BoolVarP(&o.Interactive, "interactive", "i", false, "Prompt to continue after paused waves instead of stopping")
	return cmd
}

func (o *BatchOptions) runBatch(cmd *cobra.Command) error {
	p, err := o.loadPlan()
	if err != nil {
		return err
	}
	return o.runPlan(cmd, p)
}

// runPlan executes an already-validated plan; `migrate` funnels its
// implicit single-VM plan through here too.
func (o *BatchOptions) runPlan(cmd *cobra.Command, p *plan.Plan) error {
	ctx := cmd.Context()

	if err := plan.Validate(p); err != nil {
		return Exitf(ExitValidation, "%v", err)
	}
	cat := catalog.Default()
	rp, err := o.expandPlan(ctx, p, cat)
	if err != nil {
		return err
	}

	if o.DryRun {
		bus := events.NewBus()
		bus.Subscribe(report.NewDashboard().Handle)
		registry := pipeline.NewRegistry(pipeline.NewHandlers(nil, nil, nil, nil))
		b, err := batch.DryRun(rp, registry, bus)
		if err != nil {
			return Exitf(ExitInfraError, "%v", err)
		}
		fmt.Print(report.Generate(b))
		return nil
	}

	st, err := o.buildStack(ctx, p)
	if err != nil {
		return err
	}

	b, err := st.orch.Start(rp)
	if err != nil {
		return Exitf(ExitInfraError, "creating batch state: %v", err)
	}
	zap.S().Infof("batch %s created (%d VMs)", b.BatchID, len(b.VMStates))

	b, err = st.orch.Run(ctx, b, rp)
	if err != nil {
		if ctx.Err() != nil {
			return Exitf(ExitCancelled, "batch %s cancelled; resume with `vmware2scw batch resume --batch-id %s`", b.BatchID, b.BatchID)
		}
		return Exitf(ExitInfraError, "%v", err)
	}
	return exitForBatch(b)
}

// --- batch resume ---

func NewCmdBatchResume() *cobra.Command {
	o := &BatchOptions{GlobalOptions: DefaultGlobalOptions()}
	cmd := &cobra.Command{
		Use:          "resume [flags]",
		Short:        "Resume a paused or partially failed batch",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			return o.runResume(cmd)
		},
	}
	o.BindBatch(cmd)
	cmd.Flags().StringVar(&o.BatchID, "batch-id", "", "Batch to resume (default: latest)")
	cmd.Flags().BoolVarP(&o.Interactive, "interactive", "i", false, "Prompt to continue after paused waves instead of stopping")
	return cmd
}

func (o *BatchOptions) runResume(cmd *cobra.Command) error {
	ctx := cmd.Context()

	p, err := o.loadPlan()
	if err != nil {
		return err
	}
	rp, err := o.expandPlan(ctx, p, catalog.Default())
	if err != nil {
		return err
	}

	st, err := o.buildStack(ctx, p)
	if err != nil {
		return err
	}

	batchID := o.BatchID
	if batchID == "" {
		batchID, err = st.store.LatestBatch()
		if err != nil || batchID == "" {
			return Exitf(ExitValidation, "no batch to resume")
		}
	}

	b, err := st.orch.Resume(batchID, rp)
	if err != nil {
		var verr *plan.ValidationError
		if errors.As(err, &verr) {
			return Exitf(ExitValidation, "%v", err)
		}
		return Exitf(ExitInfraError, "loading batch %s: %v", batchID, err)
	}
	zap.S().Infof("resuming batch %s", batchID)

	b, err = st.orch.Run(ctx, b, rp)
	if err != nil {
		if ctx.Err() != nil {
			return Exitf(ExitCancelled, "batch %s cancelled", batchID)
		}
		return Exitf(ExitInfraError, "%v", err)
	}
	return exitForBatch(b)
}

// --- batch status ---

func NewCmdBatchStatus() *cobra.Command {
	o := &BatchOptions{GlobalOptions: DefaultGlobalOptions()}
	cmd := &cobra.Command{
		Use:          "status [flags]",
		Short:        "Show the state of a batch",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			return o.runStatus()
		},
	}
	o.Bind(cmd.Flags())
	cmd.Flags().StringVar(&o.BatchID, "batch-id", "", "Batch to inspect (default: latest)")
	return cmd
}

func (o *BatchOptions) runStatus() error {
	store := state.NewStore(o.Config().BatchStateDir())

	batchID := o.BatchID
	if batchID == "" {
		latest, err := store.LatestBatch()
		if err != nil || latest == "" {
			return Exitf(ExitValidation, "no batches found under %s", o.Config().BatchStateDir())
		}
		batchID = latest
	}

	b, err := store.Load(batchID)
	if err != nil {
		return Exitf(ExitValidation, "loading batch %s: %v", batchID, err)
	}

	digest := b.PlanDigest
	if len(digest) > 12 {
		digest = digest[:12]
	}
	fmt.Printf("batch %s (created %s, plan %s)\n\n", b.BatchID, b.CreatedAt.Format("2006-01-02 15:04"), digest)
	for _, w := range b.WaveStatus {
		fmt.Printf("wave %-12s %s\n", w.Name, w.Status)
	}
	fmt.Println()
	for _, vm := range sortedVMs(b) {
		line := fmt.Sprintf("%-20s %-10s", vm.VMName, vm.Status)
		if vm.Status == state.StatusRunning && vm.CurrentStage != "" {
			line += " @ " + vm.CurrentStage
		}
		if vm.LastError != nil && vm.Status == state.StatusFailed {
			line += fmt.Sprintf(" (%s: %s)", vm.LastError.Stage, vm.LastError.Message)
		}
		fmt.Println(line)
	}
	return nil
}

// --- batch report ---

func NewCmdBatchReport() *cobra.Command {
	o := &BatchOptions{GlobalOptions: DefaultGlobalOptions()}
	var output string
	cmd := &cobra.Command{
		Use:          "report [flags]",
		Short:        "Generate the post-migration Markdown report",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			return o.runReport(output)
		},
	}
	o.Bind(cmd.Flags())
	cmd.Flags().StringVar(&o.BatchID, "batch-id", "", "Batch to report on (default: latest)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to this file (default stdout)")
	return cmd
}

func (o *BatchOptions) runReport(output string) error {
	store := state.NewStore(o.Config().BatchStateDir())

	batchID := o.BatchID
	if batchID == "" {
		latest, err := store.LatestBatch()
		if err != nil || latest == "" {
			return Exitf(ExitValidation, "no batches found")
		}
		batchID = latest
	}

	b, err := store.Load(batchID)
	if err != nil {
		return Exitf(ExitValidation, "loading batch %s: %v", batchID, err)
	}

	if output == "" {
		fmt.Print(report.Generate(b))
		return nil
	}
	if err := report.Write(b, output); err != nil {
		return Exitf(ExitInfraError, "%v", err)
	}
	fmt.Printf("report written to %s\n", filepath.Clean(output))
	return nil
}

func sortedVMs(b *state.BatchState) []*state.MigrationState {
	out := make([]*state.MigrationState, 0, len(b.VMStates))
	for _, vm := range b.VMStates {
		out = append(out, vm)
	}
	sortVMs(out)
	return out
}
