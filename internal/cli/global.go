package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/vmware2scw/vmware2scw/internal/config"
	"github.com/vmware2scw/vmware2scw/internal/inventory"
	"github.com/vmware2scw/vmware2scw/internal/vsphere"
)

// Exit codes of the CLI surface.
const (
	ExitOK             = 0
	ExitUsage          = 1
	ExitValidation     = 2
	ExitPartialFailure = 3
	ExitInfraError     = 4
	ExitCancelled      = 130
)

// ExitError carries a process exit code through cobra's error path.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// Exitf builds an ExitError with a formatted message.
func Exitf(code int, format string, args ...interface{}) *ExitError {
	return &ExitError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// GlobalOptions are shared by every command.
type GlobalOptions struct {
	ConfigPath string

	cfg *config.Config
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigPath, "config", "c", o.ConfigPath, "Path to the YAML config file")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return Exitf(ExitValidation, "loading config: %v", err)
	}
	o.cfg = cfg
	return nil
}

func (o *GlobalOptions) Config() *config.Config {
	return o.cfg
}

// VSphereClient opens a vCenter session from config.
func (o *GlobalOptions) VSphereClient(ctx context.Context) (vsphere.Client, error) {
	if o.cfg.VMware.VCenter == "" {
		return nil, Exitf(ExitValidation, "vmware.vcenter is not configured")
	}
	client, err := vsphere.Connect(ctx, o.cfg.VMware)
	if err != nil {
		return nil, Exitf(ExitInfraError, "connecting to vCenter: %v", err)
	}
	return client, nil
}

// CollectInventory lists VMs and applies the given filter strings.
func (o *GlobalOptions) CollectInventory(ctx context.Context, client vsphere.Client, filters []string) ([]inventory.VMDescriptor, inventory.FilterResult, error) {
	preds, err := inventory.ParsePredicates(filters)
	if err != nil {
		return nil, inventory.FilterResult{}, Exitf(ExitUsage, "parsing filters: %v", err)
	}

	zap.S().Named("inventory").Infof("collecting inventory from %s", o.cfg.VMware.VCenter)
	vms, err := client.ListVMs(ctx, "")
	if err != nil {
		return nil, inventory.FilterResult{}, Exitf(ExitInfraError, "listing VMs: %v", err)
	}

	res := inventory.Filter(vms, preds)
	for _, rej := range res.Rejected {
		zap.S().Named("inventory").Debugf("filtered out %s (failed %s)", rej.VM.Name, rej.Predicate)
	}
	return vms, res, nil
}
