package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vmware2scw/vmware2scw/internal/cli"
	"github.com/vmware2scw/vmware2scw/pkg/log"
)

func main() {
	lvl := log.Level(os.Getenv("VMWARE2SCW_LOG_LEVEL"))
	logger := log.InitLog(lvl)
	defer func() { _ = logger.Sync() }()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := NewVmware2ScwCommand()
	if err := command.ExecuteContext(ctx); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Msg != "" {
				fmt.Fprintln(os.Stderr, exitErr.Msg)
			}
			os.Exit(exitErr.Code)
		}
		if ctx.Err() != nil {
			os.Exit(cli.ExitCancelled)
		}
		os.Exit(cli.ExitUsage)
	}
}

func NewVmware2ScwCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vmware2scw [flags] [options]",
		Short: "vmware2scw migrates VMware vSphere VMs to Scaleway instances.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(cli.ExitUsage)
		},
	}
	cmd.AddCommand(cli.NewCmdInventory())
	cmd.AddCommand(cli.NewCmdInventoryPlan())
	cmd.AddCommand(cli.NewCmdMigrate())
	cmd.AddCommand(cli.NewCmdBatch())
	cmd.AddCommand(cli.NewCmdVersion())

	return cmd
}
