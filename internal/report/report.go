package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/vmware2scw/vmware2scw/internal/pipeline"
	"github.com/vmware2scw/vmware2scw/internal/state"
)

// Generate renders the post-migration Markdown report for a batch: summary
// counts, per-VM outcome tables, and stage timing analysis.
func Generate(b *state.BatchState) string {
	var sb strings.Builder

	completed := sortedByName(b.Completed())
	failed := sortedByName(b.Failed())

	fmt.Fprintf(&sb, "# Migration Report — Batch `%s`\n\n", b.BatchID)
	fmt.Fprintf(&sb, "**Date:** %s\n", b.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "**Status:** %s\n\n", batchStatus(b))

	fmt.Fprintf(&sb, "## Summary\n\n")
	fmt.Fprintf(&sb, "| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&sb, "| Total VMs | %d |\n", len(b.VMStates))
	fmt.Fprintf(&sb, "| Succeeded | %d |\n", len(completed))
	fmt.Fprintf(&sb, "| Failed | %d |\n\n", len(failed))

	if len(completed) > 0 {
		fmt.Fprintf(&sb, "## Successful Migrations\n\n")
		fmt.Fprintf(&sb, "| VM | Duration | Image ID |\n|------|------|------|\n")
		for _, vm := range completed {
			imageID := pipeline.ArtifactsOf(vm).ScwImageID()
			if imageID == "" {
				imageID = "—"
			}
			fmt.Fprintf(&sb, "| %s | %s | `%s` |\n", vm.VMName, durationOf(vm), imageID)
		}
		sb.WriteString("\n")
	}

	if len(failed) > 0 {
		fmt.Fprintf(&sb, "## Failed Migrations\n\n")
		fmt.Fprintf(&sb, "| VM | Failed Stage | Kind | Error |\n|------|------|------|------|\n")
		for _, vm := range failed {
			stage, kind, msg := "?", "?", "unknown"
			if vm.LastError != nil {
				stage, kind = vm.LastError.Stage, vm.LastError.Kind
				msg = truncate(vm.LastError.Message, 80)
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", vm.VMName, stage, kind, msg)
		}
		fmt.Fprintf(&sb, "\nResume with `vmware2scw batch resume --batch-id %s`.\n\n", b.BatchID)
	}

	if timings := stageTimings(completed); len(timings) > 0 {
		fmt.Fprintf(&sb, "## Stage Timing Analysis\n\n")
		fmt.Fprintf(&sb, "Average duration per stage (successful VMs):\n\n")
		fmt.Fprintf(&sb, "| Stage | Avg | Min | Max |\n|-------|------|------|------|\n")
		for _, row := range timings {
			fmt.Fprintf(&sb, "| %s | %.0fs | %.0fs | %.0fs |\n", row.stage, row.avg, row.min, row.max)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// Write renders the report and writes it next to the batch state.
func Write(b *state.BatchState, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating report directory")
	}
	if err := os.WriteFile(path, []byte(Generate(b)), 0o644); err != nil {
		return errors.Wrap(err, "writing report")
	}
	return nil
}

func batchStatus(b *state.BatchState) string {
	failed := len(b.Failed())
	completed := len(b.Completed())
	switch {
	case failed == 0 && completed > 0:
		return "COMPLETE"
	case failed > 0 && completed > 0:
		return "PARTIAL"
	case failed > 0:
		return "FAILED"
	default:
		return "PENDING"
	}
}

func durationOf(vm *state.MigrationState) string {
	if vm.FinishedAt == nil || vm.StartedAt.IsZero() {
		return "—"
	}
	d := vm.FinishedAt.Sub(vm.StartedAt)
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

type timingRow struct {
	stage         string
	avg, min, max float64
}

func stageTimings(vms []*state.MigrationState) []timingRow {
	byStage := map[string][]float64{}
	for _, vm := range vms {
		for stage, secs := range vm.StageTimings {
			byStage[stage] = append(byStage[stage], secs)
		}
	}

	stages := make([]string, 0, len(byStage))
	for s := range byStage {
		stages = append(stages, s)
	}
	sort.Strings(stages)

	rows := make([]timingRow, 0, len(stages))
	for _, stage := range stages {
		values := byStage[stage]
		row := timingRow{stage: stage, min: values[0], max: values[0]}
		var sum float64
		for _, v := range values {
			sum += v
			if v < row.min {
				row.min = v
			}
			if v > row.max {
				row.max = v
			}
		}
		row.avg = sum / float64(len(values))
		rows = append(rows, row)
	}
	return rows
}

func sortedByName(vms []*state.MigrationState) []*state.MigrationState {
	out := make([]*state.MigrationState, len(vms))
	copy(out, vms)
	sort.Slice(out, func(i, j int) bool { return out[i].VMName < out[j].VMName })
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
