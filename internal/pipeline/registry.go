package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/vmware2scw/vmware2scw/internal/config"
	"github.com/vmware2scw/vmware2scw/internal/inventory"
	"github.com/vmware2scw/vmware2scw/internal/plan"
	"github.com/vmware2scw/vmware2scw/internal/state"
)

// Stage names, in the order they appear in the graphs below.
const (
	StageValidate      = "validate"
	StageSnapshot      = "snapshot"
	StageExport        = "export"
	StageConvert       = "convert"
	StageAdaptGuest    = "adapt_guest"
	StageCleanTools    = "clean_tools"
	StageInjectVirtio  = "inject_virtio"
	StageFixBootloader = "fix_bootloader"
	StageEnsureUEFI    = "ensure_uefi"
	StageUploadS3      = "upload_s3"
	StageImportScw     = "import_scw"
	StageVerify        = "verify"
	StageCleanup       = "cleanup"
)

// Request is what a stage handler receives: the frozen plan entry, the
// migration's mutable state, and application config. Handlers set produced
// artifacts on State but never touch CompletedStages or persist anything;
// the executor owns that.
type Request struct {
	Entry  *plan.ResolvedMigration
	State  *state.MigrationState
	Config *config.Config
	// WorkDir is this migration's private artifact directory.
	WorkDir string
	// Log receives subprocess output and handler diagnostics, already
	// routed to the per-stage log file with credentials scrubbed.
	Log io.Writer
}

// Artifacts returns the typed view over the request's artifact bag.
func (r *Request) Artifacts() Artifacts {
	return ArtifactsOf(r.State)
}

// HandlerFunc is the stage handler contract.
type HandlerFunc func(ctx context.Context, req *Request) error

// StageSpec declares one stage: its artifact contract, the semaphores it
// holds while running, and its retry/timeout behaviour.
type StageSpec struct {
	Name string
	// Requires lists artifact keys that must exist before the handler runs.
	Requires []string
	// Produces lists artifact keys the handler sets on success.
	Produces []string
	// Semaphores lists resource classes acquired for the stage's duration,
	// always in the fixed global order.
	Semaphores []string
	Retryable  bool
	// Rerunnable marks stages that may be invoked again over partial
	// output after an artifact check fails.
	Rerunnable bool
	Timeout    time.Duration
	Handler    HandlerFunc
}

// Registry holds the stage graph per OS family.
type Registry struct {
	graphs map[inventory.OSFamily][]StageSpec
}

// StagesFor returns the ordered stage list for an OS family. The `other`
// family has no graph; callers treat that as not auto-migratable.
func (r *Registry) StagesFor(family inventory.OSFamily) ([]StageSpec, error) {
	stages, ok := r.graphs[family]
	if !ok {
		return nil, errors.Errorf("no stage graph for OS family %q", family)
	}
	return stages, nil
}

// Stage returns a single stage spec by family and name.
func (r *Registry) Stage(family inventory.OSFamily, name string) (StageSpec, error) {
	stages, err := r.StagesFor(family)
	if err != nil {
		return StageSpec{}, err
	}
	for _, s := range stages {
		if s.Name == name {
			return s, nil
		}
	}
	return StageSpec{}, errors.Errorf("stage %q not in %s graph", name, family)
}

// NewRegistry wires the fixed stage graphs to a handler set.
// Linux: validate → snapshot → export → convert → adapt_guest →
// ensure_uefi → upload_s3 → import_scw → verify → cleanup.
// Windows adds clean_tools, inject_virtio and fix_bootloader between
// convert and ensure_uefi, in place of adapt_guest.
func NewRegistry(h *Handlers) *Registry {
	validate := StageSpec{
		Name:       StageValidate,
		Semaphores: []string{plan.ResourceScwAPI},
		Timeout:    2 * time.Minute,
		Handler:    h.Validate,
	}
	snapshot := StageSpec{
		Name:       StageSnapshot,
		Produces:   []string{ArtifactSnapshotID},
		Semaphores: []string{plan.ResourceScwAPI},
		Retryable:  true,
		Rerunnable: true,
		Timeout:    10 * time.Minute,
		Handler:    h.Snapshot,
	}
	export := StageSpec{
		Name:       StageExport,
		Requires:   []string{ArtifactSnapshotID},
		Produces:   []string{ArtifactVMDKPaths},
		Semaphores: []string{plan.ResourcePerHost},
		Retryable:  true,
		Rerunnable: true,
		Timeout:    6 * time.Hour,
		Handler:    h.Export,
	}
	convert := StageSpec{
		Name:       StageConvert,
		Requires:   []string{ArtifactVMDKPaths},
		Produces:   []string{ArtifactQcow2Path},
		Semaphores: []string{plan.ResourceDiskIO},
		Rerunnable: true,
		Timeout:    4 * time.Hour,
		Handler:    h.Convert,
	}
	disk := func(name string, handler HandlerFunc, timeout time.Duration) StageSpec {
		return StageSpec{
			Name:       name,
			Requires:   []string{ArtifactQcow2Path},
			Semaphores: []string{plan.ResourceDiskIO},
			Rerunnable: true,
			Timeout:    timeout,
			Handler:    handler,
		}
	}
	uploadS3 := StageSpec{
		Name:       StageUploadS3,
		Requires:   []string{ArtifactQcow2Path},
		Produces:   []string{ArtifactS3Key},
		Semaphores: []string{plan.ResourceS3Upload},
		Retryable:  true,
		Rerunnable: true,
		Timeout:    6 * time.Hour,
		Handler:    h.UploadS3,
	}
	importScw := StageSpec{
		Name:       StageImportScw,
		Requires:   []string{ArtifactS3Key},
		Produces:   []string{ArtifactScwSnapshotID, ArtifactScwImageID},
		Semaphores: []string{plan.ResourceScwAPI},
		Retryable:  true,
		Rerunnable: true,
		Timeout:    time.Hour,
		Handler:    h.ImportScw,
	}
	verify := StageSpec{
		Name:       StageVerify,
		Requires:   []string{ArtifactScwImageID},
		Semaphores: []string{plan.ResourceScwAPI},
		Retryable:  true,
		Rerunnable: true,
		Timeout:    10 * time.Minute,
		Handler:    h.Verify,
	}
	cleanup := StageSpec{
		Name:       StageCleanup,
		Semaphores: []string{plan.ResourceScwAPI},
		Retryable:  true,
		Rerunnable: true,
		Timeout:    30 * time.Minute,
		Handler:    h.Cleanup,
	}

	linux := []StageSpec{
		validate, snapshot, export, convert,
		disk(StageAdaptGuest, h.AdaptGuest, time.Hour),
		disk(StageEnsureUEFI, h.EnsureUEFI, time.Hour),
		uploadS3, importScw, verify, cleanup,
	}
	windows := []StageSpec{
		validate, snapshot, export, convert,
		disk(StageCleanTools, h.CleanTools, time.Hour),
		disk(StageInjectVirtio, h.InjectVirtio, time.Hour),
		disk(StageFixBootloader, h.FixBootloader, time.Hour),
		disk(StageEnsureUEFI, h.EnsureUEFI, 2*time.Hour),
		uploadS3, importScw, verify, cleanup,
	}

	return &Registry{graphs: map[inventory.OSFamily][]StageSpec{
		inventory.OSFamilyLinux:   linux,
		inventory.OSFamilyWindows: windows,
	}}
}
