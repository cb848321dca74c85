package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vmware2scw/vmware2scw/internal/config"
	"github.com/vmware2scw/vmware2scw/internal/events"
	"github.com/vmware2scw/vmware2scw/internal/plan"
	"github.com/vmware2scw/vmware2scw/internal/state"
	"github.com/vmware2scw/vmware2scw/internal/util"
	"github.com/vmware2scw/vmware2scw/pkg/metrics"
)

// Resource identifies one semaphore to acquire. Host is only set for the
// per-ESXi-host class.
type Resource struct {
	Class string
	Host  string
}

// Limiter is the resource-semaphore surface the executor depends on. The
// implementation lives in the batch package; tests use instrumented fakes.
type Limiter interface {
	// Acquire takes all resources in the fixed global order and returns a
	// release function. It blocks until every resource is held or ctx is
	// done.
	Acquire(ctx context.Context, resources []Resource) (func(), error)
}

// Executor runs the stage pipeline for a single VM: it owns state
// transitions, persistence at stage boundaries, retries, and per-stage
// logs. Stage semantics live in the handlers.
type Executor struct {
	Store    *state.Store
	Registry *Registry
	Limiter  Limiter
	Config   *config.Config
	Bus      *events.Bus
	Backoff  util.Backoff

	log *zap.SugaredLogger
}

func NewExecutor(store *state.Store, reg *Registry, limiter Limiter, cfg *config.Config, bus *events.Bus) *Executor {
	return &Executor{
		Store:    store,
		Registry: reg,
		Limiter:  limiter,
		Config:   cfg,
		Bus:      bus,
		Backoff:  util.DefaultBackoff(),
		log:      zap.S().Named("pipeline"),
	}
}

// Run drives entry's pipeline to a terminal state. The returned error is
// non-nil only for infrastructure problems (state store failures); a VM
// failing a stage is recorded in state, not returned.
func (e *Executor) Run(ctx context.Context, batchID string, entry *plan.ResolvedMigration) (*state.MigrationState, error) {
	migrationID := state.MigrationID(batchID, entry.VM.UUID)

	st, err := e.Store.UpdateVM(batchID, migrationID, func(m *state.MigrationState) {
		m.Status = state.StatusRunning
		m.Attempts++
		if m.StartedAt.IsZero() {
			m.StartedAt = time.Now().UTC()
		}
		m.UpdatedAt = time.Now().UTC()
	})
	if err != nil {
		return nil, errors.Wrap(err, "marking migration running")
	}

	stages, err := e.Registry.StagesFor(entry.VM.GuestOSFamily)
	if err != nil {
		return e.fail(batchID, migrationID, entry, &StageError{
			Kind:    KindPreflight,
			Stage:   StageValidate,
			Message: err.Error(),
		})
	}

	workDir := e.Config.MigrationWorkDir(migrationID)

	for i, spec := range stages {
		if st.StageCompleted(spec.Name) {
			continue
		}

		select {
		case <-ctx.Done():
			return e.fail(batchID, migrationID, entry, e.stageErr(Cancelled(), spec.Name))
		default:
		}

		e.Bus.Publish(events.Event{
			Kind: events.StageStarted, BatchID: batchID, Wave: entry.Wave,
			VMName: entry.VM.Name, MigrationID: migrationID, Stage: spec.Name,
		})

		st, err = e.Store.UpdateVM(batchID, migrationID, func(m *state.MigrationState) {
			m.CurrentStage = spec.Name
			m.UpdatedAt = time.Now().UTC()
		})
		if err != nil {
			return nil, errors.Wrap(err, "recording current stage")
		}

		started := time.Now()
		stageErr := e.runStage(ctx, spec, i, batchID, migrationID, entry, st, workDir)
		duration := time.Since(started)
		metrics.StageDuration.WithLabelValues(spec.Name).Observe(duration.Seconds())

		if stageErr != nil {
			return e.fail(batchID, migrationID, entry, stageErr)
		}

		st, err = e.Store.UpdateVM(batchID, migrationID, func(m *state.MigrationState) {
			// runStage worked on a detached copy of the state; fold the
			// artifacts it produced back into the authoritative record.
			m.Artifacts = st.Artifacts
			m.MarkStageCompleted(spec.Name)
			if m.StageTimings == nil {
				m.StageTimings = map[string]float64{}
			}
			m.StageTimings[spec.Name] = duration.Seconds()
			m.CurrentStage = ""
			m.UpdatedAt = time.Now().UTC()
		})
		if err != nil {
			return nil, errors.Wrap(err, "recording stage completion")
		}

		e.Bus.Publish(events.Event{
			Kind: events.StageCompleted, BatchID: batchID, Wave: entry.Wave,
			VMName: entry.VM.Name, MigrationID: migrationID, Stage: spec.Name,
			Duration: duration,
		})
	}

	st, err = e.Store.UpdateVM(batchID, migrationID, func(m *state.MigrationState) {
		now := time.Now().UTC()
		m.Status = state.StatusCompleted
		m.FinishedAt = &now
		m.UpdatedAt = now
		m.LastError = nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "marking migration completed")
	}

	e.Bus.Publish(events.Event{
		Kind: events.VMCompleted, BatchID: batchID, Wave: entry.Wave,
		VMName: entry.VM.Name, MigrationID: migrationID,
	})
	return st, nil
}

// runStage acquires the stage's semaphores, checks required artifacts, and
// invokes the handler with retry and timeout handling.
func (e *Executor) runStage(ctx context.Context, spec StageSpec, index int, batchID, migrationID string, entry *plan.ResolvedMigration, st *state.MigrationState, workDir string) *StageError {
	resources := make([]Resource, 0, len(spec.Semaphores))
	for _, class := range spec.Semaphores {
		r := Resource{Class: class}
		if class == plan.ResourcePerHost {
			r.Host = entry.VM.Host
		}
		resources = append(resources, r)
	}

	release, err := e.Limiter.Acquire(ctx, resources)
	if err != nil {
		return e.stageErr(Cancelled(), spec.Name)
	}
	defer release()

	for _, key := range spec.Requires {
		if _, ok := st.Artifacts[key]; !ok {
			return e.stageErr(&StageError{
				Kind:    KindArtifact,
				Message: fmt.Sprintf("required artifact %q missing", key),
			}, spec.Name)
		}
	}

	logFile, logErr := e.openStageLog(workDir, index, spec.Name)
	if logErr != nil {
		e.log.Warnf("vm %s: stage log unavailable: %v", entry.VM.Name, logErr)
		logFile = nil
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}()
	var logW io.Writer = io.Discard
	if logFile != nil {
		logW = scrubWriter{w: logFile}
	}

	req := &Request{
		Entry:   entry,
		State:   st,
		Config:  e.Config,
		WorkDir: workDir,
		Log:     logW,
	}

	invoke := func() error {
		stageCtx := ctx
		if spec.Timeout > 0 {
			var cancel context.CancelFunc
			stageCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
			defer cancel()
		}
		err := spec.Handler(stageCtx, req)
		if err != nil && stageCtx.Err() == context.DeadlineExceeded {
			// A timeout is retryable iff the stage is.
			if spec.Retryable {
				return Transient(err, "stage timed out after %s", spec.Timeout)
			}
			return Fatal(err, "stage timed out after %s", spec.Timeout)
		}
		return err
	}

	retryable := func(err error) bool {
		var se *StageError
		if !errors.As(err, &se) {
			return false
		}
		if se.Kind == KindArtifact {
			// Artifact errors re-run the stage from scratch, but only for
			// stages declared safe to re-run.
			return spec.Rerunnable
		}
		return spec.Retryable && se.Retryable
	}

	if err := util.Retry(ctx, e.Backoff, invoke, retryable); err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return e.stageErr(se, spec.Name)
		}
		if errors.Is(err, context.Canceled) {
			return e.stageErr(Cancelled(), spec.Name)
		}
		return e.stageErr(Fatal(err, "%v", err), spec.Name)
	}
	return nil
}

func (e *Executor) openStageLog(workDir string, index int, stage string) (*os.File, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, err
	}
	name := filepath.Join(workDir, fmt.Sprintf("stage-%d-%s.log", index+1, stage))
	return os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func (e *Executor) stageErr(se *StageError, stage string) *StageError {
	if se.Stage == "" {
		se.Stage = stage
	}
	return se
}

// fail records the terminal failure and emits the dashboard row.
func (e *Executor) fail(batchID, migrationID string, entry *plan.ResolvedMigration, se *StageError) (*state.MigrationState, error) {
	e.log.Errorf("vm %s failed at %s: %s", entry.VM.Name, se.Stage, util.ScrubSecrets(se.Message))

	st, err := e.Store.UpdateVM(batchID, migrationID, func(m *state.MigrationState) {
		now := time.Now().UTC()
		m.Status = state.StatusFailed
		m.CurrentStage = ""
		m.LastError = &state.StageError{
			Stage:     se.Stage,
			Kind:      string(se.Kind),
			Message:   util.ScrubSecrets(se.Message),
			Timestamp: now,
		}
		m.FinishedAt = &now
		m.UpdatedAt = now
	})
	if err != nil {
		return nil, errors.Wrap(err, "recording migration failure")
	}

	e.Bus.Publish(events.Event{
		Kind: events.VMFailed, BatchID: batchID, Wave: entry.Wave,
		VMName: entry.VM.Name, MigrationID: migrationID, Stage: se.Stage,
		Error: se.Message,
	})
	return st, nil
}
