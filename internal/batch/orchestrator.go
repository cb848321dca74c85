package batch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vmware2scw/vmware2scw/internal/events"
	"github.com/vmware2scw/vmware2scw/internal/pipeline"
	"github.com/vmware2scw/vmware2scw/internal/plan"
	"github.com/vmware2scw/vmware2scw/internal/state"
	"github.com/vmware2scw/vmware2scw/pkg/metrics"
)

// ConfirmFunc resolves a wave pause. Returning true continues into the
// next wave; false stops the batch (a later `batch resume` picks it up).
type ConfirmFunc func(wave string) bool

// Orchestrator drives a resolved plan through waves of concurrent VM
// pipelines. It schedules, pauses, and records; stage mechanics belong to
// the pipeline executor.
type Orchestrator struct {
	store    *state.Store
	executor *pipeline.Executor
	sems     *SemaphoreSet
	bus      *events.Bus
	confirm  ConfirmFunc

	log *zap.SugaredLogger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithConfirm installs an interactive pause-resolution callback.
func WithConfirm(f ConfirmFunc) OrchestratorOption {
	return func(o *Orchestrator) { o.confirm = f }
}

func NewOrchestrator(store *state.Store, executor *pipeline.Executor, sems *SemaphoreSet, bus *events.Bus, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		executor: executor,
		sems:     sems,
		bus:      bus,
		log:      zap.S().Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start creates the batch state for a new run and returns its id.
func (o *Orchestrator) Start(rp *plan.ResolvedPlan) (*state.BatchState, error) {
	digest, err := plan.Digest(rp.Plan)
	if err != nil {
		return nil, err
	}

	b := &state.BatchState{
		BatchID:    state.NewBatchID(),
		CreatedAt:  time.Now().UTC(),
		PlanDigest: digest,
		VMStates:   map[string]*state.MigrationState{},
	}
	for _, w := range rp.Waves {
		b.WaveStatus = append(b.WaveStatus, state.WaveRecord{Name: w.Name, Status: state.WavePending})
	}
	for _, rm := range rp.Migrations() {
		id := state.MigrationID(b.BatchID, rm.VM.UUID)
		b.VMStates[id] = &state.MigrationState{
			MigrationID: id,
			BatchID:     b.BatchID,
			VMName:      rm.VM.Name,
			VMUUID:      rm.VM.UUID,
			Wave:        rm.Wave,
			Status:      state.StatusPending,
		}
	}
	for _, rm := range rp.Quarantined {
		id := state.MigrationID(b.BatchID, rm.VM.UUID)
		now := time.Now().UTC()
		b.VMStates[id] = &state.MigrationState{
			MigrationID: id,
			BatchID:     b.BatchID,
			VMName:      rm.VM.Name,
			VMUUID:      rm.VM.UUID,
			Status:      state.StatusSkipped,
			LastError: &state.StageError{
				Stage:     pipeline.StageValidate,
				Kind:      string(pipeline.KindPreflight),
				Message:   "unmappable: no viable instance type",
				Timestamp: now,
			},
		}
	}

	if err := o.store.Save(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Resume reloads an existing batch and resets failed VMs to pending while
// keeping their completed stages, so their pipelines restart at the first
// incomplete stage.
func (o *Orchestrator) Resume(batchID string, rp *plan.ResolvedPlan) (*state.BatchState, error) {
	b, err := o.store.Load(batchID)
	if err != nil {
		return nil, err
	}

	digest, err := plan.Digest(rp.Plan)
	if err != nil {
		return nil, err
	}
	if digest != b.PlanDigest {
		return nil, &plan.ValidationError{Problems: []string{
			"plan file changed since the batch started (digest mismatch); start a new batch instead",
		}}
	}

	for _, vm := range b.VMStates {
		if vm.Status == state.StatusFailed || vm.Status == state.StatusRunning {
			vm.Status = state.StatusPending
			vm.CurrentStage = ""
			vm.FinishedAt = nil
		}
	}
	for i := range b.WaveStatus {
		record := &b.WaveStatus[i]
		switch record.Status {
		case state.WaveCompleted:
		case state.WavePaused:
			// Invoking resume is the operator's confirmation. The wave
			// stays open only if it still has unfinished VMs.
			if o.waveFullyDone(b, record.Name) {
				record.Status = state.WaveCompleted
			} else {
				record.Status = state.WavePending
			}
		default:
			record.Status = state.WavePending
		}
	}

	if err := o.store.Save(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Run executes all non-completed waves of the batch in declared order.
// Within a wave pipelines run concurrently under the semaphore caps; the
// wave barrier holds until every VM terminates. The returned BatchState is
// the final snapshot.
func (o *Orchestrator) Run(ctx context.Context, b *state.BatchState, rp *plan.ResolvedPlan) (*state.BatchState, error) {
	o.bus.Publish(events.Event{Kind: events.BatchStarted, BatchID: b.BatchID})

	for waveIdx, wave := range rp.Waves {
		record := b.WaveRecordFor(wave.Name)
		if record == nil {
			return b, errors.Errorf("batch state has no wave %q", wave.Name)
		}
		if record.Status == state.WaveCompleted {
			continue
		}

		record.Status = state.WaveRunning
		if err := o.store.Save(b); err != nil {
			return b, err
		}
		o.bus.Publish(events.Event{Kind: events.WaveStarted, BatchID: b.BatchID, Wave: wave.Name})
		o.log.Infof("wave %s: %d migrations", wave.Name, len(wave.Migrations))

		var g errgroup.Group
		for i := range wave.Migrations {
			rm := wave.Migrations[i]
			id := state.MigrationID(b.BatchID, rm.VM.UUID)
			if st, ok := b.VMStates[id]; ok && st.Status.Terminal() {
				continue
			}

			g.Go(func() error {
				// The global slot is held for the pipeline's entire
				// lifetime; stage semaphores come and go inside.
				release, err := o.sems.AcquireGlobal(ctx)
				if err != nil {
					_, markErr := o.store.UpdateVM(b.BatchID, id, func(m *state.MigrationState) {
						m.Status = state.StatusSkipped
					})
					return markErr
				}
				defer release()

				metrics.MigrationsStarted.Inc()
				st, err := o.executor.Run(ctx, b.BatchID, &rm)
				if err != nil {
					return err
				}
				switch st.Status {
				case state.StatusCompleted:
					metrics.MigrationsCompleted.Inc()
				case state.StatusFailed:
					metrics.MigrationsFailed.Inc()
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return b, errors.Wrap(err, "running wave "+wave.Name)
		}

		// Reload: pipelines persisted through the store, not through b.
		fresh, err := o.store.Load(b.BatchID)
		if err != nil {
			return b, err
		}
		b = fresh

		succeeded, failed := o.waveOutcome(b, wave)
		record = b.WaveRecordFor(wave.Name)
		if failed > 0 {
			record.Status = state.WaveFailed
		} else {
			record.Status = state.WaveCompleted
		}
		o.bus.Publish(events.Event{
			Kind: events.WaveCompleted, BatchID: b.BatchID, Wave: wave.Name,
			Succeeded: succeeded, Failed: failed,
		})

		if ctx.Err() != nil {
			if err := o.store.Save(b); err != nil {
				return b, err
			}
			return b, ctx.Err()
		}

		if waveIdx < len(rp.Waves)-1 && o.shouldPause(wave, failed) {
			record.Status = state.WavePaused
			if err := o.store.Save(b); err != nil {
				return b, err
			}
			o.bus.Publish(events.Event{Kind: events.WavePaused, BatchID: b.BatchID, Wave: wave.Name, Failed: failed})

			if o.confirm == nil || !o.confirm(wave.Name) {
				o.log.Infof("batch %s paused after wave %s; resume with `vmware2scw batch resume --batch-id %s`",
					b.BatchID, wave.Name, b.BatchID)
				return b, nil
			}
			record.Status = state.WaveCompleted
			if failed > 0 {
				record.Status = state.WaveFailed
			}
		}

		if err := o.store.Save(b); err != nil {
			return b, err
		}
	}

	b, err := o.store.Load(b.BatchID)
	if err != nil {
		return b, err
	}
	o.bus.Publish(events.Event{
		Kind: events.BatchCompleted, BatchID: b.BatchID,
		Succeeded: len(b.Completed()), Failed: len(b.Failed()),
	})
	return b, nil
}

// waveFullyDone reports whether every VM assigned to the wave finished
// successfully (or was deliberately skipped).
func (o *Orchestrator) waveFullyDone(b *state.BatchState, wave string) bool {
	for _, vm := range b.VMStates {
		if vm.Wave != wave {
			continue
		}
		if vm.Status != state.StatusCompleted && vm.Status != state.StatusSkipped {
			return false
		}
	}
	return true
}

func (o *Orchestrator) waveOutcome(b *state.BatchState, wave plan.ResolvedWave) (succeeded, failed int) {
	for _, rm := range wave.Migrations {
		id := state.MigrationID(b.BatchID, rm.VM.UUID)
		st, ok := b.VMStates[id]
		if !ok {
			continue
		}
		switch st.Status {
		case state.StatusCompleted:
			succeeded++
		case state.StatusFailed:
			failed++
		}
	}
	return succeeded, failed
}

func (o *Orchestrator) shouldPause(wave plan.ResolvedWave, failed int) bool {
	switch wave.PauseAfter {
	case plan.PauseAlways:
		return true
	case plan.PauseOnFailure:
		return failed > 0
	default:
		return false
	}
}
