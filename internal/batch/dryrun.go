package batch

import (
	"time"

	"go.uber.org/zap"

	"github.com/vmware2scw/vmware2scw/internal/events"
	"github.com/vmware2scw/vmware2scw/internal/pipeline"
	"github.com/vmware2scw/vmware2scw/internal/plan"
	"github.com/vmware2scw/vmware2scw/internal/state"
)

// DryRun walks the whole batch without side effects: no state files, no
// subprocesses, no network. It publishes the same event stream a real run
// would and returns an in-memory BatchState so the report generator works
// unchanged.
func DryRun(rp *plan.ResolvedPlan, registry *pipeline.Registry, bus *events.Bus) (*state.BatchState, error) {
	log := zap.S().Named("orchestrator")
	digest, err := plan.Digest(rp.Plan)
	if err != nil {
		return nil, err
	}

	b := &state.BatchState{
		BatchID:    "dry-run",
		CreatedAt:  time.Now().UTC(),
		PlanDigest: digest,
		VMStates:   map[string]*state.MigrationState{},
	}

	bus.Publish(events.Event{Kind: events.BatchStarted, BatchID: b.BatchID})
	for _, wave := range rp.Waves {
		b.WaveStatus = append(b.WaveStatus, state.WaveRecord{Name: wave.Name, Status: state.WaveRunning})
		bus.Publish(events.Event{Kind: events.WaveStarted, BatchID: b.BatchID, Wave: wave.Name})

		for _, rm := range wave.Migrations {
			id := state.MigrationID(b.BatchID, rm.VM.UUID)
			st := &state.MigrationState{
				MigrationID: id,
				BatchID:     b.BatchID,
				VMName:      rm.VM.Name,
				VMUUID:      rm.VM.UUID,
				Wave:        rm.Wave,
				Status:      state.StatusRunning,
				StartedAt:   time.Now().UTC(),
			}
			b.VMStates[id] = st

			stages, err := registry.StagesFor(rm.VM.GuestOSFamily)
			if err != nil {
				now := time.Now().UTC()
				st.Status = state.StatusFailed
				st.LastError = &state.StageError{
					Stage: pipeline.StageValidate, Kind: string(pipeline.KindPreflight),
					Message: err.Error(), Timestamp: now,
				}
				st.FinishedAt = &now
				bus.Publish(events.Event{
					Kind: events.VMFailed, BatchID: b.BatchID, Wave: wave.Name,
					VMName: rm.VM.Name, MigrationID: id, Stage: pipeline.StageValidate, Error: err.Error(),
				})
				continue
			}

			log.Infof("[dry-run] %s → %s in %s (%d stages)", rm.VM.Name, rm.TargetType, rm.Zone, len(stages))
			for _, spec := range stages {
				bus.Publish(events.Event{
					Kind: events.StageStarted, BatchID: b.BatchID, Wave: wave.Name,
					VMName: rm.VM.Name, MigrationID: id, Stage: spec.Name,
				})
				st.MarkStageCompleted(spec.Name)
				bus.Publish(events.Event{
					Kind: events.StageCompleted, BatchID: b.BatchID, Wave: wave.Name,
					VMName: rm.VM.Name, MigrationID: id, Stage: spec.Name,
				})
			}

			now := time.Now().UTC()
			st.Status = state.StatusCompleted
			st.FinishedAt = &now
			bus.Publish(events.Event{
				Kind: events.VMCompleted, BatchID: b.BatchID, Wave: wave.Name,
				VMName: rm.VM.Name, MigrationID: id,
			})
		}

		rec := b.WaveRecordFor(wave.Name)
		rec.Status = state.WaveCompleted
		bus.Publish(events.Event{
			Kind: events.WaveCompleted, BatchID: b.BatchID, Wave: wave.Name,
			Succeeded: len(wave.Migrations),
		})
	}

	bus.Publish(events.Event{
		Kind: events.BatchCompleted, BatchID: b.BatchID, Succeeded: len(b.Completed()),
	})
	return b, nil
}
