package report

import (
	"time"

	"go.uber.org/zap"

	"github.com/vmware2scw/vmware2scw/internal/events"
)

// Dashboard is the console consumer of orchestrator events: one log line
// per transition, enough to follow a batch from a terminal or a captured
// log.
type Dashboard struct {
	log *zap.SugaredLogger
}

func NewDashboard() *Dashboard {
	return &Dashboard{log: zap.S().Named("dashboard")}
}

// Handle implements events.Handler.
func (d *Dashboard) Handle(e events.Event) {
	switch e.Kind {
	case events.BatchStarted:
		d.log.Infof("batch %s started", e.BatchID)
	case events.WaveStarted:
		d.log.Infof("wave %s started", e.Wave)
	case events.WaveCompleted:
		d.log.Infof("wave %s completed: %d ok, %d failed", e.Wave, e.Succeeded, e.Failed)
	case events.WavePaused:
		d.log.Warnf("wave %s paused, waiting for confirmation (%d failed)", e.Wave, e.Failed)
	case events.StageStarted:
		d.log.Debugf("%s: %s started", e.VMName, e.Stage)
	case events.StageCompleted:
		d.log.Infof("%s: %s done in %s", e.VMName, e.Stage, e.Duration.Round(durationPrecision))
	case events.VMCompleted:
		d.log.Infof("%s: migration completed", e.VMName)
	case events.VMFailed:
		d.log.Errorf("%s: failed at %s: %s", e.VMName, e.Stage, e.Error)
	case events.VMSkipped:
		d.log.Warnf("%s: skipped", e.VMName)
	case events.BatchCompleted:
		d.log.Infof("batch %s finished: %d ok, %d failed", e.BatchID, e.Succeeded, e.Failed)
	}
}

const durationPrecision = 100 * time.Millisecond
