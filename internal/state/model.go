package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of one VM migration.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether no further work will happen for this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// WaveStatus is the lifecycle state of one wave.
type WaveStatus string

const (
	WavePending   WaveStatus = "pending"
	WaveRunning   WaveStatus = "running"
	WavePaused    WaveStatus = "paused"
	WaveCompleted WaveStatus = "completed"
	WaveFailed    WaveStatus = "failed"
)

// StageError captures the failure that terminated a pipeline run.
type StageError struct {
	Stage     string    `json:"stage"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MigrationState is the mutable per-VM record. It is created at plan
// expansion in StatusPending and never deleted; resume reuses it.
type MigrationState struct {
	MigrationID     string                     `json:"migration_id"`
	BatchID         string                     `json:"batch_id"`
	VMName          string                     `json:"vm_name"`
	VMUUID          string                     `json:"vm_uuid"`
	Wave            string                     `json:"wave,omitempty"`
	Status          Status                     `json:"status"`
	CurrentStage    string                     `json:"current_stage,omitempty"`
	CompletedStages []string                   `json:"completed_stages,omitempty"`
	Artifacts       map[string]json.RawMessage `json:"artifacts,omitempty"`
	StageTimings    map[string]float64         `json:"stage_timings,omitempty"`
	StartedAt       time.Time                  `json:"started_at,omitempty"`
	UpdatedAt       time.Time                  `json:"updated_at,omitempty"`
	FinishedAt      *time.Time                 `json:"finished_at,omitempty"`
	LastError       *StageError                `json:"last_error,omitempty"`
	Attempts        int                        `json:"attempts"`
}

// StageCompleted reports whether the named stage already ran to success.
func (m *MigrationState) StageCompleted(stage string) bool {
	for _, s := range m.CompletedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// MarkStageCompleted appends stage to CompletedStages exactly once.
func (m *MigrationState) MarkStageCompleted(stage string) {
	if !m.StageCompleted(stage) {
		m.CompletedStages = append(m.CompletedStages, stage)
	}
}

// SetArtifact stores an artifact value as JSON. Marshal errors cannot occur
// for the types stages produce (strings, string slices), so they panic.
func (m *MigrationState) SetArtifact(key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		panic("unmarshalable artifact value for " + key + ": " + err.Error())
	}
	if m.Artifacts == nil {
		m.Artifacts = map[string]json.RawMessage{}
	}
	m.Artifacts[key] = data
}

// Artifact decodes the artifact at key into out, reporting whether the key
// exists and decoded cleanly.
func (m *MigrationState) Artifact(key string, out interface{}) bool {
	raw, ok := m.Artifacts[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// ArtifactString returns a string-valued artifact, or "".
func (m *MigrationState) ArtifactString(key string) string {
	var s string
	m.Artifact(key, &s)
	return s
}

// BatchState is the authoritative record of one batch run.
type BatchState struct {
	BatchID    string                     `json:"batch_id"`
	CreatedAt  time.Time                  `json:"created_at"`
	PlanDigest string                     `json:"plan_digest"`
	WaveStatus []WaveRecord               `json:"wave_status"`
	VMStates   map[string]*MigrationState `json:"vm_states"`
}

// WaveRecord tracks one wave's status in declared order.
type WaveRecord struct {
	Name   string     `json:"name"`
	Status WaveStatus `json:"status"`
}

// WaveRecordFor returns a pointer into WaveStatus for the named wave.
func (b *BatchState) WaveRecordFor(name string) *WaveRecord {
	for i := range b.WaveStatus {
		if b.WaveStatus[i].Name == name {
			return &b.WaveStatus[i]
		}
	}
	return nil
}

// Failed returns the migration states that ended in failure.
func (b *BatchState) Failed() []*MigrationState {
	var out []*MigrationState
	for _, m := range b.VMStates {
		if m.Status == StatusFailed {
			out = append(out, m)
		}
	}
	return out
}

// Completed returns the migration states that finished successfully.
func (b *BatchState) Completed() []*MigrationState {
	var out []*MigrationState
	for _, m := range b.VMStates {
		if m.Status == StatusCompleted {
			out = append(out, m)
		}
	}
	return out
}

// NewBatchID returns a short random hex identifier.
func NewBatchID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// MigrationID derives the stable per-VM identifier from the batch id and
// the VM uuid; it survives resumes and names state files and work dirs.
func MigrationID(batchID, vmUUID string) string {
	sum := sha256.Sum256([]byte(batchID + vmUUID))
	return hex.EncodeToString(sum[:4])
}
