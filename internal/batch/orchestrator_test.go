package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware2scw/vmware2scw/internal/catalog"
	"github.com/vmware2scw/vmware2scw/internal/config"
	"github.com/vmware2scw/vmware2scw/internal/events"
	"github.com/vmware2scw/vmware2scw/internal/inventory"
	"github.com/vmware2scw/vmware2scw/internal/pipeline"
	"github.com/vmware2scw/vmware2scw/internal/plan"
	"github.com/vmware2scw/vmware2scw/internal/state"
	"github.com/vmware2scw/vmware2scw/internal/util"
)

// In-memory collaborators. These mirror the fakes used by the pipeline
// tests but live here so this package tests the full orchestration stack.

type memVSphere struct {
	mu        sync.Mutex
	snapshots map[string]string
}

func (f *memVSphere) ListVMs(ctx context.Context, hint string) ([]inventory.VMDescriptor, error) {
	return nil, nil
}
func (f *memVSphere) CreateSnapshot(ctx context.Context, vmUUID, name string, quiesce bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshots == nil {
		f.snapshots = map[string]string{}
	}
	id := "snap-" + vmUUID
	f.snapshots[vmUUID] = id
	return id, nil
}
func (f *memVSphere) DeleteSnapshot(ctx context.Context, vmUUID, snapshotID string) error { return nil }
func (f *memVSphere) ExportVMDKs(ctx context.Context, vmUUID, snapshotID, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}
	p := destDir + "/" + vmUUID + ".vmdk"
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		return nil, err
	}
	return []string{p}, nil
}
func (f *memVSphere) TagVM(ctx context.Context, vmUUID, tag string) error { return nil }
func (f *memVSphere) PowerOff(ctx context.Context, vmUUID string) error   { return nil }

type memStorage struct {
	mu      sync.Mutex
	objects map[string]bool
	failVMs map[string]int // vm-derived key substring -> failures remaining
	uploads int32
}

func (f *memStorage) Upload(ctx context.Context, localPath, bucket, key string) (string, error) {
	atomic.AddInt32(&f.uploads, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub, remaining := range f.failVMs {
		if remaining > 0 && contains(key, sub) {
			f.failVMs[sub] = remaining - 1
			return "", fmt.Errorf("simulated upload failure for %s", sub)
		}
	}
	if f.objects == nil {
		f.objects = map[string]bool{}
	}
	f.objects[bucket+"/"+key] = true
	return "https://s3/" + key, nil
}
func (f *memStorage) Delete(ctx context.Context, bucket, key string) error { return nil }
func (f *memStorage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[bucket+"/"+key], nil
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

type memCloud struct {
	mu  sync.Mutex
	seq int
}

func (f *memCloud) CreateSnapshotFromObject(ctx context.Context, zone, name, bucket, key, volumeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("scw-snap-%d", f.seq), nil
}
func (f *memCloud) WaitSnapshot(ctx context.Context, zone, id string, timeout time.Duration) (string, error) {
	return "available", nil
}
func (f *memCloud) CreateImage(ctx context.Context, zone, name, root, arch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("scw-img-%d", f.seq), nil
}
func (f *memCloud) FindSnapshotByName(ctx context.Context, zone, name string) (string, error) {
	return "", nil
}
func (f *memCloud) FindImageByName(ctx context.Context, zone, name string) (string, error) {
	return "", nil
}
func (f *memCloud) GetImageStatus(ctx context.Context, zone, id string) (string, error) {
	return "available", nil
}
func (f *memCloud) ListInstanceTypes(ctx context.Context, zone string) ([]catalog.InstanceType, error) {
	return nil, nil
}

type memRunner struct {
	calls int32
}

func (f *memRunner) Run(ctx context.Context, log io.Writer, name string, args ...string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return "ok", nil
}

// countingLimiter observes concurrent holders per resource class on top of
// the real semaphore set.
type countingLimiter struct {
	inner   pipeline.Limiter
	mu      sync.Mutex
	current map[string]int
	max     map[string]int
}

func newCountingLimiter(inner pipeline.Limiter) *countingLimiter {
	return &countingLimiter{inner: inner, current: map[string]int{}, max: map[string]int{}}
}

func (c *countingLimiter) Acquire(ctx context.Context, resources []pipeline.Resource) (func(), error) {
	release, err := c.inner.Acquire(ctx, resources)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	for _, r := range resources {
		c.current[r.Class]++
		if c.current[r.Class] > c.max[r.Class] {
			c.max[r.Class] = c.current[r.Class]
		}
	}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		for _, r := range resources {
			c.current[r.Class]--
		}
		c.mu.Unlock()
		release()
	}, nil
}

func (c *countingLimiter) Max(class string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max[class]
}

type harness struct {
	orch     *Orchestrator
	store    *state.Store
	recorder *events.Recorder
	storage  *memStorage
	runner   *memRunner
	limiter  *countingLimiter
	registry *pipeline.Registry
	cfg      *config.Config
}

func newHarness(t *testing.T, caps map[string]int, opts ...OrchestratorOption) *harness {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Conversion.WorkDir = t.TempDir()

	storage := &memStorage{}
	runner := &memRunner{}
	handlers := pipeline.NewHandlers(&memVSphere{}, storage, &memCloud{}, runner)
	registry := pipeline.NewRegistry(handlers)
	store := state.NewStore(cfg.BatchStateDir())
	bus := events.NewBus()
	recorder := events.NewRecorder()
	bus.Subscribe(recorder.Handle)

	sems := NewSemaphoreSet(caps)
	limiter := newCountingLimiter(sems)
	exec := pipeline.NewExecutor(store, registry, limiter, cfg, bus)
	exec.Backoff = util.Backoff{Attempts: 3, Base: time.Millisecond, Cap: 2 * time.Millisecond}

	return &harness{
		orch:     NewOrchestrator(store, exec, sems, bus, opts...),
		store:    store,
		recorder: recorder,
		storage:  storage,
		runner:   runner,
		limiter:  limiter,
		registry: registry,
		cfg:      cfg,
	}
}

func resolvedVM(name, uuid, wave string) plan.ResolvedMigration {
	return plan.ResolvedMigration{
		VM: inventory.VMDescriptor{
			Name:          name,
			UUID:          uuid,
			CPUCount:      2,
			MemoryMB:      4096,
			PowerState:    inventory.PoweredOn,
			GuestOSFamily: inventory.OSFamilyLinux,
			Firmware:      inventory.FirmwareEFI,
			Disks:         []inventory.Disk{{SizeGiB: 20}},
			Host:          "esx1",
		},
		TargetType: "PRO2-XS",
		Zone:       "fr-par-1",
		Wave:       wave,
	}
}

func resolvedPlan(caps map[string]int, waves ...plan.ResolvedWave) *plan.ResolvedPlan {
	return &plan.ResolvedPlan{
		Plan:  &plan.Plan{Version: 1, Concurrency: caps},
		Waves: waves,
	}
}

func TestRunSingleWaveSuccess(t *testing.T) {
	h := newHarness(t, nil)
	rp := resolvedPlan(nil, plan.ResolvedWave{
		Name:       "w1",
		PauseAfter: plan.PauseContinue,
		Migrations: []plan.ResolvedMigration{resolvedVM("web-01", "u1", "w1")},
	})

	b, err := h.orch.Start(rp)
	require.NoError(t, err)
	b, err = h.orch.Run(context.Background(), b, rp)
	require.NoError(t, err)

	assert.Len(t, b.Completed(), 1)
	assert.Empty(t, b.Failed())
	assert.Equal(t, state.WaveCompleted, b.WaveRecordFor("w1").Status)

	waveDone := h.recorder.ByKind(events.WaveCompleted)
	require.Len(t, waveDone, 1)
	assert.Equal(t, "w1", waveDone[0].Wave)
	assert.Equal(t, 1, waveDone[0].Succeeded)
}

func TestRunPauseBetweenWaves(t *testing.T) {
	h := newHarness(t, nil)
	rp := resolvedPlan(nil,
		plan.ResolvedWave{Name: "canary", PauseAfter: plan.PauseAlways,
			Migrations: []plan.ResolvedMigration{resolvedVM("canary-01", "u1", "canary")}},
		plan.ResolvedWave{Name: "prod", PauseAfter: plan.PauseContinue,
			Migrations: []plan.ResolvedMigration{resolvedVM("prod-01", "u2", "prod")}},
	)

	b, err := h.orch.Start(rp)
	require.NoError(t, err)
	b, err = h.orch.Run(context.Background(), b, rp)
	require.NoError(t, err)

	// Orchestrator stopped after the canary wave.
	assert.Equal(t, state.WavePaused, b.WaveRecordFor("canary").Status)
	assert.Equal(t, state.WavePending, b.WaveRecordFor("prod").Status)
	assert.Len(t, b.Completed(), 1)
	require.Len(t, h.recorder.ByKind(events.WavePaused), 1)

	// batch resume finishes the prod wave.
	b, err = h.orch.Resume(b.BatchID, rp)
	require.NoError(t, err)
	b, err = h.orch.Run(context.Background(), b, rp)
	require.NoError(t, err)

	assert.Len(t, b.Completed(), 2)
	assert.Equal(t, state.WaveCompleted, b.WaveRecordFor("prod").Status)
}

func TestRunPauseConfirmedInteractively(t *testing.T) {
	h := newHarness(t, nil, WithConfirm(func(wave string) bool { return true }))
	rp := resolvedPlan(nil,
		plan.ResolvedWave{Name: "canary", PauseAfter: plan.PauseAlways,
			Migrations: []plan.ResolvedMigration{resolvedVM("canary-01", "u1", "canary")}},
		plan.ResolvedWave{Name: "prod", PauseAfter: plan.PauseContinue,
			Migrations: []plan.ResolvedMigration{resolvedVM("prod-01", "u2", "prod")}},
	)

	b, err := h.orch.Start(rp)
	require.NoError(t, err)
	b, err = h.orch.Run(context.Background(), b, rp)
	require.NoError(t, err)

	assert.Len(t, b.Completed(), 2)
}

func TestRunPauseOnFailureOnlyPausesOnFailure(t *testing.T) {
	h := newHarness(t, nil)
	rp := resolvedPlan(nil,
		plan.ResolvedWave{Name: "w1", PauseAfter: plan.PauseOnFailure,
			Migrations: []plan.ResolvedMigration{resolvedVM("a", "u1", "w1")}},
		plan.ResolvedWave{Name: "w2", PauseAfter: plan.PauseContinue,
			Migrations: []plan.ResolvedMigration{resolvedVM("b", "u2", "w2")}},
	)

	b, err := h.orch.Start(rp)
	require.NoError(t, err)
	b, err = h.orch.Run(context.Background(), b, rp)
	require.NoError(t, err)

	// No failures: both waves ran.
	assert.Len(t, b.Completed(), 2)
	assert.Empty(t, h.recorder.ByKind(events.WavePaused))
}

func TestRunPauseOnFailurePausesWhenVMFails(t *testing.T) {
	h := newHarness(t, nil)
	h.storage.failVMs = map[string]int{"bad": 100}
	rp := resolvedPlan(nil,
		plan.ResolvedWave{Name: "w1", PauseAfter: plan.PauseOnFailure,
			Migrations: []plan.ResolvedMigration{resolvedVM("bad", "u1", "w1")}},
		plan.ResolvedWave{Name: "w2", PauseAfter: plan.PauseContinue,
			Migrations: []plan.ResolvedMigration{resolvedVM("good", "u2", "w2")}},
	)

	b, err := h.orch.Start(rp)
	require.NoError(t, err)
	b, err = h.orch.Run(context.Background(), b, rp)
	require.NoError(t, err)

	assert.Len(t, b.Failed(), 1)
	assert.Equal(t, state.WavePaused, b.WaveRecordFor("w1").Status)
	assert.Equal(t, state.WavePending, b.WaveRecordFor("w2").Status)
}

func TestWaveOrderingStrict(t *testing.T) {
	h := newHarness(t, nil)
	rp := resolvedPlan(nil,
		plan.ResolvedWave{Name: "w1", PauseAfter: plan.PauseContinue,
			Migrations: []plan.ResolvedMigration{
				resolvedVM("w1-a", "u1", "w1"), resolvedVM("w1-b", "u2", "w1"),
			}},
		plan.ResolvedWave{Name: "w2", PauseAfter: plan.PauseContinue,
			Migrations: []plan.ResolvedMigration{resolvedVM("w2-a", "u3", "w2")}},
	)

	b, err := h.orch.Start(rp)
	require.NoError(t, err)
	_, err = h.orch.Run(context.Background(), b, rp)
	require.NoError(t, err)

	// Every wave-1 VM terminates before any wave-2 stage starts.
	var w2Started, w1Terminal bool
	for _, e := range h.recorder.Events() {
		switch {
		case e.Kind == events.WaveCompleted && e.Wave == "w1":
			w1Terminal = true
		case e.Kind == events.StageStarted && e.Wave == "w2":
			w2Started = true
			assert.True(t, w1Terminal, "wave w2 stage started before wave w1 completed")
		}
	}
	assert.True(t, w2Started)
}

func TestConcurrencyCapHonoredAcrossBatch(t *testing.T) {
	h := newHarness(t, map[string]int{plan.ResourceDiskIO: 2, plan.ResourceGlobal: 20})

	var migrations []plan.ResolvedMigration
	for i := 0; i < 20; i++ {
		migrations = append(migrations, resolvedVM(
			fmt.Sprintf("vm-%02d", i), fmt.Sprintf("uuid-%02d", i), "w1"))
	}
	rp := resolvedPlan(map[string]int{plan.ResourceDiskIO: 2, plan.ResourceGlobal: 20},
		plan.ResolvedWave{Name: "w1", PauseAfter: plan.PauseContinue, Migrations: migrations})

	b, err := h.orch.Start(rp)
	require.NoError(t, err)
	b, err = h.orch.Run(context.Background(), b, rp)
	require.NoError(t, err)

	assert.Len(t, b.Completed(), 20)
	assert.LessOrEqual(t, h.limiter.Max(plan.ResourceDiskIO), 2)
}

func TestResumeSkipsCompletedKeepsStages(t *testing.T) {
	h := newHarness(t, nil)
	h.storage.failVMs = map[string]int{"flaky": 100}
	rp := resolvedPlan(nil, plan.ResolvedWave{
		Name: "w1", PauseAfter: plan.PauseContinue,
		Migrations: []plan.ResolvedMigration{
			resolvedVM("stable", "u1", "w1"),
			resolvedVM("flaky", "u2", "w1"),
		}})

	b, err := h.orch.Start(rp)
	require.NoError(t, err)
	b, err = h.orch.Run(context.Background(), b, rp)
	require.NoError(t, err)

	require.Len(t, b.Completed(), 1)
	require.Len(t, b.Failed(), 1)
	failedID := b.Failed()[0].MigrationID
	stagesBefore := append([]string{}, b.Failed()[0].CompletedStages...)
	require.NotEmpty(t, stagesBefore)

	// The uploader recovers; resume the batch.
	h.storage.mu.Lock()
	h.storage.failVMs = nil
	h.storage.mu.Unlock()

	b, err = h.orch.Resume(b.BatchID, rp)
	require.NoError(t, err)
	resumed := b.VMStates[failedID]
	assert.Equal(t, state.StatusPending, resumed.Status)
	assert.Equal(t, stagesBefore, resumed.CompletedStages)

	b, err = h.orch.Run(context.Background(), b, rp)
	require.NoError(t, err)
	assert.Len(t, b.Completed(), 2)
	assert.Empty(t, b.Failed())
}

func TestResumeRejectsChangedPlan(t *testing.T) {
	h := newHarness(t, nil)
	rp := resolvedPlan(nil, plan.ResolvedWave{
		Name: "w1", PauseAfter: plan.PauseContinue,
		Migrations: []plan.ResolvedMigration{resolvedVM("a", "u1", "w1")}})

	b, err := h.orch.Start(rp)
	require.NoError(t, err)

	changed := resolvedPlan(map[string]int{plan.ResourceDiskIO: 1}, rp.Waves...)
	_, err = h.orch.Resume(b.BatchID, changed)
	var verr *plan.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestDryRunPurity(t *testing.T) {
	h := newHarness(t, nil)
	rp := resolvedPlan(nil, plan.ResolvedWave{
		Name: "w1", PauseAfter: plan.PauseContinue,
		Migrations: []plan.ResolvedMigration{
			resolvedVM("a", "u1", "w1"), resolvedVM("b", "u2", "w1"),
		}})

	b, err := DryRun(rp, h.registry, eventsBusOf(h))
	require.NoError(t, err)

	assert.Len(t, b.Completed(), 2)

	// No state files, no subprocesses, no uploads.
	entries, readErr := os.ReadDir(h.cfg.BatchStateDir())
	if readErr == nil {
		assert.Empty(t, entries)
	} else {
		assert.True(t, os.IsNotExist(readErr))
	}
	assert.Zero(t, atomic.LoadInt32(&h.runner.calls))
	assert.Zero(t, atomic.LoadInt32(&h.storage.uploads))

	// Same event shape as a real run.
	assert.Len(t, h.recorder.ByKind(events.WaveCompleted), 1)
	assert.Len(t, h.recorder.ByKind(events.VMCompleted), 2)
}

// eventsBusOf rebuilds a bus wired to the harness recorder for entry
// points that take the bus directly.
func eventsBusOf(h *harness) *events.Bus {
	bus := events.NewBus()
	bus.Subscribe(h.recorder.Handle)
	return bus
}
