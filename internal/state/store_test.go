package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBatch(id string) *BatchState {
	return &BatchState{
		BatchID:    id,
		CreatedAt:  time.Now().UTC(),
		PlanDigest: "digest",
		WaveStatus: []WaveRecord{{Name: "w1", Status: WavePending}},
		VMStates: map[string]*MigrationState{
			"m1": {
				MigrationID: "m1",
				BatchID:     id,
				VMName:      "web-01",
				VMUUID:      "uuid-1",
				Status:      StatusPending,
			},
		},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()
	store := NewStore(t.TempDir())

	b := newBatch("abc123")
	require.NoError(t, store.Save(b))

	loaded, err := store.Load("abc123")
	require.NoError(t, err)
	assert.Equal(t, b.BatchID, loaded.BatchID)
	assert.Equal(t, b.PlanDigest, loaded.PlanDigest)
	require.Contains(t, loaded.VMStates, "m1")
	assert.Equal(t, StatusPending, loaded.VMStates["m1"].Status)
}

func TestSaveLeavesNoTempFileBehind(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := NewStore(dir)

	require.NoError(t, store.Save(newBatch("abc123")))

	_, err := os.Stat(filepath.Join(dir, "batch-abc123.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadToleratesStrayTempFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := NewStore(dir)

	require.NoError(t, store.Save(newBatch("abc123")))
	// Simulate a crash that left a torn temp file behind.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "batch-abc123.json.tmp"), []byte("{\"truncat"), 0o644))

	loaded, err := store.Load("abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", loaded.BatchID)
}

func TestUpdateVMIsReadModifyWrite(t *testing.T) {
	t.Parallel()
	store := NewStore(t.TempDir())
	require.NoError(t, store.Save(newBatch("abc123")))

	updated, err := store.UpdateVM("abc123", "m1", func(m *MigrationState) {
		m.Status = StatusRunning
		m.MarkStageCompleted("validate")
		m.SetArtifact("qcow2_path", "/work/m1/disk.qcow2")
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, updated.Status)

	loaded, err := store.Load("abc123")
	require.NoError(t, err)
	vm := loaded.VMStates["m1"]
	assert.Equal(t, StatusRunning, vm.Status)
	assert.True(t, vm.StageCompleted("validate"))
	assert.Equal(t, "/work/m1/disk.qcow2", vm.ArtifactString("qcow2_path"))
}

func TestUpdateVMUnknownMigration(t *testing.T) {
	t.Parallel()
	store := NewStore(t.TempDir())
	require.NoError(t, store.Save(newBatch("abc123")))

	_, err := store.UpdateVM("abc123", "nope", func(m *MigrationState) {})
	assert.Error(t, err)
}

func TestCompletedStagesSurviveCrashBetweenWrites(t *testing.T) {
	t.Parallel()
	store := NewStore(t.TempDir())
	require.NoError(t, store.Save(newBatch("abc123")))

	for _, stage := range []string{"validate", "snapshot", "export"} {
		_, err := store.UpdateVM("abc123", "m1", func(m *MigrationState) {
			m.MarkStageCompleted(stage)
		})
		require.NoError(t, err)

		// Each update is observable immediately; a crash after this point
		// cannot lose it.
		reread, err := store.Load("abc123")
		require.NoError(t, err)
		assert.True(t, reread.VMStates["m1"].StageCompleted(stage))
	}
}

func TestListBatchesAndLatest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := NewStore(dir)

	empty, err := store.ListBatches()
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, store.Save(newBatch("old111")))
	// Make mtimes distinguishable.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "batch-old111.json"), old, old))
	require.NoError(t, store.Save(newBatch("new222")))

	ids, err := store.ListBatches()
	require.NoError(t, err)
	assert.Equal(t, []string{"new222", "old111"}, ids)

	latest, err := store.LatestBatch()
	require.NoError(t, err)
	assert.Equal(t, "new222", latest)
}

func TestPerVMFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := NewStore(dir, WithPerVMFiles())

	require.NoError(t, store.Save(newBatch("abc123")))
	_, err := os.Stat(filepath.Join(dir, "vm-m1.json"))
	assert.NoError(t, err)
}

func TestMigrationIDStable(t *testing.T) {
	t.Parallel()

	a := MigrationID("batch1", "uuid-a")
	b := MigrationID("batch1", "uuid-a")
	c := MigrationID("batch1", "uuid-b")
	d := MigrationID("batch2", "uuid-a")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 8)
}

func TestNewBatchID(t *testing.T) {
	t.Parallel()
	id := NewBatchID()
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, NewBatchID())
}
