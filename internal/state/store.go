package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Store persists batch state as JSON files under {work_dir}/batch-state.
// Every write goes to a sibling temp file, is fsynced, then atomically
// renamed over the target, so a crash leaves either the old or the new
// snapshot but never a torn one. In-process writers are serialised by a
// single mutex.
type Store struct {
	dir string

	mu sync.Mutex
	// perVMFiles additionally mirrors each MigrationState to a
	// vm-{migration_id}.json for operator readability. The batch file
	// stays authoritative.
	perVMFiles bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPerVMFiles enables the readable per-VM mirror files.
func WithPerVMFiles() StoreOption {
	return func(s *Store) { s.perVMFiles = true }
}

func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{dir: dir}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) batchPath(batchID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("batch-%s.json", batchID))
}

func (s *Store) vmPath(migrationID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("vm-%s.json", migrationID))
}

// Save writes a full BatchState snapshot.
func (s *Store) Save(b *BatchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(b)
}

func (s *Store) saveLocked(b *BatchState) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, "creating state dir")
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding batch state")
	}
	if err := atomicWrite(s.batchPath(b.BatchID), data); err != nil {
		return err
	}
	if s.perVMFiles {
		for _, vm := range b.VMStates {
			vmData, err := json.MarshalIndent(vm, "", "  ")
			if err != nil {
				return errors.Wrap(err, "encoding vm state")
			}
			if err := atomicWrite(s.vmPath(vm.MigrationID), vmData); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads the BatchState for batchID.
func (s *Store) Load(batchID string) (*BatchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(batchID)
}

func (s *Store) loadLocked(batchID string) (*BatchState, error) {
	data, err := os.ReadFile(s.batchPath(batchID))
	if err != nil {
		return nil, errors.Wrapf(err, "loading batch %s", batchID)
	}
	b := &BatchState{}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, errors.Wrapf(err, "decoding batch %s", batchID)
	}
	return b, nil
}

// UpdateVM applies patch to one MigrationState under the store mutex as a
// read-modify-write of the batch file. The patched state is returned.
func (s *Store) UpdateVM(batchID, migrationID string, patch func(*MigrationState)) (*MigrationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.loadLocked(batchID)
	if err != nil {
		return nil, err
	}
	vm, ok := b.VMStates[migrationID]
	if !ok {
		return nil, errors.Errorf("batch %s has no migration %s", batchID, migrationID)
	}
	patch(vm)
	if err := s.saveLocked(b); err != nil {
		return nil, err
	}
	return vm, nil
}

// ListBatches returns the known batch ids, newest first by file mtime.
func (s *Store) ListBatches() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "listing state dir")
	}

	type batchFile struct {
		id    string
		mtime int64
	}
	var batches []batchFile
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "batch-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "batch-"), ".json")
		batches = append(batches, batchFile{id: id, mtime: info.ModTime().UnixNano()})
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].mtime > batches[j].mtime })

	ids := make([]string, len(batches))
	for i, b := range batches {
		ids[i] = b.id
	}
	return ids, nil
}

// LatestBatch returns the most recently written batch id, or "" when the
// store is empty.
func (s *Store) LatestBatch() (string, error) {
	ids, err := s.ListBatches()
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// atomicWrite writes data to path via a sibling temp file, fsync, and
// rename. Readers never observe a partial file.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "creating temp state file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "writing temp state file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "syncing temp state file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "closing temp state file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "renaming temp state file")
	}
	return nil
}
