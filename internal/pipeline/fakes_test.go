package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmware2scw/vmware2scw/internal/catalog"
	"github.com/vmware2scw/vmware2scw/internal/inventory"
)

// fakeVSphere implements vsphere.Client in memory.
type fakeVSphere struct {
	mu        sync.Mutex
	snapshots map[string]string // vmUUID -> snapshot id
	exported  []string
	deleted   []string
	tagged    []string
	powered   []string
	exportErr error
}

func newFakeVSphere() *fakeVSphere {
	return &fakeVSphere{snapshots: map[string]string{}}
}

func (f *fakeVSphere) ListVMs(ctx context.Context, hint string) ([]inventory.VMDescriptor, error) {
	return nil, nil
}

func (f *fakeVSphere) CreateSnapshot(ctx context.Context, vmUUID, name string, quiesce bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.snapshots[vmUUID]; ok {
		return id, nil
	}
	id := "snap-" + vmUUID
	f.snapshots[vmUUID] = id
	return id, nil
}

func (f *fakeVSphere) DeleteSnapshot(ctx context.Context, vmUUID, snapshotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, snapshotID)
	delete(f.snapshots, vmUUID)
	return nil
}

func (f *fakeVSphere) ExportVMDKs(ctx context.Context, vmUUID, snapshotID, destDir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	path := filepath.Join(destDir, vmUUID+"-disk0.vmdk")
	if err := writeFile(path, []byte("vmdk")); err != nil {
		return nil, err
	}
	f.exported = append(f.exported, path)
	return []string{path}, nil
}

func (f *fakeVSphere) TagVM(ctx context.Context, vmUUID, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagged = append(f.tagged, vmUUID+"="+tag)
	return nil
}

func (f *fakeVSphere) PowerOff(ctx context.Context, vmUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.powered = append(f.powered, vmUUID)
	return nil
}

// fakeStorage implements objstore.Storage in memory.
type fakeStorage struct {
	mu        sync.Mutex
	objects   map[string]bool
	uploads   int
	uploadErr func(attempt int) error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string]bool{}}
}

func (f *fakeStorage) Upload(ctx context.Context, localPath, bucket, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.uploadErr != nil {
		if err := f.uploadErr(f.uploads); err != nil {
			return "", err
		}
	}
	f.objects[bucket+"/"+key] = true
	return "https://s3.example/" + bucket + "/" + key, nil
}

func (f *fakeStorage) Delete(ctx context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, bucket+"/"+key)
	return nil
}

func (f *fakeStorage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[bucket+"/"+key], nil
}

// fakeCloud implements scaleway.API in memory.
type fakeCloud struct {
	mu        sync.Mutex
	snapshots map[string]string // name -> id
	images    map[string]string
	seq       int
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{snapshots: map[string]string{}, images: map[string]string{}}
}

func (f *fakeCloud) CreateSnapshotFromObject(ctx context.Context, zone, name, bucket, key, volumeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("scw-snap-%d", f.seq)
	f.snapshots[name] = id
	return id, nil
}

func (f *fakeCloud) WaitSnapshot(ctx context.Context, zone, snapshotID string, timeout time.Duration) (string, error) {
	return "available", nil
}

func (f *fakeCloud) CreateImage(ctx context.Context, zone, name, rootSnapshotID, arch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("scw-img-%d", f.seq)
	f.images[name] = id
	return id, nil
}

func (f *fakeCloud) FindSnapshotByName(ctx context.Context, zone, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[name], nil
}

func (f *fakeCloud) FindImageByName(ctx context.Context, zone, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[name], nil
}

func (f *fakeCloud) GetImageStatus(ctx context.Context, zone, imageID string) (string, error) {
	return "available", nil
}

func (f *fakeCloud) ListInstanceTypes(ctx context.Context, zone string) ([]catalog.InstanceType, error) {
	return nil, nil
}

// fakeRunner records invocations instead of shelling out.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error // command name -> error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fail: map[string]error{}}
}

func (f *fakeRunner) Run(ctx context.Context, log io.Writer, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if err, ok := f.fail[name]; ok && err != nil {
		return "", err
	}
	return "ok", nil
}

// nopLimiter satisfies Limiter without limiting anything.
type nopLimiter struct{}

func (nopLimiter) Acquire(ctx context.Context, resources []Resource) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() {}, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
