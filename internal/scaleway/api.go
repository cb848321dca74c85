package scaleway

import (
	"context"
	"time"

	"github.com/vmware2scw/vmware2scw/internal/catalog"
)

// SnapshotStatus values returned by WaitSnapshot.
const (
	SnapshotAvailable = "available"
	SnapshotError     = "error"
)

// API is the consumed cloud-provider surface: snapshot import from object
// storage, image creation, and catalogue reconciliation.
type API interface {
	// CreateSnapshotFromObject imports bucket/key as a block snapshot and
	// returns its id.
	CreateSnapshotFromObject(ctx context.Context, zone, name, bucket, key, volumeType string) (string, error)

	// WaitSnapshot polls the snapshot until it leaves the importing state
	// or timeout elapses, returning the final status.
	WaitSnapshot(ctx context.Context, zone, snapshotID string, timeout time.Duration) (string, error)

	CreateImage(ctx context.Context, zone, name, rootSnapshotID, arch string) (string, error)

	// FindSnapshotByName and FindImageByName return the id of an existing
	// resource with that exact name, or "". Import stages use the
	// migration id as the name, which is their idempotency key.
	FindSnapshotByName(ctx context.Context, zone, name string) (string, error)
	FindImageByName(ctx context.Context, zone, name string) (string, error)

	GetImageStatus(ctx context.Context, zone, imageID string) (string, error)

	ListInstanceTypes(ctx context.Context, zone string) ([]catalog.InstanceType, error)
}
