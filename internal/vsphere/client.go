package vsphere

import (
	"context"

	"github.com/vmware2scw/vmware2scw/internal/inventory"
)

// Client is the consumed vCenter surface. The pipeline and the inventory
// commands depend on this interface; the govmomi implementation lives in
// govmomi.go and fakes live in the tests that need them.
type Client interface {
	// ListVMs returns descriptors for all VMs visible to the session. The
	// filter hint narrows server-side collection when supported (a glob on
	// VM name); callers still filter the result themselves.
	ListVMs(ctx context.Context, filterHint string) ([]inventory.VMDescriptor, error)

	// CreateSnapshot snapshots the VM and returns the snapshot id. When a
	// snapshot with the same name already exists its id is returned, which
	// makes the call safe to repeat after a crash.
	CreateSnapshot(ctx context.Context, vmUUID, name string, quiesce bool) (string, error)

	DeleteSnapshot(ctx context.Context, vmUUID, snapshotID string) error

	// ExportVMDKs downloads the VM's disks (at the given snapshot) into
	// destDir over an NFC lease and returns the local paths in disk order.
	ExportVMDKs(ctx context.Context, vmUUID, snapshotID, destDir string) ([]string, error)

	TagVM(ctx context.Context, vmUUID, tag string) error

	PowerOff(ctx context.Context, vmUUID string) error
}
