package vsphere

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/session/cache"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/vmware2scw/vmware2scw/internal/config"
	"github.com/vmware2scw/vmware2scw/internal/inventory"
)

// GovmomiClient implements Client against a live vCenter session.
type GovmomiClient struct {
	client *vim25.Client
	finder *find.Finder
	pc     *property.Collector
}

var _ Client = (*GovmomiClient)(nil)

// Connect logs in to vCenter using the session cache, the same way govc
// does, so repeated CLI invocations reuse the session.
func Connect(ctx context.Context, cfg config.VMwareConfig) (*GovmomiClient, error) {
	host := cfg.VCenter
	if !strings.HasPrefix(host, "http") {
		host = "https://" + host
	}
	if !strings.HasSuffix(host, "/sdk") {
		host += "/sdk"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing vCenter URL %s", cfg.VCenter)
	}
	u.User = url.UserPassword(cfg.Username, cfg.Password)

	s := &cache.Session{URL: u, Insecure: cfg.Insecure}
	c := new(vim25.Client)
	if err := s.Login(ctx, c, nil); err != nil {
		return nil, errors.Wrap(err, "logging in to vCenter")
	}

	return &GovmomiClient{
		client: c,
		finder: find.NewFinder(c, false),
		pc:     property.DefaultCollector(c),
	}, nil
}

func (g *GovmomiClient) ListVMs(ctx context.Context, filterHint string) ([]inventory.VMDescriptor, error) {
	pattern := "*"
	if filterHint != "" {
		pattern = filterHint
	}

	dcs, err := g.finder.DatacenterList(ctx, "*")
	if err != nil {
		return nil, errors.Wrap(err, "listing datacenters")
	}

	var out []inventory.VMDescriptor
	for _, dc := range dcs {
		g.finder.SetDatacenter(dc)
		vms, err := g.finder.VirtualMachineList(ctx, pattern)
		if err != nil {
			if _, notFound := err.(*find.NotFoundError); notFound {
				continue
			}
			return nil, errors.Wrapf(err, "listing VMs in %s", dc.Name())
		}

		refs := make([]types.ManagedObjectReference, 0, len(vms))
		for _, vm := range vms {
			refs = append(refs, vm.Reference())
		}
		var props []mo.VirtualMachine
		if err := g.pc.Retrieve(ctx, refs, nil, &props); err != nil {
			return nil, errors.Wrap(err, "retrieving VM properties")
		}

		for i := range props {
			desc, err := g.describe(ctx, dc.Name(), &props[i])
			if err != nil {
				zap.S().Named("vsphere").Warnf("skipping VM %s: %v", props[i].Name, err)
				continue
			}
			out = append(out, desc)
		}
	}
	return out, nil
}

func (g *GovmomiClient) describe(ctx context.Context, datacenter string, vm *mo.VirtualMachine) (inventory.VMDescriptor, error) {
	if vm.Config == nil {
		return inventory.VMDescriptor{}, errors.New("no config available")
	}

	family, full := inventory.NormalizeGuestOS(vm.Config.GuestId)
	if vm.Guest != nil && vm.Guest.GuestFullName != "" {
		full = vm.Guest.GuestFullName
	}

	firmware := inventory.FirmwareBIOS
	if vm.Config.Firmware == string(types.GuestOsDescriptorFirmwareTypeEfi) {
		firmware = inventory.FirmwareEFI
	}

	desc := inventory.VMDescriptor{
		Name:          vm.Name,
		UUID:          vm.Config.Uuid,
		CPUCount:      int(vm.Config.Hardware.NumCPU),
		MemoryMB:      int(vm.Config.Hardware.MemoryMB),
		PowerState:    inventory.PowerState(vm.Runtime.PowerState),
		GuestID:       vm.Config.GuestId,
		GuestOSFamily: family,
		GuestOSFull:   full,
		Firmware:      firmware,
		Datacenter:    datacenter,
	}

	if vm.Guest != nil {
		desc.ToolsStatus = string(vm.Guest.ToolsStatus)
	}

	for _, device := range vm.Config.Hardware.Device {
		switch d := device.(type) {
		case *types.VirtualDisk:
			disk := inventory.Disk{
				SizeGiB: float64(d.CapacityInBytes) / (1 << 30),
			}
			switch backing := d.Backing.(type) {
			case *types.VirtualDiskFlatVer2BackingInfo:
				disk.ThinProvisioned = backing.ThinProvisioned != nil && *backing.ThinProvisioned
				disk.DatastorePath = backing.FileName
				disk.IsShared = backing.Sharing == string(types.VirtualDiskSharingSharingMultiWriter)
			case *types.VirtualDiskRawDiskMappingVer1BackingInfo:
				disk.IsRDM = true
				disk.DatastorePath = backing.FileName
			}
			disk.Controller = controllerClass(vm.Config.Hardware.Device, d.ControllerKey)
			desc.Disks = append(desc.Disks, disk)
		}
		if nic, ok := device.(types.BaseVirtualEthernetCard); ok {
			card := nic.GetVirtualEthernetCard()
			n := inventory.NIC{
				MAC:         card.MacAddress,
				AdapterType: adapterType(device),
			}
			if card.Connectable != nil {
				n.Connected = card.Connectable.Connected
			}
			if backing, ok := card.Backing.(*types.VirtualEthernetCardNetworkBackingInfo); ok {
				n.Network = backing.DeviceName
			}
			desc.NICs = append(desc.NICs, n)
		}
	}

	if vm.Snapshot != nil {
		desc.SnapshotNames = snapshotNames(vm.Snapshot.RootSnapshotList)
	}

	if vm.Runtime.Host != nil {
		var host mo.HostSystem
		if err := g.pc.RetrieveOne(ctx, vm.Runtime.Host.Reference(), []string{"name", "parent"}, &host); err == nil {
			desc.Host = host.Name
			if host.Parent != nil {
				var cluster mo.ClusterComputeResource
				if err := g.pc.RetrieveOne(ctx, host.Parent.Reference(), []string{"name"}, &cluster); err == nil {
					desc.Cluster = cluster.Name
				}
			}
		}
	}

	desc.FolderPath = folderPath(ctx, g.pc, vm.Parent)
	return desc, nil
}

func (g *GovmomiClient) CreateSnapshot(ctx context.Context, vmUUID, name string, quiesce bool) (string, error) {
	vm, err := g.findByUUID(ctx, vmUUID)
	if err != nil {
		return "", err
	}

	// Reuse an existing snapshot of the reserved name; repeated calls are
	// resume-safe.
	if ref, err := vm.FindSnapshot(ctx, name); err == nil && ref != nil {
		return ref.Value, nil
	}

	task, err := vm.CreateSnapshot(ctx, name, "vmware2scw migration snapshot", false, quiesce)
	if err != nil {
		return "", errors.Wrap(err, "creating snapshot")
	}
	if err := task.Wait(ctx); err != nil {
		return "", errors.Wrap(err, "waiting for snapshot task")
	}

	ref, err := vm.FindSnapshot(ctx, name)
	if err != nil {
		return "", errors.Wrap(err, "locating created snapshot")
	}
	return ref.Value, nil
}

func (g *GovmomiClient) DeleteSnapshot(ctx context.Context, vmUUID, snapshotID string) error {
	vm, err := g.findByUUID(ctx, vmUUID)
	if err != nil {
		return err
	}
	consolidate := true
	ref := types.ManagedObjectReference{Type: "VirtualMachineSnapshot", Value: snapshotID}
	task, err := vm.RemoveSnapshot(ctx, ref.Value, false, &consolidate)
	if err != nil {
		return errors.Wrap(err, "removing snapshot")
	}
	return errors.Wrap(task.Wait(ctx), "waiting for snapshot removal")
}

func (g *GovmomiClient) ExportVMDKs(ctx context.Context, vmUUID, snapshotID, destDir string) ([]string, error) {
	vm, err := g.findByUUID(ctx, vmUUID)
	if err != nil {
		return nil, err
	}

	lease, err := vm.Export(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "starting NFC export lease")
	}
	info, err := lease.Wait(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "waiting for NFC lease")
	}

	updater := lease.StartUpdater(ctx, info)
	defer updater.Done()

	var paths []string
	for _, item := range info.Items {
		if !strings.HasSuffix(strings.ToLower(item.Path), ".vmdk") {
			continue
		}
		dest := filepath.Join(destDir, filepath.Base(item.Path))
		zap.S().Named("vsphere").Infof("downloading %s (%d bytes)", item.Path, item.Size)
		if err := lease.DownloadFile(ctx, dest, item, soap.DefaultDownload); err != nil {
			_ = lease.Abort(ctx, nil)
			return nil, errors.Wrapf(err, "downloading %s", item.Path)
		}
		paths = append(paths, dest)
	}

	if err := lease.Complete(ctx); err != nil {
		return nil, errors.Wrap(err, "completing NFC lease")
	}
	return paths, nil
}

func (g *GovmomiClient) TagVM(ctx context.Context, vmUUID, tag string) error {
	vm, err := g.findByUUID(ctx, vmUUID)
	if err != nil {
		return err
	}
	// Custom attribute notes are enough for marking migrated sources; the
	// tagging REST endpoint needs a separate session.
	var m mo.VirtualMachine
	if err := g.pc.RetrieveOne(ctx, vm.Reference(), []string{"config.annotation"}, &m); err != nil {
		return errors.Wrap(err, "reading annotation")
	}
	annotation := tag
	if m.Config != nil && m.Config.Annotation != "" {
		annotation = m.Config.Annotation + "\n" + tag
	}
	spec := types.VirtualMachineConfigSpec{Annotation: annotation}
	task, err := vm.Reconfigure(ctx, spec)
	if err != nil {
		return errors.Wrap(err, "tagging VM")
	}
	return errors.Wrap(task.Wait(ctx), "waiting for tag task")
}

func (g *GovmomiClient) PowerOff(ctx context.Context, vmUUID string) error {
	vm, err := g.findByUUID(ctx, vmUUID)
	if err != nil {
		return err
	}
	task, err := vm.PowerOff(ctx)
	if err != nil {
		return errors.Wrap(err, "powering off VM")
	}
	return errors.Wrap(task.Wait(ctx), "waiting for power off")
}

func (g *GovmomiClient) findByUUID(ctx context.Context, vmUUID string) (*object.VirtualMachine, error) {
	index := object.NewSearchIndex(g.client)
	ref, err := index.FindByUuid(ctx, nil, vmUUID, true, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "looking up VM %s", vmUUID)
	}
	if ref == nil {
		return nil, errors.Errorf("vm with uuid %s not found", vmUUID)
	}
	vm, ok := ref.(*object.VirtualMachine)
	if !ok {
		return nil, errors.Errorf("uuid %s does not resolve to a VM", vmUUID)
	}
	return vm, nil
}

func controllerClass(devices []types.BaseVirtualDevice, controllerKey int32) string {
	for _, d := range devices {
		if d.GetVirtualDevice().Key != controllerKey {
			continue
		}
		switch d.(type) {
		case *types.VirtualIDEController:
			return "ide"
		case *types.VirtualAHCIController, *types.VirtualSATAController:
			return "sata"
		case *types.VirtualNVMEController:
			return "nvme"
		case types.BaseVirtualSCSIController:
			return "scsi"
		}
	}
	return "scsi"
}

func adapterType(device types.BaseVirtualDevice) string {
	switch device.(type) {
	case *types.VirtualVmxnet3:
		return "vmxnet3"
	case *types.VirtualE1000:
		return "e1000"
	case *types.VirtualE1000e:
		return "e1000e"
	default:
		return "unknown"
	}
}

func snapshotNames(tree []types.VirtualMachineSnapshotTree) []string {
	var names []string
	for _, node := range tree {
		names = append(names, node.Name)
		names = append(names, snapshotNames(node.ChildSnapshotList)...)
	}
	return names
}

func folderPath(ctx context.Context, pc *property.Collector, parent *types.ManagedObjectReference) string {
	var segments []string
	ref := parent
	for ref != nil && ref.Type == "Folder" {
		var folder mo.Folder
		if err := pc.RetrieveOne(ctx, *ref, []string{"name", "parent"}, &folder); err != nil {
			break
		}
		if folder.Name != "vm" {
			segments = append([]string{folder.Name}, segments...)
		}
		ref = folder.Parent
	}
	return "/" + strings.Join(segments, "/")
}
