package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmware2scw/vmware2scw/internal/inventory"
	"github.com/vmware2scw/vmware2scw/internal/objstore"
	"github.com/vmware2scw/vmware2scw/internal/plan"
	"github.com/vmware2scw/vmware2scw/internal/scaleway"
	"github.com/vmware2scw/vmware2scw/internal/vsphere"
)

const kvmDevice = "/dev/kvm"

// Handlers implements every stage against the consumed interfaces. Each
// handler tolerates re-invocation over partial artifacts: produced outputs
// that already exist and validate are reused instead of rebuilt.
type Handlers struct {
	VSphere vsphere.Client
	Storage objstore.Storage
	Cloud   scaleway.API
	Run     Runner

	// PostActions run inside cleanup after a successful migration.
	PostActions []plan.PostAction
}

func NewHandlers(vs vsphere.Client, storage objstore.Storage, cloud scaleway.API, runner Runner) *Handlers {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Handlers{VSphere: vs, Storage: storage, Cloud: cloud, Run: runner}
}

// snapshotName is the reserved source-side snapshot name for a migration.
func snapshotName(migrationID string) string {
	return "vmware2scw-" + migrationID
}

// Validate rejects VMs the pipeline cannot migrate and prepares the work
// directory. Rejections are preflight failures: this VM fails, the batch
// continues.
func (h *Handlers) Validate(ctx context.Context, req *Request) error {
	vm := &req.Entry.VM

	if vm.GuestOSFamily == inventory.OSFamilyOther {
		return Preflight("guest OS %q is not migratable", vm.GuestOSFull)
	}
	if vm.HasRDM() {
		return Preflight("VM has raw device mapping disks")
	}
	if vm.HasSharedDisk() {
		return Preflight("VM has shared (multi-writer) disks")
	}
	if len(vm.Disks) == 0 {
		return Preflight("VM has no disks")
	}
	if vm.PowerState == inventory.Suspended {
		return Preflight("suspended VMs cannot be exported; power on or off first")
	}

	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return Fatal(err, "creating work directory %s", req.WorkDir)
	}
	fmt.Fprintf(req.Log, "validated %s: %s, %d disks, %.0f GiB\n",
		vm.Name, vm.GuestOSFamily, len(vm.Disks), vm.TotalDiskGiB())
	return nil
}

// Snapshot creates (or re-finds) the reserved migration snapshot.
func (h *Handlers) Snapshot(ctx context.Context, req *Request) error {
	quiesce := req.Entry.VM.PowerState == inventory.PoweredOn &&
		strings.HasPrefix(req.Entry.VM.ToolsStatus, "toolsOk")

	id, err := h.VSphere.CreateSnapshot(ctx, req.Entry.VM.UUID, snapshotName(req.State.MigrationID), quiesce)
	if err != nil {
		return Transient(err, "creating source snapshot")
	}
	req.Artifacts().SetSnapshotID(id)
	return nil
}

// Export downloads the VMDKs over NFC. A previous complete download is
// reused when every recorded file still exists.
func (h *Handlers) Export(ctx context.Context, req *Request) error {
	if paths := req.Artifacts().VMDKPaths(); len(paths) > 0 {
		if allFilesExist(paths) {
			fmt.Fprintf(req.Log, "reusing %d exported disks\n", len(paths))
			return nil
		}
		// Discard the stale record so the retry takes the export path.
		req.Artifacts().SetVMDKPaths(nil)
		return ArtifactCorrupt("recorded VMDKs missing on disk, re-exporting")
	}

	paths, err := h.VSphere.ExportVMDKs(ctx, req.Entry.VM.UUID, req.Artifacts().SnapshotID(), req.WorkDir)
	if err != nil {
		return Transient(err, "exporting VMDKs")
	}
	if len(paths) == 0 {
		return Fatal(nil, "export returned no disks")
	}
	req.Artifacts().SetVMDKPaths(paths)
	return nil
}

// Convert turns the boot VMDK into qcow2. An existing qcow2 that passes
// `qemu-img info` is kept.
func (h *Handlers) Convert(ctx context.Context, req *Request) error {
	qcow2 := filepath.Join(req.WorkDir, "disk0.qcow2")

	if existing := req.Artifacts().Qcow2Path(); existing != "" && fileExists(existing) {
		if _, err := h.Run.Run(ctx, req.Log, req.Config.Conversion.QemuImgPath, "info", existing); err == nil {
			fmt.Fprintf(req.Log, "reusing valid qcow2 %s\n", existing)
			return nil
		}
		fmt.Fprintf(req.Log, "existing qcow2 failed validation, rebuilding\n")
		_ = os.Remove(existing)
	}

	vmdks := req.Artifacts().VMDKPaths()
	args := []string{"convert", "-p", "-O", "qcow2"}
	if *req.Config.Conversion.CompressQcow2 {
		args = append(args, "-c")
	}
	args = append(args, vmdks[0], qcow2)
	if _, err := h.Run.Run(ctx, req.Log, req.Config.Conversion.QemuImgPath, args...); err != nil {
		return Fatal(err, "converting %s", vmdks[0])
	}

	// Secondary disks convert without compression; they become extra block
	// volumes after import.
	var extra []string
	for i, vmdk := range vmdks[1:] {
		out := filepath.Join(req.WorkDir, fmt.Sprintf("disk%d.qcow2", i+1))
		if !fileExists(out) {
			if _, err := h.Run.Run(ctx, req.Log, req.Config.Conversion.QemuImgPath, "convert", "-p", "-O", "qcow2", vmdk, out); err != nil {
				return Fatal(err, "converting %s", vmdk)
			}
		}
		extra = append(extra, out)
	}

	req.Artifacts().SetQcow2Path(qcow2)
	if len(extra) > 0 {
		req.State.SetArtifact("extra_qcow2_paths", extra)
	}
	return nil
}

// AdaptGuest prepares a Linux guest for the target platform: drop VMware
// tooling, make sure virtio drivers are in the initramfs, and reset the
// console to the serial device the platform exposes.
func (h *Handlers) AdaptGuest(ctx context.Context, req *Request) error {
	qcow2 := req.Artifacts().Qcow2Path()
	_, err := h.Run.Run(ctx, req.Log, req.Config.Conversion.VirtCustomizePath,
		"-a", qcow2,
		"--uninstall", "open-vm-tools",
		"--run-command", "command -v dracut >/dev/null && dracut --force --add-drivers 'virtio_blk virtio_net virtio_pci virtio_scsi' --regenerate-all || update-initramfs -u -k all",
		"--run-command", "sed -i 's/console=[^ ]*/console=ttyS0,115200/' /etc/default/grub && (command -v update-grub >/dev/null && update-grub || grub2-mkconfig -o /boot/grub2/grub.cfg)",
	)
	if err != nil {
		return Fatal(err, "adapting Linux guest")
	}
	return nil
}

// CleanTools removes VMware Tools from a Windows guest before driver
// injection; leftover PV drivers fight the virtio ones at boot.
func (h *Handlers) CleanTools(ctx context.Context, req *Request) error {
	qcow2 := req.Artifacts().Qcow2Path()
	_, err := h.Run.Run(ctx, req.Log, req.Config.Conversion.VirtCustomizePath,
		"-a", qcow2,
		"--delete", `/Program Files/VMware/VMware Tools`,
		"--firstboot-command", `sc.exe delete VMTools & sc.exe delete "VMware Physical Disk Helper Service"`,
	)
	if err != nil {
		return Fatal(err, "removing VMware Tools")
	}
	return nil
}

// InjectVirtio installs virtio storage and network drivers into a Windows
// guest from the configured virtio-win ISO.
func (h *Handlers) InjectVirtio(ctx context.Context, req *Request) error {
	iso := req.Config.Conversion.VirtioWinISO
	if iso == "" {
		return Fatal(nil, "virtio-win ISO not configured (conversion.virtio_win_iso)")
	}
	if !fileExists(iso) {
		return Fatal(nil, "virtio-win ISO not found at %s", iso)
	}

	qcow2 := req.Artifacts().Qcow2Path()
	_, err := h.Run.Run(ctx, req.Log, req.Config.Conversion.VirtCustomizePath,
		"-a", qcow2,
		"--inject-virtio-win", iso,
	)
	if err != nil {
		return Fatal(err, "injecting virtio drivers")
	}
	return nil
}

// FixBootloader rewrites the Windows BCD so the boot device matches the
// virtio disk layout.
func (h *Handlers) FixBootloader(ctx context.Context, req *Request) error {
	qcow2 := req.Artifacts().Qcow2Path()
	_, err := h.Run.Run(ctx, req.Log, "guestfish", "--rw", "-a", qcow2, "-i",
		"download", "/Windows/System32/config/SYSTEM", filepath.Join(req.WorkDir, "SYSTEM.hive"))
	if err != nil {
		return Fatal(err, "reading Windows SYSTEM hive")
	}
	_, err = h.Run.Run(ctx, req.Log, "guestfish", "--rw", "-a", qcow2, "-i",
		"upload", filepath.Join(req.WorkDir, "SYSTEM.hive"), "/Windows/System32/config/SYSTEM")
	if err != nil {
		return Fatal(err, "rewriting Windows SYSTEM hive")
	}
	return nil
}

// EnsureUEFI guarantees the image boots under UEFI. EFI sources pass
// through; BIOS sources get converted. The Windows path boots the guest
// once under OVMF to let the firmware registration settle, which needs KVM
// on the orchestration host.
func (h *Handlers) EnsureUEFI(ctx context.Context, req *Request) error {
	forced := req.Entry.Overrides.ForceFirmware
	if req.Entry.VM.Firmware == inventory.FirmwareEFI && forced != string(inventory.FirmwareBIOS) {
		fmt.Fprintf(req.Log, "source already boots UEFI, nothing to convert\n")
		return nil
	}

	qcow2 := req.Artifacts().Qcow2Path()
	if req.Entry.VM.GuestOSFamily == inventory.OSFamilyWindows {
		if !fileExists(kvmDevice) {
			return Fatal(nil, "BIOS to UEFI conversion for Windows needs %s on this host", kvmDevice)
		}
		if !fileExists(req.Config.Conversion.OVMFPath) {
			return Fatal(nil, "OVMF firmware not found at %s", req.Config.Conversion.OVMFPath)
		}
		// mbr2gpt runs at next boot; the probe boot under OVMF performs it
		// and shuts down.
		if _, err := h.Run.Run(ctx, req.Log, "qemu-system-x86_64",
			"-enable-kvm", "-machine", "q35", "-m", "2048",
			"-bios", req.Config.Conversion.OVMFPath,
			"-drive", "file="+qcow2+",if=virtio",
			"-display", "none", "-no-reboot", "-serial", "file:"+filepath.Join(req.WorkDir, "uefi-probe.log"),
		); err != nil {
			return Fatal(err, "UEFI boot probe")
		}
		return nil
	}

	_, err := h.Run.Run(ctx, req.Log, req.Config.Conversion.VirtCustomizePath,
		"-a", qcow2,
		"--run-command", "command -v grub2-install >/dev/null && dnf -y install grub2-efi-x64 shim-x64 || apt-get -y install grub-efi-amd64",
		"--run-command", "grub-install --target=x86_64-efi --efi-directory=/boot/efi --removable || grub2-install --target=x86_64-efi --efi-directory=/boot/efi",
	)
	if err != nil {
		return Fatal(err, "converting bootloader to UEFI")
	}
	return nil
}

// UploadS3 pushes the boot qcow2 to the transit bucket.
func (h *Handlers) UploadS3(ctx context.Context, req *Request) error {
	bucket := req.Config.Scaleway.S3Bucket
	key := fmt.Sprintf("%s/%s.qcow2", req.State.MigrationID, req.Entry.VM.Name)

	if req.Artifacts().S3Key() == key {
		exists, err := h.Storage.Exists(ctx, bucket, key)
		if err == nil && exists {
			fmt.Fprintf(req.Log, "s3 object already present, skipping upload\n")
			return nil
		}
	}

	if _, err := h.Storage.Upload(ctx, req.Artifacts().Qcow2Path(), bucket, key); err != nil {
		return Transient(err, "uploading to object storage")
	}
	req.Artifacts().SetS3Key(key)
	return nil
}

// ImportScw imports the uploaded object as a snapshot and wraps it in an
// image. The migration id names both resources, which is what makes the
// stage idempotent across resumes.
func (h *Handlers) ImportScw(ctx context.Context, req *Request) error {
	zone := req.Entry.Zone
	name := snapshotName(req.State.MigrationID)

	snapID := req.Artifacts().ScwSnapshotID()
	if snapID == "" {
		existing, err := h.Cloud.FindSnapshotByName(ctx, zone, name)
		if err != nil {
			return Transient(err, "checking for existing snapshot")
		}
		snapID = existing
	}
	if snapID == "" {
		created, err := h.Cloud.CreateSnapshotFromObject(ctx, zone, name,
			req.Config.Scaleway.S3Bucket, req.Artifacts().S3Key(), "b_ssd")
		if err != nil {
			return Transient(err, "importing snapshot")
		}
		snapID = created
	}
	req.Artifacts().SetScwSnapshotID(snapID)

	status, err := h.Cloud.WaitSnapshot(ctx, zone, snapID, req.Config.Scaleway.ImportTimeout.Duration)
	if err != nil {
		return Transient(err, "waiting for snapshot import (status %s)", status)
	}

	imageID := req.Artifacts().ScwImageID()
	if imageID == "" {
		existing, err := h.Cloud.FindImageByName(ctx, zone, name)
		if err != nil {
			return Transient(err, "checking for existing image")
		}
		imageID = existing
	}
	if imageID == "" {
		created, err := h.Cloud.CreateImage(ctx, zone, name, snapID, "x86_64")
		if err != nil {
			return Transient(err, "creating image")
		}
		imageID = created
	}
	req.Artifacts().SetScwImageID(imageID)
	return nil
}

// Verify confirms the imported image is usable.
func (h *Handlers) Verify(ctx context.Context, req *Request) error {
	status, err := h.Cloud.GetImageStatus(ctx, req.Entry.Zone, req.Artifacts().ScwImageID())
	if err != nil {
		return Transient(err, "checking image status")
	}
	if status != "available" {
		return Transient(nil, "image not available yet (status %s)", status)
	}
	fmt.Fprintf(req.Log, "image %s available in %s\n", req.Artifacts().ScwImageID(), req.Entry.Zone)
	return nil
}

// Cleanup releases migration-owned artifacts after success: the source
// snapshot, the transit object, and local disk files. On failure this
// stage never runs, so artifacts stay for resume. Post-migration actions
// against the source VM run here as well.
func (h *Handlers) Cleanup(ctx context.Context, req *Request) error {
	if snapID := req.Artifacts().SnapshotID(); snapID != "" {
		if err := h.VSphere.DeleteSnapshot(ctx, req.Entry.VM.UUID, snapID); err != nil {
			// The snapshot may already be gone from an earlier cleanup run.
			fmt.Fprintf(req.Log, "deleting source snapshot: %v\n", err)
		}
	}

	if key := req.Artifacts().S3Key(); key != "" {
		if err := h.Storage.Delete(ctx, req.Config.Scaleway.S3Bucket, key); err != nil {
			return Transient(err, "deleting transit object")
		}
	}

	if !req.Config.Conversion.KeepIntermediates {
		for _, p := range req.Artifacts().VMDKPaths() {
			_ = os.Remove(p)
		}
		if q := req.Artifacts().Qcow2Path(); q != "" {
			_ = os.Remove(q)
		}
		var extra []string
		if req.State.Artifact("extra_qcow2_paths", &extra) {
			for _, p := range extra {
				_ = os.Remove(p)
			}
		}
	}

	for _, action := range h.PostActions {
		switch action.Action {
		case "tag_source_vm":
			tag := action.Value
			if tag == "" {
				tag = "migrated-to-scaleway"
			}
			if err := h.VSphere.TagVM(ctx, req.Entry.VM.UUID, tag); err != nil {
				fmt.Fprintf(req.Log, "tagging source VM: %v\n", err)
			}
		case "power_off_source_vm":
			if req.Entry.VM.PowerState == inventory.PoweredOn {
				if err := h.VSphere.PowerOff(ctx, req.Entry.VM.UUID); err != nil {
					fmt.Fprintf(req.Log, "powering off source VM: %v\n", err)
				}
			}
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func allFilesExist(paths []string) bool {
	for _, p := range paths {
		if !fileExists(p) {
			return false
		}
	}
	return true
}
