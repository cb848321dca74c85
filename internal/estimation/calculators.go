package estimation

import (
	"time"
)

// Stage rate model, derived from observed throughput on the reference
// orchestration host: NFC export ~3 min per 10 GiB per host slot,
// conversion ~1 min per 10 GiB per disk-io slot, upload ~1 min per GiB per
// s3 slot, plus fixed per-VM overhead for validate/adapt/import.
const (
	ExportMinutesPer10GiB  = 3.0
	ConvertMinutesPer10GiB = 1.0
	UploadMinutesPerGiB    = 1.0
	LinuxOverheadMinutes   = 4.0
	WindowsOverheadMinutes = 12.0
)

var _ Calculator = (*Export)(nil)

// Export models VMDK download time, parallelised over host slots.
type Export struct{}

func (Export) Name() string { return "export" }

func (Export) Calculate(p Params) (time.Duration, error) {
	slots := atLeastOne(p.HostSlots)
	minutes := p.TotalDiskGiB / 10 * ExportMinutesPer10GiB / float64(slots)
	return minutesOf(minutes), nil
}

var _ Calculator = (*Convert)(nil)

// Convert models qcow2 conversion, parallelised over disk-io slots.
type Convert struct{}

func (Convert) Name() string { return "convert" }

func (Convert) Calculate(p Params) (time.Duration, error) {
	slots := atLeastOne(p.DiskIOSlots)
	minutes := p.TotalDiskGiB / 10 * ConvertMinutesPer10GiB / float64(slots)
	return minutesOf(minutes), nil
}

var _ Calculator = (*Upload)(nil)

// Upload models S3 transfer, parallelised over upload slots.
type Upload struct{}

func (Upload) Name() string { return "upload" }

func (Upload) Calculate(p Params) (time.Duration, error) {
	slots := atLeastOne(p.S3Slots)
	minutes := p.TotalDiskGiB * UploadMinutesPerGiB / float64(slots)
	return minutesOf(minutes), nil
}

var _ Calculator = (*Overhead)(nil)

// Overhead models the per-VM fixed stages (validate, adapt, import,
// verify), parallelised over the global slots. Windows guests pay more for
// the driver injection and the UEFI boot probe.
type Overhead struct{}

func (Overhead) Name() string { return "overhead" }

func (Overhead) Calculate(p Params) (time.Duration, error) {
	slots := atLeastOne(p.GlobalSlots)
	minutes := (float64(p.LinuxCount)*LinuxOverheadMinutes +
		float64(p.WindowsCount)*WindowsOverheadMinutes) / float64(slots)
	return minutesOf(minutes), nil
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func minutesOf(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
