package estimation

import (
	"time"
)

// Calculator estimates one phase of the migration (export, convert,
// upload, fixed overhead). Calculators are pure; all inputs arrive as
// params.
type Calculator interface {
	// Name keys this calculator's result in the breakdown.
	Name() string
	// Calculate returns the phase duration for the given params.
	Calculate(params Params) (time.Duration, error)
}

// Params carries the measurable plan facts every calculator draws from.
type Params struct {
	TotalDiskGiB   float64
	VMCount        int
	LinuxCount     int
	WindowsCount   int
	// Concurrency caps, after plan defaults.
	HostSlots   int
	DiskIOSlots int
	S3Slots     int
	GlobalSlots int
}

// Estimate is the pre-flight projection for a plan.
type Estimate struct {
	TotalVMs           int                      `json:"total_vms"`
	LinuxVMs           int                      `json:"linux_vms"`
	WindowsVMs         int                      `json:"windows_vms"`
	TotalDiskGiB       float64                  `json:"total_disk_gb"`
	WorkSpaceGiB       float64                  `json:"required_work_space_gb"`
	Duration           time.Duration            `json:"estimated_duration"`
	Breakdown          map[string]time.Duration `json:"breakdown"`
	MonthlyCostEUR     float64                  `json:"estimated_monthly_cost_eur"`
	Warnings           []string                 `json:"warnings,omitempty"`
	UnmappableVMs      []string                 `json:"unmappable_vms,omitempty"`
}
