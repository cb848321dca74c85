package plan

import (
	"github.com/vmware2scw/vmware2scw/internal/sizing"
)

// CurrentVersion is the only plan schema version this build accepts.
const CurrentVersion = 1

// DefaultPriority applies to entries that do not set one. Lower wins.
const DefaultPriority = 5

// PausePolicy governs what happens after a wave completes.
type PausePolicy string

const (
	PauseContinue  PausePolicy = "continue"
	PauseAlways    PausePolicy = "pause"
	PauseOnFailure PausePolicy = "pause_on_failure"
)

// ResourceClass keys the per-resource concurrency caps.
const (
	ResourceGlobal     = "global"
	ResourcePerHost    = "per_esxi_host"
	ResourceDiskIO     = "disk_io"
	ResourceS3Upload   = "s3_upload"
	ResourceScwAPI     = "scw_api"
)

// DefaultConcurrency returns the cap defaults from the plan schema.
func DefaultConcurrency() map[string]int {
	return map[string]int{
		ResourceGlobal:   10,
		ResourcePerHost:  4,
		ResourceDiskIO:   3,
		ResourceS3Upload: 6,
		ResourceScwAPI:   5,
	}
}

// Plan is the root object of a migration plan file.
type Plan struct {
	Version       int                    `json:"version" validate:"eq=1"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Defaults      Defaults               `json:"defaults,omitempty"`
	Concurrency   map[string]int         `json:"concurrency,omitempty"`
	Migrations    []MigrationEntry       `json:"migrations" validate:"min=1,dive"`
	Exclude       []Selector             `json:"exclude,omitempty" validate:"dive"`
	Waves         []Wave                 `json:"waves,omitempty" validate:"dive"`
	PostMigration []PostAction           `json:"post_migration,omitempty" validate:"dive"`
}

// Defaults are merged last-wins into each migration entry.
type Defaults struct {
	Zone           string          `json:"zone,omitempty"`
	SizingStrategy sizing.Strategy `json:"sizing_strategy,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
}

// Selector picks VMs either by exact name or by glob pattern. Exactly one
// of the two must be set.
type Selector struct {
	VMName    string `json:"vm_name,omitempty"`
	VMPattern string `json:"vm_pattern,omitempty"`
}

// IsEmpty reports whether neither field is set.
func (s Selector) IsEmpty() bool {
	return s.VMName == "" && s.VMPattern == ""
}

// MigrationEntry is one planned migration.
type MigrationEntry struct {
	Selector
	TargetType     string          `json:"target_type,omitempty"`
	Zone           string          `json:"zone,omitempty"`
	SizingStrategy sizing.Strategy `json:"sizing_strategy,omitempty"`
	Priority       int             `json:"priority,omitempty"`
	Wave           string          `json:"wave,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Overrides      Overrides       `json:"overrides,omitempty"`
}

// Overrides carries explicit per-entry deviations from what inventory
// discovery would decide.
type Overrides struct {
	ForceFirmware  string            `json:"force_firmware,omitempty" validate:"omitempty,oneof=bios efi"`
	SkipValidation bool              `json:"skip_validation,omitempty"`
	NetworkMapping map[string]string `json:"network_mapping,omitempty"`
}

// Wave is an ordered cohort of migrations sharing a pause policy.
type Wave struct {
	Name       string      `json:"name" validate:"required"`
	Patterns   []string    `json:"patterns,omitempty"`
	PauseAfter PausePolicy `json:"pause_after,omitempty" validate:"omitempty,oneof=continue pause pause_on_failure"`
}

// PostAction is an action run against the source after a successful
// migration (tagging, power-off).
type PostAction struct {
	Action string `json:"action" validate:"required,oneof=tag_source_vm power_off_source_vm"`
	Value  string `json:"value,omitempty"`
}

// ConcurrencyCap returns the configured cap for a resource class, or the
// schema default when unset.
func (p *Plan) ConcurrencyCap(resource string) int {
	if cap, ok := p.Concurrency[resource]; ok && cap > 0 {
		return cap
	}
	return DefaultConcurrency()[resource]
}
