package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware2scw/vmware2scw/internal/catalog"
	"github.com/vmware2scw/vmware2scw/internal/inventory"
	"github.com/vmware2scw/vmware2scw/internal/sizing"
)

const samplePlan = `
version: 1
metadata:
  generated_by: test
defaults:
  zone: fr-par-1
  sizing_strategy: exact
concurrency:
  disk_io: 2
migrations:
  - vm_pattern: "prod-*"
    priority: 3
  - vm_name: db-01
    target_type: PRO2-S
    wave: canary
exclude:
  - vm_name: prod-legacy
waves:
  - name: canary
    patterns: ["db-*"]
    pause_after: pause
  - name: prod
    patterns: ["prod-*"]
    pause_after: continue
`

func linuxVM(name, uuid string) inventory.VMDescriptor {
	return inventory.VMDescriptor{
		Name:          name,
		UUID:          uuid,
		CPUCount:      2,
		MemoryMB:      4096,
		PowerState:    inventory.PoweredOn,
		GuestOSFamily: inventory.OSFamilyLinux,
		Firmware:      inventory.FirmwareEFI,
		Disks:         []inventory.Disk{{SizeGiB: 40}},
		Host:          "esx1",
	}
}

func testMapper() *sizing.Mapper {
	return sizing.NewMapper(catalog.Default())
}

func TestParseAndRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(samplePlan))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)
	assert.Len(t, p.Migrations, 2)
	assert.Equal(t, 2, p.ConcurrencyCap(ResourceDiskIO))
	assert.Equal(t, 10, p.ConcurrencyCap(ResourceGlobal))

	out, err := Marshal(p)
	require.NoError(t, err)
	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("version: 1\nmigrattions: []\n"))
	assert.Error(t, err)
}

func TestDigestStableAndSensitive(t *testing.T) {
	t.Parallel()

	p1, err := Parse([]byte(samplePlan))
	require.NoError(t, err)
	p2, err := Parse([]byte(samplePlan))
	require.NoError(t, err)

	d1, err := Digest(p1)
	require.NoError(t, err)
	d2, err := Digest(p2)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	p2.Migrations[0].Priority = 9
	d3, err := Digest(p2)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Plan)
		problem string
	}{
		{
			"both name and pattern",
			func(p *Plan) { p.Migrations[0].VMName = "x" },
			"mutually exclusive",
		},
		{
			"neither name nor pattern",
			func(p *Plan) { p.Migrations[0].VMName = ""; p.Migrations[0].VMPattern = "" },
			"one of vm_name or vm_pattern",
		},
		{
			"unknown wave",
			func(p *Plan) { p.Migrations[1].Wave = "missing" },
			"unknown wave",
		},
		{
			"bad strategy",
			func(p *Plan) { p.Defaults.SizingStrategy = "turbo" },
			"sizing strategy",
		},
		{
			"bad resource class",
			func(p *Plan) { p.Concurrency["warp_drive"] = 2 },
			"resource class",
		},
		{
			"non-positive cap",
			func(p *Plan) { p.Concurrency[ResourceDiskIO] = 0 },
			"must be positive",
		},
		{
			"duplicate wave",
			func(p *Plan) { p.Waves = append(p.Waves, Wave{Name: "canary"}) },
			"duplicate wave",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := Parse([]byte(samplePlan))
			require.NoError(t, err)
			require.NoError(t, Validate(p))

			tt.mutate(p)
			err = Validate(p)
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), "invalid plan")
			found := false
			for _, prob := range verr.Problems {
				if strings.Contains(prob, tt.problem) {
					found = true
				}
			}
			assert.True(t, found, "expected a problem containing %q, got %v", tt.problem, verr.Problems)
		})
	}
}

func TestExpandExclusionOverridesPattern(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(`
version: 1
migrations:
  - vm_pattern: "prod-*"
    target_type: PRO2-XS
exclude:
  - vm_name: prod-legacy
`))
	require.NoError(t, err)
	require.NoError(t, Validate(p))

	vms := []inventory.VMDescriptor{
		linuxVM("prod-a", "u1"),
		linuxVM("prod-b", "u2"),
		linuxVM("prod-legacy", "u3"),
	}

	rp, err := Expand(p, vms, catalog.Default(), testMapper())
	require.NoError(t, err)

	names := []string{}
	for _, m := range rp.Migrations() {
		names = append(names, m.VM.Name)
	}
	assert.Equal(t, []string{"prod-a", "prod-b"}, names)
	assert.Equal(t, []string{"prod-legacy"}, rp.Excluded)
}

func TestExpandExplicitNameShadowedByExcludeIsError(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(`
version: 1
migrations:
  - vm_name: prod-legacy
    target_type: PRO2-XS
exclude:
  - vm_name: prod-legacy
`))
	require.NoError(t, err)

	_, err = Expand(p, []inventory.VMDescriptor{linuxVM("prod-legacy", "u1")}, catalog.Default(), testMapper())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestExpandDedupByPriority(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(`
version: 1
migrations:
  - vm_pattern: "web-*"
    target_type: PRO2-XS
    priority: 5
  - vm_name: web-01
    target_type: PRO2-S
    priority: 1
`))
	require.NoError(t, err)

	rp, err := Expand(p, []inventory.VMDescriptor{linuxVM("web-01", "u1")}, catalog.Default(), testMapper())
	require.NoError(t, err)

	ms := rp.Migrations()
	require.Len(t, ms, 1)
	assert.Equal(t, "PRO2-S", ms[0].TargetType)
	assert.Equal(t, 1, ms[0].Priority)
}

func TestExpandWindowsNeedsWindowsType(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(`
version: 1
migrations:
  - vm_name: win-01
    target_type: PRO2-XS
`))
	require.NoError(t, err)

	win := linuxVM("win-01", "u1")
	win.GuestOSFamily = inventory.OSFamilyWindows

	_, err = Expand(p, []inventory.VMDescriptor{win}, catalog.Default(), testMapper())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems[0], "Windows")
}

func TestExpandAutoSizesMissingTarget(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(`
version: 1
defaults:
  sizing_strategy: exact
migrations:
  - vm_name: web-01
`))
	require.NoError(t, err)

	rp, err := Expand(p, []inventory.VMDescriptor{linuxVM("web-01", "u1")}, catalog.Default(), testMapper())
	require.NoError(t, err)

	ms := rp.Migrations()
	require.Len(t, ms, 1)
	assert.NotEmpty(t, ms[0].TargetType)
	assert.NotEmpty(t, ms[0].Candidates)
}

func TestExpandQuarantinesUnmappable(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(`
version: 1
migrations:
  - vm_name: huge-01
`))
	require.NoError(t, err)

	huge := linuxVM("huge-01", "u1")
	huge.CPUCount = 512

	rp, err := Expand(p, []inventory.VMDescriptor{huge}, catalog.Default(), testMapper())
	require.NoError(t, err)
	assert.Empty(t, rp.Migrations())
	require.Len(t, rp.Quarantined, 1)
	assert.True(t, rp.Quarantined[0].Unmappable)
}

func TestExpandWaveAssignmentAndOrdering(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(samplePlan))
	require.NoError(t, err)

	vms := []inventory.VMDescriptor{
		linuxVM("prod-a", "u1"),
		linuxVM("prod-b", "u2"),
		linuxVM("prod-legacy", "u3"),
		linuxVM("db-01", "u4"),
	}

	rp, err := Expand(p, vms, catalog.Default(), testMapper())
	require.NoError(t, err)

	require.Len(t, rp.Waves, 2)
	assert.Equal(t, "canary", rp.Waves[0].Name)
	assert.Equal(t, PauseAlways, rp.Waves[0].PauseAfter)
	require.Len(t, rp.Waves[0].Migrations, 1)
	assert.Equal(t, "db-01", rp.Waves[0].Migrations[0].VM.Name)

	assert.Equal(t, "prod", rp.Waves[1].Name)
	require.Len(t, rp.Waves[1].Migrations, 2)
}

func TestExpandOverlappingWavesRejected(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(`
version: 1
migrations:
  - vm_pattern: "web-*"
    target_type: PRO2-XS
waves:
  - name: w1
    patterns: ["web-*"]
  - name: w2
    patterns: ["*-01"]
`))
	require.NoError(t, err)

	_, err = Expand(p, []inventory.VMDescriptor{linuxVM("web-01", "u1")}, catalog.Default(), testMapper())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems[0], "disjoint")
}
