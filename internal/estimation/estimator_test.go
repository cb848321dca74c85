package estimation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware2scw/vmware2scw/internal/catalog"
	"github.com/vmware2scw/vmware2scw/internal/config"
	"github.com/vmware2scw/vmware2scw/internal/inventory"
	"github.com/vmware2scw/vmware2scw/internal/plan"
)

func planWith(vms ...plan.ResolvedMigration) *plan.ResolvedPlan {
	return &plan.ResolvedPlan{
		Plan:  &plan.Plan{Version: 1},
		Waves: []plan.ResolvedWave{{Name: "w1", PauseAfter: plan.PauseContinue, Migrations: vms}},
	}
}

func estVM(name string, family inventory.OSFamily, diskGiB float64, target string) plan.ResolvedMigration {
	return plan.ResolvedMigration{
		VM: inventory.VMDescriptor{
			Name:          name,
			UUID:          "uuid-" + name,
			CPUCount:      2,
			MemoryMB:      4096,
			GuestOSFamily: family,
			Disks:         []inventory.Disk{{SizeGiB: diskGiB}},
		},
		TargetType: target,
		Wave:       "w1",
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestEstimateBasics(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	rp := planWith(
		estVM("web-01", inventory.OSFamilyLinux, 100, "PRO2-XS"),
		estVM("db-01", inventory.OSFamilyLinux, 200, "PRO2-S"),
	)

	est := NewEstimator().Run(rp, catalog.Default(), cfg)

	assert.Equal(t, 2, est.TotalVMs)
	assert.Equal(t, 2, est.LinuxVMs)
	assert.Equal(t, 300.0, est.TotalDiskGiB)
	// 300 * 1.2 + 300 * 0.7 (compressed default)
	assert.InDelta(t, 570.0, est.WorkSpaceGiB, 0.1)

	xs, _ := catalog.Default().Get("PRO2-XS")
	s, _ := catalog.Default().Get("PRO2-S")
	assert.InDelta(t, xs.MonthlyPriceEUR()+s.MonthlyPriceEUR(), est.MonthlyCostEUR, 0.01)

	assert.Greater(t, est.Duration, time.Duration(0))
	for _, phase := range []string{"export", "convert", "upload", "overhead"} {
		assert.Contains(t, est.Breakdown, phase)
	}
}

func TestEstimateParallelismScalesDuration(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	narrow := planWith(estVM("a", inventory.OSFamilyLinux, 500, "PRO2-XS"))
	narrow.Plan.Concurrency = map[string]int{plan.ResourceS3Upload: 1}
	wide := planWith(estVM("a", inventory.OSFamilyLinux, 500, "PRO2-XS"))
	wide.Plan.Concurrency = map[string]int{plan.ResourceS3Upload: 10}

	slow := NewEstimator().Run(narrow, catalog.Default(), cfg)
	fast := NewEstimator().Run(wide, catalog.Default(), cfg)

	assert.Greater(t, slow.Breakdown["upload"], fast.Breakdown["upload"])
}

func TestEstimateWarnings(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Conversion.VirtioWinISO = ""
	cfg.Conversion.AvailableDiskGB = 10

	rp := planWith(estVM("win-01", inventory.OSFamilyWindows, 100, "POP2-4C-16G-WIN"))
	rp.Waves = append(rp.Waves, plan.ResolvedWave{Name: "empty", PauseAfter: plan.PauseContinue})
	rp.Quarantined = []plan.ResolvedMigration{estVM("huge", inventory.OSFamilyLinux, 100, "")}

	est := NewEstimator().Run(rp, catalog.Default(), cfg)

	joined := ""
	for _, w := range est.Warnings {
		joined += w + "\n"
	}
	assert.Contains(t, joined, "missing_virtio_iso")
	assert.Contains(t, joined, "KVM")
	assert.Contains(t, joined, "insufficient work space")
	assert.Contains(t, joined, `wave "empty" matches no VMs`)
	assert.Contains(t, joined, "quarantined")
	assert.Equal(t, []string{"huge"}, est.UnmappableVMs)
}

func TestEstimatorRejectsDuplicateCalculators(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() {
		NewEstimator(Export{}, Export{})
	})
}

func TestEstimateIsPure(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	rp := planWith(estVM("a", inventory.OSFamilyLinux, 50, "PRO2-XS"))

	first := NewEstimator().Run(rp, catalog.Default(), cfg)
	second := NewEstimator().Run(rp, catalog.Default(), cfg)
	assert.Equal(t, first, second)
}
