package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()
	c := Default()

	require.Greater(t, c.Len(), 20)

	pro2s, ok := c.Get("PRO2-S")
	require.True(t, ok)
	assert.Equal(t, 8, pro2s.VCPUs)
	assert.Equal(t, 32.0, pro2s.RAMGiB)
	assert.False(t, pro2s.Windows)
	assert.InDelta(t, 192.72, pro2s.MonthlyPriceEUR(), 0.01)

	win, ok := c.Get("POP2-8C-32G-WIN")
	require.True(t, ok)
	assert.True(t, win.Windows)

	_, ok = c.Get("NOPE-1C")
	assert.False(t, ok)
}

func TestListIsSorted(t *testing.T) {
	t.Parallel()
	list := Default().List()
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestReconcile(t *testing.T) {
	t.Parallel()
	c := Default()

	fresh := []InstanceType{
		{ID: "PRO2-S", HourlyPriceEUR: 0.30},
		{ID: "UNKNOWN-TYPE", VCPUs: 2, RAMGiB: 4},
	}
	updated := c.Reconcile(fresh)

	pro2s, _ := updated.Get("PRO2-S")
	assert.Equal(t, 0.30, pro2s.HourlyPriceEUR)
	// Fields the API does not expose are preserved.
	assert.Equal(t, 8, pro2s.VCPUs)
	assert.True(t, pro2s.BlockStorage)

	assert.False(t, updated.Has("UNKNOWN-TYPE"))
	// Original is untouched.
	orig, _ := c.Get("PRO2-S")
	assert.Equal(t, 0.2640, orig.HourlyPriceEUR)
}
