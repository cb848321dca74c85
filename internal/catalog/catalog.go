package catalog

import (
	"sort"
)

// InstanceType describes one target instance type offer.
type InstanceType struct {
	ID              string  `json:"id"`
	Category        string  `json:"category"` // general, compute, memory, development
	VCPUs           int     `json:"vcpus"`
	RAMGiB          float64 `json:"ram_gb"`
	LocalStorageGB  float64 `json:"local_storage_gb"` // 0 = block-only
	MaxVolumes      int     `json:"max_volumes"`
	MaxVolumeSizeGB int     `json:"max_volume_size_gb"`
	HourlyPriceEUR  float64 `json:"price_hour_eur"`
	BandwidthGbps   float64 `json:"bandwidth_gbps"`
	SharedVCPU      bool    `json:"shared_vcpu"`
	BlockStorage    bool    `json:"block_storage"`
	Windows         bool    `json:"windows"`
	Arch            string  `json:"arch"`
}

// MonthlyPriceEUR is the hourly price projected over a 730-hour month.
func (t InstanceType) MonthlyPriceEUR() float64 {
	return t.HourlyPriceEUR * 730
}

// Catalog is an immutable set of instance types keyed by id.
type Catalog struct {
	types map[string]InstanceType
}

func New(types []InstanceType) *Catalog {
	m := make(map[string]InstanceType, len(types))
	for _, t := range types {
		m[t.ID] = t
	}
	return &Catalog{types: m}
}

// Default returns the built-in catalogue.
func Default() *Catalog {
	return New(defaultTypes)
}

func (c *Catalog) Get(id string) (InstanceType, bool) {
	t, ok := c.types[id]
	return t, ok
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.types[id]
	return ok
}

// List returns all types ordered by id, for stable iteration.
func (c *Catalog) List() []InstanceType {
	out := make([]InstanceType, 0, len(c.types))
	for _, t := range c.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Len() int {
	return len(c.types)
}

// Reconcile refreshes prices and capacities of known ids from live offers
// (e.g. the provider's products endpoint) and returns a new catalogue.
// Offers for ids outside the curated table are ignored: the table also
// carries fields the API does not expose (Windows licensing, volume caps).
func (c *Catalog) Reconcile(fresh []InstanceType) *Catalog {
	merged := make(map[string]InstanceType, len(c.types))
	for id, t := range c.types {
		merged[id] = t
	}
	for _, f := range fresh {
		t, ok := merged[f.ID]
		if !ok {
			continue
		}
		if f.VCPUs > 0 {
			t.VCPUs = f.VCPUs
		}
		if f.RAMGiB > 0 {
			t.RAMGiB = f.RAMGiB
		}
		if f.HourlyPriceEUR > 0 {
			t.HourlyPriceEUR = f.HourlyPriceEUR
		}
		if f.Arch != "" {
			t.Arch = f.Arch
		}
		merged[f.ID] = t
	}
	return &Catalog{types: merged}
}
