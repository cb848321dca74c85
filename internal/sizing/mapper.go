package sizing

import (
	"math"
	"sort"

	"github.com/thoas/go-funk"

	"github.com/vmware2scw/vmware2scw/internal/catalog"
	"github.com/vmware2scw/vmware2scw/internal/inventory"
)

// Strategy selects how a target instance type is chosen for a VM.
type Strategy string

const (
	// StrategyExact picks the minimal type whose capacity covers the source.
	StrategyExact Strategy = "exact"
	// StrategyOptimize requires headroom on CPU and RAM, falling back to
	// exact when nothing qualifies.
	StrategyOptimize Strategy = "optimize"
	// StrategyCost picks the cheapest viable type.
	StrategyCost Strategy = "cost"
)

// DefaultHeadroom is the capacity margin required by StrategyOptimize.
const DefaultHeadroom = 0.2

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyExact || s == StrategyOptimize || s == StrategyCost
}

// Result is the outcome of mapping one VM against the catalogue.
type Result struct {
	// Candidates are viable type ids, best first.
	Candidates []string
	// Chosen is the selected type id; empty when Unmappable.
	Chosen string
	// Unmappable is set when no catalogue type can host the VM. The entry
	// is quarantined but planning continues.
	Unmappable bool
	// FellBack is set when optimize found no type with headroom and the
	// exact strategy was used instead.
	FellBack bool
}

// Mapper sizes VMs against an instance catalogue.
type Mapper struct {
	catalog  *catalog.Catalog
	headroom float64
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithHeadroom overrides the optimize-strategy margin. Non-positive values
// are ignored.
func WithHeadroom(h float64) Option {
	return func(m *Mapper) {
		if h > 0 {
			m.headroom = h
		}
	}
}

func NewMapper(c *catalog.Catalog, opts ...Option) *Mapper {
	m := &Mapper{catalog: c, headroom: DefaultHeadroom}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Map selects a target type for vm using the given strategy.
func (m *Mapper) Map(vm *inventory.VMDescriptor, strategy Strategy) Result {
	viable := m.viableTypes(vm)
	if len(viable) == 0 {
		return Result{Unmappable: true}
	}

	switch strategy {
	case StrategyCost:
		sort.SliceStable(viable, func(i, j int) bool {
			a, b := viable[i], viable[j]
			if a.HourlyPriceEUR != b.HourlyPriceEUR {
				return a.HourlyPriceEUR < b.HourlyPriceEUR
			}
			if a.VCPUs != b.VCPUs {
				return a.VCPUs < b.VCPUs
			}
			return a.RAMGiB < b.RAMGiB
		})
		return resultFrom(viable, false)

	case StrategyOptimize:
		minCPU := int(math.Ceil(float64(vm.CPUCount) * (1 + m.headroom)))
		minRAM := vm.MemoryGiB() * (1 + m.headroom)
		withRoom := funk.Filter(viable, func(t catalog.InstanceType) bool {
			return t.VCPUs >= minCPU && t.RAMGiB >= minRAM
		}).([]catalog.InstanceType)
		if len(withRoom) == 0 {
			sortExact(viable)
			return resultFrom(viable, true)
		}
		sortExact(withRoom)
		return resultFrom(withRoom, false)

	default: // StrategyExact
		sortExact(viable)
		return resultFrom(viable, false)
	}
}

// viableTypes filters the catalogue down to types that can host the VM:
// compatible architecture, Windows licensing, enough CPU and RAM, and
// either enough local storage or block storage with enough volume slots.
func (m *Mapper) viableTypes(vm *inventory.VMDescriptor) []catalog.InstanceType {
	isWindows := vm.GuestOSFamily == inventory.OSFamilyWindows
	totalDisk := vm.TotalDiskGiB()

	var viable []catalog.InstanceType
	for _, t := range m.catalog.List() {
		if t.Arch != "" && t.Arch != "x86_64" {
			continue
		}
		if isWindows != t.Windows {
			continue
		}
		if t.VCPUs < vm.CPUCount {
			continue
		}
		if t.RAMGiB < vm.MemoryGiB() {
			continue
		}
		fitsLocal := t.LocalStorageGB >= totalDisk
		fitsBlock := t.BlockStorage && t.MaxVolumes >= len(vm.Disks)
		if !fitsLocal && !fitsBlock {
			continue
		}
		viable = append(viable, t)
	}
	return viable
}

// sortExact orders by (vCPU, RAM, price) ascending.
func sortExact(types []catalog.InstanceType) {
	sort.SliceStable(types, func(i, j int) bool {
		a, b := types[i], types[j]
		if a.VCPUs != b.VCPUs {
			return a.VCPUs < b.VCPUs
		}
		if a.RAMGiB != b.RAMGiB {
			return a.RAMGiB < b.RAMGiB
		}
		return a.HourlyPriceEUR < b.HourlyPriceEUR
	})
}

func resultFrom(ordered []catalog.InstanceType, fellBack bool) Result {
	ids := make([]string, len(ordered))
	for i, t := range ordered {
		ids[i] = t.ID
	}
	return Result{
		Candidates: ids,
		Chosen:     ids[0],
		FellBack:   fellBack,
	}
}
