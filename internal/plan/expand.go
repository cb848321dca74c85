package plan

import (
	"fmt"
	"sort"

	"github.com/vmware2scw/vmware2scw/internal/catalog"
	"github.com/vmware2scw/vmware2scw/internal/inventory"
	"github.com/vmware2scw/vmware2scw/internal/sizing"
)

// ResolvedMigration is a plan entry frozen against a concrete VM. Pattern
// entries expand into one ResolvedMigration per matched VM; the batch never
// re-queries vCenter for identity afterwards.
type ResolvedMigration struct {
	VM             inventory.VMDescriptor
	TargetType     string
	Candidates     []string
	Zone           string
	SizingStrategy sizing.Strategy
	Priority       int
	Wave           string
	Tags           []string
	Overrides      Overrides
	Warnings       []string
	Unmappable     bool

	planOrder int
}

// ResolvedWave groups resolved migrations by execution cohort, in plan
// order, each sorted by priority then plan order.
type ResolvedWave struct {
	Name       string
	PauseAfter PausePolicy
	Migrations []ResolvedMigration
}

// ResolvedPlan is the output of Expand.
type ResolvedPlan struct {
	Plan  *Plan
	Waves []ResolvedWave
	// Quarantined holds entries with no viable target type. They are not
	// scheduled but surface in estimates and reports.
	Quarantined []ResolvedMigration
	// Excluded lists VM names dropped by the exclude list.
	Excluded []string
}

// Migrations returns all scheduled migrations in wave order.
func (rp *ResolvedPlan) Migrations() []ResolvedMigration {
	var out []ResolvedMigration
	for _, w := range rp.Waves {
		out = append(out, w.Migrations...)
	}
	return out
}

// Expand freezes a validated plan against a filtered inventory: pattern
// expansion, default merging, exclusion, priority-based deduplication,
// target sizing, and wave grouping. Inventory-dependent plan invariants are
// enforced here and reported as a ValidationError.
func Expand(p *Plan, vms []inventory.VMDescriptor, cat *catalog.Catalog, mapper *sizing.Mapper) (*ResolvedPlan, error) {
	var problems []string

	byName := make(map[string]*inventory.VMDescriptor, len(vms))
	for i := range vms {
		byName[vms[i].Name] = &vms[i]
	}

	excluded := func(name string) bool {
		for _, s := range p.Exclude {
			if s.VMName == name {
				return true
			}
			if s.VMPattern != "" && inventory.GlobMatch(s.VMPattern, name) {
				return true
			}
		}
		return false
	}

	// Expand selectors into concrete VM hits, in plan order.
	type hit struct {
		vm    *inventory.VMDescriptor
		entry *MigrationEntry
		order int
	}
	var hits []hit
	var excludedNames []string
	for i := range p.Migrations {
		entry := &p.Migrations[i]
		if entry.VMName != "" {
			if excluded(entry.VMName) {
				// An explicit entry shadowed by exclude is a plan
				// contradiction, not a silent drop.
				problems = append(problems, fmt.Sprintf("migrations[%d]: vm_name %q is also matched by exclude", i, entry.VMName))
				continue
			}
			vm, ok := byName[entry.VMName]
			if !ok {
				problems = append(problems, fmt.Sprintf("migrations[%d]: vm %q not found in inventory", i, entry.VMName))
				continue
			}
			hits = append(hits, hit{vm: vm, entry: entry, order: i})
			continue
		}
		for j := range vms {
			vm := &vms[j]
			if !inventory.GlobMatch(entry.VMPattern, vm.Name) {
				continue
			}
			if excluded(vm.Name) {
				excludedNames = append(excludedNames, vm.Name)
				continue
			}
			hits = append(hits, hit{vm: vm, entry: entry, order: i})
		}
	}

	// Deduplicate by VM uuid: lowest priority integer wins, ties broken by
	// plan order.
	best := make(map[string]hit)
	for _, h := range hits {
		prev, seen := best[h.vm.UUID]
		if !seen {
			best[h.vm.UUID] = h
			continue
		}
		if priorityOf(h.entry) < priorityOf(prev.entry) {
			best[h.vm.UUID] = h
		}
	}

	deduped := make([]hit, 0, len(best))
	for _, h := range best {
		deduped = append(deduped, h)
	}
	sort.Slice(deduped, func(i, j int) bool {
		if deduped[i].order != deduped[j].order {
			return deduped[i].order < deduped[j].order
		}
		return deduped[i].vm.Name < deduped[j].vm.Name
	})

	// Resolve each hit: merge defaults, size, and run target checks.
	var resolved []ResolvedMigration
	var quarantined []ResolvedMigration
	for _, h := range deduped {
		rm := resolveEntry(h.vm, h.entry, h.order, p, cat, mapper, &problems)
		if rm.Unmappable {
			quarantined = append(quarantined, rm)
			continue
		}
		resolved = append(resolved, rm)
	}

	// Wave assignment. Explicit entry waves win; otherwise wave patterns
	// decide, and a VM matching two waves' patterns makes them
	// non-disjoint.
	waves := p.Waves
	if len(waves) == 0 {
		waves = []Wave{{Name: "default", Patterns: []string{"*"}, PauseAfter: PauseContinue}}
	}
	waveIndex := make(map[string]int, len(waves))
	for i, w := range waves {
		waveIndex[w.Name] = i
	}

	grouped := make([][]ResolvedMigration, len(waves))
	for _, rm := range resolved {
		idx := -1
		if rm.Wave != "" {
			idx = waveIndex[rm.Wave]
		} else {
			for i, w := range waves {
				if matchesWave(w, rm.VM.Name) {
					if idx >= 0 {
						problems = append(problems, fmt.Sprintf(
							"vm %q matched by waves %q and %q; wave selectors must be disjoint",
							rm.VM.Name, waves[idx].Name, w.Name))
						break
					}
					idx = i
				}
			}
			if idx < 0 {
				problems = append(problems, fmt.Sprintf("vm %q is not matched by any wave", rm.VM.Name))
				continue
			}
			rm.Wave = waves[idx].Name
		}
		grouped[idx] = append(grouped[idx], rm)
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	rp := &ResolvedPlan{Plan: p, Quarantined: quarantined, Excluded: excludedNames}
	for i, w := range waves {
		ms := grouped[i]
		sort.SliceStable(ms, func(a, b int) bool {
			if ms[a].Priority != ms[b].Priority {
				return ms[a].Priority < ms[b].Priority
			}
			return ms[a].planOrder < ms[b].planOrder
		})
		pause := w.PauseAfter
		if pause == "" {
			pause = PauseContinue
		}
		rp.Waves = append(rp.Waves, ResolvedWave{Name: w.Name, PauseAfter: pause, Migrations: ms})
	}
	return rp, nil
}

func resolveEntry(vm *inventory.VMDescriptor, entry *MigrationEntry, order int, p *Plan, cat *catalog.Catalog, mapper *sizing.Mapper, problems *[]string) ResolvedMigration {
	rm := ResolvedMigration{
		VM:             *vm,
		TargetType:     entry.TargetType,
		Zone:           entry.Zone,
		SizingStrategy: entry.SizingStrategy,
		Priority:       priorityOf(entry),
		Wave:           entry.Wave,
		Overrides:      entry.Overrides,
		planOrder:      order,
	}

	// Defaults merge last-wins: entry values take precedence.
	if rm.Zone == "" {
		rm.Zone = p.Defaults.Zone
	}
	if rm.SizingStrategy == "" {
		rm.SizingStrategy = p.Defaults.SizingStrategy
	}
	if rm.SizingStrategy == "" {
		rm.SizingStrategy = sizing.StrategyOptimize
	}
	rm.Tags = append(append([]string{}, p.Defaults.Tags...), entry.Tags...)

	if rm.TargetType == "" {
		res := mapper.Map(vm, rm.SizingStrategy)
		if res.Unmappable {
			rm.Unmappable = true
			rm.Warnings = append(rm.Warnings, "no viable instance type in catalogue")
			return rm
		}
		rm.TargetType = res.Chosen
		rm.Candidates = res.Candidates
		if res.FellBack {
			rm.Warnings = append(rm.Warnings, "optimize headroom not available, fell back to exact sizing")
		}
	}

	target, ok := cat.Get(rm.TargetType)
	if !ok {
		*problems = append(*problems, fmt.Sprintf("vm %q: target type %q not in catalogue", vm.Name, rm.TargetType))
		return rm
	}
	if vm.GuestOSFamily == inventory.OSFamilyWindows && !target.Windows {
		*problems = append(*problems, fmt.Sprintf("vm %q is Windows but target type %q is not Windows-allowed", vm.Name, rm.TargetType))
	}
	if vm.GuestOSFamily == inventory.OSFamilyOther {
		rm.Warnings = append(rm.Warnings, "guest OS family is not auto-migratable")
	}
	if vm.Firmware == inventory.FirmwareBIOS {
		rm.Warnings = append(rm.Warnings, "BIOS firmware, UEFI conversion required")
	}
	if vm.GuestOSFamily == inventory.OSFamilyWindows {
		rm.Warnings = append(rm.Warnings, "Windows guest, VirtIO driver injection required")
	}
	return rm
}

func priorityOf(e *MigrationEntry) int {
	if e.Priority == 0 {
		return DefaultPriority
	}
	return e.Priority
}

func matchesWave(w Wave, name string) bool {
	for _, pattern := range w.Patterns {
		if inventory.GlobMatch(pattern, name) {
			return true
		}
	}
	return false
}
