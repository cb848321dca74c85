package cli

import (
	"sort"

	"github.com/vmware2scw/vmware2scw/internal/state"
)

// sortVMs orders migration states by wave then VM name for stable output.
func sortVMs(vms []*state.MigrationState) {
	sort.Slice(vms, func(i, j int) bool {
		if vms[i].Wave != vms[j].Wave {
			return vms[i].Wave < vms[j].Wave
		}
		return vms[i].VMName < vms[j].VMName
	})
}
