package inventory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PredicateKind names a filter clause variant.
type PredicateKind string

const (
	PredNameGlob       PredicateKind = "name_glob"
	PredNameRegex      PredicateKind = "name_regex"
	PredFolderPrefix   PredicateKind = "folder_prefix"
	PredOSFamily       PredicateKind = "os_family"
	PredHostGlob       PredicateKind = "host_glob"
	PredClusterGlob    PredicateKind = "cluster_glob"
	PredDatacenter     PredicateKind = "datacenter"
	PredPowerState     PredicateKind = "power_state"
	PredFirmware       PredicateKind = "firmware"
	PredMinCPU         PredicateKind = "min_cpu"
	PredMaxCPU         PredicateKind = "max_cpu"
	PredMinRAMGB       PredicateKind = "min_ram_gb"
	PredMaxDiskTotalGB PredicateKind = "max_disk_total_gb"
)

// Predicate is one filter clause. Predicates compose with implicit AND and
// evaluate purely over a VMDescriptor.
type Predicate struct {
	Kind  PredicateKind
	Value string

	num float64
	re  *regexp.Regexp
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s(%s)", p.Kind, p.Value)
}

// NewPredicate builds and validates a predicate. Regex patterns are
// compiled here so that Match stays error-free.
func NewPredicate(kind PredicateKind, value string) (Predicate, error) {
	p := Predicate{Kind: kind, Value: value}
	switch kind {
	case PredNameRegex:
		re, err := regexp.Compile(value)
		if err != nil {
			return Predicate{}, errors.Wrapf(err, "invalid regex %q", value)
		}
		p.re = re
	case PredMinCPU, PredMaxCPU, PredMinRAMGB, PredMaxDiskTotalGB:
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Predicate{}, errors.Wrapf(err, "invalid numeric value %q for %s", value, kind)
		}
		p.num = n
	case PredNameGlob, PredHostGlob, PredClusterGlob:
		if _, err := globRegexp(value); err != nil {
			return Predicate{}, err
		}
	case PredOSFamily:
		switch OSFamily(value) {
		case OSFamilyLinux, OSFamilyWindows, OSFamilyOther:
		default:
			return Predicate{}, errors.Errorf("unknown os family %q", value)
		}
	case PredPowerState:
		switch PowerState(value) {
		case PoweredOn, PoweredOff, Suspended:
		default:
			return Predicate{}, errors.Errorf("unknown power state %q", value)
		}
	case PredFirmware:
		switch Firmware(value) {
		case FirmwareBIOS, FirmwareEFI:
		default:
			return Predicate{}, errors.Errorf("unknown firmware %q", value)
		}
	case PredFolderPrefix, PredDatacenter:
	default:
		return Predicate{}, errors.Errorf("unknown predicate kind %q", kind)
	}
	return p, nil
}

// Match reports whether the VM satisfies this predicate.
func (p Predicate) Match(vm *VMDescriptor) bool {
	switch p.Kind {
	case PredNameGlob:
		return GlobMatch(p.Value, vm.Name)
	case PredNameRegex:
		return p.re.MatchString(vm.Name)
	case PredFolderPrefix:
		return folderHasPrefix(vm.FolderPath, p.Value)
	case PredOSFamily:
		return vm.GuestOSFamily == OSFamily(p.Value)
	case PredHostGlob:
		return GlobMatch(p.Value, vm.Host)
	case PredClusterGlob:
		return GlobMatch(p.Value, vm.Cluster)
	case PredDatacenter:
		return vm.Datacenter == p.Value
	case PredPowerState:
		return vm.PowerState == PowerState(p.Value)
	case PredFirmware:
		return vm.Firmware == Firmware(p.Value)
	case PredMinCPU:
		return float64(vm.CPUCount) >= p.num
	case PredMaxCPU:
		return float64(vm.CPUCount) <= p.num
	case PredMinRAMGB:
		return vm.MemoryGiB() >= p.num
	case PredMaxDiskTotalGB:
		return vm.TotalDiskGiB() <= p.num
	}
	return false
}

// Rejection records the first predicate a VM failed.
type Rejection struct {
	VM        VMDescriptor
	Predicate Predicate
}

// FilterResult is the outcome of applying a predicate set to an inventory.
type FilterResult struct {
	Accepted []VMDescriptor
	Rejected []Rejection
}

// Filter evaluates all predicates (AND) against each VM, preserving input
// order. For rejected VMs the first failing predicate is recorded.
func Filter(vms []VMDescriptor, preds []Predicate) FilterResult {
	res := FilterResult{}
	for _, vm := range vms {
		failed := false
		for _, p := range preds {
			if !p.Match(&vm) {
				res.Rejected = append(res.Rejected, Rejection{VM: vm, Predicate: p})
				failed = true
				break
			}
		}
		if !failed {
			res.Accepted = append(res.Accepted, vm)
		}
	}
	return res
}

// ParsePredicates parses CLI filter strings of the form "key:value".
// A bare string is shorthand for a name glob.
//
//	name:web-*  regex:^db-[0-9]+$  folder:/prod  os:linux  host:esx1*
//	cluster:par-*  dc:DC1  state:poweredOn  firmware:bios
//	min-cpu:2  max-cpu:16  min-ram-gb:4  max-disk-gb:500
func ParsePredicates(filters []string) ([]Predicate, error) {
	keyMap := map[string]PredicateKind{
		"name":        PredNameGlob,
		"regex":       PredNameRegex,
		"folder":      PredFolderPrefix,
		"os":          PredOSFamily,
		"host":        PredHostGlob,
		"cluster":     PredClusterGlob,
		"dc":          PredDatacenter,
		"datacenter":  PredDatacenter,
		"state":       PredPowerState,
		"firmware":    PredFirmware,
		"min-cpu":     PredMinCPU,
		"max-cpu":     PredMaxCPU,
		"min-ram-gb":  PredMinRAMGB,
		"max-disk-gb": PredMaxDiskTotalGB,
	}

	preds := make([]Predicate, 0, len(filters))
	for _, f := range filters {
		key, value, found := strings.Cut(f, ":")
		if !found {
			p, err := NewPredicate(PredNameGlob, f)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
			continue
		}
		kind, ok := keyMap[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			return nil, errors.Errorf("unknown filter key %q in %q", key, f)
		}
		p, err := NewPredicate(kind, strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// folderHasPrefix reports whether path equals prefix or is a child of it,
// comparing slash-separated segments.
func folderHasPrefix(path, prefix string) bool {
	path = strings.Trim(path, "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// GlobMatch matches shell-style patterns (*, ?, [set]) anchored to the
// whole string. Unlike path.Match, * crosses every character.
func GlobMatch(pattern, s string) bool {
	re, err := globRegexp(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func globRegexp(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		case '[':
			end := strings.IndexByte(pattern[i:], ']')
			if end < 0 {
				return nil, errors.Errorf("unterminated character class in glob %q", pattern)
			}
			set := pattern[i : i+end+1]
			if strings.HasPrefix(set, "[!") {
				set = "[^" + set[2:]
			}
			sb.WriteString(set)
			i += end
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, errors.Wrapf(err, "invalid glob %q", pattern)
	}
	return re, nil
}
