package inventory

import "strings"

// guestOSMap maps vSphere guestId values to (family, description). The
// long tail of guestIds not listed here falls through to the fuzzy match
// in NormalizeGuestOS.
var guestOSMap = map[string]struct {
	family OSFamily
	desc   string
}{
	// Windows
	"windows9Server64Guest":       {OSFamilyWindows, "Windows Server 2016+"},
	"windows2019srv_64Guest":      {OSFamilyWindows, "Windows Server 2019"},
	"windows2019srvNext_64Guest":  {OSFamilyWindows, "Windows Server 2022"},
	"windows9_64Guest":            {OSFamilyWindows, "Windows 10"},
	"windows11_64Guest":           {OSFamilyWindows, "Windows 11"},
	// Linux, Debian family
	"debian10_64Guest": {OSFamilyLinux, "Debian 10"},
	"debian11_64Guest": {OSFamilyLinux, "Debian 11"},
	"debian12_64Guest": {OSFamilyLinux, "Debian 12"},
	"ubuntu64Guest":    {OSFamilyLinux, "Ubuntu"},
	// Linux, RHEL family
	"rhel7_64Guest":      {OSFamilyLinux, "RHEL 7"},
	"rhel8_64Guest":      {OSFamilyLinux, "RHEL 8"},
	"rhel9_64Guest":      {OSFamilyLinux, "RHEL 9"},
	"centos7_64Guest":    {OSFamilyLinux, "CentOS 7"},
	"centos8_64Guest":    {OSFamilyLinux, "CentOS 8"},
	"centos9_64Guest":    {OSFamilyLinux, "CentOS Stream 9"},
	"rockylinux_64Guest": {OSFamilyLinux, "Rocky Linux"},
	"almalinux_64Guest":  {OSFamilyLinux, "AlmaLinux"},
	// Linux, other
	"sles15_64Guest":       {OSFamilyLinux, "SLES 15"},
	"amazonlinux3_64Guest": {OSFamilyLinux, "Amazon Linux"},
	"other3xLinux64Guest":  {OSFamilyLinux, "Linux (generic 3.x)"},
	"other4xLinux64Guest":  {OSFamilyLinux, "Linux (generic 4.x)"},
	"other5xLinux64Guest":  {OSFamilyLinux, "Linux (generic 5.x)"},
	"otherLinux64Guest":    {OSFamilyLinux, "Linux (generic)"},
}

var linuxHints = []string{"linux", "ubuntu", "debian", "centos", "rhel", "suse", "rocky", "alma", "fedora", "oracle"}

// NormalizeGuestOS collapses a vSphere guestId into the OS family used by
// planning and the stage registry, plus a human description. Unrecognised
// ids map to OSFamilyOther.
func NormalizeGuestOS(guestID string) (OSFamily, string) {
	if entry, ok := guestOSMap[guestID]; ok {
		return entry.family, entry.desc
	}

	lower := strings.ToLower(guestID)
	if strings.Contains(lower, "win") {
		return OSFamilyWindows, "Windows (" + guestID + ")"
	}
	for _, hint := range linuxHints {
		if strings.Contains(lower, hint) {
			return OSFamilyLinux, "Linux (" + guestID + ")"
		}
	}
	return OSFamilyOther, "Unknown (" + guestID + ")"
}
