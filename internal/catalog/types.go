package catalog

// Instance type offers, February 2026 pricing. Refreshed with
// `vmware2scw batch estimate --reconcile-catalog` against the live API.
var defaultTypes = []InstanceType{
	// PLAY2 (development, shared vCPU)
	{ID: "PLAY2-NANO", Category: "development", VCPUs: 1, RAMGiB: 1, HourlyPriceEUR: 0.0070, BlockStorage: true, MaxVolumes: 1, MaxVolumeSizeGB: 400, BandwidthGbps: 0.1, SharedVCPU: true, Arch: "x86_64"},
	{ID: "PLAY2-MICRO", Category: "development", VCPUs: 2, RAMGiB: 2, HourlyPriceEUR: 0.0140, BlockStorage: true, MaxVolumes: 2, MaxVolumeSizeGB: 400, BandwidthGbps: 0.2, SharedVCPU: true, Arch: "x86_64"},
	{ID: "PLAY2-SMALL", Category: "development", VCPUs: 2, RAMGiB: 4, HourlyPriceEUR: 0.0280, BlockStorage: true, MaxVolumes: 4, MaxVolumeSizeGB: 400, BandwidthGbps: 0.4, SharedVCPU: true, Arch: "x86_64"},
	{ID: "PLAY2-MEDIUM", Category: "development", VCPUs: 4, RAMGiB: 8, HourlyPriceEUR: 0.0560, BlockStorage: true, MaxVolumes: 4, MaxVolumeSizeGB: 400, BandwidthGbps: 0.8, SharedVCPU: true, Arch: "x86_64"},

	// PRO2 (general purpose)
	{ID: "PRO2-XXS", Category: "general", VCPUs: 2, RAMGiB: 8, HourlyPriceEUR: 0.0660, BlockStorage: true, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 0.5, Arch: "x86_64"},
	{ID: "PRO2-XS", Category: "general", VCPUs: 4, RAMGiB: 16, HourlyPriceEUR: 0.1320, BlockStorage: true, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 1.0, Arch: "x86_64"},
	{ID: "PRO2-S", Category: "general", VCPUs: 8, RAMGiB: 32, HourlyPriceEUR: 0.2640, BlockStorage: true, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 2.0, Arch: "x86_64"},
	{ID: "PRO2-M", Category: "general", VCPUs: 16, RAMGiB: 64, HourlyPriceEUR: 0.5280, BlockStorage: true, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 4.0, Arch: "x86_64"},
	{ID: "PRO2-L", Category: "general", VCPUs: 32, RAMGiB: 128, HourlyPriceEUR: 1.0560, BlockStorage: true, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 8.0, Arch: "x86_64"},

	// POP2 (compute, local NVMe)
	{ID: "POP2-2C-8G", Category: "compute", VCPUs: 2, RAMGiB: 8, HourlyPriceEUR: 0.0770, BlockStorage: true, LocalStorageGB: 50, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 0.4, Arch: "x86_64"},
	{ID: "POP2-4C-16G", Category: "compute", VCPUs: 4, RAMGiB: 16, HourlyPriceEUR: 0.1540, BlockStorage: true, LocalStorageGB: 100, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 0.8, Arch: "x86_64"},
	{ID: "POP2-8C-32G", Category: "compute", VCPUs: 8, RAMGiB: 32, HourlyPriceEUR: 0.3080, BlockStorage: true, LocalStorageGB: 200, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 1.6, Arch: "x86_64"},
	{ID: "POP2-16C-64G", Category: "compute", VCPUs: 16, RAMGiB: 64, HourlyPriceEUR: 0.6160, BlockStorage: true, LocalStorageGB: 400, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 3.2, Arch: "x86_64"},
	{ID: "POP2-32C-128G", Category: "compute", VCPUs: 32, RAMGiB: 128, HourlyPriceEUR: 1.2320, BlockStorage: true, LocalStorageGB: 800, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 6.4, Arch: "x86_64"},

	// POP2 high-memory
	{ID: "POP2-HM-2C-16G", Category: "memory", VCPUs: 2, RAMGiB: 16, HourlyPriceEUR: 0.0990, BlockStorage: true, LocalStorageGB: 50, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 0.4, Arch: "x86_64"},
	{ID: "POP2-HM-4C-32G", Category: "memory", VCPUs: 4, RAMGiB: 32, HourlyPriceEUR: 0.1980, BlockStorage: true, LocalStorageGB: 100, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 0.8, Arch: "x86_64"},
	{ID: "POP2-HM-8C-64G", Category: "memory", VCPUs: 8, RAMGiB: 64, HourlyPriceEUR: 0.3960, BlockStorage: true, LocalStorageGB: 200, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 1.6, Arch: "x86_64"},
	{ID: "POP2-HM-16C-128G", Category: "memory", VCPUs: 16, RAMGiB: 128, HourlyPriceEUR: 0.7920, BlockStorage: true, LocalStorageGB: 400, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 3.2, Arch: "x86_64"},
	{ID: "POP2-HM-32C-256G", Category: "memory", VCPUs: 32, RAMGiB: 256, HourlyPriceEUR: 1.5840, BlockStorage: true, LocalStorageGB: 800, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 6.4, Arch: "x86_64"},
	{ID: "POP2-HM-64C-512G", Category: "memory", VCPUs: 64, RAMGiB: 512, HourlyPriceEUR: 3.1680, BlockStorage: true, LocalStorageGB: 1600, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 12.8, Arch: "x86_64"},

	// POP2 Windows (UEFI + VirtIO preinstalled license)
	{ID: "POP2-4C-16G-WIN", Category: "compute", VCPUs: 4, RAMGiB: 16, HourlyPriceEUR: 0.2200, BlockStorage: true, LocalStorageGB: 100, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 0.8, Windows: true, Arch: "x86_64"},
	{ID: "POP2-8C-32G-WIN", Category: "compute", VCPUs: 8, RAMGiB: 32, HourlyPriceEUR: 0.4400, BlockStorage: true, LocalStorageGB: 200, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 1.6, Windows: true, Arch: "x86_64"},
	{ID: "POP2-16C-64G-WIN", Category: "compute", VCPUs: 16, RAMGiB: 64, HourlyPriceEUR: 0.8800, BlockStorage: true, LocalStorageGB: 400, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 3.2, Windows: true, Arch: "x86_64"},
	{ID: "POP2-32C-128G-WIN", Category: "compute", VCPUs: 32, RAMGiB: 128, HourlyPriceEUR: 1.7600, BlockStorage: true, LocalStorageGB: 800, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 6.4, Windows: true, Arch: "x86_64"},

	// POP2-HM Windows
	{ID: "POP2-HM-4C-32G-WIN", Category: "memory", VCPUs: 4, RAMGiB: 32, HourlyPriceEUR: 0.2860, BlockStorage: true, LocalStorageGB: 100, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 0.8, Windows: true, Arch: "x86_64"},
	{ID: "POP2-HM-8C-64G-WIN", Category: "memory", VCPUs: 8, RAMGiB: 64, HourlyPriceEUR: 0.5720, BlockStorage: true, LocalStorageGB: 200, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 1.6, Windows: true, Arch: "x86_64"},
	{ID: "POP2-HM-16C-128G-WIN", Category: "memory", VCPUs: 16, RAMGiB: 128, HourlyPriceEUR: 1.1440, BlockStorage: true, LocalStorageGB: 400, MaxVolumes: 16, MaxVolumeSizeGB: 10000, BandwidthGbps: 3.2, Windows: true, Arch: "x86_64"},
}
