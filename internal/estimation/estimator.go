package estimation

import (
	"fmt"
	"time"

	"github.com/vmware2scw/vmware2scw/internal/catalog"
	"github.com/vmware2scw/vmware2scw/internal/config"
	"github.com/vmware2scw/vmware2scw/internal/inventory"
	"github.com/vmware2scw/vmware2scw/internal/plan"
)

// Work-space model: the exported VMDKs plus the qcow2 rendition coexist on
// disk until cleanup. Compressed qcow2 averages ~0.7x the virtual size,
// uncompressed ~1.0x; the VMDK side carries a 1.2x allowance for
// flat-exported thin disks.
const (
	vmdkSpaceFactor         = 1.2
	qcow2CompressedFactor   = 0.7
	qcow2UncompressedFactor = 1.0
)

// Estimator is a pure pre-flight projection over a resolved plan.
type Estimator struct {
	calculators []Calculator
}

// NewEstimator registers the default calculator set. Calculators run in
// registration order; a duplicate name panics since it would silently
// overwrite a breakdown entry.
func NewEstimator(calcs ...Calculator) *Estimator {
	if len(calcs) == 0 {
		calcs = []Calculator{Export{}, Convert{}, Upload{}, Overhead{}}
	}
	seen := map[string]bool{}
	for _, c := range calcs {
		if seen[c.Name()] {
			panic(fmt.Sprintf("estimation: calculator %q already registered", c.Name()))
		}
		seen[c.Name()] = true
	}
	return &Estimator{calculators: calcs}
}

// Run computes the estimate for a resolved plan against the catalogue and
// the app config. It performs no I/O.
func (e *Estimator) Run(rp *plan.ResolvedPlan, cat *catalog.Catalog, cfg *config.Config) Estimate {
	est := Estimate{Breakdown: map[string]time.Duration{}}

	params := Params{
		HostSlots:   rp.Plan.ConcurrencyCap(plan.ResourcePerHost),
		DiskIOSlots: rp.Plan.ConcurrencyCap(plan.ResourceDiskIO),
		S3Slots:     rp.Plan.ConcurrencyCap(plan.ResourceS3Upload),
		GlobalSlots: rp.Plan.ConcurrencyCap(plan.ResourceGlobal),
	}

	for _, wave := range rp.Waves {
		if len(wave.Migrations) == 0 {
			est.Warnings = append(est.Warnings, fmt.Sprintf("wave %q matches no VMs", wave.Name))
		}
		for _, rm := range wave.Migrations {
			params.VMCount++
			params.TotalDiskGiB += rm.VM.TotalDiskGiB()
			switch rm.VM.GuestOSFamily {
			case inventory.OSFamilyWindows:
				params.WindowsCount++
			case inventory.OSFamilyLinux:
				params.LinuxCount++
			}
			if t, ok := cat.Get(rm.TargetType); ok {
				est.MonthlyCostEUR += t.MonthlyPriceEUR()
			}
		}
	}
	for _, rm := range rp.Quarantined {
		est.UnmappableVMs = append(est.UnmappableVMs, rm.VM.Name)
	}

	est.TotalVMs = params.VMCount
	est.LinuxVMs = params.LinuxCount
	est.WindowsVMs = params.WindowsCount
	est.TotalDiskGiB = params.TotalDiskGiB

	qcow2Factor := qcow2UncompressedFactor
	if cfg.Conversion.CompressQcow2 != nil && *cfg.Conversion.CompressQcow2 {
		qcow2Factor = qcow2CompressedFactor
	}
	est.WorkSpaceGiB = params.TotalDiskGiB*vmdkSpaceFactor + params.TotalDiskGiB*qcow2Factor

	for _, c := range e.calculators {
		d, err := c.Calculate(params)
		if err != nil {
			est.Warnings = append(est.Warnings, fmt.Sprintf("%s estimate unavailable: %v", c.Name(), err))
			continue
		}
		est.Breakdown[c.Name()] = d
		est.Duration += d
	}

	e.addWarnings(&est, params, cfg)
	return est
}

func (e *Estimator) addWarnings(est *Estimate, p Params, cfg *config.Config) {
	if p.WindowsCount > 0 {
		est.Warnings = append(est.Warnings, fmt.Sprintf(
			"%d Windows VM(s) need KVM and OVMF on this host for driver injection and the UEFI boot probe", p.WindowsCount))
		if cfg.Conversion.VirtioWinISO == "" {
			est.Warnings = append(est.Warnings, "missing_virtio_iso: conversion.virtio_win_iso is not configured")
		}
	}
	if len(est.UnmappableVMs) > 0 {
		est.Warnings = append(est.Warnings, fmt.Sprintf(
			"%d VM(s) have no viable instance type and are quarantined: %v", len(est.UnmappableVMs), est.UnmappableVMs))
	}
	if cfg.Conversion.AvailableDiskGB > 0 && est.WorkSpaceGiB > cfg.Conversion.AvailableDiskGB {
		est.Warnings = append(est.Warnings, fmt.Sprintf(
			"insufficient work space: need %.0f GiB, have %.0f GiB; consider migrating in waves",
			est.WorkSpaceGiB, cfg.Conversion.AvailableDiskGB))
	}
	if p.VMCount > 20 && p.GlobalSlots < 5 {
		est.Warnings = append(est.Warnings, fmt.Sprintf(
			"large batch (%d VMs) with low global concurrency (%d)", p.VMCount, p.GlobalSlots))
	}
}
