// Package sysstats sbírá snímek stavu hostitele (CPU, RAM, disk) a paměť
// vlastního procesu. Služby ho vrací v odpovědi /health.
package sysstats

import (
	"context"
	"log/slog"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	mb = 1024.0 * 1024.0
	gb = mb * 1024.0
)

// Snapshot je jeden snímek. Hodnoty, které nešlo změřit, zůstanou nulové.
type Snapshot struct {
	CPUPercent   float64 `json:"cpu_percent"`
	RAMUsedMB    float64 `json:"ram_used_mb"`
	RAMTotalMB   float64 `json:"ram_total_mb"`
	ProcessRSSMB float64 `json:"process_rss_mb"`
	DiskUsedGB   float64 `json:"disk_used_gb"`
	DiskTotalGB  float64 `json:"disk_total_gb"`
}

// Collect změří stav systému. Chyba jednoho měření nezastaví ostatní, jen se zaloguje.
// CPU se měří bez čekání (interval 0): porovnává se s minulým voláním.
func Collect(ctx context.Context, logger *slog.Logger, diskPath string) Snapshot {
	var s Snapshot

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else if err != nil {
		logger.Debug("Chyba při čtení CPU statistik", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		// Used bez page cache: Total - Available.
		s.RAMUsedMB = float64(vm.Total-vm.Available) / mb
		s.RAMTotalMB = float64(vm.Total) / mb
	} else {
		logger.Debug("Chyba při čtení RAM statistik", "error", err)
	}

	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSSMB = float64(info.RSS) / mb
		}
	}

	if diskPath == "" {
		diskPath = "/"
	}
	if du, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		s.DiskUsedGB = float64(du.Used) / gb
		s.DiskTotalGB = float64(du.Total) / gb
	} else {
		logger.Debug("Chyba při čtení statistik disku", "path", diskPath, "error", err)
	}

	return s
}
