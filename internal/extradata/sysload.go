package extradata

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
)

func init() {
	Register("sysload", func(Config) (Provider, error) {
		return &sysLoad{avg: load.AvgWithContext, vmem: mem.VirtualMemoryWithContext}, nil
	})
	Register("disk", func(cfg Config) (Provider, error) {
		dir := cfg.OutDir
		if dir == "" {
			dir = "."
		}
		return &diskFree{dir: dir, usage: disk.UsageWithContext}, nil
	})
}

// sysLoad shows the 1 minute load average and used memory.
type sysLoad struct {
	avg  func(context.Context) (*load.AvgStat, error)
	vmem func(context.Context) (*mem.VirtualMemoryStat, error)
}

func (s *sysLoad) Name() string { return "sysload" }

func (s *sysLoad) Message(ctx context.Context) (string, error) {
	a, err := s.avg(ctx)
	if err != nil {
		return "", fmt.Errorf("load average: %w", err)
	}
	m, err := s.vmem(ctx)
	if err != nil {
		return "", fmt.Errorf("virtual memory: %w", err)
	}
	return fmt.Sprintf("ld %.2f mem %.0f%%", a.Load1, m.UsedPercent), nil
}

// diskFree shows free space on the filesystem holding the fix logs.
type diskFree struct {
	dir   string
	usage func(context.Context, string) (*disk.UsageStat, error)
}

func (d *diskFree) Name() string { return "disk" }

func (d *diskFree) Message(ctx context.Context) (string, error) {
	u, err := d.usage(ctx, d.dir)
	if err != nil {
		return "", fmt.Errorf("disk usage %s: %w", d.dir, err)
	}
	return fmt.Sprintf("free %s %.0f%%", humanBytes(u.Free), 100-u.UsedPercent), nil
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%c", float64(n)/float64(div), "KMGTPE"[exp])
}
