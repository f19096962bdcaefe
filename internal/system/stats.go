package system

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Stats is a snapshot of this process and the host, printed in the
// performance report.
type Stats struct {
	CPUPercent     float64
	RSSBytes       uint64
	Threads        int32
	Goroutines     int
	LogicalCPUs    int
	HostMemPercent float64
}

// Collect снимает статистику процесса. Ошибки отдельных счетчиков не
// фатальны: поле остается нулевым.
func Collect(ctx context.Context) (Stats, error) {
	s := Stats{Goroutines: runtime.NumGoroutine()}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return s, fmt.Errorf("process stats: %w", err)
	}
	if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
		s.CPUPercent = pct
	}
	if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
		s.RSSBytes = info.RSS
	}
	if n, err := proc.NumThreadsWithContext(ctx); err == nil {
		s.Threads = n
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.HostMemPercent = vm.UsedPercent
	}
	return s, nil
}

func (s Stats) String() string {
	return fmt.Sprintf("CPU: %.1f%% | RSS: %.1f MiB | Threads: %d | Goroutines: %d | Host CPUs: %d | Host Mem: %.1f%%",
		s.CPUPercent, float64(s.RSSBytes)/(1<<20), s.Threads, s.Goroutines, s.LogicalCPUs, s.HostMemPercent)
}
