package system

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Collector 进程与系统资源采样器，由调用方决定采样节奏
type Collector struct {
	proc  *process.Process
	mu    sync.RWMutex
	stats Stats
}

// Stats 系统统计数据
type Stats struct {
	// 进程 CPU 使用率 (0-100 * 核数)
	CPUPercent float64 `json:"cpuPercent"`
	// 系统整体 CPU 使用率 (0-100)
	SystemCPUPercent float64 `json:"systemCpuPercent"`
	// 进程 RSS 占物理内存比例 (0-100)
	MemoryPercent float64 `json:"memoryPercent"`
	// 进程 RSS 字节数
	MemoryBytes uint64    `json:"memoryBytes"`
	Goroutines  int       `json:"goroutines"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// New 创建当前进程的采样器
func New() (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Collector{proc: proc}, nil
}

// Collect 执行一次采样并返回结果，单项失败时该项保留零值
func (c *Collector) Collect() Stats {
	var stats Stats

	if p, err := c.proc.CPUPercent(); err == nil {
		stats.CPUPercent = p
	}

	if memInfo, err := c.proc.MemoryInfo(); err == nil {
		stats.MemoryBytes = memInfo.RSS
		if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
			stats.MemoryPercent = float64(memInfo.RSS) / float64(vm.Total) * 100
		}
	}

	if ps, err := cpu.Percent(0, false); err == nil && len(ps) > 0 {
		stats.SystemCPUPercent = ps[0]
	}

	stats.Goroutines = runtime.NumGoroutine()
	stats.UpdatedAt = time.Now()

	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
	return stats
}

// Last 返回最近一次采样结果
func (c *Collector) Last() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
