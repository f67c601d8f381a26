package util

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo holds static information about the host.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Platform     string `json:"platform"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
}

var (
	sysInfoOnce sync.Once
	sysInfo     SystemInfo
)

// GetSystemInfo gathers host information. The result is computed once.
func GetSystemInfo() SystemInfo {
	sysInfoOnce.Do(func() {
		sysInfo = collectSystemInfo()
	})
	return sysInfo
}

func collectSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform:     runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// ProcessUsage is the resource usage of the running gateway.
type ProcessUsage struct {
	PID         int32   `json:"pid"`
	CPUPercent  float64 `json:"cpu_percent"`
	RSSMB       uint64  `json:"rss_mb"`
	Goroutines  int     `json:"goroutines"`
	OpenFiles   int     `json:"open_files,omitempty"`
	HostMemUsed float64 `json:"host_memory_used_percent"`
}

// GetProcessUsage samples the current process and host memory.
func GetProcessUsage() (ProcessUsage, error) {
	usage := ProcessUsage{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
	}

	proc, err := process.NewProcess(usage.PID)
	if err != nil {
		return usage, fmt.Errorf("failed to inspect process %d: %w", usage.PID, err)
	}
	if pct, err := proc.CPUPercent(); err == nil {
		usage.CPUPercent = pct
	}
	if memInfo, err := proc.MemoryInfo(); err == nil {
		usage.RSSMB = memInfo.RSS / (1024 * 1024)
	}
	if n, err := proc.NumFDs(); err == nil {
		usage.OpenFiles = int(n)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		usage.HostMemUsed = vm.UsedPercent
	}
	return usage, nil
}
