package monitor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/scheduler"
)

// HostInfo describes the machine jobs are registered on
type HostInfo struct {
	Hostname        string             `json:"hostname"`
	OS              string             `json:"os"`
	Platform        string             `json:"platform"`
	PlatformVersion string             `json:"platform_version"`
	KernelVersion   string             `json:"kernel_version"`
	Arch            string             `json:"arch"`
	Uptime          time.Duration      `json:"uptime"`
	CPUUsage        float64            `json:"cpu_usage"`
	MemoryUsage     float64            `json:"memory_usage"`
	Scheduler       scheduler.Platform `json:"scheduler"`
	SchedulerError  string             `json:"scheduler_error,omitempty"`
}

// Collect gathers a snapshot of the host. CPU and memory figures are best effort.
func Collect(ctx context.Context, logger *zap.Logger) (*HostInfo, error) {
	logger = logger.Named("monitor")

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get host info: %w", err)
	}

	hi := &HostInfo{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Arch:            runtime.GOARCH,
		Uptime:          time.Duration(info.Uptime) * time.Second,
	}

	if p, err := scheduler.DetectPlatform(runtime.GOOS); err != nil {
		hi.SchedulerError = err.Error()
	} else {
		hi.Scheduler = p
	}

	if cpuPercent, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err != nil {
		logger.Warn("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		hi.CPUUsage = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		logger.Warn("Failed to get memory usage", zap.Error(err))
	} else {
		hi.MemoryUsage = memInfo.UsedPercent
	}

	logger.Debug("Host info collected",
		zap.String("hostname", hi.Hostname),
		zap.String("scheduler", string(hi.Scheduler)),
		zap.Float64("cpu_usage", hi.CPUUsage),
		zap.Float64("memory_usage", hi.MemoryUsage))

	return hi, nil
}
