// Package handlers provides HTTP API handlers for streamforge.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// HealthHandler handles health/liveness/readiness endpoints.
type HealthHandler struct {
	version string
	startTime time.Time
	readyCheck func() bool
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version: version,
		startTime: time.Now(),
	}
}

// WithReadyCheck registers a callback consulted by GetReadyz to decide
// whether the process is ready to serve traffic (e.g. "the Pipeline has
// started"). Without one, readiness is always "not_ready".
func (h *HealthHandler) WithReadyCheck(fn func() bool) *HealthHandler {
	h.readyCheck = fn
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the comprehensive health check response.
type HealthResponse struct {
	Status string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version string `json:"version"`
	Uptime string `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	SystemLoad float64 `json:"system_load"`
	CPUInfo CPUInfo `json:"cpu_info"`
	Memory MemoryInfo `json:"memory"`
	Components HealthComponents `json:"components"`
}

// CPUInfo contains CPU load information.
type CPUInfo struct {
	Cores int `json:"cores"`
	Load1Min float64 `json:"load_1min"`
	Load5Min float64 `json:"load_5min"`
	Load15Min float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo contains memory usage information.
type MemoryInfo struct {
	TotalMemoryMB float64 `json:"total_memory_mb"`
	UsedMemoryMB float64 `json:"used_memory_mb"`
	FreeMemoryMB float64 `json:"free_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	SwapUsedMB float64 `json:"swap_used_mb"`
	SwapTotalMB float64 `json:"swap_total_mb"`
	ProcessMemory ProcessMemoryInfo `json:"process_memory"`
}

// ProcessMemoryInfo contains process-specific memory information.
type ProcessMemoryInfo struct {
	MainProcessMB float64 `json:"main_process_mb"`
	ChildProcessesMB float64 `json:"child_processes_mb"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
	ChildProcessCount int `json:"child_process_count"`
}

// HealthComponents contains health status of the components this process
// hosts directly (no external datastore: segment/manifest artifacts are
// files, and the Dasher/graph/TimeRectifier hold no persistent state).
type HealthComponents struct {
	Pipeline string `json:"pipeline"`
	Scheduler string `json:"scheduler"`
}

// Register registers the health/livez/readyz routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Description: "Always succeeds once the process is running; used by orchestrators to detect a hung process.",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Description: "Succeeds once the Pipeline has started and is ready to accept traffic.",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	cpuInfo := h.getCPUInfo()
	memInfo := h.getMemoryInfo()

	schedulerStatus := "ok"
	pipelineStatus := "not_configured"
	if h.readyCheck != nil {
		pipelineStatus = "not_ready"
		if h.readyCheck() {
			pipelineStatus = "ok"
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status: "healthy",
			Timestamp: now.UTC().Format(time.RFC3339),
			Version: h.version,
			Uptime: uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			SystemLoad: cpuInfo.LoadPercentage1Min / 100,
			CPUInfo: cpuInfo,
			Memory: memInfo,
			Components: HealthComponents{
				Pipeline: pipelineStatus,
				Scheduler: schedulerStatus,
			},
		},
	}, nil
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezResponse is the liveness probe response body.
type LivezResponse struct {
	Status string `json:"status"`
}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body LivezResponse
}

// GetLivez always reports "ok": reaching this handler at all proves the
// HTTP server's goroutine is alive and serving.
func (h *HealthHandler) GetLivez(ctx context.Context, input *LivezInput) (*LivezOutput, error) {
	return &LivezOutput{Body: LivezResponse{Status: "ok"}}, nil
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ReadyzResponse is the readiness probe response body.
type ReadyzResponse struct {
	Status string `json:"status"`
	Components map[string]string `json:"components"`
}

// ReadyzOutput is the output for the readiness probe.
type ReadyzOutput struct {
	Body ReadyzResponse
}

// GetReadyz reports "not_ready" until a ready-check callback is registered
// and returns true.
func (h *HealthHandler) GetReadyz(ctx context.Context, input *ReadyzInput) (*ReadyzOutput, error) {
	components := map[string]string{"scheduler": "ok"}
	if h.readyCheck == nil {
		components["pipeline"] = "not_configured"
		return &ReadyzOutput{Body: ReadyzResponse{Status: "not_ready", Components: components}}, nil
	}
	if h.readyCheck() {
		components["pipeline"] = "ok"
		return &ReadyzOutput{Body: ReadyzResponse{Status: "ready", Components: components}}, nil
	}
	components["pipeline"] = "starting"
	return &ReadyzOutput{Body: ReadyzResponse{Status: "not_ready", Components: components}}, nil
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}
	return info
}

// getMemoryInfo returns memory usage information.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.FreeMemoryMB = float64(vmStat.Free) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	swapStat, err := mem.SwapMemory()
	if err == nil && swapStat != nil {
		info.SwapTotalMB = float64(swapStat.Total) / 1024 / 1024
		info.SwapUsedMB = float64(swapStat.Used) / 1024 / 1024
	}

	info.ProcessMemory = h.getProcessMemoryInfo(info.TotalMemoryMB)
	return info
}

// getProcessMemoryInfo returns process-specific memory information.
func (h *HealthHandler) getProcessMemoryInfo(totalSystemMB float64) ProcessMemoryInfo {
	info := ProcessMemoryInfo{}

	pid := int32(os.Getpid())
	proc, err := process.NewProcess(pid)
	if err != nil {
		return info
	}

	memInfo, err := proc.MemoryInfo()
	if err == nil && memInfo != nil {
		info.MainProcessMB = float64(memInfo.RSS) / 1024 / 1024
		info.TotalProcessTreeMB = info.MainProcessMB
		if totalSystemMB > 0 {
			info.PercentageOfSystem = (info.MainProcessMB / totalSystemMB) * 100
		}
	}

	children, err := proc.Children()
	if err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			childMem, err := child.MemoryInfo()
			if err == nil && childMem != nil {
				childMB := float64(childMem.RSS) / 1024 / 1024
				info.ChildProcessesMB += childMB
				info.TotalProcessTreeMB += childMB
			}
		}
	}
	return info
}
