package resource

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const gpuProbeTimeout = 5 * time.Second

// GPUStatus is one nvidia-smi reading. Memory figures are in MiB as
// nvidia-smi reports them.
type GPUStatus struct {
	Name               string  `json:"name"`
	MemoryUsedMiB      float64 `json:"memory_used_mib"`
	MemoryTotalMiB     float64 `json:"memory_total_mib"`
	MemoryPercent      float64 `json:"memory_percent"`
	UtilizationPercent float64 `json:"utilization_percent"`
	TemperatureC       float64 `json:"temperature_c"`
}

// queryGPU shells out to nvidia-smi. A missing binary or a failed
// query means no GPU signal, not an error.
func queryGPU(ctx context.Context) *GPUStatus {
	ctx, cancel := context.WithTimeout(ctx, gpuProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,memory.used,memory.total,utilization.gpu,temperature.gpu",
		"--format=csv,noheader,nounits",
	).Output()
	if err != nil {
		return nil
	}
	return parseGPUQuery(string(out))
}

// parseGPUQuery reads the first line of csv,noheader,nounits output.
// Multi-GPU hosts report one line per card; the first card drives
// throttling.
func parseGPUQuery(out string) *GPUStatus {
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	parts := strings.Split(line, ", ")
	if len(parts) < 5 {
		return nil
	}

	memUsed, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil
	}
	memTotal, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return nil
	}
	util, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
	if err != nil {
		return nil
	}
	temp, err := strconv.ParseFloat(strings.TrimSpace(parts[4]), 64)
	if err != nil {
		temp = 0
	}

	status := &GPUStatus{
		Name:               strings.TrimSpace(parts[0]),
		MemoryUsedMiB:      memUsed,
		MemoryTotalMiB:     memTotal,
		UtilizationPercent: util,
		TemperatureC:       temp,
	}
	if memTotal > 0 {
		status.MemoryPercent = memUsed / memTotal * 100
	}
	return status
}
