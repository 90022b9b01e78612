package workerpool

import (
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// LoadMonitor tracks system resource usage.
type LoadMonitor struct {
	cpuThreshold float64
	memThreshold float64
	logger       zerolog.Logger

	// Overridable in tests.
	cpuPercent func() (float64, error)
	memPercent func() (float64, error)
}

// NewLoadMonitor creates a new LoadMonitor with given thresholds, expressed
// as fractions between 0 and 1.
func NewLoadMonitor(cpuThreshold, memThreshold float64, logger zerolog.Logger) *LoadMonitor {
	return &LoadMonitor{
		cpuThreshold: cpuThreshold,
		memThreshold: memThreshold,
		logger:       logger.With().Str("component", "load_monitor").Logger(),
		cpuPercent:   systemCPUPercent,
		memPercent:   systemMemPercent,
	}
}

func systemCPUPercent() (float64, error) {
	// Zero interval compares against the previous call.
	percent, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percent) == 0 {
		return 0, nil
	}
	return percent[0], nil
}

func systemMemPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// GetCPUUsage returns the current CPU usage fraction (0.0 to 1.0), or 0 when
// it cannot be read.
func (lm *LoadMonitor) GetCPUUsage() float64 {
	percent, err := lm.cpuPercent()
	if err != nil {
		lm.logger.Debug().Err(err).Msg("Reading CPU usage failed")
		return 0
	}
	return clampFraction(percent / 100)
}

// GetMemUsage returns the current memory usage fraction (0.0 to 1.0), or 0
// when it cannot be read.
func (lm *LoadMonitor) GetMemUsage() float64 {
	percent, err := lm.memPercent()
	if err != nil {
		lm.logger.Debug().Err(err).Msg("Reading memory usage failed")
		return 0
	}
	return clampFraction(percent / 100)
}

// GetCPUThreshold returns the configured CPU threshold.
func (lm *LoadMonitor) GetCPUThreshold() float64 {
	return lm.cpuThreshold
}

// GetMemThreshold returns the configured Memory threshold.
func (lm *LoadMonitor) GetMemThreshold() float64 {
	return lm.memThreshold
}

func clampFraction(v float64) float64 {
	return max(0, min(v, 1))
}
