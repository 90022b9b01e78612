package domain

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TaskEvent is the payload of task.completed and task.failed events.
type TaskEvent struct {
	RunID   string
	Task    *Task
	Latency time.Duration // Time spent running the job
	Err     error
}

// ExecutionStats is a snapshot of task execution statistics.
type ExecutionStats struct {
	Completed    int
	Failed       int
	AvgLatency   time.Duration
	TotalLatency time.Duration
	Uptime       time.Duration
}

// TaskStatsCollector collects statistics about task execution
type TaskStatsCollector struct {
	completed    int
	failed       int
	totalLatency time.Duration
	mu           sync.RWMutex
	startTime    time.Time
}

// NewTaskStatsCollector creates a new TaskStatsCollector
func NewTaskStatsCollector() *TaskStatsCollector {
	return &TaskStatsCollector{
		startTime: time.Now(),
	}
}

// RecordTaskStatus updates statistics based on task status
func (tsc *TaskStatsCollector) RecordTaskStatus(status TaskStatus, latency time.Duration) {
	tsc.mu.Lock()
	defer tsc.mu.Unlock()

	switch status {
	case Completed:
		tsc.completed++
		tsc.totalLatency += latency
	case Failed:
		tsc.failed++
	}
}

// GetStats returns the current statistics
func (tsc *TaskStatsCollector) GetStats() ExecutionStats {
	tsc.mu.RLock()
	defer tsc.mu.RUnlock()

	avgLatency := time.Duration(0)
	if tsc.completed > 0 {
		avgLatency = tsc.totalLatency / time.Duration(tsc.completed)
	}

	return ExecutionStats{
		Completed:    tsc.completed,
		Failed:       tsc.failed,
		AvgLatency:   avgLatency,
		TotalLatency: tsc.totalLatency,
		Uptime:       time.Since(tsc.startTime),
	}
}

// LogStats writes the current statistics to the logger
func (tsc *TaskStatsCollector) LogStats(logger zerolog.Logger) {
	stats := tsc.GetStats()
	logger.Info().
		Int("completed", stats.Completed).
		Int("failed", stats.Failed).
		Dur("avg_latency", stats.AvgLatency).
		Dur("uptime", stats.Uptime).
		Msg("Task stats")
}

// StartStatsMonitor periodically logs stats until ctx is done
func (tsc *TaskStatsCollector) StartStatsMonitor(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				tsc.LogStats(logger)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// EventHandler consumes task events and updates statistics. It returns once
// the channel is closed.
func (tsc *TaskStatsCollector) EventHandler(events <-chan Event) {
	for event := range events {
		if payload, ok := event.Data.(TaskEvent); ok {
			status := Completed
			if payload.Err != nil {
				status = Failed
			}
			tsc.RecordTaskStatus(status, payload.Latency)
		}
	}
}
