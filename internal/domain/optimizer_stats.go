package domain

import "sync"

// OptimizerStats is a snapshot of cross-call optimizer statistics.
type OptimizerStats struct {
	TotalOptimizations    int     // Calls that ran the pipeline
	CriticalPathsFound    int     // Calls that produced a critical path
	AvgCriticalPathLength float64 // Running mean over successful calls
	AvgSlack              float64 // Running mean of each call's mean slack, in ms
	TasksProcessed        int     // Tasks across successful calls
	CyclesDetected        int
	Failures              int // Failed calls, cycles included
}

type optimizerStats struct {
	mu    sync.Mutex
	stats OptimizerStats
}

func (s *optimizerStats) recordInvocation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalOptimizations++
}

func (s *optimizerStats) recordSuccess(pathLength int, meanSlack float64, tasks int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.CriticalPathsFound++
	n := float64(s.stats.CriticalPathsFound)
	s.stats.AvgCriticalPathLength += (float64(pathLength) - s.stats.AvgCriticalPathLength) / n
	s.stats.AvgSlack += (meanSlack - s.stats.AvgSlack) / n
	s.stats.TasksProcessed += tasks
}

func (s *optimizerStats) recordFailure(cycle bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Failures++
	if cycle {
		s.stats.CyclesDetected++
	}
}

func (s *optimizerStats) snapshot() OptimizerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
