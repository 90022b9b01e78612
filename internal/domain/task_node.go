package domain

import (
	"math"
	"time"
)

// TaskNode carries the scheduling metrics computed for one task during a
// single optimizer call. All timings are in milliseconds.
type TaskNode struct {
	Task         *Task
	ID           string
	Duration     float64
	Dependencies []string

	EarliestStart  float64
	EarliestFinish float64
	LatestStart    float64 // +Inf until the backward pass
	LatestFinish   float64 // +Inf until the backward pass
	Slack          float64

	IsCritical bool
	Priority   float64
	Depth      int
}

func newTaskNode(task *Task) *TaskNode {
	deps := make([]string, len(task.Dependencies))
	copy(deps, task.Dependencies)
	return &TaskNode{
		Task:         task,
		ID:           task.ID,
		Duration:     toMillis(task.Estimated()),
		Dependencies: deps,
		LatestStart:  math.Inf(1),
		LatestFinish: math.Inf(1),
	}
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
