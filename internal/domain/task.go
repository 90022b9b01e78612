package domain

import "time"

// DefaultEstimatedDuration is used for tasks that carry no estimate.
const DefaultEstimatedDuration = time.Second

// TaskStatus defines the current state of a task.
type TaskStatus int

const (
	// Pending tasks are waiting to be dispatched.
	Pending TaskStatus = iota
	// Running tasks are currently being executed by a worker.
	Running
	// Completed tasks have finished execution successfully.
	Completed
	// Failed tasks encountered an error during execution.
	Failed
)

func (s TaskStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Runnable defines the interface for jobs that can be executed by the worker pool.
type Runnable interface {
	Run() error
}

// Task describes a unit of work handed to the scheduler by a planner.
// The optimizer only reads ID, EstimatedDuration, Dependencies and Priority;
// Job and Status belong to the execution engine.
type Task struct {
	ID                string         // Unique identifier within one plan
	Priority          float64        // Base priority, higher values run earlier
	Dependencies      []string       // IDs of tasks that must complete before this one starts
	EstimatedDuration *time.Duration // nil means DefaultEstimatedDuration
	Job               Runnable       // The actual work to be done
	Status            TaskStatus     // Current status of the task
}

// NewTask creates a new pending task without an estimate.
func NewTask(id string, priority float64, job Runnable, dependencies ...string) *Task {
	return &Task{
		ID:           id,
		Priority:     priority,
		Dependencies: dependencies,
		Job:          job,
		Status:       Pending,
	}
}

// WithEstimate sets the estimated duration and returns the task for chaining.
func (t *Task) WithEstimate(d time.Duration) *Task {
	t.EstimatedDuration = Estimate(d)
	return t
}

// Estimate returns a pointer suitable for Task.EstimatedDuration.
func Estimate(d time.Duration) *time.Duration {
	return &d
}

// Estimated returns the task's estimate, applying the default when unset.
func (t *Task) Estimated() time.Duration {
	if t.EstimatedDuration == nil {
		return DefaultEstimatedDuration
	}
	return *t.EstimatedDuration
}
