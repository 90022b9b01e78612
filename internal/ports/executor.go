package ports

import "github.com/ZanzyTHEbar/critpath/internal/domain"

//go:generate go tool mockgen -source=executor.go -destination=mocks/executor_mock.go -package=mocks

// TaskExecutor defines the port for submitting tasks to an execution engine (like a worker pool).
// This decouples plan execution from the specific implementation of task execution.
type TaskExecutor interface {
	// Add submits a runnable job for execution.
	// Implementations may block if internal capacity is reached, and return an
	// error when the job was not accepted (e.g., pool stopped).
	Add(job domain.Runnable) error

	// TryAdd attempts to submit a runnable job for execution without blocking.
	// Returns true if the job was accepted, false otherwise (e.g., queue full, pool stopped).
	TryAdd(job domain.Runnable) bool

	// Start initializes the executor (e.g., starts worker pool monitor).
	Start() error

	// Stop gracefully shuts down the executor, waiting for active jobs to complete.
	Stop()
}
