package workerpool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/critpath/internal/domain"
	"github.com/ZanzyTHEbar/critpath/internal/ports"
)

const (
	defaultQueueSize       = 100
	defaultMonitorInterval = 10 * time.Second
	defaultCooldownPeriod  = 1 * time.Minute // Cooldown after scaling down
	minWorkers             = 1
	cpuLowThreshold        = 0.5 // Threshold to consider scaling down
)

var _ ports.TaskExecutor = (*WorkerPool)(nil)

// ErrPoolStopped is returned by Add for jobs submitted after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// Options tunes a WorkerPool. Zero values select defaults.
type Options struct {
	InitialWorkers  int
	MinWorkers      int
	MaxWorkers      int
	QueueSize       int
	MonitorInterval time.Duration
}

// WorkerPool manages a pool of goroutines to execute Runnable tasks.
type WorkerPool struct {
	minWorkers      int
	maxWorkers      int
	currentWorkers  int                  // Current number of active workers
	nextWorkerID    int                  // Monotonic ID for log lines
	workerQueue     chan domain.Runnable // Channel to send tasks to workers
	retire          chan struct{}        // Each receive retires one worker
	stopChan        chan struct{}        // Closed on Stop
	drain           chan struct{}        // Closed once no submitter can still send
	submitters      sync.WaitGroup       // Add/TryAdd calls between the stopped check and the send
	wg              sync.WaitGroup       // Workers and monitor
	monitor         *LoadMonitor         // System load monitor
	monitorInterval time.Duration        // How often to check load
	cooldownUntil   time.Time            // Time until scaling is allowed again
	monitorRunning  bool
	stopped         bool
	logger          zerolog.Logger

	mu sync.Mutex // Protects worker counts, cooldownUntil, monitorRunning, stopped
}

// NewWorkerPool creates a new WorkerPool with adaptive sizing. A nil monitor
// gets one with 80% CPU and 90% memory thresholds.
func NewWorkerPool(opts Options, monitor *LoadMonitor, logger zerolog.Logger) (*WorkerPool, error) {
	if opts.MinWorkers <= 0 {
		opts.MinWorkers = minWorkers
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = runtime.NumCPU() * 4
	}
	if opts.MinWorkers > opts.MaxWorkers {
		return nil, fmt.Errorf("worker pool: min workers (%d) exceeds max workers (%d)", opts.MinWorkers, opts.MaxWorkers)
	}
	if opts.InitialWorkers <= 0 {
		opts.InitialWorkers = runtime.NumCPU()
	}
	opts.InitialWorkers = max(opts.MinWorkers, min(opts.InitialWorkers, opts.MaxWorkers))
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = defaultMonitorInterval
	}
	if monitor == nil {
		monitor = NewLoadMonitor(0.8, 0.9, logger)
	}

	pool := &WorkerPool{
		minWorkers:      opts.MinWorkers,
		maxWorkers:      opts.MaxWorkers,
		workerQueue:     make(chan domain.Runnable, opts.QueueSize),
		retire:          make(chan struct{}),
		stopChan:        make(chan struct{}),
		drain:           make(chan struct{}),
		monitor:         monitor,
		monitorInterval: opts.MonitorInterval,
		logger:          logger.With().Str("component", "workerpool").Logger(),
	}

	pool.logger.Debug().
		Int("min", opts.MinWorkers).
		Int("max", opts.MaxWorkers).
		Int("initial", opts.InitialWorkers).
		Int("queue_size", opts.QueueSize).
		Msg("Initializing worker pool")

	pool.mu.Lock()
	for i := 0; i < opts.InitialWorkers; i++ {
		pool.startWorker()
	}
	pool.mu.Unlock()

	return pool, nil
}

// startWorker launches a new worker goroutine.
// Assumes mu lock is held by the caller.
func (wp *WorkerPool) startWorker() {
	wp.currentWorkers++
	wp.nextWorkerID++
	wp.wg.Add(1)
	go wp.worker(wp.nextWorkerID)
}

// Add submits a task to the worker pool queue, blocking while the queue is full.
// Every job Add accepts is run, even if Stop is called concurrently.
func (wp *WorkerPool) Add(job domain.Runnable) error {
	if job == nil {
		return fmt.Errorf("worker pool: nil job")
	}
	if !wp.enter() {
		return ErrPoolStopped
	}
	defer wp.submitters.Done()

	select {
	case wp.workerQueue <- job:
		return nil
	case <-wp.stopChan:
		wp.logger.Warn().Msg("Worker pool stopped, task not added")
		return ErrPoolStopped
	}
}

// TryAdd attempts to submit a task without blocking.
func (wp *WorkerPool) TryAdd(job domain.Runnable) bool {
	if job == nil || !wp.enter() {
		return false
	}
	defer wp.submitters.Done()

	select {
	case wp.workerQueue <- job:
		return true
	default:
		return false // Queue full
	}
}

// enter registers a submitter unless the pool is stopped.
func (wp *WorkerPool) enter() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		return false
	}
	wp.submitters.Add(1)
	return true
}

// worker is the execution loop for a single worker goroutine.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for {
		select {
		case job := <-wp.workerQueue:
			wp.run(id, job)
		case <-wp.retire:
			wp.logger.Debug().Int("worker", id).Msg("Worker retired")
			return
		case <-wp.drain:
			// Run what was already accepted.
			for {
				select {
				case job := <-wp.workerQueue:
					wp.run(id, job)
				default:
					return
				}
			}
		}
	}
}

func (wp *WorkerPool) run(id int, job domain.Runnable) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().Int("worker", id).Interface("panic", r).Msg("Job panicked")
		}
	}()
	if err := job.Run(); err != nil {
		wp.logger.Debug().Int("worker", id).Err(err).Msg("Job returned error")
	}
}

// Start launches the load monitor that resizes the pool.
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.stopped {
		return fmt.Errorf("worker pool already stopped")
	}
	if wp.monitorRunning {
		return fmt.Errorf("worker pool monitor already started")
	}

	wp.wg.Add(1)
	go wp.adjustSizeLoop()
	wp.monitorRunning = true
	wp.logger.Debug().Dur("interval", wp.monitorInterval).Msg("Worker pool monitor started")
	return nil
}

// adjustSizeLoop periodically checks system load and adjusts the worker count.
func (wp *WorkerPool) adjustSizeLoop() {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wp.adjustSize(time.Now())
		case <-wp.stopChan:
			wp.mu.Lock()
			wp.monitorRunning = false
			wp.mu.Unlock()
			return
		}
	}
}

// adjustSize scales the pool by at most one worker per call.
func (wp *WorkerPool) adjustSize(now time.Time) {
	cpuUsage := wp.monitor.GetCPUUsage()
	memUsage := wp.monitor.GetMemUsage()

	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.stopped || now.Before(wp.cooldownUntil) {
		return
	}

	queueUsage := 0.0
	if capacity := cap(wp.workerQueue); capacity > 0 {
		queueUsage = float64(len(wp.workerQueue)) / float64(capacity)
	}

	overloaded := cpuUsage > wp.monitor.GetCPUThreshold() || memUsage > wp.monitor.GetMemThreshold()
	if (overloaded || queueUsage > 0.75) && wp.currentWorkers < wp.maxWorkers {
		wp.logger.Info().
			Float64("cpu", cpuUsage).
			Float64("mem", memUsage).
			Float64("queue", queueUsage).
			Int("workers", wp.currentWorkers+1).
			Msg("Scaling up")
		wp.startWorker()
		return
	}

	if cpuUsage < cpuLowThreshold && queueUsage < 0.1 && wp.currentWorkers > wp.minWorkers {
		select {
		case wp.retire <- struct{}{}:
			wp.currentWorkers--
			wp.cooldownUntil = now.Add(defaultCooldownPeriod)
			wp.logger.Info().
				Float64("cpu", cpuUsage).
				Float64("queue", queueUsage).
				Int("workers", wp.currentWorkers).
				Msg("Scaling down")
		default:
			// Every worker is busy; try again next tick.
		}
	}
}

// Stop signals shutdown and waits for workers and the monitor. Jobs already
// queued are still run.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.stopChan)
	workers := wp.currentWorkers
	wp.mu.Unlock()

	// Blocked submitters return on stopChan; once they are gone the queue
	// can only shrink.
	wp.submitters.Wait()
	close(wp.drain)
	wp.wg.Wait()

	wp.mu.Lock()
	wp.monitorRunning = false
	wp.currentWorkers = 0
	wp.mu.Unlock()

	wp.logger.Debug().Int("workers", workers).Msg("Worker pool stopped")
}

// GetCurrentWorkers returns the current number of active worker goroutines.
func (wp *WorkerPool) GetCurrentWorkers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.currentWorkers
}
