package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/critpath/internal/utils"
)

// Dispatcher accepts jobs for asynchronous execution, e.g. a worker pool.
// A non-nil error from Add means the job will never run.
type Dispatcher interface {
	Add(job Runnable) error
}

// EventPublisher is the part of the event bus the executor needs.
type EventPublisher interface {
	Publish(event Event)
}

// ExecutionReport summarizes one plan execution.
type ExecutionReport struct {
	RunID         string
	DispatchOrder []string
	Completed     int
	Failed        int
	Elapsed       time.Duration
}

// PlanExecutor runs a task list on a Dispatcher, releasing each task once all
// of its dependencies completed and preferring tasks the optimizer ranks higher.
type PlanExecutor struct {
	optimizer  *CriticalPathOptimizer
	dispatcher Dispatcher
	bus        EventPublisher
	logger     zerolog.Logger
}

// NewPlanExecutor creates a PlanExecutor. bus may be nil.
func NewPlanExecutor(optimizer *CriticalPathOptimizer, dispatcher Dispatcher, bus EventPublisher, logger zerolog.Logger) *PlanExecutor {
	return &PlanExecutor{
		optimizer:  optimizer,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger.With().Str("component", "plan_executor").Logger(),
	}
}

type jobResult struct {
	task    *Task
	latency time.Duration
	err     error
}

// trackedJob reports the outcome of a task back to the executor loop.
type trackedJob struct {
	task    *Task
	results chan<- jobResult
}

func (j *trackedJob) Run() (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", j.task.ID, r)
		}
		j.results <- jobResult{task: j.task, latency: time.Since(start), err: err}
	}()

	if j.task.Job == nil {
		return nil
	}
	return j.task.Job.Run()
}

// Execute optimizes and runs tasks. Dependencies on IDs outside the list are
// treated as satisfied. After the first failure no new tasks are dispatched;
// the executor waits for running tasks and returns the failure.
func (pe *PlanExecutor) Execute(ctx context.Context, tasks []*Task) (*ExecutionReport, error) {
	if pe.dispatcher == nil {
		return nil, fmt.Errorf("plan executor has no dispatcher")
	}

	start := time.Now()
	report := &ExecutionReport{RunID: utils.GenerateRunID()}
	log := pe.logger.With().Str("run_id", report.RunID).Logger()
	if len(tasks) == 0 {
		return report, nil
	}

	ordered := pe.optimizer.Optimize(tasks)
	pe.publish(PlanOptimized, ordered)

	rank := make(map[string]int, len(ordered))
	byID := make(map[string]*Task, len(ordered))
	for i, task := range ordered {
		if task == nil || task.ID == "" {
			return nil, malformedTaskError(i, "missing ID")
		}
		if _, dup := byID[task.ID]; dup {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("duplicate task ID %q", task.ID)).
				WithCause(ErrMalformedTask)
		}
		rank[task.ID] = i
		byID[task.ID] = task
	}

	waiting := make(map[string]int, len(ordered))
	dependents := make(map[string][]string, len(ordered))
	for _, task := range ordered {
		seen := make(map[string]struct{}, len(task.Dependencies))
		for _, dep := range task.Dependencies {
			if _, known := byID[dep]; !known {
				continue
			}
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			waiting[task.ID]++
			dependents[dep] = append(dependents[dep], task.ID)
		}
	}

	ready := &readyQueue{}
	for _, task := range ordered {
		task.Status = Pending
		if waiting[task.ID] == 0 {
			ready.push(task, rank[task.ID])
		}
	}

	log.Info().Int("tasks", len(ordered)).Msg("Executing plan")

	results := make(chan jobResult, len(ordered))
	inflight := 0
	var failure error

	for report.Completed+report.Failed < len(ordered) {
		for failure == nil && ready.Len() > 0 {
			task := ready.pop()
			task.Status = Running
			report.DispatchOrder = append(report.DispatchOrder, task.ID)
			if err := pe.dispatcher.Add(&trackedJob{task: task, results: results}); err != nil {
				task.Status = Failed
				report.Failed++
				pe.publish(TaskFailed, TaskEvent{RunID: report.RunID, Task: task, Err: err})
				log.Warn().Err(err).Str("task_id", task.ID).Msg("Task rejected by dispatcher")
				failure = fmt.Errorf("dispatch task %q: %w", task.ID, err)
				break
			}
			inflight++
		}

		if inflight == 0 {
			if failure != nil {
				break
			}
			err := blockedError(ordered)
			pe.finish(report, start, err)
			return report, err
		}

		select {
		case <-ctx.Done():
			pe.finish(report, start, ctx.Err())
			return report, ctx.Err()
		case res := <-results:
			inflight--
			payload := TaskEvent{RunID: report.RunID, Task: res.task, Latency: res.latency, Err: res.err}

			if res.err != nil {
				res.task.Status = Failed
				report.Failed++
				pe.publish(TaskFailed, payload)
				log.Warn().Err(res.err).Str("task_id", res.task.ID).Msg("Task failed")
				if failure == nil {
					failure = fmt.Errorf("task %q failed: %w", res.task.ID, res.err)
				}
				continue
			}

			res.task.Status = Completed
			report.Completed++
			pe.publish(TaskCompleted, payload)
			for _, id := range dependents[res.task.ID] {
				waiting[id]--
				if waiting[id] == 0 {
					ready.push(byID[id], rank[id])
				}
			}
		}
	}

	pe.finish(report, start, failure)
	return report, failure
}

func (pe *PlanExecutor) finish(report *ExecutionReport, start time.Time, err error) {
	report.Elapsed = time.Since(start)
	event := pe.logger.Info()
	topic := PlanCompleted
	if err != nil {
		event = pe.logger.Error().Err(err)
		topic = PlanFailed
	}
	event.Str("run_id", report.RunID).
		Int("completed", report.Completed).
		Int("failed", report.Failed).
		Dur("elapsed", report.Elapsed).
		Msg("Plan execution finished")
	pe.publish(topic, *report)
}

func (pe *PlanExecutor) publish(topic string, data interface{}) {
	if pe.bus != nil {
		pe.bus.Publish(NewEvent(topic, data))
	}
}

// blockedError reports tasks that can never become ready.
func blockedError(tasks []*Task) error {
	blocked := make([]string, 0)
	for _, task := range tasks {
		if task.Status == Pending {
			blocked = append(blocked, task.ID)
		}
	}
	sort.Strings(blocked)
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("deadlock: nothing in flight and nothing ready, blocked tasks [%s]",
			strings.Join(blocked, ", "))).
		WithCause(ErrCycleDetected)
}
