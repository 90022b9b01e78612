package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/critpath/internal/adapters/eventbus"
	"github.com/ZanzyTHEbar/critpath/internal/adapters/workerpool"
	"github.com/ZanzyTHEbar/critpath/internal/domain"
	"github.com/ZanzyTHEbar/critpath/internal/plan"
	"github.com/ZanzyTHEbar/critpath/internal/utils"
)

// simulatedJob stands in for real work by sleeping for the task's estimate.
type simulatedJob struct {
	ctx   context.Context
	id    string
	sleep time.Duration
	fail  bool
}

func (j *simulatedJob) Run() error {
	if j.sleep > 0 {
		timer := time.NewTimer(j.sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-j.ctx.Done():
			return j.ctx.Err()
		}
	}
	if j.fail {
		return fmt.Errorf("simulated failure of %s", j.id)
	}
	return nil
}

func newRunCmd(a *app) *cobra.Command {
	var (
		timeScale float64
		failTasks []string
		opts      runOptions
	)
	cmd := &cobra.Command{
		Use:   "run PLAN",
		Short: "Execute a plan on the worker pool with simulated jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if timeScale < 0 {
				return fmt.Errorf("--time-scale cannot be negative")
			}
			p, err := plan.LoadFile(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fail := make(map[string]bool, len(failTasks))
			for _, id := range failTasks {
				fail[id] = true
			}
			for _, t := range p.Tasks {
				t.Job = &simulatedJob{
					ctx:   ctx,
					id:    t.ID,
					sleep: time.Duration(float64(t.Estimated()) * timeScale),
					fail:  fail[t.ID],
				}
			}

			return a.runPlan(ctx, p, opts)
		},
	}
	cmd.Flags().Float64Var(&timeScale, "time-scale", 1, "multiplier applied to estimates when simulating work")
	cmd.Flags().StringSliceVar(&failTasks, "fail", nil, "task IDs whose simulated job fails")
	cmd.Flags().DurationVar(&opts.statsInterval, "stats-interval", 0, "log execution statistics periodically (0 disables)")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "draw a progress bar on stderr")
	return cmd
}

type runOptions struct {
	statsInterval time.Duration
	progress      bool
}

type subscription struct {
	topic string
	sub   eventbus.Subscriber
}

func (a *app) runPlan(ctx context.Context, p *plan.Plan, opts runOptions) error {
	wp := a.cfg.WorkerPool
	monitor := workerpool.NewLoadMonitor(wp.CPUThreshold, wp.MemThreshold, a.logger)
	pool, err := workerpool.NewWorkerPool(workerpool.Options{
		InitialWorkers:  wp.InitialWorkers,
		MinWorkers:      wp.MinWorkers,
		MaxWorkers:      wp.MaxWorkers,
		QueueSize:       wp.QueueSize,
		MonitorInterval: a.cfg.MonitorInterval(),
	}, monitor, a.logger)
	if err != nil {
		return err
	}
	if err := pool.Start(); err != nil {
		return err
	}
	defer pool.Stop()

	bus := eventbus.NewSimpleEventBus(a.cfg.EventBus.DefaultBufferSize, a.logger)
	defer bus.Stop()

	// Buffers hold every task event so none are dropped while the plan runs.
	bufferSize := max(a.cfg.EventBus.DefaultBufferSize, len(p.Tasks))
	var handlers sync.WaitGroup
	var subs []subscription
	listen := func(handle func(<-chan domain.Event)) error {
		for _, topic := range []string{domain.TaskCompleted, domain.TaskFailed} {
			sub, err := bus.Subscribe(topic, bufferSize)
			if err != nil {
				return err
			}
			subs = append(subs, subscription{topic: topic, sub: sub})
			handlers.Add(1)
			go func() {
				defer handlers.Done()
				handle(sub)
			}()
		}
		return nil
	}

	collector := domain.NewTaskStatsCollector()
	if err := listen(collector.EventHandler); err != nil {
		return err
	}
	if opts.statsInterval > 0 {
		collector.StartStatsMonitor(ctx, opts.statsInterval, a.logger)
	}
	var bar *progressBar
	if opts.progress {
		bar = newProgressBar(len(p.Tasks), a.errOut)
		if err := listen(bar.consume); err != nil {
			return err
		}
	}

	optimizer := domain.NewCriticalPathOptimizer(a.cfg.OptimizerConfig(), a.logger)
	executor := domain.NewPlanExecutor(optimizer, pool, bus, a.logger)
	report, runErr := executor.Execute(ctx, p.Tasks)

	for _, s := range subs {
		if err := bus.Unsubscribe(s.topic, s.sub); err != nil {
			a.logger.Warn().Err(err).Str("topic", s.topic).Msg("Unsubscribe failed")
		}
		close(s.sub)
	}
	handlers.Wait()
	if bar != nil {
		bar.finish()
	}

	if report != nil {
		writeRunReport(a.out, p.ID, report, collector.GetStats(), runErr)
	}
	return runErr
}

func writeRunReport(w io.Writer, planID string, report *domain.ExecutionReport, stats domain.ExecutionStats, runErr error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render("run "+planID))
	fmt.Fprintf(&b, "  %s %s\n", label("dispatch order"), strings.Join(report.DispatchOrder, " -> "))

	status := successStyle.Render("ok")
	if runErr != nil {
		status = criticalStyle.Render("failed")
	}
	fmt.Fprintf(&b, "  %s %s\n", label("status"), status)
	fmt.Fprintf(&b, "  %s %d\n", label("completed"), stats.Completed)
	fmt.Fprintf(&b, "  %s %d\n", label("failed"), stats.Failed)
	fmt.Fprintf(&b, "  %s %s\n", label("avg latency"), utils.FormatDuration(stats.AvgLatency))
	fmt.Fprintf(&b, "  %s %s\n", label("elapsed"), utils.FormatDuration(report.Elapsed))
	_, _ = io.WriteString(w, b.String())
}
