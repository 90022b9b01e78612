package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/critpath/internal/domain"
	"github.com/ZanzyTHEbar/critpath/internal/plan"
	"github.com/ZanzyTHEbar/critpath/internal/utils"
)

type taskReport struct {
	ID             string  `json:"id"`
	Priority       float64 `json:"priority"`
	DurationMs     float64 `json:"durationMs"`
	EarliestStart  float64 `json:"earliestStartMs"`
	EarliestFinish float64 `json:"earliestFinishMs"`
	LatestStart    float64 `json:"latestStartMs"`
	LatestFinish   float64 `json:"latestFinishMs"`
	Slack          float64 `json:"slackMs"`
	Critical       bool    `json:"critical"`
	Depth          int     `json:"depth"`
}

type planReport struct {
	Plan         string       `json:"plan"`
	Order        []taskReport `json:"order"`
	CriticalPath []string     `json:"criticalPath"`
	HorizonMs    float64      `json:"horizonMs"`
	Disabled     bool         `json:"optimizerDisabled,omitempty"`
	Error        string       `json:"error,omitempty"`
}

type statsReport struct {
	TotalOptimizations    int     `json:"totalOptimizations"`
	CriticalPathsFound    int     `json:"criticalPathsFound"`
	AvgCriticalPathLength float64 `json:"avgCriticalPathLength"`
	AvgSlackMs            float64 `json:"avgSlackMs"`
	TasksProcessed        int     `json:"tasksProcessed"`
	CyclesDetected        int     `json:"cyclesDetected"`
	Failures              int     `json:"failures"`
}

type optimizeReport struct {
	Plans []planReport `json:"plans"`
	Stats statsReport  `json:"stats"`
}

func newOptimizeCmd(a *app) *cobra.Command {
	var (
		asJSON bool
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "optimize PLAN...",
		Short: "Compute critical paths and the optimized order of one or more plans",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.optimizePlans(cmd, args)
			if err != nil {
				return err
			}

			if asJSON {
				err = json.MarshalWrite(a.out, report, jsontext.WithIndent("  "))
				if err == nil {
					_, err = io.WriteString(a.out, "\n")
				}
			} else {
				err = writeOptimizeReport(a.out, report)
			}
			if err != nil {
				return err
			}

			if strict {
				for _, p := range report.Plans {
					if p.Error != "" {
						return fmt.Errorf("plan %s: %s", p.Plan, p.Error)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit a JSON report")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when a plan cannot be analyzed (e.g. it has a cycle)")
	return cmd
}

// optimizePlans loads and optimizes plans concurrently on a shared optimizer.
func (a *app) optimizePlans(cmd *cobra.Command, paths []string) (*optimizeReport, error) {
	optimizer := domain.NewCriticalPathOptimizer(a.cfg.OptimizerConfig(), a.logger)
	plans := make([]planReport, len(paths))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(a.cfg.Executor.MaxConcurrentPlans)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := plan.LoadFile(path)
			if err != nil {
				return err
			}
			plans[i] = reportPlan(optimizer, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := optimizer.Stats()
	return &optimizeReport{
		Plans: plans,
		Stats: statsReport{
			TotalOptimizations:    s.TotalOptimizations,
			CriticalPathsFound:    s.CriticalPathsFound,
			AvgCriticalPathLength: s.AvgCriticalPathLength,
			AvgSlackMs:            s.AvgSlack,
			TasksProcessed:        s.TasksProcessed,
			CyclesDetected:        s.CyclesDetected,
			Failures:              s.Failures,
		},
	}, nil
}

func reportPlan(optimizer *domain.CriticalPathOptimizer, p *plan.Plan) planReport {
	ordered := optimizer.Optimize(p.Tasks)
	report := planReport{Plan: p.ID, Order: make([]taskReport, 0, len(ordered))}
	inputOrder := func() planReport {
		for _, t := range ordered {
			report.Order = append(report.Order, taskReport{ID: t.ID, Priority: t.Priority})
		}
		return report
	}

	// Timings would not match the unchanged order.
	if !optimizer.Config().Enabled {
		report.Disabled = true
		return inputOrder()
	}

	analysis, err := optimizer.Analyze(p.Tasks)
	if err != nil {
		report.Error = err.Error()
		return inputOrder()
	}

	report.HorizonMs = analysis.Horizon
	report.CriticalPath = analysis.CriticalPathIDs()
	for _, t := range ordered {
		n := analysis.Node(t.ID)
		report.Order = append(report.Order, taskReport{
			ID:             n.ID,
			Priority:       n.Priority,
			DurationMs:     n.Duration,
			EarliestStart:  n.EarliestStart,
			EarliestFinish: n.EarliestFinish,
			LatestStart:    n.LatestStart,
			LatestFinish:   n.LatestFinish,
			Slack:          n.Slack,
			Critical:       n.IsCritical,
			Depth:          n.Depth,
		})
	}
	return report
}

func writeOptimizeReport(w io.Writer, report *optimizeReport) error {
	var b strings.Builder
	for _, p := range report.Plans {
		fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("plan "+p.Plan), labelStyle.Render(fmt.Sprintf("(%d tasks)", len(p.Order))))

		if p.Disabled || p.Error != "" {
			if p.Disabled {
				fmt.Fprintf(&b, "%s\n", labelStyle.Render("optimizer disabled: input order kept"))
			} else {
				fmt.Fprintf(&b, "%s %s\n", warnStyle.Render("warning: order unchanged:"), p.Error)
			}
			for i, t := range p.Order {
				fmt.Fprintf(&b, "  %d. %s\n", i+1, t.ID)
			}
			b.WriteString("\n")
			continue
		}

		t := newTable("#", "TASK", "PRIORITY", "DURATION", "ES", "SLACK", "DEPTH", "CRITICAL")
		for i, tr := range p.Order {
			crit := ""
			if tr.Critical {
				crit = criticalStyle.Render("yes")
			}
			t.Row(
				strconv.Itoa(i+1),
				tr.ID,
				formatFloat(tr.Priority),
				utils.FormatMillis(tr.DurationMs),
				utils.FormatMillis(tr.EarliestStart),
				utils.FormatMillis(tr.Slack),
				strconv.Itoa(tr.Depth),
				crit,
			)
		}
		b.WriteString(t.Render())
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s %s\n", label("critical path"), strings.Join(p.CriticalPath, " -> "))
		fmt.Fprintf(&b, "%s %s\n\n", label("horizon"), utils.FormatMillis(p.HorizonMs))
	}

	s := report.Stats
	fmt.Fprintf(&b, "%s\n", titleStyle.Render("optimizer statistics"))
	fmt.Fprintf(&b, "  %s %d\n", label("optimizations"), s.TotalOptimizations)
	fmt.Fprintf(&b, "  %s %d\n", label("critical paths found"), s.CriticalPathsFound)
	fmt.Fprintf(&b, "  %s %s\n", label("avg critical path length"), formatFloat(s.AvgCriticalPathLength))
	fmt.Fprintf(&b, "  %s %s\n", label("avg slack"), utils.FormatMillis(s.AvgSlackMs))
	fmt.Fprintf(&b, "  %s %d\n", label("tasks processed"), s.TasksProcessed)
	fmt.Fprintf(&b, "  %s %d\n", label("cycles detected"), s.CyclesDetected)
	fmt.Fprintf(&b, "  %s %d\n", label("failures"), s.Failures)

	_, err := io.WriteString(w, b.String())
	return err
}
