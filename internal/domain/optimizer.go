package domain

import (
	"cmp"
	"math"
	"slices"

	"github.com/rs/zerolog"
)

// slackTolerance absorbs float rounding when durations are fractional milliseconds.
const slackTolerance = 1e-6

// OptimizerConfig holds the tunables of a CriticalPathOptimizer.
type OptimizerConfig struct {
	Enabled        bool
	PriorityBoost  float64 // Multiplier for the critical task bonus
	SlackThreshold float64 // Milliseconds of slack at or below which a task is critical
}

// DefaultOptimizerConfig returns the stock tunables.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		Enabled:        true,
		PriorityBoost:  2.0,
		SlackThreshold: 1000,
	}
}

// Analysis is the full result of one critical path computation.
type Analysis struct {
	Nodes        []*TaskNode // One node per distinct task ID, in first-seen input order
	TopoOrder    []string
	CriticalPath []*TaskNode // Critical nodes ordered by earliest start
	Horizon      float64     // Maximum earliest finish over terminal nodes
	Ordered      []*Task     // Input tasks sorted by descending priority

	byID map[string]*TaskNode
}

// Node returns the computed node for a task ID, or nil.
func (a *Analysis) Node(id string) *TaskNode {
	return a.byID[id]
}

// CriticalPathIDs returns the IDs along the critical path.
func (a *Analysis) CriticalPathIDs() []string {
	ids := make([]string, len(a.CriticalPath))
	for i, n := range a.CriticalPath {
		ids[i] = n.ID
	}
	return ids
}

// MeanSlack returns the average slack across all nodes.
func (a *Analysis) MeanSlack() float64 {
	if len(a.Nodes) == 0 {
		return 0
	}
	total := 0.0
	for _, n := range a.Nodes {
		total += n.Slack
	}
	return total / float64(len(a.Nodes))
}

// CriticalPathOptimizer reorders tasks so that critical and low-slack work is
// dispatched first. It keeps no per-task state between calls; only the
// statistics survive, and those are safe for concurrent use.
type CriticalPathOptimizer struct {
	cfg    OptimizerConfig
	logger zerolog.Logger
	stats  optimizerStats

	backward func(g *taskGraph, order []int) (float64, error)
}

// NewCriticalPathOptimizer creates an optimizer with the given tunables.
func NewCriticalPathOptimizer(cfg OptimizerConfig, logger zerolog.Logger) *CriticalPathOptimizer {
	return &CriticalPathOptimizer{
		cfg:      cfg,
		logger:   logger.With().Str("component", "optimizer").Logger(),
		backward: (*taskGraph).backwardPass,
	}
}

// Config returns the tunables the optimizer was built with.
func (o *CriticalPathOptimizer) Config() OptimizerConfig {
	return o.cfg
}

// Stats returns a snapshot of the accumulated statistics.
func (o *CriticalPathOptimizer) Stats() OptimizerStats {
	return o.stats.snapshot()
}

// Optimize returns tasks ordered by descending scheduling priority.
//
// It never fails: when the optimizer is disabled, the input is empty, the
// dependencies contain a cycle, or anything else goes wrong, the input slice
// is returned as is. Task descriptors are never modified.
func (o *CriticalPathOptimizer) Optimize(tasks []*Task) (result []*Task) {
	if !o.cfg.Enabled || len(tasks) == 0 {
		return tasks
	}

	o.stats.recordInvocation()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Interface("panic", r).
				Int("tasks", len(tasks)).
				Msg("Critical path optimization panicked, keeping original order")
			o.stats.recordFailure(false)
			result = tasks
		}
	}()

	analysis, stage, err := o.analyze(tasks)
	if err != nil {
		cycle := stage == stageTopology
		event := o.logger.Warn()
		if !cycle {
			event = o.logger.Error()
		}
		event.Err(err).
			Str("stage", stage).
			Int("tasks", len(tasks)).
			Msg("Critical path optimization skipped, keeping original order")
		o.stats.recordFailure(cycle)
		return tasks
	}

	o.stats.recordSuccess(len(analysis.CriticalPath), analysis.MeanSlack(), len(tasks))
	o.logger.Debug().
		Int("tasks", len(tasks)).
		Float64("horizon_ms", analysis.Horizon).
		Strs("critical_path", analysis.CriticalPathIDs()).
		Msg("Critical path identified")
	return analysis.Ordered
}

// Analyze runs the full pipeline and returns every computed metric. Unlike
// Optimize it reports failures and ignores the Enabled flag and statistics.
func (o *CriticalPathOptimizer) Analyze(tasks []*Task) (*Analysis, error) {
	analysis, _, err := o.analyze(tasks)
	return analysis, err
}

const (
	stageBuild    = "build"
	stageTopology = "topology"
	stageTiming   = "timing"
)

func (o *CriticalPathOptimizer) analyze(tasks []*Task) (*Analysis, string, error) {
	g, err := buildTaskGraph(tasks)
	if err != nil {
		return nil, stageBuild, err
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, stageTopology, err
	}

	g.forwardPass(order)
	horizon, err := o.backward(g, order)
	if err != nil {
		return nil, stageTiming, err
	}

	analysis := &Analysis{
		Nodes:     g.nodes,
		TopoOrder: make([]string, len(order)),
		Horizon:   horizon,
		byID:      make(map[string]*TaskNode, len(g.nodes)),
	}
	for i, idx := range order {
		analysis.TopoOrder[i] = g.nodes[idx].ID
	}
	for _, n := range g.nodes {
		analysis.byID[n.ID] = n
	}

	analysis.CriticalPath = o.markCritical(g, order)
	for _, n := range g.nodes {
		n.Priority = o.score(n)
	}

	analysis.Ordered = make([]*Task, len(tasks))
	copy(analysis.Ordered, tasks)
	slices.SortStableFunc(analysis.Ordered, func(a, b *Task) int {
		return cmp.Compare(analysis.byID[b.ID].Priority, analysis.byID[a.ID].Priority)
	})

	return analysis, "", nil
}

func (o *CriticalPathOptimizer) markCritical(g *taskGraph, order []int) []*TaskNode {
	path := make([]*TaskNode, 0)
	for _, idx := range order {
		n := g.nodes[idx]
		n.IsCritical = n.Slack <= o.cfg.SlackThreshold
		if n.IsCritical {
			path = append(path, n)
		}
	}
	slices.SortStableFunc(path, func(a, b *TaskNode) int {
		return cmp.Compare(a.EarliestStart, b.EarliestStart)
	})
	return path
}

// score blends the declared priority, a critical bonus, urgency from low
// slack (capped at 10), chain depth and a mild bias toward longer tasks.
func (o *CriticalPathOptimizer) score(n *TaskNode) float64 {
	priority := n.Task.Priority
	if n.IsCritical {
		priority += o.cfg.PriorityBoost * 10
	}
	priority += math.Max(0, 10-n.Slack/1000)
	priority += float64(n.Depth) * 0.5
	priority += math.Log(n.Duration+1) * 0.1
	return priority
}

// taskGraph is an arena of nodes addressed by dense indices.
type taskGraph struct {
	nodes []*TaskNode
	index map[string]int
	preds [][]int // Known dependencies of each node
	succs [][]int // Nodes that depend on each node
}

// buildTaskGraph creates one node per distinct ID. A repeated ID replaces the
// earlier node in place. Dependencies on unknown IDs are dropped.
func buildTaskGraph(tasks []*Task) (*taskGraph, error) {
	g := &taskGraph{
		nodes: make([]*TaskNode, 0, len(tasks)),
		index: make(map[string]int, len(tasks)),
	}

	for i, task := range tasks {
		switch {
		case task == nil:
			return nil, malformedTaskError(i, "nil task")
		case task.ID == "":
			return nil, malformedTaskError(i, "missing ID")
		case task.EstimatedDuration != nil && *task.EstimatedDuration < 0:
			return nil, malformedTaskError(i, "negative estimated duration")
		}

		node := newTaskNode(task)
		if idx, exists := g.index[task.ID]; exists {
			g.nodes[idx] = node
			continue
		}
		g.index[task.ID] = len(g.nodes)
		g.nodes = append(g.nodes, node)
	}

	g.preds = make([][]int, len(g.nodes))
	g.succs = make([][]int, len(g.nodes))
	for i, n := range g.nodes {
		seen := make(map[int]struct{}, len(n.Dependencies))
		for _, depID := range n.Dependencies {
			dep, ok := g.index[depID]
			if !ok {
				continue
			}
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			g.preds[i] = append(g.preds[i], dep)
			g.succs[dep] = append(g.succs[dep], i)
		}
	}

	return g, nil
}

// topoSort performs Kahn's algorithm. Roots are taken in input order.
func (g *taskGraph) topoSort() ([]int, error) {
	inDegree := make([]int, len(g.nodes))
	queue := make([]int, 0, len(g.nodes))
	for i := range g.nodes {
		inDegree[i] = len(g.preds[i])
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, len(g.nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, succ := range g.succs[current] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if len(order) < len(g.nodes) {
		remaining := make([]string, 0, len(g.nodes)-len(order))
		for i, n := range g.nodes {
			if inDegree[i] > 0 {
				remaining = append(remaining, n.ID)
			}
		}
		return nil, cycleError(len(order), len(g.nodes), remaining)
	}
	return order, nil
}

// forwardPass computes earliest timings and chain depth in topological order.
func (g *taskGraph) forwardPass(order []int) {
	for _, idx := range order {
		n := g.nodes[idx]
		start, depth := 0.0, 0
		for _, p := range g.preds[idx] {
			pred := g.nodes[p]
			if pred.EarliestFinish > start {
				start = pred.EarliestFinish
			}
			if pred.Depth+1 > depth {
				depth = pred.Depth + 1
			}
		}
		n.EarliestStart = start
		n.EarliestFinish = start + n.Duration
		n.Depth = depth
	}
}

// backwardPass computes latest timings and slack in reverse topological order
// and returns the project horizon.
func (g *taskGraph) backwardPass(order []int) (float64, error) {
	horizon := 0.0
	for i, n := range g.nodes {
		if len(g.succs[i]) == 0 && n.EarliestFinish > horizon {
			horizon = n.EarliestFinish
		}
	}

	for k := len(order) - 1; k >= 0; k-- {
		idx := order[k]
		n := g.nodes[idx]

		if len(g.succs[idx]) == 0 {
			n.LatestFinish = horizon
		} else {
			finish := math.Inf(1)
			for _, s := range g.succs[idx] {
				if ls := g.nodes[s].LatestStart; ls < finish {
					finish = ls
				}
			}
			n.LatestFinish = finish
		}
		n.LatestStart = n.LatestFinish - n.Duration
		n.Slack = n.LatestStart - n.EarliestStart

		if n.Slack < 0 {
			if n.Slack < -slackTolerance {
				return 0, negativeSlackError(n.ID, n.Slack)
			}
			n.Slack = 0
		}
	}
	return horizon, nil
}
