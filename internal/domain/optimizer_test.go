package domain_test

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/critpath/internal/domain"
)

func task(id string, ms int, deps ...string) *domain.Task {
	return domain.NewTask(id, 0, nil, deps...).WithEstimate(time.Duration(ms) * time.Millisecond)
}

func ids(tasks []*domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func newOptimizer(t *testing.T, mutate ...func(*domain.OptimizerConfig)) *domain.CriticalPathOptimizer {
	t.Helper()
	cfg := domain.DefaultOptimizerConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	return domain.NewCriticalPathOptimizer(cfg, zerolog.Nop())
}

func assertTiming(t *testing.T, n *domain.TaskNode, es, ef, ls, lf, slack float64, critical bool) {
	t.Helper()
	require.NotNil(t, n)
	assert.Equal(t, es, n.EarliestStart, "task %s ES", n.ID)
	assert.Equal(t, ef, n.EarliestFinish, "task %s EF", n.ID)
	assert.Equal(t, ls, n.LatestStart, "task %s LS", n.ID)
	assert.Equal(t, lf, n.LatestFinish, "task %s LF", n.ID)
	assert.Equal(t, slack, n.Slack, "task %s slack", n.ID)
	assert.Equal(t, critical, n.IsCritical, "task %s critical", n.ID)
}

func TestAnalyze_LinearChain(t *testing.T) {
	// A -> B -> C, 1000ms each
	tasks := []*domain.Task{
		task("A", 1000),
		task("B", 1000, "A"),
		task("C", 1000, "B"),
	}

	analysis, err := newOptimizer(t).Analyze(tasks)
	require.NoError(t, err)

	assertTiming(t, analysis.Node("A"), 0, 1000, 0, 1000, 0, true)
	assertTiming(t, analysis.Node("B"), 1000, 2000, 1000, 2000, 0, true)
	assertTiming(t, analysis.Node("C"), 2000, 3000, 2000, 3000, 0, true)

	assert.Equal(t, 3000.0, analysis.Horizon)
	assert.Equal(t, []string{"A", "B", "C"}, analysis.CriticalPathIDs())
	assert.Equal(t, []string{"A", "B", "C"}, analysis.TopoOrder)
}

func TestAnalyze_FanOutSlack(t *testing.T) {
	// A -> B (2000ms), A -> C (500ms)
	tasks := []*domain.Task{
		task("A", 1000),
		task("B", 2000, "A"),
		task("C", 500, "A"),
	}

	analysis, err := newOptimizer(t).Analyze(tasks)
	require.NoError(t, err)

	assert.Equal(t, 3000.0, analysis.Horizon)
	assertTiming(t, analysis.Node("A"), 0, 1000, 0, 1000, 0, true)
	assertTiming(t, analysis.Node("B"), 1000, 3000, 1000, 3000, 0, true)
	assertTiming(t, analysis.Node("C"), 1000, 1500, 2500, 3000, 1500, false)

	assert.Equal(t, []string{"A", "B"}, analysis.CriticalPathIDs())
	assert.Greater(t, analysis.Node("B").Priority, analysis.Node("C").Priority)
	if diff := cmp.Diff([]string{"B", "A", "C"}, ids(analysis.Ordered)); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestAnalyze_TerminalNodesShareHorizon(t *testing.T) {
	tasks := []*domain.Task{
		task("root", 100),
		task("short", 50, "root"),
		task("long", 2000, "root"),
		task("island", 300),
	}

	analysis, err := newOptimizer(t).Analyze(tasks)
	require.NoError(t, err)

	assert.Equal(t, 2100.0, analysis.Horizon)
	for _, id := range []string{"short", "long", "island"} {
		assert.Equal(t, analysis.Horizon, analysis.Node(id).LatestFinish, "terminal %s", id)
	}
	assert.Equal(t, 1800.0, analysis.Node("island").Slack)
	assert.False(t, analysis.Node("short").IsCritical)
	assert.Equal(t, 1950.0, analysis.Node("short").Slack)
	assert.True(t, analysis.Node("long").IsCritical)
}

func TestAnalyze_PriorityFormula(t *testing.T) {
	tasks := []*domain.Task{
		task("A", 1000),
		task("C", 500, "A"),
		task("B", 2000, "A"),
	}
	tasks[1].Priority = 3

	analysis, err := newOptimizer(t).Analyze(tasks)
	require.NoError(t, err)

	// critical, slack 0, depth 0
	assert.InDelta(t, 2.0*10+10+math.Log(1001)*0.1, analysis.Node("A").Priority, 1e-9)
	// critical, slack 0, depth 1
	assert.InDelta(t, 2.0*10+10+0.5+math.Log(2001)*0.1, analysis.Node("B").Priority, 1e-9)
	// not critical, slack 1500, depth 1, base 3
	assert.InDelta(t, 3+8.5+0.5+math.Log(501)*0.1, analysis.Node("C").Priority, 1e-9)
}

func TestAnalyze_DepthIsLongestChain(t *testing.T) {
	//   A
	//  / \
	// B   |
	//  \ /
	//   D
	tasks := []*domain.Task{
		task("A", 10),
		task("B", 10, "A"),
		task("D", 10, "A", "B"),
	}

	analysis, err := newOptimizer(t).Analyze(tasks)
	require.NoError(t, err)

	assert.Equal(t, 0, analysis.Node("A").Depth)
	assert.Equal(t, 1, analysis.Node("B").Depth)
	assert.Equal(t, 2, analysis.Node("D").Depth)
}

func TestAnalyze_SlackThresholdIsConfigurable(t *testing.T) {
	tasks := []*domain.Task{
		task("A", 1000),
		task("B", 2000, "A"),
		task("C", 500, "A"),
	}

	analysis, err := newOptimizer(t, func(c *domain.OptimizerConfig) {
		c.SlackThreshold = 1500
	}).Analyze(tasks)
	require.NoError(t, err)
	assert.True(t, analysis.Node("C").IsCritical)

	analysis, err = newOptimizer(t, func(c *domain.OptimizerConfig) {
		c.SlackThreshold = 0
	}).Analyze(tasks)
	require.NoError(t, err)
	assert.False(t, analysis.Node("C").IsCritical)
	assert.True(t, analysis.Node("B").IsCritical)
}

func TestAnalyze_DefaultsAndUnknownDependencies(t *testing.T) {
	tasks := []*domain.Task{
		domain.NewTask("solo", 0, nil, "ghost"),
	}

	analysis, err := newOptimizer(t).Analyze(tasks)
	require.NoError(t, err)

	n := analysis.Node("solo")
	assert.Equal(t, 1000.0, n.Duration)
	assertTiming(t, n, 0, 1000, 0, 1000, 0, true)
	assert.Equal(t, []string{"ghost"}, n.Dependencies)
}

func TestAnalyze_ZeroDurationIsNotDefaulted(t *testing.T) {
	analysis, err := newOptimizer(t).Analyze([]*domain.Task{task("instant", 0)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, analysis.Node("instant").Duration)
	assert.Equal(t, 0.0, analysis.Horizon)
}

func TestAnalyze_DuplicateIDsLaterWins(t *testing.T) {
	first := task("A", 1000)
	second := task("A", 3000)
	tasks := []*domain.Task{first, task("B", 100, "A"), second}

	analysis, err := newOptimizer(t).Analyze(tasks)
	require.NoError(t, err)

	require.Len(t, analysis.Nodes, 2)
	assert.Same(t, second, analysis.Node("A").Task)
	assert.Equal(t, 3000.0, analysis.Node("B").EarliestStart)
	assert.ElementsMatch(t, tasks, analysis.Ordered)
}

func TestAnalyze_MalformedInput(t *testing.T) {
	cases := map[string][]*domain.Task{
		"missing ID":                  {task("A", 10), {Priority: 1}},
		"nil task":                    {nil},
		"negative estimated duration": {task("A", -5)},
	}
	for reason, tasks := range cases {
		t.Run(reason, func(t *testing.T) {
			_, err := newOptimizer(t).Analyze(tasks)
			require.Error(t, err)
			assert.Contains(t, err.Error(), reason)
		})
	}
}

func TestAnalyze_CycleDetected(t *testing.T) {
	_, err := newOptimizer(t).Analyze([]*domain.Task{
		task("X", 10, "Y"),
		task("Y", 10, "X"),
		task("free", 10),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "X, Y")
	assert.Contains(t, err.Error(), "1 of 3")

	_, err = newOptimizer(t).Analyze([]*domain.Task{task("self", 10, "self")})
	require.Error(t, err)
}

func TestOptimize_CycleReturnsOriginalOrder(t *testing.T) {
	opt := newOptimizer(t)
	tasks := []*domain.Task{
		task("X", 10, "Y"),
		task("Y", 10, "X"),
	}

	out := opt.Optimize(tasks)

	require.Len(t, out, 2)
	assert.Same(t, tasks[0], out[0])
	assert.Same(t, tasks[1], out[1])

	stats := opt.Stats()
	assert.Equal(t, 1, stats.TotalOptimizations)
	assert.Equal(t, 0, stats.CriticalPathsFound)
	assert.Equal(t, 1, stats.CyclesDetected)
	assert.Equal(t, 1, stats.Failures)
	assert.Zero(t, stats.AvgCriticalPathLength)
}

func TestOptimize_MalformedReturnsOriginalOrder(t *testing.T) {
	opt := newOptimizer(t)
	tasks := []*domain.Task{task("A", 10), {}}

	out := opt.Optimize(tasks)

	assert.Equal(t, tasks, out)
	stats := opt.Stats()
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 0, stats.CyclesDetected)
}

func TestOptimize_DisabledIsIdentity(t *testing.T) {
	opt := newOptimizer(t, func(c *domain.OptimizerConfig) { c.Enabled = false })

	tasks := []*domain.Task{task("A", 10), task("B", 5000, "A"), task("C", 10, "B")}
	out := opt.Optimize(tasks)
	require.Len(t, out, len(tasks))
	assert.Same(t, &tasks[0], &out[0])

	assert.Nil(t, opt.Optimize(nil))
	empty := []*domain.Task{}
	assert.Empty(t, opt.Optimize(empty))
	assert.Equal(t, domain.OptimizerStats{}, opt.Stats())
}

func TestOptimize_EmptyInput(t *testing.T) {
	opt := newOptimizer(t)
	assert.Nil(t, opt.Optimize(nil))
	assert.Zero(t, opt.Stats().TotalOptimizations)
}

func TestOptimize_DoesNotMutateInput(t *testing.T) {
	tasks := []*domain.Task{task("A", 1000), task("C", 500, "A"), task("B", 2000, "A")}
	before := ids(tasks)
	snapshot := *tasks[1]

	out := newOptimizer(t).Optimize(tasks)

	assert.Equal(t, before, ids(tasks))
	assert.Equal(t, snapshot, *tasks[1])
	assert.Equal(t, []string{"B", "A", "C"}, ids(out))
}

func TestOptimize_PriorityMonotonicity(t *testing.T) {
	opt := newOptimizer(t)
	p := task("P", 1000)
	q := task("Q", 1000)

	assert.Equal(t, []string{"P", "Q"}, ids(opt.Optimize([]*domain.Task{p, q})))

	before, err := opt.Analyze([]*domain.Task{p, q})
	require.NoError(t, err)
	prev := before.Node("Q").Priority

	q.Priority = 0.5
	after, err := opt.Analyze([]*domain.Task{p, q})
	require.NoError(t, err)
	assert.InDelta(t, prev+0.5, after.Node("Q").Priority, 1e-9)
	assert.Equal(t, []string{"Q", "P"}, ids(opt.Optimize([]*domain.Task{p, q})))
}

func TestOptimize_TiesKeepInputOrder(t *testing.T) {
	tasks := []*domain.Task{task("c", 100), task("a", 100), task("b", 100)}
	assert.Equal(t, []string{"c", "a", "b"}, ids(newOptimizer(t).Optimize(tasks)))
}

func TestOptimize_StatisticsAccuracy(t *testing.T) {
	opt := newOptimizer(t)

	// Critical path lengths 3, 2, 1 with mean slack 0, 500, 0.
	plans := [][]*domain.Task{
		{task("A", 1000), task("B", 1000, "A"), task("C", 1000, "B")},
		{task("A", 1000), task("B", 2000, "A"), task("C", 500, "A")},
		{task("solo", 1000)},
	}
	lengths := []float64{3, 2, 1}
	slacks := []float64{0, 500, 0}

	for i, plan := range plans {
		opt.Optimize(plan)

		wantLen, wantSlack := 0.0, 0.0
		for j := 0; j <= i; j++ {
			wantLen += lengths[j]
			wantSlack += slacks[j]
		}
		n := float64(i + 1)

		stats := opt.Stats()
		assert.Equal(t, i+1, stats.TotalOptimizations)
		assert.Equal(t, i+1, stats.CriticalPathsFound)
		assert.InDelta(t, wantLen/n, stats.AvgCriticalPathLength, 1e-9)
		assert.InDelta(t, wantSlack/n, stats.AvgSlack, 1e-9)
	}
	assert.Equal(t, 7, opt.Stats().TasksProcessed)
}

func TestOptimize_ConcurrentCallersShareStats(t *testing.T) {
	opt := newOptimizer(t)
	const callers = 16

	done := make(chan struct{})
	for i := 0; i < callers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			opt.Optimize([]*domain.Task{task("A", 10), task("B", 10, "A")})
		}()
	}
	for i := 0; i < callers; i++ {
		<-done
	}

	stats := opt.Stats()
	assert.Equal(t, callers, stats.TotalOptimizations)
	assert.Equal(t, callers, stats.CriticalPathsFound)
	assert.InDelta(t, 2.0, stats.AvgCriticalPathLength, 1e-9)
}

// randomDAG builds n tasks where each task may depend on earlier ones, then
// shuffles them so input order is not topological.
func randomDAG(r *rand.Rand, n int) []*domain.Task {
	tasks := make([]*domain.Task, n)
	for i := range tasks {
		var deps []string
		for j := 0; j < i; j++ {
			if r.IntN(4) == 0 {
				deps = append(deps, fmt.Sprintf("t%d", j))
			}
		}
		tasks[i] = task(fmt.Sprintf("t%d", i), r.IntN(5000), deps...)
		tasks[i].Priority = float64(r.IntN(3))
	}
	r.Shuffle(len(tasks), func(i, j int) { tasks[i], tasks[j] = tasks[j], tasks[i] })
	return tasks
}

func TestOptimize_RandomDAGInvariants(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 7))
	opt := newOptimizer(t)

	for round := 0; round < 50; round++ {
		tasks := randomDAG(r, 1+r.IntN(25))

		out := opt.Optimize(tasks)
		require.ElementsMatch(t, ids(tasks), ids(out), "round %d", round)

		analysis, err := opt.Analyze(tasks)
		require.NoError(t, err)

		successors := make(map[string]int)
		for _, n := range analysis.Nodes {
			for _, dep := range n.Dependencies {
				successors[dep]++
			}
		}
		for _, n := range analysis.Nodes {
			assert.GreaterOrEqual(t, n.EarliestFinish, n.EarliestStart)
			assert.GreaterOrEqual(t, n.LatestFinish, n.LatestStart)
			assert.GreaterOrEqual(t, n.Slack, 0.0)
			if successors[n.ID] == 0 {
				assert.Equal(t, analysis.Horizon, n.LatestFinish, "terminal %s", n.ID)
			}
		}
		for i := 1; i < len(out); i++ {
			assert.GreaterOrEqual(t, analysis.Node(out[i-1].ID).Priority, analysis.Node(out[i].ID).Priority)
		}
		require.NotEmpty(t, analysis.CriticalPath)
	}
	assert.Equal(t, 50, opt.Stats().CriticalPathsFound)
}
