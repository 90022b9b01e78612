package plan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/critpath/internal/domain"
)

type taskSummary struct {
	ID       string
	Deps     []string
	Estimate time.Duration
	Priority float64
	HasEst   bool
}

func summarize(tasks []*domain.Task) []taskSummary {
	out := make([]taskSummary, len(tasks))
	for i, t := range tasks {
		out[i] = taskSummary{
			ID:       t.ID,
			Deps:     t.Dependencies,
			Estimate: t.Estimated(),
			Priority: t.Priority,
			HasEst:   t.EstimatedDuration != nil,
		}
	}
	return out
}

func TestLoadFile_FormatsAgree(t *testing.T) {
	want := []taskSummary{
		{ID: "build", Estimate: time.Second, HasEst: true},
		{ID: "unit-tests", Deps: []string{"build"}, Estimate: 2 * time.Second, HasEst: true},
		{ID: "lint", Deps: []string{"build"}, Estimate: 500 * time.Millisecond, HasEst: true},
		{ID: "package", Deps: []string{"unit-tests", "lint"}, Estimate: 1500 * time.Millisecond, Priority: 1, HasEst: true},
		{ID: "notes", Estimate: domain.DefaultEstimatedDuration},
	}

	for _, name := range []string{"release.json", "release.toml"} {
		t.Run(name, func(t *testing.T) {
			p, err := LoadFile(filepath.Join("testdata", name))
			require.NoError(t, err)
			assert.Equal(t, "release", p.ID)
			if diff := cmp.Diff(want, summarize(p.Tasks)); diff != "" {
				t.Errorf("tasks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFile_IDFromFileName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nightly.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tasks":[{"id":"a","duration_ms":0}]}`), 0o644))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", p.ID)
	require.Len(t, p.Tasks, 1)
	require.NotNil(t, p.Tasks[0].EstimatedDuration, "explicit zero is kept")
	assert.Zero(t, p.Tasks[0].Estimated())
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "none.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]struct {
		format string
		data   string
		want   string
	}{
		"missing id":        {"json", `{"tasks":[{"duration_ms":5}]}`, "missing id"},
		"duplicate id":      {"json", `{"tasks":[{"id":"a"},{"id":"a"}]}`, `duplicate id "a"`},
		"negative duration": {"json", `{"tasks":[{"id":"a","duration_ms":-1}]}`, "invalid duration_ms"},
		"unknown member":    {"json", `{"tasks":[{"id":"a","cost":3}]}`, "decode json"},
		"unknown toml key":  {"toml", "[[tasks]]\nid = \"a\"\ncost = 3\n", "unknown keys"},
		"bad format":        {"yaml", "tasks: []", "unsupported plan format"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.data), tc.format)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParse_FractionalMilliseconds(t *testing.T) {
	p, err := Parse([]byte(`{"tasks":[{"id":"a","duration_ms":1.5}]}`), "json")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Microsecond, p.Tasks[0].Estimated())
}
