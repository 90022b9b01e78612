// Package plan reads task plans produced by planners into domain tasks.
package plan

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/go-json-experiment/json"

	"github.com/ZanzyTHEbar/critpath/internal/domain"
)

// Plan is a named list of tasks.
type Plan struct {
	ID    string
	Tasks []*domain.Task
}

type document struct {
	ID    string         `json:"id" toml:"id"`
	Tasks []taskDocument `json:"tasks" toml:"tasks"`
}

type taskDocument struct {
	ID           string   `json:"id" toml:"id"`
	DurationMs   *float64 `json:"duration_ms,omitempty" toml:"duration_ms,omitempty"`
	Dependencies []string `json:"dependencies,omitempty" toml:"dependencies,omitempty"`
	Priority     float64  `json:"priority,omitempty" toml:"priority,omitempty"`
}

// LoadFile reads a .json or .toml plan. A plan without an id is named after
// the file.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	p, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	if p.ID == "" {
		p.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// Parse decodes a plan document in the given format ("json" or "toml").
func Parse(data []byte, format string) (*Plan, error) {
	var doc document
	switch format {
	case "json":
		if err := json.Unmarshal(data, &doc, json.RejectUnknownMembers(true)); err != nil {
			return nil, invalid(fmt.Sprintf("decode json: %v", err))
		}
	case "toml":
		meta, err := toml.Decode(string(data), &doc)
		if err != nil {
			return nil, invalid(fmt.Sprintf("decode toml: %v", err))
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, invalid(fmt.Sprintf("unknown keys %v", undecoded))
		}
	default:
		return nil, invalid(fmt.Sprintf("unsupported plan format %q", format))
	}
	return doc.toPlan()
}

func (d document) toPlan() (*Plan, error) {
	p := &Plan{ID: d.ID, Tasks: make([]*domain.Task, 0, len(d.Tasks))}
	seen := make(map[string]int, len(d.Tasks))

	for i, td := range d.Tasks {
		if td.ID == "" {
			return nil, invalid(fmt.Sprintf("task %d: missing id", i))
		}
		if first, dup := seen[td.ID]; dup {
			return nil, invalid(fmt.Sprintf("task %d: duplicate id %q (first at %d)", i, td.ID, first))
		}
		seen[td.ID] = i

		task := domain.NewTask(td.ID, td.Priority, nil, td.Dependencies...)
		if td.DurationMs != nil {
			ms := *td.DurationMs
			if ms < 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
				return nil, invalid(fmt.Sprintf("task %q: invalid duration_ms %v", td.ID, ms))
			}
			task.WithEstimate(time.Duration(ms * float64(time.Millisecond)))
		}
		p.Tasks = append(p.Tasks, task)
	}
	return p, nil
}

func invalid(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg).
		WithCause(domain.ErrMalformedTask)
}
