package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/critpath/internal/domain"
)

const progressWidth = 30

// progressBar tracks plan execution progress from task events.
type progressBar struct {
	total     int
	completed int
	failed    int
	w         io.Writer
	mu        sync.Mutex
}

func newProgressBar(totalTasks int, w io.Writer) *progressBar {
	return &progressBar{total: totalTasks, w: w}
}

// consume updates the bar for every task event until events is closed.
func (pb *progressBar) consume(events <-chan domain.Event) {
	for event := range events {
		switch event.Topic {
		case domain.TaskCompleted:
			pb.record(false)
		case domain.TaskFailed:
			pb.record(true)
		}
	}
}

func (pb *progressBar) record(failed bool) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if failed {
		pb.failed++
	} else {
		pb.completed++
	}
	fmt.Fprintf(pb.w, "\r%s", pb.render())
}

// finish terminates the progress line.
func (pb *progressBar) finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	fmt.Fprintln(pb.w)
}

// render assumes mu is held.
func (pb *progressBar) render() string {
	if pb.total == 0 {
		return "progress: [] 100.0%"
	}
	done := pb.completed + pb.failed
	completed := progressWidth * pb.completed / pb.total
	failed := progressWidth * pb.failed / pb.total
	remaining := max(0, progressWidth-completed-failed)

	bar := successStyle.Render(strings.Repeat("█", completed)) +
		criticalStyle.Render(strings.Repeat("▒", failed)) +
		strings.Repeat("░", remaining)
	return fmt.Sprintf("progress: [%s] %.1f%% (%d/%d completed, %d failed)",
		bar, float64(done)/float64(pb.total)*100, pb.completed, pb.total, pb.failed)
}
