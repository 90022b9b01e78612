package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%d µs", d.Microseconds())
	} else if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.2f s", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%.2f min", d.Minutes())
	}
	return fmt.Sprintf("%.2f h", d.Hours())
}

// FormatMillis formats a millisecond quantity such as a slack or horizon.
func FormatMillis(ms float64) string {
	return FormatDuration(time.Duration(ms * float64(time.Millisecond)))
}

// GenerateRunID creates a unique, time-sortable identifier for a plan execution.
func GenerateRunID() string {
	return time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}
