package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

var (
	// ErrCycleDetected is the cause of errors reporting a dependency cycle.
	ErrCycleDetected = errors.New("dependency cycle detected")
	// ErrMalformedTask is the cause of errors reporting an unusable task descriptor.
	ErrMalformedTask = errors.New("malformed task")
	// ErrNegativeSlack marks a broken timing invariant after the backward pass.
	ErrNegativeSlack = errors.New("negative slack")
)

func cycleError(sorted, total int, remaining []string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("topological sort incomplete (%d of %d tasks sorted), cycle among [%s]",
			sorted, total, strings.Join(remaining, ", "))).
		WithCause(ErrCycleDetected)
}

func malformedTaskError(position int, reason string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("task at position %d: %s", position, reason)).
		WithCause(ErrMalformedTask)
}

func negativeSlackError(id string, slack float64) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(fmt.Sprintf("task %q has slack %.3fms after backward pass", id, slack)).
		WithCause(ErrNegativeSlack)
}
