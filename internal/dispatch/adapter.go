// Package dispatch executes claimed jobs on their chosen resources through
// pluggable adapters: a simulated executor by default, HTTP runners when
// configured.
package dispatch

import (
	"context"
	"errors"

	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// ErrForcedFailure is raised when a job's force_fail_first hint demands a
// deliberate failure on the first attempt. It must never be absorbed by
// feature capture or adapter plumbing; the retry path has to see it.
var ErrForcedFailure = errors.New("FORCED_FAIL_FIRST: testing reroute + retry")

// Adapter executes one job on one class of resource and reports the
// measured actuals.
type Adapter interface {
	Name() string
	Run(ctx context.Context, job *model.Job, req *model.JobRequest) (*model.CompletionResult, error)
}

// FailureClass labels a dispatch error for the attempt record.
func FailureClass(err error) string {
	switch {
	case errors.Is(err, ErrForcedFailure):
		return "ForcedFailure"
	case errors.Is(err, context.DeadlineExceeded):
		return "DispatchTimeout"
	default:
		return "DispatchError"
	}
}
