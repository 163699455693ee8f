package core

import (
	"errors"
	"fmt"
)

// Error taxonomy for the job pipeline. Validation errors surface
// synchronously at submission; everything else is recorded on the job as a
// terminal failed state and observed through polling.
var (
	// ErrValidation indicates a malformed submission, rejected before enqueue.
	ErrValidation = errors.New("invalid submission")
	// ErrAssetNotFound indicates an asset id unresolvable in any namespace.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrUpstream indicates a collaborator returned non-2xx or was unreachable.
	ErrUpstream = errors.New("upstream service error")
	// ErrUpstreamTimeout indicates a collaborator call exceeded its allowance.
	ErrUpstreamTimeout = errors.New("upstream service timeout")
	// ErrStorage indicates a blob store read or write failure.
	ErrStorage = errors.New("storage error")
	// ErrJobNotFound indicates an unknown job id.
	ErrJobNotFound = errors.New("job not found")
)

// StageError attributes a pipeline failure to the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

// NewStageError wraps err with the stage it failed in.
func NewStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
