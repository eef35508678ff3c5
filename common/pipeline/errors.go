package pipeline

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a stage halted its run
type FailureKind string

const (
	// KindProvision: an external create-or-update call failed. Retryable by
	// re-invoking the idempotent stage.
	KindProvision FailureKind = "provision_error"

	// KindTimeout: the stage did not report completion within its window.
	// Terminal for the run; never auto-retried by the sequencer.
	KindTimeout FailureKind = "timeout"

	// KindBelowThreshold: evaluation scored under the gate. A defined
	// terminal branch, not a system error.
	KindBelowThreshold FailureKind = "evaluation_below_threshold"

	// KindIntegrationCheck: post-deployment verification failed. Triggers
	// rollback when a pointer swap already happened.
	KindIntegrationCheck FailureKind = "integration_check_failed"

	// KindCanceled: the run was cancelled between stages.
	KindCanceled FailureKind = "canceled"

	// KindInternal: anything a stage did not classify itself.
	KindInternal FailureKind = "internal_error"
)

// Failure is a stage-level error carrying its classification. The sequencer
// records the kind and failing stage on the run before halting.
type Failure struct {
	Stage string
	Kind  FailureKind
	Err   error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("stage %s failed (%s): %v", f.Stage, f.Kind, f.Err)
	}
	return fmt.Sprintf("stage %s failed (%s)", f.Stage, f.Kind)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure creates a classified stage failure
func NewFailure(stage string, kind FailureKind, err error) *Failure {
	return &Failure{Stage: stage, Kind: kind, Err: err}
}

// ClassifyFailure extracts the failure for a stage error, wrapping
// unclassified errors as KindInternal.
func ClassifyFailure(stage string, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		if f.Stage == "" {
			f.Stage = stage
		}
		return f
	}
	return NewFailure(stage, KindInternal, err)
}
