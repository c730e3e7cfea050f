package store

import "fmt"

// Kind tags an engine-level error without resorting to a type hierarchy per
// error — callers switch on Kind, never on concrete types.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindInactive           Kind = "inactive"
	KindInvalidArgument    Kind = "invalid_argument"
	KindProviderUnsupported Kind = "provider_unsupported"
	KindLLMFailure         Kind = "llm_failure"
	KindToolFailure        Kind = "tool_failure"
	KindMaxIterations      Kind = "max_iterations"
	KindStepTimeout        Kind = "step_timeout"
	KindMaxRetriesExceeded Kind = "max_retries_exceeded"
	KindDependencyUnmet    Kind = "dependency_unmet"
	KindApprovalRejected   Kind = "approval_rejected"
	KindApprovalTimeout    Kind = "approval_timeout"
)

// EngineError is the single error type carried across store, orchestrator,
// agent runner and approval coordinator boundaries. It wraps an underlying
// cause while preserving a stable, switchable Kind.
type EngineError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &EngineError{Kind: KindNotFound}) match on Kind
// alone, ignoring Message/Err.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an EngineError, optionally wrapping a cause.
func NewError(kind Kind, err error, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *EngineError, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var ee *EngineError
	if asEngineError(err, &ee) {
		return ee.Kind, true
	}
	return "", false
}

func asEngineError(err error, target **EngineError) bool {
	for err != nil {
		if ee, ok := err.(*EngineError); ok {
			*target = ee
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether a step-level failure is a candidate for the
// orchestrator's retry mechanism.
func Retryable(kind Kind) bool {
	switch kind {
	case KindLLMFailure, KindStepTimeout, KindToolFailure:
		return true
	default:
		return false
	}
}
