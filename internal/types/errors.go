package types

import (
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing pipeline errors.
type ErrorCode string

// Complete error code constants.
// All engines MUST use these constants instead of hardcoded strings.
const (
	// Input integrity (bad or insufficient source data)
	ErrCodeIncompatibleDomain   ErrorCode = "input_incompatible_domain"
	ErrCodeInsufficientCoverage ErrorCode = "input_insufficient_coverage"
	ErrCodeMissingFactor        ErrorCode = "input_missing_factor"
	ErrCodeNoVelocityData       ErrorCode = "input_no_velocity_data"
	ErrCodeEmptyActivityWindow  ErrorCode = "input_empty_activity_window"
	ErrCodeMalformedLayer       ErrorCode = "input_malformed_layer"
	ErrCodeMalformedBoundary    ErrorCode = "input_malformed_boundary"

	// Parameter validity (rejected before any simulation work begins)
	ErrCodeInvalidCapacity  ErrorCode = "param_invalid_capacity"
	ErrCodeInfeasibleBudget ErrorCode = "param_infeasible_budget"
	ErrCodeInvalidWeights   ErrorCode = "param_invalid_weights"
	ErrCodeInvalidHorizon   ErrorCode = "param_invalid_horizon"

	// Run lifecycle
	ErrCodeRunCanceled ErrorCode = "run_canceled"

	// Internal
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// ErrorClass groups error codes into the top-level taxonomy classes.
// Input-integrity and parameter-validity failures abort only the affected
// stage or scenario; internal errors abort the run.
type ErrorClass string

const (
	ClassInputIntegrity    ErrorClass = "input_integrity"
	ClassParameterValidity ErrorClass = "parameter_validity"
	ClassRunLifecycle      ErrorClass = "run_lifecycle"
	ClassInternal          ErrorClass = "internal"
)

// Class maps an ErrorCode to its taxonomy class. Unrecognized codes are
// treated as internal as a safe default.
func (c ErrorCode) Class() ErrorClass {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "input_"):
		return ClassInputIntegrity
	case strings.HasPrefix(s, "param_"):
		return ClassParameterValidity
	case strings.HasPrefix(s, "run_"):
		return ClassRunLifecycle
	default:
		return ClassInternal
	}
}

// PipelineError is the standard error type used throughout the pipeline.
// All stage and engine errors should be expressed as PipelineError so callers
// receive the offending layer/time-range/parameter alongside the code and can
// decide whether to retry with adjusted inputs.
type PipelineError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Class returns the taxonomy class of this error's code.
func (e *PipelineError) Class() ErrorClass {
	return e.Code.Class()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *PipelineError) WithDetails(details map[string]any) *PipelineError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &PipelineError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewError creates a new PipelineError with the given code, message, and
// optional underlying error. This is the standard constructor for stage errors.
func NewError(code ErrorCode, message string, err error) *PipelineError {
	return &PipelineError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewErrorWithDetails creates a new PipelineError with structured details
// identifying the offending layer, cell/time range, or parameter value.
func NewErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *PipelineError {
	return &PipelineError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
