package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInputRejected   = errors.New("input rejected")
	ErrStagingFailed   = errors.New("staging failed")
	ErrTransformFailed = errors.New("transform failed")
	ErrExternalTool    = errors.New("external tool error")
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
)

// Outcome describes how the workflow engine reacts to a failure.
type Outcome string

const (
	// OutcomeReprompt keeps the session untouched and asks the user again.
	OutcomeReprompt Outcome = "reprompt"
	// OutcomeReset returns the session to idle with a generic failure notice.
	OutcomeReset Outcome = "reset"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransformFailed
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to the engine outcome. Rejected input and failed
// staging never cost the user their session; everything else does.
func Classify(err error) Outcome {
	switch {
	case errors.Is(err, ErrInputRejected), errors.Is(err, ErrStagingFailed):
		return OutcomeReprompt
	default:
		return OutcomeReset
	}
}

// IsInputRejected reports whether err carries the ErrInputRejected marker.
func IsInputRejected(err error) bool {
	return errors.Is(err, ErrInputRejected)
}

// Kind returns a short label for the marker carried by err, used as a log field.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInputRejected):
		return "input_rejected"
	case errors.Is(err, ErrStagingFailed):
		return "staging_failed"
	case errors.Is(err, ErrTransformFailed):
		return "transform_failed"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "unknown"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
