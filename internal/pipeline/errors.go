package pipeline

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/opsight-go/internal/models"
)

// ValidationError marks input or response validation failures. The
// outcome is deterministic for a given input, so it is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failure: " + e.Reason
}

// SecurityViolation is a fatal rejection of hostile or malformed input,
// such as an archive that fails extraction guards. It is never retried.
type SecurityViolation struct {
	Reason string
}

func (e *SecurityViolation) Error() string {
	return "security violation: " + e.Reason
}

// StageError wraps a failure with the stage it occurred in.
type StageError struct {
	Stage models.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage models.Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// IsSecurityViolation reports whether err carries a SecurityViolation.
func IsSecurityViolation(err error) bool {
	var sv *SecurityViolation
	return errors.As(err, &sv)
}
