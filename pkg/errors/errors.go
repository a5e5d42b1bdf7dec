package errors

import (
	"fmt"
)

// ParseError represents a config or manifest parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures configuration and manifest validation issues.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// JobError represents a failure while processing a job.
type JobError struct {
	Job string
	Err error
}

// NewJobError constructs a JobError for the job described by id.
func NewJobError(id string, err error) error {
	return &JobError{Job: id, Err: err}
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	if e.Job != "" {
		return fmt.Sprintf("job %s failed: %v", e.Job, e.Err)
	}
	return fmt.Sprintf("job failed: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *JobError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// BuilderError indicates issues within builder registration or execution.
type BuilderError struct {
	Builder string
	Message string
	Err     error
}

// NewBuilderError constructs a BuilderError for the given builder id.
func NewBuilderError(builder string, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &BuilderError{Builder: builder, Message: message, Err: err}
}

func (e *BuilderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Builder != "" {
		return fmt.Sprintf("builder error [%s]: %s", e.Builder, e.Message)
	}
	return fmt.Sprintf("builder error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *BuilderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
