package coder

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPrompt indicates Execute was called with an empty prompt
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrEmptyWorkDir indicates Execute was called with an empty working directory
	ErrEmptyWorkDir = errors.New("working directory cannot be empty")
)

// ExecutionError wraps a non-zero exit from the coder CLI.
type ExecutionError struct {
	ExitCode int
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("coder execution failed (exit %d): %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("coder execution failed (exit %d)", e.ExitCode)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
