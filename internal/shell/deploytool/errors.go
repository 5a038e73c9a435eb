package deploytool

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrSpawnFailed is returned when the deploy tool process cannot be started.
	ErrSpawnFailed = errors.New("deploy tool could not be started")

	// ErrCancelled is returned when the context ends while the tool is running.
	ErrCancelled = errors.New("deploy tool run was cancelled")
)

// ToolError wraps deploy tool errors with additional context.
type ToolError struct {
	Op      string // Operation that failed
	Binary  string // Deploy tool binary
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Binary != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Binary, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// NewToolError creates a new ToolError.
func NewToolError(op, binary, message string, err error) *ToolError {
	return &ToolError{
		Op:      op,
		Binary:  binary,
		Message: message,
		Err:     err,
	}
}
