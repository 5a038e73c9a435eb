package domain

import "errors"

var ErrInvalidTransition = errors.New("invalid state transition")

// =============================================================================
// Pipeline Stage
// =============================================================================

// Stage is a step of one pipeline invocation.
type Stage string

const (
	StageResolving    Stage = "resolving"
	StageLocating     Stage = "locating"
	StageExecuting    Stage = "executing"
	StageInterpreting Stage = "interpreting"
	StageCleaning     Stage = "cleaning"
	StageDone         Stage = "done"
)

// =============================================================================
// State Machine
// =============================================================================

// validStageTransitions holds the single success edge of each stage plus the failure
// edge straight to cleaning. Cleanup always precedes done.
var validStageTransitions = map[Stage][]Stage{
	StageResolving:    {StageLocating, StageCleaning},
	StageLocating:     {StageExecuting, StageCleaning},
	StageExecuting:    {StageInterpreting, StageCleaning},
	StageInterpreting: {StageCleaning},
	StageCleaning:     {StageDone},
	StageDone:         {}, // Terminal state
}

// ValidateStageTransition checks if a stage transition is valid.
func ValidateStageTransition(from, to Stage) error {
	allowed, exists := validStageTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

// IsTerminal reports whether the stage has no outgoing transitions.
func (s Stage) IsTerminal() bool {
	return s == StageDone
}
