package engine

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable rejection reason. Codes are translated into
// player-facing text outside the engine.
type ErrorCode string

const (
	ErrPlayerMismatch     ErrorCode = "player_mismatch"
	ErrInvalidPhase       ErrorCode = "invalid_phase"
	ErrCommandFailed      ErrorCode = "command_failed"
	ErrUnknownCommand     ErrorCode = "unknown_command"
	ErrInvalidPayload     ErrorCode = "invalid_payload"
	ErrInteractionPending ErrorCode = "interaction_pending"
	ErrMatchOver          ErrorCode = "match.over"
)

// ValidationResult is the outcome of Domain.Validate.
type ValidationResult struct {
	Valid bool      `json:"valid"`
	Error ErrorCode `json:"error,omitempty"`
}

// Valid accepts a command.
func Valid() ValidationResult { return ValidationResult{Valid: true} }

// Invalid rejects a command with code.
func Invalid(code ErrorCode) ValidationResult { return ValidationResult{Error: code} }

// ErrCascadeOverflow is returned when a single command produces more events
// than the reducer allows.
var ErrCascadeOverflow = errors.New("cascade overflow")

// Fault is an unexpected failure while executing or reducing a command. The
// command is dropped and the previous state stays current.
type Fault struct {
	Command string
	Err     error
}

func (f *Fault) Error() string { return fmt.Sprintf("command %s: %v", f.Command, f.Err) }
func (f *Fault) Unwrap() error { return f.Err }
