package workflow

import (
	"errors"
	"fmt"

	"github.com/ashureev/tdd-mentor/internal/domain"
)

var (
	// ErrPrecondition is wrapped by PreconditionError.
	ErrPrecondition = errors.New("precondition not met")
	// ErrUnknownCandidate means the id is not in the current candidate list.
	ErrUnknownCandidate = errors.New("unknown candidate")
	// ErrNoAnswer means the oracle produced no hint answer.
	ErrNoAnswer = errors.New("no answer available")
	// ErrWrongPhase is wrapped by PhaseError.
	ErrWrongPhase = errors.New("operation not allowed in current phase")
	// ErrInsertFailed means a confirmed test could not be written.
	ErrInsertFailed = errors.New("test insertion failed")
	// ErrInvalidArgument rejects malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// PreconditionError reports a phase that cannot be entered yet.
type PreconditionError struct {
	Phase domain.Phase
}

func (e *PreconditionError) Error() string {
	var reason string
	switch e.Phase {
	case domain.PhaseRed:
		reason = "no user story selected"
	case domain.PhaseGreen:
		reason = "no test selected"
	case domain.PhaseRefactoring:
		reason = "tests have not passed"
	default:
		reason = "unknown phase"
	}
	return fmt.Sprintf("cannot enter %s: %s", e.Phase, reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// PhaseError reports an operation attempted outside its phase.
type PhaseError struct {
	Op      string
	Current domain.Phase
	Want    domain.Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s requires phase %s, session is in %s", e.Op, e.Want, e.Current)
}

func (e *PhaseError) Unwrap() error { return ErrWrongPhase }
