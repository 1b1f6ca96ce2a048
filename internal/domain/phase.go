// Package domain contains core domain types for the TDD mentor workflow.
package domain

import "fmt"

// Phase is a step of the red/green/refactor cycle.
type Phase string

// Cycle phases.
const (
	PhasePick        Phase = "PICK"
	PhaseRed         Phase = "RED"
	PhaseGreen       Phase = "GREEN"
	PhaseRefactoring Phase = "REFACTORING"
)

// Phases lists every phase in cycle order.
var Phases = []Phase{PhasePick, PhaseRed, PhaseGreen, PhaseRefactoring}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhasePick, PhaseRed, PhaseGreen, PhaseRefactoring:
		return true
	}
	return false
}

// ParsePhase converts a user-supplied name into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Mode controls whether the oracle may supply code.
type Mode string

// Interaction modes.
const (
	// ModeDirective allows code to be supplied (test authoring).
	ModeDirective Mode = "DIRECTIVE"
	// ModeAdvisory restricts the oracle to guidance without code.
	ModeAdvisory Mode = "ADVISORY"
)

// ModeFor derives the interaction mode from the phase.
func ModeFor(p Phase) Mode {
	if p == PhaseRed {
		return ModeDirective
	}
	return ModeAdvisory
}
