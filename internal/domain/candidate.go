package domain

import (
	"strings"
)

// Candidate is an item produced by the generation pipeline.
type Candidate interface {
	CandidateID() string
	CandidateTitle() string
}

// Story is a user story the learner can pick for the next cycle.
type Story struct {
	ID          string `json:"id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
}

func (s Story) CandidateID() string    { return s.ID }
func (s Story) CandidateTitle() string { return s.Title }

// TestProposal is a proposed failing test for the selected story.
type TestProposal struct {
	ID          string `json:"id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Code        string `json:"code"`
	TargetFile  string `json:"targetFile,omitempty"`
}

func (t TestProposal) CandidateID() string    { return t.ID }
func (t TestProposal) CandidateTitle() string { return t.Title }

// RefactoringSuggestion is advice offered once the tests pass.
type RefactoringSuggestion struct {
	ID          string `json:"id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
}

func (r RefactoringSuggestion) CandidateID() string    { return r.ID }
func (r RefactoringSuggestion) CandidateTitle() string { return r.Title }

// BaseName strips any directory component from a file name supplied by
// the oracle. Both slash styles are treated as separators. Names that
// would resolve outside a directory ("." or "..") become empty.
func BaseName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "." || name == ".." {
		return ""
	}
	return name
}
