package domain

import "slices"

// TestResult is the verbatim outcome of a test run.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Exchange is one question/answer pair of the hint dialogue.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Session is the complete workflow state. Values handed out by the state
// machine are snapshots; mutate only through the machine.
type Session struct {
	Phase                  Phase                   `json:"currentPhase"`
	Mode                   Mode                    `json:"currentMode"`
	UserStories            []Story                 `json:"userStories"`
	SelectedUserStory      *Story                  `json:"selectedUserStory"`
	TestProposals          []TestProposal          `json:"testProposals"`
	SelectedTest           *TestProposal           `json:"selectedTest"`
	ModifiedSelectedTest   *TestProposal           `json:"modifiedSelectedTest"`
	RefactoringSuggestions []RefactoringSuggestion `json:"refactoringSuggestions"`
	TestResults            *TestResult             `json:"testResults"`
	EditingTest            bool                    `json:"isEditingTest"`
	NextPhase              *Phase                  `json:"nextPhase"`
	HintLevel              int                     `json:"hintLevel"`
	Transcript             []Exchange              `json:"transcript"`
}

// NewSession returns the default state: PICK phase, nothing selected.
func NewSession() Session {
	return Session{
		Phase:                  PhasePick,
		Mode:                   ModeFor(PhasePick),
		UserStories:            []Story{},
		TestProposals:          []TestProposal{},
		RefactoringSuggestions: []RefactoringSuggestion{},
		Transcript:             []Exchange{},
	}
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	c := s
	c.UserStories = slices.Clone(s.UserStories)
	c.TestProposals = slices.Clone(s.TestProposals)
	c.RefactoringSuggestions = slices.Clone(s.RefactoringSuggestions)
	c.Transcript = slices.Clone(s.Transcript)
	c.SelectedUserStory = clonePtr(s.SelectedUserStory)
	c.SelectedTest = clonePtr(s.SelectedTest)
	c.ModifiedSelectedTest = clonePtr(s.ModifiedSelectedTest)
	c.TestResults = clonePtr(s.TestResults)
	c.NextPhase = clonePtr(s.NextPhase)
	return c
}

// ActiveTest returns the edited test if one exists, otherwise the
// selected test. It returns nil when no test is selected.
func (s Session) ActiveTest() *TestProposal {
	if s.ModifiedSelectedTest != nil {
		return s.ModifiedSelectedTest
	}
	return s.SelectedTest
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
