// Package cycle holds the authoritative red/green/refactor session state.
//
// Every mutation swaps in a new aggregate, persists it and then notifies
// listeners with an immutable snapshot. Mutations are serialised, so
// listeners observe changes in the order they were made. Listeners must not
// call mutators on the same Machine.
package cycle

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/tdd-mentor/internal/domain"
)

// Persister stores session snapshots.
type Persister interface {
	Save(ctx context.Context, s domain.Session) error
}

// Listener receives a snapshot after every mutation.
type Listener func(domain.Session)

// Machine is the phase state machine. The zero value is not usable; call New.
type Machine struct {
	writeMu sync.Mutex // serialises mutate/persist/notify

	stateMu sync.RWMutex
	state   domain.Session

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int

	persist        Persister
	persistTimeout time.Duration
	logger         *slog.Logger
	onPersistError func(error)
}

// Option configures a Machine.
type Option func(*Machine)

// WithInitial restores a previously persisted session.
func WithInitial(s domain.Session) Option {
	return func(m *Machine) {
		s.Mode = domain.ModeFor(s.Phase)
		m.state = s.Clone()
	}
}

// WithPersistTimeout bounds each save call.
func WithPersistTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.persistTimeout = d
		}
	}
}

// WithPersistErrorHook is called whenever a save fails.
func WithPersistErrorHook(fn func(error)) Option {
	return func(m *Machine) { m.onPersistError = fn }
}

// New creates a machine in the default state. persist may be nil.
func New(persist Persister, logger *slog.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		state:          domain.NewSession(),
		listeners:      make(map[int]Listener),
		persist:        persist,
		persistTimeout: 5 * time.Second,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns a deep copy of the current state.
func (m *Machine) Snapshot() domain.Session {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state.Clone()
}

// Subscribe registers l and returns a function that removes it.
func (m *Machine) Subscribe(l Listener) (unsubscribe func()) {
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenersMu.Lock()
			delete(m.listeners, id)
			m.listenersMu.Unlock()
		})
	}
}

// CanEnter reports whether the preconditions for entering p hold.
func (m *Machine) CanEnter(p domain.Phase) bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return canEnter(m.state, p)
}

func canEnter(s domain.Session, p domain.Phase) bool {
	switch p {
	case domain.PhasePick:
		return true
	case domain.PhaseRed:
		return s.SelectedUserStory != nil
	case domain.PhaseGreen:
		return s.SelectedTest != nil
	case domain.PhaseRefactoring:
		return s.TestResults != nil && s.TestResults.Success
	}
	return false
}

// SetPhase moves to p and derives the mode. Preconditions are the caller's
// responsibility; see CanEnter.
func (m *Machine) SetPhase(p domain.Phase) {
	m.mutate("set_phase", func(s *domain.Session) bool {
		s.Phase = p
		return true
	})
}

// SetUserStories replaces the story list.
func (m *Machine) SetUserStories(stories []domain.Story) {
	m.mutate("set_user_stories", func(s *domain.Session) bool {
		s.UserStories = nonNil(stories)
		return true
	})
}

// SetTestProposals replaces the test proposal list.
func (m *Machine) SetTestProposals(tests []domain.TestProposal) {
	m.mutate("set_test_proposals", func(s *domain.Session) bool {
		s.TestProposals = nonNil(tests)
		return true
	})
}

// SetRefactoringSuggestions replaces the refactoring suggestion list.
func (m *Machine) SetRefactoringSuggestions(items []domain.RefactoringSuggestion) {
	m.mutate("set_refactoring_suggestions", func(s *domain.Session) bool {
		s.RefactoringSuggestions = nonNil(items)
		return true
	})
}

// SelectUserStory selects the story with the given id. An unknown id
// leaves the state untouched and notifies nobody. It reports whether a
// story was selected.
func (m *Machine) SelectUserStory(id string) bool {
	return m.mutate("select_user_story", func(s *domain.Session) bool {
		i := slices.IndexFunc(s.UserStories, func(st domain.Story) bool { return st.ID == id })
		if i < 0 {
			return false
		}
		story := s.UserStories[i]
		s.SelectedUserStory = &story
		return true
	})
}

// SelectTestProposal selects the proposal with the given id and resets
// the hint dialogue. Unknown ids are ignored like SelectUserStory.
func (m *Machine) SelectTestProposal(id string) bool {
	return m.mutate("select_test_proposal", func(s *domain.Session) bool {
		i := slices.IndexFunc(s.TestProposals, func(tp domain.TestProposal) bool { return tp.ID == id })
		if i < 0 {
			return false
		}
		test := s.TestProposals[i]
		s.SelectedTest = &test
		s.ModifiedSelectedTest = nil
		s.HintLevel = 0
		s.Transcript = []domain.Exchange{}
		return true
	})
}

// SetTestResults stores the outcome of the last test run.
func (m *Machine) SetTestResults(r domain.TestResult) {
	m.mutate("set_test_results", func(s *domain.Session) bool {
		s.TestResults = &r
		return true
	})
}

// SetTestEditingMode toggles the editing flag.
func (m *Machine) SetTestEditingMode(editing bool) {
	m.mutate("set_test_editing_mode", func(s *domain.Session) bool {
		s.EditingTest = editing
		return true
	})
}

// UpdateModifiedSelectedTest records an edited variant of the selected
// test. An empty targetFile inherits the selected test's target. Without a
// selected test the call is a no-op.
func (m *Machine) UpdateModifiedSelectedTest(code, targetFile string) bool {
	return m.mutate("update_modified_selected_test", func(s *domain.Session) bool {
		if s.SelectedTest == nil {
			return false
		}
		edited := *s.SelectedTest
		edited.Code = code
		if targetFile != "" {
			edited.TargetFile = domain.BaseName(targetFile)
		}
		s.ModifiedSelectedTest = &edited
		return true
	})
}

// IncreaseHintLevel advances the hint counter by one.
func (m *Machine) IncreaseHintLevel() {
	m.mutate("increase_hint_level", func(s *domain.Session) bool {
		s.HintLevel++
		return true
	})
}

// AppendToTranscript records a hint exchange.
func (m *Machine) AppendToTranscript(e domain.Exchange) {
	m.mutate("append_to_transcript", func(s *domain.Session) bool {
		s.Transcript = append(s.Transcript, e)
		return true
	})
}

// ClearTranscript drops the hint dialogue.
func (m *Machine) ClearTranscript() {
	m.mutate("clear_transcript", func(s *domain.Session) bool {
		s.Transcript = []domain.Exchange{}
		return true
	})
}

// SetNextPhase sets the successor used when a refactoring step completes.
// Passing the empty phase clears it.
func (m *Machine) SetNextPhase(p domain.Phase) {
	m.mutate("set_next_phase", func(s *domain.Session) bool {
		if p == "" {
			s.NextPhase = nil
			return true
		}
		s.NextPhase = &p
		return true
	})
}

// Reset returns every field to its default.
func (m *Machine) Reset() {
	m.mutate("reset", func(s *domain.Session) bool {
		*s = domain.NewSession()
		return true
	})
}

// ResetForNewTests keeps the stories and the selected story, clears
// everything downstream of them and enters RED.
func (m *Machine) ResetForNewTests() {
	m.mutate("reset_for_new_tests", func(s *domain.Session) bool {
		fresh := domain.NewSession()
		fresh.UserStories = s.UserStories
		fresh.SelectedUserStory = s.SelectedUserStory
		fresh.Phase = domain.PhaseRed
		*s = fresh
		return true
	})
}

// mutate applies fn to a copy of the state. When fn reports a change the
// copy becomes the new state, is persisted and is handed to listeners.
func (m *Machine) mutate(op string, fn func(*domain.Session) bool) bool {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.stateMu.RLock()
	next := m.state.Clone()
	m.stateMu.RUnlock()

	if !fn(&next) {
		m.logger.Debug("session mutation ignored", "op", op)
		return false
	}
	next.Mode = domain.ModeFor(next.Phase)

	m.stateMu.Lock()
	m.state = next
	m.stateMu.Unlock()

	m.save(op, next)
	m.notify(next)
	return true
}

func (m *Machine) save(op string, s domain.Session) {
	if m.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.persistTimeout)
	defer cancel()
	if err := m.persist.Save(ctx, s); err != nil {
		m.logger.Warn("failed to persist session", "op", op, "error", err)
		if m.onPersistError != nil {
			m.onPersistError(err)
		}
	}
}

func (m *Machine) notify(s domain.Session) {
	m.listenersMu.RLock()
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, m.listeners[id])
	}
	m.listenersMu.RUnlock()

	for _, l := range ls {
		l(s.Clone())
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return slices.Clone(items)
}
