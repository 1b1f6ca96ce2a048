// Package workflow drives the TDD cycle. It checks phase preconditions,
// calls the generation pipeline and the hint protocol, and applies their
// results to the state machine. The machine itself stays free of I/O.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/ashureev/tdd-mentor/internal/cycle"
	"github.com/ashureev/tdd-mentor/internal/domain"
	"github.com/ashureev/tdd-mentor/internal/metrics"
	"github.com/ashureev/tdd-mentor/internal/transcript"
)

// Generator produces candidate short-lists.
type Generator interface {
	UserStories(ctx context.Context, extra map[string]any) ([]domain.Story, error)
	TestProposals(ctx context.Context, story domain.Story, extra map[string]any) ([]domain.TestProposal, error)
	RefactoringSuggestions(ctx context.Context, extra map[string]any) ([]domain.RefactoringSuggestion, error)
}

// Hinter answers developer questions during GREEN.
type Hinter interface {
	Ask(ctx context.Context, question string, transcript []domain.Exchange, level int, extra map[string]any) (string, bool)
}

// TestRunner runs the project's test suite.
type TestRunner interface {
	Run(ctx context.Context) (domain.TestResult, error)
}

// FileInserter writes a confirmed test into the workspace and returns the
// path it wrote.
type FileInserter interface {
	Insert(ctx context.Context, code, targetFile string) (string, error)
}

// VersionControl lists and commits workspace changes. ModifiedFiles
// returns porcelain status lines ("XY path").
type VersionControl interface {
	ModifiedFiles(ctx context.Context) ([]string, error)
	Commit(ctx context.Context, message string, files []string) (string, error)
}

// DefaultTestFile is used when a confirmed test names no target file.
const DefaultTestFile = "tdd.test.js"

// Deps are the collaborators of a Service. Machine, Generator and Hinter
// are required.
type Deps struct {
	Machine         *cycle.Machine
	Generator       Generator
	Hinter          Hinter
	Runner          TestRunner
	Inserter        FileInserter
	VCS             VersionControl
	Transcript      transcript.Logger
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	SessionKey      string
	DefaultTestFile string
	// CommitExclude lists workspace-relative paths the mentor owns (its
	// database, logs). Files at or below them are never committed.
	CommitExclude []string
}

// Service runs workflow operations one at a time.
type Service struct {
	machine    *cycle.Machine
	gen        Generator
	hints      Hinter
	runner     TestRunner
	inserter   FileInserter
	vcs        VersionControl
	transcript transcript.Logger
	metrics    *metrics.Metrics
	logger     *slog.Logger

	sessionKey      string
	defaultTestFile string
	commitExclude   []string

	ops *semaphore.Weighted
}

// New validates d and returns a Service.
func New(d Deps) (*Service, error) {
	if d.Machine == nil || d.Generator == nil || d.Hinter == nil {
		return nil, errors.New("workflow: machine, generator and hinter are required")
	}
	if d.Transcript == nil {
		d.Transcript = transcript.Noop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.DefaultTestFile == "" {
		d.DefaultTestFile = DefaultTestFile
	}
	return &Service{
		machine:         d.Machine,
		gen:             d.Generator,
		hints:           d.Hinter,
		runner:          d.Runner,
		inserter:        d.Inserter,
		vcs:             d.VCS,
		transcript:      d.Transcript,
		metrics:         d.Metrics,
		logger:          d.Logger,
		sessionKey:      d.SessionKey,
		defaultTestFile: d.DefaultTestFile,
		commitExclude:   d.CommitExclude,
		ops:             semaphore.NewWeighted(1),
	}, nil
}

// Snapshot returns the current session.
func (s *Service) Snapshot() domain.Session {
	return s.machine.Snapshot()
}

// Subscribe registers l for session changes.
func (s *Service) Subscribe(l cycle.Listener) func() {
	return s.machine.Subscribe(l)
}

// do runs fn while holding the operation slot. Waiting for the slot honours
// ctx.
func (s *Service) do(ctx context.Context, fn func() error) error {
	if err := s.ops.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.ops.Release(1)
	return fn()
}

// Start resets the session and generates a fresh story list.
func (s *Service) Start(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.machine.Reset()
		s.enteredPhase(domain.PhasePick)
		return s.generateStories(ctx)
	})
}

// EnsureStories generates stories when the session is in PICK with none
// to choose from. It reports whether it generated.
func (s *Service) EnsureStories(ctx context.Context) (bool, error) {
	var generated bool
	err := s.do(ctx, func() error {
		snap := s.machine.Snapshot()
		if snap.Phase != domain.PhasePick || len(snap.UserStories) > 0 {
			return nil
		}
		generated = true
		return s.generateStories(ctx)
	})
	return generated, err
}

// RefreshStories replaces the story list.
func (s *Service) RefreshStories(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.requirePhase("refresh stories", domain.PhasePick); err != nil {
			return err
		}
		return s.generateStories(ctx)
	})
}

// SelectStory selects a story, starts a fresh RED cycle for it and
// generates test proposals.
func (s *Service) SelectStory(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		if !s.machine.SelectUserStory(id) {
			return fmt.Errorf("story %q: %w", id, ErrUnknownCandidate)
		}
		return s.startRed(ctx)
	})
}

// RegenerateTests discards the current tests and generates new ones for
// the selected story.
func (s *Service) RegenerateTests(ctx context.Context) error {
	return s.do(ctx, func() error {
		return s.startRed(ctx)
	})
}

// SelectTest selects a test proposal and opens it for editing.
func (s *Service) SelectTest(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		if err := s.requirePhase("select test", domain.PhaseRed); err != nil {
			return err
		}
		if !s.machine.SelectTestProposal(id) {
			return fmt.Errorf("test %q: %w", id, ErrUnknownCandidate)
		}
		s.machine.SetTestEditingMode(true)
		return nil
	})
}

// EditSelectedTest stores the developer's edit of the selected test. An
// empty targetFile keeps the current one.
func (s *Service) EditSelectedTest(ctx context.Context, code, targetFile string) error {
	return s.do(ctx, func() error {
		if err := s.requirePhase("edit test", domain.PhaseRed); err != nil {
			return err
		}
		if targetFile != "" && domain.BaseName(targetFile) == "" {
			return fmt.Errorf("%w: target file %q", ErrInvalidArgument, targetFile)
		}
		if !s.machine.UpdateModifiedSelectedTest(code, targetFile) {
			return &PreconditionError{Phase: domain.PhaseGreen}
		}
		return nil
	})
}

// ConfirmTest writes the edited or selected test into the workspace and
// enters GREEN. The phase is unchanged when the write fails. It returns the
// path written.
func (s *Service) ConfirmTest(ctx context.Context) (string, error) {
	var written string
	err := s.do(ctx, func() error {
		if err := s.requirePhase("confirm test", domain.PhaseRed); err != nil {
			return err
		}
		if !s.machine.CanEnter(domain.PhaseGreen) {
			return &PreconditionError{Phase: domain.PhaseGreen}
		}
		if s.inserter == nil {
			return fmt.Errorf("%w: no file inserter configured", ErrInsertFailed)
		}

		test := s.machine.Snapshot().ActiveTest()
		target := test.TargetFile
		if target == "" {
			target = s.defaultTestFile
		}
		path, err := s.inserter.Insert(ctx, test.Code, target)
		if err != nil {
			s.logger.Warn("Failed to insert test", "target_file", target, "error", err)
			return fmt.Errorf("%w: %w", ErrInsertFailed, err)
		}
		written = path

		s.machine.SetTestEditingMode(false)
		s.machine.SetPhase(domain.PhaseGreen)
		s.enteredPhase(domain.PhaseGreen)
		s.logger.Info("Test inserted", "path", path, "test_id", test.ID)
		return nil
	})
	return written, err
}

// AskHint asks the mentor a question. On an answer the exchange is
// recorded and the hint level advances; otherwise nothing changes.
func (s *Service) AskHint(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: question is empty", ErrInvalidArgument)
	}

	var answer string
	err := s.do(ctx, func() error {
		if err := s.requirePhase("ask hint", domain.PhaseGreen); err != nil {
			return err
		}
		snap := s.machine.Snapshot()
		level := snap.HintLevel + 1
		s.log("hint", "user", "question", question, map[string]any{"level": level})

		got, ok := s.hints.Ask(ctx, question, snap.Transcript, level, s.focus(snap))
		if err := ctx.Err(); err != nil {
			return err
		}
		if !ok {
			return ErrNoAnswer
		}
		answer = got

		s.machine.AppendToTranscript(domain.Exchange{Question: question, Answer: got})
		s.machine.IncreaseHintLevel()
		s.log("hint", "mentor", "answer", got, map[string]any{"level": level})
		return nil
	})
	return answer, err
}

// VerifyTests runs the test suite and records the result. A passing run
// enters REFACTORING and generates refactoring suggestions.
func (s *Service) VerifyTests(ctx context.Context) (domain.TestResult, error) {
	var result domain.TestResult
	err := s.do(ctx, func() error {
		if err := s.requirePhase("verify tests", domain.PhaseGreen); err != nil {
			return err
		}
		if s.runner == nil {
			return errors.New("workflow: no test runner configured")
		}

		res, err := s.runner.Run(ctx)
		if err != nil {
			return err
		}
		result = res
		s.machine.SetTestResults(res)
		s.metrics.RecordTestRun(res.Success)
		s.log("tests", "system", "test_run", res.Message, map[string]any{"success": res.Success})

		if !res.Success || !s.machine.CanEnter(domain.PhaseRefactoring) {
			return nil
		}
		s.machine.SetPhase(domain.PhaseRefactoring)
		s.enteredPhase(domain.PhaseRefactoring)

		items, err := s.gen.RefactoringSuggestions(ctx, s.focus(s.machine.Snapshot()))
		if err != nil {
			return err
		}
		s.machine.SetRefactoringSuggestions(items)
		return nil
	})
	return result, err
}

// RouteNext sets the phase that follows the current refactoring step.
// Only PICK and RED are valid; the empty phase restores the default.
func (s *Service) RouteNext(ctx context.Context, p domain.Phase) error {
	if p != "" && p != domain.PhasePick && p != domain.PhaseRed {
		return fmt.Errorf("%w: next phase must be PICK or RED, got %q", ErrInvalidArgument, p)
	}
	return s.do(ctx, func() error {
		s.machine.SetNextPhase(p)
		return nil
	})
}

// Complete commits the cycle's changes and moves on: to a new RED cycle
// for the same story when RED was routed next, otherwise back to PICK
// with fresh stories. A clean workspace skips the commit.
func (s *Service) Complete(ctx context.Context, message string) error {
	return s.do(ctx, func() error {
		if err := s.requirePhase("complete cycle", domain.PhaseRefactoring); err != nil {
			return err
		}
		snap := s.machine.Snapshot()
		if err := s.commit(ctx, snap, message); err != nil {
			return err
		}

		if snap.NextPhase != nil && *snap.NextPhase == domain.PhaseRed && s.machine.CanEnter(domain.PhaseRed) {
			return s.startRed(ctx)
		}
		s.machine.Reset()
		s.enteredPhase(domain.PhasePick)
		return s.generateStories(ctx)
	})
}

// Reset returns the session to its defaults.
func (s *Service) Reset(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.machine.Reset()
		s.enteredPhase(domain.PhasePick)
		return nil
	})
}

func (s *Service) commit(ctx context.Context, snap domain.Session, message string) error {
	if s.vcs == nil {
		return nil
	}
	status, err := s.vcs.ModifiedFiles(ctx)
	if err != nil {
		return fmt.Errorf("list modified files: %w", err)
	}
	files := excludePaths(pathsFromStatus(status), s.commitExclude)
	if len(files) == 0 {
		s.logger.Info("Workspace clean, skipping commit")
		return nil
	}

	if strings.TrimSpace(message) == "" {
		message = defaultCommitMessage(snap)
	}
	hash, err := s.vcs.Commit(ctx, message, files)
	if err != nil {
		return fmt.Errorf("commit changes: %w", err)
	}
	s.logger.Info("Cycle committed", "hash", hash, "files", len(files))
	return nil
}

// startRed resets downstream state for the selected story and generates
// its test proposals.
func (s *Service) startRed(ctx context.Context) error {
	if !s.machine.CanEnter(domain.PhaseRed) {
		return &PreconditionError{Phase: domain.PhaseRed}
	}
	s.machine.ResetForNewTests()
	s.enteredPhase(domain.PhaseRed)

	story := s.machine.Snapshot().SelectedUserStory
	tests, err := s.gen.TestProposals(ctx, *story, nil)
	if err != nil {
		return err
	}
	s.machine.SetTestProposals(tests)
	return nil
}

func (s *Service) generateStories(ctx context.Context) error {
	stories, err := s.gen.UserStories(ctx, nil)
	if err != nil {
		return err
	}
	s.machine.SetUserStories(stories)
	return nil
}

func (s *Service) requirePhase(op string, want domain.Phase) error {
	if cur := s.machine.Snapshot().Phase; cur != want {
		return &PhaseError{Op: op, Current: cur, Want: want}
	}
	return nil
}

func (s *Service) enteredPhase(p domain.Phase) {
	s.metrics.RecordPhase(string(p))
	s.logger.Info("Phase entered", "phase", p)
}

// focus is the extra context describing what the developer is working on.
func (s *Service) focus(snap domain.Session) map[string]any {
	extra := map[string]any{}
	if snap.SelectedUserStory != nil {
		extra["userStory"] = *snap.SelectedUserStory
	}
	if t := snap.ActiveTest(); t != nil {
		extra["test"] = *t
	}
	return extra
}

func (s *Service) log(channel, direction, eventType, content string, meta map[string]any) {
	s.transcript.Log(transcript.Event{
		SessionKey: s.sessionKey,
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		Phase:      string(s.machine.Snapshot().Phase),
		ContentRaw: content,
		Meta:       meta,
	})
}

// pathsFromStatus extracts paths from porcelain status lines. Renames
// ("old -> new") yield the new path.
func pathsFromStatus(lines []string) []string {
	var out []string
	for _, line := range lines {
		if len(line) < 4 {
			continue
		}
		p := strings.TrimSpace(line[3:])
		if i := strings.Index(p, " -> "); i >= 0 {
			p = p[i+len(" -> "):]
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// excludePaths drops paths equal to or nested under any excluded path.
func excludePaths(paths, exclude []string) []string {
	if len(exclude) == 0 {
		return paths
	}
	out := paths[:0:0]
	for _, p := range paths {
		if !excluded(p, exclude) {
			out = append(out, p)
		}
	}
	return out
}

func excluded(p string, exclude []string) bool {
	for _, e := range exclude {
		e = strings.TrimSuffix(e, "/")
		if e != "" && (p == e || strings.HasPrefix(p, e+"/")) {
			return true
		}
	}
	return false
}

func defaultCommitMessage(snap domain.Session) string {
	if snap.SelectedUserStory != nil && snap.SelectedUserStory.Title != "" {
		return "TDD cycle: " + snap.SelectedUserStory.Title
	}
	return "TDD cycle complete"
}
