package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/tdd-mentor/internal/domain"
	"github.com/ashureev/tdd-mentor/internal/oracle"
)

type call struct {
	prompt string
	opts   oracle.Options
}

type reply struct {
	raw string
	err error
}

// scriptedOracle answers calls in order.
type scriptedOracle struct {
	mu      sync.Mutex
	replies []reply
	calls   []call
}

func (s *scriptedOracle) Send(_ context.Context, prompt string, opts oracle.Options) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{prompt: prompt, opts: opts})
	if len(s.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return json.RawMessage(r.raw), r.err
}

type warnings struct {
	mu   sync.Mutex
	msgs []string
}

func (w *warnings) Warn(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
}

func storiesJSON(n int) string {
	items := make([]map[string]string, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, map[string]string{
			"id":          fmt.Sprintf("s%d", i),
			"title":       fmt.Sprintf("Story %d", i),
			"description": "As a user I want it",
		})
	}
	b, _ := json.Marshal(map[string]any{"items": items})
	return string(b)
}

func ids[T domain.Candidate](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.CandidateID()
	}
	return out
}

func TestSmallBatchSkipsSelection(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 3} {
		o := &scriptedOracle{replies: []reply{{raw: storiesJSON(n)}}}
		p := New(o)

		got, err := p.UserStories(context.Background(), nil)
		require.NoError(t, err)
		assert.Len(t, got, n)
		assert.Len(t, o.calls, 1, "batch of %d must not trigger selection", n)
		if n == 3 {
			assert.Equal(t, []string{"s1", "s2", "s3"}, ids(got))
		}
	}
}

func TestSelectionReturnsChosenItemsInOrder(t *testing.T) {
	t.Parallel()
	o := &scriptedOracle{replies: []reply{
		{raw: storiesJSON(10)},
		{raw: `{"items":[{"id":"s7","title":"Story 7"},{"id":"s2","title":"Story 2"},{"id":"s9","title":"Story 9"}]}`},
	}}
	p := New(o)

	got, err := p.UserStories(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s7", "s2", "s9"}, ids(got))
	assert.Equal(t, "As a user I want it", got[0].Description, "selected items come from the batch")

	require.Len(t, o.calls, 2)
	assert.Equal(t, "user_stories.generate", o.calls[0].opts.Stage)
	assert.Equal(t, oracle.FormatJSON, o.calls[0].opts.Format)
	assert.Contains(t, o.calls[0].prompt, "Return exactly 10 items")
	assert.Equal(t, "user_stories.select", o.calls[1].opts.Stage)
	batch, ok := o.calls[1].opts.ExtraContext["items"].([]domain.Story)
	require.True(t, ok)
	assert.Len(t, batch, 10)
}

func TestSelectionIsCapped(t *testing.T) {
	t.Parallel()
	o := &scriptedOracle{replies: []reply{
		{raw: storiesJSON(10)},
		{raw: `{"items":["s1","s2","s3","s4","s5"]}`},
	}}
	got, err := New(o).UserStories(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, ids(got))
}

func TestSelectionFailureFallsBackToHead(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sel  reply
	}{
		{name: "transport error", sel: reply{err: errors.New("connection reset")}},
		{name: "not an object", sel: reply{raw: `"I picked the best ones"`}},
		{name: "missing items", sel: reply{raw: `{"choices":[]}`}},
		{name: "unknown ids", sel: reply{raw: `{"items":[{"id":"zzz"}]}`}},
		{name: "empty selection", sel: reply{raw: `{"items":[]}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := &scriptedOracle{replies: []reply{{raw: storiesJSON(10)}, tt.sel}}
			got, err := New(o).UserStories(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"s1", "s2", "s3"}, ids(got))
		})
	}
}

func TestBroadFailureYieldsEmptyListAndWarning(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		broad reply
	}{
		{name: "transport error", broad: reply{err: errors.New("401 unauthorized")}},
		{name: "plain text", broad: reply{raw: `"sorry"`}},
		{name: "wrong envelope", broad: reply{raw: `{"stories":[]}`}},
		{name: "items not a list", broad: reply{raw: `{"items":"nope"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := &scriptedOracle{replies: []reply{tt.broad}}
			w := &warnings{}
			got, err := New(o, WithWarner(w)).UserStories(context.Background(), nil)
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)
			assert.Len(t, o.calls, 1)
			require.Len(t, w.msgs, 1)
			assert.Contains(t, w.msgs[0], "user stories")
		})
	}
}

func TestInvalidItemsAreDropped(t *testing.T) {
	t.Parallel()
	raw := `{"items":[
		{"id":"a","title":"ok"},
		{"id":"b"},
		"junk",
		{"id":"a","title":"duplicate"},
		{"title":"no id"}
	]}`
	o := &scriptedOracle{replies: []reply{{raw: raw}}}
	got, err := New(o).UserStories(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "ok", got[0].Title)
	assert.NotEqual(t, "a", got[1].ID)
	assert.NotEmpty(t, got[1].ID)
	assert.Equal(t, "duplicate", got[1].Title)
	assert.NotEmpty(t, got[2].ID)
	assert.Equal(t, "no id", got[2].Title)
}

func TestRepeatedIDsAreRenamed(t *testing.T) {
	t.Parallel()
	raw := `{"items":[
		{"id":"1","title":"first"},
		{"id":"1","title":"second"},
		{"id":"1","title":"third"}
	]}`
	o := &scriptedOracle{replies: []reply{{raw: raw}}}
	got, err := New(o).UserStories(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "1", got[0].ID)
	ids := map[string]bool{}
	for i, want := range []string{"first", "second", "third"} {
		assert.Equal(t, want, got[i].Title)
		assert.NotEmpty(t, got[i].ID)
		ids[got[i].ID] = true
	}
	assert.Len(t, ids, 3)
}

func TestTestProposalTargetFilesAreBaseNames(t *testing.T) {
	t.Parallel()
	raw := `{"items":[
		{"id":"t1","title":"a","code":"x","targetFile":"a/b/c.test.js"},
		{"id":"t2","title":"b","code":"y","targetFile":"..\\..\\evil.test.js"},
		{"id":"t3","title":"c","code":"z","targetFile":"plain.test.js"}
	]}`
	o := &scriptedOracle{replies: []reply{{raw: raw}}}
	story := domain.Story{ID: "s1", Title: "Add"}

	got, err := New(o).TestProposals(context.Background(), story, map[string]any{"note": "x"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, tp := range got {
		assert.NotContains(t, tp.TargetFile, "/")
		assert.NotContains(t, tp.TargetFile, `\`)
	}
	assert.Equal(t, "c.test.js", got[0].TargetFile)
	assert.Equal(t, "evil.test.js", got[1].TargetFile)

	extra := o.calls[0].opts.ExtraContext
	assert.Equal(t, story, extra["userStory"])
	assert.Equal(t, "x", extra["note"])
}

func TestCancelledRunReturnsContextError(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	o := oracle.Func(func(ctx context.Context, _ string, _ oracle.Options) (json.RawMessage, error) {
		cancel()
		return json.RawMessage(storiesJSON(10)), nil
	})
	got, err := New(o).UserStories(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)
}

type fakeProvider struct {
	structure domain.ProjectStructure
	commits   []domain.CommitInfo
	diff      string
	err       error
}

func (f *fakeProvider) ProjectStructure(context.Context) (domain.ProjectStructure, error) {
	return f.structure, f.err
}

func (f *fakeProvider) CommitHistory(_ context.Context, limit int) ([]domain.CommitInfo, error) {
	if len(f.commits) > limit {
		return f.commits[:limit], f.err
	}
	return f.commits, f.err
}

func (f *fakeProvider) ImplementedCodeDiff(context.Context) (string, error) {
	return f.diff, f.err
}

func TestContextIsAssembledFromProvider(t *testing.T) {
	t.Parallel()
	files := make([]string, 30)
	for i := range files {
		files[i] = fmt.Sprintf("src/f%d.js", i)
	}
	fp := &fakeProvider{
		structure: domain.ProjectStructure{Language: "javascript", HasTests: true, SourceFiles: files, TestFiles: []string{"a.test.js"}},
		commits:   []domain.CommitInfo{{Hash: "abc", Message: "add calc", Date: time.Unix(0, 0)}},
		diff:      "+ return a + b",
	}
	o := &scriptedOracle{replies: []reply{{raw: `{"items":[]}`}, {raw: `{"items":[]}`}}}
	p := New(o, WithContextProvider(fp))

	_, err := p.UserStories(context.Background(), map[string]any{"language": "typescript"})
	require.NoError(t, err)
	_, err = p.RefactoringSuggestions(context.Background(), nil)
	require.NoError(t, err)

	stories := o.calls[0].opts.ExtraContext
	assert.Equal(t, "typescript", stories["language"], "caller context wins")
	assert.Equal(t, true, stories["hasTests"])
	assert.Len(t, stories["sourceFiles"], maxContextFiles)
	assert.NotContains(t, stories, "implementedCode")
	assert.Len(t, stories["recentCommits"], 1)

	refactor := o.calls[1].opts.ExtraContext
	assert.Equal(t, "+ return a + b", refactor["implementedCode"])
	assert.Equal(t, "refactoring_suggestions.generate", o.calls[1].opts.Stage)
}

func TestProviderFailureOnlyDegradesContext(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{err: errors.New("not a git repository")}
	o := &scriptedOracle{replies: []reply{{raw: storiesJSON(2)}}}
	got, err := New(o, WithContextProvider(fp)).UserStories(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.NotContains(t, o.calls[0].opts.ExtraContext, "language")
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	o := &scriptedOracle{replies: []reply{{raw: storiesJSON(2)}}}
	got, err := New(o).Generate(context.Background(), UserStories, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Story 1", got[0].CandidateTitle())

	_, err = New(o).Generate(context.Background(), ContentType("poems"), nil)
	assert.ErrorIs(t, err, ErrUnknownContentType)
}

func TestProfilesDriveRequests(t *testing.T) {
	t.Parallel()
	profiles := DefaultProfiles()
	prof := profiles[UserStories]
	prof.SystemPrompt = "custom system"
	prof.Options.Model = "gpt-4o-mini"
	prof.Options.Temperature = 0.1
	profiles[UserStories] = prof

	o := &scriptedOracle{replies: []reply{{raw: storiesJSON(1)}}}
	_, err := New(o, WithProfiles(profiles)).UserStories(context.Background(), nil)
	require.NoError(t, err)

	opts := o.calls[0].opts
	assert.Equal(t, "custom system", opts.SystemPrompt)
	assert.Equal(t, "gpt-4o-mini", opts.Model)
	assert.Equal(t, 0.1, opts.Temperature)
	assert.True(t, strings.HasPrefix(o.calls[0].prompt, prof.InstructionPrompt))
}
