package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tdd-mentor/internal/cycle"
	"github.com/ashureev/tdd-mentor/internal/domain"
	"github.com/ashureev/tdd-mentor/internal/generation"
	"github.com/ashureev/tdd-mentor/internal/hint"
	"github.com/ashureev/tdd-mentor/internal/oracle"
	"github.com/ashureev/tdd-mentor/internal/workflow"
)

type stubRunner struct{ result domain.TestResult }

func (s stubRunner) Run(context.Context) (domain.TestResult, error) { return s.result, nil }

type stubInserter struct{ err error }

func (s stubInserter) Insert(_ context.Context, _, target string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "tests/" + target, nil
}

func newTestRouter(t *testing.T, inserter workflow.FileInserter) http.Handler {
	t.Helper()
	fake := oracle.NewFakeClient()
	svc, err := workflow.New(workflow.Deps{
		Machine:   cycle.New(nil, nil),
		Generator: generation.New(fake),
		Hinter:    hint.New(fake, oracle.DefaultOptions(), nil, nil),
		Runner:    stubRunner{result: domain.TestResult{Success: true, Message: "ok"}},
		Inserter:  inserter,
	})
	if err != nil {
		t.Fatalf("workflow.New: %v", err)
	}
	r := chi.NewRouter()
	NewSessionHandler(svc).RegisterRoutes(r)
	return r
}

type sessionResponse struct {
	Session domain.Session     `json:"session"`
	Answer  string             `json:"answer"`
	Path    string             `json:"path"`
	Result  *domain.TestResult `json:"result"`
	Error   string             `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path string, body any) (int, sessionResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return w.Code, resp
}

func TestSessionFullCycle(t *testing.T) {
	h := newTestRouter(t, stubInserter{})

	code, resp := do(t, h, http.MethodGet, "/api/session", nil)
	if code != http.StatusOK || resp.Session.Phase != domain.PhasePick {
		t.Fatalf("GET session = %d %+v", code, resp.Session)
	}

	code, resp = do(t, h, http.MethodPost, "/api/session/start", nil)
	if code != http.StatusOK || len(resp.Session.UserStories) != 3 {
		t.Fatalf("start = %d, stories %d", code, len(resp.Session.UserStories))
	}

	code, resp = do(t, h, http.MethodPost, "/api/stories/story-2/select", nil)
	if code != http.StatusOK || resp.Session.Phase != domain.PhaseRed || len(resp.Session.TestProposals) != 3 {
		t.Fatalf("select story = %d %+v", code, resp.Session)
	}

	code, _ = do(t, h, http.MethodPost, "/api/tests/test-1/select", nil)
	if code != http.StatusOK {
		t.Fatalf("select test = %d", code)
	}

	code, resp = do(t, h, http.MethodPut, "/api/tests/selected", map[string]string{"code": "test('mine')"})
	if code != http.StatusOK || resp.Session.ModifiedSelectedTest == nil || resp.Session.ModifiedSelectedTest.TargetFile != "sample.test.js" {
		t.Fatalf("edit test = %d %+v", code, resp.Session.ModifiedSelectedTest)
	}

	code, resp = do(t, h, http.MethodPost, "/api/tests/confirm", nil)
	if code != http.StatusOK || resp.Path != "tests/sample.test.js" || resp.Session.Phase != domain.PhaseGreen {
		t.Fatalf("confirm = %d path %q phase %s", code, resp.Path, resp.Session.Phase)
	}

	code, resp = do(t, h, http.MethodPost, "/api/hints", map[string]string{"question": "what next?"})
	if code != http.StatusOK || resp.Answer == "" || resp.Session.HintLevel != 1 {
		t.Fatalf("hint = %d %q level %d", code, resp.Answer, resp.Session.HintLevel)
	}

	code, resp = do(t, h, http.MethodPost, "/api/verify", nil)
	if code != http.StatusOK || resp.Result == nil || !resp.Result.Success || resp.Session.Phase != domain.PhaseRefactoring {
		t.Fatalf("verify = %d %+v", code, resp.Result)
	}

	code, resp = do(t, h, http.MethodPost, "/api/next-phase", map[string]string{"phase": "RED"})
	if code != http.StatusOK || resp.Session.NextPhase == nil || *resp.Session.NextPhase != domain.PhaseRed {
		t.Fatalf("next phase = %d %+v", code, resp.Session.NextPhase)
	}

	code, resp = do(t, h, http.MethodPost, "/api/complete", nil)
	if code != http.StatusOK || resp.Session.Phase != domain.PhaseRed || resp.Session.SelectedUserStory.ID != "story-2" {
		t.Fatalf("complete = %d %+v", code, resp.Session)
	}

	code, resp = do(t, h, http.MethodPost, "/api/session/reset", nil)
	if code != http.StatusOK || resp.Session.Phase != domain.PhasePick || len(resp.Session.UserStories) != 0 {
		t.Fatalf("reset = %d %+v", code, resp.Session)
	}
}

func TestSessionErrorStatuses(t *testing.T) {
	h := newTestRouter(t, stubInserter{err: errors.New("read-only")})

	if code, _ := do(t, h, http.MethodPost, "/api/hints", map[string]string{"question": "why?"}); code != http.StatusConflict {
		t.Errorf("hint outside GREEN = %d, want 409", code)
	}
	if code, _ := do(t, h, http.MethodPost, "/api/tests/regenerate", nil); code != http.StatusConflict {
		t.Errorf("regenerate without story = %d, want 409", code)
	}
	if code, _ := do(t, h, http.MethodPost, "/api/next-phase", map[string]string{"phase": "DONE"}); code != http.StatusBadRequest {
		t.Errorf("bad next phase = %d, want 400", code)
	}

	do(t, h, http.MethodPost, "/api/session/start", nil)
	if code, resp := do(t, h, http.MethodPost, "/api/stories/nope/select", nil); code != http.StatusNotFound || resp.Error == "" {
		t.Errorf("unknown story = %d %q, want 404", code, resp.Error)
	}

	do(t, h, http.MethodPost, "/api/stories/story-1/select", nil)
	do(t, h, http.MethodPost, "/api/tests/test-1/select", nil)
	code, resp := do(t, h, http.MethodPost, "/api/tests/confirm", nil)
	if code != http.StatusUnprocessableEntity {
		t.Errorf("insert failure = %d, want 422", code)
	}
	if resp.Error == "" {
		t.Error("expected an error message")
	}
}

func TestSessionRejectsMalformedBody(t *testing.T) {
	h := newTestRouter(t, stubInserter{})
	req := httptest.NewRequest(http.MethodPost, "/api/hints", bytes.NewBufferString(`{"question": 5}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
