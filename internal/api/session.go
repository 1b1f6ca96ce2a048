package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tdd-mentor/internal/domain"
	"github.com/ashureev/tdd-mentor/internal/workflow"
)

// Workflow is the set of operations the session routes expose.
type Workflow interface {
	Snapshot() domain.Session
	Start(ctx context.Context) error
	Reset(ctx context.Context) error
	RefreshStories(ctx context.Context) error
	SelectStory(ctx context.Context, id string) error
	RegenerateTests(ctx context.Context) error
	SelectTest(ctx context.Context, id string) error
	EditSelectedTest(ctx context.Context, code, targetFile string) error
	ConfirmTest(ctx context.Context) (string, error)
	AskHint(ctx context.Context, question string) (string, error)
	VerifyTests(ctx context.Context) (domain.TestResult, error)
	RouteNext(ctx context.Context, p domain.Phase) error
	Complete(ctx context.Context, message string) error
}

var _ Workflow = (*workflow.Service)(nil)

// SessionHandler serves the TDD session endpoints.
type SessionHandler struct {
	wf Workflow
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(wf Workflow) *SessionHandler {
	return &SessionHandler{wf: wf}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/session", h.GetSession)
		r.Post("/session/start", h.command(h.wf.Start))
		r.Post("/session/reset", h.command(h.wf.Reset))
		r.Post("/stories/refresh", h.command(h.wf.RefreshStories))
		r.Post("/stories/{id}/select", h.SelectStory)
		r.Post("/tests/regenerate", h.command(h.wf.RegenerateTests))
		r.Post("/tests/{id}/select", h.SelectTest)
		r.Put("/tests/selected", h.EditTest)
		r.Post("/tests/confirm", h.ConfirmTest)
		r.Post("/hints", h.AskHint)
		r.Post("/verify", h.Verify)
		r.Post("/next-phase", h.RouteNext)
		r.Post("/complete", h.Complete)
	})
}

// GetSession returns the current session.
func (h *SessionHandler) GetSession(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{"session": h.wf.Snapshot()})
}

// command adapts a body-less operation.
func (h *SessionHandler) command(op func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context()); err != nil {
			fail(w, r, err)
			return
		}
		h.GetSession(w, r)
	}
}

// SelectStory selects a story and generates its test proposals.
func (h *SessionHandler) SelectStory(w http.ResponseWriter, r *http.Request) {
	if err := h.wf.SelectStory(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	h.GetSession(w, r)
}

// SelectTest selects a test proposal.
func (h *SessionHandler) SelectTest(w http.ResponseWriter, r *http.Request) {
	if err := h.wf.SelectTest(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	h.GetSession(w, r)
}

type editRequest struct {
	Code       string `json:"code"`
	TargetFile string `json:"targetFile"`
}

// EditTest stores the developer's version of the selected test.
func (h *SessionHandler) EditTest(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.wf.EditSelectedTest(r.Context(), req.Code, req.TargetFile); err != nil {
		fail(w, r, err)
		return
	}
	h.GetSession(w, r)
}

// ConfirmTest inserts the test and enters GREEN.
func (h *SessionHandler) ConfirmTest(w http.ResponseWriter, r *http.Request) {
	path, err := h.wf.ConfirmTest(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"path":    path,
		"session": h.wf.Snapshot(),
	})
}

type hintRequest struct {
	Question string `json:"question"`
}

// AskHint answers a question during GREEN.
func (h *SessionHandler) AskHint(w http.ResponseWriter, r *http.Request) {
	var req hintRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	answer, err := h.wf.AskHint(r.Context(), req.Question)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"answer":  answer,
		"session": h.wf.Snapshot(),
	})
}

// Verify runs the tests.
func (h *SessionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	result, err := h.wf.VerifyTests(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"result":  result,
		"session": h.wf.Snapshot(),
	})
}

type nextPhaseRequest struct {
	Phase string `json:"phase"`
}

// RouteNext sets the phase that follows refactoring.
func (h *SessionHandler) RouteNext(w http.ResponseWriter, r *http.Request) {
	var req nextPhaseRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var p domain.Phase
	if req.Phase != "" {
		parsed, err := domain.ParsePhase(req.Phase)
		if err != nil {
			fail(w, r, fmt.Errorf("%w: %w", workflow.ErrInvalidArgument, err))
			return
		}
		p = parsed
	}
	if err := h.wf.RouteNext(r.Context(), p); err != nil {
		fail(w, r, err)
		return
	}
	h.GetSession(w, r)
}

type completeRequest struct {
	Message string `json:"message"`
}

// Complete finishes the refactoring step.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.wf.Complete(r.Context(), req.Message); err != nil {
		fail(w, r, err)
		return
	}
	h.GetSession(w, r)
}
