// Package generation produces short-lists of stories, tests and
// refactoring suggestions from a generation oracle.
//
// Each run makes a broad request for a batch of candidates and, when the
// batch is larger than the short-list, a second request asking the oracle
// to pick the best ones. Failures never escape: a failed broad request
// yields an empty list and a warning, a failed selection yields the head of
// the batch.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"

	"github.com/ashureev/tdd-mentor/internal/domain"
	"github.com/ashureev/tdd-mentor/internal/metrics"
	"github.com/ashureev/tdd-mentor/internal/oracle"
)

const (
	// DefaultBatchSize is the number of candidates requested up front.
	DefaultBatchSize = 10
	// DefaultShortlist is the maximum number of candidates returned.
	DefaultShortlist = 3
)

// ErrUnknownContentType is returned by Generate for unsupported types.
var ErrUnknownContentType = errors.New("unknown content type")

// errShape marks oracle output that does not match {items: [...]}.
var errShape = errors.New("unexpected response shape")

// Warner surfaces user-visible warnings.
type Warner interface {
	Warn(msg string)
}

// WarnFunc adapts a function to Warner.
type WarnFunc func(msg string)

// Warn calls f.
func (f WarnFunc) Warn(msg string) { f(msg) }

// Pipeline runs the two-stage generation protocol.
type Pipeline struct {
	oracle    oracle.Oracle
	provider  ContextProvider
	profiles  Profiles
	warner    Warner
	logger    *slog.Logger
	metrics   *metrics.Metrics
	batchSize int
	shortlist int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithContextProvider sets the source of project facts.
func WithContextProvider(cp ContextProvider) Option {
	return func(p *Pipeline) { p.provider = cp }
}

// WithProfiles replaces the built-in prompt profiles.
func WithProfiles(profiles Profiles) Option {
	return func(p *Pipeline) { p.profiles = profiles }
}

// WithWarner sets where user-visible warnings go.
func WithWarner(w Warner) Option {
	return func(p *Pipeline) { p.warner = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline around o.
func New(o oracle.Oracle, opts ...Option) *Pipeline {
	p := &Pipeline{
		oracle:    o,
		profiles:  DefaultProfiles(),
		batchSize: DefaultBatchSize,
		shortlist: DefaultShortlist,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = loggerOr(p.logger)
	return p
}

// UserStories generates a short-list of user stories.
func (p *Pipeline) UserStories(ctx context.Context, extra map[string]any) ([]domain.Story, error) {
	return run(ctx, p, UserStories, extra, func(s domain.Story) domain.Story { return s })
}

// TestProposals generates a short-list of tests for story. Target files
// are reduced to base names.
func (p *Pipeline) TestProposals(ctx context.Context, story domain.Story, extra map[string]any) ([]domain.TestProposal, error) {
	merged := map[string]any{"userStory": story}
	maps.Copy(merged, extra)
	return run(ctx, p, TestProposals, merged, func(t domain.TestProposal) domain.TestProposal {
		t.TargetFile = domain.BaseName(t.TargetFile)
		return t
	})
}

// RefactoringSuggestions generates a short-list of refactoring suggestions.
func (p *Pipeline) RefactoringSuggestions(ctx context.Context, extra map[string]any) ([]domain.RefactoringSuggestion, error) {
	return run(ctx, p, RefactoringSuggestions, extra, func(r domain.RefactoringSuggestion) domain.RefactoringSuggestion { return r })
}

// Generate runs the pipeline for ct and returns the candidates untyped.
func (p *Pipeline) Generate(ctx context.Context, ct ContentType, extra map[string]any) ([]domain.Candidate, error) {
	switch ct {
	case UserStories:
		return boxed[domain.Story](p.UserStories(ctx, extra))
	case TestProposals:
		var story domain.Story
		if s, ok := extra["userStory"].(domain.Story); ok {
			story = s
		}
		return boxed[domain.TestProposal](p.TestProposals(ctx, story, extra))
	case RefactoringSuggestions:
		return boxed[domain.RefactoringSuggestion](p.RefactoringSuggestions(ctx, extra))
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownContentType, ct)
}

func boxed[T domain.Candidate](items []T, err error) ([]domain.Candidate, error) {
	if err != nil {
		return nil, err
	}
	out := make([]domain.Candidate, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out, nil
}

// run executes both stages. The only error it returns is the context's,
// so callers can tell a cancelled run from an empty one.
func run[T domain.Candidate](ctx context.Context, p *Pipeline, ct ContentType, extra map[string]any, post func(T) T) ([]T, error) {
	prof, ok := p.profiles[ct]
	if !ok {
		prof = DefaultProfiles()[ct]
	}
	log := p.logger.With("content_type", ct)

	genCtx := p.assembleContext(ctx, ct, extra)
	opts := prof.Options
	opts.SystemPrompt = prof.SystemPrompt
	opts.Format = oracle.FormatJSON
	opts.ExtraContext = genCtx
	opts.Stage = string(ct) + ".generate"

	raw, err := p.oracle.Send(ctx, broadPrompt(prof, ct, p.batchSize), opts)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		log.Warn("broad generation failed", "error", err)
		p.warn(fmt.Sprintf("Could not generate %s: %v", ct.Label(), err))
		p.metrics.RecordGeneration(string(ct), "empty")
		return []T{}, nil
	}

	batch, err := decodeItems(raw, post)
	if err != nil {
		log.Warn("broad generation returned unusable output", "error", err)
		p.warn(fmt.Sprintf("Could not generate %s: the response was not in the expected format", ct.Label()))
		p.metrics.RecordGeneration(string(ct), "empty")
		return []T{}, nil
	}
	log.Debug("broad generation complete", "count", len(batch))

	if len(batch) <= p.shortlist {
		p.metrics.RecordGeneration(string(ct), "unselected")
		return batch, nil
	}

	selCtx := maps.Clone(genCtx)
	selCtx["items"] = batch
	opts.ExtraContext = selCtx
	opts.Stage = string(ct) + ".select"

	raw, err = p.oracle.Send(ctx, selectionPrompt(prof, p.shortlist), opts)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		p.warn(fmt.Sprintf("Could not rank %s, showing the first %d: %v", ct.Label(), p.shortlist, err))
	} else {
		var ids []string
		ids, err = decodeSelection(raw)
		chosen := pick(batch, ids)
		if err == nil && len(chosen) == 0 {
			err = fmt.Errorf("%w: no known items selected", errShape)
		}
		if err == nil {
			if len(chosen) > p.shortlist {
				chosen = chosen[:p.shortlist]
			}
			p.metrics.RecordGeneration(string(ct), "selected")
			return chosen, nil
		}
	}

	log.Warn("selection failed, using head of batch", "error", err, "batch", len(batch))
	p.metrics.RecordGeneration(string(ct), "fallback")
	return batch[:p.shortlist], nil
}

func (p *Pipeline) warn(msg string) {
	if p.warner != nil {
		p.warner.Warn(msg)
	}
}

// decodeItems parses {items: [...]}. Items without an id get a fresh one.
// Items that do not decode or validate are dropped, as are repeated ids.
func decodeItems[T domain.Candidate](raw json.RawMessage, post func(T) T) ([]T, error) {
	var env struct {
		Items *[]json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errShape, err)
	}
	if env.Items == nil {
		return nil, fmt.Errorf("%w: missing items", errShape)
	}

	seen := make(map[string]bool, len(*env.Items))
	out := make([]T, 0, len(*env.Items))
	for _, itemRaw := range *env.Items {
		item, ok := decodeItem[T](itemRaw)
		if !ok {
			continue
		}
		item = post(item)
		id := item.CandidateID()
		if seen[id] {
			// A repeated id still names a distinct candidate; give it a fresh one.
			renamed, ok := decodeItem[T](withID(itemRaw, uuid.NewString()))
			if !ok {
				continue
			}
			item = post(renamed)
			id = item.CandidateID()
		}
		seen[id] = true
		out = append(out, item)
	}
	return out, nil
}

func decodeItem[T domain.Candidate](raw json.RawMessage) (T, bool) {
	var item T
	var head struct {
		ID *string `json:"id"`
	}
	if json.Unmarshal(raw, &head) == nil && (head.ID == nil || *head.ID == "") {
		raw = withID(raw, uuid.NewString())
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return item, false
	}
	if err := oracle.ValidateItem(item); err != nil {
		return item, false
	}
	return item, true
}

func withID(raw json.RawMessage, id string) json.RawMessage {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	obj["id"] = id
	b, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return b
}

// decodeSelection extracts the chosen ids from {items: [...]}. Items may be
// full objects or bare id strings.
func decodeSelection(raw json.RawMessage) ([]string, error) {
	var env struct {
		Items *[]json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errShape, err)
	}
	if env.Items == nil {
		return nil, fmt.Errorf("%w: missing items", errShape)
	}

	ids := make([]string, 0, len(*env.Items))
	for _, itemRaw := range *env.Items {
		var id string
		if json.Unmarshal(itemRaw, &id) == nil {
			ids = append(ids, id)
			continue
		}
		var obj struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(itemRaw, &obj) == nil && obj.ID != "" {
			ids = append(ids, obj.ID)
		}
	}
	return ids, nil
}

// pick returns the batch items named by ids, in ids order. Unknown and
// repeated ids are skipped.
func pick[T domain.Candidate](batch []T, ids []string) []T {
	byID := make(map[string]T, len(batch))
	for _, b := range batch {
		byID[b.CandidateID()] = b
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			out = append(out, b)
			delete(byID, id)
		}
	}
	return out
}

func broadPrompt(prof Profile, ct ContentType, n int) string {
	return fmt.Sprintf("%s\n\nReturn exactly %d items as a JSON object of the form {\"items\": [...]}, where each item is %s.",
		prof.InstructionPrompt, n, itemSchema(ct))
}

func selectionPrompt(prof Profile, n int) string {
	return fmt.Sprintf("%s\n\nThe candidates are in the \"items\" field of the context. Return the %d you choose, unchanged "+
		"and with their original ids, as a JSON object of the form {\"items\": [...]}.", prof.SelectionPrompt, n)
}

func itemSchema(ct ContentType) string {
	switch ct {
	case TestProposals:
		return `{"id": string, "title": string, "description": string, "code": string, "targetFile": string}`
	default:
		return `{"id": string, "title": string, "description": string}`
	}
}
