// Package hint answers developer questions during the GREEN phase with
// guidance that escalates from Socratic questions to narrow hints, never a
// full solution.
package hint

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/tdd-mentor/internal/domain"
	"github.com/ashureev/tdd-mentor/internal/metrics"
	"github.com/ashureev/tdd-mentor/internal/oracle"
)

// MaxLevel is the top of the escalation ladder.
const MaxLevel = 3

const systemPrompt = "You are a Test-Driven Development mentor. The developer has written a failing test and is " +
	"now making it pass. Help them reason about the problem. Never write the implementation for them."

var ladder = map[int]string{
	1: "Reply only with reflective questions that lead the developer to find the answer themselves. " +
		"Do not offer hints, suggestions or code.",
	2: "Give targeted hints that point to the relevant part of the test or the code. " +
		"Do not give the solution and do not write code.",
	3: "Give narrowly targeted hints about the specific change that is missing. " +
		"Never write the full solution or the implementation code.",
}

// Level clamps level onto the ladder. Values outside it behave like level 1.
func Level(level int) int {
	if _, ok := ladder[level]; ok {
		return level
	}
	return 1
}

// Directive returns the instruction used at level.
func Directive(level int) string {
	return ladder[Level(level)]
}

// BuildPrompt renders the single prompt sent for a question.
func BuildPrompt(question string, transcript []domain.Exchange, level int) string {
	var b strings.Builder
	b.WriteString(Directive(level))
	b.WriteString("\n\n")
	if len(transcript) > 0 {
		b.WriteString("Conversation so far:\n")
		for i, e := range transcript {
			fmt.Fprintf(&b, "Q%d: %s\nA%d: %s\n", i+1, e.Question, i+1, e.Answer)
		}
		b.WriteString("\n")
	}
	b.WriteString("Developer question: ")
	b.WriteString(question)
	return b.String()
}

// Protocol asks the oracle for hints. It holds no per-session state.
type Protocol struct {
	oracle  oracle.Oracle
	opts    oracle.Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a protocol using opts as the base generation parameters.
func New(o oracle.Oracle, opts oracle.Options, logger *slog.Logger, m *metrics.Metrics) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = systemPrompt
	}
	opts.Format = oracle.FormatText
	opts.Stage = "hint"
	return &Protocol{oracle: o, opts: opts, logger: logger, metrics: m}
}

// Ask returns the answer to question. ok is false when the oracle failed;
// callers must then leave the hint level alone. An answer in an
// unrecognised shape is returned as an empty string with ok set.
func (p *Protocol) Ask(ctx context.Context, question string, transcript []domain.Exchange, level int, extra map[string]any) (answer string, ok bool) {
	opts := p.opts
	opts.ExtraContext = extra

	raw, err := p.oracle.Send(ctx, BuildPrompt(question, transcript, level), opts)
	if err != nil {
		p.logger.Warn("hint request failed", "level", Level(level), "error", err)
		p.metrics.RecordHint(false)
		return "", false
	}

	reply := ParseReply(raw)
	if reply.Kind == ReplyUnknown {
		p.logger.Warn("hint reply in unknown shape", "bytes", len(raw))
	}
	p.metrics.RecordHint(true)
	return reply.Text, true
}
