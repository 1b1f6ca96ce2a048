package generation

import (
	"context"
	"log/slog"
	"maps"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/tdd-mentor/internal/domain"
)

// ContextProvider supplies project facts used to ground prompts. Errors
// degrade prompt quality only.
type ContextProvider interface {
	ProjectStructure(ctx context.Context) (domain.ProjectStructure, error)
	CommitHistory(ctx context.Context, limit int) ([]domain.CommitInfo, error)
	ImplementedCodeDiff(ctx context.Context) (string, error)
}

const (
	maxContextFiles   = 20
	maxContextCommits = 10
)

// assembleContext gathers project facts concurrently and merges extra on
// top; caller keys win.
func (p *Pipeline) assembleContext(ctx context.Context, ct ContentType, extra map[string]any) map[string]any {
	out := make(map[string]any)
	if p.provider != nil {
		var (
			structure domain.ProjectStructure
			commits   []domain.CommitInfo
			diff      string
			haveTree  bool
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			s, err := p.provider.ProjectStructure(gctx)
			if err != nil {
				p.logger.Warn("project structure unavailable", "content_type", ct, "error", err)
				return nil
			}
			structure, haveTree = s, true
			return nil
		})
		g.Go(func() error {
			c, err := p.provider.CommitHistory(gctx, maxContextCommits)
			if err != nil {
				p.logger.Warn("commit history unavailable", "content_type", ct, "error", err)
				return nil
			}
			commits = c
			return nil
		})
		if ct == RefactoringSuggestions {
			g.Go(func() error {
				d, err := p.provider.ImplementedCodeDiff(gctx)
				if err != nil {
					p.logger.Warn("implemented diff unavailable", "content_type", ct, "error", err)
					return nil
				}
				diff = d
				return nil
			})
		}
		_ = g.Wait()

		if haveTree {
			out["language"] = structure.Language
			out["hasTests"] = structure.HasTests
			out["sourceFiles"] = head(structure.SourceFiles, maxContextFiles)
			out["testFiles"] = head(structure.TestFiles, maxContextFiles)
		}
		if len(commits) > 0 {
			summaries := make([]map[string]any, 0, len(commits))
			for _, c := range commits {
				summaries = append(summaries, map[string]any{
					"message":      c.Message,
					"author":       c.Author,
					"date":         c.Date,
					"filesChanged": c.FilesChanged,
				})
			}
			out["recentCommits"] = summaries
		}
		if diff != "" {
			out["implementedCode"] = diff
		}
	}

	maps.Copy(out, extra)
	return out
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
