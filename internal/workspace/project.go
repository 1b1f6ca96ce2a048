package workspace

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ashureev/tdd-mentor/internal/domain"
)

// Project combines the scanner and repository views of one workspace. It
// satisfies generation.ContextProvider.
type Project struct {
	*Scanner
	Git *GitRepo
}

// NewProject returns a Project rooted at root.
func NewProject(root, authorName, authorEmail string, logger *slog.Logger) *Project {
	return &Project{
		Scanner: NewScanner(root),
		Git:     NewGitRepo(root, authorName, authorEmail, logger),
	}
}

// CommitHistory delegates to the repository.
func (p *Project) CommitHistory(ctx context.Context, limit int) ([]domain.CommitInfo, error) {
	return p.Git.CommitHistory(ctx, limit)
}

// ImplementedCodeDiff delegates to the repository.
func (p *Project) ImplementedCodeDiff(ctx context.Context) (string, error) {
	return p.Git.ImplementedCodeDiff(ctx)
}

// InsidePaths returns the given paths that lie inside root, relative to it
// and slash-separated. Paths outside root are dropped.
func InsidePaths(root string, paths ...string) []string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}
