package workspace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sourcegraph/go-diff/diff"

	"github.com/ashureev/tdd-mentor/internal/domain"
)

// ErrNothingToCommit is returned when Commit finds no changes.
var ErrNothingToCommit = errors.New("nothing to commit")

// GitRepo reads history from and commits to the repository containing the
// workspace. A workspace that is not a repository, or has no commits yet,
// yields empty results rather than errors.
type GitRepo struct {
	root   string
	name   string
	email  string
	logger *slog.Logger
}

// NewGitRepo returns a GitRepo for the repository enclosing root. name and
// email sign the commits it creates.
func NewGitRepo(root, name, email string, logger *slog.Logger) *GitRepo {
	if name == "" {
		name = "TDD Mentor"
	}
	if email == "" {
		email = "tdd-mentor@localhost"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitRepo{root: root, name: name, email: email, logger: logger}
}

func (g *GitRepo) open() (*git.Repository, bool, error) {
	repo, err := git.PlainOpenWithOptions(g.root, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open repository: %w", err)
	}
	return repo, true, nil
}

func (g *GitRepo) head(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load HEAD commit: %w", err)
	}
	return commit, nil
}

// CommitHistory returns up to limit commits, newest first.
func (g *GitRepo) CommitHistory(ctx context.Context, limit int) ([]domain.CommitInfo, error) {
	out := []domain.CommitInfo{}
	repo, ok, err := g.open()
	if err != nil || !ok {
		return out, err
	}
	head, err := g.head(repo)
	if err != nil || head == nil {
		return out, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return out, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	for limit <= 0 || len(out) < limit {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("walk log: %w", err)
		}

		info := domain.CommitInfo{
			Hash:         c.Hash.String(),
			Author:       c.Author.Name,
			Date:         c.Author.When.UTC(),
			Message:      strings.TrimSpace(c.Message),
			FilesChanged: []string{},
		}
		if stats, err := c.StatsContext(ctx); err == nil {
			for _, s := range stats {
				info.FilesChanged = append(info.FilesChanged, s.Name)
			}
		} else {
			g.logger.Debug("Could not compute commit stats", "hash", info.Hash, "error", err)
		}
		out = append(out, info)
	}
	return out, nil
}

// ImplementedCodeDiff summarises the lines added and removed by the latest
// commit, grouped by file.
func (g *GitRepo) ImplementedCodeDiff(ctx context.Context) (string, error) {
	repo, ok, err := g.open()
	if err != nil || !ok {
		return "", err
	}
	head, err := g.head(repo)
	if err != nil || head == nil {
		return "", err
	}

	tree, err := head.Tree()
	if err != nil {
		return "", fmt.Errorf("load tree: %w", err)
	}
	var parentTree *object.Tree
	if head.NumParents() > 0 {
		parent, err := head.Parent(0)
		if err != nil {
			return "", fmt.Errorf("load parent commit: %w", err)
		}
		if parentTree, err = parent.Tree(); err != nil {
			return "", fmt.Errorf("load parent tree: %w", err)
		}
	}

	changes, err := object.DiffTreeWithOptions(ctx, parentTree, tree, nil)
	if err != nil {
		return "", fmt.Errorf("diff trees: %w", err)
	}
	patch, err := changes.PatchContext(ctx)
	if err != nil {
		return "", fmt.Errorf("build patch: %w", err)
	}
	return summarizePatch(patch.String()), nil
}

// summarizePatch reduces a unified diff to its changed lines.
func summarizePatch(patch string) string {
	if strings.TrimSpace(patch) == "" {
		return ""
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return changedLines(patch)
	}

	var b strings.Builder
	for _, fd := range fileDiffs {
		name := strings.TrimPrefix(fd.NewName, "b/")
		if fd.NewName == "/dev/null" {
			name = strings.TrimPrefix(fd.OrigName, "a/")
		}
		var body strings.Builder
		for _, hunk := range fd.Hunks {
			body.WriteString(changedLines(string(hunk.Body)))
		}
		if body.Len() == 0 {
			continue
		}
		fmt.Fprintf(&b, "File: %s\n%s", name, body.String())
	}
	return strings.TrimRight(b.String(), "\n")
}

func changedLines(body string) string {
	var b strings.Builder
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ModifiedFiles returns porcelain-style status lines, sorted by path.
func (g *GitRepo) ModifiedFiles(ctx context.Context) ([]string, error) {
	repo, ok, err := g.open()
	if err != nil || !ok {
		return []string{}, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return []string{}, fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.StatusWithOptions(git.StatusOptions{Strategy: git.Preload})
	if err != nil {
		return []string{}, fmt.Errorf("read status: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return []string{}, err
	}

	lines := []string{}
	for path, fs := range status {
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		lines = append(lines, fmt.Sprintf("%c%c %s", fs.Staging, fs.Worktree, path))
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i][3:] < lines[j][3:] })
	return lines, nil
}

// Commit stages files (all changes when files is empty) and commits them.
// It returns the new commit hash.
func (g *GitRepo) Commit(ctx context.Context, message string, files []string) (string, error) {
	repo, ok, err := g.open()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("commit: %w", git.ErrRepositoryNotExists)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}

	if len(files) == 0 {
		for path, fs := range status {
			if fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified {
				files = append(files, path)
			}
		}
		sort.Strings(files)
	}
	if len(files) == 0 {
		return "", ErrNothingToCommit
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if fs := status.File(path); fs.Worktree == git.Deleted {
			_, err = wt.Remove(path)
		} else {
			_, err = wt.Add(path)
		}
		if err != nil {
			return "", fmt.Errorf("stage %s: %w", path, err)
		}
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: g.name, Email: g.email, When: time.Now()},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	g.logger.Info("Committed changes", "hash", hash.String(), "files", len(files))
	return hash.String(), nil
}
