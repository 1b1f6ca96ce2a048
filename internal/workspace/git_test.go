package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	return root, repo
}

func commitAll(t *testing.T, repo *git.Repository, msg string, when time.Time) {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.AddWithOptions(&git.AddOptions{All: true}))
	_, err = wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "Ada", Email: "ada@example.com", When: when},
	})
	require.NoError(t, err)
}

func TestGitRepoOutsideRepository(t *testing.T) {
	g := NewGitRepo(t.TempDir(), "", "", nil)
	ctx := context.Background()

	commits, err := g.CommitHistory(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, commits)

	d, err := g.ImplementedCodeDiff(ctx)
	require.NoError(t, err)
	assert.Empty(t, d)

	files, err := g.ModifiedFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestGitRepoEmptyRepository(t *testing.T) {
	root, _ := initRepo(t)
	g := NewGitRepo(root, "", "", nil)

	commits, err := g.CommitHistory(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, commits)

	d, err := g.ImplementedCodeDiff(context.Background())
	require.NoError(t, err)
	assert.Empty(t, d)
}

func TestGitRepoCommitHistory(t *testing.T) {
	root, repo := initRepo(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	writeFile(t, root, "calc.js", "function add(a, b) {}\n")
	commitAll(t, repo, "Add calculator", base)
	writeFile(t, root, "calc.test.js", "test('add')\n")
	commitAll(t, repo, "Add test\n\nwith body", base.Add(time.Hour))

	commits, err := NewGitRepo(root, "", "", nil).CommitHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, commits, 2)

	assert.Equal(t, "Add test\n\nwith body", commits[0].Message)
	assert.Equal(t, "Ada", commits[0].Author)
	assert.True(t, base.Add(time.Hour).Equal(commits[0].Date))
	assert.Equal(t, []string{"calc.test.js"}, commits[0].FilesChanged)
	assert.Equal(t, "Add calculator", commits[1].Message)
	assert.Len(t, commits[0].Hash, 40)

	limited, err := NewGitRepo(root, "", "", nil).CommitHistory(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGitRepoImplementedCodeDiff(t *testing.T) {
	root, repo := initRepo(t)
	now := time.Now()

	writeFile(t, root, "calc.js", "function add(a, b) {\n  return 0;\n}\n")
	commitAll(t, repo, "stub", now)
	writeFile(t, root, "calc.js", "function add(a, b) {\n  return a + b;\n}\n")
	commitAll(t, repo, "implement add", now.Add(time.Minute))

	d, err := NewGitRepo(root, "", "", nil).ImplementedCodeDiff(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "File: calc.js\n-  return 0;\n+  return a + b;", d)
}

func TestGitRepoImplementedCodeDiffRootCommit(t *testing.T) {
	root, repo := initRepo(t)
	writeFile(t, root, "a.js", "one\n")
	commitAll(t, repo, "init", time.Now())

	d, err := NewGitRepo(root, "", "", nil).ImplementedCodeDiff(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "File: a.js\n+one", d)
}

func TestGitRepoModifiedFilesAndCommit(t *testing.T) {
	root, repo := initRepo(t)
	writeFile(t, root, "a.js", "one\n")
	writeFile(t, root, "b.js", "two\n")
	commitAll(t, repo, "init", time.Now())

	writeFile(t, root, "a.js", "one changed\n")
	writeFile(t, root, "c.js", "three\n")
	require.NoError(t, os.Remove(filepath.Join(root, "b.js")))

	g := NewGitRepo(root, "Mentor", "mentor@example.com", nil)
	files, err := g.ModifiedFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{" M a.js", " D b.js", "?? c.js"}, files)

	hash, err := g.Commit(context.Background(), "green", nil)
	require.NoError(t, err)
	assert.Len(t, hash, 40)

	files, err = g.ModifiedFiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)

	commits, err := g.CommitHistory(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "green", commits[0].Message)
	assert.Equal(t, "Mentor", commits[0].Author)

	_, err = g.Commit(context.Background(), "again", nil)
	assert.ErrorIs(t, err, ErrNothingToCommit)
}

func TestGitRepoCommitOutsideRepository(t *testing.T) {
	_, err := NewGitRepo(t.TempDir(), "", "", nil).Commit(context.Background(), "x", nil)
	assert.ErrorIs(t, err, git.ErrRepositoryNotExists)
}

func TestSummarizePatchFallsBackOnGarbage(t *testing.T) {
	assert.Equal(t, "", summarizePatch("   "))
	assert.Equal(t, "+added\n-removed\n", changedLines("context\n+added\n-removed\n+++ b/x\n"))
}

func TestProjectSatisfiesContext(t *testing.T) {
	root, repo := initRepo(t)
	writeFile(t, root, "main.go", "package main\n")
	commitAll(t, repo, "init", time.Now())

	p := NewProject(root, "", "", nil)
	s, err := p.ProjectStructure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "go", s.Language)

	commits, err := p.CommitHistory(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, commits, 1)
}

func TestInsidePaths(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	got := InsidePaths(root,
		filepath.Join(root, "data", "tdd-mentor.db"),
		filepath.Join(root, "data", "logs"),
		filepath.Join(outside, "tdd-mentor.db"),
		root,
		"",
	)
	assert.Equal(t, []string{"data/tdd-mentor.db", "data/logs"}, got)
}

func TestInsidePathsRelative(t *testing.T) {
	t.Chdir(t.TempDir())

	got := InsidePaths(".", "./data/tdd-mentor.db", "../elsewhere/x.db")
	assert.Equal(t, []string{"data/tdd-mentor.db"}, got)
}

func TestModifiedFilesListsUntrackedDatabase(t *testing.T) {
	root, repo := initRepo(t)
	writeFile(t, root, "calc.js", "module.exports = {};\n")
	commitAll(t, repo, "init", time.Now())
	writeFile(t, root, "data/tdd-mentor.db", "sqlite")

	g := NewGitRepo(root, "", "", nil)
	status, err := g.ModifiedFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"?? data/tdd-mentor.db"}, status)
}
