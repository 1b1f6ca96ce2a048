package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidTarget is returned for target names that are not plain file
// names.
var ErrInvalidTarget = errors.New("invalid target file")

// DefaultTestDir is where new test files are created.
const DefaultTestDir = "tests"

// FileInserter appends confirmed tests to files in the workspace.
type FileInserter struct {
	scanner *Scanner
	testDir string
}

// NewFileInserter returns an inserter for the workspace at root.
func NewFileInserter(root string) *FileInserter {
	return &FileInserter{scanner: NewScanner(root), testDir: DefaultTestDir}
}

// Insert appends code to the first workspace file named targetFile, or to
// tests/<targetFile> when none exists. It returns the path written.
func (f *FileInserter) Insert(ctx context.Context, code, targetFile string) (string, error) {
	if targetFile == "" || targetFile == "." || targetFile == ".." || strings.ContainsAny(targetFile, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, targetFile)
	}

	files, err := f.scanner.Files(ctx)
	if err != nil {
		return "", err
	}

	rel := path.Join(f.testDir, targetFile)
	for _, candidate := range files {
		if path.Base(candidate) == targetFile {
			rel = candidate
			break
		}
	}

	abs := filepath.Join(f.scanner.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create test directory: %w", err)
	}

	fh, err := os.OpenFile(abs, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", rel, err)
	}
	if _, err := fh.WriteString("\n" + code + "\n"); err != nil {
		_ = fh.Close()
		return "", fmt.Errorf("append to %s: %w", rel, err)
	}
	if err := fh.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", rel, err)
	}
	return rel, nil
}
