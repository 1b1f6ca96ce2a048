// Package workspace implements the collaborators that touch the developer's
// project: file scanning, test insertion, test execution and version
// control.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ashureev/tdd-mentor/internal/domain"
)

// DefaultLanguage is reported when no known source file is found.
const DefaultLanguage = "javascript"

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".idea":        true,
	".vscode":      true,
}

var languages = map[string]string{
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".py":   "python",
	".java": "java",
	".cs":   "csharp",
	".go":   "go",
	".rb":   "ruby",
	".rs":   "rust",
}

// Scanner walks a workspace.
type Scanner struct {
	root string
}

// NewScanner returns a scanner rooted at root.
func NewScanner(root string) *Scanner {
	return &Scanner{root: root}
}

// Root returns the workspace root.
func (s *Scanner) Root() string { return s.root }

// Files lists regular files below the root as slash-separated relative
// paths, in lexical walk order.
func (s *Scanner) Files(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != s.root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	return files, nil
}

// ProjectStructure classifies the workspace files.
func (s *Scanner) ProjectStructure(ctx context.Context) (domain.ProjectStructure, error) {
	files, err := s.Files(ctx)
	if err != nil {
		return domain.ProjectStructure{}, err
	}

	out := domain.ProjectStructure{
		TestFiles:   []string{},
		SourceFiles: []string{},
	}
	var code []string
	for _, f := range files {
		if _, ok := languages[strings.ToLower(path.Ext(f))]; !ok {
			continue
		}
		code = append(code, f)
		if IsTestFile(f) {
			out.TestFiles = append(out.TestFiles, f)
		} else {
			out.SourceFiles = append(out.SourceFiles, f)
		}
	}
	out.HasTests = len(out.TestFiles) > 0
	out.Language = DetectLanguage(code)
	return out, nil
}

// IsTestFile reports whether a slash-separated relative path looks like a
// test.
func IsTestFile(rel string) bool {
	p := "/" + rel
	base := path.Base(p)
	return strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") ||
		strings.HasSuffix(base, "_test.go") ||
		(strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py")) ||
		strings.Contains(p, "/__tests__/") ||
		strings.Contains(p, "/test/") ||
		strings.Contains(p, "/tests/")
}

// DetectLanguage returns the language of the most common known extension.
// Ties go to the extension that sorts first.
func DetectLanguage(files []string) string {
	counts := make(map[string]int)
	for _, f := range files {
		if lang, ok := languages[strings.ToLower(path.Ext(f))]; ok {
			counts[lang]++
		}
	}
	if len(counts) == 0 {
		return DefaultLanguage
	}

	langs := make([]string, 0, len(counts))
	for l := range counts {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool {
		if counts[langs[i]] != counts[langs[j]] {
			return counts[langs[i]] > counts[langs[j]]
		}
		return langs[i] < langs[j]
	})
	return langs[0]
}
