package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestIsTestFile(t *testing.T) {
	cases := map[string]bool{
		"src/app.test.js":          true,
		"src/app.spec.ts":          true,
		"pkg/server_test.go":       true,
		"test_models.py":           true,
		"src/__tests__/app.js":     true,
		"test/app.js":              true,
		"tests/app.js":             true,
		"src/app.js":               false,
		"src/testing/helpers.go":   false,
		"src/contest/entry.ts":     false,
		"docs/test_plan.md.backup": false,
	}
	for path, want := range cases {
		assert.Equal(t, want, IsTestFile(path), path)
	}
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, DefaultLanguage, DetectLanguage(nil))
	assert.Equal(t, DefaultLanguage, DetectLanguage([]string{"README.md"}))
	assert.Equal(t, "go", DetectLanguage([]string{"a.go", "b.go", "c.js"}))
	assert.Equal(t, "typescript", DetectLanguage([]string{"a.ts", "b.tsx", "c.js"}))
	// Ties break alphabetically.
	assert.Equal(t, "javascript", DetectLanguage([]string{"a.py", "b.js"}))
}

func TestScannerProjectStructure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/calc.js", "module.exports = {}")
	writeFile(t, root, "src/util.js", "")
	writeFile(t, root, "tests/calc.test.js", "")
	writeFile(t, root, "node_modules/lib/index.js", "")
	writeFile(t, root, ".git/config", "")
	writeFile(t, root, "README.md", "")

	got, err := NewScanner(root).ProjectStructure(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "javascript", got.Language)
	assert.True(t, got.HasTests)
	assert.Equal(t, []string{"tests/calc.test.js"}, got.TestFiles)
	assert.Equal(t, []string{"src/calc.js", "src/util.js"}, got.SourceFiles)
}

func TestScannerEmptyWorkspace(t *testing.T) {
	got, err := NewScanner(t.TempDir()).ProjectStructure(context.Background())
	require.NoError(t, err)
	assert.False(t, got.HasTests)
	assert.Equal(t, DefaultLanguage, got.Language)
	assert.NotNil(t, got.TestFiles)
	assert.NotNil(t, got.SourceFiles)
}

func TestScannerMissingRoot(t *testing.T) {
	_, err := NewScanner(filepath.Join(t.TempDir(), "missing")).ProjectStructure(context.Background())
	assert.Error(t, err)
}

func TestScannerCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.js", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScanner(root).Files(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
