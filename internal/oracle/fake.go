package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// FakeClient returns deterministic canned output keyed by Options.Stage.
// It backs the offline mode and demos; it never fails.
type FakeClient struct{}

// NewFakeClient returns an offline oracle.
func NewFakeClient() *FakeClient { return &FakeClient{} }

// Send returns canned output for the request stage.
func (f *FakeClient) Send(_ context.Context, _ string, opts Options) (json.RawMessage, error) {
	kind, step, _ := strings.Cut(opts.Stage, ".")
	if step == "select" {
		return selectFirst(opts.ExtraContext)
	}

	var items []map[string]any
	for i := 1; i <= 10; i++ {
		switch kind {
		case "user_stories":
			items = append(items, map[string]any{
				"id":          fmt.Sprintf("story-%d", i),
				"title":       fmt.Sprintf("Sample story %d", i),
				"description": "As a user I want a sample feature so that the workflow can be exercised offline.",
			})
		case "test_proposals":
			items = append(items, map[string]any{
				"id":          fmt.Sprintf("test-%d", i),
				"title":       fmt.Sprintf("Sample test %d", i),
				"description": "Checks the sample feature.",
				"code":        fmt.Sprintf("test('sample %d', () => {\n  expect(sample(%d)).toBe(%d);\n});", i, i, i),
				"targetFile":  "sample.test.js",
			})
		case "refactoring_suggestions":
			items = append(items, map[string]any{
				"id":          fmt.Sprintf("refactor-%d", i),
				"title":       fmt.Sprintf("Sample refactoring %d", i),
				"description": "Extract the duplicated logic into a helper.",
			})
		default:
			return textMessage("What does the failing assertion tell you about the missing behaviour?"), nil
		}
	}
	return json.Marshal(map[string]any{"items": items})
}

func selectFirst(extra map[string]any) (json.RawMessage, error) {
	raw, err := json.Marshal(extra["items"])
	if err != nil {
		return nil, fmt.Errorf("fake oracle: %w", err)
	}
	var items []json.RawMessage
	_ = json.Unmarshal(raw, &items)
	if len(items) > 3 {
		items = items[:3]
	}
	return json.Marshal(map[string]any{"items": items})
}
