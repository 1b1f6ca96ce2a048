package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// RepairJSON turns model output into valid JSON. Markdown code fences and
// leading prose are stripped before falling back to jsonrepair.
func RepairJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if json.Valid([]byte(s)) {
		return s, nil
	}

	s = stripFences(s)
	if json.Valid([]byte(s)) {
		return s, nil
	}

	if i := strings.IndexAny(s, "{["); i > 0 {
		s = s[i:]
		if json.Valid([]byte(s)) {
			return s, nil
		}
	}

	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return "", fmt.Errorf("repair json: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return "", fmt.Errorf("repair json: output still invalid")
	}
	return repaired, nil
}

func stripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// drop the language tag line
		body = body[nl+1:]
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// textMessage encodes plain text as a JSON string.
func textMessage(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
