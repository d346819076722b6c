package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// RepairJSON applies best-effort cleanup to model output that should be
// JSON: trims whitespace, strips markdown code fences, and as a last
// resort slices to the outermost braces. Returns the candidate and whether
// it parses.
func RepairJSON(content string) (string, bool) {
	s := strings.TrimSpace(content)
	s = stripFences(s)

	if gjson.Valid(s) {
		return s, true
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		candidate := s[start : end+1]
		if gjson.Valid(candidate) {
			return candidate, true
		}
	}

	return s, false
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx != -1 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// WrapOutput validates completion content against the kind's output
// contract and returns the response data payload.
func (d *Definition) WrapOutput(content string) (json.RawMessage, error) {
	switch d.Kind {
	case KindGeneration:
		text := strings.TrimSpace(content)
		if text == "" {
			return nil, fmt.Errorf("%w: blank completion", ErrOutputContract)
		}
		data, err := json.Marshal(map[string]string{"text": text})
		if err != nil {
			return nil, fmt.Errorf("encoding output: %w", err)
		}
		return data, nil

	case KindExtraction:
		repaired, ok := RepairJSON(content)
		if !ok {
			return nil, fmt.Errorf("%w: not valid JSON after repair", ErrOutputContract)
		}
		if !strings.HasPrefix(strings.TrimSpace(repaired), "{") {
			return nil, fmt.Errorf("%w: expected a JSON object", ErrOutputContract)
		}
		for _, field := range d.Output.RequiredFields {
			if !gjson.Get(repaired, field).Exists() {
				return nil, fmt.Errorf("%w: missing required field %q", ErrOutputContract, field)
			}
		}
		return json.RawMessage(repaired), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrKindUnsupported, d.Kind)
	}
}
