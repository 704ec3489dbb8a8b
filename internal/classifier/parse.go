package classifier

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports model output that could not be decoded as the expected JSON.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("parse model output: %v (output: %q)", e.Err, raw)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseModelJSON decodes model output into T. Markdown code fences are stripped and the
// text is trimmed to the outermost JSON object or array before decoding.
func ParseModelJSON[T any](text string) (T, error) {
	var out T
	cleaned := extractJSON(text)
	if cleaned == "" {
		return out, &ParseError{Raw: text, Err: fmt.Errorf("no JSON value found")}
	}
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return out, &ParseError{Raw: text, Err: err}
	}
	return out, nil
}

func extractJSON(text string) string {
	cleaned := text
	if _, after, ok := strings.Cut(cleaned, "```json"); ok {
		cleaned, _, _ = strings.Cut(after, "```")
	} else if _, after, ok := strings.Cut(cleaned, "```"); ok {
		cleaned, _, _ = strings.Cut(after, "```")
	}
	cleaned = strings.TrimSpace(cleaned)

	start := strings.IndexAny(cleaned, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if cleaned[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(cleaned, closer)
	if end < start {
		return ""
	}
	return cleaned[start : end+1]
}
