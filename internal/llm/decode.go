package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOutput marks a model response that is not the JSON the prompt asked for.
var ErrInvalidOutput = errors.New("model output invalid")

// Decode parses a JSON model response into T. Markdown code fences around the
// payload are tolerated.
func Decode[T any](text string) (T, error) {
	var out T
	payload := stripFence(text)
	if payload == "" {
		return out, fmt.Errorf("%w: empty response", ErrInvalidOutput)
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return out, nil
}

// DecodeOr is the parse-or-default combinator: it never fails, and reports
// whether the parsed value was used.
func DecodeOr[T any](text string, fallback T) (T, bool) {
	out, err := Decode[T](text)
	if err != nil {
		return fallback, false
	}
	return out, true
}

func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		trimmed = trimmed[newline+1:]
	} else {
		return ""
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
