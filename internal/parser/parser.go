// Package parser turns free-form generator output into structured values.
//
// Generators are asked for JSON but regularly wrap it in code fences, surround it
// with prose, or emit small syntax defects. Parse tolerates all of these and, when
// it cannot recover, classifies the failure so callers can choose between retry,
// fallback and propagation.
package parser

import (
	"encoding/json"
	"strings"
)

const (
	jsonFence    = "```json"
	genericFence = "```"
)

// Parse converts generator output into a structured value.
//
// Values that are already structured (anything other than string, []byte or
// json.RawMessage) are returned unchanged. Text is unwrapped from code fences,
// decoded strictly, and on failure repaired once before a second strict decode.
// Every failure is reported as a *ParseError.
func Parse(v any) (any, error) {
	var text string
	switch t := v.(type) {
	case nil:
		return nil, newEmptyError()
	case string:
		text = t
	case []byte:
		text = string(t)
	case json.RawMessage:
		text = string(t)
	default:
		return v, nil
	}

	if strings.TrimSpace(text) == "" {
		return nil, newEmptyError()
	}

	candidate := ExtractCandidate(text)
	if strings.TrimSpace(candidate) == "" {
		return nil, newEmptyError()
	}

	var out any
	err := json.Unmarshal([]byte(candidate), &out)
	if err == nil {
		return out, nil
	}

	repaired := Repair(candidate)
	if repaired != candidate {
		var second any
		if err2 := json.Unmarshal([]byte(repaired), &second); err2 == nil {
			return second, nil
		}
	}

	return nil, newParseError(err, candidate)
}

// ParseObject parses generator output that must decode to a JSON object.
func ParseObject(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	out, err := Parse(v)
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, &ParseError{
			Kind:  KindMalformed,
			Cause: errNotObject,
		}
	}
	return m, nil
}

// ParseText extracts a formatted-text payload (markdown or plain text). A
// surrounding code fence is removed; anything else is kept verbatim.
func ParseText(v any) (string, error) {
	var text string
	switch t := v.(type) {
	case nil:
		return "", newEmptyError()
	case string:
		text = t
	case []byte:
		text = string(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", &ParseError{Kind: KindMalformed, Cause: err}
		}
		text = string(b)
	}

	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, genericFence) {
		text = strings.TrimSpace(interiorOfFence(text))
	}
	if text == "" {
		return "", newEmptyError()
	}
	return text, nil
}

// ExtractCandidate returns the part of text most likely to hold the structured
// payload: the interior of a ```json fence (closed or not), else the interior of a
// generic fence wrapping the text, else the text itself.
func ExtractCandidate(text string) string {
	if start := indexJSONFence(text); start >= 0 {
		rest := text[start+len(jsonFence):]
		if end := strings.Index(rest, genericFence); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		rest = strings.TrimSpace(rest)
		rest = strings.TrimSuffix(rest, genericFence)
		return strings.TrimSpace(rest)
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, genericFence) {
		return strings.TrimSpace(interiorOfFence(trimmed))
	}

	return trimmed
}

// indexJSONFence finds the opening ```json marker regardless of label case.
func indexJSONFence(text string) int {
	idx := -1
	for _, marker := range []string{jsonFence, "```JSON", "```Json"} {
		if i := strings.Index(text, marker); i >= 0 && (idx < 0 || i < idx) {
			idx = i
		}
	}
	return idx
}

// interiorOfFence drops the first line (the opening fence and any label) and
// everything from the last fence line onwards.
func interiorOfFence(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) == 1 {
		inner := strings.TrimPrefix(lines[0], genericFence)
		return strings.TrimSuffix(inner, genericFence)
	}

	last := -1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), genericFence) {
			last = i
			break
		}
	}
	if last < 0 {
		return strings.Join(lines[1:], "\n")
	}
	return strings.Join(lines[1:last], "\n")
}
