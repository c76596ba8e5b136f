package summarization

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/notezilla/apiserver/types"
)

var (
	// ErrEmptyResponse is returned when the model produced no content.
	ErrEmptyResponse = errors.New("summarization service returned an empty response")
	// ErrNoJSON is returned when no JSON object could be recovered from the
	// model output.
	ErrNoJSON = errors.New("summarization service did not return valid JSON")
)

var fencedBlock = regexp.MustCompile("(?is)```(?:json)?[ \\t]*\\r?\\n?(.*?)```")

// ExtractJSON recovers the JSON object embedded in raw model output. It
// tries, in order: the whole text, the first fenced code block, and each
// brace-balanced {...} span until one parses. Only objects are accepted.
func ExtractJSON(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrEmptyResponse
	}

	if isObject(text) {
		return text, nil
	}

	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		inner := strings.TrimSpace(m[1])
		if isObject(inner) {
			return inner, nil
		}
	}

	for from := 0; from < len(text); {
		span, start, found := nextObject(text, from)
		if !found {
			break
		}
		if span != "" && isObject(span) {
			return span, nil
		}
		from = start + 1
	}

	return "", ErrNoJSON
}

func isObject(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed))
}

// ParseSummary extracts and decodes the notes document from raw model
// output.
func ParseSummary(raw string) (types.Summary, error) {
	text, err := ExtractJSON(raw)
	if err != nil {
		return types.Summary{}, err
	}

	var summary types.Summary
	if err := json.Unmarshal([]byte(text), &summary); err != nil {
		return types.Summary{}, ErrNoJSON
	}
	if summary.Sections == nil {
		summary.Sections = []types.SummarySection{}
	}
	for i := range summary.Sections {
		if summary.Sections[i].Points == nil {
			summary.Sections[i].Points = []string{}
		}
	}
	return summary, nil
}

// nextObject looks for the first '{' at or after from and returns its offset
// and the brace-balanced span it opens, ignoring braces inside JSON strings.
// The span is empty when the braces never balance; found is false when there
// is no '{' left.
func nextObject(text string, from int) (string, int, bool) {
	offset := strings.IndexByte(text[from:], '{')
	if offset < 0 {
		return "", 0, false
	}
	start := from + offset

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], start, true
			}
		}
	}
	return "", start, true
}
