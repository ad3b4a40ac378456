// Package llmutil recovers structured data from free-form model output.
package llmutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// maxRawLength bounds the raw text kept on a ParseFailure.
const maxRawLength = 1000

// ParseFailure describes text no strategy could parse.
type ParseFailure struct {
	Error           string `json:"error"`
	RawResponse     string `json:"raw_response"`
	Reason          string `json:"reason"`
	ParsingAttempts int    `json:"parsing_attempts"`
}

// ParseResult is either a parsed JSON object/array (Value) or a Failure.
type ParseResult struct {
	Value     any               `json:"value,omitempty"`
	Strategy  string            `json:"strategy,omitempty"`
	Variants  VariantCollection `json:"variants"`
	Questions []string          `json:"questions,omitempty"`
	Failure   *ParseFailure     `json:"failure,omitempty"`
}

// OK reports whether parsing succeeded.
func (r ParseResult) OK() bool { return r.Failure == nil }

// Object returns the value as a JSON object, if it is one.
func (r ParseResult) Object() (map[string]any, bool) {
	m, ok := r.Value.(map[string]any)
	return m, ok
}

var (
	fencePatterns = []*regexp.Regexp{
		regexp.MustCompile("(?s)^```(?:json|javascript)?\\s*\\n?(.*?)\\n?\\s*```$"),
		regexp.MustCompile("(?s)^`{3,}(?:json|javascript)?\\s*\\n?(.*?)\\n?\\s*`{3,}$"),
		regexp.MustCompile("(?s)^`(.*?)`$"),
	}
	leadingBlockComment = regexp.MustCompile(`(?s)^\s*/\*.*?\*/\s*`)
	lineComment         = regexp.MustCompile(`(?m)^\s*//.*$`)
	labelledJSON        = regexp.MustCompile(`(?s)(?:response|result|output):\s*(\{.*?\})`)
	quotedObject        = regexp.MustCompile(`(?s)(\{[^}]+(?:"[^"]*"[^}]*)*\})`)
)

type strategy struct {
	name string
	fn   func(cleaned string) (any, error)
}

var strategies = []strategy{
	{"direct", parseDirect},
	{"balanced_object", parseBalancedObject},
	{"labelled", parseLabelled},
}

// Parse recovers a JSON object or array from raw. It never panics and never
// returns an error: callers branch on ParseResult.OK.
func Parse(raw string) ParseResult {
	if strings.TrimSpace(raw) == "" {
		return failure(raw, "invalid input: expected non-empty string", 0)
	}

	cleaned := Clean(raw)
	var lastErr error
	for _, s := range strategies {
		v, err := s.fn(cleaned)
		if err != nil {
			lastErr = err
			continue
		}
		v = assignVariantIDs(v, time.Now())
		return ParseResult{
			Value:     v,
			Strategy:  s.name,
			Variants:  ResolveVariants(v),
			Questions: ResolveQuestions(v),
		}
	}
	return failure(raw, lastErr.Error(), len(strategies))
}

func failure(raw, reason string, attempts int) ParseResult {
	return ParseResult{Failure: &ParseFailure{
		Error:           "failed to parse JSON response",
		RawResponse:     truncate(raw, maxRawLength),
		Reason:          reason,
		ParsingAttempts: attempts,
	}}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Clean strips one enclosing code fence, leading comments and trailing
// commas before closing braces and brackets.
func Clean(raw string) string {
	cleaned := strings.TrimSpace(raw)
	for _, p := range fencePatterns {
		if m := p.FindStringSubmatch(cleaned); m != nil && m[1] != "" {
			cleaned = strings.TrimSpace(m[1])
			break
		}
	}
	cleaned = leadingBlockComment.ReplaceAllString(cleaned, "")
	cleaned = lineComment.ReplaceAllString(cleaned, "")
	cleaned = stripTrailingCommas(cleaned)
	return strings.TrimSpace(cleaned)
}

// stripTrailingCommas drops commas followed only by whitespace and a closing
// brace or bracket. Text inside JSON strings is left alone.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			b.WriteByte(ch)
			continue
		}
		switch ch {
		case '"':
			inString = true
		case ',':
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// decodeStructured unmarshals s and accepts only objects and arrays.
func decodeStructured(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	default:
		return nil, fmt.Errorf("expected a JSON object or array, got %T", v)
	}
}

func parseDirect(cleaned string) (any, error) {
	return decodeStructured(cleaned)
}

func parseBalancedObject(cleaned string) (any, error) {
	obj, err := ExtractObject(cleaned)
	if err != nil {
		return nil, err
	}
	return decodeStructured(obj)
}

func parseLabelled(cleaned string) (any, error) {
	for _, p := range []*regexp.Regexp{labelledJSON, quotedObject} {
		if m := p.FindStringSubmatch(cleaned); m != nil {
			if v, err := decodeStructured(m[1]); err == nil {
				return v, nil
			}
		}
	}
	return nil, errors.New("no labelled JSON object found")
}

// ExtractObject returns the first balanced {...} substring of text. Braces
// inside JSON strings are ignored and "{{" template pairs are skipped when
// looking for the opening brace.
func ExtractObject(text string) (string, error) {
	content, err := StripMarkdownJSON(text)
	if err != nil {
		return "", err
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(content); i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[:i+1], nil
			}
		}
	}
	return "", errors.New("unbalanced JSON object")
}

// StripMarkdownJSON extracts JSON from an LLM response that may contain
// markdown code fences or leading text. It trims whitespace, strips ```json
// and ``` fences, and finds the first '{' to start parsing from.
// Returns an error if no '{' is found in the text.
func StripMarkdownJSON(text string) (string, error) {
	content := strings.TrimSpace(text)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	// Find the first '{' that isn't part of '{{' (template syntax).
	start := -1
	for i := 0; i < len(content); i++ {
		if content[i] == '{' {
			if i+1 < len(content) && content[i+1] == '{' {
				i++
				continue
			}
			start = i
			break
		}
	}

	if start < 0 {
		return "", fmt.Errorf("no JSON object found in text")
	}

	return content[start:], nil
}
