package model

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MinInputLength = 5
	MaxInputLength = 100_000
)

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:hack|exploit|bypass|jailbreak|prompt.?injection)`),
	regexp.MustCompile(`(?i)ignore.{0,30}(?:instructions|rules|guidelines)`),
	regexp.MustCompile(`(?i)forget.{0,30}(?:instructions|rules|guidelines)`),
	regexp.MustCompile(`(?i)(?:pretend|act.as|roleplay).{0,20}(?:admin|root|system)`),
	regexp.MustCompile(`(?is)<script[\s\S]*?>[\s\S]*?</script>`),
	regexp.MustCompile(`(?i)javascript:|vbscript:|data:[a-z]+/[a-z0-9.+-]+`),
}

// ValidateInput trims input and rejects empty, too short, too long, and
// injection-looking text with an ErrValidation error.
func ValidateInput(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", validationError("input must be a non-empty string")
	}
	n := utf8.RuneCountInString(trimmed)
	if n < MinInputLength {
		return "", validationError("input must be at least 5 characters long")
	}
	if n > MaxInputLength {
		return "", validationError("input too long: maximum 100,000 characters allowed")
	}
	for _, p := range suspiciousPatterns {
		if p.MatchString(trimmed) {
			return "", validationError("input contains potentially harmful content and cannot be processed")
		}
	}
	return trimmed, nil
}
