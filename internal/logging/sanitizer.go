package logging

import (
	"regexp"
)

// Sanitizer redacts credentials and protected health information from log
// output. Session free text is never logged directly, but identifiers and
// upstream error messages may embed sensitive values.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// Bearer tokens
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// JWTs
		`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`,
		// Generic API keys
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		// Generic secrets
		`(?i)secret["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		// Generic passwords
		`(?i)password["'\s:=]+[^\s"']{8,}`,
		// Generic tokens
		`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		// Email addresses (participant contact data)
		`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
		// US SSN-shaped identifiers
		`\b\d{3}-\d{2}-\d{4}\b`,
		// Phone numbers
		`\b\+?\d{1,2}[\s.-]?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}

// SetRedactedPlaceholder sets the placeholder text for redacted content.
func (s *Sanitizer) SetRedactedPlaceholder(placeholder string) {
	s.redacted = placeholder
}
