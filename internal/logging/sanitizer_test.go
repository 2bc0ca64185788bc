package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSanitizer_Redacts(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		name  string
		input string
		leak  string
	}{
		{
			name:  "bearer token",
			input: "auth failed: Bearer abcdefghijklmnopqrstuvwxyz123456",
			leak:  "abcdefghijklmnopqrstuvwxyz123456",
		},
		{
			name:  "api key",
			input: `upstream rejected api_key="sk_live_abcdefghijklmnop1234"`,
			leak:  "sk_live_abcdefghijklmnop1234",
		},
		{
			name:  "email",
			input: "participant contact participant@example.org in notes",
			leak:  "participant@example.org",
		},
		{
			name:  "ssn",
			input: "found identifier 123-45-6789 in content",
			leak:  "123-45-6789",
		},
		{
			name:  "phone number",
			input: "callback requested at (555) 867-5309 tomorrow",
			leak:  "867-5309",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := s.Sanitize(tt.input)
			if strings.Contains(out, tt.leak) {
				t.Errorf("Sanitize(%q) leaked %q: %q", tt.input, tt.leak, out)
			}
			if !strings.Contains(out, "[REDACTED]") {
				t.Errorf("Sanitize(%q) = %q, expected redaction marker", tt.input, out)
			}
		})
	}
}

func TestSanitizer_PlainTextUntouched(t *testing.T) {
	s := NewSanitizer()
	in := "session analyzed with score 0.42 at level medium"
	if out := s.Sanitize(in); out != in {
		t.Errorf("Sanitize(%q) = %q, want unchanged", in, out)
	}
}

func TestSanitizer_CustomPattern(t *testing.T) {
	s := NewSanitizer()
	if err := s.AddPattern(`MRN-\d{6}`); err != nil {
		t.Fatal(err)
	}

	out := s.Sanitize("medical record MRN-123456 referenced")
	if strings.Contains(out, "MRN-123456") {
		t.Errorf("custom pattern not applied: %q", out)
	}
}

func TestSanitizer_InvalidPattern(t *testing.T) {
	s := NewSanitizer()
	if err := s.AddPattern(`([unclosed`); err == nil {
		t.Error("invalid pattern accepted")
	}
}

func TestLogger_SanitizesOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.Info("request rejected", "detail", "Bearer abcdefghijklmnopqrstuvwxyz123456")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if detail, _ := entry["detail"].(string); strings.Contains(detail, "abcdefghijklmnop") {
		t.Errorf("token leaked into log output: %q", detail)
	}
}

func TestLogger_WithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.WithComponent("engine").WithSession("s1").Info("analyzed")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["component"] != "engine" || entry["session_id"] != "s1" {
		t.Errorf("missing context fields: %v", entry)
	}
}
