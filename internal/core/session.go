package core

import (
	"time"

	"github.com/google/uuid"
)

// Demographics describes the participant of a training session.
// Ethnicity and socioeconomic status are treated as sensitive fields
// and are redacted when anonymized output is requested.
type Demographics struct {
	AgeBand             string `json:"age_band"`
	Gender              string `json:"gender"`
	Ethnicity           string `json:"ethnicity"`
	PrimaryLanguage     string `json:"primary_language"`
	SocioeconomicStatus string `json:"socioeconomic_status,omitempty"`
	Education           string `json:"education,omitempty"`
	Region              string `json:"region,omitempty"`
}

// Scenario describes the training scenario a session exercised.
type Scenario struct {
	Type               string   `json:"type"`
	Complexity         string   `json:"complexity"`
	Tags               []string `json:"tags,omitempty"`
	LearningObjectives []string `json:"learning_objectives,omitempty"`
}

// SessionContent holds the free-text material of a session.
type SessionContent struct {
	Presentation  string   `json:"patient_presentation"`
	Interventions []string `json:"therapeutic_interventions,omitempty"`
	Responses     []string `json:"client_responses,omitempty"`
	Notes         string   `json:"session_notes,omitempty"`
}

// Session is a therapeutic training session submitted for bias analysis.
// Sessions are immutable once submitted.
type Session struct {
	ID           string            `json:"session_id"`
	Timestamp    time.Time         `json:"timestamp"`
	Demographics Demographics      `json:"participant_demographics"`
	Scenario     Scenario          `json:"training_scenario"`
	Content      SessionContent    `json:"content"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Enumerated demographic and scenario values accepted at validation.
var (
	ValidAgeBands = []string{"18-24", "25-34", "35-44", "45-54", "55-64", "65+"}

	ValidGenders = []string{"female", "male", "non-binary", "prefer-not-to-say", "other"}

	ValidComplexities = []string{"beginner", "intermediate", "advanced", "expert"}
)

func contains(values []string, v string) bool {
	for _, val := range values {
		if val == v {
			return true
		}
	}
	return false
}

// MaxSessionContentBytes caps the free-text payload of a session (50 MB).
const MaxSessionContentBytes = 50 << 20

// Validate checks required fields, identifier format and enum membership.
// All problems are reported, not just the first.
func (s *Session) Validate() error {
	var errs []string

	if s.ID == "" {
		errs = append(errs, "session_id is required")
	} else if _, err := uuid.Parse(s.ID); err != nil {
		errs = append(errs, "Session ID must be a valid UUID")
	}

	if s.Timestamp.IsZero() {
		errs = append(errs, "timestamp is required")
	}

	if s.Demographics.AgeBand == "" {
		errs = append(errs, "participant_demographics.age_band is required")
	} else if !contains(ValidAgeBands, s.Demographics.AgeBand) {
		errs = append(errs, "participant_demographics.age_band must be one of the supported bands")
	}

	if s.Demographics.Gender == "" {
		errs = append(errs, "participant_demographics.gender is required")
	} else if !contains(ValidGenders, s.Demographics.Gender) {
		errs = append(errs, "participant_demographics.gender must be one of the supported values")
	}

	if s.Scenario.Type == "" {
		errs = append(errs, "training_scenario.type is required")
	}
	if s.Scenario.Complexity != "" && !contains(ValidComplexities, s.Scenario.Complexity) {
		errs = append(errs, "training_scenario.complexity must be one of: beginner, intermediate, advanced, expert")
	}

	if s.contentSize() > MaxSessionContentBytes {
		errs = append(errs, "session content exceeds maximum size")
	}

	if len(errs) > 0 {
		e := ErrValidation(CodeInvalidSession, errs[0])
		e.Details = map[string]interface{}{"validation_errors": errs}
		return e
	}
	return nil
}

func (s *Session) contentSize() int {
	n := len(s.Content.Presentation) + len(s.Content.Notes)
	for _, v := range s.Content.Interventions {
		n += len(v)
	}
	for _, v := range s.Content.Responses {
		n += len(v)
	}
	return n
}

// Anonymized returns a copy with sensitive demographic fields masked.
// Non-sensitive fields are preserved for aggregate reporting.
func (d Demographics) Anonymized() Demographics {
	out := d
	if out.Ethnicity != "" {
		out.Ethnicity = RedactedPlaceholder
	}
	if out.SocioeconomicStatus != "" {
		out.SocioeconomicStatus = RedactedPlaceholder
	}
	return out
}

// RedactedPlaceholder replaces sensitive demographic values in anonymized output.
const RedactedPlaceholder = "[redacted]"
