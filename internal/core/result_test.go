package core

import "testing"

func TestThresholds_LevelFor(t *testing.T) {
	th := Thresholds{Warning: 0.3, High: 0.6, Critical: 0.8}

	tests := []struct {
		name  string
		score float64
		want  AlertLevel
	}{
		{"zero", 0.0, AlertLevelLow},
		{"just below warning", 0.29, AlertLevelLow},
		{"at warning", 0.3, AlertLevelMedium},
		{"mid band", 0.45, AlertLevelMedium},
		{"at high", 0.6, AlertLevelHigh},
		{"below critical", 0.79, AlertLevelHigh},
		{"at critical", 0.8, AlertLevelCritical},
		{"max", 1.0, AlertLevelCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := th.LevelFor(tt.score); got != tt.want {
				t.Errorf("LevelFor(%v) = %v, want %v", tt.score, got, tt.want)
			}
		})
	}
}

func TestThresholds_LevelForMonotonic(t *testing.T) {
	th := Thresholds{Warning: 0.3, High: 0.6, Critical: 0.8}

	prev := AlertLevelLow
	for score := 0.0; score <= 1.0; score += 0.01 {
		level := th.LevelFor(score)
		if level.Rank() < prev.Rank() {
			t.Fatalf("level rank decreased at score %v: %v after %v", score, level, prev)
		}
		prev = level
	}
}

func TestAlertLevel_Rank(t *testing.T) {
	levels := AlertLevels()
	for i := 1; i < len(levels); i++ {
		if levels[i].Rank() <= levels[i-1].Rank() {
			t.Errorf("rank of %v should exceed %v", levels[i], levels[i-1])
		}
	}
}

func TestClamp01(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0}, {0, 0}, {0.42, 0.42}, {1, 1}, {1.3, 1},
	}
	for _, tt := range tests {
		if got := Clamp01(tt.in); got != tt.want {
			t.Errorf("Clamp01(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAnalysisResult_Anonymized(t *testing.T) {
	res := AnalysisResult{
		SessionID: "s1",
		Demographics: Demographics{
			AgeBand:             "25-34",
			Gender:              "female",
			Ethnicity:           "hispanic",
			SocioeconomicStatus: "low",
		},
	}

	anon := res.Anonymized()
	if anon.Demographics.Ethnicity != RedactedPlaceholder {
		t.Errorf("ethnicity not redacted: %q", anon.Demographics.Ethnicity)
	}
	if anon.Demographics.SocioeconomicStatus != RedactedPlaceholder {
		t.Errorf("socioeconomic status not redacted: %q", anon.Demographics.SocioeconomicStatus)
	}
	if anon.Demographics.Gender != "female" || anon.Demographics.AgeBand != "25-34" {
		t.Error("non-sensitive fields must be preserved")
	}
	if res.Demographics.Ethnicity != "hispanic" {
		t.Error("original result must not be mutated")
	}
}

func TestIsValidLayer(t *testing.T) {
	for _, layer := range Layers() {
		if !IsValidLayer(string(layer)) {
			t.Errorf("IsValidLayer(%q) = false", layer)
		}
	}
	if IsValidLayer("sentiment") {
		t.Error("unknown layer accepted")
	}
}
