package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixelated-empathy/bias-engine/internal/core"
	"github.com/pixelated-empathy/bias-engine/internal/events"
	"github.com/pixelated-empathy/bias-engine/internal/logging"
)

// Alert is an actionable notification raised for a session whose bias
// score crossed the warning threshold.
type Alert struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Level      core.AlertLevel `json:"level"`
	Score      float64         `json:"score"`
	Message    string          `json:"message"`
	CreatedAt  time.Time       `json:"created_at"`
	LastSeenAt time.Time       `json:"last_seen_at"`
	Resolved   bool            `json:"resolved"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// System deduplicates and tracks alerts. Repeated findings for the same
// session within the cooldown window update the existing alert instead
// of creating a new one; a higher level always escalates immediately.
type System struct {
	logger   *logging.Logger
	bus      *events.Bus
	cooldown time.Duration
	expiry   time.Duration

	mu     sync.Mutex
	active map[string]*Alert // keyed by session ID
	byID   map[string]*Alert

	now func() time.Time
}

// Option configures the alert system.
type Option func(*System)

// WithCooldown sets the dedup window for repeated alerts on one session.
func WithCooldown(d time.Duration) Option {
	return func(s *System) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithExpiry sets how long an untouched unresolved alert stays active.
func WithExpiry(d time.Duration) Option {
	return func(s *System) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// NewSystem creates an alert system publishing lifecycle events on bus.
func NewSystem(logger *logging.Logger, bus *events.Bus, opts ...Option) *System {
	s := &System{
		logger:   logger.WithComponent("alerts"),
		bus:      bus,
		cooldown: 15 * time.Minute,
		expiry:   24 * time.Hour,
		active:   make(map[string]*Alert),
		byID:     make(map[string]*Alert),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check inspects an analysis result and raises, escalates or refreshes
// an alert as needed. Low results never alert. The returned alert is a
// copy; nil means no alert action was taken.
func (s *System) Check(result core.AnalysisResult) *Alert {
	if result.AlertLevel.Rank() < core.AlertLevelMedium.Rank() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	existing, ok := s.active[result.SessionID]
	if ok && !existing.Resolved {
		if result.AlertLevel.Rank() > existing.Level.Rank() {
			existing.Level = result.AlertLevel
			existing.Score = result.OverallBiasScore
			existing.Message = alertMessage(result)
			existing.LastSeenAt = now
			s.publish(events.TypeAlertEscalated, existing)
			s.logger.Warn("alert escalated",
				"alert_id", existing.ID,
				"session_id", existing.SessionID,
				"level", existing.Level)
			out := *existing
			return &out
		}
		if now.Sub(existing.LastSeenAt) < s.cooldown {
			// Same or lower severity inside the cooldown: bump, no event.
			existing.LastSeenAt = now
			if result.OverallBiasScore > existing.Score {
				existing.Score = result.OverallBiasScore
			}
			out := *existing
			return &out
		}
	}

	alert := &Alert{
		ID:         uuid.NewString(),
		SessionID:  result.SessionID,
		Level:      result.AlertLevel,
		Score:      result.OverallBiasScore,
		Message:    alertMessage(result),
		CreatedAt:  now,
		LastSeenAt: now,
	}
	s.active[alert.SessionID] = alert
	s.byID[alert.ID] = alert
	s.publish(events.TypeAlertCreated, alert)
	s.logger.Warn("alert created",
		"alert_id", alert.ID,
		"session_id", alert.SessionID,
		"level", alert.Level,
		"score", alert.Score)

	out := *alert
	return &out
}

// Active returns unresolved, unexpired alerts, newest first.
func (s *System) Active() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(s.now())

	out := make([]Alert, 0, len(s.active))
	for _, a := range s.active {
		if !a.Resolved {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Get returns an alert by ID, including resolved ones still retained.
func (s *System) Get(id string) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, core.ErrNotFound("alert", id)
	}
	out := *a
	return &out, nil
}

// Resolve marks an alert as handled. Resolving an already resolved
// alert is a no-op; an unknown ID is a NotFound error.
func (s *System) Resolve(id string) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, core.ErrNotFound("alert", id)
	}
	if !a.Resolved {
		now := s.now()
		a.Resolved = true
		a.ResolvedAt = &now
		delete(s.active, a.SessionID)
		s.publish(events.TypeAlertResolved, a)
		s.logger.Info("alert resolved", "alert_id", a.ID, "session_id", a.SessionID)
	}
	out := *a
	return &out, nil
}

// sweepLocked drops alerts that have gone stale. Caller holds mu.
func (s *System) sweepLocked(now time.Time) {
	for sessionID, a := range s.active {
		if !a.Resolved && now.Sub(a.LastSeenAt) >= s.expiry {
			delete(s.active, sessionID)
			delete(s.byID, a.ID)
			s.logger.Debug("alert expired", "alert_id", a.ID, "session_id", sessionID)
		}
	}
}

func (s *System) publish(eventType string, a *Alert) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewAlertEvent(eventType, a.ID, a.SessionID, a.Level, a.Score))
}

func alertMessage(result core.AnalysisResult) string {
	msg := fmt.Sprintf("bias level %s detected (score %.2f)", result.AlertLevel, result.OverallBiasScore)
	if result.Partial {
		msg += ", based on a partial analysis"
	}
	return msg
}
