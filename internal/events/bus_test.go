package events

import (
	"testing"
	"time"

	"github.com/pixelated-empathy/bias-engine/internal/core"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(8)
	defer b.Close()

	ch := b.Subscribe()
	b.Publish(NewAnalysisCompleted(core.AnalysisResult{SessionID: "s1"}, 12))

	events := drain(ch)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	completed, ok := events[0].(AnalysisCompletedEvent)
	if !ok {
		t.Fatalf("unexpected event type %T", events[0])
	}
	if completed.SessionID != "s1" || completed.ProcessingMs != 12 {
		t.Errorf("unexpected event payload: %+v", completed)
	}
}

func TestBus_TypeFilter(t *testing.T) {
	b := New(8)
	defer b.Close()

	ch := b.Subscribe(TypeAlertCreated)
	b.Publish(NewAnalysisCompleted(core.AnalysisResult{SessionID: "s1"}, 1))
	b.Publish(NewAlertEvent(TypeAlertCreated, "a1", "s1", core.AlertLevelHigh, 0.7))

	events := drain(ch)
	if len(events) != 1 {
		t.Fatalf("got %d events, want only the alert", len(events))
	}
	if events[0].EventType() != TypeAlertCreated {
		t.Errorf("got %s, want %s", events[0].EventType(), TypeAlertCreated)
	}
}

func TestBus_DropsOldestWhenFull(t *testing.T) {
	b := New(2)
	defer b.Close()

	ch := b.Subscribe()
	for i := 0; i < 5; i++ {
		b.Publish(NewMonitoringTick("healthy", nil))
	}

	if got := len(drain(ch)); got != 2 {
		t.Errorf("buffered %d events, want 2", got)
	}
	if b.DroppedCount() == 0 {
		t.Error("dropped count not incremented")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(8)
	defer b.Close()

	ch := b.Subscribe()
	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(NewMonitoringTick("healthy", nil))
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	b := New(8)
	ch := b.Subscribe()

	b.Close()
	b.Close()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after bus close")
	}

	b.Publish(NewMonitoringTick("healthy", nil)) // no panic
}
