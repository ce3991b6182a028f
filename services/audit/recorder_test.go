package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"escapade/pkg/bus"
)

type memWriter struct {
	entries []Entry
	err     error
}

func (m *memWriter) WriteAudit(_ context.Context, e Entry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func encode(t *testing.T, ev bus.Event) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestHandleWritesEntry(t *testing.T) {
	at := time.Date(2025, 6, 14, 19, 5, 0, 0, time.UTC)
	w := &memWriter{}
	ev := bus.Event{
		Type:      "session.updated",
		SessionID: "5b6f3a2e-0000-4000-8000-000000000001",
		Actor:     "staff",
		At:        at,
		Data: map[string]any{
			"session_minutes_before": 30,
			"session_minutes":        45,
			"points_before":          10,
			"points":                 10,
		},
	}
	if err := handle(context.Background(), w, zerolog.Nop(), encode(t, ev)); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if len(w.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(w.entries))
	}
	e := w.entries[0]
	if e.Actor != "staff" || e.Action != "session.updated" || e.Obj != ev.SessionID || !e.At.Equal(at) {
		t.Fatalf("entry = %+v", e)
	}
	changes, ok := e.Details["changes"].(map[string]map[string]any)
	if !ok {
		t.Fatalf("changes missing: %+v", e.Details)
	}
	if _, ok := changes["points"]; ok {
		t.Fatal("unchanged points reported as a change")
	}
	got := changes["session_minutes"]
	if got["old"] != float64(30) || got["new"] != float64(45) {
		t.Fatalf("session_minutes change = %+v", got)
	}
}

func TestHandleDropsMalformed(t *testing.T) {
	w := &memWriter{}
	for _, payload := range []string{"not json", `{"session_id":"x"}`} {
		if err := handle(context.Background(), w, zerolog.Nop(), []byte(payload)); err != nil {
			t.Fatalf("handle(%q) error = %v", payload, err)
		}
	}
	if len(w.entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(w.entries))
	}
}

func TestHandleReturnsWriteError(t *testing.T) {
	w := &memWriter{err: errors.New("db down")}
	err := handle(context.Background(), w, zerolog.Nop(), encode(t, bus.Event{Type: "session.started"}))
	if err == nil {
		t.Fatal("expected write error for redelivery")
	}
}

func TestEntryDefaults(t *testing.T) {
	e := entryFor(bus.Event{Type: "session.expired"})
	if e.Actor != "system" || e.At.IsZero() || e.Details == nil {
		t.Fatalf("entry = %+v", e)
	}
}

func TestNewRecorderValidates(t *testing.T) {
	if _, err := NewRecorder(nil, &memWriter{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for nil bus")
	}
	if _, err := NewPostgresWriter(nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}
