package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"escapade/pkg/bus"
	"escapade/pkg/clock"
	"escapade/services/game"
	"escapade/services/settings"
	"escapade/services/store"
)

var t0 = time.Date(2025, 6, 14, 19, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) PublishEvent(_ context.Context, ev bus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	svc      *Service
	clk      *clock.Manual
	store    *store.Memory
	pub      *recorder
	settings *settings.Provider
}

func newFixture(t *testing.T, g settings.General) *fixture {
	t.Helper()
	f := &fixture{
		clk:      clock.NewManual(t0),
		store:    store.NewMemory(),
		pub:      &recorder{},
		settings: settings.NewProvider(g),
	}
	svc, err := New(Options{
		Store:                 f.store,
		Settings:              f.settings,
		Clock:                 f.clk,
		Logger:                zerolog.Nop(),
		Publisher:             f.pub,
		DefaultSessionMinutes: 60,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.svc = svc
	return f
}

// approved signs a party up and approves it with tag and minutes at the
// current clock reading.
func (f *fixture) approved(t *testing.T, tag string, minutes int) SessionView {
	t.Helper()
	ctx := context.Background()
	v, err := f.svc.Signup(ctx, SignupRequest{PartyName: "Party " + tag, TeamSize: 4})
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	v, err = f.svc.Approve(ctx, v.ID, ApproveRequest{RFIDTag: &tag, SessionMinutes: &minutes})
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	return v
}

func (f *fixture) controller(t *testing.T, name, ip string) game.Controller {
	t.Helper()
	c, err := f.store.CreateController(context.Background(), name, ip)
	if err != nil {
		t.Fatalf("CreateController() error = %v", err)
	}
	return c
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{Settings: settings.NewProvider(settings.General{})}); err == nil {
		t.Fatalf("New() without store succeeded")
	}
	if _, err := New(Options{Store: store.NewMemory()}); err == nil {
		t.Fatalf("New() without settings succeeded")
	}
}
