package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"escapade/pkg/clock"
	"escapade/services/game"
	"escapade/services/store"
)

var t0 = time.Date(2025, 6, 14, 19, 0, 0, 0, time.UTC)

func session(name string, status game.Status, points int, created time.Time) game.Session {
	s := game.Session{
		ID:             uuid.New(),
		PartyName:      name,
		TeamSize:       3,
		SessionMinutes: 10,
		Points:         points,
		Status:         status,
		CreatedAt:      created,
	}
	if status == game.StatusApproved || status == game.StatusEnded {
		at := created.Add(time.Minute)
		s.ApprovedAt = &at
	}
	return s
}

func TestProjectOrdering(t *testing.T) {
	a := session("a", game.StatusApproved, 50, t0)
	b := session("b", game.StatusEnded, 80, t0.Add(time.Minute))
	c := session("c", game.StatusApproved, 50, t0.Add(-time.Minute))
	pending := session("p", game.StatusPending, 999, t0)
	rejected := session("r", game.StatusRejected, 999, t0)

	got := Project([]game.Session{a, b, c, pending, rejected}, nil, 4, t0)
	want := []string{"b", "c", "a"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("entry %d = %q, want %q", i, got[i].Name, name)
		}
		if got[i].Rank != i+1 {
			t.Fatalf("entry %d rank = %d", i, got[i].Rank)
		}
		if got[i].TotalControllers != 4 {
			t.Fatalf("total_controllers = %d, want 4", got[i].TotalControllers)
		}
	}
}

func TestProjectStatusWithoutMutation(t *testing.T) {
	start := t0
	live := session("live", game.StatusApproved, 0, t0)
	live.StartedAt, live.LastStartedAt, live.IsPlaying = &start, &start, true

	spent := session("spent", game.StatusApproved, 0, t0)
	spent.TotalElapsedSeconds = 600

	ended := session("ended", game.StatusEnded, 0, t0)

	now := t0.Add(150 * time.Second)
	sessions := []game.Session{live, spent, ended}
	entries := Project(sessions, nil, 0, now)

	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	tests := []struct {
		name      string
		status    string
		remaining int64
	}{
		{"live", StatusLive, 7},
		{"spent", StatusEnded, 0},
		{"ended", StatusEnded, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := byName[tt.name]
			if e.SessionStatus != tt.status {
				t.Fatalf("status = %q, want %q", e.SessionStatus, tt.status)
			}
			if e.RemainingMinutes != tt.remaining {
				t.Fatalf("remaining_minutes = %d, want %d", e.RemainingMinutes, tt.remaining)
			}
		})
	}
	if sessions[1].Status != game.StatusApproved || sessions[1].EndedAt != nil {
		t.Fatalf("projection mutated the session: %+v", sessions[1])
	}
}

func TestProjectorReadsStore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	gate, err := mem.CreateController(ctx, "Gate", "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateController() error = %v", err)
	}
	if _, err := mem.CreateController(ctx, "Vault", "10.0.0.2"); err != nil {
		t.Fatalf("CreateController() error = %v", err)
	}

	s := session("crew", game.StatusApproved, 0, t0)
	s.RFIDTag = "TAG-1"
	err = mem.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateSession(ctx, &s); err != nil {
			return err
		}
		cp := game.Checkpoint{ID: uuid.New(), SessionID: s.ID, ControllerID: gate.ID, ClearedAt: t0, PointsEarned: 110}
		if _, _, err := tx.InsertCheckpoint(ctx, cp); err != nil {
			return err
		}
		s.AddPoints(110)
		return tx.SaveSession(ctx, s)
	})
	if err != nil {
		t.Fatalf("seed error = %v", err)
	}

	p, err := NewProjector(mem, clock.NewManual(t0))
	if err != nil {
		t.Fatalf("NewProjector() error = %v", err)
	}
	entries, err := p.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Points != 110 || e.CheckpointsCleared != 1 || e.TotalControllers != 2 {
		t.Fatalf("entry = %+v", e)
	}
	if e.Checkpoints[0].ControllerName != "Gate" {
		t.Fatalf("controller_name = %q, want Gate", e.Checkpoints[0].ControllerName)
	}
}

func TestNewProjectorValidates(t *testing.T) {
	if _, err := NewProjector(nil, nil); err == nil {
		t.Fatal("expected error for nil reader")
	}
}
