package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"escapade/services/game"
	"escapade/services/settings"
)

func TestCheckpointScoring(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, settings.General{})
	f.controller(t, "Lab", "10.0.0.1")
	f.controller(t, "Crypt", "10.0.0.2")
	f.approved(t, "K1", 30)
	if _, err := f.svc.RfidStart(ctx, "K1"); err != nil {
		t.Fatalf("RfidStart() error = %v", err)
	}

	first, err := f.svc.RfidCheckpoint(ctx, "K1", "10.0.0.1")
	if err != nil {
		t.Fatalf("RfidCheckpoint() error = %v", err)
	}
	if first.PointsEarned != 110 || first.BasePoints != 10 || first.TimeBonus != 100 || first.Duplicate {
		t.Fatalf("clear at 0 min = %+v, want 110", first)
	}

	f.clk.Advance(9 * time.Minute)
	second, err := f.svc.RfidCheckpoint(ctx, "K1", "10.0.0.2")
	if err != nil {
		t.Fatalf("RfidCheckpoint() error = %v", err)
	}
	if second.PointsEarned != 20 || second.ElapsedSeconds != 540 {
		t.Fatalf("clear at 9 min = %+v, want 20", second)
	}
	if second.Session.Points != 130 {
		t.Fatalf("Points = %d, want 130", second.Session.Points)
	}
	if second.Checkpoint.ControllerName != "Crypt" {
		t.Fatalf("Checkpoint = %+v", second.Checkpoint)
	}
}

func TestCheckpointIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, settings.General{})
	f.controller(t, "Lab", "10.0.0.1")
	f.approved(t, "K2", 30)

	first, err := f.svc.RfidCheckpoint(ctx, "K2", "10.0.0.1")
	if err != nil {
		t.Fatalf("RfidCheckpoint() error = %v", err)
	}

	f.clk.Advance(3 * time.Minute)
	again, err := f.svc.RfidCheckpoint(ctx, "K2", "10.0.0.1")
	if err != nil {
		t.Fatalf("duplicate RfidCheckpoint() error = %v", err)
	}
	if !again.Duplicate || again.PointsEarned != 0 {
		t.Fatalf("duplicate clear = %+v", again)
	}
	if again.Checkpoint.ID != first.Checkpoint.ID || !again.Checkpoint.ClearedAt.Equal(first.Checkpoint.ClearedAt) {
		t.Fatalf("duplicate returned a different record: %+v vs %+v", again.Checkpoint, first.Checkpoint)
	}
	if again.Session.Points != first.Session.Points {
		t.Fatalf("duplicate changed points: %d -> %d", first.Session.Points, again.Session.Points)
	}
	if f.pub.count(EventCheckpointCleared) != 1 {
		t.Fatalf("cleared events = %d, want 1", f.pub.count(EventCheckpointCleared))
	}
}

func TestCheckpointConcurrentTaps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, settings.General{})
	f.controller(t, "Lab", "10.0.0.1")
	f.approved(t, "K3", 30)

	const taps = 24
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < taps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.RfidCheckpoint(ctx, "K3", "10.0.0.1")
			if err != nil {
				t.Errorf("RfidCheckpoint() error = %v", err)
				return
			}
			if !res.Duplicate {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("%d taps created checkpoints, want 1", created)
	}
	st, err := f.svc.Status(ctx, "K3")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Points != 110 || len(st.Checkpoints) != 1 {
		t.Fatalf("after concurrent taps: points %d, checkpoints %d", st.Points, len(st.Checkpoints))
	}
}

func TestCheckpointRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, settings.General{})
	f.controller(t, "Lab", "10.0.0.1")
	f.approved(t, "K4", 1)
	if _, err := f.svc.RfidStart(ctx, "K4"); err != nil {
		t.Fatalf("RfidStart() error = %v", err)
	}
	pendingView, _ := f.svc.Signup(ctx, SignupRequest{PartyName: "Waiting"})

	if _, err := f.svc.RfidCheckpoint(ctx, "K4", "10.9.9.9"); !errors.Is(err, game.ErrControllerNotFound) {
		t.Fatalf("unknown controller error = %v", err)
	}
	if _, err := f.svc.RfidCheckpoint(ctx, "ghost", "10.0.0.1"); !errors.Is(err, game.ErrNoActiveSession) {
		t.Fatalf("unknown tag error = %v", err)
	}
	if _, err := f.svc.AddCheckpoint(ctx, pendingView.ID, uuid.New()); !errors.Is(err, game.ErrControllerNotFound) {
		t.Fatalf("AddCheckpoint() unknown controller error = %v", err)
	}

	f.clk.Advance(2 * time.Minute)
	res, err := f.svc.RfidCheckpoint(ctx, "K4", "10.0.0.1")
	if !errors.Is(err, game.ErrSessionExpired) {
		t.Fatalf("clear after time ran out error = %v, want ErrSessionExpired", err)
	}
	if res.Session.Status != string(game.StatusEnded) || res.Session.Points != 0 {
		t.Fatalf("expired clear session = %+v", res.Session)
	}
	if _, err := f.svc.RfidCheckpoint(ctx, "K4", "10.0.0.1"); !errors.Is(err, game.ErrSessionNotActive) {
		t.Fatalf("clear on ended session error = %v, want ErrSessionNotActive", err)
	}
}

func TestManualCheckpointAndRemoval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, settings.General{})
	c := f.controller(t, "Lab", "10.0.0.1")
	v := f.approved(t, "K5", 30)

	res, err := f.svc.AddCheckpoint(ctx, v.ID, c.ID)
	if err != nil {
		t.Fatalf("AddCheckpoint() error = %v", err)
	}
	if res.PointsEarned != 110 {
		t.Fatalf("AddCheckpoint() = %+v", res)
	}

	// Staff lowered the score below the checkpoint's value.
	low := 50
	if _, err := f.svc.UpdateSession(ctx, v.ID, UpdateRequest{Points: &low}); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}

	got, err := f.svc.RemoveCheckpoint(ctx, v.ID, res.Checkpoint.ID)
	if err != nil {
		t.Fatalf("RemoveCheckpoint() error = %v", err)
	}
	if got.Points != 0 {
		t.Fatalf("Points after removal = %d, want 0", got.Points)
	}
	if _, err := f.svc.RemoveCheckpoint(ctx, v.ID, res.Checkpoint.ID); !errors.Is(err, game.ErrCheckpointNotFound) {
		t.Fatalf("second RemoveCheckpoint() error = %v", err)
	}

	// The controller can be cleared again after removal.
	again, err := f.svc.AddCheckpoint(ctx, v.ID, c.ID)
	if err != nil || again.Duplicate {
		t.Fatalf("re-clear = %+v, %v", again, err)
	}
}

func TestRemoveCheckpointWrongSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, settings.General{})
	c := f.controller(t, "Lab", "10.0.0.1")
	a := f.approved(t, "W1", 30)
	b := f.approved(t, "W2", 30)

	res, err := f.svc.AddCheckpoint(ctx, a.ID, c.ID)
	if err != nil {
		t.Fatalf("AddCheckpoint() error = %v", err)
	}
	if _, err := f.svc.RemoveCheckpoint(ctx, b.ID, res.Checkpoint.ID); !errors.Is(err, game.ErrCheckpointNotFound) {
		t.Fatalf("RemoveCheckpoint() on other session error = %v", err)
	}
}
