package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"escapade/pkg/metrics"
	"escapade/services/game"
	"escapade/services/store"
)

func pointsAwarded(source string, n int) {
	metrics.PointsAwarded.WithLabelValues(source).Add(float64(n))
}

// clear is the one clearing algorithm behind RFID taps and staff entries.
// resolve locks the session and looks up the controller inside the
// transaction.
func (s *Service) clear(ctx context.Context, source, actor string, resolve func(store.Tx) (game.Session, game.Controller, error)) (ClearResult, error) {
	now := s.now()
	var (
		sess    game.Session
		stored  game.Checkpoint
		award   game.Award
		created bool
		expired bool
		events  pending
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		events, created, expired = nil, false, false
		var (
			c   game.Controller
			err error
		)
		if sess, c, err = resolve(tx); err != nil {
			return err
		}
		if sess.Status != game.StatusApproved {
			return game.ErrSessionNotActive
		}
		if expired, err = expire(ctx, tx, &sess, now, &events); err != nil || expired {
			return err
		}

		var cp game.Checkpoint
		cp, award = game.NewCheckpoint(&sess, c, now)
		if stored, created, err = tx.InsertCheckpoint(ctx, cp); err != nil {
			return err
		}
		if !created {
			return nil
		}

		sess.AddPoints(stored.PointsEarned)
		if err := tx.SaveSession(ctx, sess); err != nil {
			return err
		}
		events.add(EventCheckpointCleared, sess, actor, now, map[string]any{
			"checkpoint_id":   stored.ID.String(),
			"controller_id":   c.ID.String(),
			"controller_name": c.Name,
			"points_earned":   stored.PointsEarned,
			"points":          sess.Points,
		})
		return nil
	})
	if err != nil {
		metrics.CheckpointClears.WithLabelValues(source, "rejected").Inc()
		return ClearResult{}, s.logReject("clear_checkpoint", err)
	}

	s.publish(ctx, events)
	if expired {
		metrics.CheckpointClears.WithLabelValues(source, "rejected").Inc()
		return ClearResult{Session: ViewOf(sess, now)}, s.logReject("clear_checkpoint", game.ErrSessionExpired)
	}

	result := ClearResult{
		Session:    ViewOf(sess, now),
		Checkpoint: checkpointView(stored),
		Duplicate:  !created,
	}
	if !created {
		metrics.CheckpointClears.WithLabelValues(source, "duplicate").Inc()
		return result, nil
	}

	metrics.CheckpointClears.WithLabelValues(source, "created").Inc()
	pointsAwarded("checkpoint", stored.PointsEarned)
	result.PointsEarned = stored.PointsEarned
	result.BasePoints = award.Base
	result.TimeBonus = award.TimeBonus
	result.ElapsedSeconds = award.ElapsedSeconds
	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("controller", stored.Controller.Name).
		Int("points_earned", stored.PointsEarned).
		Bool("manual", actor == ActorStaff).
		Msg("checkpoint cleared")
	return result, nil
}

// AddCheckpoint clears a controller on behalf of a session from the dashboard.
func (s *Service) AddCheckpoint(ctx context.Context, sessionID, controllerID uuid.UUID) (ClearResult, error) {
	return s.clear(ctx, "manual", ActorStaff, func(tx store.Tx) (game.Session, game.Controller, error) {
		sess, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return game.Session{}, game.Controller{}, err
		}
		c, err := tx.ControllerByID(ctx, controllerID)
		return sess, c, err
	})
}

// RemoveCheckpoint deletes a clearance and takes back its points, never
// dropping the session below zero.
func (s *Service) RemoveCheckpoint(ctx context.Context, sessionID, checkpointID uuid.UUID) (SessionView, error) {
	now := s.now()
	var (
		sess   game.Session
		events pending
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		events = nil
		var err error
		if sess, err = tx.LockSession(ctx, sessionID); err != nil {
			return err
		}
		cp, err := tx.Checkpoint(ctx, sessionID, checkpointID)
		if err != nil {
			return err
		}
		if err := tx.DeleteCheckpoint(ctx, cp.ID); err != nil {
			return err
		}
		sess.AddPoints(-cp.PointsEarned)
		if err := tx.SaveSession(ctx, sess); err != nil {
			return err
		}
		events.add(EventCheckpointRemoved, sess, ActorStaff, now, map[string]any{
			"checkpoint_id":  cp.ID.String(),
			"controller_id":  cp.ControllerID.String(),
			"points_removed": cp.PointsEarned,
			"points":         sess.Points,
		})
		return nil
	})
	if err != nil {
		return SessionView{}, s.logReject("remove_checkpoint", err)
	}

	s.publish(ctx, events)
	return ViewOf(sess, now), nil
}
