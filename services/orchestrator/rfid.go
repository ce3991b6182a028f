package orchestrator

import (
	"context"
	"errors"
	"strings"

	"escapade/services/game"
	"escapade/services/store"
)

func normalizeTag(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", game.Invalid("rfid tag is required")
	}
	return tag, nil
}

// lockByTag resolves the session an RFID tap refers to. A tag no session has
// ever carried is reported as ErrNoActiveSession.
func lockByTag(ctx context.Context, tx store.Tx, tag string) (game.Session, error) {
	sess, err := tx.LockSessionByTag(ctx, tag)
	if errors.Is(err, game.ErrNoSessionForTag) {
		return game.Session{}, game.ErrNoActiveSession
	}
	return sess, err
}

// RfidStart starts or resumes the timer of the approved session holding tag.
func (s *Service) RfidStart(ctx context.Context, tag string) (SessionView, error) {
	tag, err := normalizeTag(tag)
	if err != nil {
		return SessionView{}, err
	}

	now := s.now()
	var (
		sess    game.Session
		events  pending
		expired bool
	)
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		events, expired = nil, false
		var err error
		if sess, err = lockByTag(ctx, tx, tag); err != nil {
			return err
		}
		if sess.Status != game.StatusApproved {
			return game.ErrNotApproved
		}
		if expired, err = expire(ctx, tx, &sess, now, &events); err != nil || expired {
			return err
		}

		changed, err := sess.Start(now)
		if err != nil || !changed {
			return err
		}
		if err := tx.SaveSession(ctx, sess); err != nil {
			return err
		}
		events.add(EventStarted, sess, ActorRFID, now, map[string]any{
			"remaining_seconds": sess.Remaining(now),
		})
		return nil
	})
	if err != nil {
		return SessionView{}, s.logReject("rfid_start", err)
	}

	s.publish(ctx, events)
	if expired {
		return ViewOf(sess, now), s.logReject("rfid_start", game.ErrSessionExpired)
	}
	s.log.Info().Str("session_id", sess.ID.String()).Str("rfid_tag", tag).Msg("session started")
	return ViewOf(sess, now), nil
}

// RfidPause stops the timer without ending the session.
func (s *Service) RfidPause(ctx context.Context, tag string) (SessionView, error) {
	tag, err := normalizeTag(tag)
	if err != nil {
		return SessionView{}, err
	}

	now := s.now()
	var (
		sess    game.Session
		events  pending
		expired bool
	)
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		events, expired = nil, false
		var err error
		if sess, err = lockByTag(ctx, tx, tag); err != nil {
			return err
		}
		if sess.Status != game.StatusApproved {
			return game.ErrNotApproved
		}
		if expired, err = expire(ctx, tx, &sess, now, &events); err != nil || expired {
			return err
		}
		if !sess.Stop(now) {
			return nil
		}
		if err := tx.SaveSession(ctx, sess); err != nil {
			return err
		}
		events.add(EventPaused, sess, ActorRFID, now, map[string]any{
			"elapsed_seconds": sess.TotalElapsedSeconds,
		})
		return nil
	})
	if err != nil {
		return SessionView{}, s.logReject("rfid_pause", err)
	}

	s.publish(ctx, events)
	if expired {
		return ViewOf(sess, now), s.logReject("rfid_pause", game.ErrSessionExpired)
	}
	return ViewOf(sess, now), nil
}

// RfidStop ends the session holding tag and converts each unused full minute
// into one point.
func (s *Service) RfidStop(ctx context.Context, tag string) (StopResult, error) {
	tag, err := normalizeTag(tag)
	if err != nil {
		return StopResult{}, err
	}

	now := s.now()
	var (
		sess      game.Session
		events    pending
		remaining int64
		bonus     int
	)
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		events = nil
		var err error
		if sess, err = lockByTag(ctx, tx, tag); err != nil {
			return err
		}
		if sess.Status != game.StatusApproved {
			return game.ErrNotApproved
		}

		remaining = sess.Remaining(now)
		bonus = game.CashOutPoints(remaining)
		sess.Finish(now)
		sess.AddPoints(bonus)
		if err := tx.SaveSession(ctx, sess); err != nil {
			return err
		}
		events.add(EventStopped, sess, ActorRFID, now, map[string]any{
			"remaining_seconds": remaining,
			"bonus_points":      bonus,
			"points":            sess.Points,
		})
		return nil
	})
	if err != nil {
		return StopResult{}, s.logReject("rfid_stop", err)
	}

	s.publish(ctx, events)
	if bonus > 0 {
		pointsAwarded("time_bonus", bonus)
	}
	s.log.Info().Str("session_id", sess.ID.String()).Int("bonus_points", bonus).Int("points", sess.Points).Msg("session stopped")
	return StopResult{Session: ViewOf(sess, now), BonusPoints: bonus, RemainingSeconds: remaining}, nil
}

// RfidCheckpoint clears the controller at controllerIP for the session
// holding tag.
func (s *Service) RfidCheckpoint(ctx context.Context, tag, controllerIP string) (ClearResult, error) {
	tag, err := normalizeTag(tag)
	if err != nil {
		return ClearResult{}, err
	}
	controllerIP = strings.TrimSpace(controllerIP)
	if controllerIP == "" {
		return ClearResult{}, game.Invalid("controller ip is required")
	}

	return s.clear(ctx, "rfid", ActorRFID, func(tx store.Tx) (game.Session, game.Controller, error) {
		sess, err := lockByTag(ctx, tx, tag)
		if err != nil {
			return game.Session{}, game.Controller{}, err
		}
		c, err := tx.ControllerByAddress(ctx, controllerIP)
		return sess, c, err
	})
}

// Status reports the session holding tag, ending it first when its time is up.
func (s *Service) Status(ctx context.Context, tag string) (StatusView, error) {
	tag, err := normalizeTag(tag)
	if err != nil {
		return StatusView{}, err
	}

	now := s.now()
	var (
		sess   game.Session
		cps    []game.Checkpoint
		events pending
	)
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		events = nil
		var err error
		if sess, err = tx.LockSessionByTag(ctx, tag); err != nil {
			return err
		}
		if _, err := expire(ctx, tx, &sess, now, &events); err != nil {
			return err
		}
		cps, err = tx.Checkpoints(ctx, sess.ID)
		return err
	})
	if err != nil {
		return StatusView{}, s.logReject("rfid_status", err)
	}

	s.publish(ctx, events)
	return StatusView{
		SessionView:   viewWithCheckpoints(sess, cps, now),
		SessionStatus: statusOf(sess),
	}, nil
}
