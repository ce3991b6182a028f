package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"escapade/services/game"
	"escapade/services/store"
)

// EndSession force-ends an approved session without converting unused time.
func (s *Service) EndSession(ctx context.Context, id uuid.UUID) (SessionView, error) {
	now := s.now()
	var (
		sess   game.Session
		events pending
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		events = nil
		var err error
		if sess, err = tx.LockSession(ctx, id); err != nil {
			return err
		}
		switch sess.Status {
		case game.StatusApproved:
		case game.StatusEnded:
			return game.ErrSessionTerminal
		default:
			return game.ErrNotApproved
		}
		sess.Finish(now)
		if err := tx.SaveSession(ctx, sess); err != nil {
			return err
		}
		events.add(EventEnded, sess, ActorStaff, now, map[string]any{
			"elapsed_seconds": sess.TotalElapsedSeconds,
		})
		return nil
	})
	if err != nil {
		return SessionView{}, s.logReject("end_session", err)
	}

	s.publish(ctx, events)
	s.log.Info().Str("session_id", id.String()).Msg("session ended by staff")
	return ViewOf(sess, now), nil
}

// UpdateRequest adjusts a running session. Absent fields are left alone.
type UpdateRequest struct {
	// ExtraMinutes extends (positive) or reduces (negative) the budget.
	ExtraMinutes *int `json:"extra_minutes"`
	// Points overwrites the score.
	Points *int `json:"points"`
}

// UpdateSession applies staff adjustments subject to the extension and
// reduction policies. A reduction never cuts the budget below the minute
// in progress.
func (s *Service) UpdateSession(ctx context.Context, id uuid.UUID, req UpdateRequest) (SessionView, error) {
	if req.ExtraMinutes == nil && req.Points == nil {
		return SessionView{}, game.Invalid("nothing to update")
	}
	if req.Points != nil && *req.Points < 0 {
		return SessionView{}, game.Invalid("points must not be negative")
	}
	policy := s.settings.Current()
	if req.ExtraMinutes != nil {
		switch {
		case *req.ExtraMinutes > 0 && !policy.AllowExtension:
			return SessionView{}, s.logReject("update_session", game.ErrExtensionDenied)
		case *req.ExtraMinutes < 0 && !policy.AllowReduction:
			return SessionView{}, s.logReject("update_session", game.ErrReductionDenied)
		}
	}

	now := s.now()
	var (
		sess    game.Session
		events  pending
		expired bool
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		events, expired = nil, false
		var err error
		if sess, err = tx.LockSession(ctx, id); err != nil {
			return err
		}
		if sess.Status != game.StatusApproved {
			return game.ErrNotApproved
		}
		if expired, err = expire(ctx, tx, &sess, now, &events); err != nil || expired {
			return err
		}

		data := map[string]any{}
		if req.ExtraMinutes != nil && *req.ExtraMinutes != 0 {
			before := sess.SessionMinutes
			sess.SessionMinutes = adjustedMinutes(sess, *req.ExtraMinutes, now)
			data["session_minutes_before"] = before
			data["session_minutes"] = sess.SessionMinutes
		}
		if req.Points != nil {
			data["points_before"] = sess.Points
			sess.Points = *req.Points
			data["points"] = sess.Points
		}
		if err := tx.SaveSession(ctx, sess); err != nil {
			return err
		}
		events.add(EventUpdated, sess, ActorStaff, now, data)
		return nil
	})
	if err != nil {
		return SessionView{}, s.logReject("update_session", err)
	}

	s.publish(ctx, events)
	if expired {
		return ViewOf(sess, now), s.logReject("update_session", game.ErrSessionExpired)
	}
	return ViewOf(sess, now), nil
}

// adjustedMinutes applies extra to the budget. Reductions are clamped so the
// session keeps at least the minute currently being played.
func adjustedMinutes(sess game.Session, extra int, now time.Time) int {
	total := sess.SessionMinutes + extra
	if extra >= 0 {
		return total
	}
	floor := int(sess.Elapsed(now)/60) + 1
	if total < floor {
		return floor
	}
	return total
}

// reconcile ends every approved session whose time ran out, each in its own
// transaction, and returns the sessions still approved.
func (s *Service) reconcile(ctx context.Context, now time.Time) ([]game.Session, error) {
	approved, err := s.store.SessionsByStatus(ctx, game.StatusApproved)
	if err != nil {
		return nil, err
	}

	live := approved[:0]
	var events pending
	for _, candidate := range approved {
		if candidate.Remaining(now) > 0 {
			live = append(live, candidate)
			continue
		}

		var (
			sess    game.Session
			txEvent pending
		)
		err := s.store.InTx(ctx, func(tx store.Tx) error {
			txEvent = nil
			var err error
			if sess, err = tx.LockSession(ctx, candidate.ID); err != nil {
				return err
			}
			_, err = expire(ctx, tx, &sess, now, &txEvent)
			return err
		})
		if err != nil {
			return nil, s.logReject("reconcile", err)
		}
		events = append(events, txEvent...)
		if sess.Status == game.StatusApproved {
			live = append(live, sess)
		}
	}
	s.publish(ctx, events)
	return live, nil
}

func (s *Service) attachCheckpoints(ctx context.Context, sessions []game.Session, now time.Time) ([]SessionView, error) {
	ids := make([]uuid.UUID, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
	}
	cps, err := s.store.CheckpointsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, viewWithCheckpoints(sess, cps[sess.ID], now))
	}
	return out, nil
}

// ListLive returns approved sessions with playtime left, after ending the
// ones whose time ran out.
func (s *Service) ListLive(ctx context.Context) ([]SessionView, error) {
	now := s.now()
	live, err := s.reconcile(ctx, now)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(live, func(i, j int) bool {
		return timeOr(live[i].ApprovedAt, live[i].CreatedAt).Before(timeOr(live[j].ApprovedAt, live[j].CreatedAt))
	})
	return s.attachCheckpoints(ctx, live, now)
}

// ListEnded returns finished sessions, most recently ended first, each with
// a humanized age.
func (s *Service) ListEnded(ctx context.Context) ([]SessionView, error) {
	now := s.now()
	if _, err := s.reconcile(ctx, now); err != nil {
		return nil, err
	}
	ended, err := s.store.SessionsByStatus(ctx, game.StatusEnded)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(ended, func(i, j int) bool {
		a, b := ended[i], ended[j]
		ae, be := timeOr(a.EndedAt, time.Time{}), timeOr(b.EndedAt, time.Time{})
		if !ae.Equal(be) {
			return ae.After(be)
		}
		return timeOr(a.ApprovedAt, time.Time{}).After(timeOr(b.ApprovedAt, time.Time{}))
	})

	views, err := s.attachCheckpoints(ctx, ended, now)
	if err != nil {
		return nil, err
	}
	for i, sess := range ended {
		ref := timeOr(sess.EndedAt, timeOr(sess.ApprovedAt, sess.CreatedAt))
		views[i].EndedAgo = humanize.RelTime(ref, now, "ago", "from now")
	}
	return views, nil
}

// Controllers lists checkpoint stations for public displays.
func (s *Service) Controllers(ctx context.Context) ([]ControllerView, error) {
	controllers, err := s.store.ListControllers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ControllerView, 0, len(controllers))
	for _, c := range controllers {
		out = append(out, ControllerView{ID: c.ID, Name: c.Name})
	}
	return out, nil
}

func timeOr(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}
