package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"escapade/services/game"
	"escapade/services/store"
)

// Photo is an uploaded profile picture.
type Photo struct {
	Ext         string
	ContentType string
	Data        []byte
}

// SignupRequest is a public signup form.
type SignupRequest struct {
	PartyName     string     `json:"party_name"`
	Email         string     `json:"email"`
	TeamSize      int        `json:"team_size"`
	ReceiveOffers bool       `json:"receive_offers"`
	StorylineID   *uuid.UUID `json:"storyline_id"`
	AvatarID      string     `json:"avatar_id"`
	Photo         *Photo     `json:"-"`
}

func (r *SignupRequest) normalize() error {
	r.PartyName = strings.TrimSpace(r.PartyName)
	r.Email = strings.TrimSpace(r.Email)
	r.AvatarID = strings.TrimSpace(r.AvatarID)
	if r.PartyName == "" {
		return game.Invalid("party_name is required")
	}
	if r.Email != "" {
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return game.Invalid("email is not a valid address")
		}
	}
	if r.TeamSize == 0 {
		r.TeamSize = 1
	}
	if r.TeamSize < 0 {
		return game.Invalid("team_size must be positive")
	}
	return nil
}

// Signup creates a pending session. An unknown storyline leaves the
// association empty.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (SessionView, error) {
	if err := req.normalize(); err != nil {
		return SessionView{}, err
	}
	if req.Photo != nil && s.photos == nil {
		return SessionView{}, game.Invalid("profile photos are not accepted")
	}

	now := s.now()
	minutes := s.settings.Current().SessionLength
	if minutes <= 0 {
		minutes = s.defaultMinutes
	}

	sess := game.Session{
		ID:             uuid.New(),
		PartyName:      req.PartyName,
		Email:          req.Email,
		TeamSize:       req.TeamSize,
		ReceiveOffers:  req.ReceiveOffers,
		AvatarID:       req.AvatarID,
		SessionMinutes: minutes,
		Status:         game.StatusPending,
		CreatedAt:      now,
	}

	if req.Photo != nil {
		key, err := s.photos.PutPhoto(ctx, sess.ID, req.Photo.Ext, req.Photo.ContentType, req.Photo.Data)
		if err != nil {
			return SessionView{}, fmt.Errorf("store profile photo: %w", err)
		}
		sess.ProfilePhoto = key
	}

	var events pending
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		events = nil
		sess.StorylineID, sess.StorylineTitle = nil, ""
		if req.StorylineID != nil {
			sl, err := tx.StorylineByID(ctx, *req.StorylineID)
			switch {
			case err == nil:
				id := sl.ID
				sess.StorylineID, sess.StorylineTitle = &id, sl.Title
			case !errors.Is(err, game.ErrStorylineNotFound):
				return err
			}
		}
		if err := tx.CreateSession(ctx, &sess); err != nil {
			return err
		}
		events.add(EventSignedUp, sess, ActorPublic, now, map[string]any{"party_name": sess.PartyName})
		return nil
	})
	if err != nil {
		return SessionView{}, s.logReject("signup", err)
	}

	s.publish(ctx, events)
	s.log.Info().Str("session_id", sess.ID.String()).Str("party", sess.PartyName).Msg("signup received")
	return ViewOf(sess, now), nil
}

// ListPending returns sessions awaiting staff review, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]SessionView, error) {
	sessions, err := s.store.SessionsByStatus(ctx, game.StatusPending)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, ViewOf(sess, now))
	}
	return out, nil
}

// ApproveRequest carries optional overrides applied on approval.
type ApproveRequest struct {
	RFIDTag        *string `json:"rfid_tag"`
	SessionMinutes *int    `json:"session_minutes"`
}

// Approve moves a pending session to approved.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, req ApproveRequest) (SessionView, error) {
	if req.RFIDTag != nil {
		tag := strings.TrimSpace(*req.RFIDTag)
		req.RFIDTag = &tag
	}

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
		if err := sess.Approve(now, req.RFIDTag, req.SessionMinutes); err != nil {
			return err
		}
		if err := tx.SaveSession(ctx, sess); err != nil {
			return err
		}
		events.add(EventApproved, sess, ActorStaff, now, map[string]any{
			"rfid_tag":        sess.RFIDTag,
			"session_minutes": sess.SessionMinutes,
		})
		return nil
	})
	if err != nil {
		return SessionView{}, s.logReject("approve", err)
	}

	s.publish(ctx, events)
	s.log.Info().Str("session_id", id.String()).Str("rfid_tag", sess.RFIDTag).Msg("session approved")
	return ViewOf(sess, now), nil
}

// Reject moves a pending or approved session to rejected.
func (s *Service) Reject(ctx context.Context, id uuid.UUID) (SessionView, error) {
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
		if err := sess.Reject(now); err != nil {
			return err
		}
		if err := tx.SaveSession(ctx, sess); err != nil {
			return err
		}
		events.add(EventRejected, sess, ActorStaff, now, nil)
		return nil
	})
	if err != nil {
		return SessionView{}, s.logReject("reject", err)
	}

	s.publish(ctx, events)
	s.log.Info().Str("session_id", id.String()).Msg("session rejected")
	return ViewOf(sess, now), nil
}

// PhotoKey returns the object key of a session's profile photo.
func (s *Service) PhotoKey(ctx context.Context, id uuid.UUID) (string, error) {
	var key string
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		sess, err := tx.LockSession(ctx, id)
		if err != nil {
			return err
		}
		key = sess.ProfilePhoto
		return nil
	})
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", game.ErrPhotoNotFound
	}
	return key, nil
}
