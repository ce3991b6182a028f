package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"escapade/services/game"
)

// Session states reported to RFID stations.
const (
	SessionActive   = "active"
	SessionExpired  = "expired"
	SessionPending  = "pending"
	SessionRejected = "rejected"
)

// CheckpointView is a cleared checkpoint as shown to staff and players.
type CheckpointView struct {
	ID             uuid.UUID `json:"id"`
	ControllerID   uuid.UUID `json:"controller_id"`
	ControllerName string    `json:"controller_name"`
	ControllerIP   string    `json:"controller_ip"`
	ClearedAt      time.Time `json:"cleared_at"`
	PointsEarned   int       `json:"points_earned"`
}

func checkpointView(cp game.Checkpoint) CheckpointView {
	return CheckpointView{
		ID:             cp.ID,
		ControllerID:   cp.ControllerID,
		ControllerName: cp.Controller.Name,
		ControllerIP:   cp.Controller.IPAddress,
		ClearedAt:      cp.ClearedAt,
		PointsEarned:   cp.PointsEarned,
	}
}

func checkpointViews(cps []game.Checkpoint) []CheckpointView {
	out := make([]CheckpointView, 0, len(cps))
	for _, cp := range cps {
		out = append(out, checkpointView(cp))
	}
	return out
}

// SessionView is the serialized form of a session at a given instant.
type SessionView struct {
	ID             uuid.UUID  `json:"id"`
	PartyName      string     `json:"party_name"`
	Email          string     `json:"email"`
	TeamSize       int        `json:"team_size"`
	ReceiveOffers  bool       `json:"receive_offers"`
	StorylineID    *uuid.UUID `json:"storyline"`
	StorylineTitle string     `json:"storyline_title"`
	HasPhoto       bool       `json:"has_photo"`
	AvatarID       string     `json:"avatar_id"`
	RFIDTag        string     `json:"rfid_tag"`
	SessionMinutes int        `json:"session_minutes"`
	Points         int        `json:"points"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`

	IsPlaying        bool  `json:"is_playing"`
	ElapsedSeconds   int64 `json:"elapsed_seconds"`
	RemainingSeconds int64 `json:"remaining_seconds"`
	RemainingMinutes int64 `json:"remaining_minutes"`

	Checkpoints        []CheckpointView `json:"checkpoints,omitempty"`
	CheckpointsCleared *int             `json:"checkpoints_cleared,omitempty"`
	EndedAgo           string           `json:"ended_ago,omitempty"`
}

// ViewOf renders sess at now without checkpoints.
func ViewOf(sess game.Session, now time.Time) SessionView {
	remaining := sess.Remaining(now)
	if sess.Status != game.StatusApproved {
		remaining = remainingAfterEnd(sess)
	}
	return SessionView{
		ID:               sess.ID,
		PartyName:        sess.PartyName,
		Email:            sess.Email,
		TeamSize:         sess.TeamSize,
		ReceiveOffers:    sess.ReceiveOffers,
		StorylineID:      sess.StorylineID,
		StorylineTitle:   sess.StorylineTitle,
		HasPhoto:         sess.ProfilePhoto != "",
		AvatarID:         sess.AvatarID,
		RFIDTag:          sess.RFIDTag,
		SessionMinutes:   sess.SessionMinutes,
		Points:           sess.Points,
		Status:           string(sess.Status),
		CreatedAt:        sess.CreatedAt,
		ApprovedAt:       sess.ApprovedAt,
		StartedAt:        sess.StartedAt,
		EndedAt:          sess.EndedAt,
		IsPlaying:        sess.IsPlaying,
		ElapsedSeconds:   sess.Elapsed(now),
		RemainingSeconds: remaining,
		RemainingMinutes: remaining / 60,
	}
}

// remainingAfterEnd reports unused time for sessions that no longer run:
// pending sessions still hold their full budget, finished ones hold none.
func remainingAfterEnd(sess game.Session) int64 {
	if sess.Status == game.StatusPending {
		return sess.BudgetSeconds()
	}
	return 0
}

func viewWithCheckpoints(sess game.Session, cps []game.Checkpoint, now time.Time) SessionView {
	v := ViewOf(sess, now)
	v.Checkpoints = checkpointViews(cps)
	n := len(cps)
	v.CheckpointsCleared = &n
	return v
}

// StatusView answers an RFID status query.
type StatusView struct {
	SessionView
	SessionStatus string `json:"session_status"`
}

func statusOf(sess game.Session) string {
	switch sess.Status {
	case game.StatusApproved:
		return SessionActive
	case game.StatusEnded:
		return SessionExpired
	case game.StatusPending:
		return SessionPending
	case game.StatusRejected:
		return SessionRejected
	default:
		return string(sess.Status)
	}
}

// ClearResult reports a checkpoint clear. Duplicate clears return the
// original record and award nothing.
type ClearResult struct {
	Session        SessionView    `json:"session"`
	Checkpoint     CheckpointView `json:"checkpoint"`
	Duplicate      bool           `json:"duplicate"`
	PointsEarned   int            `json:"points_earned"`
	BasePoints     int            `json:"base_points"`
	TimeBonus      int            `json:"time_bonus"`
	ElapsedSeconds int64          `json:"elapsed_seconds"`
}

// StopResult reports an RFID stop and the minutes converted into points.
type StopResult struct {
	Session          SessionView `json:"session"`
	BonusPoints      int         `json:"bonus_points"`
	RemainingSeconds int64       `json:"remaining_seconds"`
}

// ControllerView is the public face of a checkpoint station.
type ControllerView struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}
