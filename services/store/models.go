package store

import (
	"time"

	"github.com/google/uuid"

	"escapade/services/game"
)

type sessionModel struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey"`
	PartyName           string     `gorm:"type:text;not null"`
	Email               string     `gorm:"type:text;not null"`
	TeamSize            int        `gorm:"type:integer;not null"`
	ReceiveOffers       bool       `gorm:"not null"`
	StorylineID         *uuid.UUID `gorm:"type:uuid"`
	ProfilePhoto        string     `gorm:"type:text;not null"`
	AvatarID            string     `gorm:"type:text;not null"`
	RFIDTag             string     `gorm:"column:rfid_tag;type:text;not null"`
	SessionMinutes      int        `gorm:"type:integer;not null"`
	Points              int        `gorm:"type:integer;not null"`
	Status              string     `gorm:"type:text;not null"`
	CreatedAt           time.Time  `gorm:"type:timestamptz;not null"`
	ApprovedAt          *time.Time `gorm:"type:timestamptz"`
	StartedAt           *time.Time `gorm:"type:timestamptz"`
	LastStartedAt       *time.Time `gorm:"type:timestamptz"`
	TotalElapsedSeconds int64      `gorm:"type:bigint;not null"`
	IsPlaying           bool       `gorm:"not null"`
	EndedAt             *time.Time `gorm:"type:timestamptz"`
}

func (sessionModel) TableName() string { return "sessions" }

func sessionFromGame(s game.Session) sessionModel {
	return sessionModel{
		ID:                  s.ID,
		PartyName:           s.PartyName,
		Email:               s.Email,
		TeamSize:            s.TeamSize,
		ReceiveOffers:       s.ReceiveOffers,
		StorylineID:         s.StorylineID,
		ProfilePhoto:        s.ProfilePhoto,
		AvatarID:            s.AvatarID,
		RFIDTag:             s.RFIDTag,
		SessionMinutes:      s.SessionMinutes,
		Points:              s.Points,
		Status:              string(s.Status),
		CreatedAt:           s.CreatedAt,
		ApprovedAt:          s.ApprovedAt,
		StartedAt:           s.StartedAt,
		LastStartedAt:       s.LastStartedAt,
		TotalElapsedSeconds: s.TotalElapsedSeconds,
		IsPlaying:           s.IsPlaying,
		EndedAt:             s.EndedAt,
	}
}

func (m sessionModel) toGame() game.Session {
	return game.Session{
		ID:                  m.ID,
		PartyName:           m.PartyName,
		Email:               m.Email,
		TeamSize:            m.TeamSize,
		ReceiveOffers:       m.ReceiveOffers,
		StorylineID:         m.StorylineID,
		ProfilePhoto:        m.ProfilePhoto,
		AvatarID:            m.AvatarID,
		RFIDTag:             m.RFIDTag,
		SessionMinutes:      m.SessionMinutes,
		Points:              m.Points,
		Status:              game.Status(m.Status),
		CreatedAt:           m.CreatedAt.UTC(),
		ApprovedAt:          utcPtr(m.ApprovedAt),
		StartedAt:           utcPtr(m.StartedAt),
		LastStartedAt:       utcPtr(m.LastStartedAt),
		TotalElapsedSeconds: m.TotalElapsedSeconds,
		IsPlaying:           m.IsPlaying,
		EndedAt:             utcPtr(m.EndedAt),
	}
}

// sessionRow is the scany read shape, joined with the storyline title.
type sessionRow struct {
	ID                  uuid.UUID  `db:"id"`
	PartyName           string     `db:"party_name"`
	Email               string     `db:"email"`
	TeamSize            int        `db:"team_size"`
	ReceiveOffers       bool       `db:"receive_offers"`
	StorylineID         *uuid.UUID `db:"storyline_id"`
	StorylineTitle      string     `db:"storyline_title"`
	ProfilePhoto        string     `db:"profile_photo"`
	AvatarID            string     `db:"avatar_id"`
	RFIDTag             string     `db:"rfid_tag"`
	SessionMinutes      int        `db:"session_minutes"`
	Points              int        `db:"points"`
	Status              string     `db:"status"`
	CreatedAt           time.Time  `db:"created_at"`
	ApprovedAt          *time.Time `db:"approved_at"`
	StartedAt           *time.Time `db:"started_at"`
	LastStartedAt       *time.Time `db:"last_started_at"`
	TotalElapsedSeconds int64      `db:"total_elapsed_seconds"`
	IsPlaying           bool       `db:"is_playing"`
	EndedAt             *time.Time `db:"ended_at"`
}

func (r sessionRow) toGame() game.Session {
	m := sessionModel{
		ID:                  r.ID,
		PartyName:           r.PartyName,
		Email:               r.Email,
		TeamSize:            r.TeamSize,
		ReceiveOffers:       r.ReceiveOffers,
		StorylineID:         r.StorylineID,
		ProfilePhoto:        r.ProfilePhoto,
		AvatarID:            r.AvatarID,
		RFIDTag:             r.RFIDTag,
		SessionMinutes:      r.SessionMinutes,
		Points:              r.Points,
		Status:              r.Status,
		CreatedAt:           r.CreatedAt,
		ApprovedAt:          r.ApprovedAt,
		StartedAt:           r.StartedAt,
		LastStartedAt:       r.LastStartedAt,
		TotalElapsedSeconds: r.TotalElapsedSeconds,
		IsPlaying:           r.IsPlaying,
		EndedAt:             r.EndedAt,
	}
	s := m.toGame()
	s.StorylineTitle = r.StorylineTitle
	return s
}

type checkpointModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID    uuid.UUID `gorm:"type:uuid;not null"`
	ControllerID uuid.UUID `gorm:"type:uuid;not null"`
	ClearedAt    time.Time `gorm:"type:timestamptz;not null"`
	PointsEarned int       `gorm:"type:integer;not null"`
}

func (checkpointModel) TableName() string { return "checkpoints" }

func (m checkpointModel) toGame() game.Checkpoint {
	return game.Checkpoint{
		ID:           m.ID,
		SessionID:    m.SessionID,
		ControllerID: m.ControllerID,
		ClearedAt:    m.ClearedAt.UTC(),
		PointsEarned: m.PointsEarned,
	}
}

type checkpointRow struct {
	ID             uuid.UUID `db:"id"`
	SessionID      uuid.UUID `db:"session_id"`
	ControllerID   uuid.UUID `db:"controller_id"`
	ClearedAt      time.Time `db:"cleared_at"`
	PointsEarned   int       `db:"points_earned"`
	ControllerName string    `db:"controller_name"`
	ControllerIP   string    `db:"controller_ip"`
}

func (r checkpointRow) toGame() game.Checkpoint {
	return game.Checkpoint{
		ID:           r.ID,
		SessionID:    r.SessionID,
		ControllerID: r.ControllerID,
		ClearedAt:    r.ClearedAt.UTC(),
		PointsEarned: r.PointsEarned,
		Controller:   game.Controller{ID: r.ControllerID, Name: r.ControllerName, IPAddress: r.ControllerIP},
	}
}

type controllerModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"type:text;not null"`
	IPAddress string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;autoCreateTime"`
}

func (controllerModel) TableName() string { return "controllers" }

func (m controllerModel) toGame() game.Controller {
	return game.Controller{ID: m.ID, Name: m.Name, IPAddress: m.IPAddress}
}

type storylineModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Title     string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;autoCreateTime"`
}

func (storylineModel) TableName() string { return "storylines" }

func (m storylineModel) toGame() game.Storyline {
	return game.Storyline{ID: m.ID, Title: m.Title}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
