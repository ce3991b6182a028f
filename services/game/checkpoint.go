package game

import (
	"time"

	"github.com/google/uuid"
)

// Controller is a physical checkpoint station.
type Controller struct {
	ID        uuid.UUID
	Name      string
	IPAddress string
}

// Storyline is the narrative a party picks at signup.
type Storyline struct {
	ID    uuid.UUID
	Title string
}

// Checkpoint records a session clearing a controller. At most one exists per
// (SessionID, ControllerID); ClearedAt and PointsEarned never change.
type Checkpoint struct {
	ID           uuid.UUID
	SessionID    uuid.UUID
	ControllerID uuid.UUID
	ClearedAt    time.Time
	PointsEarned int

	// Controller is populated on reads for display.
	Controller Controller
}

// NewCheckpoint builds the clearance record for s at controller c, scoring it
// at now.
func NewCheckpoint(s *Session, c Controller, now time.Time) (Checkpoint, Award) {
	award := Score(s, now)
	return Checkpoint{
		ID:           uuid.New(),
		SessionID:    s.ID,
		ControllerID: c.ID,
		ClearedAt:    now,
		PointsEarned: award.Total(),
		Controller:   c,
	}, award
}
