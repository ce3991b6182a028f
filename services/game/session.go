package game

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusEnded    Status = "ended"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusEnded, StatusRejected:
		return true
	default:
		return false
	}
}

// Session is one party's record from signup through gameplay.
//
// Timer fields only carry meaning once the session is approved. Playtime is
// accumulated in TotalElapsedSeconds each time the party leaves the playing
// state; the in-progress interval is derived from LastStartedAt.
type Session struct {
	ID             uuid.UUID
	PartyName      string
	Email          string
	TeamSize       int
	ReceiveOffers  bool
	StorylineID    *uuid.UUID
	StorylineTitle string
	ProfilePhoto   string
	AvatarID       string

	RFIDTag        string
	SessionMinutes int
	Points         int
	Status         Status

	CreatedAt  time.Time
	ApprovedAt *time.Time

	StartedAt           *time.Time
	LastStartedAt       *time.Time
	TotalElapsedSeconds int64
	IsPlaying           bool
	EndedAt             *time.Time
}

// BudgetSeconds is the allotted playtime in seconds.
func (s *Session) BudgetSeconds() int64 {
	return int64(s.SessionMinutes) * 60
}

// Elapsed returns accumulated playtime in whole seconds at now, including the
// interval in progress when the session is playing.
func (s *Session) Elapsed(now time.Time) int64 {
	return s.TotalElapsedSeconds + s.runningSeconds(now)
}

// Remaining returns the unused playtime in whole seconds at now, never below 0.
func (s *Session) Remaining(now time.Time) int64 {
	left := s.BudgetSeconds() - s.Elapsed(now)
	if left < 0 {
		return 0
	}
	return left
}

func (s *Session) runningSeconds(now time.Time) int64 {
	if !s.IsPlaying || s.LastStartedAt == nil {
		return 0
	}
	d := now.Sub(*s.LastStartedAt)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Start begins or resumes the timer. Starting a session that is already
// playing leaves LastStartedAt untouched and reports false.
func (s *Session) Start(now time.Time) (bool, error) {
	if s.Status != StatusApproved {
		return false, ErrNotApproved
	}
	if s.Remaining(now) == 0 {
		return false, ErrAlreadyExpired
	}
	if s.IsPlaying {
		return false, nil
	}

	at := now
	if s.StartedAt == nil {
		first := now
		s.StartedAt = &first
	}
	s.LastStartedAt = &at
	s.IsPlaying = true
	return true, nil
}

// Stop pauses the timer, folding the running interval into
// TotalElapsedSeconds. It reports whether the session was playing.
func (s *Session) Stop(now time.Time) bool {
	if !s.IsPlaying {
		s.LastStartedAt = nil
		return false
	}
	s.TotalElapsedSeconds += s.runningSeconds(now)
	s.LastStartedAt = nil
	s.IsPlaying = false
	return true
}

// Finish stops the timer and marks the session ended at now.
func (s *Session) Finish(now time.Time) {
	s.Stop(now)
	s.Status = StatusEnded
	ended := now
	s.EndedAt = &ended
}

// ExpireIfDue ends an approved session whose playtime is used up. It reports
// whether the session changed.
func (s *Session) ExpireIfDue(now time.Time) bool {
	if s.Status != StatusApproved || s.Remaining(now) > 0 {
		return false
	}
	s.Finish(now)
	return true
}

// Approve moves a pending session to approved, applying the optional tag and
// minute overrides.
func (s *Session) Approve(now time.Time, rfidTag *string, minutes *int) error {
	if s.Status != StatusPending {
		return ErrNotPending
	}
	if minutes != nil && *minutes <= 0 {
		return Invalid("session_minutes must be positive")
	}
	if rfidTag != nil && *rfidTag != "" {
		s.RFIDTag = *rfidTag
	}
	if minutes != nil {
		s.SessionMinutes = *minutes
	}
	s.Status = StatusApproved
	approved := now
	s.ApprovedAt = &approved
	return nil
}

// Reject moves a non-terminal session to rejected.
func (s *Session) Reject(now time.Time) error {
	if s.Status.Terminal() {
		return ErrSessionTerminal
	}
	s.Stop(now)
	s.Status = StatusRejected
	return nil
}

// CashOutPoints converts unused playtime into bonus points, one per full minute.
func CashOutPoints(remainingSeconds int64) int {
	if remainingSeconds <= 0 {
		return 0
	}
	return int(remainingSeconds / 60)
}

// AddPoints adjusts Points by delta, clamping at zero.
func (s *Session) AddPoints(delta int) {
	s.Points += delta
	if s.Points < 0 {
		s.Points = 0
	}
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	out.StorylineID = cloneUUID(s.StorylineID)
	out.ApprovedAt = cloneTime(s.ApprovedAt)
	out.StartedAt = cloneTime(s.StartedAt)
	out.LastStartedAt = cloneTime(s.LastStartedAt)
	out.EndedAt = cloneTime(s.EndedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
