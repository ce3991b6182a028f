// Package leaderboard builds the public ranking of approved and ended sessions.
package leaderboard

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"escapade/pkg/clock"
	"escapade/services/game"
	"escapade/services/store"
)

// Session states shown on the board.
const (
	StatusLive  = "live"
	StatusEnded = "ended"
)

// Cleared is one checkpoint circle on the board.
type Cleared struct {
	ControllerID   uuid.UUID `json:"controller_id"`
	ControllerName string    `json:"controller_name"`
	ClearedAt      time.Time `json:"cleared_at"`
}

// Entry is one ranked party.
type Entry struct {
	Rank               int        `json:"rank"`
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	TeamSize           int        `json:"team_size"`
	Points             int        `json:"points"`
	HasPhoto           bool       `json:"has_photo"`
	AvatarID           string     `json:"avatar_id"`
	StorylineTitle     string     `json:"storyline_title"`
	SessionMinutes     int        `json:"session_minutes"`
	RemainingMinutes   int64      `json:"remaining_minutes"`
	SessionStatus      string     `json:"session_status"`
	CheckpointsCleared int        `json:"checkpoints_cleared"`
	TotalControllers   int        `json:"total_controllers"`
	Checkpoints        []Cleared  `json:"checkpoints"`
	CreatedAt          time.Time  `json:"created_at"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
}

// Source produces the current board.
type Source interface {
	Leaderboard(ctx context.Context) ([]Entry, error)
}

// Project ranks sessions by points, ties broken by signup time. It reads the
// sessions as given and never ends one; an approved session with no time
// left is shown as ended.
func Project(sessions []game.Session, checkpoints map[uuid.UUID][]game.Checkpoint, totalControllers int, now time.Time) []Entry {
	ranked := make([]game.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.Status == game.StatusApproved || s.Status == game.StatusEnded {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Points != ranked[j].Points {
			return ranked[i].Points > ranked[j].Points
		}
		return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
	})

	out := make([]Entry, 0, len(ranked))
	for i := range ranked {
		s := &ranked[i]
		status, remaining := StatusEnded, int64(0)
		if s.Status == game.StatusApproved {
			if left := s.Remaining(now); left > 0 {
				status, remaining = StatusLive, left/60
			}
		}

		cps := checkpoints[s.ID]
		cleared := make([]Cleared, 0, len(cps))
		for _, cp := range cps {
			cleared = append(cleared, Cleared{
				ControllerID:   cp.ControllerID,
				ControllerName: cp.Controller.Name,
				ClearedAt:      cp.ClearedAt,
			})
		}

		out = append(out, Entry{
			Rank:               i + 1,
			ID:                 s.ID,
			Name:               s.PartyName,
			TeamSize:           s.TeamSize,
			Points:             s.Points,
			HasPhoto:           s.ProfilePhoto != "",
			AvatarID:           s.AvatarID,
			StorylineTitle:     s.StorylineTitle,
			SessionMinutes:     s.SessionMinutes,
			RemainingMinutes:   remaining,
			SessionStatus:      status,
			CheckpointsCleared: len(cps),
			TotalControllers:   totalControllers,
			Checkpoints:        cleared,
			CreatedAt:          s.CreatedAt,
			ApprovedAt:         s.ApprovedAt,
		})
	}
	return out
}

// Projector reads the registry and projects the board.
type Projector struct {
	reader store.Reader
	clock  clock.Clock
}

// NewProjector returns a Projector over reader.
func NewProjector(reader store.Reader, clk clock.Clock) (*Projector, error) {
	if reader == nil {
		return nil, errors.New("reader is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Projector{reader: reader, clock: clk}, nil
}

// Leaderboard builds the board from the current registry contents.
func (p *Projector) Leaderboard(ctx context.Context) ([]Entry, error) {
	sessions, err := p.reader.SessionsByStatus(ctx, game.StatusApproved, game.StatusEnded)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	cps, err := p.reader.CheckpointsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	total, err := p.reader.CountControllers(ctx)
	if err != nil {
		return nil, err
	}
	return Project(sessions, cps, total, p.clock.Now()), nil
}
