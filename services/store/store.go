// Package store persists sessions, checkpoints, controllers and storylines.
//
// Every mutation runs inside InTx. Implementations guarantee that a session
// loaded through a Tx stays locked until the transaction ends, so concurrent
// transitions on one session serialize.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"escapade/services/game"
)

// Store is the session registry.
type Store interface {
	Reader

	// InTx runs fn in a single transaction, committing when it returns nil.
	InTx(ctx context.Context, fn func(Tx) error) error

	CreateController(ctx context.Context, name, ipAddress string) (game.Controller, error)
	CreateStoryline(ctx context.Context, title string) (game.Storyline, error)
	// Reset deletes every checkpoint and session. Controllers and storylines stay.
	Reset(ctx context.Context) error
	Snapshot(ctx context.Context) (Snapshot, error)
	Ping(ctx context.Context) error
}

// Reader serves unlocked reads for listings and projections.
type Reader interface {
	SessionsByStatus(ctx context.Context, statuses ...game.Status) ([]game.Session, error)
	CheckpointsFor(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID][]game.Checkpoint, error)
	ListControllers(ctx context.Context) ([]game.Controller, error)
	CountControllers(ctx context.Context) (int, error)
}

// Tx is the set of operations available inside InTx.
type Tx interface {
	CreateSession(ctx context.Context, s *game.Session) error
	// LockSession loads and locks a session by id.
	LockSession(ctx context.Context, id uuid.UUID) (game.Session, error)
	// LockSessionByTag loads and locks the approved session holding tag, or
	// failing that the most recently created session carrying it.
	LockSessionByTag(ctx context.Context, tag string) (game.Session, error)
	// SaveSession persists every mutable field of s.
	SaveSession(ctx context.Context, s game.Session) error

	ControllerByID(ctx context.Context, id uuid.UUID) (game.Controller, error)
	ControllerByAddress(ctx context.Context, ip string) (game.Controller, error)
	StorylineByID(ctx context.Context, id uuid.UUID) (game.Storyline, error)

	// InsertCheckpoint stores cp unless the (session, controller) pair is
	// already cleared, in which case the existing row is returned and created
	// is false.
	InsertCheckpoint(ctx context.Context, cp game.Checkpoint) (stored game.Checkpoint, created bool, err error)
	Checkpoint(ctx context.Context, sessionID, checkpointID uuid.UUID) (game.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, checkpointID uuid.UUID) error
	Checkpoints(ctx context.Context, sessionID uuid.UUID) ([]game.Checkpoint, error)
}

// Snapshot is a full dump of the registry.
type Snapshot struct {
	TakenAt     time.Time         `json:"taken_at"`
	Sessions    []game.Session    `json:"sessions"`
	Checkpoints []game.Checkpoint `json:"checkpoints"`
	Controllers []game.Controller `json:"controllers"`
	Storylines  []game.Storyline  `json:"storylines"`
}
