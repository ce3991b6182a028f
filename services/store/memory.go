package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"escapade/services/game"
)

// Memory is an in-process Store. A single mutex serializes transactions;
// each transaction works on a copy of the state that replaces the original
// only when fn succeeds.
type Memory struct {
	mu    sync.Mutex
	state memState
	now   func() time.Time
}

type memState struct {
	sessions    map[uuid.UUID]game.Session
	checkpoints map[uuid.UUID]game.Checkpoint
	controllers map[uuid.UUID]game.Controller
	storylines  map[uuid.UUID]game.Storyline
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		state: memState{
			sessions:    map[uuid.UUID]game.Session{},
			checkpoints: map[uuid.UUID]game.Checkpoint{},
			controllers: map[uuid.UUID]game.Controller{},
			storylines:  map[uuid.UUID]game.Storyline{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (st memState) clone() memState {
	out := memState{
		sessions:    make(map[uuid.UUID]game.Session, len(st.sessions)),
		checkpoints: make(map[uuid.UUID]game.Checkpoint, len(st.checkpoints)),
		controllers: make(map[uuid.UUID]game.Controller, len(st.controllers)),
		storylines:  make(map[uuid.UUID]game.Storyline, len(st.storylines)),
	}
	for id, s := range st.sessions {
		out.sessions[id] = s.Clone()
	}
	for id, cp := range st.checkpoints {
		out.checkpoints[id] = cp
	}
	for id, c := range st.controllers {
		out.controllers[id] = c
	}
	for id, sl := range st.storylines {
		out.storylines[id] = sl
	}
	return out
}

// InTx runs fn against a private copy of the state.
func (m *Memory) InTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *Memory) SessionsByStatus(_ context.Context, statuses ...game.Status) ([]game.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := map[game.Status]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []game.Session
	for _, s := range m.state.sessions {
		if len(want) > 0 && !want[s.Status] {
			continue
		}
		out = append(out, m.state.withTitle(s.Clone()))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *Memory) CheckpointsFor(_ context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID][]game.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[uuid.UUID]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		want[id] = true
	}
	out := map[uuid.UUID][]game.Checkpoint{}
	for _, cp := range m.state.checkpoints {
		if want[cp.SessionID] {
			out[cp.SessionID] = append(out[cp.SessionID], m.state.withController(cp))
		}
	}
	for id := range out {
		sortCheckpoints(out[id])
	}
	return out, nil
}

func (m *Memory) ListControllers(_ context.Context) ([]game.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]game.Controller, 0, len(m.state.controllers))
	for _, c := range m.state.controllers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CountControllers(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.controllers), nil
}

func (m *Memory) CreateController(_ context.Context, name, ipAddress string) (game.Controller, error) {
	name, ipAddress = strings.TrimSpace(name), strings.TrimSpace(ipAddress)
	if name == "" || ipAddress == "" {
		return game.Controller{}, game.Invalid("controller name and ip address are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.state.controllers {
		if c.IPAddress == ipAddress {
			return game.Controller{}, fmt.Errorf("%w: controller with ip %s exists", game.ErrConflict, ipAddress)
		}
	}
	c := game.Controller{ID: uuid.New(), Name: name, IPAddress: ipAddress}
	m.state.controllers[c.ID] = c
	return c, nil
}

func (m *Memory) CreateStoryline(_ context.Context, title string) (game.Storyline, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return game.Storyline{}, game.Invalid("storyline title is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sl := game.Storyline{ID: uuid.New(), Title: title}
	m.state.storylines[sl.ID] = sl
	return sl, nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.sessions = map[uuid.UUID]game.Session{}
	m.state.checkpoints = map[uuid.UUID]game.Checkpoint{}
	return nil
}

func (m *Memory) Snapshot(ctx context.Context) (Snapshot, error) {
	sessions, err := m.SessionsByStatus(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	controllers, err := m.ListControllers(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{TakenAt: m.now(), Sessions: sessions, Controllers: controllers}
	for _, cp := range m.state.checkpoints {
		snap.Checkpoints = append(snap.Checkpoints, m.state.withController(cp))
	}
	sortCheckpoints(snap.Checkpoints)
	for _, sl := range m.state.storylines {
		snap.Storylines = append(snap.Storylines, sl)
	}
	sort.Slice(snap.Storylines, func(i, j int) bool { return snap.Storylines[i].Title < snap.Storylines[j].Title })
	return snap, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (st memState) withTitle(s game.Session) game.Session {
	if s.StorylineID != nil {
		s.StorylineTitle = st.storylines[*s.StorylineID].Title
	}
	return s
}

func (st memState) withController(cp game.Checkpoint) game.Checkpoint {
	cp.Controller = st.controllers[cp.ControllerID]
	return cp
}

func sortCheckpoints(cps []game.Checkpoint) {
	sort.Slice(cps, func(i, j int) bool {
		if !cps[i].ClearedAt.Equal(cps[j].ClearedAt) {
			return cps[i].ClearedAt.Before(cps[j].ClearedAt)
		}
		return cps[i].ID.String() < cps[j].ID.String()
	})
}

type memTx struct {
	state memState
}

func (tx *memTx) CreateSession(_ context.Context, s *game.Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if _, exists := tx.state.sessions[s.ID]; exists {
		return fmt.Errorf("%w: session %s exists", game.ErrConflict, s.ID)
	}
	if err := tx.checkTag(*s); err != nil {
		return err
	}
	tx.state.sessions[s.ID] = s.Clone()
	return nil
}

func (tx *memTx) LockSession(_ context.Context, id uuid.UUID) (game.Session, error) {
	s, ok := tx.state.sessions[id]
	if !ok {
		return game.Session{}, game.ErrSessionNotFound
	}
	return tx.state.withTitle(s.Clone()), nil
}

func (tx *memTx) LockSessionByTag(_ context.Context, tag string) (game.Session, error) {
	var (
		found  game.Session
		exists bool
	)
	for _, s := range tx.state.sessions {
		if tag == "" || s.RFIDTag != tag {
			continue
		}
		if !exists || preferForTag(s, found) {
			found, exists = s, true
		}
	}
	if !exists {
		return game.Session{}, game.ErrNoSessionForTag
	}
	return tx.state.withTitle(found.Clone()), nil
}

// preferForTag reports whether a ranks before b when resolving a tag.
func preferForTag(a, b game.Session) bool {
	aApproved, bApproved := a.Status == game.StatusApproved, b.Status == game.StatusApproved
	if aApproved != bApproved {
		return aApproved
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (tx *memTx) SaveSession(_ context.Context, s game.Session) error {
	if _, ok := tx.state.sessions[s.ID]; !ok {
		return game.ErrSessionNotFound
	}
	if err := tx.checkTag(s); err != nil {
		return err
	}
	s.StorylineTitle = ""
	tx.state.sessions[s.ID] = s.Clone()
	return nil
}

func (tx *memTx) checkTag(s game.Session) error {
	if s.Status != game.StatusApproved || s.RFIDTag == "" {
		return nil
	}
	for id, other := range tx.state.sessions {
		if id != s.ID && other.Status == game.StatusApproved && other.RFIDTag == s.RFIDTag {
			return game.ErrTagInUse
		}
	}
	return nil
}

func (tx *memTx) ControllerByID(_ context.Context, id uuid.UUID) (game.Controller, error) {
	c, ok := tx.state.controllers[id]
	if !ok {
		return game.Controller{}, game.ErrControllerNotFound
	}
	return c, nil
}

func (tx *memTx) ControllerByAddress(_ context.Context, ip string) (game.Controller, error) {
	for _, c := range tx.state.controllers {
		if c.IPAddress == ip {
			return c, nil
		}
	}
	return game.Controller{}, game.ErrControllerNotFound
}

func (tx *memTx) StorylineByID(_ context.Context, id uuid.UUID) (game.Storyline, error) {
	sl, ok := tx.state.storylines[id]
	if !ok {
		return game.Storyline{}, game.ErrStorylineNotFound
	}
	return sl, nil
}

func (tx *memTx) InsertCheckpoint(_ context.Context, cp game.Checkpoint) (game.Checkpoint, bool, error) {
	for _, existing := range tx.state.checkpoints {
		if existing.SessionID == cp.SessionID && existing.ControllerID == cp.ControllerID {
			return tx.state.withController(existing), false, nil
		}
	}
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.Controller = game.Controller{}
	tx.state.checkpoints[cp.ID] = cp
	return tx.state.withController(cp), true, nil
}

func (tx *memTx) Checkpoint(_ context.Context, sessionID, checkpointID uuid.UUID) (game.Checkpoint, error) {
	cp, ok := tx.state.checkpoints[checkpointID]
	if !ok || cp.SessionID != sessionID {
		return game.Checkpoint{}, game.ErrCheckpointNotFound
	}
	return tx.state.withController(cp), nil
}

func (tx *memTx) DeleteCheckpoint(_ context.Context, checkpointID uuid.UUID) error {
	if _, ok := tx.state.checkpoints[checkpointID]; !ok {
		return game.ErrCheckpointNotFound
	}
	delete(tx.state.checkpoints, checkpointID)
	return nil
}

func (tx *memTx) Checkpoints(_ context.Context, sessionID uuid.UUID) ([]game.Checkpoint, error) {
	var out []game.Checkpoint
	for _, cp := range tx.state.checkpoints {
		if cp.SessionID == sessionID {
			out = append(out, tx.state.withController(cp))
		}
	}
	sortCheckpoints(out)
	return out, nil
}
