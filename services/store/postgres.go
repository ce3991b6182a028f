package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"escapade/pkg/db"
	"escapade/pkg/metrics"
	"escapade/services/game"
)

const (
	approvedTagIndex  = "sessions_approved_tag_key"
	controllerIPIndex = "controllers_ip_address_key"

	// DefaultMaxRetries bounds retries of a transaction that hit a
	// serialization failure or deadlock.
	DefaultMaxRetries = 5
)

const sessionColumns = `s.id, s.party_name, s.email, s.team_size, s.receive_offers,
	s.storyline_id, COALESCE(st.title, '') AS storyline_title, s.profile_photo,
	s.avatar_id, s.rfid_tag, s.session_minutes, s.points, s.status, s.created_at,
	s.approved_at, s.started_at, s.last_started_at, s.total_elapsed_seconds,
	s.is_playing, s.ended_at`

// Postgres is the production Store. Writes go through GORM, listing reads
// through scany on the shared pgx pool.
type Postgres struct {
	pool       *pgxpool.Pool
	orm        *gorm.DB
	maxRetries uint64
	baseDelay  time.Duration
}

// PostgresOption customizes a Postgres store.
type PostgresOption func(*Postgres)

// WithMaxRetries sets how many times a contended transaction is retried.
func WithMaxRetries(n int) PostgresOption {
	return func(p *Postgres) {
		if n >= 0 {
			p.maxRetries = uint64(n)
		}
	}
}

// NewPostgres builds a Store over the pool.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	orm, err := db.ORM(pool)
	if err != nil {
		return nil, fmt.Errorf("open orm: %w", err)
	}

	p := &Postgres{
		pool:       pool,
		orm:        orm,
		maxRetries: DefaultMaxRetries,
		baseDelay:  20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// InTx runs fn in a transaction, retrying on serialization failures and
// deadlocks with exponential backoff.
func (p *Postgres) InTx(ctx context.Context, fn func(Tx) error) error {
	backoff := retry.WithMaxRetries(p.maxRetries, retry.NewExponential(p.baseDelay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.StoreRetries.Inc()
		}
		attempt++

		ctx, cancel := context.WithTimeout(ctx, db.DefaultTimeout)
		defer cancel()

		err := p.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&pgTx{db: tx})
		})
		if db.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if db.IsRetryable(err) {
		return fmt.Errorf("%w: %w", game.ErrContention, err)
	}
	return err
}

func (p *Postgres) SessionsByStatus(ctx context.Context, statuses ...game.Status) ([]game.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions s LEFT JOIN storylines st ON st.id = s.storyline_id`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, 0, len(statuses))
		for _, s := range statuses {
			names = append(names, string(s))
		}
		query += ` WHERE s.status = ANY($1::text[])`
		args = append(args, names)
	}
	query += ` ORDER BY s.created_at, s.id`

	var rows []sessionRow
	if err := db.Select(ctx, p.pool, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	out := make([]game.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toGame())
	}
	return out, nil
}

func (p *Postgres) CheckpointsFor(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID][]game.Checkpoint, error) {
	out := map[uuid.UUID][]game.Checkpoint{}
	if len(sessionIDs) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		ids = append(ids, id.String())
	}

	var rows []checkpointRow
	err := db.Select(ctx, p.pool, &rows, `
		SELECT c.id, c.session_id, c.controller_id, c.cleared_at, c.points_earned,
		       ctl.name AS controller_name, ctl.ip_address AS controller_ip
		FROM checkpoints c JOIN controllers ctl ON ctl.id = c.controller_id
		WHERE c.session_id = ANY($1::uuid[])
		ORDER BY c.cleared_at, c.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	for _, r := range rows {
		out[r.SessionID] = append(out[r.SessionID], r.toGame())
	}
	return out, nil
}

func (p *Postgres) ListControllers(ctx context.Context) ([]game.Controller, error) {
	ctx, cancel := context.WithTimeout(ctx, db.DefaultTimeout)
	defer cancel()

	var models []controllerModel
	if err := p.orm.WithContext(ctx).Order("name").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list controllers: %w", err)
	}
	out := make([]game.Controller, 0, len(models))
	for _, m := range models {
		out = append(out, m.toGame())
	}
	return out, nil
}

func (p *Postgres) CountControllers(ctx context.Context) (int, error) {
	var n int
	if err := db.Get(ctx, p.pool, &n, `SELECT count(*) FROM controllers`); err != nil {
		return 0, fmt.Errorf("count controllers: %w", err)
	}
	return n, nil
}

func (p *Postgres) CreateController(ctx context.Context, name, ipAddress string) (game.Controller, error) {
	name, ipAddress = strings.TrimSpace(name), strings.TrimSpace(ipAddress)
	if name == "" || ipAddress == "" {
		return game.Controller{}, game.Invalid("controller name and ip address are required")
	}

	ctx, cancel := context.WithTimeout(ctx, db.DefaultTimeout)
	defer cancel()

	m := controllerModel{ID: uuid.New(), Name: name, IPAddress: ipAddress}
	if err := p.orm.WithContext(ctx).Create(&m).Error; err != nil {
		if db.IsUniqueViolation(err, controllerIPIndex) {
			return game.Controller{}, fmt.Errorf("%w: controller with ip %s exists", game.ErrConflict, ipAddress)
		}
		return game.Controller{}, fmt.Errorf("create controller: %w", err)
	}
	return m.toGame(), nil
}

func (p *Postgres) CreateStoryline(ctx context.Context, title string) (game.Storyline, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return game.Storyline{}, game.Invalid("storyline title is required")
	}

	ctx, cancel := context.WithTimeout(ctx, db.DefaultTimeout)
	defer cancel()

	m := storylineModel{ID: uuid.New(), Title: title}
	if err := p.orm.WithContext(ctx).Create(&m).Error; err != nil {
		return game.Storyline{}, fmt.Errorf("create storyline: %w", err)
	}
	return m.toGame(), nil
}

func (p *Postgres) Reset(ctx context.Context) error {
	return p.InTx(ctx, func(tx Tx) error {
		g := tx.(*pgTx).db
		if err := g.Exec(`DELETE FROM checkpoints`).Error; err != nil {
			return fmt.Errorf("delete checkpoints: %w", err)
		}
		if err := g.Exec(`DELETE FROM sessions`).Error; err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		return nil
	})
}

func (p *Postgres) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{TakenAt: time.Now().UTC()}

	sessions, err := p.SessionsByStatus(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Sessions = sessions

	var cps []checkpointRow
	err = db.Select(ctx, p.pool, &cps, `
		SELECT c.id, c.session_id, c.controller_id, c.cleared_at, c.points_earned,
		       ctl.name AS controller_name, ctl.ip_address AS controller_ip
		FROM checkpoints c JOIN controllers ctl ON ctl.id = c.controller_id
		ORDER BY c.cleared_at, c.id`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("select checkpoints: %w", err)
	}
	for _, r := range cps {
		snap.Checkpoints = append(snap.Checkpoints, r.toGame())
	}

	if snap.Controllers, err = p.ListControllers(ctx); err != nil {
		return Snapshot{}, err
	}

	var storylines []storylineModel
	if err := p.orm.WithContext(ctx).Order("title").Find(&storylines).Error; err != nil {
		return Snapshot{}, fmt.Errorf("list storylines: %w", err)
	}
	for _, m := range storylines {
		snap.Storylines = append(snap.Storylines, m.toGame())
	}
	return snap, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return db.Ping(ctx, p.pool)
}

type pgTx struct {
	db *gorm.DB
}

func (tx *pgTx) locked(ctx context.Context) *gorm.DB {
	return tx.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (tx *pgTx) CreateSession(ctx context.Context, s *game.Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m := sessionFromGame(*s)
	if err := tx.db.WithContext(ctx).Create(&m).Error; err != nil {
		return tx.sessionWriteErr("create session", err)
	}
	return nil
}

func (tx *pgTx) LockSession(ctx context.Context, id uuid.UUID) (game.Session, error) {
	var m sessionModel
	err := tx.locked(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Session{}, game.ErrSessionNotFound
	}
	if err != nil {
		return game.Session{}, fmt.Errorf("lock session: %w", err)
	}
	return tx.withTitle(ctx, m.toGame())
}

func (tx *pgTx) LockSessionByTag(ctx context.Context, tag string) (game.Session, error) {
	if tag == "" {
		return game.Session{}, game.ErrNoSessionForTag
	}
	var m sessionModel
	err := tx.locked(ctx).
		Where("rfid_tag = ?", tag).
		Order("CASE WHEN status = 'approved' THEN 0 ELSE 1 END").
		Order("created_at DESC").
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Session{}, game.ErrNoSessionForTag
	}
	if err != nil {
		return game.Session{}, fmt.Errorf("lock session by tag: %w", err)
	}
	return tx.withTitle(ctx, m.toGame())
}

func (tx *pgTx) withTitle(ctx context.Context, s game.Session) (game.Session, error) {
	if s.StorylineID == nil {
		return s, nil
	}
	sl, err := tx.StorylineByID(ctx, *s.StorylineID)
	if errors.Is(err, game.ErrStorylineNotFound) {
		return s, nil
	}
	if err != nil {
		return game.Session{}, err
	}
	s.StorylineTitle = sl.Title
	return s, nil
}

func (tx *pgTx) SaveSession(ctx context.Context, s game.Session) error {
	m := sessionFromGame(s)
	res := tx.db.WithContext(ctx).Model(&sessionModel{}).Where("id = ?", s.ID).Select("*").Omit("id", "created_at").Updates(&m)
	if res.Error != nil {
		return tx.sessionWriteErr("save session", res.Error)
	}
	if res.RowsAffected == 0 {
		return game.ErrSessionNotFound
	}
	return nil
}

func (tx *pgTx) sessionWriteErr(op string, err error) error {
	if db.IsUniqueViolation(err, approvedTagIndex) {
		return game.ErrTagInUse
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (tx *pgTx) ControllerByID(ctx context.Context, id uuid.UUID) (game.Controller, error) {
	var m controllerModel
	err := tx.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Controller{}, game.ErrControllerNotFound
	}
	if err != nil {
		return game.Controller{}, fmt.Errorf("get controller: %w", err)
	}
	return m.toGame(), nil
}

func (tx *pgTx) ControllerByAddress(ctx context.Context, ip string) (game.Controller, error) {
	var m controllerModel
	err := tx.db.WithContext(ctx).Where("ip_address = ?", ip).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Controller{}, game.ErrControllerNotFound
	}
	if err != nil {
		return game.Controller{}, fmt.Errorf("get controller by address: %w", err)
	}
	return m.toGame(), nil
}

func (tx *pgTx) StorylineByID(ctx context.Context, id uuid.UUID) (game.Storyline, error) {
	var m storylineModel
	err := tx.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Storyline{}, game.ErrStorylineNotFound
	}
	if err != nil {
		return game.Storyline{}, fmt.Errorf("get storyline: %w", err)
	}
	return m.toGame(), nil
}

func (tx *pgTx) InsertCheckpoint(ctx context.Context, cp game.Checkpoint) (game.Checkpoint, bool, error) {
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	m := checkpointModel{
		ID:           cp.ID,
		SessionID:    cp.SessionID,
		ControllerID: cp.ControllerID,
		ClearedAt:    cp.ClearedAt,
		PointsEarned: cp.PointsEarned,
	}
	res := tx.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "controller_id"}},
		DoNothing: true,
	}).Create(&m)
	if res.Error != nil {
		return game.Checkpoint{}, false, fmt.Errorf("insert checkpoint: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return tx.attachController(ctx, m.toGame())
	}

	var existing checkpointModel
	err := tx.db.WithContext(ctx).
		Where("session_id = ? AND controller_id = ?", cp.SessionID, cp.ControllerID).
		Take(&existing).Error
	if err != nil {
		return game.Checkpoint{}, false, fmt.Errorf("fetch existing checkpoint: %w", err)
	}
	out, _, err := tx.attachController(ctx, existing.toGame())
	return out, false, err
}

func (tx *pgTx) attachController(ctx context.Context, cp game.Checkpoint) (game.Checkpoint, bool, error) {
	c, err := tx.ControllerByID(ctx, cp.ControllerID)
	if err != nil {
		return game.Checkpoint{}, false, err
	}
	cp.Controller = c
	return cp, true, nil
}

func (tx *pgTx) Checkpoint(ctx context.Context, sessionID, checkpointID uuid.UUID) (game.Checkpoint, error) {
	var m checkpointModel
	err := tx.db.WithContext(ctx).
		Where("id = ? AND session_id = ?", checkpointID, sessionID).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Checkpoint{}, game.ErrCheckpointNotFound
	}
	if err != nil {
		return game.Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}
	cp, _, err := tx.attachController(ctx, m.toGame())
	return cp, err
}

func (tx *pgTx) DeleteCheckpoint(ctx context.Context, checkpointID uuid.UUID) error {
	res := tx.db.WithContext(ctx).Where("id = ?", checkpointID).Delete(&checkpointModel{})
	if res.Error != nil {
		return fmt.Errorf("delete checkpoint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return game.ErrCheckpointNotFound
	}
	return nil
}

func (tx *pgTx) Checkpoints(ctx context.Context, sessionID uuid.UUID) ([]game.Checkpoint, error) {
	var models []checkpointModel
	err := tx.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("cleared_at, id").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]game.Checkpoint, 0, len(models))
	for _, m := range models {
		cp, _, err := tx.attachController(ctx, m.toGame())
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
	_ Tx    = (*pgTx)(nil)
	_ Tx    = (*memTx)(nil)
)
