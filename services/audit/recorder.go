// Package audit consumes lifecycle events from the bus and writes them to the
// audit table.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"escapade/pkg/bus"
	"escapade/pkg/db"
)

// Durable is the JetStream consumer name shared by audit replicas.
const Durable = "escapade-audit"

// Entry is one audit row.
type Entry struct {
	Actor   string
	Action  string
	Obj     string
	Details map[string]any
	At      time.Time
}

// Writer persists audit entries.
type Writer interface {
	WriteAudit(ctx context.Context, e Entry) error
}

// PostgresWriter inserts entries into the audit table.
type PostgresWriter struct {
	pool *pgxpool.Pool
}

// NewPostgresWriter returns a Writer backed by pool.
func NewPostgresWriter(pool *pgxpool.Pool) (*PostgresWriter, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	return &PostgresWriter{pool: pool}, nil
}

// WriteAudit inserts e.
func (w *PostgresWriter) WriteAudit(ctx context.Context, e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, w.pool, `
INSERT INTO audit (actor, action, obj, details, at)
VALUES ($1, $2, $3, $4::jsonb, $5)
`, e.Actor, e.Action, e.Obj, details, e.At)
	return err
}

// Recorder subscribes to every lifecycle event and records it.
type Recorder struct {
	bus    *bus.Bus
	writer Writer
	log    zerolog.Logger

	subMu sync.Mutex
	sub   io.Closer
}

// NewRecorder constructs a Recorder for the provided dependencies.
func NewRecorder(b *bus.Bus, writer Writer, logger zerolog.Logger) (*Recorder, error) {
	if b == nil {
		return nil, errors.New("bus is required")
	}
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	return &Recorder{bus: b, writer: writer, log: logger.With().Str("component", "audit").Logger()}, nil
}

// Start subscribes to lifecycle events and records them until ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) error {
	sub, err := r.bus.Subscribe(ctx, bus.AllEvents, Durable, func(msgCtx context.Context, data []byte) error {
		return handle(msgCtx, r.writer, r.log, data)
	})
	if err != nil {
		return err
	}

	r.subMu.Lock()
	r.sub = sub
	r.subMu.Unlock()
	return nil
}

// Close stops the subscription if it was created.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.subMu.Lock()
	defer r.subMu.Unlock()

	if r.sub == nil {
		return nil
	}
	err := r.sub.Close()
	r.sub = nil
	return err
}

// handle records one message. Undecodable payloads are logged and dropped
// so a poison message cannot wedge the consumer; write failures are returned
// for redelivery.
func handle(ctx context.Context, w Writer, log zerolog.Logger, data []byte) error {
	ev, err := bus.DecodeEvent(data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed event")
		return nil
	}
	e := entryFor(ev)
	if err := w.WriteAudit(ctx, e); err != nil {
		log.Error().Err(err).Str("action", e.Action).Str("session_id", e.Obj).Msg("write audit entry")
		return err
	}
	log.Debug().Str("action", e.Action).Str("session_id", e.Obj).Msg("audit entry written")
	return nil
}

func entryFor(ev bus.Event) Entry {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	actor := ev.Actor
	if actor == "" {
		actor = "system"
	}
	details := make(map[string]any, len(ev.Data)+1)
	for k, v := range ev.Data {
		details[k] = v
	}
	if changes := changesOf(ev.Data); len(changes) > 0 {
		details["changes"] = changes
	}
	return Entry{Actor: actor, Action: ev.Type, Obj: ev.SessionID, Details: details, At: at}
}

// changesOf pairs "<field>_before" keys with "<field>" into old/new diffs.
func changesOf(data map[string]any) map[string]map[string]any {
	diff := map[string]map[string]any{}
	for key, old := range data {
		field, ok := strings.CutSuffix(key, "_before")
		if !ok {
			continue
		}
		cur, present := data[field]
		if present && reflect.DeepEqual(old, cur) {
			continue
		}
		diff[field] = map[string]any{"old": old, "new": cur}
	}
	return diff
}
