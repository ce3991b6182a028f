package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"escapade/pkg/bus"
	"escapade/pkg/clock"
	"escapade/pkg/metrics"
	"escapade/services/game"
	"escapade/services/settings"
	"escapade/services/store"
)

// Actors recorded on lifecycle events.
const (
	ActorPublic = "public"
	ActorStaff  = "staff"
	ActorRFID   = "rfid"
	ActorSystem = "system"
)

// Event types published after each committed transition.
const (
	EventSignedUp          = "session.signed_up"
	EventApproved          = "session.approved"
	EventRejected          = "session.rejected"
	EventStarted           = "session.started"
	EventPaused            = "session.paused"
	EventStopped           = "session.stopped"
	EventEnded             = "session.ended"
	EventExpired           = "session.expired"
	EventUpdated           = "session.updated"
	EventCheckpointCleared = "checkpoint.cleared"
	EventCheckpointRemoved = "checkpoint.removed"
)

// Publisher delivers lifecycle events. *bus.Bus satisfies it.
type Publisher interface {
	PublishEvent(ctx context.Context, ev bus.Event) error
}

// PhotoStore keeps profile photos and returns the stored object key.
type PhotoStore interface {
	PutPhoto(ctx context.Context, sessionID uuid.UUID, ext, contentType string, data []byte) (string, error)
}

// Options wires a Service.
type Options struct {
	Store    store.Store
	Settings *settings.Provider
	Clock    clock.Clock
	Logger   zerolog.Logger
	// Publisher is optional; events are dropped when nil.
	Publisher Publisher
	// Photos is optional; signups with a photo fail when nil.
	Photos PhotoStore
	// DefaultSessionMinutes applies when settings carry no session length.
	DefaultSessionMinutes int
}

// Service is the single entry point for session lifecycle transitions.
// Every operation runs its reads and writes in one store transaction.
type Service struct {
	store          store.Store
	settings       *settings.Provider
	clock          clock.Clock
	log            zerolog.Logger
	pub            Publisher
	photos         PhotoStore
	defaultMinutes int
}

// New validates opts and returns a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Settings == nil {
		return nil, errors.New("settings provider is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.DefaultSessionMinutes <= 0 {
		opts.DefaultSessionMinutes = 60
	}

	return &Service{
		store:          opts.Store,
		settings:       opts.Settings,
		clock:          opts.Clock,
		log:            opts.Logger.With().Str("component", "orchestrator").Logger(),
		pub:            opts.Publisher,
		photos:         opts.Photos,
		defaultMinutes: opts.DefaultSessionMinutes,
	}, nil
}

// Settings returns the settings provider backing policy checks.
func (s *Service) Settings() *settings.Provider { return s.settings }

// Store returns the underlying session registry.
func (s *Service) Store() store.Store { return s.store }

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// pending collects events raised inside a transaction; they are published
// only once it commits.
type pending []bus.Event

func (p *pending) add(eventType string, sess game.Session, actor string, at time.Time, data map[string]any) {
	*p = append(*p, bus.Event{
		Type:      eventType,
		SessionID: sess.ID.String(),
		Actor:     actor,
		At:        at,
		Data:      data,
	})
}

func (s *Service) publish(ctx context.Context, events pending) {
	for _, ev := range events {
		metrics.Transitions.WithLabelValues(ev.Type).Inc()
		if s.pub == nil {
			continue
		}
		if err := s.pub.PublishEvent(ctx, ev); err != nil {
			metrics.EventsPublished.WithLabelValues("error").Inc()
			s.log.Error().Err(err).Str("event", ev.Type).Str("session_id", ev.SessionID).Msg("publish event")
			continue
		}
		metrics.EventsPublished.WithLabelValues("ok").Inc()
	}
}

// expire persists a lazy expiry when due and records the event.
func expire(ctx context.Context, tx store.Tx, sess *game.Session, now time.Time, events *pending) (bool, error) {
	if !sess.ExpireIfDue(now) {
		return false, nil
	}
	if err := tx.SaveSession(ctx, *sess); err != nil {
		return false, err
	}
	events.add(EventExpired, *sess, ActorSystem, now, map[string]any{
		"elapsed_seconds": sess.TotalElapsedSeconds,
	})
	return true, nil
}

// logReject records a business-rule rejection at debug level and passes err through.
func (s *Service) logReject(op string, err error) error {
	if err == nil {
		return nil
	}
	if kind := game.KindOf(err); kind != "" {
		s.log.Debug().Str("op", op).Str("reason", game.ReasonOf(err)).Msg(err.Error())
	} else {
		s.log.Error().Err(err).Str("op", op).Msg("operation failed")
	}
	return err
}
