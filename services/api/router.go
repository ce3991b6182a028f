// Package api serves the escapade HTTP interface: public signup and
// leaderboard, the staff dashboard, and the RFID reader endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"escapade/services/leaderboard"
	"escapade/services/orchestrator"
)

const defaultRFIDRateLimit = 600

// Options wires the HTTP layer.
type Options struct {
	Service     *orchestrator.Service
	Leaderboard leaderboard.Source
	// Photos is optional; photo uploads and redirects answer 424 without it.
	Photos *PhotoBucket
	Logger zerolog.Logger

	AllowedOrigins []string
	// RFIDRateLimit caps reader requests per client IP per minute.
	RFIDRateLimit int
	// Ready reports whether backing services are reachable.
	Ready func(ctx context.Context) error
	// Middleware wraps every request, typically telemetry.Middleware.
	Middleware func(http.Handler) http.Handler
}

// API holds handler dependencies.
type API struct {
	svc    *orchestrator.Service
	board  leaderboard.Source
	photos *PhotoBucket
	log    zerolog.Logger
	opts   Options
}

// New validates opts and returns an API.
func New(opts Options) (*API, error) {
	if opts.Service == nil {
		return nil, errors.New("orchestrator service is required")
	}
	if opts.Leaderboard == nil {
		return nil, errors.New("leaderboard source is required")
	}
	if opts.RFIDRateLimit <= 0 {
		opts.RFIDRateLimit = defaultRFIDRateLimit
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &API{
		svc:    opts.Service,
		board:  opts.Leaderboard,
		photos: opts.Photos,
		log:    opts.Logger.With().Str("component", "api").Logger(),
		opts:   opts,
	}, nil
}

// Routes constructs the chi router containing all endpoints.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if a.opts.Middleware != nil {
		r.Use(a.opts.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Route("/public", func(r chi.Router) {
			r.Post("/signup", a.handleSignup)
			r.Get("/leaderboard", a.handleLeaderboard)
			r.Get("/controllers", a.handleControllers)
			r.Get("/sessions/{id}/photo", a.handlePhoto)
		})

		r.Get("/pending", a.handleListPending)
		r.Post("/pending/{id}/approve", a.handleApprove)
		r.Post("/pending/{id}/reject", a.handleReject)

		r.Get("/sessions/live", a.handleListLive)
		r.Get("/sessions/ended", a.handleListEnded)
		r.Put("/sessions/{id}", a.handleUpdateSession)
		r.Post("/sessions/{id}/end", a.handleEndSession)
		r.Post("/sessions/{id}/checkpoints", a.handleAddCheckpoint)
		r.Delete("/sessions/{id}/checkpoints/{checkpointID}", a.handleRemoveCheckpoint)

		r.Get("/settings/general", a.handleGetSettings)
		r.Put("/settings/general", a.handlePutSettings)

		r.Route("/rfid", func(r chi.Router) {
			r.Use(httprate.LimitByIP(a.opts.RFIDRateLimit, time.Minute))
			r.Post("/start", a.handleRfidStart)
			r.Post("/pause", a.handleRfidPause)
			r.Post("/stop", a.handleRfidStop)
			r.Post("/checkpoint", a.handleRfidCheckpoint)
			r.Post("/status", a.handleRfidStatus)
		})
	})

	return r
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		if err := a.opts.Ready(ctx); err != nil {
			a.log.Warn().Err(err).Msg("readiness check failed")
			respondError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
