package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"escapade/pkg/bus"
	"escapade/pkg/clock"
	"escapade/pkg/config"
	"escapade/pkg/db"
	gos3 "escapade/pkg/s3"
	"escapade/pkg/telemetry"
	"escapade/services/api"
	"escapade/services/leaderboard"
	"escapade/services/orchestrator"
	"escapade/services/settings"
	"escapade/services/store"
)

const eventRetention = 30 * 24 * time.Hour

func main() {
	if err := run("escapade-api"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, cfg.Telemetry(serviceName))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown")
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	st, err := store.NewPostgres(pool, store.WithMaxRetries(cfg.StoreMaxRetries))
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	prefs, err := settings.Load(cfg.SettingsFile)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	opts := orchestrator.Options{
		Store:                 st,
		Settings:              prefs,
		Clock:                 clock.System{},
		Logger:                logger,
		DefaultSessionMinutes: cfg.DefaultSessionMinutes,
	}

	var eventBus *bus.Bus
	if cfg.NATSURL != "" {
		eventBus, err = bus.New(cfg.NATSURL, nats.Name(serviceName), nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer eventBus.Close()
		if err := eventBus.EnsureStream(eventRetention); err != nil {
			return fmt.Errorf("ensure event stream: %w", err)
		}
		opts.Publisher = eventBus
	} else {
		logger.Warn().Msg("NATS_URL not set, lifecycle events are not published")
	}

	var photos *api.PhotoBucket
	if cfg.S3.Enabled() {
		client, err := gos3.NewClient(ctx, cfg.S3.ClientOptions())
		if err != nil {
			return fmt.Errorf("init s3 client: %w", err)
		}
		if photos, err = api.NewPhotoBucket(client, cfg.S3.Bucket, cfg.PhotoURLTTL); err != nil {
			return fmt.Errorf("init photo bucket: %w", err)
		}
		opts.Photos = photos
	}

	svc, err := orchestrator.New(opts)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	board, rdb, err := newLeaderboard(st, cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	ready := func(ctx context.Context) error {
		if err := st.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if eventBus != nil && !eventBus.Connected() {
			return errors.New("nats: disconnected")
		}
		return nil
	}

	handlers, err := api.New(api.Options{
		Service:        svc,
		Leaderboard:    board,
		Photos:         photos,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		RFIDRateLimit:  cfg.RFIDRateLimit,
		Ready:          ready,
		Middleware:     middleware,
	})
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", server.Addr).Msg("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// newLeaderboard returns the projector, fronted by Redis when REDIS_URL is set.
func newLeaderboard(st store.Reader, cfg config.Config, logger zerolog.Logger) (leaderboard.Source, *redis.Client, error) {
	projector, err := leaderboard.NewProjector(st, clock.System{})
	if err != nil {
		return nil, nil, fmt.Errorf("init leaderboard: %w", err)
	}
	if cfg.RedisURL == "" {
		return projector, nil, nil
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	cached, err := leaderboard.NewCached(projector, rdb, cfg.LeaderboardCacheTTL, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("init leaderboard cache: %w", err)
	}
	return cached, rdb, nil
}
