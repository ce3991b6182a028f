// Package admin implements the operator tasks behind escapadectl.
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"escapade/pkg/clock"
	"escapade/services/archive"
	"escapade/services/game"
	"escapade/services/store"
)

// Sink receives a snapshot archive and reports where it went.
type Sink func(ctx context.Context, snap store.Snapshot) (string, error)

// FileSink writes archives to path.
func FileSink(path string, opts archive.Options) Sink {
	return func(ctx context.Context, snap store.Snapshot) (string, error) {
		if _, err := archive.WriteFile(ctx, path, snap, opts); err != nil {
			return "", err
		}
		return path, nil
	}
}

// Admin runs operator commands against a Store.
type Admin struct {
	store store.Store
	clock clock.Clock
	log   zerolog.Logger
	out   io.Writer
}

// New returns an Admin writing progress to out.
func New(st store.Store, clk clock.Clock, logger zerolog.Logger, out io.Writer) (*Admin, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	if out == nil {
		out = io.Discard
	}
	return &Admin{store: st, clock: clk, log: logger, out: out}, nil
}

// AddController registers a checkpoint station.
func (a *Admin) AddController(ctx context.Context, name, ip string) (game.Controller, error) {
	name = strings.TrimSpace(name)
	ip = strings.TrimSpace(ip)
	if name == "" || ip == "" {
		return game.Controller{}, game.Invalid("name and ip address are required")
	}
	if net.ParseIP(ip) == nil {
		return game.Controller{}, game.Invalid(fmt.Sprintf("%q is not an IP address", ip))
	}
	c, err := a.store.CreateController(ctx, name, ip)
	if err != nil {
		return game.Controller{}, err
	}
	a.log.Info().Str("controller_id", c.ID.String()).Str("ip_address", ip).Msg("controller registered")
	fmt.Fprintf(a.out, "registered controller %s (%s) %s\n", c.Name, c.IPAddress, c.ID)
	return c, nil
}

// ListControllers prints every controller.
func (a *Admin) ListControllers(ctx context.Context) ([]game.Controller, error) {
	controllers, err := a.store.ListControllers(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range controllers {
		fmt.Fprintf(a.out, "%s\t%s\t%s\n", c.ID, c.IPAddress, c.Name)
	}
	return controllers, nil
}

// AddStoryline registers a storyline parties can pick at signup.
func (a *Admin) AddStoryline(ctx context.Context, title string) (game.Storyline, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return game.Storyline{}, game.Invalid("title is required")
	}
	sl, err := a.store.CreateStoryline(ctx, title)
	if err != nil {
		return game.Storyline{}, err
	}
	fmt.Fprintf(a.out, "registered storyline %q %s\n", sl.Title, sl.ID)
	return sl, nil
}

// Archive snapshots the registry into sink.
func (a *Admin) Archive(ctx context.Context, sink Sink) (string, error) {
	if sink == nil {
		return "", errors.New("archive sink is required")
	}
	snap, err := a.store.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = a.clock.Now()
	}
	where, err := sink(ctx, snap)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	a.log.Info().Str("location", where).Int("sessions", len(snap.Sessions)).Msg("snapshot archived")
	fmt.Fprintf(a.out, "archived %d sessions and %d checkpoints to %s\n", len(snap.Sessions), len(snap.Checkpoints), where)
	return where, nil
}

// Reset deletes every session and checkpoint. When sink is set the registry
// is archived first and nothing is deleted if archiving fails.
func (a *Admin) Reset(ctx context.Context, sink Sink) error {
	if sink != nil {
		if _, err := a.Archive(ctx, sink); err != nil {
			return err
		}
	}
	if err := a.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	a.log.Warn().Msg("sessions and checkpoints reset")
	fmt.Fprintln(a.out, "all sessions and checkpoints deleted")
	return nil
}
