package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"escapade/pkg/clock"
	"escapade/pkg/config"
	"escapade/pkg/db"
	gos3 "escapade/pkg/s3"
	"escapade/pkg/telemetry"
	"escapade/services/admin"
	"escapade/services/archive"
	"escapade/services/store"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// env is the connected state shared by subcommands.
type env struct {
	cfg   config.Config
	pool  *pgxpool.Pool
	admin *admin.Admin
}

func connect(ctx context.Context) (*env, error) {
	_ = godotenv.Load()
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	opts := cfg.Telemetry("escapadectl")
	opts.Console = true
	logger := telemetry.NewLogger(opts)

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	st, err := store.NewPostgres(pool, store.WithMaxRetries(cfg.StoreMaxRetries))
	if err != nil {
		pool.Close()
		return nil, err
	}
	a, err := admin.New(st, clock.System{}, logger, os.Stdout)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &env{cfg: cfg, pool: pool, admin: a}, nil
}

func (e *env) close() { e.pool.Close() }

// sink picks a local file when output is set, otherwise the configured bucket.
func (e *env) sink(ctx context.Context, output string) (admin.Sink, error) {
	recipients, err := archive.ParseRecipients(e.cfg.AgeRecipient)
	if err != nil {
		return nil, err
	}
	opts := archive.Options{Recipients: recipients}
	if output != "" {
		return admin.FileSink(output, opts), nil
	}
	if !e.cfg.S3.Enabled() {
		return nil, errors.New("either --output or S3_BUCKET is required")
	}
	client, err := gos3.NewClient(ctx, e.cfg.S3.ClientOptions())
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	bucket := e.cfg.S3.Bucket
	return func(ctx context.Context, snap store.Snapshot) (string, error) {
		key, _, err := archive.Upload(ctx, client, bucket, snap, opts)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("s3://%s/%s", bucket, key), nil
	}, nil
}

func withEnv(fn func(ctx context.Context, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		e, err := connect(ctx)
		if err != nil {
			return err
		}
		defer e.close()
		return fn(ctx, e, args)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "escapadectl",
		Short:         "Operator utility for the escapade arena backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newResetCommand())
	cmd.AddCommand(newArchiveCommand())
	cmd.AddCommand(newControllersCommand())
	cmd.AddCommand(newStorylinesCommand())
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
			if err := db.Migrate(ctx, e.pool); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		}),
	}
}

func newResetCommand() *cobra.Command {
	var (
		archiveFirst bool
		output       string
		yes          bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every session and checkpoint; controllers and storylines stay",
		RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
			if !yes {
				return errors.New("reset deletes all sessions; pass --yes to confirm")
			}
			var sink admin.Sink
			if archiveFirst {
				var err error
				if sink, err = e.sink(ctx, output); err != nil {
					return err
				}
			}
			return e.admin.Reset(ctx, sink)
		}),
	}

	cmd.Flags().BoolVar(&archiveFirst, "archive", false, "Archive a snapshot before deleting")
	cmd.Flags().StringVar(&output, "output", "", "Write the archive to this file instead of S3")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

func newArchiveCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Write a tar.zst snapshot of the registry to a file or S3",
		RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
			sink, err := e.sink(ctx, output)
			if err != nil {
				return err
			}
			_, err = e.admin.Archive(ctx, sink)
			return err
		}),
	}

	cmd.Flags().StringVar(&output, "output", "", "Destination file (tar.zst); defaults to the S3 bucket")
	return cmd
}

func newControllersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "controllers",
		Short: "Checkpoint station registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var name, ip string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a controller",
		RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
			_, err := e.admin.AddController(ctx, name, ip)
			return err
		}),
	}
	add.Flags().StringVar(&name, "name", "", "Display name")
	add.Flags().StringVar(&ip, "ip", "", "IP address the controller reports from")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("ip")

	list := &cobra.Command{
		Use:   "list",
		Short: "List controllers",
		RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
			_, err := e.admin.ListControllers(ctx)
			return err
		}),
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newStorylinesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storylines",
		Short: "Storyline registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var title string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a storyline",
		RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
			_, err := e.admin.AddStoryline(ctx, title)
			return err
		}),
	}
	add.Flags().StringVar(&title, "title", "", "Storyline title")
	_ = add.MarkFlagRequired("title")

	cmd.AddCommand(add)
	return cmd
}
