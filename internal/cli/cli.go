// Package cli defines the incident-pager command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bissquit/incident-pager/internal/app"
	"github.com/bissquit/incident-pager/internal/config"
	"github.com/bissquit/incident-pager/internal/identity/token"
	"github.com/bissquit/incident-pager/internal/pkg/postgres"
	"github.com/bissquit/incident-pager/internal/version"
	"github.com/urfave/cli/v3"
)

// Run executes the command line in args.
func Run(ctx context.Context, args []string) error {
	var configPath string

	cmd := &cli.Command{
		Name:    "incident-pager",
		Usage:   "Incident lifecycle API and notification fan-out",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to a YAML configuration file",
				Sources:     cli.EnvVars(config.EnvPrefix + "CONFIG"),
				Destination: &configPath,
			},
		},
		Commands: []*cli.Command{
			cmdServe(&configPath),
			cmdNotifier(&configPath),
			cmdMigrate(&configPath),
			cmdToken(&configPath, os.Stdout),
		},
	}

	if err := cmd.Run(ctx, args); err != nil {
		slog.Error("command failed", "error", err)
		return err
	}
	return nil
}

func cmdServe(configPath *string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Action: func(ctx context.Context, _ *cli.Command) error {
			return runApp(ctx, *configPath, (*app.App).Serve)
		},
	}
}

func cmdNotifier(configPath *string) *cli.Command {
	return &cli.Command{
		Name:  "notifier",
		Usage: "Consume incident events and deliver notifications",
		Action: func(ctx context.Context, _ *cli.Command) error {
			return runApp(ctx, *configPath, (*app.App).Notify)
		},
	}
}

func runApp(ctx context.Context, configPath string, run func(*app.App, context.Context) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()

	slog.Info("incident-pager started", "version", version.Version, "in_memory", cfg.Database.InMemory())
	if err := run(a, ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("incident-pager stopped")
	return nil
}

func cmdMigrate(configPath *string) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database schema migrations",
		Action: func(_ context.Context, _ *cli.Command) error {
			cfg, err := config.Read(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Database.InMemory() {
				return errors.New("database.url is required")
			}
			return postgres.Migrate(cfg.Database.URL)
		},
	}
}

func cmdToken(configPath *string, out io.Writer) *cli.Command {
	var (
		userID int64
		ttl    time.Duration
	)

	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for a user, signed with auth.secret",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "user-id",
				Usage:       "user id placed in the sub claim",
				Required:    true,
				Destination: &userID,
			},
			&cli.DurationFlag{
				Name:        "ttl",
				Usage:       "token lifetime",
				Value:       24 * time.Hour,
				Destination: &ttl,
			},
		},
		Action: func(_ context.Context, _ *cli.Command) error {
			cfg, err := config.Read(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Auth.Secret == "" {
				return errors.New("auth.secret is required")
			}

			tok, err := token.NewValidator(token.Config{Secret: cfg.Auth.Secret, Issuer: cfg.Auth.Issuer}).Issue(userID, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, tok)
			return err
		},
	}
}
