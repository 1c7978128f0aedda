package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/Spok95/repair-bot/internal/config"
	"github.com/Spok95/repair-bot/internal/infra/db"
	"github.com/Spok95/repair-bot/internal/infra/logger"
	"github.com/Spok95/repair-bot/migrations"
)

type rootOptions struct {
	ConfigPath string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:           "repair-bot",
		Short:         "Repair shop price assistant: telegram bots, HTTP API, price rules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "config/example.yaml", "path to config file")

	cmd.AddCommand(newServeCmd(&opts))
	cmd.AddCommand(newMigrateCmd(&opts))
	cmd.AddCommand(newRulesCmd(&opts))
	cmd.AddCommand(newShopsCmd(&opts))
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// env — то, что нужно каждой команде: конфиг и логгер.
type env struct {
	cfg config.Config
	log *slog.Logger
}

func load(opts *rootOptions) (env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return env{}, fmt.Errorf("load config: %w", err)
	}
	return env{cfg: cfg, log: logger.New(cfg.App.Env)}, nil
}

func connect(ctx context.Context, e env) (*pgxpool.Pool, error) {
	if e.cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is not set")
	}
	pool, err := db.Connect(ctx, e.cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	e.log.Info("db connected")
	return pool, nil
}

func runMigrations(dsn string) error {
	sqlDB, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()

	goose.SetBaseFS(migrations.FS)
	return goose.Up(sqlDB, ".")
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := load(root)
			if err != nil {
				return err
			}
			if err := runMigrations(e.cfg.Postgres.DSN); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			e.log.Info("migrations applied")
			return nil
		},
	}
}
