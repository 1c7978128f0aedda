package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Spok95/repair-bot/internal/bot"
	"github.com/Spok95/repair-bot/internal/domain/catalog"
	"github.com/Spok95/repair-bot/internal/domain/leads"
	"github.com/Spok95/repair-bot/internal/domain/pricing"
	"github.com/Spok95/repair-bot/internal/domain/shops"
	"github.com/Spok95/repair-bot/internal/domain/users"
	"github.com/Spok95/repair-bot/internal/extract"
	"github.com/Spok95/repair-bot/internal/infra/events"
	httpx "github.com/Spok95/repair-bot/internal/infra/http"
	"github.com/Spok95/repair-bot/internal/infra/lock"
	"github.com/Spok95/repair-bot/internal/orchestrator"
)

type serveOptions struct {
	SkipMigrations bool
	NoTelegram     bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API, telegram bots of all active shops and the idle sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := load(root)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, e, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.SkipMigrations, "skip-migrations", false, "do not apply migrations on start")
	cmd.Flags().BoolVar(&opts.NoTelegram, "no-telegram", false, "run without telegram bots (HTTP API only)")
	return cmd
}

func serve(ctx context.Context, e env, opts serveOptions) error {
	log, cfg := e.log, e.cfg

	if !opts.SkipMigrations {
		if err := runMigrations(cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		log.Info("migrations applied")
	}

	pool, err := connect(ctx, e)
	if err != nil {
		return err
	}
	defer pool.Close()

	locker, closeLocker, err := newLocker(ctx, e)
	if err != nil {
		return err
	}
	defer closeLocker()

	notifier := bot.NewNotifier()
	publisher := events.Multi{notifier}
	if cfg.RabbitMQ.Enabled {
		broker, err := events.NewAMQP(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			return fmt.Errorf("rabbitmq: %w", err)
		}
		publisher = append(publisher, broker)
		log.Info("rabbitmq connected", "exchange", cfg.RabbitMQ.Exchange)
	}
	defer func() { _ = publisher.Close() }()

	var extractor orchestrator.Extractor = extract.Keyword{}
	if cfg.LLM.APIKey != "" {
		extractor = extract.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, log)
		log.Info("llm extractor enabled", "model", cfg.LLM.Model)
	} else {
		log.Warn("llm.api_key is empty, using keyword extractor")
	}

	shopRepo := shops.NewRepo(pool)
	ruleRepo := pricing.NewRepo(pool)
	svc := orchestrator.New(orchestrator.Deps{
		Store:          orchestrator.NewPGStore(pool),
		Shops:          shopRepo,
		Estimator:      pricing.NewEstimator(ruleRepo, log),
		Catalog:        catalog.NewRepo(pool),
		Extractor:      extractor,
		Locker:         locker,
		Events:         publisher,
		Log:            log,
		ExtractTimeout: cfg.LLM.Timeout,
		MaxRetries:     cfg.Dialog.MaxExtractionRetries,
	})

	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, svc, log)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.RunSweeper(ctx, cfg.Dialog.SweepInterval, cfg.Dialog.IdleTimeout)
	}()

	if !opts.NoTelegram {
		deps := bot.Deps{
			Turns: svc,
			Staff: users.NewRepo(pool),
			Rules: ruleRepo,
			Leads: leads.NewRepo(pool),
			Log:   log,
		}
		if err := startBots(ctx, e, shopRepo, deps, notifier, &wg); err != nil {
			return err
		}
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
	log.Info("graceful shutdown complete")
	return nil
}

// newLocker — redis-блокировки для нескольких инстансов, иначе в памяти процесса.
func newLocker(ctx context.Context, e env) (lock.Locker, func(), error) {
	if !e.cfg.Redis.Enabled {
		return lock.NewMemory(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: e.cfg.Redis.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	e.log.Info("redis lock enabled", "addr", e.cfg.Redis.Addr, "ttl", e.cfg.Redis.LockTTL)
	return lock.NewRedis(client, e.cfg.Redis.LockTTL), func() { _ = client.Close() }, nil
}

// startBots поднимает по боту на каждый активный магазин с токеном.
func startBots(ctx context.Context, e env, repo *shops.Repo, deps bot.Deps, n *bot.Notifier, wg *sync.WaitGroup) error {
	list, err := repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list shops: %w", err)
	}

	started := 0
	for _, sh := range list {
		if sh.TelegramToken == "" {
			e.log.Warn("shop has no telegram token", "shop", sh.Slug)
			continue
		}
		api, err := tgbotapi.NewBotAPI(sh.TelegramToken)
		if err != nil {
			e.log.Error("telegram auth failed", "shop", sh.Slug, "err", err)
			continue
		}
		api.Debug = e.cfg.App.Env == "dev"

		b := bot.New(api, sh, e.cfg.Telegram.SendRPS, deps)
		n.Register(b)
		started++

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Run(ctx, e.cfg.Telegram.PollTimeout); err != nil && !errors.Is(err, context.Canceled) {
				e.log.Error("telegram bot stopped", "shop", b.Shop().Slug, "err", err)
			}
		}()
	}
	e.log.Info("telegram bots started", "count", started, "shops", len(list))
	return nil
}
