package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/parley-io/parley/internal/api"
	"github.com/parley-io/parley/internal/config"
	"github.com/parley-io/parley/internal/db"
	"github.com/parley-io/parley/internal/marketplace"
	"github.com/parley-io/parley/internal/notify"
	"github.com/parley-io/parley/internal/notify/discord"
	"github.com/parley-io/parley/internal/notify/slack"
	"github.com/parley-io/parley/internal/queue"
	"github.com/parley-io/parley/internal/session"
	"github.com/parley-io/parley/internal/task"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Parley API server",
		Long:  "Connects to MySQL and Redis, starts the session API and the optional timeout sweeper, and blocks until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(dbParams(cfg))
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	q := queue.NewRedis(rdb)

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	maxInactive := time.Duration(cfg.Session.MaxInactiveMinutes) * time.Minute
	sessions := session.NewManager(gormDB, session.Options{
		Detector: session.NewPrefixDetector("", cfg.Session.OperatorNicknames),
		Notifier: notifier,
	})

	resolver, err := buildResolver(cfg, gormDB)
	if err != nil {
		return err
	}
	dispatcher := task.NewDispatcher(gormDB, q, sessions, task.Options{
		Resolver:    resolver,
		MaxInactive: maxInactive,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Session.SweepCron != "" {
		sweeper := cron.New()
		_, err := sweeper.AddFunc(cfg.Session.SweepCron, func() {
			n, err := session.SweepTimeouts(gormDB, maxInactive)
			if err != nil {
				slog.Error("timeout sweep failed", "error", err)
				return
			}
			if n > 0 {
				slog.Info("timeout sweep", "sessions", n)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule sweep %q: %w", cfg.Session.SweepCron, err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	return api.Start(ctx, api.StartOpts{
		Sessions:    sessions,
		Dispatcher:  dispatcher,
		MaxInactive: maxInactive,
		Port:        cfg.API.Port,
		Out:         cmd.OutOrStdout(),
	})
}

// buildNotifier picks the configured hand-off channel: Slack wins over
// Discord, and with neither configured hand-offs are only logged.
func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	if cfg.Notify.Slack.BotToken != "" {
		n, err := slack.New(slack.Opts{
			BotToken:  cfg.Notify.Slack.BotToken,
			ChannelID: cfg.Notify.Slack.ChannelID,
		})
		if err != nil {
			return nil, fmt.Errorf("slack notifier: %w", err)
		}
		return n, nil
	}
	if cfg.Notify.Discord.BotToken != "" {
		n, err := discord.New(discord.Opts{
			BotToken:  cfg.Notify.Discord.BotToken,
			ChannelID: cfg.Notify.Discord.ChannelID,
		})
		if err != nil {
			return nil, fmt.Errorf("discord notifier: %w", err)
		}
		return n, nil
	}
	return notify.LogNotifier{}, nil
}

// buildResolver wires the bargain resolver when the marketplace gateway is
// configured; without it, dispatch info falls back to the stored content.
func buildResolver(cfg *config.Config, gormDB *gorm.DB) (task.Resolver, error) {
	if cfg.Marketplace.GatewayURL == "" {
		return nil, nil
	}
	client := marketplace.NewClient(cfg.Marketplace.GatewayURL, cfg.Marketplace.AppKey, cfg.Marketplace.AppSecret)
	tokenRDB := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.TokenDB,
	})
	tokens := marketplace.NewTokenStore(tokenRDB, client)

	subAccounts := make(map[int64]task.SubAccount, len(cfg.Marketplace.SubAccounts))
	for id, sub := range cfg.Marketplace.SubAccounts {
		subAccounts[id] = task.SubAccount{LoginName: sub.LoginName, Password: sub.Password}
	}
	return task.NewBargainResolver(gormDB, client, tokens, subAccounts), nil
}
