package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v2"

	"github.com/nullposters/ciabot/internal/audit"
	"github.com/nullposters/ciabot/internal/auth"
	"github.com/nullposters/ciabot/internal/bot"
	"github.com/nullposters/ciabot/internal/chat"
	"github.com/nullposters/ciabot/internal/commands"
	"github.com/nullposters/ciabot/internal/dedupe"
	"github.com/nullposters/ciabot/internal/discord"
	"github.com/nullposters/ciabot/internal/messaging"
	"github.com/nullposters/ciabot/internal/metrics"
	"github.com/nullposters/ciabot/internal/settings"
)

var runCmd = &cli.Command{
	Name:   "run",
	Usage:  "connect to Discord and run the bot (default)",
	Action: runBot,
}

func runBot(cctx *cli.Context) error {
	logger := newLogger(cctx)
	token, err := requireFlag(cctx, "token")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	instance := uuid.NewString()
	logger.Info("starting ciabot", "version", versioninfo.Short(), "instance", instance, "production", cctx.Bool("production"))

	store, err := settings.Open(cctx.String("settings-path"), logger)
	if err != nil {
		return err
	}

	// Cross-replica settings broadcasts.
	var broadcaster *messaging.Broadcaster
	if url := cctx.String("nats-url"); url != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = url
		natsConfig.Name = "ciabot-" + instance[:8]
		natsClient, err := messaging.Connect(natsConfig, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := natsClient.Close(); err != nil {
				logger.Warn("nats close", "err", err)
			}
		}()

		broadcaster = messaging.NewBroadcaster(natsClient, instance, logger)
		err = broadcaster.Listen(func(messaging.SettingsChanged) {
			if _, err := store.Reload(); err != nil {
				logger.Error("reload after peer change failed", "err", err)
				return
			}
			metrics.SettingsReloads.WithLabelValues("peer").Inc()
		})
		if err != nil {
			return err
		}
	}
	announce := func(reason string) {
		if broadcaster == nil {
			return
		}
		if err := broadcaster.Announce(reason); err != nil {
			logger.Warn("settings broadcast failed", "reason", reason, "err", err)
		}
	}
	store.OnChange(func(settings.Settings) { announce("mutation") })

	if cctx.Bool("watch-settings") {
		watcher, err := settings.NewWatcher(store, settings.WatcherOptions{
			Logger: logger,
			OnReload: func(settings.Settings) {
				metrics.SettingsReloads.WithLabelValues("file").Inc()
				announce("reload")
			},
		})
		if err != nil {
			return err
		}
		defer watcher.Close()
	}

	// Message claims, shared through Redis when configured.
	var claimer dedupe.Claimer = dedupe.NewMemoryClaimer(dedupe.DefaultTTL)
	if addr := cctx.String("redis-addr"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			rdb.Close()
			return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
		}
		defer rdb.Close()
		claimer = dedupe.NewRedisClaimer(rdb, instance, dedupe.DefaultTTL, logger)
	}

	var recorder audit.Recorder = audit.Nop{}
	if url := cctx.String("database-url"); url != "" {
		auditStore, err := audit.Open(ctx, url)
		if err != nil {
			return err
		}
		defer auditStore.Close()
		recorder = auditStore
	}

	router := commands.NewRouter(auth.New(cctx.String("admin-id")), logger)
	commands.RegisterDefaults(router, commands.Defaults{
		Store: store,
		OnReload: func(settings.Settings) {
			metrics.SettingsReloads.WithLabelValues("command").Inc()
			announce("reload")
		},
	})
	router.Observe(func(ctx context.Context, res commands.Result) {
		entry := audit.CommandEntry{
			Command:     res.Command,
			InvokerID:   res.Invoker.ID,
			InvokerName: res.Invoker.Name,
			Result:      res.Outcome,
		}
		if res.Err != nil {
			entry.Detail = res.Err.Error()
		}
		if err := recorder.RecordCommand(ctx, entry); err != nil {
			logger.Warn("audit command failed", "command", res.Command, "err", err)
		}
	})

	adapter, err := discord.New(discord.Config{
		Token:   token,
		GuildID: cctx.String("guild-id"),
	}, logger)
	if err != nil {
		return err
	}

	activity := chat.NewActivityLog(chat.DefaultActivitySize)
	b := bot.New(bot.Config{
		Production:     cctx.Bool("production"),
		DebugChannelID: cctx.String("debug-channel-id"),
		Instance:       instance,
	}, adapter, store, bot.Options{
		Claimer:  claimer,
		Audit:    recorder,
		Activity: activity,
		Logger:   logger,
	})
	adapter.OnMessage(b.HandleMessage)
	adapter.OnCommand(router)

	var status *metrics.Server
	if addr := cctx.String("metrics-addr"); addr != "" {
		cfg := metrics.DefaultServerConfig()
		cfg.ListenAddr = addr
		status = metrics.NewServer(cfg, store, activity, versioninfo.Short(), logger)
		go func() {
			if err := status.Start(); err != nil {
				logger.Error("status server stopped", "err", err)
			}
		}()
	}

	if err := adapter.Open(ctx); err != nil {
		return err
	}
	logger.Info("ciabot running", "settings", store.Path(), "guild", cctx.String("guild-id"))

	<-ctx.Done()
	logger.Info("shutting down")
	return shutdown(logger, adapter, b, status)
}

func shutdown(logger *log.Logger, adapter *discord.Adapter, b *bot.Bot, status *metrics.Server) error {
	var errs []error
	if err := adapter.Close(); err != nil {
		errs = append(errs, err)
	}
	b.Wait()
	if status != nil {
		if err := status.Shutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("status server shutdown: %w", err))
		}
	}
	if len(errs) == 0 {
		logger.Info("shutdown complete")
	}
	return errors.Join(errs...)
}
