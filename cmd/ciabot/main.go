package main

import (
	"fmt"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/log"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"

	"github.com/nullposters/ciabot/internal/logging"
)

func main() {
	if err := run(os.Args); err != nil {
		log.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "ciabot",
		Usage:   "redacts words in chat messages, now and then",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Discord bot token",
			EnvVars: []string{"CIABOT_TOKEN", "CIABOT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "guild-id",
			Usage:   "register slash commands on this guild only (instant sync)",
			EnvVars: []string{"CIABOT_GUILD_ID"},
		},
		&cli.StringFlag{
			Name:    "admin-id",
			Usage:   "user id that may always run admin commands",
			EnvVars: []string{"ADMIN_ID", "CIABOT_ADMIN_ID"},
		},
		&cli.StringFlag{
			Name:    "settings-path",
			Usage:   "path of the settings JSON file",
			Value:   "settings.json",
			EnvVars: []string{"CIABOT_SETTINGS_PATH"},
		},
		&cli.BoolFlag{
			Name:    "production",
			Usage:   "act in every channel; otherwise only in the debug channel",
			EnvVars: []string{"IS_PRODUCTION"},
		},
		&cli.StringFlag{
			Name:    "debug-channel-id",
			Usage:   "debug channel used outside production when settings name none",
			EnvVars: []string{"DEBUG_CHANNEL_ID"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			EnvVars: []string{"CIABOT_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "text, json or logfmt",
			Value:   "text",
			EnvVars: []string{"CIABOT_LOG_FORMAT"},
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "listen address of the status server (/health, /recent, /metrics); empty disables it",
			Value:   ":9090",
			EnvVars: []string{"METRICS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address for cross-replica message claims; empty uses an in-process claimer",
			EnvVars: []string{"REDIS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server for settings change broadcasts; empty disables them",
			EnvVars: []string{"NATS_URL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "PostgreSQL URL for the audit log; empty disables it",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.BoolFlag{
			Name:    "watch-settings",
			Usage:   "reload the settings file when it is edited on disk",
			Value:   true,
			EnvVars: []string{"CIABOT_WATCH_SETTINGS"},
		},
	}

	app.Action = runBot
	app.Commands = []*cli.Command{
		runCmd,
		settingsCmd,
		auditCmd,
	}

	return app.Run(args)
}

func newLogger(cctx *cli.Context) *log.Logger {
	opts := logging.DefaultOptions()
	opts.Level = cctx.String("log-level")
	opts.Format = cctx.String("log-format")
	logger := logging.New(opts)
	log.SetDefault(logger)
	return logger
}

func requireFlag(cctx *cli.Context, name string) (string, error) {
	v := cctx.String(name)
	if v == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return v, nil
}
