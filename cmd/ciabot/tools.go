package main

import (
	"fmt"
	"os"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/nullposters/ciabot/internal/audit"
	"github.com/nullposters/ciabot/internal/settings"
)

var settingsCmd = &cli.Command{
	Name:  "settings",
	Usage: "inspect or rewrite the settings file",
	Subcommands: []*cli.Command{
		{
			Name:  "show",
			Usage: "print the settings as the bot would load them, with defaults filled in",
			Action: func(cctx *cli.Context) error {
				st, err := settings.NewStore(cctx.String("settings-path"), nil).Load()
				if err != nil {
					return err
				}
				data, err := settings.Encode(st)
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(data)
				return err
			},
		},
		{
			Name:  "normalize",
			Usage: "rewrite the settings file in canonical form (creating it if missing)",
			Action: func(cctx *cli.Context) error {
				logger := newLogger(cctx)
				store, err := settings.Open(cctx.String("settings-path"), logger)
				if err != nil {
					return err
				}
				fmt.Println(store.Path())
				return nil
			},
		},
	},
}

var auditCmd = &cli.Command{
	Name:  "audit",
	Usage: "query the audit log",
	Subcommands: []*cli.Command{
		{
			Name:  "count",
			Usage: "count recent redactions of one author's messages",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "author",
					Usage:    "author user id",
					Required: true,
				},
				&cli.DurationFlag{
					Name:  "window",
					Value: 24 * time.Hour,
				},
			},
			Action: func(cctx *cli.Context) error {
				url, err := requireFlag(cctx, "database-url")
				if err != nil {
					return err
				}
				store, err := audit.Open(cctx.Context, url)
				if err != nil {
					return err
				}
				defer store.Close()

				n, err := store.CountRecent(cctx.Context, cctx.String("author"), cctx.Duration("window"))
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			},
		},
	},
}
