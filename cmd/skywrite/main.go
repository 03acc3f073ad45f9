// skywrite: small atproto web app demonstrating OAuth login and posting.
package main

import (
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/urfave/cli/v2"
)

func main() {
	run(os.Args)
}

func run(args []string) {
	app := cli.App{
		Name:   "skywrite",
		Usage:  "atproto OAuth web app: log in with your handle, write posts",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "bind",
				Usage:   "IP or address, and port, to listen on for HTTP",
				Value:   ":8100",
				EnvVars: []string{"SKYWRITE_BIND"},
			},
			&cli.StringFlag{
				Name:    "db-url",
				Usage:   "database connection string (sqlite:// or postgres://)",
				Value:   "sqlite://file::memory:?cache=shared",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:     "session-secret",
				Usage:    "random secret used to seal browser session cookies (at least 32 bytes)",
				Required: true,
				EnvVars:  []string{"SESSION_SECRET"},
			},
			&cli.StringFlag{
				Name:    "hostname",
				Usage:   "public host name for this client (if not localhost dev mode)",
				EnvVars: []string{"CLIENT_HOSTNAME"},
			},
			&cli.StringFlag{
				Name:    "client-secret-key",
				Usage:   "confidential client secret key, PEM-encoded P-256 private key",
				EnvVars: []string{"CLIENT_SECRET_KEY"},
			},
			&cli.StringFlag{
				Name:    "client-secret-key-id",
				Usage:   "key id for client-secret-key",
				Value:   "primary",
				EnvVars: []string{"CLIENT_SECRET_KEY_ID"},
			},
			&cli.StringFlag{
				Name:    "metrics-listen",
				Usage:   "serve prometheus metrics on a separate address instead of the main listener",
				EnvVars: []string{"SKYWRITE_METRICS_LISTEN"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug mode (verbose logging, live template reload)",
				EnvVars: []string{"SKYWRITE_DEBUG"},
			},
		},
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	app.RunAndExitOnError()
}
