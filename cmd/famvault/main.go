package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/andrebq/famvault/cmd/famvault/files"
	"github.com/andrebq/famvault/cmd/famvault/serve"
	"github.com/andrebq/famvault/cmd/famvault/users"
	"github.com/andrebq/famvault/internal/logutil"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	log.Logger = logutil.New(os.Stderr, os.Getenv("FAMVAULT_DEV") == "true")
	app := &cli.App{
		Name:  "famvault",
		Usage: "Keep the family documents safe, and reachable with a fingerprint",
		Commands: []*cli.Command{
			serve.Cmd(),
			users.Cmd(),
			files.Cmd(),
		},
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Error().Err(err).Msg("Application failed")
		os.Exit(1)
	}
}
