package serve

import (
	"os"

	"github.com/andrebq/famvault/internal/cmdflags"
	"github.com/andrebq/famvault/internal/config"
	"github.com/andrebq/famvault/internal/httpserver"
	"github.com/andrebq/famvault/internal/logutil"
	"github.com/andrebq/famvault/vault"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	var cfg config.Config
	cfg.LoadDefaults()
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the famvault API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "bind",
				Usage:       "Address to bind the API server",
				EnvVars:     []string{"FAMVAULT_BIND"},
				Value:       cfg.Bind,
				Destination: &cfg.Bind,
			},
			cmdflags.Vault(&cfg.Vault),
			cmdflags.Dev(&cfg.Dev),
			&cli.StringFlag{
				Name:        "rp-id",
				Usage:       "WebAuthn relying party id (the domain users see in the browser)",
				EnvVars:     []string{"FAMVAULT_RP_ID"},
				Value:       cfg.RPID,
				Destination: &cfg.RPID,
			},
			&cli.StringFlag{
				Name:        "rp-name",
				Usage:       "WebAuthn relying party display name",
				EnvVars:     []string{"FAMVAULT_RP_NAME"},
				Value:       cfg.RPDisplayName,
				Destination: &cfg.RPDisplayName,
			},
			&cli.StringSliceFlag{
				Name:    "rp-origin",
				Usage:   "Origin allowed to perform WebAuthn ceremonies (repeat for more than one)",
				EnvVars: []string{"FAMVAULT_RP_ORIGINS"},
				Value:   cli.NewStringSlice(cfg.RPOrigins...),
			},
			&cli.StringFlag{
				Name:        "cookie-name",
				Usage:       "Name of the session cookie",
				EnvVars:     []string{"FAMVAULT_COOKIE_NAME"},
				Value:       cfg.CookieName,
				Destination: &cfg.CookieName,
			},
			&cli.DurationFlag{
				Name:        "session-ttl",
				Usage:       "How long an idle session stays valid",
				EnvVars:     []string{"FAMVAULT_SESSION_TTL"},
				Value:       cfg.SessionTTL,
				Destination: &cfg.SessionTTL,
			},
			&cli.DurationFlag{
				Name:        "challenge-ttl",
				Usage:       "How long a biometric challenge can be answered",
				EnvVars:     []string{"FAMVAULT_CHALLENGE_TTL"},
				Value:       cfg.ChallengeTTL,
				Destination: &cfg.ChallengeTTL,
			},
			&cli.IntFlag{
				Name:        "bcrypt-cost",
				Usage:       "Cost factor used to hash new passwords",
				EnvVars:     []string{"FAMVAULT_BCRYPT_COST"},
				Value:       cfg.BcryptCost,
				Destination: &cfg.BcryptCost,
			},
			&cli.Int64Flag{
				Name:        "max-upload-size",
				Usage:       "Largest file (in bytes) accepted by the upload endpoint",
				EnvVars:     []string{"FAMVAULT_MAX_UPLOAD_SIZE"},
				Value:       cfg.MaxUploadSize,
				Destination: &cfg.MaxUploadSize,
			},
			&cli.StringFlag{
				Name:        "frontend",
				Usage:       "URL of the portal UI server, requests outside the API are proxied to it",
				EnvVars:     []string{"FAMVAULT_FRONTEND"},
				Destination: &cfg.Frontend,
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg.RPOrigins = ctx.StringSlice("rp-origin")
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := logutil.New(os.Stderr, cfg.Dev)
			appCtx := logutil.WithLogger(ctx.Context, log)

			v, err := vault.LoadVault(appCtx, cfg.Vault)
			if err != nil {
				return err
			}
			defer v.Close()
			handler, err := httpserver.NewHandler(appCtx, cfg, v)
			if err != nil {
				return err
			}
			log.Info().
				Str("vault", cfg.Vault).
				Str("rp_id", cfg.RPID).
				Strs("rp_origins", cfg.RPOrigins).
				Bool("dev", cfg.Dev).
				Msg("Vault loaded")
			return httpserver.Serve(appCtx, cfg.Bind, handler)
		},
	}
}
