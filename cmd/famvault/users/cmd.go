package users

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/andrebq/famvault/auth"
	"github.com/andrebq/famvault/internal/cmdflags"
	"github.com/andrebq/famvault/internal/config"
	"github.com/andrebq/famvault/vault"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	var cfg config.Config
	cfg.LoadDefaults()
	var v *vault.Control
	var svc *auth.Service
	return &cli.Command{
		Name:  "users",
		Usage: "Manage the accounts stored in a vault",
		Flags: []cli.Flag{
			cmdflags.Vault(&cfg.Vault),
			&cli.IntFlag{
				Name:        "bcrypt-cost",
				Usage:       "Cost factor used to hash new passwords",
				EnvVars:     []string{"FAMVAULT_BCRYPT_COST"},
				Value:       cfg.BcryptCost,
				Destination: &cfg.BcryptCost,
			},
		},
		Before: func(ctx *cli.Context) error {
			var err error
			v, err = vault.LoadVault(ctx.Context, cfg.Vault)
			if err != nil {
				return err
			}
			svc, err = auth.New(v, auth.Options{
				RPID:          cfg.RPID,
				RPDisplayName: cfg.RPDisplayName,
				RPOrigins:     cfg.RPOrigins,
				BcryptCost:    cfg.BcryptCost,
			})
			return err
		},
		After: func(ctx *cli.Context) error {
			if v == nil {
				return nil
			}
			return v.Close()
		},
		Subcommands: []*cli.Command{
			createCmd(&svc),
			setRoleCmd(&svc),
		},
	}
}

func createCmd(svc **auth.Service) *cli.Command {
	var req auth.SignupRequest
	return &cli.Command{
		Name:  "create",
		Usage: "Create a new user (password is read from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "username",
				Aliases:     []string{"u", "user"},
				Usage:       "Name used to login",
				Destination: &req.Username,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "email",
				Usage:       "Email address, can also be used to login",
				Destination: &req.Email,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "full-name",
				Usage:       "Name displayed by the portal",
				Destination: &req.FullName,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "role",
				Usage:       "Either member or admin",
				Value:       string(vault.RoleMember),
				Destination: &req.Role,
			},
		},
		Action: func(ctx *cli.Context) error {
			sc := bufio.NewScanner(ctx.App.Reader)
			if !sc.Scan() {
				if sc.Err() != nil {
					return sc.Err()
				}
				return errors.New("missing password from stdin")
			}
			req.Password = strings.TrimSpace(sc.Text())
			if len(req.Password) == 0 {
				return errors.New("missing password from stdin")
			}
			u, err := (*svc).CreateUser(ctx.Context, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, u.ID)
			return nil
		},
	}
}

func setRoleCmd(svc **auth.Service) *cli.Command {
	var identifier string
	var role string
	return &cli.Command{
		Name:  "set-role",
		Usage: "Change the role of an existing user",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "user",
				Aliases:     []string{"u"},
				Usage:       "Username or email of the user",
				Destination: &identifier,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "role",
				Usage:       "Either member or admin",
				Destination: &role,
				Required:    true,
			},
		},
		Action: func(ctx *cli.Context) error {
			u, err := (*svc).Lookup(ctx.Context, identifier)
			if err != nil {
				return err
			}
			return (*svc).SetRole(ctx.Context, u.ID, vault.Role(role))
		},
	}
}
