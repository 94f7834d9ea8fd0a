package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/andrebq/famvault/internal/cmdflags"
	"github.com/andrebq/famvault/internal/config"
	"github.com/andrebq/famvault/internal/logutil"
	"github.com/andrebq/famvault/vault"
	vaultapi "github.com/andrebq/famvault/vault/api"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	var cfg config.Config
	cfg.LoadDefaults()
	var v *vault.Control
	return &cli.Command{
		Name:  "files",
		Usage: "Inspect and import documents stored in a vault",
		Flags: []cli.Flag{
			cmdflags.Vault(&cfg.Vault),
		},
		Before: func(ctx *cli.Context) error {
			var err error
			v, err = vault.LoadVault(ctx.Context, cfg.Vault)
			return err
		},
		After: func(ctx *cli.Context) error {
			if v == nil {
				return nil
			}
			return v.Close()
		},
		Subcommands: []*cli.Command{
			importCmd(&v, &cfg),
			listCmd(&v),
		},
	}
}

func importCmd(v **vault.Control, cfg *config.Config) *cli.Command {
	var owner string
	return &cli.Command{
		Name:      "import",
		Usage:     "Import local files into the vault, owned by the given user",
		ArgsUsage: "<path>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "owner",
				Usage:       "Username or email of the owner",
				Destination: &owner,
				Required:    true,
			},
			&cli.Int64Flag{
				Name:        "max-upload-size",
				Usage:       "Largest file (in bytes) accepted",
				EnvVars:     []string{"FAMVAULT_MAX_UPLOAD_SIZE"},
				Value:       cfg.MaxUploadSize,
				Destination: &cfg.MaxUploadSize,
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() == 0 {
				return errors.New("missing files to import")
			}
			log := logutil.GetOrDefault(ctx.Context)
			u, err := (*v).FindUser(ctx.Context, owner)
			if err != nil {
				return err
			}
			for _, p := range ctx.Args().Slice() {
				content, err := readFile(p, cfg.MaxUploadSize)
				if err != nil {
					return err
				}
				ext, mimeType, err := vaultapi.CheckFile(filepath.Base(p), content, cfg.MaxUploadSize)
				if err != nil {
					return fmt.Errorf("unable to import %v, cause %w", p, err)
				}
				f := &vault.File{
					Name:     uuid.NewString() + ext,
					OwnerID:  u.ID,
					MimeType: mimeType,
				}
				if err := (*v).StoreFile(ctx.Context, f, content); err != nil {
					return err
				}
				log.Info().Str("path", p).Str("filename", f.Name).Int64("size", f.Size).Msg("File imported")
				fmt.Fprintln(ctx.App.Writer, f.Name)
			}
			return nil
		},
	}
}

func listCmd(v **vault.Control) *cli.Command {
	var owner string
	return &cli.Command{
		Name:  "list",
		Usage: "List the files owned by the given user",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "owner",
				Usage:       "Username or email of the owner",
				Destination: &owner,
				Required:    true,
			},
		},
		Action: func(ctx *cli.Context) error {
			u, err := (*v).FindUser(ctx.Context, owner)
			if err != nil {
				return err
			}
			list, err := (*v).ListFiles(ctx.Context, u.ID)
			if err != nil {
				return err
			}
			for _, f := range list {
				fmt.Fprintf(ctx.App.Writer, "%v\t%v\t%v\t%v\n", f.Name, f.MimeType, f.Size, f.CreatedAt.Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}
}

func readFile(p string, max int64) ([]byte, error) {
	fd, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	// one extra byte lets CheckFile see files over the limit
	return io.ReadAll(io.LimitReader(fd, max+1))
}
