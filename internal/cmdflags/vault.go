package cmdflags

import (
	"github.com/urfave/cli/v2"
)

// Vault is the path to the directory holding the vault database.
func Vault(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "vault",
		Aliases:     []string{"v"},
		Usage:       "Directory where the vault database is stored",
		EnvVars:     []string{"FAMVAULT_VAULT"},
		Destination: out,
		Value:       *out,
	}
}

func Dev(out *bool) cli.Flag {
	return &cli.BoolFlag{
		Name:        "dev",
		Usage:       "Development mode: human readable logs, non secure cookies and error details in responses",
		EnvVars:     []string{"FAMVAULT_DEV"},
		Destination: out,
		Value:       *out,
	}
}
