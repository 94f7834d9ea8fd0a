package testutil

import (
	"context"
	"os"
	"path/filepath"

	"github.com/andrebq/famvault/vault"
)

type (
	TestLog interface {
		Fatal(...interface{})
		Log(...interface{})
	}
)

// AcquireVault opens an empty vault inside a temporary directory,
// the returned function closes the vault and removes the directory.
func AcquireVault(ctx context.Context, t TestLog) (*vault.Control, func()) {
	dir, err := os.MkdirTemp("", "famvault-tests")
	if err != nil {
		t.Fatal(err)
	}
	ctl, err := vault.LoadVault(ctx, filepath.Join(dir, "vault"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	return ctl, func() {
		err := ctl.Close()
		if err != nil {
			t.Log("unable to close vault", err)
		}
		err = os.RemoveAll(dir)
		if err != nil {
			t.Log("unable to cleanup temp dir", dir)
		}
	}
}

// AcquirePopulatedVault is like AcquireVault but runs loader before
// handing the vault to the test.
func AcquirePopulatedVault(ctx context.Context, t TestLog, loader func(context.Context, *vault.Control) error) (*vault.Control, func()) {
	ctl, cleanup := AcquireVault(ctx, t)
	if loader != nil {
		if err := loader(ctx, ctl); err != nil {
			cleanup()
			t.Fatal(err)
		}
	}
	return ctl, cleanup
}
