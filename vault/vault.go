// Package vault keeps the family vault state: users, their biometric
// credentials and the files they uploaded.
//
// Everything lives inside a single sqlite database (the vault), which
// makes backups a matter of copying one file.
package vault

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andrebq/famvault/internal/logutil"
	"github.com/andrebq/famvault/vault/migrations"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

type (
	Control struct {
		db  *sql.DB
		now func() time.Time
	}

	gooseLogger struct {
		log zerolog.Logger
	}
)

func openVaultDatabase(ctx context.Context, dir string) (*sql.DB, error) {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return nil, fmt.Errorf("unable to create directory %v to store the vault, cause %w", dir, err)
	}
	file := filepath.Join(dir, "vault.db")
	connstr := fmt.Sprintf("file:%v?_foreign_keys=on&_journal=wal&_busy_timeout=5000&mode=rwc", file)
	conn, err := sql.Open("sqlite3", connstr)
	if err != nil {
		return nil, fmt.Errorf("unable to open %v, cause %v", file, err)
	}
	err = conn.PingContext(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to ping vault %v, cause %v", file, err)
	}
	return conn, nil
}

// LoadVault opens (or creates) the vault stored under dir and
// brings its schema up to date.
func LoadVault(ctx context.Context, dir string) (*Control, error) {
	conn, err := openVaultDatabase(ctx, dir)
	if err != nil {
		return nil, err
	}
	c := &Control{db: conn, now: time.Now}
	err = c.migrate(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to init vault %v, cause %w", dir, err)
	}
	return c, nil
}

func (c *Control) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{log: logutil.GetOrDefault(ctx).With().Str("component", "migrations").Logger()})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, c.db, ".")
}

func (c *Control) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to start transaction, cause %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// Ping checks the vault database is still reachable
func (c *Control) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Control) Close() error {
	return c.db.Close()
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.log.Fatal().Msgf(format, v...)
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.log.Debug().Msgf(format, v...)
}
