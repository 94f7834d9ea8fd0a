package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

type (
	File struct {
		Name      string    `json:"filename"`
		OwnerID   string    `json:"ownerId"`
		MimeType  string    `json:"mimeType"`
		Size      int64     `json:"size"`
		CreatedAt time.Time `json:"createdAt"`
	}

	InvalidFileName struct {
		Name string
	}
)

func (i InvalidFileName) Error() string {
	return fmt.Sprintf("invalid file name %q", i.Name)
}

// StoreFile saves content under f.Name, owned by f.OwnerID.
func (c *Control) StoreFile(ctx context.Context, f *File, content []byte) error {
	name, hash, err := normalizeFileName(f.Name)
	if err != nil {
		return err
	}
	f.Name = name
	f.Size = int64(len(content))
	f.CreatedAt = c.now().UTC().Truncate(time.Second)
	_, err = c.db.ExecContext(ctx, `insert into files(filename, filename_hash64, owner_id, mime_type, size, content, created_at)
		values (?, ?, ?, ?, ?, ?, ?)`, name, hash, f.OwnerID, f.MimeType, f.Size, content, f.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("unable to store file %v, cause %w", name, err)
	}
	return nil
}

// LookupFile returns the metadata of a file without touching its content
func (c *Control) LookupFile(ctx context.Context, name string) (*File, error) {
	name, hash, err := normalizeFileName(name)
	if err != nil {
		return nil, FileNotFound{Name: name}
	}
	f := File{Name: name}
	var created int64
	err = c.db.QueryRowContext(ctx, `select owner_id, mime_type, size, created_at from files where filename_hash64 = ? and filename = ?`, hash, name).
		Scan(&f.OwnerID, &f.MimeType, &f.Size, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, FileNotFound{Name: name}
	} else if err != nil {
		return nil, fmt.Errorf("unable to load %v from vault, cause %w", name, err)
	}
	f.CreatedAt = time.Unix(created, 0).UTC()
	return &f, nil
}

// CopyFile writes the content of the named file to out
func (c *Control) CopyFile(ctx context.Context, out io.Writer, name string) (int64, error) {
	name, hash, err := normalizeFileName(name)
	if err != nil {
		return 0, FileNotFound{Name: name}
	}
	var content []byte
	err = c.db.QueryRowContext(ctx, `select content from files where filename_hash64 = ? and filename = ?`, hash, name).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, FileNotFound{Name: name}
	} else if err != nil {
		return 0, fmt.Errorf("unable to load %v from vault, cause %w", name, err)
	}
	n, err := out.Write(content)
	if err != nil {
		return int64(n), fmt.Errorf("unable to copy %v from vault to destination, cause %w", name, err)
	}
	return int64(n), nil
}

func (c *Control) ListFiles(ctx context.Context, ownerID string) ([]File, error) {
	rows, err := c.db.QueryContext(ctx, `select filename, owner_id, mime_type, size, created_at from files where owner_id = ? order by created_at desc, filename asc`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("unable to list files of %v, cause %w", ownerID, err)
	}
	defer rows.Close()
	var out []File
	for rows.Next() {
		var f File
		var created int64
		if err := rows.Scan(&f.Name, &f.OwnerID, &f.MimeType, &f.Size, &created); err != nil {
			return nil, fmt.Errorf("unable to scan file entry, cause %w", err)
		}
		f.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// file names are flat, anything that looks like a path is rejected
func normalizeFileName(name string) (string, int64, error) {
	clean := path.Clean(name)
	if clean == "." || clean == "/" || clean == ".." || strings.ContainsAny(clean, "/\\") {
		return name, 0, InvalidFileName{Name: name}
	}
	return clean, int64(xxhash.Sum64String(clean)), nil
}
