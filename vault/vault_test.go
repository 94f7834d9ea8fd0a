package vault_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/andrebq/famvault/internal/testutil"
	"github.com/andrebq/famvault/vault"
	"github.com/stretchr/testify/require"
)

func TestUsers(t *testing.T) {
	ctx := context.Background()
	v, cleanup := testutil.AcquireVault(ctx, t)
	defer cleanup()

	amy := &vault.User{Username: "amy", Email: "amy@x.com", FullName: "Amy Lee", Role: vault.RoleMember, PasswordHash: []byte("hash")}
	require.NoError(t, v.CreateUser(ctx, amy))
	require.NotEmpty(t, amy.ID)

	byName, err := v.FindUser(ctx, "amy")
	require.NoError(t, err)
	byEmail, err := v.FindUser(ctx, "amy@x.com")
	require.NoError(t, err)
	require.Equal(t, amy.ID, byName.ID)
	require.Equal(t, amy.ID, byEmail.ID)
	require.False(t, byName.BiometricEnabled())

	_, err = v.FindUser(ctx, "AMY")
	require.True(t, errors.As(err, &vault.UserNotFound{}), "lookups must be case sensitive, got %v", err)

	exists, err := v.UserExists(ctx, "someone-else", "amy@x.com")
	require.NoError(t, err)
	require.True(t, exists)

	err = v.CreateUser(ctx, &vault.User{Username: "amy", Email: "other@x.com", FullName: "Other", Role: vault.RoleMember, PasswordHash: []byte("h")})
	require.ErrorIs(t, err, vault.DuplicateUser{})

	// identifiers must not collide across columns either
	exists, err = v.UserExists(ctx, "amy@x.com", "mal@x.com")
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = v.UserExists(ctx, "mal", "amy")
	require.NoError(t, err)
	require.True(t, exists)
	err = v.CreateUser(ctx, &vault.User{Username: "amy@x.com", Email: "mal@x.com", FullName: "Mal", Role: vault.RoleMember, PasswordHash: []byte("h")})
	require.ErrorIs(t, err, vault.DuplicateUser{})
	err = v.CreateUser(ctx, &vault.User{Username: "mal", Email: "amy", FullName: "Mal", Role: vault.RoleMember, PasswordHash: []byte("h")})
	require.ErrorIs(t, err, vault.DuplicateUser{})
	byEmail, err = v.FindUser(ctx, "amy@x.com")
	require.NoError(t, err)
	require.Equal(t, amy.ID, byEmail.ID)

	require.NoError(t, v.SetRole(ctx, amy.ID, vault.RoleAdmin))
	loaded, err := v.UserByID(ctx, amy.ID)
	require.NoError(t, err)
	require.Equal(t, vault.RoleAdmin, loaded.Role)

	err = v.SetRole(ctx, "missing", vault.RoleAdmin)
	require.ErrorIs(t, err, vault.UserNotFound{Key: "missing"})
}

func TestCredentials(t *testing.T) {
	ctx := context.Background()
	v, cleanup := testutil.AcquireVault(ctx, t)
	defer cleanup()

	amy := &vault.User{Username: "amy", Email: "amy@x.com", FullName: "Amy Lee", Role: vault.RoleMember, PasswordHash: []byte("hash")}
	require.NoError(t, v.CreateUser(ctx, amy))

	require.NoError(t, v.SetCredential(ctx, amy.ID, &vault.Credential{ID: "cred123", PublicKey: []byte{1, 2, 3}, AttestationType: "none"}))
	require.NoError(t, v.SetCredential(ctx, amy.ID, &vault.Credential{ID: "cred456", PublicKey: []byte{4, 5, 6}, AttestationType: "none"}))

	loaded, err := v.UserByID(ctx, amy.ID)
	require.NoError(t, err)
	require.True(t, loaded.BiometricEnabled())
	require.Equal(t, "cred456", loaded.Credential.ID)
	require.Equal(t, []byte{4, 5, 6}, loaded.Credential.PublicKey)

	require.NoError(t, v.UpdateSignCount(ctx, amy.ID, 7))
	loaded, err = v.UserByID(ctx, amy.ID)
	require.NoError(t, err)
	require.Equal(t, uint32(7), loaded.Credential.SignCount)

	require.NoError(t, v.DeleteCredential(ctx, amy.ID))
	loaded, err = v.UserByID(ctx, amy.ID)
	require.NoError(t, err)
	require.False(t, loaded.BiometricEnabled())

	err = v.SetCredential(ctx, "ghost", &vault.Credential{ID: "x", PublicKey: []byte{1}})
	require.ErrorIs(t, err, vault.UserNotFound{Key: "ghost"})

	bob := &vault.User{Username: "bob", Email: "bob@x.com", FullName: "Bob", Role: vault.RoleMember, PasswordHash: []byte("hash")}
	require.NoError(t, v.CreateUser(ctx, bob))
	require.NoError(t, v.SetCredential(ctx, amy.ID, &vault.Credential{ID: "cred789", PublicKey: []byte{7}, AttestationType: "none"}))
	err = v.SetCredential(ctx, bob.ID, &vault.Credential{ID: "cred789", PublicKey: []byte{8}, AttestationType: "none"})
	require.ErrorIs(t, err, vault.CredentialInUse{ID: "cred789"})
	loaded, err = v.UserByID(ctx, bob.ID)
	require.NoError(t, err)
	require.False(t, loaded.BiometricEnabled())
}

func TestFiles(t *testing.T) {
	ctx := context.Background()
	v, cleanup := testutil.AcquireVault(ctx, t)
	defer cleanup()

	amy := &vault.User{Username: "amy", Email: "amy@x.com", FullName: "Amy Lee", Role: vault.RoleMember, PasswordHash: []byte("hash")}
	require.NoError(t, v.CreateUser(ctx, amy))

	f := &vault.File{Name: "amy-file.pdf", OwnerID: amy.ID, MimeType: "application/pdf"}
	require.NoError(t, v.StoreFile(ctx, f, []byte("%PDF-1.4")))

	meta, err := v.LookupFile(ctx, "amy-file.pdf")
	require.NoError(t, err)
	require.Equal(t, amy.ID, meta.OwnerID)
	require.Equal(t, int64(8), meta.Size)

	var buf bytes.Buffer
	_, err = v.CopyFile(ctx, &buf, "amy-file.pdf")
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", buf.String())

	_, err = v.LookupFile(ctx, "nope.pdf")
	require.ErrorIs(t, err, vault.FileNotFound{Name: "nope.pdf"})

	err = v.StoreFile(ctx, &vault.File{Name: "../etc/passwd", OwnerID: amy.ID, MimeType: "text/plain"}, []byte("x"))
	require.True(t, errors.As(err, &vault.InvalidFileName{}))

	files, err := v.ListFiles(ctx, amy.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)

	stats, err := v.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, vault.Stats{Users: 1, Files: 1, Bytes: 8}, stats)
}
