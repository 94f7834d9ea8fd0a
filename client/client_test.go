package client_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andrebq/famvault/auth"
	"github.com/andrebq/famvault/client"
	"github.com/andrebq/famvault/client/softkey"
	"github.com/andrebq/famvault/internal/config"
	"github.com/andrebq/famvault/internal/httpserver"
	"github.com/andrebq/famvault/internal/testutil"
	"github.com/andrebq/famvault/vault"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const pdfContent = "%PDF-1.4\n1 0 obj\n<<>>\nendobj\n"

func acquireServer(ctx context.Context, t *testing.T) (string, *vault.Control, func()) {
	v, cleanup := testutil.AcquireVault(ctx, t)
	var cfg config.Config
	cfg.LoadDefaults()
	cfg.Dev = true
	cfg.BcryptCost = bcrypt.MinCost
	handler, err := httpserver.NewHandler(ctx, cfg, v)
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	srv := httptest.NewServer(handler)
	return srv.URL, v, func() {
		srv.Close()
		cleanup()
	}
}

func newClient(t *testing.T, url string) *client.Client {
	c, err := client.New(url, nil)
	require.NoError(t, err)
	return c
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	var apiErr client.APIError
	require.True(t, errors.As(err, &apiErr), "expected an api error, got %v", err)
	require.Equal(t, status, apiErr.Status, apiErr.Error())
}

func TestFamilyVaultScenarios(t *testing.T) {
	ctx := context.Background()
	url, v, cleanup := acquireServer(ctx, t)
	defer cleanup()

	amy := newClient(t, url)
	profile, err := amy.Signup(ctx, auth.SignupRequest{Username: "amy", Email: "amy@x.com", Password: "secret1", FullName: "Amy Lee"})
	require.NoError(t, err)
	require.Equal(t, "member", profile.Role)
	require.False(t, profile.BiometricEnabled)

	me, err := amy.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, profile.ID, me.ID)

	stranger := newClient(t, url)
	_, err = stranger.Login(ctx, "amy@x.com", "wrong")
	requireStatus(t, err, http.StatusBadRequest)
	_, err = stranger.Me(ctx)
	requireStatus(t, err, http.StatusUnauthorized)

	key, err := softkey.New("http://localhost:5173")
	require.NoError(t, err)
	status, err := amy.RegisterBiometric(ctx, key)
	require.NoError(t, err)
	require.True(t, status.Enabled)
	require.Equal(t, key.CredentialID(), status.CredentialID)

	require.NoError(t, amy.Logout(ctx))
	_, err = amy.Me(ctx)
	requireStatus(t, err, http.StatusUnauthorized)

	phone := newClient(t, url)
	profile, err = phone.LoginBiometric(ctx, "amy", key)
	require.NoError(t, err)
	require.Equal(t, "amy", profile.Username)
	require.True(t, profile.BiometricEnabled)
	status, err = phone.BiometricStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.Enabled)

	stored, err := phone.Upload(ctx, "amy-file.pdf", strings.NewReader(pdfContent))
	require.NoError(t, err)
	require.Equal(t, profile.ID, stored.OwnerID)
	files, err := phone.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)

	bob := newClient(t, url)
	_, err = bob.Signup(ctx, auth.SignupRequest{Username: "bob", Email: "bob@x.com", Password: "secret2", FullName: "Bob"})
	require.NoError(t, err)
	_, err = bob.Download(ctx, stored.Name, &bytes.Buffer{})
	requireStatus(t, err, http.StatusForbidden)
	_, err = bob.Stats(ctx)
	requireStatus(t, err, http.StatusForbidden)
	_, err = bob.LoginBiometric(ctx, "bob", key)
	requireStatus(t, err, http.StatusBadRequest)

	hash, err := bcrypt.GenerateFromPassword([]byte("secret3"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, v.CreateUser(ctx, &vault.User{Username: "root", Email: "root@x.com", FullName: "Root", Role: vault.RoleAdmin, PasswordHash: hash}))
	admin := newClient(t, url)
	_, err = admin.Login(ctx, "root", "secret3")
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = admin.Download(ctx, stored.Name, &buf)
	require.NoError(t, err)
	require.Equal(t, pdfContent, buf.String())
	stats, err := admin.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, vault.Stats{Users: 3, Admins: 1, BiometricUsers: 1, Files: 1, Bytes: int64(len(pdfContent))}, *stats)

	_, err = admin.Download(ctx, "missing.pdf", &buf)
	requireStatus(t, err, http.StatusNotFound)

	require.NoError(t, phone.DisableBiometric(ctx))
	_, err = newClient(t, url).LoginBiometric(ctx, "amy", key)
	requireStatus(t, err, http.StatusBadRequest)
}

func TestReplayedAssertionIsRejected(t *testing.T) {
	ctx := context.Background()
	url, _, cleanup := acquireServer(ctx, t)
	defer cleanup()

	amy := newClient(t, url)
	_, err := amy.Signup(ctx, auth.SignupRequest{Username: "amy", Email: "amy@x.com", Password: "secret1", FullName: "Amy Lee"})
	require.NoError(t, err)
	key, err := softkey.New("http://localhost:5173")
	require.NoError(t, err)
	_, err = amy.RegisterBiometric(ctx, key)
	require.NoError(t, err)

	replay := &replayKey{key: key}
	_, err = newClient(t, url).LoginBiometric(ctx, "amy", replay)
	require.NoError(t, err)

	// a second login answered with the first assertion fails: the
	// challenge does not match and the counter did not move
	replay.replay = true
	_, err = newClient(t, url).LoginBiometric(ctx, "amy", replay)
	requireStatus(t, err, http.StatusBadRequest)
}

type replayKey struct {
	key    *softkey.Authenticator
	last   *auth.AssertionCredential
	replay bool
}

func (r *replayKey) Register(options []byte) (*auth.RegistrationCredential, error) {
	return r.key.Register(options)
}

func (r *replayKey) Assert(options []byte) (*auth.AssertionCredential, error) {
	if r.replay && r.last != nil {
		return r.last, nil
	}
	cred, err := r.key.Assert(options)
	r.last = cred
	return cred, err
}
