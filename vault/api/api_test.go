package api_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"github.com/andrebq/famvault/auth"
	authapi "github.com/andrebq/famvault/auth/api"
	"github.com/andrebq/famvault/internal/testutil"
	"github.com/andrebq/famvault/session"
	"github.com/andrebq/famvault/vault"
	"github.com/andrebq/famvault/vault/api"
	"github.com/steinfletcher/apitest"
	jsonpath "github.com/steinfletcher/apitest-jsonpath"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	cookieName = "sid"
	pdfContent = "%PDF-1.4\n1 0 obj\n<<>>\nendobj\n"
)

type testEnv struct {
	handler http.Handler
	auth    *auth.Service
	vault   *vault.Control
}

func acquireEnv(ctx context.Context, t *testing.T, maxUpload int64) (*testEnv, func()) {
	v, cleanup := testutil.AcquireVault(ctx, t)
	store, err := session.InMemoryStore(time.Hour)
	require.NoError(t, err)
	sessions := session.NewManager(store, session.Options{CookieName: cookieName, TTL: time.Hour, Dev: true})
	svc, err := auth.New(v, auth.Options{
		RPID:          "localhost",
		RPDisplayName: "Family Vault",
		RPOrigins:     []string{"http://localhost:5173"},
		BcryptCost:    bcrypt.MinCost,
	})
	require.NoError(t, err)
	realm := authapi.NewRealm(svc, true)
	mux := http.NewServeMux()
	files := api.AsHandler(ctx, v, svc, realm, maxUpload)
	mux.Handle("/uploads", files)
	mux.Handle("/uploads/", files)
	mux.Handle("/api/files", files)
	mux.Handle("/api/", authapi.AsHandler(ctx, svc, sessions, realm, v))
	return &testEnv{handler: sessions.Middleware(mux), auth: svc, vault: v}, cleanup
}

func (e *testEnv) login(t *testing.T, username string) string {
	res := apitest.New().
		Handler(e.handler).
		Post("/api/auth/login").
		JSON(`{"identifier":"` + username + `","password":"secret"}`).
		Expect(t).
		Status(http.StatusOK).
		End()
	for _, c := range res.Response.Cookies() {
		if c.Name == cookieName && c.MaxAge >= 0 {
			return c.Value
		}
	}
	t.Fatal("login did not set the session cookie")
	return ""
}

func (e *testEnv) createUser(ctx context.Context, t *testing.T, username string, role vault.Role) *vault.User {
	u, err := e.auth.CreateUser(ctx, auth.SignupRequest{
		Username: username,
		Email:    username + "@x.com",
		Password: "secret",
		FullName: username,
		Role:     string(role),
	})
	require.NoError(t, err)
	return u
}

func multipartBody(t *testing.T, name string, content []byte) (string, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.String(), mw.FormDataContentType()
}

func TestAccessGate(t *testing.T) {
	ctx := context.Background()
	env, cleanup := acquireEnv(ctx, t, 1<<20)
	defer cleanup()

	amy := env.createUser(ctx, t, "amy", vault.RoleMember)
	env.createUser(ctx, t, "bob", vault.RoleMember)
	env.createUser(ctx, t, "root", vault.RoleAdmin)
	require.NoError(t, env.vault.StoreFile(ctx, &vault.File{Name: "amy-file.pdf", OwnerID: amy.ID, MimeType: "application/pdf"}, []byte(pdfContent)))

	amySid := env.login(t, "amy")
	bobSid := env.login(t, "bob")
	rootSid := env.login(t, "root")

	apitest.New().
		Handler(env.handler).
		Get("/uploads/amy-file.pdf").
		Cookie(cookieName, amySid).
		Expect(t).
		Status(http.StatusOK).
		Header("Content-Type", "application/pdf").
		HeaderNotPresent("Content-Disposition").
		Body(pdfContent).
		End()

	apitest.New().
		Handler(env.handler).
		Get("/uploads/amy-file.pdf").
		Cookie(cookieName, bobSid).
		Expect(t).
		Status(http.StatusForbidden).
		End()

	apitest.New().
		Handler(env.handler).
		Get("/uploads/amy-file.pdf").
		QueryParams(map[string]string{"download": "true"}).
		Cookie(cookieName, rootSid).
		Expect(t).
		Status(http.StatusOK).
		Header("Content-Disposition", `attachment; filename=amy-file.pdf`).
		Body(pdfContent).
		End()

	apitest.New().
		Handler(env.handler).
		Get("/uploads/amy-file.pdf").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()

	apitest.New().
		Handler(env.handler).
		Get("/uploads/missing.pdf").
		Cookie(cookieName, rootSid).
		Expect(t).
		Status(http.StatusNotFound).
		End()

	// demoted admins lose access on their next request
	root, err := env.vault.FindUser(ctx, "root")
	require.NoError(t, err)
	require.NoError(t, env.auth.SetRole(ctx, root.ID, vault.RoleMember))
	apitest.New().
		Handler(env.handler).
		Get("/uploads/amy-file.pdf").
		Cookie(cookieName, rootSid).
		Expect(t).
		Status(http.StatusForbidden).
		End()
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	env, cleanup := acquireEnv(ctx, t, 1024)
	defer cleanup()

	amy := env.createUser(ctx, t, "amy", vault.RoleMember)
	amySid := env.login(t, "amy")

	body, contentType := multipartBody(t, "tax-return.PDF", []byte(pdfContent))
	apitest.New().
		Handler(env.handler).
		Post("/uploads").
		Cookie(cookieName, amySid).
		Header("Content-Type", contentType).
		Body(body).
		Expect(t).
		Status(http.StatusCreated).
		Assert(jsonpath.Equal("$.file.ownerId", amy.ID)).
		Assert(jsonpath.Equal("$.file.mimeType", "application/pdf")).
		Assert(jsonpath.Present("$.file.filename")).
		End()

	files, err := env.vault.ListFiles(ctx, amy.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Regexp(t, `^[0-9a-f-]{36}\.pdf$`, files[0].Name)

	apitest.New().
		Handler(env.handler).
		Get("/uploads/"+files[0].Name).
		Cookie(cookieName, amySid).
		Expect(t).
		Status(http.StatusOK).
		Body(pdfContent).
		End()

	apitest.New().
		Handler(env.handler).
		Get("/api/files").
		Cookie(cookieName, amySid).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Len("$.files", 1)).
		End()

	for name, content := range map[string][]byte{
		"script.sh":  []byte("#!/bin/sh\necho hi\n"),
		"fake.png":   []byte(pdfContent),
		"big.pdf":    append([]byte(pdfContent), make([]byte, 2048)...),
		"noext-file": []byte(pdfContent),
	} {
		body, contentType := multipartBody(t, name, content)
		apitest.New().
			Handler(env.handler).
			Post("/uploads").
			Cookie(cookieName, amySid).
			Header("Content-Type", contentType).
			Body(body).
			Expect(t).
			Status(http.StatusBadRequest).
			End()
	}

	body, contentType = multipartBody(t, "anon.pdf", []byte(pdfContent))
	apitest.New().
		Handler(env.handler).
		Post("/uploads").
		Header("Content-Type", contentType).
		Body(body).
		Expect(t).
		Status(http.StatusUnauthorized).
		End()
}
