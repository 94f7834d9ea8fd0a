package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/andrebq/famvault/auth"
	"github.com/andrebq/famvault/internal/logutil"
	"github.com/andrebq/famvault/session"
	"github.com/andrebq/famvault/vault"
	"github.com/julienschmidt/httprouter"
)

type (
	// StatsSource computes the numbers behind /api/admin/stats
	StatsSource interface {
		Stats(ctx context.Context) (vault.Stats, error)
	}

	handlers struct {
		auth     *auth.Service
		sessions *session.Manager
		stats    StatsSource
		dev      bool
	}

	userBody struct {
		User auth.Profile `json:"user"`
	}

	messageBody struct {
		Message string `json:"message"`
	}

	identifierBody struct {
		Identifier string `json:"identifier"`
	}

	credentialBody struct {
		Credential json.RawMessage `json:"credential"`
	}

	roleBody struct {
		Role string `json:"role"`
	}
)

// AsHandler exposes the authentication endpoints under /api/auth and the
// user administration endpoints under /api/admin.
//
// The returned handler expects to run behind sessions.Middleware.
func AsHandler(ctx context.Context, svc *auth.Service, sessions *session.Manager, realm *SecurityRealm, stats StatsSource) http.Handler {
	h := &handlers{
		auth:     svc,
		sessions: sessions,
		stats:    stats,
		dev:      realm.Dev(),
	}
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})

	router.HandlerFunc("POST", "/api/auth/signup", h.signup)
	router.HandlerFunc("POST", "/api/auth/login", h.login)
	router.HandlerFunc("POST", "/api/auth/logout", h.logout)
	router.Handler("GET", "/api/auth/me", realm.RequireAuth(http.HandlerFunc(h.me)))

	router.Handler("POST", "/api/auth/biometric/register", realm.RequireAuth(http.HandlerFunc(h.beginRegistration)))
	router.Handler("POST", "/api/auth/biometric/register/verify", realm.RequireAuth(http.HandlerFunc(h.finishRegistration)))
	router.HandlerFunc("POST", "/api/auth/biometric/login", h.beginLogin)
	router.HandlerFunc("POST", "/api/auth/biometric/login/verify", h.finishLogin)
	router.Handler("GET", "/api/auth/biometric/status", realm.RequireAuth(http.HandlerFunc(h.biometricStatus)))
	router.Handler("POST", "/api/auth/biometric/disable", realm.RequireAuth(http.HandlerFunc(h.disableBiometric)))

	router.Handler("GET", "/api/admin/stats", realm.RequireAdmin(http.HandlerFunc(h.adminStats)))
	router.Handler("POST", "/api/admin/users", realm.RequireAdmin(http.HandlerFunc(h.adminCreateUser)))
	router.Handler("PUT", "/api/admin/users/:id/role", realm.RequireAdmin(http.HandlerFunc(h.adminSetRole)))
	return router
}

func (h *handlers) signup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logutil.GetOrDefault(ctx)
	var req auth.SignupRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	var user *vault.User
	_, err := h.sessions.Update(w, r, func(s *session.Session) error {
		var err error
		user, err = h.auth.Signup(ctx, s, req)
		return err
	})
	if err != nil {
		log.Warn().Str("username", req.Username).Err(err).Msg("Signup rejected")
		WriteError(w, r, err, h.dev)
		return
	}
	log.Info().Str("user_id", user.ID).Msg("User signed up")
	WriteJSON(w, http.StatusCreated, userBody{User: auth.NewProfile(user)})
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logutil.GetOrDefault(ctx)
	var req auth.LoginRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	var user *vault.User
	_, err := h.sessions.Update(w, r, func(s *session.Session) error {
		var err error
		user, err = h.auth.Login(ctx, s, req)
		return err
	})
	if err != nil {
		log.Warn().Str("identifier", req.Identifier).Err(err).Msg("Password login failed")
		WriteError(w, r, err, h.dev)
		return
	}
	log.Info().Str("user_id", user.ID).Msg("Password login succeeded")
	WriteJSON(w, http.StatusOK, userBody{User: auth.NewProfile(user)})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(w, r); err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	WriteJSON(w, http.StatusOK, messageBody{Message: "logged out"})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.auth.CurrentUser(ctx, session.FromContext(ctx))
	if err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	WriteJSON(w, http.StatusOK, userBody{User: auth.NewProfile(user)})
}

func (h *handlers) beginRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var opts interface{}
	_, err := h.sessions.Update(w, r, func(s *session.Session) error {
		creation, err := h.auth.BeginRegistration(ctx, s)
		opts = creation
		return err
	})
	if err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	WriteJSON(w, http.StatusOK, opts)
}

func (h *handlers) finishRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logutil.GetOrDefault(ctx)
	payload := h.credentialPayload(w, r)
	var status *auth.BiometricStatus
	sess, err := h.sessions.Update(w, r, func(s *session.Session) error {
		var err error
		status, err = h.auth.FinishRegistration(ctx, s, payload)
		return err
	})
	if err != nil {
		ev := log.Warn().Err(err)
		if sess != nil {
			ev = ev.Str("user_id", sess.UserID)
		}
		ev.Msg("Biometric registration failed")
		WriteError(w, r, err, h.dev)
		return
	}
	log.Info().Str("user_id", sess.UserID).Msg("Biometric credential registered")
	WriteJSON(w, http.StatusOK, status)
}

func (h *handlers) beginLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req identifierBody
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	var opts interface{}
	_, err := h.sessions.Update(w, r, func(s *session.Session) error {
		assertion, err := h.auth.BeginLogin(ctx, s, req.Identifier)
		opts = assertion
		return err
	})
	if err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	WriteJSON(w, http.StatusOK, opts)
}

func (h *handlers) finishLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logutil.GetOrDefault(ctx)
	payload := h.credentialPayload(w, r)
	var user *vault.User
	_, err := h.sessions.Update(w, r, func(s *session.Session) error {
		var err error
		user, err = h.auth.FinishLogin(ctx, s, payload)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Msg("Biometric login failed")
		WriteError(w, r, err, h.dev)
		return
	}
	log.Info().Str("user_id", user.ID).Msg("Biometric login succeeded")
	WriteJSON(w, http.StatusOK, userBody{User: auth.NewProfile(user)})
}

func (h *handlers) biometricStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := h.auth.BiometricStatus(ctx, session.FromContext(ctx))
	if err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

func (h *handlers) disableBiometric(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	if err := h.auth.DisableBiometric(ctx, sess); err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	log := logutil.GetOrDefault(ctx)
	log.Info().Str("user_id", sess.UserID).Msg("Biometric login disabled")
	WriteJSON(w, http.StatusOK, auth.BiometricStatus{Enabled: false})
}

func (h *handlers) adminStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.stats.Stats(r.Context())
	if err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

func (h *handlers) adminCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req auth.SignupRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	user, err := h.auth.CreateUser(ctx, req)
	if err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	log := logutil.GetOrDefault(ctx)
	log.Info().
		Str("admin_id", session.FromContext(ctx).UserID).
		Str("user_id", user.ID).
		Str("role", string(user.Role)).
		Msg("User created by admin")
	WriteJSON(w, http.StatusCreated, userBody{User: auth.NewProfile(user)})
}

func (h *handlers) adminSetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := httprouter.ParamsFromContext(ctx).ByName("id")
	var req roleBody
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	if err := h.auth.SetRole(ctx, id, vault.Role(req.Role)); err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	user, err := h.auth.User(ctx, id)
	if err != nil {
		WriteError(w, r, err, h.dev)
		return
	}
	log := logutil.GetOrDefault(ctx)
	log.Info().
		Str("admin_id", session.FromContext(ctx).UserID).
		Str("user_id", id).
		Str("role", req.Role).
		Msg("User role changed")
	WriteJSON(w, http.StatusOK, userBody{User: auth.NewProfile(user)})
}

// credentialPayload extracts the credential object from the request body.
// Unreadable bodies yield a nil payload, the ceremony still consumes its
// challenge and reports the validation failure.
func (h *handlers) credentialPayload(w http.ResponseWriter, r *http.Request) []byte {
	body, err := ReadBody(w, r)
	if err != nil {
		return nil
	}
	var env credentialBody
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	return env.Credential
}
