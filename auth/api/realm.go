package api

import (
	"net/http"

	"github.com/andrebq/famvault/auth"
	"github.com/andrebq/famvault/internal/logutil"
	"github.com/andrebq/famvault/session"
	"github.com/andrebq/famvault/vault"
)

type (
	// SecurityRealm guards handlers that need an authenticated session
	SecurityRealm struct {
		auth *auth.Service
		dev  bool
	}
)

func NewRealm(svc *auth.Service, dev bool) *SecurityRealm {
	return &SecurityRealm{
		auth: svc,
		dev:  dev,
	}
}

// RequireAuth lets the request through only when the session belongs to a user.
func (s *SecurityRealm) RequireAuth(sensitive http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !session.FromContext(r.Context()).Authenticated() {
			WriteError(w, r, auth.ErrUnauthenticated, s.dev)
			return
		}
		sensitive.ServeHTTP(w, r)
	})
}

// RequireAdmin is RequireAuth plus a check of the stored role of the user,
// the role cached in the session is not trusted here.
func (s *SecurityRealm) RequireAdmin(sensitive http.Handler) http.Handler {
	return s.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := session.FromContext(ctx)
		if err := s.auth.RequireRole(ctx, sess, vault.RoleAdmin); err != nil {
			log := logutil.GetOrDefault(ctx)
			log.Warn().Str("user_id", sess.UserID).Str("path", r.URL.Path).Msg("Admin access denied")
			WriteError(w, r, err, s.dev)
			return
		}
		sensitive.ServeHTTP(w, r)
	}))
}

func (s *SecurityRealm) Dev() bool {
	return s.dev
}
