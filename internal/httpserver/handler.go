package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/andrebq/famvault/auth"
	authapi "github.com/andrebq/famvault/auth/api"
	"github.com/andrebq/famvault/internal/config"
	"github.com/andrebq/famvault/internal/frontproxy"
	"github.com/andrebq/famvault/internal/logutil"
	"github.com/andrebq/famvault/session"
	"github.com/andrebq/famvault/vault"
	vaultapi "github.com/andrebq/famvault/vault/api"
)

// NewHandler wires every famvault endpoint on top of v.
//
// Sessions live in memory, restarting the process logs everybody out.
func NewHandler(ctx context.Context, cfg config.Config, v *vault.Control) (http.Handler, error) {
	store, err := session.InMemoryStore(cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	sessions := session.NewManager(store, session.Options{
		CookieName: cfg.CookieName,
		TTL:        cfg.SessionTTL,
		Dev:        cfg.Dev,
	})
	svc, err := auth.New(v, auth.Options{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
		ChallengeTTL:  cfg.ChallengeTTL,
		BcryptCost:    cfg.BcryptCost,
	})
	if err != nil {
		return nil, err
	}
	realm := authapi.NewRealm(svc, cfg.Dev)

	files := vaultapi.AsHandler(ctx, v, svc, realm, cfg.MaxUploadSize)
	mux := http.NewServeMux()
	mux.Handle("/api/files", files)
	mux.Handle("/api/", authapi.AsHandler(ctx, svc, sessions, realm, v))
	mux.Handle("/uploads", files)
	mux.Handle("/uploads/", files)
	mux.HandleFunc("/healthz", healthz(v))
	if cfg.Frontend != "" {
		front, err := frontproxy.AsHandler(ctx, cfg.Frontend)
		if err != nil {
			return nil, err
		}
		mux.Handle("/", front)
	}

	return logutil.Middleware(logutil.GetOrDefault(ctx), sessions.Middleware(mux)), nil
}

func healthz(v *vault.Control) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := v.Ping(ctx); err != nil {
			log := logutil.GetOrDefault(ctx)
			log.Error().Err(err).Msg("Vault is unreachable")
			authapi.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		authapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
