// Package frontproxy forwards the requests famvault does not handle to the
// server that hosts the portal UI, so browser and API share one origin.
package frontproxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/andrebq/famvault/internal/logutil"
)

type (
	InvalidTarget struct {
		Target string
	}
)

func (i InvalidTarget) Error() string {
	return fmt.Sprintf("frontend target %q must be an absolute http(s) url", i.Target)
}

// AsHandler returns a reverse proxy to target.
func AsHandler(ctx context.Context, target string) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, InvalidTarget{Target: target}
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log := logutil.GetOrDefault(r.Context())
		log.Error().Err(err).Str("frontend", u.String()).Msg("Frontend is unreachable")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"frontend unavailable"}`))
	}
	return proxy, nil
}
