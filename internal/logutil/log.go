package logutil

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

type (
	key byte
)

var (
	loggerKey = key(1)
)

func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// GetOrDefault returns the logger attached to ctx.
//
// Loggers attached by hlog (ie.: request scoped ones) take precedence over
// the ones attached with WithLogger.
func GetOrDefault(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	v := ctx.Value(loggerKey)
	if v == nil {
		return log.Logger
	}
	return v.(zerolog.Logger)
}

// New returns the process logger, human friendly when dev is true
func New(out io.Writer, dev bool) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger().Level(zerolog.DebugLevel)
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// Middleware attaches a request scoped logger (with a request id)
// and writes one access log entry per request.
func Middleware(logger zerolog.Logger, next http.Handler) http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	h = hlog.RemoteAddrHandler("remote_addr")(h)
	return hlog.NewHandler(logger)(h)
}
