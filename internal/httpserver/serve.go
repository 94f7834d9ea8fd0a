// Package httpserver runs the famvault HTTP API until its context is cancelled.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/andrebq/famvault/internal/logutil"
)

const shutdownGracePeriod = 30 * time.Second

// Serve listens on bind and blocks until ctx is done or the server fails.
// In-flight requests get shutdownGracePeriod to finish.
func Serve(ctx context.Context, bind string, handler http.Handler) error {
	lst, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	return ServeListener(ctx, lst, handler)
}

// ServeListener is like Serve but takes ownership of an already open listener.
func ServeListener(ctx context.Context, lst net.Listener, handler http.Handler) error {
	server := http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// uploads are bounded by the max upload size, a minute is plenty
		ReadTimeout:    time.Minute,
		WriteTimeout:   time.Minute,
		IdleTimeout:    2 * time.Minute,
		MaxHeaderBytes: 64 << 10,
		// requests keep the values of ctx (logger) but not its cancellation,
		// otherwise shutdown would abort in-flight requests
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
	log := logutil.GetOrDefault(ctx).With().Str("server.addr", lst.Addr().String()).Logger()

	firstErr := make(chan error, 1)
	go func() {
		defer close(firstErr)
		log.Info().Msg("Starting HTTP server")
		err := server.Serve(lst)
		if errors.Is(err, http.ErrServerClosed) {
			log.Info().Msg("Server closed")
			return
		}
		firstErr <- err
	}()

	select {
	case err := <-firstErr:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Initiating shutdown process")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Unable to shutdown gracefully")
		return err
	}
	log.Info().Msg("Shutdown completed")
	return <-firstErr
}
