package viewer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ivlev/geostory/internal/logging"
	"github.com/ivlev/geostory/internal/metrics"
)

// NewMux mounts the viewer socket next to the metrics endpoint.
func NewMux(h *Hub, m *metrics.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve runs the HTTP server until ctx ends, then shuts it down and closes
// the hub.
func Serve(ctx context.Context, addr string, h *Hub, m *metrics.Registry, logger *logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(h, m),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("viewer server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		h.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	h.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
