package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// HTTPServer serves health and metrics.
type HTTPServer struct {
	Server *http.Server
	log    *zap.SugaredLogger
}

func NewHTTPServer(addr string, handler http.Handler, log *zap.SugaredLogger) *HTTPServer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &HTTPServer{
		Server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		log: log,
	}
}

// Listen binds the configured address.
func (s *HTTPServer) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.Server.Addr, err)
	}
	return ln, nil
}

// Serve runs until ctx is done, then shuts down gracefully. It returns nil
// after a clean shutdown.
func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("HTTP server listening", "addr", ln.Addr().String())
		errCh <- s.Server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
