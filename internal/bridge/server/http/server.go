package http

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/autopeer-io/fordpass-bridge/pkg/log"
	"github.com/autopeer-io/fordpass-bridge/pkg/options"
)

// Server serves the host API.
type Server struct {
	server  *http.Server
	options *options.HttpOptions
}

func NewServer(opts *options.HttpOptions, handler http.Handler) *Server {
	return &Server{
		server: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadHeaderTimeout: opts.ReadHeaderTimeout,
			WriteTimeout:      opts.Timeout,
		},
		options: opts,
	}
}

// Start listens until ctx is cancelled and then shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen(s.options.Network, s.server.Addr)
	if err != nil {
		return err
	}
	log.Info("Starting HTTP Server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.options.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
