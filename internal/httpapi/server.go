package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Server wraps http.Server so that shutting down also cancels in-flight
// requests. Open streams never go idle on their own; cancelling their
// context makes the relay discard the turn and the handler return.
type Server struct {
	srv    *http.Server
	cancel context.CancelFunc
}

func NewServer(addr string, h http.Handler) *Server {
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:        addr,
		Handler:     h,
		BaseContext: func(net.Listener) context.Context { return base },
	}
	return &Server{srv: srv, cancel: cancel}
}

// ListenAndServe blocks until the server stops. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	return ignoreClosed(s.srv.ListenAndServe())
}

func (s *Server) Serve(l net.Listener) error {
	return ignoreClosed(s.srv.Serve(l))
}

// Shutdown stops accepting connections, cancels running requests and waits
// for their handlers to return or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.srv.Shutdown(ctx)
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
