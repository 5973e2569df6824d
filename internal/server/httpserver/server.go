// Package httpserver provides the HTTP/HTTPS server for the relay.
//
// It uses the Go standard library net/http for implementation,
// carrying the /sync2 WebSocket endpoint, snapshot transfer, and the
// admin API.
package httpserver

import (
	"context"
	"crypto/tls"
	"net/http"
)

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
}

// Option configures the server.
type Option func(*http.Server)

// WithTLSConfig installs a TLS configuration (e.g. custom client CAs
// from tlsroots) used by ListenAndServeTLS.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *http.Server) {
		s.TLSConfig = cfg
	}
}

// New creates a new HTTP server.
func New(addr string, handler http.Handler, opts ...Option) *Server {
	hs := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	for _, opt := range opts {
		opt(hs)
	}
	return &Server{
		httpServer: hs,
		handler:    handler,
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// ListenAndServeTLS starts the HTTPS server.
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	return s.httpServer.ListenAndServeTLS(certFile, keyFile)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
