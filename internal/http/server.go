// ABOUTME: HTTP adaptation path for JSON-RPC requests
// ABOUTME: POST bodies are dispatched through the same server loop as sockets

package http

import (
	"context"
	"net/http"
	"time"

	"github.com/harper/rpcd/internal/server"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Dispatcher is the server side of the transport.
type Dispatcher interface {
	Receive(ctx context.Context, connID string, payload []byte, sender server.Sender) error
	Close(connID string)
}

type Server struct {
	dispatcher   Dispatcher
	mux          *http.ServeMux
	maxBodyBytes int64
}

func NewServer(d Dispatcher) *Server {
	s := &Server{
		dispatcher:   d,
		mux:          http.NewServeMux(),
		maxBodyBytes: MaxBodyBytes,
	}

	s.mux.HandleFunc("/", s.handleRPC)
	s.mux.HandleFunc("/rpc", s.handleRPC)

	return s
}

// WithMaxBodyBytes overrides MaxBodyBytes. Non-positive n keeps the default.
func (s *Server) WithMaxBodyBytes(n int64) *Server {
	if n > 0 {
		s.maxBodyBytes = n
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// HTTPServer wraps s in a listener. With enableH2C the listener also
// accepts HTTP/2 without TLS.
func (s *Server) HTTPServer(addr string, enableH2C bool) *http.Server {
	var handler http.Handler = s
	if enableH2C {
		handler = h2c.NewHandler(s, &http2.Server{})
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
