// ABOUTME: WebSocket transport feeding text messages into the dispatch server
// ABOUTME: One read loop per connection keeps each connection's requests in order

package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harper/rpcd/internal/logger"
	"github.com/harper/rpcd/internal/server"
)

// Dispatcher is the server side of the transport.
type Dispatcher interface {
	Receive(ctx context.Context, connID string, payload []byte, sender server.Sender) error
	Close(connID string)
}

// DefaultReadLimit caps one inbound message.
const DefaultReadLimit int64 = 1 << 20

type Server struct {
	dispatcher Dispatcher
	conns      *ConnectionManager
	upgrader   websocket.Upgrader
	readLimit  int64
}

func NewServer(d Dispatcher) *Server {
	return &Server{
		dispatcher: d,
		conns:      NewConnectionManager(),
		readLimit:  DefaultReadLimit,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WithReadLimit sets the largest message a client may send. Larger
// messages close the connection. Non-positive n keeps the default.
func (s *Server) WithReadLimit(n int64) *Server {
	if n > 0 {
		s.readLimit = n
	}
	return s
}

func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// HTTPServer wraps s in a listener that closes open sockets on shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.conns.CloseAll)
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	s.handleConnection(r.Context(), conn)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(s.readLimit)
	client := s.conns.AttachClient(conn)
	id := client.ID()
	defer func() {
		s.dispatcher.Close(id)
		s.conns.DetachClient(id)
		_ = conn.Close()
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("[WS:%s] read error: %v", shortID(id), err)
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		err = s.dispatcher.Receive(ctx, id, message, client)
		switch {
		case err == nil, errors.Is(err, server.ErrOverflow):
			// overflow was handed to the overflow handler
		case errors.Is(err, server.ErrNotServing):
			client.Close(websocket.CloseGoingAway, "server not serving")
			return
		default:
			logger.Warn("[WS:%s] receive: %v", shortID(id), err)
			return
		}
	}
}
