// ABOUTME: HTTP handler translating one POST body into one JSON-RPC exchange
// ABOUTME: Each request gets a one-shot connection id released after the reply

package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	rpcerrors "github.com/harper/rpcd/internal/errors"
	"github.com/harper/rpcd/internal/jsonrpc"
	"github.com/harper/rpcd/internal/logger"
	"github.com/harper/rpcd/internal/server"
)

// MaxBodyBytes caps a request body.
const MaxBodyBytes int64 = 1 << 20

// reply collects the single response the worker sends.
type reply struct {
	buf  bytes.Buffer
	sent bool
}

func (r *reply) Send(data []byte) error {
	r.sent = true
	r.buf.Reset()
	_, err := r.buf.Write(data)
	return err
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	defer func() { _ = r.Body.Close() }()
	if err != nil {
		writeError(w, rpcerrors.NewInvalidRequestError(fmt.Sprintf("failed to read body: %v", err)))
		return
	}

	connID := "http-" + uuid.New().String()
	out := &reply{}
	err = s.dispatcher.Receive(r.Context(), connID, body, out)
	s.dispatcher.Close(connID)

	switch {
	case errors.Is(err, server.ErrOverflow), errors.Is(err, server.ErrNotServing):
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	case err != nil:
		logger.Warn("[HTTP] %s: %v", connID[:13], err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if !out.sent {
		// notifications get no body
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC errors still return 200
	_, _ = w.Write(out.buf.Bytes())
}

func writeError(w http.ResponseWriter, err *rpcerrors.ResponseError) {
	data, encodeErr := jsonrpc.NewError(err.ToJSONRPCError()).Encode()
	if encodeErr != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
