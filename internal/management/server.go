// ABOUTME: Management API for health, effective config, route table, and metrics
// ABOUTME: Served on its own listener, separate from the JSON-RPC transports

package management

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/harper/rpcd/internal/config"
	"github.com/harper/rpcd/internal/logger"
	"github.com/harper/rpcd/internal/metrics"
	"github.com/harper/rpcd/internal/routing"
	"github.com/harper/rpcd/internal/server"
)

// Status is the view of the dispatch server the API reports on.
type Status interface {
	Name() string
	State() server.State
	WorkerStates() []server.State
	Routes() []*routing.Route
}

type Server struct {
	config  *config.Config
	status  Status
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

// NewServer builds the API. m may be nil, in which case /metrics is absent.
func NewServer(cfg *config.Config, status Status, m *metrics.Metrics) *Server {
	s := &Server{
		config:  cfg,
		status:  status,
		metrics: m,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/config", s.handleConfig)
	s.mux.HandleFunc("/api/routes", s.handleRoutes)
	if m != nil {
		s.mux.Handle("/metrics", m.Handler())
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type healthResponse struct {
	Status  string         `json:"status"`
	Name    string         `json:"name"`
	PID     int            `json:"pid"`
	Workers []server.State `json:"workers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.status.State()
	health := healthResponse{
		Status:  "healthy",
		Name:    s.status.Name(),
		PID:     os.Getpid(),
		Workers: s.status.WorkerStates(),
	}
	code := http.StatusOK
	if state != server.StateServing {
		health.Status = state.String()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.config)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// RouteInfo describes one registered route.
type RouteInfo struct {
	Method     string   `json:"method"`
	Name       string   `json:"name,omitempty"`
	Action     string   `json:"action"`
	Middleware []string `json:"middleware"`
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	routes := s.status.Routes()
	response := make([]RouteInfo, 0, len(routes))
	for _, route := range routes {
		mw := route.Middleware()
		if mw == nil {
			mw = []string{}
		}
		response = append(response, RouteInfo{
			Method:     route.Method(),
			Name:       route.Name(),
			Action:     route.Action().String(),
			Middleware: mw,
		})
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[management] encode response: %v", err)
	}
}
