package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/whatsapp-automation/botdesk/internal/session"
	"github.com/whatsapp-automation/botdesk/internal/whatsapp"
)

const sendTimeout = 30 * time.Second

// Devices is the session manager surface exposed over HTTP.
type Devices interface {
	List() []session.DeviceInfo
	Snapshot() map[string]session.Stats
	Send(ctx context.Context, id, to, text string) error
}

// Logics lists the loaded handler definitions.
type Logics interface {
	Names() []string
}

// Authenticator checks basic auth credentials.
type Authenticator interface {
	Verify(username, password string) bool
}

// Options wires the server.
type Options struct {
	Devices   Devices
	Logics    Logics
	Auth      Authenticator
	Realtime  http.Handler
	PublicDir string
	Version   string
}

// Server represents the HTTP API server
type Server struct {
	devices   Devices
	logics    Logics
	auth      Authenticator
	realtime  http.Handler
	publicDir string
	version   string
	started   time.Time
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	return &Server{
		devices:   opts.Devices,
		logics:    opts.Logics,
		auth:      opts.Auth,
		realtime:  opts.Realtime,
		publicDir: opts.PublicDir,
		version:   opts.Version,
		started:   time.Now(),
	}
}

// RegisterRoutes registers HTTP routes
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/status", s.basicAuth(http.HandlerFunc(s.handleStatus))).Methods(http.MethodGet)
	r.Handle("/send", s.basicAuth(http.HandlerFunc(s.handleSend))).Methods(http.MethodPost)

	if s.realtime != nil {
		r.Handle("/ws", s.realtime)
	}

	if s.publicDir != "" {
		if info, err := os.Stat(s.publicDir); err == nil && info.IsDir() {
			r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.publicDir)))
			zap.S().Infof("[api] serving dashboard from %s", s.publicDir)
		}
	}
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || s.auth == nil || !s.auth.Verify(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="botdesk"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.S().Debugf("[api] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": true, "message": message})
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := 0
	devices := s.devices.List()
	for _, d := range devices {
		if d.Status == session.StatusConnected {
			connected++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy":   true,
		"version":   s.version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"devices":   len(devices),
		"connected": connected,
	})
}

// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var logics []string
	if s.logics != nil {
		logics = s.logics.Names()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": s.devices.List(),
		"stats":   s.devices.Snapshot(),
		"logics":  logics,
	})
}

// SendRequest for POST /send
type SendRequest struct {
	DeviceID string `json:"device_id"`
	To       string `json:"to"`
	Message  string `json:"message"`
}

// POST /send - Send a text message from a connected device
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.DeviceID == "" || req.To == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "device_id, to, message required")
		return
	}
	if !session.ValidDeviceID(req.DeviceID) {
		writeError(w, http.StatusBadRequest, "invalid device_id")
		return
	}
	if _, err := whatsapp.ParseAddress(req.To); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sendTimeout)
	defer cancel()

	err := s.devices.Send(ctx, req.DeviceID, req.To, req.Message)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, session.ErrNotConnected):
		writeError(w, http.StatusConflict, err.Error())
		return
	default:
		zap.S().Errorf("[api] send from %s to %s: %v", req.DeviceID, req.To, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	zap.S().Infof("[api] sent %s -> %s", req.DeviceID, req.To)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"timestamp": time.Now().Unix(),
	})
}
