package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/GriffinCanCode/omnicall/internal/dispatch"
	"github.com/GriffinCanCode/omnicall/internal/engine"
	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
	"github.com/GriffinCanCode/omnicall/internal/events"
	"github.com/GriffinCanCode/omnicall/internal/store"
	"github.com/GriffinCanCode/omnicall/internal/trace"
)

// StartRequest optionally overrides engine settings for one run.
type StartRequest struct {
	TemplatePath string  `json:"template_path,omitempty"`
	Threshold    float64 `json:"threshold,omitempty"`
}

// Controller is the application the server drives.
type Controller interface {
	Status() engine.Status
	StartEngine(ctx context.Context, req StartRequest) error
	StopEngine() error
	SendTest(ctx context.Context, message string) (dispatch.Result, error)
	Stats(ctx context.Context) (store.PersonalStats, store.GlobalStats, error)
}

// EventSource hands out per-connection event subscriptions.
type EventSource interface {
	Subscribe(id string, buffer int) (<-chan events.Event, error)
	Unsubscribe(id string) error
}

// SnapshotMessage is the first frame on every WebSocket connection.
type SnapshotMessage struct {
	Kind   string        `json:"kind"`
	Status engine.Status `json:"status"`
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

// StopResponse reports a stop; Warning is set when the worker was abandoned.
type StopResponse struct {
	Status  engine.Status `json:"status"`
	Warning string        `json:"warning,omitempty"`
}

// StatsResponse carries personal and global counters.
type StatsResponse struct {
	Personal store.PersonalStats `json:"personal"`
	Global   store.GlobalStats   `json:"global"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow(now time.Time) bool {
	r.lastSeen = now
	cutoff := now.Add(-TestRateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= TestRateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// ipLimiter keeps one rateLimiter per client IP.
type ipLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*rateLimiter
	lastCleanup time.Time
	now         func() time.Time
}

func newIPLimiter(now func() time.Time) *ipLimiter {
	return &ipLimiter{limiters: make(map[string]*rateLimiter), now: now, lastCleanup: now()}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > IPRateLimitCleanupInterval {
		for k, rl := range l.limiters {
			if now.Sub(rl.lastSeen) > IPRateLimitEntryTTL {
				delete(l.limiters, k)
			}
		}
		l.lastCleanup = now
	}

	rl, ok := l.limiters[ip]
	if !ok {
		rl = &rateLimiter{}
		l.limiters[ip] = rl
	}
	return rl.allow(now)
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctrl    Controller
	events  EventSource
	limiter *ipLimiter
}

// New creates a new server.
func New(ctrl Controller, source EventSource) *Server {
	return &Server{ctrl: ctrl, events: source, limiter: newIPLimiter(time.Now)}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/test", s.handleTest)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	id := "ws-" + uuid.NewString()
	ch, err := s.events.Subscribe(id, WSEventBuffer)
	if err != nil {
		log.Warn("event subscription failed", "error", err)
		_ = conn.Close(websocket.StatusTryAgainLater, "event stream unavailable")
		return
	}
	defer func() { _ = s.events.Unsubscribe(id) }()

	// Clients only listen; CloseRead cancels ctx when they go away.
	ctx := conn.CloseRead(r.Context())
	log.Info("websocket connected", "remote", r.RemoteAddr, "subscriber", id)

	if err := s.write(ctx, conn, SnapshotMessage{Kind: "snapshot", Status: s.ctrl.Status()}); err != nil {
		log.Debug("websocket write error", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug("websocket closed", "subscriber", id)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := s.write(ctx, conn, ev); err != nil {
				log.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, WSWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBody))
	if err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.CodeInvalidConfig, "read request body"))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, apperrors.Wrap(err, apperrors.CodeInvalidConfig, "decode start request"))
			return
		}
	}

	if err := s.ctrl.StartEngine(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	resp := StopResponse{}
	if err := s.ctrl.StopEngine(); err != nil {
		if !apperrors.IsCode(err, apperrors.CodeStopTimeout) {
			writeError(w, err)
			return
		}
		resp.Warning = err.Error()
	}
	resp.Status = s.ctrl.Status()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(clientIP(r)) {
		trace.Logger(r.Context()).Warn("rate limit exceeded", "remote", r.RemoteAddr)
		writeError(w, apperrors.New(apperrors.CodeRateLimited, "rate limit exceeded"))
		return
	}

	res, err := s.ctrl.SendTest(r.Context(), TestMessage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	personal, global, err := s.ctrl.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Personal: personal, Global: global})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, apperrors.CodeInternal, "internal error")
	}
	writeJSON(w, httpStatus(appErr.Code), map[string]ErrorBody{
		"error": {Code: appErr.Code, Message: appErr.Error()},
	})
}

func httpStatus(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidConfig, apperrors.CodeInvalidTemplate:
		return http.StatusBadRequest
	case apperrors.CodeAlreadyRunning, apperrors.CodeNotRunning:
		return http.StatusConflict
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.CodeStoreUnavailable, apperrors.CodeDispatchTransport, apperrors.CodeCaptureFailed:
		return http.StatusServiceUnavailable
	case apperrors.CodeStopTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
