package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-live/internal/auth"
	"github.com/Tyrowin/gochat-live/internal/chat"
	"github.com/Tyrowin/gochat-live/internal/errs"
	"github.com/Tyrowin/gochat-live/internal/metrics"
	"github.com/Tyrowin/gochat-live/internal/realtime"
)

const rejectWriteWait = time.Second

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	Config   *Config
	Hub      *realtime.Hub
	Chats    *chat.Service
	Verifier auth.Verifier
	Metrics  *metrics.Registry
	Logger   zerolog.Logger
}

// Server holds the HTTP handlers for the WebSocket endpoint, the REST API,
// health and metrics.
type Server struct {
	cfg      *Config
	hub      *realtime.Hub
	chats    *chat.Service
	verifier auth.Verifier
	metrics  *metrics.Registry
	origins  *originPolicy
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New creates a Server from deps.
func New(deps Deps) *Server {
	log := deps.Logger.With().Str("component", "http").Logger()
	s := &Server{
		cfg:      deps.Config,
		hub:      deps.Hub,
		chats:    deps.Chats,
		verifier: deps.Verifier,
		metrics:  deps.Metrics,
		origins:  newOriginPolicy(deps.Config.AllowedOrigins, log),
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// WebSocketHandler upgrades an authenticated GET request and hands the
// connection to the hub. A request without a valid token is still upgraded
// so the client learns why: the socket is closed with code 1008 and reason
// "missing token" or "invalid token", and no state is touched.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	token := auth.TokenFromQuery(r)
	if token == "" {
		token = auth.TokenFromHeader(r)
	}
	identity, verifyErr := s.verifier.Verify(r.Context(), token)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.HandshakesRejected.WithLabelValues("upgrade").Inc()
		s.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	if verifyErr != nil {
		s.rejectHandshake(conn, r.RemoteAddr, verifyErr)
		return
	}

	if _, err := s.hub.Attach(conn, identity, r.RemoteAddr); err != nil {
		s.log.Info().Err(err).Str("remote_addr", r.RemoteAddr).Str("user_id", identity.UserID).Msg("Refused WebSocket connection")
	}
}

func (s *Server) rejectHandshake(conn *websocket.Conn, remote string, cause error) {
	reason := errs.ErrInvalidToken.Error()
	if errors.Is(cause, errs.ErrMissingToken) {
		reason = errs.ErrMissingToken.Error()
	}
	s.metrics.HandshakesRejected.WithLabelValues(reason).Inc()
	s.log.Info().Err(cause).Str("remote_addr", remote).Str("reason", reason).Msg("Rejected WebSocket handshake")

	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(rejectWriteWait)); err != nil {
		s.log.Debug().Err(err).Msg("Failed to send close frame")
	}
	_ = conn.Close()
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}
