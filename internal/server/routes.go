package server

import "net/http"

// Routes configures and returns an HTTP ServeMux with all application routes:
// health check, WebSocket endpoint, test page, metrics and the chat API.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("GET /test", s.TestPageHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("POST /api/chats", s.authenticated(s.handleCreateChat))
	mux.HandleFunc("GET /api/chats/{chatID}", s.authenticated(s.handleGetChat))
	mux.HandleFunc("GET /api/chats/{chatID}/messages", s.authenticated(s.handleListMessages))
	mux.HandleFunc("POST /api/chats/{chatID}/messages", s.authenticated(s.handleSendMessage))
	mux.HandleFunc("POST /api/chats/{chatID}/messages/{messageID}/read", s.authenticated(s.handleMarkRead))
	mux.HandleFunc("POST /api/chats/{chatID}/participants", s.authenticated(s.handleAddParticipant))
	mux.HandleFunc("DELETE /api/chats/{chatID}/participants/{userID}", s.authenticated(s.handleRemoveParticipant))
	mux.HandleFunc("GET /api/users/{userID}/status", s.authenticated(s.handleUserStatus))
	mux.HandleFunc("PUT /api/users/{userID}/status", s.authenticated(s.handleUpdateStatus))
	return mux
}
