package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Tyrowin/gochat-live/internal/auth"
	"github.com/Tyrowin/gochat-live/internal/chat"
	"github.com/Tyrowin/gochat-live/internal/errs"
	"github.com/Tyrowin/gochat-live/internal/realtime"
)

const maxRequestBody = 1 << 20

type authedHandler func(w http.ResponseWriter, r *http.Request, id auth.Identity)

type errorResponse struct {
	Message string `json:"message"`
}

type statusResponse struct {
	UserID    string          `json:"userId"`
	Status    realtime.Status `json:"status"`
	LastSeen  *time.Time      `json:"lastSeen,omitempty"`
	Connected bool            `json:"connected"`
}

type participantRequest struct {
	UserID string `json:"userId"`
}

type participantsResponse struct {
	ChatID       string   `json:"chatId"`
	Participants []string `json:"participants"`
}

type statusRequest struct {
	Status realtime.Status `json:"status"`
}

// authenticated rejects requests without a valid bearer token.
func (s *Server) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.verifier.Verify(r.Context(), auth.TokenFromHeader(r))
		if err != nil {
			msg := errs.ErrInvalidToken.Error()
			if errors.Is(err, errs.ErrMissingToken) {
				msg = errs.ErrMissingToken.Error()
			}
			writeError(w, http.StatusUnauthorized, msg)
			return
		}
		next(w, r, id)
	}
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var in chat.CreateChatInput
	if !s.decodeBody(w, r, &in) {
		return
	}
	c, err := s.chats.CreateChat(r.Context(), id.UserID, in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	c, err := s.chats.Chat(r.Context(), id.UserID, r.PathValue("chatID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	msgs, err := s.chats.Messages(r.Context(), id.UserID, r.PathValue("chatID"), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var in chat.SendMessageInput
	if !s.decodeBody(w, r, &in) {
		return
	}
	in.ChatID = r.PathValue("chatID")

	msg, err := s.chats.SendMessage(r.Context(), id.UserID, in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	msg, err := s.chats.MarkRead(r.Context(), id.UserID, r.PathValue("chatID"), r.PathValue("messageID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var in participantRequest
	if !s.decodeBody(w, r, &in) {
		return
	}
	c, err := s.chats.AddParticipant(r.Context(), id.UserID, r.PathValue("chatID"), in.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participantsResponse{ChatID: c.ID, Participants: c.Participants})
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	c, err := s.chats.RemoveParticipant(r.Context(), id.UserID, r.PathValue("chatID"), r.PathValue("userID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participantsResponse{ChatID: c.ID, Participants: c.Participants})
}

// handleUpdateStatus lets a connected user set their own presence to online
// or away. Every other connected user is told through the hub.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	userID := r.PathValue("userID")
	if userID != id.UserID {
		writeError(w, http.StatusForbidden, "You can only update your own status")
		return
	}

	var in statusRequest
	if !s.decodeBody(w, r, &in) {
		return
	}
	rec, err := s.hub.NotifyPresenceChange(userID, in.Status)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.presenceResponse(rec))
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	userID := r.PathValue("userID")
	rec, ok := s.hub.Presence().Get(userID)
	if !ok {
		rec = realtime.PresenceRecord{UserID: userID, Status: realtime.StatusOffline}
	}
	writeJSON(w, http.StatusOK, s.presenceResponse(rec))
}

func (s *Server) presenceResponse(rec realtime.PresenceRecord) statusResponse {
	resp := statusResponse{
		UserID:    rec.UserID,
		Status:    rec.Status,
		Connected: s.hub.IsUserConnected(rec.UserID),
	}
	if !rec.LastSeen.IsZero() {
		lastSeen := rec.LastSeen
		resp.LastSeen = &lastSeen
	}
	return resp
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidInput), errors.Is(err, errs.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrNotParticipant):
		writeError(w, http.StatusForbidden, errs.ErrNotParticipant.Error())
	case errors.Is(err, errs.ErrForbidden):
		writeError(w, http.StatusForbidden, errs.ErrForbidden.Error())
	case errors.Is(err, errs.ErrAlreadyParticipant):
		writeError(w, http.StatusConflict, errs.ErrAlreadyParticipant.Error())
	case errors.Is(err, errs.ErrNotConnected):
		writeError(w, http.StatusConflict, errs.ErrNotConnected.Error())
	case errors.Is(err, errs.ErrParticipantNotFound):
		writeError(w, http.StatusNotFound, errs.ErrParticipantNotFound.Error())
	case errors.Is(err, errs.ErrChatNotFound):
		writeError(w, http.StatusNotFound, errs.ErrChatNotFound.Error())
	case errors.Is(err, errs.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, errs.ErrMessageNotFound.Error())
	default:
		s.log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Message: msg})
}
