// File: internal/infra/web/admin_handlers.go
package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"telegram-image-gen/internal/domain"
	"telegram-image-gen/internal/domain/model"
)

type registerRequest struct {
	ChatID int64  `json:"chat_id"`
	Tier   string `json:"tier"`
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChatID == 0 {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	user, err := s.userUC.Register(r.Context(), body.ChatID, body.Tier)
	if err != nil {
		s.log.Error().Int64("chat_id", body.ChatID).Err(err).Msg("user registration failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, userView(user))
}

type topUpRequest struct {
	ChatID int64 `json:"chat_id"`
	Pack   int   `json:"pack"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var body topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChatID == 0 {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	user, err := s.userUC.TopUp(r.Context(), body.ChatID, body.Pack)
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, "Unknown pack", http.StatusUnprocessableEntity)
		return
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "User not found", http.StatusNotFound)
		return
	case err != nil:
		s.log.Error().Int64("chat_id", body.ChatID).Err(err).Msg("top up failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, userView(user))
}

type generateRequest struct {
	ChatID    int64    `json:"chat_id"`
	Prompt    string   `json:"prompt"`
	AssetURLs []string `json:"asset_urls,omitempty"`
}

// handleGenerate accepts a generation request on behalf of a chat. Validation
// failures map to distinct statuses so the caller can relay them.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChatID == 0 {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	err := s.generator.Submit(r.Context(), body.ChatID, body.Prompt, body.AssetURLs)
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	case errors.Is(err, domain.ErrRateLimited):
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	case errors.Is(err, domain.ErrInsufficientCredits):
		http.Error(w, "Insufficient credits", http.StatusPaymentRequired)
		return
	case errors.Is(err, domain.ErrPromptRejected):
		http.Error(w, "Prompt rejected", http.StatusUnprocessableEntity)
		return
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "User not found", http.StatusNotFound)
		return
	case err != nil:
		s.log.Error().Int64("chat_id", body.ChatID).Err(err).Msg("submission failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"ok": true})
}

func userView(u *model.User) map[string]interface{} {
	return map[string]interface{}{
		"id":      u.ID,
		"chat_id": u.ChatID,
		"tier":    u.Tier(),
		"balance": u.BalanceCredits,
	}
}
