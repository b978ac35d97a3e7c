package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type userIDKey struct{}

// userIDFrom returns the authenticated user stored by RequireAuth.
func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// RequireAuth verifies the bearer credential and stores the user ID in the
// request context.
func (h *Hub) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.lifecycle.Authenticate(r.Context(), credentialFrom(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	})
}

// HistoryHandler returns the conversation between the caller and {userId},
// oldest first.
func (h *Hub) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	history, err := h.messages.History(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "userId"))
	if err != nil {
		h.log.Debug("history request failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// PostMessageHandler sends a message on behalf of the caller through the
// same router as the WebSocket sendMessage event.
func (h *Hub) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.MaxMessageSize)).Decode(&req); err != nil {
		writeError(w, newError(KindBadRequest, "malformed request body", err))
		return
	}
	env, err := h.messages.Send(r.Context(), userIDFrom(r.Context()), req.Receiver, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, env)
}

func statusFor(kind Kind) int {
	switch kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindUnknownUser:
		return http.StatusNotFound
	case KindIdentityMismatch:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	writeJSON(w, statusFor(kind), struct {
		Code    Kind   `json:"code"`
		Message string `json:"message"`
	}{Code: kind, Message: reasonOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
