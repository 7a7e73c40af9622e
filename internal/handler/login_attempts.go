package handler

import (
	"net/http"

	"github.com/atis/platform/internal/service"
)

// RecordLoginAttempt handles POST /internal/login-attempts. The response
// carries the lockout verdict the login service should enforce.
func (h *SessionHandler) RecordLoginAttempt(w http.ResponseWriter, r *http.Request) {
	var input service.LoginAttemptInput
	if err := DecodeJSON(r, &input); err != nil {
		RespondBadBody(w)
		return
	}

	verdict, err := h.registry.RecordLoginAttempt(r.Context(), input)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, verdict)
}
