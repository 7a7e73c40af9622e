package handler

import (
	"net/http"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/service"
)

// SessionHandler serves the session endpoints called by internal services.
type SessionHandler struct {
	registry *service.SessionRegistry
	recorder *service.ActivityRecorder
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(registry *service.SessionRegistry, recorder *service.ActivityRecorder) *SessionHandler {
	return &SessionHandler{registry: registry, recorder: recorder}
}

type checkRequest struct {
	Token string `json:"token"`
}

type activityRequest struct {
	ActivityType string                `json:"activity_type"`
	Context      domain.RequestContext `json:"context"`
}

type extendRequest struct {
	Hours *int `json:"hours"`
}

type terminateRequest struct {
	Reason string `json:"reason"`
}

// Create handles POST /internal/sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateSessionInput
	if err := DecodeJSON(r, &input); err != nil {
		RespondBadBody(w)
		return
	}

	sess, err := h.registry.CreateSession(r.Context(), input)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, sess)
}

// Check handles POST /internal/sessions/check. The token travels in the body
// so it never lands in access logs.
func (h *SessionHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondBadBody(w)
		return
	}

	result, err := h.registry.CheckSession(r.Context(), req.Token)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// RecordActivity handles POST /internal/sessions/{id}/activities.
func (h *SessionHandler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	id, err := URLParamUUID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req activityRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondBadBody(w)
		return
	}

	act, err := h.recorder.RecordActivity(r.Context(), id, req.ActivityType, req.Context)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, act)
}

// Extend handles POST /internal/sessions/{id}/extend. An empty body extends
// by the configured session lifetime.
func (h *SessionHandler) Extend(w http.ResponseWriter, r *http.Request) {
	id, err := URLParamUUID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req extendRequest
	if err := DecodeOptionalJSON(r, &req); err != nil {
		RespondBadBody(w)
		return
	}

	sess, err := h.registry.Extend(r.Context(), id, req.Hours)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, sess)
}

// Terminate handles POST /internal/sessions/{id}/terminate (user logout).
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	id, err := URLParamUUID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	req := terminateRequest{Reason: domain.ReasonLogout}
	if err := DecodeOptionalJSON(r, &req); err != nil {
		RespondBadBody(w)
		return
	}

	sess, err := h.registry.Terminate(r.Context(), id, req.Reason, nil)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, sess)
}
