package admin

import (
	"net/http"

	"github.com/atis/platform/internal/auth"
	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/handler"
	"github.com/atis/platform/internal/service"
)

const defaultPatternDays = 30

// SessionAdminHandler serves session management and reporting for the admin console.
type SessionAdminHandler struct {
	registry *service.SessionRegistry
	stats    *service.Statistics
}

// NewSessionAdminHandler creates a new SessionAdminHandler.
func NewSessionAdminHandler(registry *service.SessionRegistry, stats *service.Statistics) *SessionAdminHandler {
	return &SessionAdminHandler{registry: registry, stats: stats}
}

type terminateRequest struct {
	Reason string `json:"reason"`
}

// TerminateSession handles POST /admin/sessions/{id}/terminate. The calling
// admin is recorded as the actor.
func (h *SessionAdminHandler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	id, err := handler.URLParamUUID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	req := terminateRequest{Reason: domain.ReasonAdminAction}
	if err := handler.DecodeOptionalJSON(r, &req); err != nil {
		handler.RespondBadBody(w)
		return
	}

	actor := auth.ClaimsFromContext(r.Context()).ActorID()
	sess, err := h.registry.Terminate(r.Context(), id, req.Reason, actor)
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, sess)
}

// TerminateUserSessions handles POST /admin/users/{id}/sessions/terminate.
func (h *SessionAdminHandler) TerminateUserSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := handler.URLParamUUID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	req := terminateRequest{Reason: domain.ReasonAdminAction}
	if err := handler.DecodeOptionalJSON(r, &req); err != nil {
		handler.RespondBadBody(w)
		return
	}

	actor := auth.ClaimsFromContext(r.Context()).ActorID()
	count, err := h.registry.TerminateAllForUser(r.Context(), userID, req.Reason, actor)
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, map[string]int{"terminated": count})
}

// SessionStatistics handles GET /admin/sessions/{id}/statistics.
func (h *SessionAdminHandler) SessionStatistics(w http.ResponseWriter, r *http.Request) {
	id, err := handler.URLParamUUID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	stats, err := h.stats.SessionStatistics(r.Context(), id)
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, stats)
}

// ActivityPatterns handles GET /admin/users/{id}/activity-patterns?days=N.
func (h *SessionAdminHandler) ActivityPatterns(w http.ResponseWriter, r *http.Request) {
	userID, err := handler.URLParamUUID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	days, err := handler.QueryInt(r, "days", defaultPatternDays)
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	patterns, err := h.stats.UserActivityPatterns(r.Context(), userID, days)
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, patterns)
}

// SecurityOverview handles GET /admin/users/{id}/security-overview.
func (h *SessionAdminHandler) SecurityOverview(w http.ResponseWriter, r *http.Request) {
	userID, err := handler.URLParamUUID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	overview, err := h.stats.SecurityOverview(r.Context(), userID)
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, overview)
}

// Cleanup handles POST /admin/maintenance/cleanup.
func (h *SessionAdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	count, err := h.registry.CleanupExpired(r.Context())
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, map[string]int{"expired": count})
}
