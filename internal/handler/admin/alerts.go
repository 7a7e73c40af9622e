package admin

import (
	"log/slog"
	"net/http"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/handler"
	"github.com/atis/platform/internal/infra"
	"github.com/atis/platform/internal/service"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// AlertAdminHandler lists security alerts and streams new ones.
type AlertAdminHandler struct {
	emitter *service.AlertEmitter
	hub     *infra.AlertHub
	logger  *slog.Logger
}

// NewAlertAdminHandler creates a new AlertAdminHandler.
func NewAlertAdminHandler(emitter *service.AlertEmitter, hub *infra.AlertHub, logger *slog.Logger) *AlertAdminHandler {
	return &AlertAdminHandler{emitter: emitter, hub: hub, logger: logger}
}

// ListAlerts handles GET /admin/alerts?user_id=&session_id=&status=&limit=.
func (h *AlertAdminHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, err := handler.QueryUUID(r, "user_id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	sessionID, err := handler.QueryUUID(r, "session_id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	limit, err := handler.QueryInt(r, "limit", defaultAlertLimit)
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	if limit < 1 || limit > maxAlertLimit {
		handler.RespondError(w, domain.ErrValidation("limit must be between 1 and 500"))
		return
	}

	alerts, err := h.emitter.ListAlerts(r.Context(), domain.AlertFilter{
		UserID:    userID,
		SessionID: sessionID,
		Status:    r.URL.Query().Get("status"),
		Limit:     limit,
	})
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	if alerts == nil {
		alerts = []domain.SecurityAlert{}
	}

	handler.RespondJSON(w, http.StatusOK, alerts)
}

// Stream handles GET /admin/alerts/stream. With ?user_id= only that user's
// alerts are streamed.
func (h *AlertAdminHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, err := handler.QueryUUID(r, "user_id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	room := infra.RoomAllAlerts
	if userID != nil {
		room = infra.UserRoom(*userID)
	}

	// Serve writes its own HTTP error when the upgrade fails.
	if err := h.hub.Serve(r.Context(), w, r, room); err != nil {
		h.logger.Warn("alert stream upgrade failed", "error", err, "client_ip", handler.ClientIP(r))
	}
}
