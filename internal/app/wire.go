package app

import (
	"log/slog"
	"net/http"

	"github.com/atis/platform/internal/auth"
	"github.com/atis/platform/internal/guard"
	"github.com/atis/platform/internal/handler"
	adminhandler "github.com/atis/platform/internal/handler/admin"
	"github.com/atis/platform/internal/infra"
	"github.com/atis/platform/internal/service"
	"github.com/go-chi/chi/v5"
)

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	DB           infra.Pinger
	JWTMgr       *auth.JWTManager
	Logger       *slog.Logger
	Metrics      *infra.Metrics
	Registry     *service.SessionRegistry
	Recorder     *service.ActivityRecorder
	Stats        *service.Statistics
	Emitter      *service.AlertEmitter
	Hub          *infra.AlertHub
	AdminLimiter *guard.RateLimiter
	CORSOrigins  string
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger
	jwtMgr := deps.JWTMgr

	// Handlers
	sessionHandler := handler.NewSessionHandler(deps.Registry, deps.Recorder)
	sessionAdmin := adminhandler.NewSessionAdminHandler(deps.Registry, deps.Stats)
	alertAdmin := adminhandler.NewAlertAdminHandler(deps.Emitter, deps.Hub, logger)

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.Instrument(deps.Metrics))
	r.Use(handler.CORSWithOrigins(deps.CORSOrigins))

	// Infra (no auth)
	r.With(handler.JSONContentType).Get("/health", handler.HealthHandler(deps.DB))
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	// Service-authenticated routes
	r.Route("/internal/sessions", func(r chi.Router) {
		r.Use(handler.JSONContentType)
		r.Use(auth.AuthenticateService(jwtMgr))

		r.Post("/", sessionHandler.Create)
		r.Post("/check", sessionHandler.Check)
		r.Post("/{id}/activities", sessionHandler.RecordActivity)
		r.Post("/{id}/extend", sessionHandler.Extend)
		r.Post("/{id}/terminate", sessionHandler.Terminate)
	})

	r.With(handler.JSONContentType, auth.AuthenticateService(jwtMgr)).
		Post("/internal/login-attempts", sessionHandler.RecordLoginAttempt)

	// Admin-authenticated routes
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.AuthenticateAdmin(jwtMgr))
		if deps.AdminLimiter != nil {
			r.Use(handler.RateLimit(deps.AdminLimiter, handler.BySubject, logger))
		}

		// The stream is upgraded to WebSocket and sets its own headers.
		r.With(auth.RequireRole(auth.AllAdminRoles()...)).Get("/alerts/stream", alertAdmin.Stream)

		r.Group(func(r chi.Router) {
			r.Use(handler.JSONContentType)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.AllAdminRoles()...))

				r.Get("/alerts", alertAdmin.ListAlerts)
				r.Get("/sessions/{id}/statistics", sessionAdmin.SessionStatistics)
				r.Get("/users/{id}/activity-patterns", sessionAdmin.ActivityPatterns)
				r.Get("/users/{id}/security-overview", sessionAdmin.SecurityOverview)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.WriteRoles()...))

				r.Post("/sessions/{id}/terminate", sessionAdmin.TerminateSession)
				r.Post("/users/{id}/sessions/terminate", sessionAdmin.TerminateUserSessions)
				r.Post("/maintenance/cleanup", sessionAdmin.Cleanup)
			})
		})
	})

	return r
}
