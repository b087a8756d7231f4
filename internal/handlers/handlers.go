// Package handlers exposes the platform over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sre-platform/internal/analysis"
	"sre-platform/internal/auth"
	"sre-platform/internal/automation"
	"sre-platform/internal/collections"
	"sre-platform/internal/incident"
	"sre-platform/internal/metrics"
	"sre-platform/internal/notify"
	"sre-platform/internal/store"
	"sre-platform/internal/stream"
)

const apiPrefix = "/api/v1"

// Handler serves the REST API. Optional services may be nil; their routes
// then answer 503.
type Handler struct {
	Records    *collections.Service
	Store      store.Store
	Incidents  *incident.Service
	Dispatcher *notify.Dispatcher
	Runner     *automation.Runner
	Analysis   *analysis.Service
	Auth       *auth.Manager
	Broker     stream.Broker
	Metrics    *metrics.Metrics
	Push       *notify.WebPushSender

	WebhookSecret string
	CORSOrigins   []string
	// Providers names the configured backends, reported by /health.
	Providers map[string]string
	Logger    *zap.Logger
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// Router builds the HTTP handler with all routes and middleware.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "no route for "+r.URL.Path, nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, r.Method+" is not allowed on "+r.URL.Path, nil)
	})
	r.Use(routeLabel, h.authenticate)

	r.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/webhook", h.WebhookHandler).Methods(http.MethodPost)
	r.HandleFunc("/telegram/{bot}/sendMessage", h.TelegramHandler).Methods(http.MethodPost)
	r.HandleFunc("/stream", h.StreamHandler).Methods(http.MethodGet)

	for _, prefix := range []string{"", apiPrefix} {
		h.routes(r, prefix)
	}
	return h.logRequests(h.recoverPanics(h.cors(r)))
}

// routes registers the API under prefix. Specific routes go before the
// generic collection ones.
func (h *Handler) routes(r *mux.Router, p string) {
	get, post, put, del := http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete

	r.HandleFunc(p+"/auth/login", h.LoginHandler).Methods(post)
	r.HandleFunc(p+"/auth/logout", h.LogoutHandler).Methods(post)
	r.HandleFunc(p+"/auth/me", h.MeHandler).Methods(get)
	r.HandleFunc(p+"/auth/tokens", h.IssueTokenHandler).Methods(post)
	r.HandleFunc(p+"/auth/password", h.ChangePasswordHandler).Methods(post, put)
	r.HandleFunc(p+"/auth/profile", h.GetProfileHandler).Methods(get)
	r.HandleFunc(p+"/auth/profile", h.UpdateProfileHandler).Methods(put)
	r.HandleFunc(p+"/auth/2fa/setup", h.Setup2FAHandler).Methods(post)
	r.HandleFunc(p+"/auth/2fa/enable", h.Enable2FAHandler).Methods(post)
	r.HandleFunc(p+"/auth/2fa/disable", h.Disable2FAHandler).Methods(post)
	r.HandleFunc(p+"/auth/2fa/verify", h.Verify2FAHandler).Methods(post)

	r.HandleFunc(p+"/users", h.GetUsersHandler).Methods(get)
	r.HandleFunc(p+"/users", h.CreateUserHandler).Methods(post)
	r.HandleFunc(p+"/users/{id:[0-9]+}", h.GetUserHandler).Methods(get)
	r.HandleFunc(p+"/users/{id:[0-9]+}", h.UpdateUserHandler).Methods(put)
	r.HandleFunc(p+"/users/{id:[0-9]+}", h.DeleteUserHandler).Methods(del)
	r.HandleFunc(p+"/users/{id:[0-9]+}/password", h.ResetPasswordHandler).Methods(post)
	r.HandleFunc(p+"/users/{id:[0-9]+}/2fa/disable", h.AdminDisable2FAHandler).Methods(post)

	r.HandleFunc(p+"/push/vapid-key", h.GetVAPIDKeyHandler).Methods(get)
	r.HandleFunc(p+"/push/subscribe", h.SubscribePushHandler).Methods(post)
	r.HandleFunc(p+"/push/unsubscribe", h.UnsubscribePushHandler).Methods(post)

	r.HandleFunc(p+"/events/batch", h.BatchHandler).Methods(post)
	r.HandleFunc(p+"/events/{id}/acknowledge", h.AcknowledgeHandler).Methods(post)
	r.HandleFunc(p+"/events/{id}/resolve", h.ResolveHandler).Methods(post)
	r.HandleFunc(p+"/events/{id}/assign", h.AssignHandler).Methods(post)
	r.HandleFunc(p+"/events/{id}/notes", h.AddNoteHandler).Methods(post)
	r.HandleFunc(p+"/events/{id}/ai-analysis", h.CreateAnalysisHandler).Methods(post)
	r.HandleFunc(p+"/events/{id}/ai-analysis", h.GetEventAnalysisHandler).Methods(get)
	r.HandleFunc(p+"/ai/analysis-reports/{id}", h.GetAnalysisReportHandler).Methods(get)

	r.HandleFunc(p+"/scripts/{id}/execute", h.ExecuteScriptHandler).Methods(post)
	r.HandleFunc(p+"/schedules/{id}/next-runs", h.NextRunsHandler).Methods(get)
	r.HandleFunc(p+"/channels/{id}/test", h.TestChannelHandler).Methods(post)
	r.HandleFunc(p+"/notifications/{id}/retry", h.RetryNotificationHandler).Methods(post)

	for _, c := range collections.All() {
		base := p + "/" + c.Path
		r.HandleFunc(base, h.listHandler(c)).Methods(get)
		r.HandleFunc(base+"/{id}", h.getHandler(c)).Methods(get)
		if c.ReadOnly {
			continue
		}
		r.HandleFunc(base, h.createHandler(c)).Methods(post)
		r.HandleFunc(base+"/{id}", h.updateHandler(c)).Methods(put, http.MethodPatch)
		r.HandleFunc(base+"/{id}", h.deleteHandler(c)).Methods(del)
	}
}

// HealthHandler pings the store and reports the configured backends.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code, storeState := "ok", http.StatusOK, "ok"
	if h.Store == nil {
		storeState = "not configured"
	} else if err := h.Store.Ping(ctx); err != nil {
		h.logger().Warn("health check failed", zap.Error(err))
		status, code, storeState = "degraded", http.StatusServiceUnavailable, err.Error()
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"store":     storeState,
		"providers": h.Providers,
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
}

// StreamHandler pushes record changes as server-sent events. The optional
// collection query parameter is a comma separated list of collection keys
// or URL paths.
func (h *Handler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	if h.Broker == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "streaming is not configured", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeInternal, "streaming unsupported", nil)
		return
	}
	var only map[string]bool
	if v := r.URL.Query().Get("collection"); v != "" {
		only = make(map[string]bool)
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if c, ok := collections.ByPath(name); ok {
				name = c.Key
			}
			only[name] = true
		}
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	changes, cancel := h.Broker.Subscribe(r.Context())
	defer cancel()
	h.Metrics.StreamClient(1)
	defer h.Metrics.StreamClient(-1)

	fmt.Fprintf(w, "data: %s\n\n", "connected")
	flusher.Flush()

	for {
		select {
		case c, ok := <-changes:
			if !ok {
				return
			}
			if only != nil && !only[c.Collection] {
				continue
			}
			payload, err := json.Marshal(c)
			if err != nil {
				h.logger().Warn("encode change failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
