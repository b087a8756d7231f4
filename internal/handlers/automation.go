package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"sre-platform/internal/automation"
	"sre-platform/internal/collections"
	"sre-platform/internal/models"
)

const (
	defaultNextRuns = 5
	maxNextRuns     = 50
)

// ExecuteScriptHandler starts a manual run and answers before it finishes.
func (h *Handler) ExecuteScriptHandler(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "script execution is not configured", nil)
		return
	}
	var req automation.RunRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.fail(w, r, err)
		return
	}
	req.TriggerSource = models.TriggerManual
	req.TriggeredBy = actor(r)
	doc, err := h.Runner.Start(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

// NextRunsHandler previews when a schedule will fire.
func (h *Handler) NextRunsHandler(w http.ResponseWriter, r *http.Request) {
	count := defaultNextRuns
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxNextRuns {
			h.fail(w, r, badRequest("count must be between 1 and %d", maxNextRuns))
			return
		}
		count = n
	}
	id := mux.Vars(r)["id"]
	doc, err := h.Records.Get(r.Context(), collections.Schedules, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var sc models.Schedule
	if err := models.Decode(doc, &sc); err != nil {
		h.fail(w, r, err)
		return
	}
	runs, err := automation.NextRuns(sc, time.Now(), count)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]string, 0, len(runs))
	for _, t := range runs {
		out = append(out, t.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedule_id": id, "next_runs": out})
}

// TestChannelHandler sends a test message on a channel.
func (h *Handler) TestChannelHandler(w http.ResponseWriter, r *http.Request) {
	if h.Dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "notifications are not configured", nil)
		return
	}
	doc, err := h.Dispatcher.Test(r.Context(), mux.Vars(r)["id"], actor(r))
	h.respondDoc(w, r, doc, err)
}

func (h *Handler) RetryNotificationHandler(w http.ResponseWriter, r *http.Request) {
	if h.Dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "notifications are not configured", nil)
		return
	}
	doc, err := h.Dispatcher.Retry(r.Context(), mux.Vars(r)["id"], actor(r))
	h.respondDoc(w, r, doc, err)
}
