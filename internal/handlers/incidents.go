package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"sre-platform/internal/incident"
	"sre-platform/internal/models"
)

type noteRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) AcknowledgeHandler(w http.ResponseWriter, r *http.Request) {
	if !h.incidentsConfigured(w) {
		return
	}
	var req noteRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.Incidents.Acknowledge(r.Context(), mux.Vars(r)["id"], actor(r), req.Notes)
	h.respondDoc(w, r, doc, err)
}

func (h *Handler) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	if !h.incidentsConfigured(w) {
		return
	}
	var req noteRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.Incidents.Resolve(r.Context(), mux.Vars(r)["id"], actor(r), req.Notes)
	h.respondDoc(w, r, doc, err)
}

func (h *Handler) AssignHandler(w http.ResponseWriter, r *http.Request) {
	if !h.incidentsConfigured(w) {
		return
	}
	var req struct {
		Assignee *models.Actor `json:"assignee"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Assignee == nil || (req.Assignee.ID == "" && req.Assignee.Username == "") {
		h.fail(w, r, badRequest("assignee is required"))
		return
	}
	doc, err := h.Incidents.Assign(r.Context(), mux.Vars(r)["id"], *req.Assignee, actor(r))
	h.respondDoc(w, r, doc, err)
}

func (h *Handler) AddNoteHandler(w http.ResponseWriter, r *http.Request) {
	if !h.incidentsConfigured(w) {
		return
	}
	var req noteRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.Incidents.AddNote(r.Context(), mux.Vars(r)["id"], actor(r), req.Notes)
	h.respondDoc(w, r, doc, err)
}

// BatchHandler applies one action to many incidents and reports which
// ones failed.
func (h *Handler) BatchHandler(w http.ResponseWriter, r *http.Request) {
	if !h.incidentsConfigured(w) {
		return
	}
	var op incident.BatchOperation
	if err := decodeJSON(r, &op, false); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Incidents.Batch(r.Context(), op, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Succeeded == nil {
		res.Succeeded = []string{}
	}
	if res.Failed == nil {
		res.Failed = []incident.BatchFailure{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) incidentsConfigured(w http.ResponseWriter) bool {
	if h.Incidents == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "ingestion is not configured", nil)
		return false
	}
	return true
}

func (h *Handler) respondDoc(w http.ResponseWriter, r *http.Request, doc models.Document, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
