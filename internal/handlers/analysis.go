package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"sre-platform/internal/analysis"
)

// CreateAnalysisHandler queues a root cause report for an incident. A
// second request for the same incident gets the existing report id.
func (h *Handler) CreateAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	if h.Analysis == nil {
		h.fail(w, r, analysis.ErrNoTemplates)
		return
	}
	var req analysis.Request
	if err := decodeJSON(r, &req, true); err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.Analysis.CreateReport(r.Context(), mux.Vars(r)["id"], req)
	if errors.Is(err, analysis.ErrReportAlreadyExists) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":      CodeConflict,
			"message":   err.Error(),
			"report_id": report.ReportID,
			"status":    report.Status,
		})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"report_id": report.ReportID,
		"event_id":  report.EventID,
		"status":    report.Status,
	})
}

func (h *Handler) GetAnalysisReportHandler(w http.ResponseWriter, r *http.Request) {
	if h.Analysis == nil {
		h.fail(w, r, analysis.ErrNoTemplates)
		return
	}
	report, err := h.Analysis.GetReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) GetEventAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	if h.Analysis == nil {
		h.fail(w, r, analysis.ErrNoTemplates)
		return
	}
	report, err := h.Analysis.GetByEvent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
