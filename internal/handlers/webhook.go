package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// WebhookHandler ingests alerts from monitoring systems. JSON is tried
// first, then form or query values.
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if !validateSignature(r, h.WebhookSecret) {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid webhook signature", nil)
		return
	}
	if !h.incidentsConfigured(w) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, badRequest("read body: %v", err))
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		payload = formPayload(r)
		if payload == nil {
			payload = map[string]any{"raw": "unparseable payload"}
		}
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		source = "webhook"
	}
	docs, err := h.Incidents.Ingest(r.Context(), payload, source)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID())
	}
	resp := map[string]any{
		"status":     "ok",
		"ids":        ids,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	if len(ids) > 0 {
		resp["id"] = ids[0]
	}
	writeJSON(w, http.StatusOK, resp)
}

// TelegramHandler mimics the Bot API sendMessage call so tools that only
// know how to alert through Telegram can be pointed at this server.
func (h *Handler) TelegramHandler(w http.ResponseWriter, r *http.Request) {
	bot := mux.Vars(r)["bot"]
	if !strings.HasPrefix(bot, "bot") {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid bot path", nil)
		return
	}
	if !h.incidentsConfigured(w) {
		return
	}

	var payload map[string]any
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&payload)
	}
	if payload == nil {
		payload = formPayload(r)
	}
	if payload == nil {
		payload = make(map[string]any)
	}

	chatID := getString(payload["chat_id"])
	if chatID == "" {
		chatID = "unknown"
	}
	text := getString(payload["text"])
	if text == "" {
		text = "(empty message)"
	}

	docs, err := h.Incidents.Ingest(r.Context(), map[string]any{
		"title":   "Telegram message (chat " + chatID + ")",
		"message": text,
		"level":   "info",
	}, "telegram:"+chatID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var messageID string
	date := time.Now().UTC()
	if len(docs) > 0 {
		messageID = docs[0].ID()
		if t, ok := docs[0].Time("created_at"); ok {
			date = t
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"result": map[string]any{
			"message_id": messageID,
			"from": map[string]any{
				"id":         0,
				"is_bot":     true,
				"first_name": "SREPlatformBot",
				"username":   "SREPlatformBot",
			},
			"chat": map[string]any{
				"id":   chatID,
				"type": "private",
			},
			"date": date.Unix(),
			"text": text,
		},
	})
	h.logger().Debug("telegram message ingested", zap.String("chat_id", chatID))
}

func formPayload(r *http.Request) map[string]any {
	if err := r.ParseForm(); err != nil || len(r.Form) == 0 {
		return nil
	}
	payload := make(map[string]any, len(r.Form))
	for k, v := range r.Form {
		if len(v) > 0 {
			payload[k] = v[0]
		}
	}
	return payload
}

func getString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
