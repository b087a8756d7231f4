package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"sre-platform/internal/collections"
	"sre-platform/internal/models"
)

// GetVAPIDKeyHandler returns the public VAPID key browsers subscribe with.
func (h *Handler) GetVAPIDKeyHandler(w http.ResponseWriter, r *http.Request) {
	if h.Push == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "web push is not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.Push.PublicKey()})
}

type pushSubscriptionRequest struct {
	ChannelID string `json:"channel_id"`
	Endpoint  string `json:"endpoint"`
	Keys      struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// SubscribePushHandler stores a browser subscription on a webpush channel.
// Without channel_id the first webpush channel is used, and one is created
// when none exists.
func (h *Handler) SubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	var req pushSubscriptionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		h.fail(w, r, badRequest("endpoint and keys are required"))
		return
	}
	channelID, err := h.pushChannel(r, req.ChannelID, true)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	sub := models.PushSubscription{Endpoint: req.Endpoint, P256dh: req.Keys.P256dh, Auth: req.Keys.Auth}
	_, err = h.Records.Mutate(r.Context(), collections.Channels, channelID, func(doc models.Document) error {
		return editSubscriptions(doc, func(subs []models.PushSubscription) []models.PushSubscription {
			out := subs[:0]
			for _, s := range subs {
				if s.Endpoint != sub.Endpoint {
					out = append(out, s)
				}
			}
			return append(out, sub)
		})
	}, actor(r))
	if err != nil {
		h.logger().Warn("save push subscription failed", zap.String("channel", channelID), zap.Error(err))
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "channel_id": channelID})
}

func (h *Handler) UnsubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	var req pushSubscriptionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Endpoint == "" {
		h.fail(w, r, badRequest("endpoint is required"))
		return
	}
	channelID, err := h.pushChannel(r, req.ChannelID, false)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_, err = h.Records.Mutate(r.Context(), collections.Channels, channelID, func(doc models.Document) error {
		return editSubscriptions(doc, func(subs []models.PushSubscription) []models.PushSubscription {
			out := subs[:0]
			for _, s := range subs {
				if s.Endpoint != req.Endpoint {
					out = append(out, s)
				}
			}
			return out
		})
	}, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "channel_id": channelID})
}

// pushChannel resolves the webpush channel a subscription belongs to.
func (h *Handler) pushChannel(r *http.Request, id string, create bool) (string, error) {
	ctx := r.Context()
	if id != "" {
		doc, err := h.Records.Get(ctx, collections.Channels, id)
		if err != nil {
			return "", err
		}
		if doc.String("type") != string(models.ChannelWebPush) {
			return "", badRequest("channel %s is not a webpush channel", id)
		}
		return id, nil
	}
	res, err := h.Records.List(ctx, collections.Channels, models.ListParams{
		Page:     1,
		PageSize: 1,
		Sort:     "created_at",
		Filters:  map[string]string{"type": string(models.ChannelWebPush)},
	})
	if err != nil {
		return "", err
	}
	if len(res.Items) > 0 {
		return res.Items[0].ID(), nil
	}
	if !create {
		return "", badRequest("no webpush channel exists")
	}
	doc, err := h.Records.Create(ctx, collections.Channels, models.Document{
		"name":        "Browser push",
		"type":        string(models.ChannelWebPush),
		"status":      "active",
		"description": "Created for browser push subscriptions",
		"config":      map[string]any{"subscriptions": []any{}},
	}, actor(r))
	if err != nil {
		return "", err
	}
	return doc.ID(), nil
}

func editSubscriptions(doc models.Document, fn func([]models.PushSubscription) []models.PushSubscription) error {
	var ch models.Channel
	if err := models.Decode(doc, &ch); err != nil {
		return err
	}
	subs, err := ch.PushSubscriptions()
	if err != nil {
		return badRequest("channel has malformed subscriptions: %v", err)
	}
	cfg, _ := doc["config"].(map[string]any)
	if cfg == nil {
		cfg = make(map[string]any)
	}
	next := fn(subs)
	if next == nil {
		next = []models.PushSubscription{}
	}
	normalized, err := models.Normalize(map[string]any{"subscriptions": next})
	if err != nil {
		return err
	}
	cfg["subscriptions"] = normalized["subscriptions"]
	doc["config"] = cfg
	return nil
}
