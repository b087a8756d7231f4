package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"sre-platform/internal/models"
)

// VAPIDKeys identify this server to browser push services.
type VAPIDKeys struct {
	Public     string
	Private    string
	Subscriber string
}

// WebPushSender delivers to every browser subscription stored in the
// channel's config.subscriptions.
type WebPushSender struct {
	keys   VAPIDKeys
	client *http.Client
	logger *zap.Logger
}

// NewWebPushSender generates a key pair when keys are missing. Generated
// keys only live as long as the process, so they are logged for reuse.
func NewWebPushSender(keys VAPIDKeys, client *http.Client, logger *zap.Logger) (*WebPushSender, error) {
	logger = logger.Named("webpush")
	if keys.Public == "" || keys.Private == "" {
		private, public, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			return nil, fmt.Errorf("generate vapid keys: %w", err)
		}
		keys.Public, keys.Private = public, private
		logger.Warn("VAPID keys not configured, generated a new pair",
			zap.String("vapid_public_key", public),
			zap.String("vapid_private_key", private))
	}
	if keys.Subscriber == "" {
		keys.Subscriber = "mailto:admin@example.com"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WebPushSender{keys: keys, client: client, logger: logger}, nil
}

// PublicKey is handed to browsers when they subscribe.
func (p *WebPushSender) PublicKey() string { return p.keys.Public }

func (p *WebPushSender) Type() models.ChannelType { return models.ChannelWebPush }

func (p *WebPushSender) Send(ctx context.Context, ch models.Channel, msg Message) (int, error) {
	subs, err := ch.PushSubscriptions()
	if err != nil {
		return 0, misconfigured(ch, "decode subscriptions: %v", err)
	}
	if len(subs) == 0 {
		return 0, misconfigured(ch, "no push subscriptions")
	}
	payload, err := json.Marshal(map[string]string{
		"title":    msg.Subject,
		"body":     msg.Body,
		"event_id": msg.EventID,
		"severity": string(msg.Severity),
	})
	if err != nil {
		return 0, err
	}

	urgency := webpush.UrgencyNormal
	if msg.Severity == models.SeverityCritical {
		urgency = webpush.UrgencyHigh
	}

	var (
		code int
		errs []error
	)
	for _, sub := range subs {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}, &webpush.Options{
			HTTPClient:      p.client,
			Subscriber:      p.keys.Subscriber,
			VAPIDPublicKey:  p.keys.Public,
			VAPIDPrivateKey: p.keys.Private,
			TTL:             30,
			Urgency:         urgency,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub.Endpoint, err))
			continue
		}
		code = resp.StatusCode
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			if resp.StatusCode == http.StatusGone {
				p.logger.Info("push subscription expired", zap.String("channel", ch.ID), zap.String("endpoint", sub.Endpoint))
			}
			errs = append(errs, fmt.Errorf("%s: %w", sub.Endpoint, &StatusError{Code: resp.StatusCode}))
		}
	}
	// One reachable browser is a delivery.
	if len(errs) == len(subs) {
		return code, errors.Join(errs...)
	}
	return code, nil
}
