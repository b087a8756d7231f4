package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sre-platform/internal/models"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Sentinel-Signature"

// Sign returns the signature of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether sig is the signature of body. An empty
// secret accepts everything.
func VerifySignature(secret, sig string, body []byte) bool {
	if secret == "" {
		return true
	}
	if sig == "" {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(Sign(secret, body)))
}

// WebhookSender POSTs the message as JSON to config "url". With config
// "secret" the body is signed; config "headers" adds request headers.
type WebhookSender struct {
	client *http.Client
}

func NewWebhookSender(client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebhookSender{client: client}
}

func (w *WebhookSender) Type() models.ChannelType { return models.ChannelWebhook }

func (w *WebhookSender) Send(ctx context.Context, ch models.Channel, msg Message) (int, error) {
	url := ch.ConfigString("url")
	if url == "" {
		return 0, misconfigured(ch, "webhook needs url")
	}
	body, err := json.Marshal(struct {
		Message
		ChannelID string    `json:"channel_id"`
		SentAt    time.Time `json:"sent_at"`
	}{msg, ch.ID, time.Now().UTC()})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := ch.Config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if secret := ch.ConfigString("secret"); secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
