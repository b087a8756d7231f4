package notify

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sre-platform/internal/models"
)

var msg = Message{
	EventID:  "evt-1",
	Subject:  "[CRITICAL] API latency",
	Body:     "**API latency**\n\n- Status: new\n<script>alert(1)</script>",
	Severity: models.SeverityCritical,
}

func TestWebhookSenderSignsBody(t *testing.T) {
	var (
		gotSig    string
		gotHeader string
		gotBody   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotHeader = r.Header.Get("X-Team")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := models.Channel{ID: "channel-hook", Type: models.ChannelWebhook, Config: map[string]any{
		"url":     srv.URL,
		"secret":  "s3cret",
		"headers": map[string]any{"X-Team": "sre"},
	}}
	code, err := NewWebhookSender(srv.Client()).Send(context.Background(), ch, msg)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "sre", gotHeader)
	assert.True(t, VerifySignature("s3cret", gotSig, gotBody))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "evt-1", payload["event_id"])
	assert.Equal(t, "channel-hook", payload["channel_id"])
}

func TestWebhookSenderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.Client())
	code, err := s.Send(context.Background(), models.Channel{Config: map[string]any{"url": srv.URL}}, msg)
	assert.Equal(t, http.StatusBadGateway, code)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Body, "bad gateway")

	_, err = s.Send(context.Background(), models.Channel{ID: "c"}, msg)
	assert.ErrorIs(t, err, ErrMisconfigured)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"title":"x"}`)
	assert.True(t, VerifySignature("", "", body))
	assert.False(t, VerifySignature("k", "", body))
	assert.False(t, VerifySignature("k", "deadbeef", body))
	assert.True(t, VerifySignature("k", Sign("k", body), body))
}

func TestSlackSenderWebhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewSlackSender("", srv.Client())
	code, err := s.Send(context.Background(), models.Channel{Config: map[string]any{"webhook_url": srv.URL}}, msg)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, msg.Subject, got["text"])
	attachments := got["attachments"].([]any)
	require.Len(t, attachments, 1)
	assert.Equal(t, "#d9363e", attachments[0].(map[string]any)["color"])

	_, err = s.Send(context.Background(), models.Channel{ID: "c", Config: map[string]any{"channel": "#sre"}}, msg)
	assert.ErrorIs(t, err, ErrMisconfigured)
}

func TestSlackSenderWebhookStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	code, err := NewSlackSender("", srv.Client()).Send(context.Background(), models.Channel{Config: map[string]any{"webhook_url": srv.URL}}, msg)
	assert.Error(t, err)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestEmailSenderRendersSanitizedHTML(t *testing.T) {
	settings := models.MailSettings{
		SMTPHost:      "smtp.example.com",
		SMTPPort:      587,
		SenderName:    "SRE Platform",
		SenderEmail:   "noreply@example.com",
		TestRecipient: "qa@example.com",
		IsEnabled:     true,
	}
	e := NewEmailSender(func(context.Context) (models.MailSettings, error) { return settings, nil }, "from-config")

	var (
		gotTo   []string
		gotFrom string
		gotMsg  string
		gotPass string
	)
	e.send = func(_ context.Context, s models.MailSettings, from string, to []string, raw []byte) error {
		gotFrom, gotTo, gotMsg, gotPass = from, to, string(raw), s.Password
		return nil
	}

	ch := models.Channel{ID: "channel-email", Type: models.ChannelEmail, Config: map[string]any{
		"recipients": "a@example.com, b@example.com",
	}}
	m := msg
	m.Recipients = []models.Recipient{{ID: "user-1", Email: "b@example.com"}, {ID: "user-2", Email: "c@example.com"}}
	_, err := e.Send(context.Background(), ch, m)
	require.NoError(t, err)

	assert.Equal(t, "noreply@example.com", gotFrom)
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, gotTo)
	assert.Equal(t, "from-config", gotPass)
	assert.Contains(t, gotMsg, `From: "SRE Platform" <noreply@example.com>`)
	assert.Contains(t, gotMsg, "<strong>API latency</strong>")
	assert.NotContains(t, gotMsg, "<script>")

	// A test message without recipients falls back to the test recipient.
	_, err = e.Send(context.Background(), models.Channel{ID: "c"}, TestMessage(models.Channel{Name: "x"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"qa@example.com"}, gotTo)

	_, err = e.Send(context.Background(), models.Channel{ID: "c"}, msg)
	assert.ErrorIs(t, err, ErrMisconfigured)

	settings.IsEnabled = false
	_, err = e.Send(context.Background(), ch, msg)
	assert.ErrorIs(t, err, ErrMisconfigured)
}

func TestEmailSenderRejectsHeaderInjection(t *testing.T) {
	settings := models.MailSettings{
		SMTPHost:    "smtp.example.com",
		SMTPPort:    25,
		SenderEmail: "noreply@example.com",
		IsEnabled:   true,
	}
	e := NewEmailSender(func(context.Context) (models.MailSettings, error) { return settings, nil }, "")
	sent := 0
	e.send = func(context.Context, models.MailSettings, string, []string, []byte) error {
		sent++
		return nil
	}

	tests := []struct {
		name       string
		recipients any
		replyTo    string
		sender     string
	}{
		{name: "crlf in recipient", recipients: "a@example.com\r\nBcc: victim@example.org"},
		{name: "lf in list entry", recipients: []any{"ok@example.com", "b@example.com\nX-Evil: 1"}},
		{name: "not an address", recipients: "on-call team"},
		{name: "two addresses in one entry", recipients: []any{"a@example.com b@example.com"}},
		{name: "crlf in reply-to", recipients: "a@example.com", replyTo: "r@example.com\r\nBcc: x@example.org"},
		{name: "crlf in sender", recipients: "a@example.com", sender: "s@example.com\r\nSubject: hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings.ReplyTo = tt.replyTo
			ch := models.Channel{ID: "channel-email", Config: map[string]any{"recipients": tt.recipients}}
			if tt.sender != "" {
				ch.Config["sender"] = tt.sender
			}
			_, err := e.Send(context.Background(), ch, msg)
			assert.ErrorIs(t, err, ErrMisconfigured)
		})
	}
	assert.Zero(t, sent)

	var raw string
	e.send = func(_ context.Context, _ models.MailSettings, _ string, to []string, b []byte) error {
		raw = string(b)
		assert.Equal(t, []string{"ops@example.com"}, to)
		return nil
	}
	settings.ReplyTo = "desk@example.com"
	ch := models.Channel{ID: "channel-email", Config: map[string]any{"recipients": "Ops Desk <ops@example.com>, OPS@example.com"}}
	_, err := e.Send(context.Background(), ch, msg)
	require.NoError(t, err)
	assert.Contains(t, raw, "To: \"Ops Desk\" <ops@example.com>\r\n")
	assert.Contains(t, raw, "Reply-To: <desk@example.com>\r\n")
}

// silentListener accepts one connection and never writes to it.
func silentListener(t *testing.T) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = io.Copy(io.Discard, c)
	}()
	t.Cleanup(func() {
		ln.Close()
		<-done
	})
	a := ln.Addr().(*net.TCPAddr)
	return a.IP.String(), a.Port
}

func TestSMTPSendHonorsDeadline(t *testing.T) {
	for _, enc := range []string{"none", "tls", "ssl"} {
		t.Run(enc, func(t *testing.T) {
			host, port := silentListener(t)
			s := models.MailSettings{SMTPHost: host, SMTPPort: port, Encryption: enc}

			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			start := time.Now()
			err := smtpSend(ctx, s, "noreply@example.com", []string{"a@example.com"}, []byte("hello"))
			require.Error(t, err)
			assert.Less(t, time.Since(start), 3*time.Second)
		})
	}
}

// fakeSMTP answers a single plain SMTP session and returns the DATA payload.
func fakeSMTP(t *testing.T) (host string, port int, data <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	out := make(chan string, 1)
	go func() {
		defer close(out)
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		tc := textproto.NewConn(c)
		_ = tc.PrintfLine("220 localhost ready")
		for {
			line, err := tc.ReadLine()
			if err != nil {
				return
			}
			switch verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); verb {
			case "EHLO", "HELO":
				_ = tc.PrintfLine("250 localhost")
			case "MAIL", "RCPT":
				_ = tc.PrintfLine("250 OK")
			case "DATA":
				_ = tc.PrintfLine("354 go ahead")
				body, err := tc.ReadDotBytes()
				if err != nil {
					return
				}
				out <- string(body)
				_ = tc.PrintfLine("250 queued")
			case "QUIT":
				_ = tc.PrintfLine("221 bye")
				return
			default:
				_ = tc.PrintfLine("502 %s not implemented", verb)
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	a := ln.Addr().(*net.TCPAddr)
	return a.IP.String(), a.Port, out
}

func TestSMTPSendDelivers(t *testing.T) {
	host, port, data := fakeSMTP(t)
	s := models.MailSettings{SMTPHost: host, SMTPPort: port}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, smtpSend(ctx, s, "noreply@example.com", []string{"a@example.com"}, []byte("Subject: hi\r\n\r\nbody\r\n")))
	assert.Contains(t, <-data, "body")

	// "tls" refuses a relay that cannot upgrade.
	host, port, _ = fakeSMTP(t)
	s = models.MailSettings{SMTPHost: host, SMTPPort: port, Encryption: "tls"}
	err := smtpSend(ctx, s, "noreply@example.com", []string{"a@example.com"}, []byte("x"))
	assert.ErrorContains(t, err, "STARTTLS")
}

func TestWebPushSender(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "vapid "))
		assert.Equal(t, "high", r.Header.Get("Urgency"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	p, err := NewWebPushSender(VAPIDKeys{}, srv.Client(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotEmpty(t, p.PublicKey())

	ch := models.Channel{ID: "channel-push", Type: models.ChannelWebPush, Config: map[string]any{
		"subscriptions": []any{map[string]any{
			"endpoint":    srv.URL + "/push/1",
			"keys_p256dh": base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			"keys_auth":   base64.RawURLEncoding.EncodeToString(secret),
		}},
	}}
	code, err := p.Send(context.Background(), ch, msg)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 1, requests)

	_, err = p.Send(context.Background(), models.Channel{ID: "empty"}, msg)
	assert.ErrorIs(t, err, ErrMisconfigured)
}

func TestEventMessage(t *testing.T) {
	m := EventMessage(models.Event{
		ID:           "evt-1",
		Summary:      "Disk full",
		Severity:     models.SeverityWarning,
		Status:       models.EventStatusResolved,
		ResourceName: "db-01",
	})
	assert.Equal(t, "[RESOLVED] Disk full", m.Subject)
	assert.Contains(t, m.Body, "- Resource: db-01")
	assert.Equal(t, "#faad14", m.color())

	long := Message{Subject: strings.Repeat("x", 400)}
	assert.Len(t, []rune(long.excerpt()), excerptLimit+1)
}
