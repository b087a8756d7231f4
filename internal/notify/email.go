package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"

	"sre-platform/internal/collections"
	"sre-platform/internal/models"
)

// SendMailFunc hands a rendered message to the SMTP relay.
type SendMailFunc func(ctx context.Context, s models.MailSettings, from string, to []string, msg []byte) error

// EmailSender delivers through the SMTP relay configured in mail settings.
// Channel config: "recipients" (list or comma separated), "sender".
type EmailSender struct {
	settings func(ctx context.Context) (models.MailSettings, error)
	password string
	send     SendMailFunc
	policy   *bluemonday.Policy
}

// NewEmailSender reads the relay settings on every send. password is used
// when the stored settings carry none.
func NewEmailSender(settings func(ctx context.Context) (models.MailSettings, error), password string) *EmailSender {
	return &EmailSender{
		settings: settings,
		password: password,
		send:     smtpSend,
		policy:   bluemonday.UGCPolicy(),
	}
}

// MailSettingsFrom reads the first mail settings record.
func MailSettingsFrom(records Records) func(ctx context.Context) (models.MailSettings, error) {
	return func(ctx context.Context) (models.MailSettings, error) {
		res, err := records.List(ctx, collections.MailSettings, models.ListParams{Page: 1, PageSize: 1, Sort: "created_at"})
		if err != nil {
			return models.MailSettings{}, err
		}
		if len(res.Items) == 0 {
			return models.MailSettings{}, nil
		}
		var s models.MailSettings
		err = models.Decode(res.Items[0], &s)
		return s, err
	}
}

func (e *EmailSender) Type() models.ChannelType { return models.ChannelEmail }

func (e *EmailSender) Send(ctx context.Context, ch models.Channel, msg Message) (int, error) {
	s, err := e.settings(ctx)
	if err != nil {
		return 0, fmt.Errorf("load mail settings: %w", err)
	}
	if !s.IsEnabled {
		return 0, misconfigured(ch, "mail delivery is disabled")
	}
	if s.Password == "" {
		s.Password = e.password
	}

	to, err := emailRecipients(ch, msg)
	if err != nil {
		return 0, misconfigured(ch, "%v", err)
	}
	if len(to) == 0 && msg.Status == "test" && s.TestRecipient != "" {
		if to, err = parseAddresses([]string{s.TestRecipient}); err != nil {
			return 0, misconfigured(ch, "test recipient: %v", err)
		}
	}
	if len(to) == 0 {
		return 0, misconfigured(ch, "no recipients")
	}
	sender := ch.ConfigString("sender")
	if sender == "" {
		sender = s.SenderEmail
	}
	from, err := parseAddress(sender)
	if err != nil {
		return 0, misconfigured(ch, "sender: %v", err)
	}
	var replyTo *mail.Address
	if s.ReplyTo != "" {
		if replyTo, err = parseAddress(s.ReplyTo); err != nil {
			return 0, misconfigured(ch, "reply-to: %v", err)
		}
	}

	raw := e.render(s, from.Address, to, replyTo, msg)
	rcpts := make([]string, len(to))
	for i, a := range to {
		rcpts[i] = a.Address
	}
	if err := e.send(ctx, s, from.Address, rcpts, raw); err != nil {
		return 0, err
	}
	return 0, nil
}
func (e *EmailSender) render(s models.MailSettings, from string, to []*mail.Address, replyTo *mail.Address, msg Message) []byte {
	html := e.policy.SanitizeBytes(blackfriday.Run([]byte(msg.Body)))

	var b bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }
	header("From", (&mail.Address{Name: s.SenderName, Address: from}).String())
	list := make([]string, len(to))
	for i, a := range to {
		list[i] = a.String()
	}
	header("To", strings.Join(list, ", "))
	if replyTo != nil {
		header("Reply-To", replyTo.String())
	}
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", time.Now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="UTF-8"`)
	b.WriteString("\r\n")
	b.Write(html)
	return b.Bytes()
}

// emailRecipients collects channel and message recipients, dropping
// duplicates. Every address must parse as a single RFC 5322 address.
func emailRecipients(ch models.Channel, msg Message) ([]*mail.Address, error) {
	var raw []string
	switch v := ch.Config["recipients"].(type) {
	case string:
		raw = append(raw, strings.Split(v, ",")...)
	case []any:
		for _, a := range v {
			if s, ok := a.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	for _, r := range msg.Recipients {
		raw = append(raw, r.Email)
	}
	return parseAddresses(raw)
}

func parseAddresses(raw []string) ([]*mail.Address, error) {
	seen := map[string]bool{}
	var out []*mail.Address
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		a, err := parseAddress(r)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(a.Address)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out, nil
}

func parseAddress(raw string) (*mail.Address, error) {
	if strings.ContainsAny(raw, "\r\n") {
		return nil, fmt.Errorf("invalid address %q: line break", raw)
	}
	a, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	return a, nil
}

// smtpTimeout bounds a delivery whose context carries no deadline.
const smtpTimeout = 30 * time.Second

// smtpSend delivers over one connection whose deadline follows ctx. "ssl"
// speaks TLS from the first byte; otherwise STARTTLS is used when offered
// and required for "tls".
func smtpSend(ctx context.Context, s models.MailSettings, from string, to []string, msg []byte) (err error) {
	addr := net.JoinHostPort(s.SMTPHost, strconv.Itoa(s.SMTPPort))
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(smtpTimeout)
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := raw.SetDeadline(deadline); err != nil {
		raw.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer func() {
		if !stop() && ctx.Err() != nil && err != nil {
			err = fmt.Errorf("smtp %s: %w", addr, ctx.Err())
		}
	}()

	tlsConfig := &tls.Config{ServerName: s.SMTPHost}
	conn := raw
	if s.Encryption == "ssl" {
		conn = tls.Client(raw, tlsConfig)
	}
	c, err := smtp.NewClient(conn, s.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp %s: %w", addr, err)
	}
	defer c.Close()
	if err := c.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp %s: %w", addr, err)
	}

	if s.Encryption != "ssl" {
		offered, _ := c.Extension("STARTTLS")
		switch {
		case offered && s.Encryption != "none":
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		case !offered && s.Encryption == "tls":
			return fmt.Errorf("smtp %s: server does not offer STARTTLS", addr)
		}
	}
	if s.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.Username, s.Password, s.SMTPHost)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
