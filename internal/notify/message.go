// Package notify routes incidents to delivery channels and keeps the
// delivery history.
package notify

import (
	"fmt"
	"strings"

	"sre-platform/internal/models"
)

const excerptLimit = 280

// Message is what a sender delivers. Body is markdown.
type Message struct {
	EventID  string          `json:"event_id,omitempty"`
	Subject  string          `json:"subject"`
	Body     string          `json:"body"`
	Severity models.Severity `json:"severity,omitempty"`
	Status   string          `json:"status,omitempty"`
	// Recipients are the policy recipients; senders that address people
	// use them on top of the channel config.
	Recipients []models.Recipient `json:"-"`
}

// EventMessage renders an incident.
func EventMessage(e models.Event) Message {
	status := string(e.Status)
	if status == "" {
		status = string(models.EventStatusNew)
	}
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(e.Severity)), e.Summary)
	if e.Status == models.EventStatusResolved {
		subject = "[RESOLVED] " + e.Summary
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n\n", e.Summary)
	if e.Description != "" {
		b.WriteString(e.Description)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "- Status: %s\n", status)
	if e.Severity != "" {
		fmt.Fprintf(&b, "- Severity: %s\n", e.Severity)
	}
	if e.ResourceName != "" {
		fmt.Fprintf(&b, "- Resource: %s\n", e.ResourceName)
	}
	if e.Metric != "" {
		fmt.Fprintf(&b, "- Metric: %s %s%s (threshold %s)\n", e.Metric, e.TriggerValue, e.Unit, e.TriggerThreshold)
	}
	if e.Assignee != nil {
		fmt.Fprintf(&b, "- Assignee: %s\n", e.Assignee.Username)
	}
	if e.EventKey != "" {
		fmt.Fprintf(&b, "- Key: %s\n", e.EventKey)
	}

	return Message{
		EventID:  e.ID,
		Subject:  subject,
		Body:     b.String(),
		Severity: e.Severity,
		Status:   status,
	}
}

// TestMessage is sent by a channel test.
func TestMessage(ch models.Channel) Message {
	return Message{
		Subject:  "Test notification from SRE Platform",
		Body:     fmt.Sprintf("This is a test message for channel **%s** (%s).", ch.Name, ch.Type),
		Severity: models.SeverityInfo,
		Status:   "test",
	}
}

func (m Message) excerpt() string {
	s := m.Subject
	if m.Body != "" {
		s += "\n" + m.Body
	}
	r := []rune(s)
	if len(r) > excerptLimit {
		return string(r[:excerptLimit]) + "…"
	}
	return s
}

func (m Message) color() string {
	switch m.Severity {
	case models.SeverityCritical:
		return "#d9363e"
	case models.SeverityWarning:
		return "#faad14"
	default:
		return "#1677ff"
	}
}
