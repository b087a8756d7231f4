package models

import (
	"fmt"
	"time"
)

type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
	ChannelWebPush ChannelType = "webpush"
)

type NotificationStatus string

const (
	NotificationPending  NotificationStatus = "pending"
	NotificationSuccess  NotificationStatus = "success"
	NotificationFailed   NotificationStatus = "failed"
	NotificationSilenced NotificationStatus = "silenced"
)

type Recipient struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Type        string `json:"type,omitempty"`
	Email       string `json:"email,omitempty"`
}

// NotificationPolicy routes incidents to delivery channels.
type NotificationPolicy struct {
	ID                     string            `json:"id"`
	Name                   string            `json:"name" validate:"required"`
	Description            string            `json:"description,omitempty"`
	Enabled                bool              `json:"enabled"`
	Priority               string            `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	SeverityFilters        []Severity        `json:"severity_filters,omitempty" validate:"dive,oneof=critical warning info"`
	ChannelIDs             []string          `json:"channel_ids,omitempty"`
	Recipients             []Recipient       `json:"recipients,omitempty"`
	EscalationDelayMinutes int               `json:"escalation_delay_minutes,omitempty" validate:"gte=0"`
	RepeatFrequencyMinutes int               `json:"repeat_frequency_minutes,omitempty" validate:"gte=0"`
	TriggerCondition       map[string]string `json:"trigger_condition,omitempty"`
	ResourceFilters        map[string]string `json:"resource_filters,omitempty"`
	SilenceIDs             []string          `json:"silence_ids,omitempty"`
	CreatedBy              *Actor            `json:"created_by,omitempty"`
	UpdatedBy              *Actor            `json:"updated_by,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// Channel is a configured delivery target. Config keys depend on Type.
type Channel struct {
	ID           string         `json:"id"`
	Name         string         `json:"name" validate:"required"`
	Type         ChannelType    `json:"type" validate:"required,oneof=email slack webhook webpush"`
	Description  string         `json:"description,omitempty"`
	Status       string         `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
	Config       map[string]any `json:"config,omitempty"`
	LastTestedAt *time.Time     `json:"last_tested_at,omitempty"`
	CreatedBy    *Actor         `json:"created_by,omitempty"`
	UpdatedBy    *Actor         `json:"updated_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Active reports whether the channel accepts deliveries.
func (c Channel) Active() bool {
	return c.Status == "" || c.Status == "active"
}

// ConfigString returns Config[key] rendered as a string, or "".
func (c Channel) ConfigString(key string) string {
	v, ok := c.Config[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

type Attempt struct {
	AttemptAt    time.Time          `json:"attempt_at"`
	Status       NotificationStatus `json:"status"`
	ResponseCode int                `json:"response_code,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Notification is the delivery history of one incident on one channel.
type Notification struct {
	ID             string             `json:"id"`
	PolicyID       string             `json:"policy_id,omitempty"`
	PolicyName     string             `json:"policy_name,omitempty"`
	ChannelID      string             `json:"channel_id"`
	ChannelType    ChannelType        `json:"channel_type,omitempty"`
	Status         NotificationStatus `json:"status" validate:"omitempty,oneof=pending success failed silenced"`
	Recipients     []Recipient        `json:"recipients,omitempty"`
	SentAt         *time.Time         `json:"sent_at,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	RetryCount     int                `json:"retry_count"`
	DurationMs     int64              `json:"duration_ms"`
	ErrorMessage   *string            `json:"error_message"`
	PayloadExcerpt string             `json:"payload_excerpt,omitempty"`
	Attempts       []Attempt          `json:"attempts,omitempty"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
	RelatedEventID string             `json:"related_event_id,omitempty"`
	SilenceID      string             `json:"silence_id,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}
