package models

import "time"

// AuditLog records a write made through the API.
type AuditLog struct {
	ID         string    `json:"id"`
	Actor      *Actor    `json:"actor,omitempty"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id,omitempty"`
	Metadata   string    `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
