package models

import (
	"time"
	// Time zone names are validated and resolved without relying on the host.
	_ "time/tzdata"
)

type SilenceType string

const (
	SilenceSingle    SilenceType = "single"
	SilenceRecurring SilenceType = "recurring"
)

type MatchOperator string

const (
	MatchEquals    MatchOperator = "equals"
	MatchNotEquals MatchOperator = "not_equals"
	MatchContains  MatchOperator = "contains"
	MatchRegex     MatchOperator = "regex"
)

type Matcher struct {
	Key      string        `json:"key" validate:"required"`
	Operator MatchOperator `json:"operator" validate:"omitempty,oneof=equals not_equals contains regex"`
	Value    string        `json:"value"`
}

type RepeatPattern struct {
	RepeatMode    string     `json:"repeat_mode" validate:"omitempty,oneof=daily weekly"`
	DurationHours float64    `json:"duration_hours,omitempty" validate:"gte=0"`
	Until         *time.Time `json:"until,omitempty"`
}

// Silence suppresses notifications for matching incidents within a window.
type Silence struct {
	ID            string         `json:"id"`
	Name          string         `json:"name" validate:"required"`
	Description   string         `json:"description,omitempty"`
	SilenceType   SilenceType    `json:"silence_type,omitempty" validate:"omitempty,oneof=single recurring"`
	Scope         string         `json:"scope,omitempty"`
	Matchers      []Matcher      `json:"matchers,omitempty" validate:"dive"`
	StartTime     time.Time      `json:"start_time"`
	// EndTime is required for single silences; recurring ones end at
	// RepeatPattern.Until.
	EndTime       *time.Time     `json:"end_time,omitempty" validate:"required_unless=SilenceType recurring"`
	Timezone      string         `json:"timezone,omitempty" validate:"omitempty,timezone"`
	RepeatPattern *RepeatPattern `json:"repeat_pattern,omitempty"`
	IsEnabled     bool           `json:"is_enabled"`
	NotifyOnStart bool           `json:"notify_on_start"`
	NotifyOnEnd   bool           `json:"notify_on_end"`
	CreatedBy     *Actor         `json:"created_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
