package models

import "time"

type Dashboard struct {
	ID          string           `json:"id"`
	Name        string           `json:"name" validate:"required"`
	Category    string           `json:"category,omitempty"`
	Description string           `json:"description,omitempty"`
	Owner       *Actor           `json:"owner,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	IsPublished bool             `json:"is_published"`
	IsDefault   bool             `json:"is_default"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
	KPISummary  map[string]any   `json:"kpi_summary,omitempty"`
	Widgets     []map[string]any `json:"widgets,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type InsightMetric struct {
	Name          string  `json:"name"`
	CurrentValue  float64 `json:"current_value"`
	BaselineValue float64 `json:"baseline_value"`
	Trend         string  `json:"trend,omitempty" validate:"omitempty,oneof=up down flat"`
}

type Recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
}

// Insight is a stored capacity or reliability finding.
type Insight struct {
	ID              string           `json:"id"`
	Title           string           `json:"title" validate:"required"`
	Category        string           `json:"category,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	Status          string           `json:"status,omitempty" validate:"omitempty,oneof=draft published archived"`
	ChartType       string           `json:"chart_type,omitempty"`
	Metrics         []InsightMetric  `json:"metrics,omitempty" validate:"dive"`
	Recommendations []Recommendation `json:"recommendations,omitempty" validate:"dive"`
	GeneratedAt     *time.Time       `json:"generated_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type WarRoomEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Actor       *Actor    `json:"actor,omitempty"`
	EventID     string    `json:"event_id,omitempty"`
}

type WarRoom struct {
	ID            string         `json:"id"`
	Title         string         `json:"title" validate:"required"`
	Status        string         `json:"status,omitempty" validate:"omitempty,oneof=active closed"`
	SeverityFocus Severity       `json:"severity_focus,omitempty"`
	Facilitator   *Actor         `json:"facilitator,omitempty"`
	Participants  []Actor        `json:"participants,omitempty"`
	IncidentIDs   []string       `json:"incident_ids,omitempty"`
	Timeline      []WarRoomEntry `json:"timeline,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
