package models

import "time"

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

type EventStatus string

const (
	EventStatusNew          EventStatus = "new"
	EventStatusAcknowledged EventStatus = "acknowledged"
	EventStatusInProgress   EventStatus = "in_progress"
	EventStatusResolved     EventStatus = "resolved"
	EventStatusSilenced     EventStatus = "silenced"
)

// Actor identifies the user behind an action.
type Actor struct {
	ID          string `json:"id,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     *Actor    `json:"actor,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

type RelatedEvent struct {
	EventID  string      `json:"event_id"`
	Summary  string      `json:"summary,omitempty"`
	Severity Severity    `json:"severity,omitempty"`
	Status   EventStatus `json:"status,omitempty"`
}

type AutomationAction struct {
	ScriptID      string     `json:"script_id"`
	ScriptName    string     `json:"script_name,omitempty"`
	Status        string     `json:"status,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	OutputSummary string     `json:"output_summary,omitempty"`
}

// Event is an incident requiring operator attention.
type Event struct {
	ID                string             `json:"id"`
	EventKey          string             `json:"event_key,omitempty"`
	Summary           string             `json:"summary" validate:"required"`
	Description       string             `json:"description,omitempty"`
	Status            EventStatus        `json:"status,omitempty" validate:"omitempty,oneof=new acknowledged in_progress resolved silenced"`
	Severity          Severity           `json:"severity,omitempty" validate:"omitempty,oneof=critical warning info"`
	ServiceImpact     string             `json:"service_impact,omitempty"`
	ResourceID        string             `json:"resource_id,omitempty"`
	ResourceName      string             `json:"resource_name,omitempty"`
	RuleID            string             `json:"rule_id,omitempty"`
	RuleName          string             `json:"rule_name,omitempty"`
	Metric            string             `json:"metric,omitempty"`
	TriggerThreshold  string             `json:"trigger_threshold,omitempty"`
	TriggerValue      string             `json:"trigger_value,omitempty"`
	Unit              string             `json:"unit,omitempty"`
	TriggerTime       *time.Time         `json:"trigger_time,omitempty"`
	Assignee          *Actor             `json:"assignee,omitempty"`
	AcknowledgedAt    *time.Time         `json:"acknowledged_at,omitempty"`
	ResolvedAt        *time.Time         `json:"resolved_at,omitempty"`
	Tags              []string           `json:"tags,omitempty"`
	DetectionSource   string             `json:"detection_source,omitempty"`
	Timeline          []TimelineEntry    `json:"timeline,omitempty" validate:"dive"`
	RelatedEvents     []RelatedEvent     `json:"related_events,omitempty"`
	AutomationActions []AutomationAction `json:"automation_actions,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Open reports whether the incident still needs attention.
func (e Event) Open() bool {
	return e.Status != EventStatusResolved
}

type LabelSelector struct {
	Key      string `json:"key" validate:"required"`
	Operator string `json:"operator,omitempty"`
	Value    string `json:"value"`
}

type RuleCondition struct {
	Metric          string   `json:"metric"`
	Comparison      string   `json:"comparison" validate:"omitempty,oneof=> >= < <= == !="`
	Threshold       float64  `json:"threshold"`
	Unit            string   `json:"unit,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Severity        Severity `json:"severity,omitempty"`
}

type ConditionGroup struct {
	GroupID    string          `json:"group_id,omitempty"`
	Logic      string          `json:"logic,omitempty" validate:"omitempty,oneof=all any"`
	Conditions []RuleCondition `json:"conditions" validate:"dive"`
}

// EventRule describes when a monitored signal becomes an incident.
type EventRule struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name" validate:"required"`
	Description          string            `json:"description,omitempty"`
	Enabled              bool              `json:"enabled"`
	Severity             Severity          `json:"severity,omitempty" validate:"omitempty,oneof=critical warning info"`
	TargetType           string            `json:"target_type,omitempty"`
	LabelSelectors       []LabelSelector   `json:"label_selectors,omitempty" validate:"dive"`
	ConditionGroups      []ConditionGroup  `json:"condition_groups,omitempty" validate:"dive"`
	AutomationEnabled    bool              `json:"automation_enabled"`
	ScriptID             string            `json:"script_id,omitempty"`
	ScriptName           string            `json:"script_name,omitempty"`
	AutomationParameters map[string]string `json:"automation_parameters,omitempty"`
	CreatedBy            *Actor            `json:"created_by,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}
