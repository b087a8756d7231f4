package models

import "time"

type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionSkipped ExecutionStatus = "skipped"
)

type TriggerSource string

const (
	TriggerManual    TriggerSource = "manual"
	TriggerSchedule  TriggerSource = "schedule"
	TriggerEventRule TriggerSource = "event_rule"
)

type Script struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name" validate:"required"`
	Type                string          `json:"type" validate:"omitempty,oneof=shell python"`
	Description         string          `json:"description,omitempty"`
	Version             string          `json:"version,omitempty"`
	Content             string          `json:"content,omitempty"`
	Tags                []string        `json:"tags,omitempty"`
	LastExecutionStatus ExecutionStatus `json:"last_execution_status,omitempty"`
	LastExecutionAt     *time.Time      `json:"last_execution_at,omitempty"`
	CreatedBy           *Actor          `json:"created_by,omitempty"`
	UpdatedBy           *Actor          `json:"updated_by,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type RetryPolicy struct {
	MaxRetries      int `json:"max_retries" validate:"gte=0,lte=10"`
	IntervalSeconds int `json:"interval_seconds" validate:"gte=0"`
}

type Schedule struct {
	ID                string            `json:"id"`
	Name              string            `json:"name" validate:"required"`
	ScriptID          string            `json:"script_id" validate:"required"`
	ScriptName        string            `json:"script_name,omitempty"`
	Type              string            `json:"type,omitempty" validate:"omitempty,oneof=recurring once"`
	CronExpression    string            `json:"cron_expression,omitempty"`
	Timezone          string            `json:"timezone,omitempty" validate:"omitempty,timezone"`
	NextRunTime       *time.Time        `json:"next_run_time,omitempty"`
	LastRunTime       *time.Time        `json:"last_run_time,omitempty"`
	Status            string            `json:"status,omitempty" validate:"omitempty,oneof=enabled disabled"`
	ConcurrencyPolicy string            `json:"concurrency_policy,omitempty" validate:"omitempty,oneof=allow forbid"`
	RetryPolicy       *RetryPolicy      `json:"retry_policy,omitempty"`
	Parameters        map[string]string `json:"parameters,omitempty"`
	NotifyOnSuccess   bool              `json:"notify_on_success"`
	NotifyOnFailure   bool              `json:"notify_on_failure"`
	CreatedBy         *Actor            `json:"created_by,omitempty"`
	UpdatedBy         *Actor            `json:"updated_by,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Enabled reports whether the scheduler should register s.
func (s Schedule) Enabled() bool {
	return s.Status == "" || s.Status == "enabled"
}

type Execution struct {
	ID              string            `json:"id"`
	ScriptID        string            `json:"script_id" validate:"required"`
	ScriptName      string            `json:"script_name,omitempty"`
	ScheduleID      *string           `json:"schedule_id"`
	TriggerSource   TriggerSource     `json:"trigger_source,omitempty" validate:"omitempty,oneof=manual schedule event_rule"`
	StartTime       *time.Time        `json:"start_time,omitempty"`
	EndTime         *time.Time        `json:"end_time,omitempty"`
	DurationMs      int64             `json:"duration_ms,omitempty"`
	Status          ExecutionStatus   `json:"status,omitempty" validate:"omitempty,oneof=pending running success failed skipped"`
	TriggeredBy     *Actor            `json:"triggered_by,omitempty"`
	Parameters      map[string]string `json:"parameters,omitempty"`
	Stdout          string            `json:"stdout"`
	Stderr          string            `json:"stderr"`
	ErrorMessage    *string           `json:"error_message"`
	ArtifactURL     string            `json:"artifact_url,omitempty"`
	RelatedEventIDs []string          `json:"related_event_ids,omitempty"`
	AttemptCount    int               `json:"attempt_count"`
	CreatedAt       time.Time         `json:"created_at"`
}
