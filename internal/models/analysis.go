package models

import (
	"encoding/json"
	"time"
)

type ReportStatus string

const (
	ReportPending ReportStatus = "PENDING"
	ReportRunning ReportStatus = "RUNNING"
	ReportSuccess ReportStatus = "SUCCESS"
	ReportFailed  ReportStatus = "FAILED"
)

type EvidenceLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type EvidenceItem struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Link        *EvidenceLink  `json:"link,omitempty"`
	Timestamp   *time.Time     `json:"timestamp,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type RootCauseAnalysis struct {
	Text            string         `json:"text"`
	ConfidenceScore float64        `json:"confidence_score"`
	ProbableCauses  []string       `json:"probable_causes,omitempty"`
	Evidence        []EvidenceItem `json:"evidence,omitempty"`
}

type AffectedResource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Role string `json:"role,omitempty"`
}

type ImpactAssessment struct {
	Text              string             `json:"text"`
	AffectedResources []AffectedResource `json:"affected_resources,omitempty"`
	UserImpact        string             `json:"user_impact,omitempty"`
	DurationMinutes   int                `json:"duration_minutes,omitempty"`
	Severity          string             `json:"severity,omitempty"`
}

type RecommendedAction struct {
	Title      string         `json:"title"`
	ActionType string         `json:"action_type"`
	Risk       string         `json:"risk"`
	Summary    string         `json:"summary,omitempty"`
	ActionData map[string]any `json:"action_data,omitempty"`
}

// GeneratedReport is the part of an analysis report a generator fills in.
type GeneratedReport struct {
	EventSummary       string              `json:"event_summary"`
	RootCauseAnalysis  RootCauseAnalysis   `json:"root_cause_analysis"`
	ImpactAssessment   ImpactAssessment    `json:"impact_assessment"`
	RecommendedActions []RecommendedAction `json:"recommended_actions"`
	Evidence           []EvidenceItem      `json:"evidence"`
	RawLLMResponse     json.RawMessage     `json:"raw_llm_response,omitempty"`
}

// AnalysisReport is stored under the id of the event it analyses, so an
// event has at most one report.
type AnalysisReport struct {
	ID                 string              `json:"id"`
	ReportID           string              `json:"report_id"`
	EventID            string              `json:"event_id"`
	Status             ReportStatus        `json:"status"`
	Generator          string              `json:"generator,omitempty"`
	EventSummary       string              `json:"event_summary,omitempty"`
	RootCauseAnalysis  *RootCauseAnalysis  `json:"root_cause_analysis,omitempty"`
	ImpactAssessment   *ImpactAssessment   `json:"impact_assessment,omitempty"`
	RecommendedActions []RecommendedAction `json:"recommended_actions,omitempty"`
	Evidence           []EvidenceItem      `json:"evidence,omitempty"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	RawLLMResponse     json.RawMessage     `json:"raw_llm_response,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
}
