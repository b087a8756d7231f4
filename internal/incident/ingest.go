package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sre-platform/internal/collections"
	"sre-platform/internal/models"
	"sre-platform/internal/silence"
)

// Ingest turns an alert webhook payload into incidents. Generic payloads
// yield one incident; Alertmanager payloads yield one per firing alert.
// source is used when the payload does not name one.
func (s *Service) Ingest(ctx context.Context, payload map[string]any, source string) ([]models.Document, error) {
	if src := getString(payload["source"]); src != "" {
		source = src
	}
	if source == "" {
		source = "unknown"
	}

	alerts, ok := payload["alerts"].([]any)
	if !ok {
		doc, err := s.ingestOne(ctx, payload, source)
		if err != nil {
			return nil, err
		}
		return []models.Document{doc}, nil
	}

	var out []models.Document
	for _, raw := range alerts {
		a, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if getString(a["status"]) == "resolved" {
			s.logger.Debug("skipping resolved alert", zap.String("fingerprint", getString(a["fingerprint"])))
			continue
		}
		doc, err := s.ingestOne(ctx, flattenAlertmanager(a), source)
		if err != nil {
			return out, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Service) ingestOne(ctx context.Context, payload map[string]any, source string) (models.Document, error) {
	now := s.now().UTC()

	level := firstString(payload, "level", "severity", "status")
	title := firstString(payload, "title", "alert_name", "event")
	if title == "" {
		title = "Alert"
	}
	message := firstString(payload, "message", "description", "detail")
	if message == "" {
		buf, _ := json.MarshalIndent(payload, "", "  ")
		message = string(buf)
	}
	key := firstString(payload, "event_key", "fingerprint")
	if key == "" {
		key = "EVT-" + strings.ToUpper(uuid.NewString()[:8])
	}
	trigger := now
	if t, err := time.Parse(time.RFC3339, firstString(payload, "trigger_time", "startsAt")); err == nil {
		trigger = t.UTC()
	}

	e := models.Event{
		EventKey:        key,
		Summary:         title,
		Description:     message,
		Status:          models.EventStatusNew,
		Severity:        Severity(level),
		ResourceID:      getString(payload["resource_id"]),
		ResourceName:    firstString(payload, "resource_name", "host", "instance", "resource"),
		RuleID:          getString(payload["rule_id"]),
		RuleName:        getString(payload["rule_name"]),
		Metric:          getString(payload["metric"]),
		TriggerValue:    getString(payload["value"]),
		TriggerTime:     &trigger,
		Tags:            tags(payload),
		DetectionSource: source,
		Timeline: []models.TimelineEntry{{
			Timestamp: now,
			Action:    "created",
			Notes:     "ingested from " + source,
		}},
	}

	silenced := s.match(ctx, e, now)
	if silenced != nil {
		e.Status = models.EventStatusSilenced
		e.Timeline = append(e.Timeline, models.TimelineEntry{
			Timestamp: now,
			Action:    "silenced",
			Notes:     "matched silence " + silenceName(silenced),
		})
	}

	doc, err := models.Normalize(e)
	if err != nil {
		return nil, err
	}
	// Zero timestamps would be kept as given; let the store stamp them.
	delete(doc, "id")
	delete(doc, "created_at")
	delete(doc, "updated_at")
	if silenced != nil {
		doc["silence_id"] = silenced.ID
	}

	created, err := s.records.Create(ctx, collections.Events, doc, nil)
	if err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}
	s.metrics.IncidentIngested(string(e.Severity), silenced != nil)
	s.logger.Info("incident ingested",
		zap.String("id", created.ID()),
		zap.String("source", source),
		zap.String("severity", string(e.Severity)),
		zap.Bool("silenced", silenced != nil))
	return created, nil
}

func (s *Service) match(ctx context.Context, e models.Event, at time.Time) *models.Silence {
	if s.silences == nil {
		return nil
	}
	m, err := s.silences.Match(ctx, silence.Labels(e), at)
	if err != nil {
		// A failed lookup never drops the alert.
		s.logger.Warn("silence lookup failed", zap.Error(err))
		return nil
	}
	return m
}

func silenceName(s *models.Silence) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Severity maps the many spellings monitoring tools use onto the three
// incident severities.
func Severity(level string) models.Severity {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "critical", "crit", "fatal", "emergency", "alert", "error", "high", "p1", "sev1", "page":
		return models.SeverityCritical
	case "warning", "warn", "medium", "p2", "sev2", "firing":
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

func flattenAlertmanager(a map[string]any) map[string]any {
	labels, _ := a["labels"].(map[string]any)
	annotations, _ := a["annotations"].(map[string]any)
	return map[string]any{
		"alert_name":  labels["alertname"],
		"severity":    labels["severity"],
		"instance":    labels["instance"],
		"description": firstString(annotations, "description", "summary"),
		"fingerprint": a["fingerprint"],
		"startsAt":    a["startsAt"],
		"labels":      labels,
	}
}

func tags(payload map[string]any) []string {
	var out []string
	if labels, ok := payload["labels"].(map[string]any); ok {
		keys := make([]string, 0, len(labels))
		for k := range labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if v := getString(labels[k]); v != "" {
				out = append(out, k+":"+v)
			}
		}
	}
	if list, ok := payload["tags"].([]any); ok {
		for _, t := range list {
			if v := getString(t); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := getString(m[k]); v != "" {
			return v
		}
	}
	return ""
}

func getString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
