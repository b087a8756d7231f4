package incident

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sre-platform/internal/models"
)

func TestIngestGenericPayload(t *testing.T) {
	svc, _ := newTestService(t, nil)
	docs, err := svc.Ingest(context.Background(), map[string]any{
		"alert_name": "Disk almost full",
		"severity":   "CRIT",
		"detail":     "92% used on /var",
		"host":       "db-01",
		"labels":     map[string]any{"env": "production", "service": "postgres"},
	}, "grafana")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Regexp(t, `^events-`, doc.ID())
	assert.Equal(t, "Disk almost full", doc["summary"])
	assert.Equal(t, "92% used on /var", doc["description"])
	assert.Equal(t, "critical", doc["severity"])
	assert.Equal(t, "new", doc["status"])
	assert.Equal(t, "db-01", doc["resource_name"])
	assert.Equal(t, "grafana", doc["detection_source"])
	assert.Equal(t, []any{"env:production", "service:postgres"}, doc["tags"])
	assert.Regexp(t, `^EVT-[0-9A-F]{8}$`, doc["event_key"])
	assert.Equal(t, "2025-02-18T03:00:00Z", doc["trigger_time"])
}

func TestIngestFallbacks(t *testing.T) {
	svc, _ := newTestService(t, nil)
	docs, err := svc.Ingest(context.Background(), map[string]any{"source": "cron", "foo": "bar"}, "")
	require.NoError(t, err)
	doc := docs[0]
	assert.Equal(t, "Alert", doc["summary"])
	assert.Equal(t, "info", doc["severity"])
	assert.Equal(t, "cron", doc["detection_source"])
	assert.Contains(t, doc["description"], `"foo": "bar"`)

	docs, err = svc.Ingest(context.Background(), map[string]any{"title": "x"}, "")
	require.NoError(t, err)
	assert.Equal(t, "unknown", docs[0]["detection_source"])
}

func TestIngestSilenced(t *testing.T) {
	svc, _ := newTestService(t, stubSilences{match: &models.Silence{ID: "silence-1", Name: "maintenance"}})
	docs, err := svc.Ingest(context.Background(), map[string]any{"title": "reboot", "level": "warning"}, "")
	require.NoError(t, err)
	doc := docs[0]
	assert.Equal(t, "silenced", doc["status"])
	assert.Equal(t, "silence-1", doc["silence_id"])

	tl := timeline(t, doc)
	require.Len(t, tl, 2)
	assert.Equal(t, "matched silence maintenance", tl[1].Notes)
}

func TestIngestSilenceLookupErrorKeepsAlert(t *testing.T) {
	svc, _ := newTestService(t, stubSilences{err: errors.New("store down")})
	docs, err := svc.Ingest(context.Background(), map[string]any{"title": "reboot"}, "")
	require.NoError(t, err)
	assert.Equal(t, "new", docs[0]["status"])
}

func TestIngestAlertmanager(t *testing.T) {
	svc, _ := newTestService(t, nil)
	docs, err := svc.Ingest(context.Background(), map[string]any{
		"receiver": "sre",
		"status":   "firing",
		"alerts": []any{
			map[string]any{
				"status":      "firing",
				"fingerprint": "abc123",
				"startsAt":    "2025-02-18T02:30:00Z",
				"labels":      map[string]any{"alertname": "HighLatency", "severity": "warning", "instance": "api-01"},
				"annotations": map[string]any{"summary": "p99 above 2s"},
			},
			map[string]any{
				"status": "resolved",
				"labels": map[string]any{"alertname": "Old"},
			},
		},
	}, "alertmanager")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	doc := docs[0]
	assert.Equal(t, "HighLatency", doc["summary"])
	assert.Equal(t, "p99 above 2s", doc["description"])
	assert.Equal(t, "warning", doc["severity"])
	assert.Equal(t, "api-01", doc["resource_name"])
	assert.Equal(t, "abc123", doc["event_key"])
	assert.Equal(t, "2025-02-18T02:30:00Z", doc["trigger_time"])
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, models.SeverityCritical, Severity("Error"))
	assert.Equal(t, models.SeverityWarning, Severity("warn"))
	assert.Equal(t, models.SeverityInfo, Severity("resolved"))
	assert.Equal(t, models.SeverityInfo, Severity(""))
}
