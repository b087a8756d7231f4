package silence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sre-platform/internal/models"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr[T any](v T) *T { return &v }

func TestSingleWindow(t *testing.T) {
	s := models.Silence{
		IsEnabled: true,
		StartTime: ts("2025-02-18T01:00:00Z"),
		EndTime:   ptr(ts("2025-02-18T03:00:00Z")),
	}
	assert.False(t, Active(s, ts("2025-02-18T00:59:59Z")))
	assert.True(t, Active(s, ts("2025-02-18T01:00:00Z")))
	assert.True(t, Active(s, ts("2025-02-18T02:59:59Z")))
	assert.False(t, Active(s, ts("2025-02-18T03:00:00Z")))

	s.IsEnabled = false
	assert.False(t, Active(s, ts("2025-02-18T02:00:00Z")))

	// Stored before end_time was required: open until disabled.
	open := models.Silence{IsEnabled: true, StartTime: ts("2025-02-18T01:00:00Z")}
	assert.True(t, Active(open, ts("2026-02-18T01:00:00Z")))
}

func TestDailyWindowInTimezone(t *testing.T) {
	// 09:00-11:00 Asia/Taipei every day.
	s := models.Silence{
		IsEnabled:     true,
		SilenceType:   models.SilenceRecurring,
		StartTime:     ts("2025-02-18T01:00:00Z"),
		EndTime:       ptr(ts("2025-02-18T03:00:00Z")),
		Timezone:      "Asia/Taipei",
		RepeatPattern: &models.RepeatPattern{RepeatMode: "daily", DurationHours: 2},
	}
	tests := []struct {
		at   string
		want bool
	}{
		{"2025-02-17T01:30:00Z", false},
		{"2025-02-18T01:30:00Z", true},
		{"2025-03-01T01:00:00Z", true},
		{"2025-03-01T02:59:00Z", true},
		{"2025-03-01T03:00:00Z", false},
		{"2025-03-01T12:00:00Z", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Active(s, ts(tt.at)), tt.at)
	}
}

func TestDailyWindowAcrossMidnight(t *testing.T) {
	s := models.Silence{
		IsEnabled:     true,
		SilenceType:   models.SilenceRecurring,
		StartTime:     ts("2025-02-18T23:00:00Z"),
		RepeatPattern: &models.RepeatPattern{RepeatMode: "daily", DurationHours: 2},
	}
	start, ok := Window(s, ts("2025-02-20T00:30:00Z"))
	require.True(t, ok)
	assert.True(t, ts("2025-02-19T23:00:00Z").Equal(start), start)
	assert.False(t, Active(s, ts("2025-02-20T01:00:00Z")))
}

func TestDailyWindowFollowsDST(t *testing.T) {
	// 09:00 New York: 14:00Z before the March switch, 13:00Z after.
	s := models.Silence{
		IsEnabled:     true,
		SilenceType:   models.SilenceRecurring,
		StartTime:     ts("2025-03-01T14:00:00Z"),
		Timezone:      "America/New_York",
		RepeatPattern: &models.RepeatPattern{RepeatMode: "daily", DurationHours: 1},
	}
	assert.True(t, Active(s, ts("2025-03-05T14:30:00Z")))
	assert.True(t, Active(s, ts("2025-03-12T13:30:00Z")))
	assert.False(t, Active(s, ts("2025-03-12T14:30:00Z")))
}

func TestWeeklyWindowAndUntil(t *testing.T) {
	// Tuesdays 01:00-03:00 UTC until the end of February.
	s := models.Silence{
		IsEnabled:   true,
		SilenceType: models.SilenceRecurring,
		StartTime:   ts("2025-02-18T01:00:00Z"),
		EndTime:     ptr(ts("2025-02-18T03:00:00Z")),
		RepeatPattern: &models.RepeatPattern{
			RepeatMode: "weekly",
			Until:      ptr(ts("2025-02-28T00:00:00Z")),
		},
	}
	assert.True(t, Active(s, ts("2025-02-25T02:00:00Z")))
	assert.False(t, Active(s, ts("2025-02-26T02:00:00Z")))
	assert.False(t, Active(s, ts("2025-03-04T02:00:00Z")))
	assert.Equal(t, 2*time.Hour, Duration(s))
}

func TestMatchers(t *testing.T) {
	labels := map[string]string{"service": "api", "env": "production", "resource_name": "api-gateway-01"}
	tests := []struct {
		name string
		m    models.Matcher
		want bool
	}{
		{"equals", models.Matcher{Key: "service", Operator: models.MatchEquals, Value: "api"}, true},
		{"default operator", models.Matcher{Key: "service", Value: "api"}, true},
		{"equals missing key", models.Matcher{Key: "team", Operator: models.MatchEquals, Value: "api"}, false},
		{"not equals", models.Matcher{Key: "env", Operator: models.MatchNotEquals, Value: "staging"}, true},
		{"not equals missing key", models.Matcher{Key: "team", Operator: models.MatchNotEquals, Value: "x"}, true},
		{"contains", models.Matcher{Key: "resource_name", Operator: models.MatchContains, Value: "gateway"}, true},
		{"regex", models.Matcher{Key: "resource_name", Operator: models.MatchRegex, Value: `^api-gateway-\d+$`}, true},
		{"invalid regex", models.Matcher{Key: "resource_name", Operator: models.MatchRegex, Value: `(`}, false},
		{"regex matches whole value", models.Matcher{Key: "resource_name", Operator: models.MatchRegex, Value: `api`}, false},
		{"regex prefix", models.Matcher{Key: "resource_name", Operator: models.MatchRegex, Value: `api-.*`}, true},
		{"regex alternation anchored", models.Matcher{Key: "resource_name", Operator: models.MatchRegex, Value: `api|gateway`}, false},
		{"regex alternation", models.Matcher{Key: "service", Operator: models.MatchRegex, Value: `api|web`}, true},
		{"regex cannot escape anchors", models.Matcher{Key: "resource_name", Operator: models.MatchRegex, Value: `x)|(api.*`}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchOne(tt.m, labels))
		})
	}
}

func TestMatchesRequiresAllAndAtLeastOne(t *testing.T) {
	labels := map[string]string{"service": "api", "env": "production"}
	s := models.Silence{Matchers: []models.Matcher{
		{Key: "service", Value: "api"},
		{Key: "env", Value: "staging"},
	}}
	assert.False(t, Matches(s, labels))
	s.Matchers[1].Value = "production"
	assert.True(t, Matches(s, labels))
	assert.False(t, Matches(models.Silence{}, labels))
}

func TestSilencedAndLabels(t *testing.T) {
	e := models.Event{
		Summary:      "latency",
		Severity:     models.SeverityCritical,
		ResourceName: "api-gateway-01",
		Tags:         []string{"env:production", "service:api", "canary"},
	}
	labels := Labels(e)
	assert.Equal(t, "production", labels["env"])
	assert.Equal(t, "true", labels["canary"])
	assert.Equal(t, "critical", labels["severity"])

	at := ts("2025-02-18T02:00:00Z")
	silences := []models.Silence{
		{ID: "b", IsEnabled: true, StartTime: ts("2025-02-18T00:00:00Z"),
			Matchers: []models.Matcher{{Key: "severity", Value: "critical"}}},
		{ID: "a", IsEnabled: false, StartTime: ts("2025-02-18T00:00:00Z"),
			Matchers: []models.Matcher{{Key: "env", Value: "production"}}},
	}
	got := Silenced(silences, labels, at)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)

	silences[0].Matchers[0].Value = "info"
	assert.Nil(t, Silenced(silences, labels, at))
}
