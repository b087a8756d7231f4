package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sre-platform/internal/analysis"
	"sre-platform/internal/auth"
	"sre-platform/internal/automation"
	"sre-platform/internal/collections"
	"sre-platform/internal/config"
	"sre-platform/internal/incident"
	"sre-platform/internal/metrics"
	"sre-platform/internal/models"
	"sre-platform/internal/notify"
	"sre-platform/internal/store"
	"sre-platform/internal/stream"
)

type testEnv struct {
	h       *Handler
	srv     http.Handler
	store   *store.MemoryStore
	records *collections.Service
	broker  *stream.MemoryBroker
}

type envOption func(*Handler)

func withAuth(h *Handler) {
	m, err := auth.NewManager(config.AuthConfig{
		Enabled:       true,
		SessionSecret: "session-secret-for-tests-0123456",
		JWTSecret:     "jwt-secret",
		TokenTTL:      time.Hour,
	}, h.Store, h.Logger)
	if err != nil {
		panic(err)
	}
	h.Auth = m
}

func withWebhookSecret(secret string) envOption {
	return func(h *Handler) { h.WebhookSecret = secret }
}

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	st := store.NewMemoryStore()
	broker := stream.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	records := collections.NewService(st, broker, logger)
	records.BeforeWrite(collections.Events, incident.Guard)
	records.BeforeWrite(collections.Schedules, automation.Guard)

	m := metrics.New()
	gen, err := analysis.NewGenerator(config.AnalysisConfig{Generator: "template"})
	require.NoError(t, err)
	an := analysis.NewService(records, gen, time.Second, m, logger)
	runner := automation.NewRunner(records, automation.DryRunExecutor{}, nil, 4096, m, logger)
	push, err := notify.NewWebPushSender(notify.VAPIDKeys{}, nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		runner.Close()
		an.Wait()
	})
	authOff, err := auth.NewManager(config.AuthConfig{}, st, logger)
	require.NoError(t, err)

	h := &Handler{
		Records:    records,
		Store:      st,
		Incidents:  incident.NewService(records, nil, m, logger),
		Dispatcher: notify.NewDispatcher(records, nil, notify.Options{}, m, logger),
		Runner:     runner,
		Analysis:   an,
		Auth:       authOff,
		Broker:     broker,
		Metrics:    m,
		Push:       push,
		Providers:  map[string]string{"store": "memory"},
		Logger:     logger,
	}
	for _, o := range opts {
		o(h)
	}
	return &testEnv{h: h, srv: h.Router(), store: st, records: records, broker: broker}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCollectionCRUD(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/events", map[string]any{"summary": "CPU high", "severity": "critical"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Document](t, rec)
	id := created.ID()
	require.NotEmpty(t, id)

	rec = env.do(t, http.MethodGet, "/api/v1/events/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CPU high", decode[models.Document](t, rec).String("summary"))

	rec = env.do(t, http.MethodPatch, "/events/"+id, map[string]any{"owner": "db-team"})
	require.Equal(t, http.StatusOK, rec.Code)
	patched := decode[models.Document](t, rec)
	assert.Equal(t, "db-team", patched.String("owner"))
	assert.Equal(t, "CPU high", patched.String("summary"))

	rec = env.do(t, http.MethodPut, "/events/"+id, map[string]any{"severity": "bogus"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decode[apiError](t, rec)
	assert.Equal(t, CodeValidation, apiErr.Code)
	assert.NotNil(t, apiErr.Details)

	rec = env.do(t, http.MethodGet, "/events?page_size=1&severity=critical", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[models.ListResult](t, rec)
	assert.Equal(t, 1, list.Total)
	assert.Len(t, list.Items, 1)
	assert.False(t, list.HasMore)

	rec = env.do(t, http.MethodDelete, "/events/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/events/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decode[apiError](t, rec).Code)
}

func TestCollectionErrors(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/audit-logs", map[string]any{"action": "x"})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.do(t, http.MethodGet, "/no-such-thing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/labels", strings.NewReader("{not json"))
	out := httptest.NewRecorder()
	env.srv.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
	assert.Equal(t, CodeBadRequest, decode[apiError](t, out).Code)

	rec = env.do(t, http.MethodPost, "/labels", map[string]any{"id": "label-1", "key": "env"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/labels", map[string]any{"id": "label-1", "key": "env"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/events?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/events?Bad-Field=1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListParams(t *testing.T) {
	p, err := listParams(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, models.DefaultPageSize, p.PageSize)
	assert.Equal(t, "-created_at", p.Sort)
	assert.Nil(t, p.Filters)

	p, err = listParams(url.Values{"page_size": {"0"}, "q": {"disk"}, "status": {"new"}, "sort": {"severity"}})
	require.NoError(t, err)
	assert.Equal(t, 0, p.PageSize)
	assert.Equal(t, "disk", p.Search)
	assert.Equal(t, "severity", p.Sort)
	assert.Equal(t, map[string]string{"status": "new"}, p.Filters)

	p, err = listParams(url.Values{"page_size": {"1000"}})
	require.NoError(t, err)
	assert.Equal(t, models.MaxPageSize, p.PageSize)

	p, err = listParams(url.Values{"_": {"1739836800000"}, "_t": {"x"}, "status": {"new"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"status": "new"}, p.Filters)

	_, err = listParams(url.Values{"page_size": {"-1"}})
	assert.ErrorIs(t, err, errBadRequest)
	_, err = listParams(url.Values{"page": {"x"}})
	assert.ErrorIs(t, err, errBadRequest)
}

func createEvent(t *testing.T, env *testEnv, id string) {
	t.Helper()
	_, err := env.records.Create(context.Background(), collections.Events, models.Document{
		"id": id, "summary": "Disk full on " + id, "status": "new", "severity": "warning",
	}, nil)
	require.NoError(t, err)
}

func TestIncidentActions(t *testing.T) {
	env := newEnv(t)
	createEvent(t, env, "evt-1")
	createEvent(t, env, "evt-2")

	rec := env.do(t, http.MethodPost, "/events/evt-1/acknowledge", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "acknowledged", decode[models.Document](t, rec).String("status"))

	rec = env.do(t, http.MethodPost, "/api/v1/events/evt-1/notes", map[string]any{"notes": "looking"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/events/evt-1/notes", map[string]any{"notes": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/events/evt-1/resolve", map[string]any{"notes": "freed space"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "resolved", decode[models.Document](t, rec).String("status"))

	rec = env.do(t, http.MethodPost, "/events/evt-1/acknowledge", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeConflict, decode[apiError](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/events/evt-2/assign", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/events/evt-2/assign", map[string]any{"assignee": map[string]any{"username": "alice"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "in_progress", decode[models.Document](t, rec).String("status"))

	rec = env.do(t, http.MethodPost, "/events/missing/resolve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/events/batch", map[string]any{
		"action": "resolve", "event_ids": []string{"evt-2", "missing"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[incident.BatchResult](t, rec)
	assert.Equal(t, []string{"evt-2"}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "missing", res.Failed[0].ID)

	rec = env.do(t, http.MethodPost, "/events/batch", map[string]any{"action": "explode", "event_ids": []string{"evt-2"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.h.Incidents = nil
	for _, path := range []string{"/events/evt-2/acknowledge", "/events/evt-2/resolve", "/events/evt-2/assign", "/events/evt-2/notes", "/events/batch", "/webhook"} {
		rec = env.do(t, http.MethodPost, path, map[string]any{"notes": "x"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Equal(t, CodeUnavailable, decode[apiError](t, rec).Code, path)
	}
}

func TestListIgnoresCacheBuster(t *testing.T) {
	env := newEnv(t)
	createEvent(t, env, "evt-1")

	rec := env.do(t, http.MethodGet, "/api/v1/events?_=1739836800000&status=new", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[models.ListResult](t, rec).Total)
}

func TestWebhookSignature(t *testing.T) {
	env := newEnv(t, withWebhookSecret("s3cret"))
	body := []byte(`{"title":"API latency","severity":"critical","message":"p99 above 2s","source":"grafana"}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, notify.Sign("wrong", body))
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, notify.Sign("s3cret", body))
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", resp["status"])
	id, _ := resp["id"].(string)
	require.NotEmpty(t, id)

	doc, err := env.records.Get(context.Background(), collections.Events, id)
	require.NoError(t, err)
	assert.Equal(t, "API latency", doc.String("summary"))
	assert.Equal(t, "critical", doc.String("severity"))
}

func TestWebhookFormFallback(t *testing.T) {
	env := newEnv(t)
	form := url.Values{"title": {"Backup failed"}, "level": {"warning"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook?source=cron", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	id, _ := decode[map[string]any](t, rec)["id"].(string)
	doc, err := env.records.Get(context.Background(), collections.Events, id)
	require.NoError(t, err)
	assert.Equal(t, "Backup failed", doc.String("summary"))
	assert.Equal(t, "cron", doc.String("detection_source"))
}

func TestTelegramMimic(t *testing.T) {
	env := newEnv(t)
	form := url.Values{"chat_id": {"42"}, "text": {"disk almost full"}}
	req := httptest.NewRequest(http.MethodPost, "/telegram/bot123:ABC/sendMessage", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID string `json:"message_id"`
			Text      string `json:"text"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "disk almost full", resp.Result.Text)
	doc, err := env.records.Get(context.Background(), collections.Events, resp.Result.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "telegram:42", doc.String("detection_source"))

	req = httptest.NewRequest(http.MethodPost, "/telegram/robot/sendMessage", nil)
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalysisRoutes(t *testing.T) {
	env := newEnv(t)
	createEvent(t, env, "evt-1")

	rec := env.do(t, http.MethodPost, "/api/v1/events/evt-1/ai-analysis", map[string]any{"event_context": map[string]any{"region": "eu"}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	reportID, _ := created["report_id"].(string)
	require.NotEmpty(t, reportID)
	env.h.Analysis.Wait()

	rec = env.do(t, http.MethodPost, "/api/v1/events/evt-1/ai-analysis", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[map[string]any](t, rec)
	assert.Equal(t, reportID, conflict["report_id"])
	assert.Equal(t, string(models.ReportSuccess), conflict["status"])

	rec = env.do(t, http.MethodGet, "/api/v1/ai/analysis-reports/"+reportID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[models.AnalysisReport](t, rec)
	assert.Equal(t, "evt-1", report.EventID)
	assert.NotNil(t, report.RootCauseAnalysis)

	rec = env.do(t, http.MethodGet, "/api/v1/events/evt-1/ai-analysis", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/ai/analysis-reports/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.h.Analysis = nil
	rec = env.do(t, http.MethodPost, "/api/v1/events/evt-1/ai-analysis", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExecuteScriptAndNextRuns(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	_, err := env.records.Create(ctx, collections.Scripts, models.Document{
		"id": "script-1", "name": "restart-nginx", "type": "shell", "content": "systemctl restart nginx",
	}, nil)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/scripts/script-1/execute", map[string]any{"parameters": map[string]string{"HOST": "web-1"}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	execID := decode[models.Document](t, rec).ID()
	env.h.Runner.Wait()

	doc, err := env.records.Get(ctx, collections.Executions, execID)
	require.NoError(t, err)
	assert.Equal(t, string(models.ExecutionSuccess), doc.String("status"))
	assert.Equal(t, string(models.TriggerManual), doc.String("trigger_source"))

	rec = env.do(t, http.MethodPost, "/scripts/missing/execute", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/schedules", map[string]any{
		"id": "sched-1", "name": "nightly", "script_id": "script-1", "type": "recurring",
		"cron_expression": "0 2 * * *", "timezone": "UTC",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/schedules/sched-1/next-runs?count=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs struct {
		NextRuns []string `json:"next_runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs.NextRuns, 3)
	assert.True(t, strings.HasSuffix(runs.NextRuns[0], "T02:00:00Z"))

	rec = env.do(t, http.MethodGet, "/schedules/sched-1/next-runs?count=500", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/schedules", map[string]any{
		"name": "broken", "script_id": "script-1", "cron_expression": "every tuesday",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, decode[apiError](t, rec).Code)
}

func TestChannelTestWithoutSender(t *testing.T) {
	env := newEnv(t)
	_, err := env.records.Create(context.Background(), collections.Channels, models.Document{
		"id": "chan-1", "name": "ops", "type": "slack", "config": map[string]any{"webhook_url": "http://127.0.0.1:1"},
	}, nil)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/channels/chan-1/test", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	n := decode[models.Document](t, rec)
	assert.Equal(t, string(models.NotificationFailed), n.String("status"))

	rec = env.do(t, http.MethodPost, "/notifications/"+n.ID()+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/channels/missing/test", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPushSubscriptions(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/push/vapid-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rec)["publicKey"])

	sub := map[string]any{"endpoint": "https://push.example/abc", "keys": map[string]string{"p256dh": "p", "auth": "a"}}
	rec = env.do(t, http.MethodPost, "/push/subscribe", sub)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	channelID, _ := decode[map[string]any](t, rec)["channel_id"].(string)
	require.NotEmpty(t, channelID)

	rec = env.do(t, http.MethodPost, "/push/subscribe", sub)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, channelID, decode[map[string]any](t, rec)["channel_id"])

	subscriptions := func() []models.PushSubscription {
		doc, err := env.records.Get(context.Background(), collections.Channels, channelID)
		require.NoError(t, err)
		var ch models.Channel
		require.NoError(t, models.Decode(doc, &ch))
		subs, err := ch.PushSubscriptions()
		require.NoError(t, err)
		return subs
	}
	require.Len(t, subscriptions(), 1)
	assert.Equal(t, "p", subscriptions()[0].P256dh)

	rec = env.do(t, http.MethodPost, "/push/unsubscribe", map[string]any{"endpoint": "https://push.example/abc"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, subscriptions())

	rec = env.do(t, http.MethodPost, "/push/subscribe", map[string]any{"endpoint": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"store": "memory"}, body["providers"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestStream(t *testing.T) {
	env := newEnv(t)
	srv := httptest.NewServer(env.srv)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream?collection=events,war-room", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewReader(resp.Body)
	line, err := lines.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: connected\n", line)

	next := func() stream.Change {
		t.Helper()
		for {
			line, err := lines.ReadString('\n')
			require.NoError(t, err)
			if payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				var change stream.Change
				require.NoError(t, json.Unmarshal([]byte(payload), &change))
				return change
			}
		}
	}

	// The rule change is filtered out; the event and the war room (selected
	// by URL path) reach the client.
	_, err = env.records.Create(context.Background(), collections.EventRules, models.Document{"name": "ignored"}, nil)
	require.NoError(t, err)
	createEvent(t, env, "evt-9")
	_, err = env.records.Create(context.Background(), "warRooms", models.Document{"id": "room-1", "title": "db outage"}, nil)
	require.NoError(t, err)

	change := next()
	assert.Equal(t, collections.Events, change.Collection)
	assert.Equal(t, "evt-9", change.ID)
	assert.Equal(t, stream.ActionCreated, change.Action)

	change = next()
	assert.Equal(t, "warRooms", change.Collection)
	assert.Equal(t, "room-1", change.ID)
}

func TestAuthEnforcement(t *testing.T) {
	env := newEnv(t, withAuth)
	ctx := context.Background()
	require.NoError(t, env.h.Auth.Bootstrap(ctx, "admin", "admin-password"))
	_, err := env.store.CreateUser(ctx, "viewer", "viewer-password", models.RoleViewer)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/events", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeUnauthorized, decode[apiError](t, rec).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).Code)

	rec = env.do(t, http.MethodPost, "/auth/login", loginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	login := func(user, pass string) []*http.Cookie {
		rec := env.do(t, http.MethodPost, "/auth/login", loginRequest{Username: user, Password: pass})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return rec.Result().Cookies()
	}
	admin := login("admin", "admin-password")
	viewer := login("viewer", "viewer-password")

	rec = env.do(t, http.MethodGet, "/auth/me", nil, admin...)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[struct {
		User models.User `json:"user"`
	}](t, rec)
	assert.Equal(t, "admin", me.User.Username)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/events", nil, viewer...).Code)
	rec = env.do(t, http.MethodPost, "/events", map[string]any{"summary": "x"}, viewer...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/users", nil, viewer...).Code)

	rec = env.do(t, http.MethodPost, "/events", map[string]any{"summary": "x"}, admin...)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[models.Document](t, rec)
	createdBy, _ := created["created_by"].(map[string]any)
	assert.Equal(t, "admin", createdBy["username"])

	logs, err := env.records.List(ctx, collections.AuditLogs, models.ListParams{PageSize: 0, Filters: map[string]string{"target_id": created.ID()}})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Total)

	rec = env.do(t, http.MethodPost, "/auth/tokens", nil, viewer...)
	require.Equal(t, http.StatusCreated, rec.Code)
	token, _ := decode[map[string]any](t, rec)["token"].(string)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	out := httptest.NewRecorder()
	env.srv.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)

	rec = env.do(t, http.MethodPost, "/auth/logout", nil, admin...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/events", nil, rec.Result().Cookies()...).Code)
}

func TestUserAdministration(t *testing.T) {
	env := newEnv(t, withAuth)
	ctx := context.Background()
	require.NoError(t, env.h.Auth.Bootstrap(ctx, "admin", "admin-password"))
	rec := env.do(t, http.MethodPost, "/auth/login", loginRequest{Username: "admin", Password: "admin-password"})
	require.Equal(t, http.StatusOK, rec.Code)
	admin := rec.Result().Cookies()

	rec = env.do(t, http.MethodPost, "/users", map[string]any{"username": "sam", "password": "short", "role": "sre"}, admin...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/users", map[string]any{"username": "sam", "password": "long-enough", "role": "root"}, admin...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/users", map[string]any{"username": "sam", "password": "long-enough", "role": "sre"}, admin...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		User models.User `json:"user"`
	}](t, rec)
	id := created.User.ID
	path := "/users/" + strconv.Itoa(id)

	rec = env.do(t, http.MethodPost, "/users", map[string]any{"username": "sam", "password": "long-enough", "role": "sre"}, admin...)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPut, path, map[string]any{"role": "viewer"}, admin...)
	require.Equal(t, http.StatusOK, rec.Code)
	u, err := env.store.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, u.Role)

	rec = env.do(t, http.MethodPost, path+"/password", map[string]any{"password": "new-password"}, admin...)
	require.Equal(t, http.StatusOK, rec.Code)
	u, err = env.store.GetUser(ctx, id)
	require.NoError(t, err)
	assert.True(t, u.CheckPassword("new-password"))

	rec = env.do(t, http.MethodGet, "/users", nil, admin...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct {
		Users []models.User `json:"users"`
	}](t, rec).Users, 2)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, path, nil, admin...).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, path, nil, admin...).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodDelete, "/users/1", nil, admin...).Code)

	logs, err := env.records.List(ctx, collections.AuditLogs, models.ListParams{PageSize: 0, Filters: map[string]string{"target_type": "user"}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, logs.Total, 4)
}

func TestAccountChangesApplyToExistingLogins(t *testing.T) {
	env := newEnv(t, withAuth)
	ctx := context.Background()
	require.NoError(t, env.h.Auth.Bootstrap(ctx, "admin", "admin-password"))
	sam, err := env.store.CreateUser(ctx, "sam", "sam-password", models.RoleSRE)
	require.NoError(t, err)

	login := func(user, pass string) []*http.Cookie {
		rec := env.do(t, http.MethodPost, "/auth/login", loginRequest{Username: user, Password: pass})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return rec.Result().Cookies()
	}
	admin := login("admin", "admin-password")
	session := login("sam", "sam-password")
	rec := env.do(t, http.MethodPost, "/auth/tokens", nil, session...)
	require.Equal(t, http.StatusCreated, rec.Code)
	token, _ := decode[map[string]any](t, rec)["token"].(string)
	withToken := func(method, path string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(`{"summary":"disk full"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		out := httptest.NewRecorder()
		env.srv.ServeHTTP(out, req)
		return out.Code
	}

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/events", map[string]any{"summary": "x"}, session...).Code)

	path := "/users/" + strconv.Itoa(sam.ID)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, path, map[string]any{"role": "viewer"}, admin...).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/events", map[string]any{"summary": "x"}, session...).Code)
	assert.Equal(t, http.StatusForbidden, withToken(http.MethodPost, "/events"))
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/events", nil, session...).Code)

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, path, nil, admin...).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/events", nil, session...).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/events", map[string]any{"summary": "x"}, session...).Code)
	assert.Equal(t, http.StatusUnauthorized, withToken(http.MethodGet, "/events"))
}

func TestProfileAndPassword(t *testing.T) {
	env := newEnv(t, withAuth)
	ctx := context.Background()
	_, err := env.store.CreateUser(ctx, "dana", "correct-horse", models.RoleSRE)
	require.NoError(t, err)
	rec := env.do(t, http.MethodPost, "/auth/login", loginRequest{Username: "dana", Password: "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	session := rec.Result().Cookies()

	rec = env.do(t, http.MethodPut, "/auth/profile", map[string]any{"display_name": "Dana", "email": "not-an-email"}, session...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPut, "/auth/profile", map[string]any{"display_name": "Dana", "email": "dana@example.com"}, session...)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/auth/profile", nil, session...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dana@example.com")

	rec = env.do(t, http.MethodPost, "/auth/password", map[string]any{"current_password": "nope", "new_password": "battery-staple"}, session...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, http.MethodPost, "/auth/password", map[string]any{"current_password": "correct-horse", "new_password": "battery-staple"}, session...)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/2fa/setup", nil, session...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[auth.TOTPSetup](t, rec).Secret)
	rec = env.do(t, http.MethodPost, "/auth/2fa/enable", map[string]any{"secret": "JBSWY3DPEHPK3PXP", "code": "000000"}, session...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecoverPanics(t *testing.T) {
	h := &Handler{Logger: zaptest.NewLogger(t)}
	srv := h.logRequests(h.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, decode[apiError](t, rec).Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t)
	env.h.CORSOrigins = []string{"https://console.example"}

	req := httptest.NewRequest(http.MethodOptions, "/events", nil)
	req.Header.Set("Origin", "https://console.example")
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://console.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{store.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{analysis.ErrReportNotFound, http.StatusNotFound, CodeNotFound},
		{store.ErrConflict, http.StatusConflict, CodeConflict},
		{incident.ErrInvalidTransition, http.StatusConflict, CodeConflict},
		{notify.ErrNotRetryable, http.StatusConflict, CodeConflict},
		{&collections.ValidationError{Collection: "events"}, http.StatusBadRequest, CodeValidation},
		{store.ErrInvalidQuery, http.StatusBadRequest, CodeBadRequest},
		{auth.ErrUnauthenticated, http.StatusUnauthorized, CodeUnauthorized},
		{auth.ErrAdminTOTP, http.StatusForbidden, CodeForbidden},
		{analysis.ErrNoTemplates, http.StatusServiceUnavailable, CodeUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		status, code := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
