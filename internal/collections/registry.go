// Package collections maps the REST resources onto stored documents and
// validates records against their typed models.
package collections

import "sre-platform/internal/models"

// Storage keys of the collections other packages work with directly.
const (
	Events               = "events"
	EventRules           = "eventRules"
	Silences             = "silences"
	Scripts              = "scripts"
	Schedules            = "schedules"
	Executions           = "executions"
	NotificationPolicies = "notificationPolicies"
	Channels             = "channels"
	Notifications        = "notifications"
	MailSettings         = "mailSettings"
	AuditLogs            = "auditLogs"
	AnalysisReports      = "analysisReports"
)

// Collection is one REST resource.
type Collection struct {
	Path string // URL segment
	Key  string // storage key
	// ReadOnly collections are written by the service only.
	ReadOnly bool
	model    func() any
}

var registry = []Collection{
	{Path: "events", Key: Events, model: func() any { return &models.Event{} }},
	{Path: "event-rules", Key: EventRules, model: func() any { return &models.EventRule{} }},
	{Path: "silences", Key: Silences, model: func() any { return &models.Silence{} }},
	{Path: "resources", Key: "resources", model: func() any { return &models.Resource{} }},
	{Path: "resource-groups", Key: "resourceGroups", model: func() any { return &models.ResourceGroup{} }},
	{Path: "topology", Key: "topologies", model: func() any { return &models.Topology{} }},
	{Path: "dashboards", Key: "dashboards", model: func() any { return &models.Dashboard{} }},
	{Path: "insights", Key: "insights", model: func() any { return &models.Insight{} }},
	{Path: "war-room", Key: "warRooms", model: func() any { return &models.WarRoom{} }},
	{Path: "scripts", Key: Scripts, model: func() any { return &models.Script{} }},
	{Path: "schedules", Key: Schedules, model: func() any { return &models.Schedule{} }},
	{Path: "executions", Key: Executions, model: func() any { return &models.Execution{} }},
	{Path: "notification-policies", Key: NotificationPolicies, model: func() any { return &models.NotificationPolicy{} }},
	{Path: "channels", Key: Channels, model: func() any { return &models.Channel{} }},
	{Path: "notifications", Key: Notifications, model: func() any { return &models.Notification{} }},
	{Path: "labels", Key: "labels", model: func() any { return &models.Label{} }},
	{Path: "mail-settings", Key: MailSettings, model: func() any { return &models.MailSettings{} }},
	{Path: "auth-settings", Key: "authSettings", model: func() any { return &models.AuthSettings{} }},
	{Path: "profile", Key: "profiles", model: func() any { return &models.Profile{} }},
	{Path: "preferences", Key: "preferences", model: func() any { return &models.Preference{} }},
	{Path: "audit-logs", Key: AuditLogs, ReadOnly: true, model: func() any { return &models.AuditLog{} }},
}

// All returns every registered collection in route order.
func All() []Collection {
	out := make([]Collection, len(registry))
	copy(out, registry)
	return out
}

func ByPath(path string) (Collection, bool) {
	for _, c := range registry {
		if c.Path == path {
			return c, true
		}
	}
	return Collection{}, false
}

func ByKey(key string) (Collection, bool) {
	for _, c := range registry {
		if c.Key == key {
			return c, true
		}
	}
	return Collection{}, false
}
