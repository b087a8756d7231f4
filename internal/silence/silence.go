// Package silence decides whether a silence rule suppresses an incident at
// a given instant.
package silence

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"sre-platform/internal/models"
)

// maxLookback bounds how many past occurrences of a recurring window are
// considered when its duration exceeds the repeat period.
const maxLookback = 366

// Location returns the silence's time zone, UTC when unset or unknown.
func Location(s models.Silence) *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Duration is the length of one window.
func Duration(s models.Silence) time.Duration {
	if p := s.RepeatPattern; p != nil && p.DurationHours > 0 {
		return time.Duration(p.DurationHours * float64(time.Hour))
	}
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return 0
}

func recurring(s models.Silence) bool {
	return s.SilenceType == models.SilenceRecurring && s.RepeatPattern != nil &&
		(s.RepeatPattern.RepeatMode == "daily" || s.RepeatPattern.RepeatMode == "weekly")
}

// Active reports whether s is enabled and at falls inside one of its windows.
func Active(s models.Silence, at time.Time) bool {
	if !s.IsEnabled {
		return false
	}
	_, ok := Window(s, at)
	return ok
}

// Window returns the start of the window containing at.
func Window(s models.Silence, at time.Time) (time.Time, bool) {
	if at.Before(s.StartTime) {
		return time.Time{}, false
	}
	if !recurring(s) {
		if s.EndTime != nil && !at.Before(*s.EndTime) {
			return time.Time{}, false
		}
		return s.StartTime, true
	}

	d := Duration(s)
	if d <= 0 {
		return time.Time{}, false
	}
	loc := Location(s)
	first := s.StartTime.In(loc)
	local := at.In(loc)

	periodDays := 1
	if s.RepeatPattern.RepeatMode == "weekly" {
		periodDays = 7
	}
	// Latest occurrence date on or before at's local date.
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if periodDays == 7 {
		back := (int(day.Weekday()) - int(first.Weekday()) + 7) % 7
		day = day.AddDate(0, 0, -back)
	}

	lookback := int(d/(time.Duration(periodDays)*24*time.Hour)) + 1
	if lookback > maxLookback {
		lookback = maxLookback
	}
	for k := 0; k <= lookback; k++ {
		d0 := day.AddDate(0, 0, -k*periodDays)
		ws := time.Date(d0.Year(), d0.Month(), d0.Day(),
			first.Hour(), first.Minute(), first.Second(), first.Nanosecond(), loc)
		if ws.Before(first) {
			break
		}
		if u := s.RepeatPattern.Until; u != nil && ws.After(*u) {
			continue
		}
		if !at.Before(ws) && at.Before(ws.Add(d)) {
			return ws, true
		}
	}
	return time.Time{}, false
}

var regexCache sync.Map // pattern -> *regexp.Regexp, nil when invalid

// compile returns pattern anchored to the whole label value. The bare
// pattern must be valid on its own so "a)|(b" cannot escape the anchors.
func compile(pattern string) *regexp.Regexp {
	if v, ok := regexCache.Load(pattern); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}
	var re *regexp.Regexp
	if _, err := regexp.Compile(pattern); err == nil {
		re, _ = regexp.Compile("^(?:" + pattern + ")$")
	}
	regexCache.Store(pattern, re)
	return re
}

// MatchOne evaluates a single matcher against labels.
func MatchOne(m models.Matcher, labels map[string]string) bool {
	value, ok := labels[m.Key]
	switch m.Operator {
	case models.MatchNotEquals:
		return !ok || value != m.Value
	case models.MatchContains:
		return ok && strings.Contains(value, m.Value)
	case models.MatchRegex:
		re := compile(m.Value)
		return ok && re != nil && re.MatchString(value)
	default:
		return ok && value == m.Value
	}
}

// Matches reports whether every matcher of s matches labels. A silence
// without matchers matches nothing.
func Matches(s models.Silence, labels map[string]string) bool {
	if len(s.Matchers) == 0 {
		return false
	}
	for _, m := range s.Matchers {
		if !MatchOne(m, labels) {
			return false
		}
	}
	return true
}

// Silenced returns the first active silence, by id, that matches labels.
func Silenced(silences []models.Silence, labels map[string]string, at time.Time) *models.Silence {
	sorted := make([]models.Silence, len(silences))
	copy(sorted, silences)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for i := range sorted {
		if Active(sorted[i], at) && Matches(sorted[i], labels) {
			return &sorted[i]
		}
	}
	return nil
}

// Labels flattens the fields of an incident that matchers can refer to.
// Tags of the form "key:value" become labels; bare tags map to "true".
func Labels(e models.Event) map[string]string {
	labels := make(map[string]string, len(e.Tags)+10)
	for _, tag := range e.Tags {
		k, v, ok := strings.Cut(tag, ":")
		if !ok {
			v = "true"
		}
		labels[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	set := func(k, v string) {
		if v != "" {
			labels[k] = v
		}
	}
	set("severity", string(e.Severity))
	set("status", string(e.Status))
	set("resource_id", e.ResourceID)
	set("resource_name", e.ResourceName)
	set("rule_id", e.RuleID)
	set("rule_name", e.RuleName)
	set("metric", e.Metric)
	set("detection_source", e.DetectionSource)
	set("event_key", e.EventKey)
	set("summary", e.Summary)
	return labels
}
