package incident

import (
	"reflect"
	"time"

	"sre-platform/internal/models"
)

// Guard keeps incident writes made through the generic record routes
// consistent with the lifecycle: resolved_at follows the resolved status,
// acknowledged_at is stamped once the incident leaves new, and the
// timeline only grows. It is registered as a collections.Hook.
func Guard(prev, next models.Document, now time.Time) error {
	st := models.EventStatus(next.String("status"))
	if st == "" {
		st = models.EventStatusNew
		next["status"] = string(st)
	}

	if st == models.EventStatusResolved {
		if _, ok := next.Time("resolved_at"); !ok {
			next["resolved_at"] = models.FormatTime(now)
		}
	} else {
		delete(next, "resolved_at")
	}

	if st != models.EventStatusNew && st != models.EventStatusSilenced {
		if _, ok := next.Time("acknowledged_at"); !ok {
			next["acknowledged_at"] = models.FormatTime(now)
		}
	}

	if prev == nil {
		return nil
	}
	before, _ := prev["timeline"].([]any)
	after, _ := next["timeline"].([]any)
	if len(after) < len(before) {
		return fieldError("timeline", "is append-only")
	}
	a := models.Document{"t": before}.Clone()
	b := models.Document{"t": after[:len(before)]}.Clone()
	if !reflect.DeepEqual(a, b) {
		return fieldError("timeline", "is append-only")
	}
	return nil
}
