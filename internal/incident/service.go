// Package incident implements the lifecycle of events: acknowledge,
// resolve, assign, notes, batch operations and webhook ingestion.
package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"sre-platform/internal/collections"
	"sre-platform/internal/metrics"
	"sre-platform/internal/models"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// Records is the write path the service goes through. *collections.Service
// satisfies it.
type Records interface {
	Get(ctx context.Context, key, id string) (models.Document, error)
	Create(ctx context.Context, key string, doc models.Document, actor *models.Actor) (models.Document, error)
	Mutate(ctx context.Context, key, id string, fn func(models.Document) error, actor *models.Actor) (models.Document, error)
}

// SilenceMatcher finds the silence suppressing a set of labels.
type SilenceMatcher interface {
	Match(ctx context.Context, labels map[string]string, at time.Time) (*models.Silence, error)
}

// Notifier is told about incidents whose status or owner changed.
type Notifier interface {
	Notify(doc models.Document)
}

type Service struct {
	records  Records
	silences SilenceMatcher
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewService builds the incident service. silences and m may be nil.
func NewService(records Records, silences SilenceMatcher, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		records:  records,
		silences: silences,
		metrics:  m,
		logger:   logger.Named("incident"),
		now:      time.Now,
	}
}

// SetNotifier makes transitions trigger notifications.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// change is applied to an incident inside a single store write.
type change func(e *models.Event, doc models.Document, now time.Time) error

func (s *Service) apply(ctx context.Context, action, id string, actor *models.Actor, fn change) (models.Document, error) {
	doc, err := s.records.Mutate(ctx, collections.Events, id, func(doc models.Document) error {
		var e models.Event
		if err := models.Decode(doc, &e); err != nil {
			return fmt.Errorf("decode incident %s: %w", id, err)
		}
		return fn(&e, doc, s.now().UTC())
	}, actor)
	s.metrics.Transition(action, err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("incident updated", zap.String("id", id), zap.String("action", action), zap.String("status", doc.String("status")))
	if s.notifier != nil && action != "comment" {
		s.notifier.Notify(doc)
	}
	return doc, nil
}

// Acknowledge moves a new (or silenced) incident to acknowledged.
func (s *Service) Acknowledge(ctx context.Context, id string, actor *models.Actor, note string) (models.Document, error) {
	return s.apply(ctx, "acknowledged", id, actor, func(e *models.Event, doc models.Document, now time.Time) error {
		switch status(e) {
		case models.EventStatusNew, models.EventStatusSilenced:
		default:
			return fmt.Errorf("%w: cannot acknowledge a %s incident", ErrInvalidTransition, status(e))
		}
		doc["status"] = string(models.EventStatusAcknowledged)
		if e.AcknowledgedAt == nil {
			doc["acknowledged_at"] = models.FormatTime(now)
		}
		return appendTimeline(doc, now, "acknowledged", actor, note)
	})
}

// Resolve closes any open incident.
func (s *Service) Resolve(ctx context.Context, id string, actor *models.Actor, note string) (models.Document, error) {
	return s.apply(ctx, "resolved", id, actor, func(e *models.Event, doc models.Document, now time.Time) error {
		if !e.Open() {
			return fmt.Errorf("%w: incident is already resolved", ErrInvalidTransition)
		}
		doc["status"] = string(models.EventStatusResolved)
		doc["resolved_at"] = models.FormatTime(now)
		if e.AcknowledgedAt == nil {
			doc["acknowledged_at"] = models.FormatTime(now)
		}
		return appendTimeline(doc, now, "resolved", actor, note)
	})
}

// Assign hands the incident to assignee. A new incident starts progress.
func (s *Service) Assign(ctx context.Context, id string, assignee models.Actor, actor *models.Actor) (models.Document, error) {
	if assignee.ID == "" && assignee.Username == "" {
		return nil, fieldError("assignee", "is required")
	}
	return s.apply(ctx, "assigned", id, actor, func(e *models.Event, doc models.Document, now time.Time) error {
		if err := doc.Set("assignee", assignee); err != nil {
			return err
		}
		if status(e) == models.EventStatusNew {
			doc["status"] = string(models.EventStatusInProgress)
			if e.AcknowledgedAt == nil {
				doc["acknowledged_at"] = models.FormatTime(now)
			}
		}
		return appendTimeline(doc, now, "assigned", actor, "assigned to "+displayName(assignee))
	})
}

// AddNote appends a comment to the timeline without changing status.
func (s *Service) AddNote(ctx context.Context, id string, actor *models.Actor, note string) (models.Document, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, fieldError("notes", "is required")
	}
	return s.apply(ctx, "comment", id, actor, func(_ *models.Event, doc models.Document, now time.Time) error {
		return appendTimeline(doc, now, "comment", actor, note)
	})
}

func status(e *models.Event) models.EventStatus {
	if e.Status == "" {
		return models.EventStatusNew
	}
	return e.Status
}

func displayName(a models.Actor) string {
	switch {
	case a.DisplayName != "":
		return a.DisplayName
	case a.Username != "":
		return a.Username
	default:
		return a.ID
	}
}

func appendTimeline(doc models.Document, now time.Time, action string, actor *models.Actor, note string) error {
	entry, err := models.Normalize(models.TimelineEntry{
		Timestamp: now,
		Action:    action,
		Actor:     actor,
		Notes:     note,
	})
	if err != nil {
		return err
	}
	list, _ := doc["timeline"].([]any)
	doc["timeline"] = append(list, map[string]any(entry))
	return nil
}

func fieldError(field, msg string) error {
	return &collections.ValidationError{
		Collection: collections.Events,
		Fields:     []collections.FieldError{{Field: field, Message: msg}},
	}
}
