package collections

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sre-platform/internal/models"
	"sre-platform/internal/store"
	"sre-platform/internal/stream"
)

// Hook runs inside the write, before validation. prev is nil on create.
// Returning an error aborts the write.
type Hook func(prev, next models.Document, now time.Time) error

// Observer is told about every committed write, after it has been
// published on the stream.
type Observer func(ctx context.Context, c stream.Change)

// Service is the single write path for records: it validates, stores,
// publishes changes and keeps the audit log.
type Service struct {
	store     store.DocumentStore
	broker    stream.Broker
	validate  *validator.Validate
	logger    *zap.Logger
	hooks     map[string][]Hook
	observers []Observer
	now       func() time.Time
}

func NewService(s store.DocumentStore, broker stream.Broker, logger *zap.Logger) *Service {
	return &Service{
		store:    s,
		broker:   broker,
		validate: newValidator(),
		hooks:    make(map[string][]Hook),
		logger:   logger.Named("collections"),
		now:      time.Now,
	}
}

// BeforeWrite registers h for writes to collection key.
func (s *Service) BeforeWrite(key string, h Hook) {
	s.hooks[key] = append(s.hooks[key], h)
}

// Observe registers o. Not safe to call once requests are being served.
func (s *Service) Observe(o Observer) {
	s.observers = append(s.observers, o)
}

func (s *Service) Store() store.DocumentStore { return s.store }

func (s *Service) check(key string, prev, doc models.Document) error {
	now := s.now()
	for _, h := range s.hooks[key] {
		if err := h(prev, doc, now); err != nil {
			return err
		}
	}
	c, ok := ByKey(key)
	if !ok {
		return nil
	}
	return c.Validate(s.validate, doc)
}

func (s *Service) List(ctx context.Context, key string, p models.ListParams) (models.ListResult, error) {
	return s.store.List(ctx, key, p)
}

func (s *Service) Get(ctx context.Context, key, id string) (models.Document, error) {
	return s.store.Get(ctx, key, id)
}

// Create validates and stores doc. actor is nil for writes the service
// makes on its own behalf.
func (s *Service) Create(ctx context.Context, key string, doc models.Document, actor *models.Actor) (models.Document, error) {
	if doc == nil {
		doc = models.Document{}
	}
	doc = doc.Clone()
	if _, ok := doc["created_by"]; !ok && actor != nil {
		if err := doc.Set("created_by", actor); err != nil {
			return nil, err
		}
	}
	if err := s.check(key, nil, doc); err != nil {
		return nil, err
	}
	created, err := s.store.Create(ctx, key, doc)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, key, stream.ActionCreated, created.ID(), created, actor)
	return created, nil
}

// Update merges patch into the record.
func (s *Service) Update(ctx context.Context, key, id string, patch models.Document, actor *models.Actor) (models.Document, error) {
	return s.Mutate(ctx, key, id, func(doc models.Document) error {
		doc.Merge(patch)
		return nil
	}, actor)
}

// Mutate applies fn to the stored record; the result must still validate.
func (s *Service) Mutate(ctx context.Context, key, id string, fn func(models.Document) error, actor *models.Actor) (models.Document, error) {
	updated, err := s.store.Mutate(ctx, key, id, func(doc models.Document) error {
		prev := doc.Clone()
		if err := fn(doc); err != nil {
			return err
		}
		if actor != nil {
			if err := doc.Set("updated_by", actor); err != nil {
				return err
			}
		}
		return s.check(key, prev, doc)
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, key, stream.ActionUpdated, id, updated, actor)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, key, id string, actor *models.Actor) error {
	if err := s.store.Delete(ctx, key, id); err != nil {
		return err
	}
	s.committed(ctx, key, stream.ActionDeleted, id, nil, actor)
	return nil
}

func (s *Service) committed(ctx context.Context, key string, action stream.Action, id string, doc models.Document, actor *models.Actor) {
	change := stream.Change{Collection: key, Action: action, ID: id, Record: doc, At: s.now().UTC()}
	if s.broker != nil {
		if err := s.broker.Publish(ctx, change); err != nil {
			s.logger.Warn("publish change failed", zap.String("collection", key), zap.String("id", id), zap.Error(err))
		}
	}
	if actor != nil && key != AuditLogs {
		s.audit(ctx, change, actor)
	}
	for _, o := range s.observers {
		o(ctx, change)
	}
}

func (s *Service) audit(ctx context.Context, c stream.Change, actor *models.Actor) {
	var meta map[string]any
	if c.Record != nil {
		meta = map[string]any{"updated_at": c.Record["updated_at"]}
	}
	s.writeAudit(ctx, actor, string(c.Action), c.Collection, c.ID, meta, c.At)
}

// Audit records an action on something that is not a collection record,
// such as a console user.
func (s *Service) Audit(ctx context.Context, actor *models.Actor, action, targetType, targetID string, meta map[string]any) {
	s.writeAudit(ctx, actor, action, targetType, targetID, meta, s.now().UTC())
}

func (s *Service) writeAudit(ctx context.Context, actor *models.Actor, action, targetType, targetID string, meta map[string]any, at time.Time) {
	entry := models.AuditLog{
		ID:         "audit-" + uuid.NewString(),
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		CreatedAt:  at,
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			entry.Metadata = string(b)
		}
	}
	doc, err := models.Normalize(entry)
	if err == nil {
		_, err = s.store.Create(ctx, AuditLogs, doc)
	}
	if err != nil {
		s.logger.Warn("write audit log failed", zap.String("target", fmt.Sprintf("%s/%s", targetType, targetID)), zap.Error(err))
	}
}
