// Package analysis produces root cause reports for incidents in the
// background.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sre-platform/internal/collections"
	"sre-platform/internal/metrics"
	"sre-platform/internal/models"
	"sre-platform/internal/store"
)

const defaultTimeout = 45 * time.Second

var (
	ErrEventIDRequired     = errors.New("event id is required")
	ErrReportIDRequired    = errors.New("report id is required")
	ErrReportNotFound      = errors.New("analysis report not found")
	ErrReportAlreadyExists = errors.New("analysis report already exists")
)

// Records is the record service reports are kept in.
type Records interface {
	List(ctx context.Context, key string, p models.ListParams) (models.ListResult, error)
	Get(ctx context.Context, key, id string) (models.Document, error)
	Create(ctx context.Context, key string, doc models.Document, actor *models.Actor) (models.Document, error)
	Mutate(ctx context.Context, key, id string, fn func(models.Document) error, actor *models.Actor) (models.Document, error)
}

// Request carries optional context for the generator.
type Request struct {
	EventContext map[string]any `json:"event_context,omitempty"`
}

type Service struct {
	records   Records
	generator Generator
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewService(records Records, generator Generator, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{
		records:   records,
		generator: generator,
		timeout:   timeout,
		metrics:   m,
		logger:    logger.Named("analysis"),
		now:       time.Now,
	}
}

// CreateReport stores a PENDING report for eventID and generates it in
// the background. When the event already has a report, the existing one
// is returned along with ErrReportAlreadyExists.
func (s *Service) CreateReport(ctx context.Context, eventID string, req Request) (models.AnalysisReport, error) {
	if eventID == "" {
		return models.AnalysisReport{}, ErrEventIDRequired
	}
	report := models.AnalysisReport{
		ID:        eventID,
		ReportID:  uuid.NewString(),
		EventID:   eventID,
		Status:    models.ReportPending,
		Generator: s.generator.Name(),
	}
	doc, err := models.Normalize(report)
	if err != nil {
		return models.AnalysisReport{}, err
	}
	delete(doc, "created_at")
	delete(doc, "updated_at")
	created, err := s.records.Create(ctx, collections.AnalysisReports, doc, nil)
	if errors.Is(err, store.ErrConflict) {
		existing, getErr := s.GetByEvent(ctx, eventID)
		if getErr != nil {
			return models.AnalysisReport{}, getErr
		}
		return existing, ErrReportAlreadyExists
	}
	if err != nil {
		return models.AnalysisReport{}, fmt.Errorf("create analysis report: %w", err)
	}
	if err := models.Decode(created, &report); err != nil {
		return models.AnalysisReport{}, err
	}

	in := Input{EventID: eventID, Context: req.EventContext}
	if ev, err := s.records.Get(ctx, collections.Events, eventID); err == nil {
		var e models.Event
		if models.Decode(ev, &e) == nil {
			in.Event = &e
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(in)
	}()
	s.logger.Info("analysis requested", zap.String("event", eventID), zap.String("report", report.ReportID))
	return report, nil
}

// GetReport looks a report up by its report id.
func (s *Service) GetReport(ctx context.Context, reportID string) (models.AnalysisReport, error) {
	if reportID == "" {
		return models.AnalysisReport{}, ErrReportIDRequired
	}
	res, err := s.records.List(ctx, collections.AnalysisReports, models.ListParams{
		PageSize: 1,
		Filters:  map[string]string{"report_id": reportID},
	})
	if err != nil {
		return models.AnalysisReport{}, err
	}
	if len(res.Items) == 0 {
		return models.AnalysisReport{}, ErrReportNotFound
	}
	return decode(res.Items[0])
}

// GetByEvent returns the report of an event.
func (s *Service) GetByEvent(ctx context.Context, eventID string) (models.AnalysisReport, error) {
	doc, err := s.records.Get(ctx, collections.AnalysisReports, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return models.AnalysisReport{}, ErrReportNotFound
	}
	if err != nil {
		return models.AnalysisReport{}, err
	}
	return decode(doc)
}

// Wait blocks until every background analysis has finished.
func (s *Service) Wait() { s.wg.Wait() }

func decode(doc models.Document) (models.AnalysisReport, error) {
	var r models.AnalysisReport
	if err := models.Decode(doc, &r); err != nil {
		return models.AnalysisReport{}, fmt.Errorf("decode analysis report: %w", err)
	}
	return r, nil
}

func (s *Service) update(id string, fn func(doc models.Document) error) error {
	_, err := s.records.Mutate(context.Background(), collections.AnalysisReports, id, fn, nil)
	return err
}

func (s *Service) run(in Input) {
	id := in.EventID
	if err := s.update(id, func(doc models.Document) error {
		doc["status"] = string(models.ReportRunning)
		delete(doc, "error_message")
		return nil
	}); err != nil {
		s.logger.Error("mark analysis running failed", zap.String("event", id), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	started := s.now()
	result, genErr := s.generator.Generate(ctx, in)
	completed := models.FormatTime(s.now())

	status := models.ReportSuccess
	err := s.update(id, func(doc models.Document) error {
		doc["completed_at"] = completed
		if genErr != nil {
			status = models.ReportFailed
			doc["status"] = string(status)
			doc["error_message"] = genErr.Error()
			return nil
		}
		body, err := models.Normalize(result)
		if err != nil {
			return err
		}
		doc.Merge(body)
		doc["status"] = string(status)
		return nil
	})
	if err != nil {
		s.logger.Error("record analysis result failed", zap.String("event", id), zap.Error(err))
		return
	}
	s.metrics.AnalysisReport(s.generator.Name(), string(status))
	if genErr != nil {
		s.logger.Warn("analysis failed", zap.String("event", id), zap.Duration("took", s.now().Sub(started)), zap.Error(genErr))
		return
	}
	s.logger.Info("analysis finished", zap.String("event", id), zap.Duration("took", s.now().Sub(started)))
}
