package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sre-platform/internal/collections"
	"sre-platform/internal/metrics"
	"sre-platform/internal/models"
	"sre-platform/internal/store"
)

// Records is the record service used to read scripts and write
// executions. *collections.Service satisfies it.
type Records interface {
	List(ctx context.Context, key string, p models.ListParams) (models.ListResult, error)
	Get(ctx context.Context, key, id string) (models.Document, error)
	Create(ctx context.Context, key string, doc models.Document, actor *models.Actor) (models.Document, error)
	Mutate(ctx context.Context, key, id string, fn func(models.Document) error, actor *models.Actor) (models.Document, error)
}

// RunRequest describes one execution of a script.
type RunRequest struct {
	Parameters      map[string]string `json:"parameters,omitempty"`
	TriggeredBy     *models.Actor     `json:"triggered_by,omitempty"`
	RelatedEventIDs []string          `json:"related_event_ids,omitempty"`

	TriggerSource models.TriggerSource `json:"-"`
	ScheduleID    string               `json:"-"`
	Retry         models.RetryPolicy   `json:"-"`
}

// Runner executes scripts and keeps their execution records.
type Runner struct {
	records     Records
	executor    Executor
	artifacts   ArtifactStore
	outputLimit int
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner builds a runner. artifacts and m may be nil.
func NewRunner(records Records, executor Executor, artifacts ArtifactStore, outputLimit int, m *metrics.Metrics, logger *zap.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		records:     records,
		executor:    executor,
		artifacts:   artifacts,
		outputLimit: outputLimit,
		metrics:     m,
		logger:      logger.Named("runner"),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start records a pending execution and runs it in the background.
func (r *Runner) Start(ctx context.Context, scriptID string, req RunRequest) (models.Document, error) {
	script, err := r.script(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	doc, err := r.create(ctx, script, req, models.ExecutionPending, "")
	if err != nil {
		return nil, err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.run(r.ctx, script, doc.ID(), req); err != nil {
			r.logger.Error("execution failed to record", zap.String("execution", doc.ID()), zap.Error(err))
		}
	}()
	return doc, nil
}

// Run records an execution and waits for it to finish.
func (r *Runner) Run(ctx context.Context, scriptID string, req RunRequest) (models.Document, error) {
	script, err := r.script(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	doc, err := r.create(ctx, script, req, models.ExecutionPending, "")
	if err != nil {
		return nil, err
	}
	return r.run(ctx, script, doc.ID(), req)
}

// Skip records an execution that was not run.
func (r *Runner) Skip(ctx context.Context, scriptID string, req RunRequest, reason string) (models.Document, error) {
	script, err := r.script(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	r.metrics.Execution(string(trigger(req)), string(models.ExecutionSkipped))
	return r.create(ctx, script, req, models.ExecutionSkipped, reason)
}

// Wait blocks until background executions finish.
func (r *Runner) Wait() { r.wg.Wait() }

// Close cancels background executions and waits for them.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) script(ctx context.Context, id string) (models.Script, error) {
	doc, err := r.records.Get(ctx, collections.Scripts, id)
	if err != nil {
		return models.Script{}, fmt.Errorf("script %s: %w", id, err)
	}
	var s models.Script
	if err := models.Decode(doc, &s); err != nil {
		return models.Script{}, fmt.Errorf("decode script %s: %w", id, err)
	}
	return s, nil
}

func trigger(req RunRequest) models.TriggerSource {
	if req.TriggerSource == "" {
		return models.TriggerManual
	}
	return req.TriggerSource
}

func (r *Runner) create(ctx context.Context, script models.Script, req RunRequest, status models.ExecutionStatus, reason string) (models.Document, error) {
	e := models.Execution{
		ScriptID:        script.ID,
		ScriptName:      script.Name,
		TriggerSource:   trigger(req),
		Status:          status,
		TriggeredBy:     req.TriggeredBy,
		Parameters:      req.Parameters,
		RelatedEventIDs: req.RelatedEventIDs,
	}
	if req.ScheduleID != "" {
		e.ScheduleID = &req.ScheduleID
	}
	if reason != "" {
		e.ErrorMessage = &reason
	}
	doc, err := models.Normalize(e)
	if err != nil {
		return nil, err
	}
	delete(doc, "id")
	delete(doc, "created_at")
	return r.records.Create(ctx, collections.Executions, doc, req.TriggeredBy)
}

func (r *Runner) run(ctx context.Context, script models.Script, id string, req RunRequest) (models.Document, error) {
	// Records are written even when ctx is cancelled mid-run.
	wctx := context.WithoutCancel(ctx)
	start := r.now().UTC()
	if _, err := r.records.Mutate(wctx, collections.Executions, id, func(doc models.Document) error {
		doc["status"] = string(models.ExecutionRunning)
		doc["start_time"] = models.FormatTime(start)
		return nil
	}, nil); err != nil {
		return nil, err
	}
	r.logger.Info("execution started",
		zap.String("execution", id),
		zap.String("script", script.ID),
		zap.String("executor", r.executor.Name()),
		zap.String("trigger", string(trigger(req))))

	var (
		out      Output
		attempts int
		last     error
	)
	interval := time.Duration(req.Retry.IntervalSeconds) * time.Second
	maxAttempts := req.Retry.MaxRetries + 1
attempt:
	for {
		attempts++
		out, last = r.executor.Execute(ctx, script, req.Parameters)
		if last == nil || attempts >= maxAttempts {
			break
		}
		if ctx.Err() != nil {
			break
		}
		r.logger.Warn("execution attempt failed", zap.String("execution", id), zap.Int("attempt", attempts), zap.Error(last))
		// The wait between attempts ends early on shutdown.
		select {
		case <-ctx.Done():
			break attempt
		case <-time.After(interval):
		}
	}
	runErr := last

	end := r.now().UTC()
	status := models.ExecutionSuccess
	if runErr != nil {
		status = models.ExecutionFailed
	}
	artifact := r.archive(wctx, id, out)

	doc, err := r.records.Mutate(wctx, collections.Executions, id, func(doc models.Document) error {
		doc["status"] = string(status)
		doc["end_time"] = models.FormatTime(end)
		doc["duration_ms"] = float64(end.Sub(start).Milliseconds())
		doc["stdout"] = truncate(out.Stdout, r.outputLimit)
		doc["stderr"] = truncate(out.Stderr, r.outputLimit)
		doc["attempt_count"] = float64(attempts)
		doc["error_message"] = nil
		if runErr != nil {
			doc["error_message"] = runErr.Error()
		}
		if artifact != "" {
			doc["artifact_url"] = artifact
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}

	_, err = r.records.Mutate(wctx, collections.Scripts, script.ID, func(doc models.Document) error {
		doc["last_execution_status"] = string(status)
		doc["last_execution_at"] = models.FormatTime(end)
		return nil
	}, nil)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("update script last execution failed", zap.String("script", script.ID), zap.Error(err))
	}

	r.metrics.Execution(string(trigger(req)), string(status))
	r.logger.Info("execution finished",
		zap.String("execution", id),
		zap.String("status", string(status)),
		zap.Int("attempts", attempts),
		zap.Duration("duration", end.Sub(start)))
	return doc, nil
}

func (r *Runner) archive(ctx context.Context, id string, out Output) string {
	if r.artifacts == nil || (out.Stdout == "" && out.Stderr == "") {
		return ""
	}
	data := fmt.Sprintf("== stdout ==\n%s\n== stderr ==\n%s", out.Stdout, out.Stderr)
	url, err := r.artifacts.Put(ctx, "executions/"+id+".log", []byte(data))
	if err != nil {
		r.logger.Warn("archive execution output failed", zap.String("execution", id), zap.Error(err))
		return ""
	}
	return url
}
