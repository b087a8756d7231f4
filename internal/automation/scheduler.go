package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"sre-platform/internal/collections"
	"sre-platform/internal/models"
	"sre-platform/internal/store"
	"sre-platform/internal/stream"
)

const skipReason = "previous run still in progress"

// ErrNoCronExpression is returned for recurring schedules without a cron
// expression and for once schedules without a next_run_time.
var ErrNoCronExpression = errors.New("schedule has no trigger time")

type entry struct {
	id       cron.EntryID
	schedule cron.Schedule
	sig      string
}

// Scheduler fires script executions from the schedules collection.
type Scheduler struct {
	records Records
	runner  *Runner
	cron    *cron.Cron
	logger  *zap.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]entry
	running map[string]bool
}

func NewScheduler(records Records, runner *Runner, logger *zap.Logger) *Scheduler {
	logger = logger.Named("scheduler")
	cl := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		records: records,
		runner:  runner,
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]entry),
		running: make(map[string]bool),
	}
}

// Start registers every enabled schedule and starts the cron loop. A
// schedule that fails to parse is logged and left out.
func (s *Scheduler) Start(ctx context.Context) error {
	res, err := s.records.List(ctx, collections.Schedules, models.ListParams{})
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	for _, doc := range res.Items {
		var sc models.Schedule
		if err := models.Decode(doc, &sc); err != nil {
			s.logger.Warn("skipping undecodable schedule", zap.String("id", doc.ID()), zap.Error(err))
			continue
		}
		if !sc.Enabled() {
			continue
		}
		if err := s.register(ctx, sc); err != nil {
			s.logger.Warn("schedule not registered", zap.String("id", sc.ID), zap.Error(err))
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("schedules", s.Len()))
	return nil
}

// Stop halts the cron loop, cancels running executions and waits for
// them to be recorded.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Len returns the number of registered schedules.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Observe keeps the registered entries in step with schedule writes.
func (s *Scheduler) Observe(ctx context.Context, c stream.Change) {
	if c.Collection != collections.Schedules {
		return
	}
	if c.Action == stream.ActionDeleted || c.Record == nil {
		s.remove(c.ID)
		return
	}
	var sc models.Schedule
	if err := models.Decode(c.Record, &sc); err != nil {
		s.logger.Warn("undecodable schedule change", zap.String("id", c.ID), zap.Error(err))
		return
	}
	if !sc.Enabled() {
		s.remove(sc.ID)
		return
	}
	if err := s.register(ctx, sc); err != nil {
		s.logger.Warn("schedule not registered", zap.String("id", sc.ID), zap.Error(err))
		s.remove(sc.ID)
	}
}

func (s *Scheduler) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		s.cron.Remove(e.id)
		delete(s.entries, id)
		s.logger.Debug("schedule removed", zap.String("id", id))
	}
}

func (s *Scheduler) register(ctx context.Context, sc models.Schedule) error {
	sched, err := Parse(sc)
	if err != nil {
		return err
	}
	sig := signature(sc)

	s.mu.Lock()
	if e, ok := s.entries[sc.ID]; ok {
		if e.sig == sig {
			s.mu.Unlock()
			return nil
		}
		s.cron.Remove(e.id)
	}
	id := sc.ID
	eid := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(id) }))
	s.entries[id] = entry{id: eid, schedule: sched, sig: sig}
	s.mu.Unlock()

	next := sched.Next(s.now())
	s.logger.Info("schedule registered", zap.String("id", id), zap.String("cron", sc.CronExpression), zap.Time("next", next))
	if sc.NextRunTime == nil || !sc.NextRunTime.Equal(next) {
		s.stamp(ctx, id, nil, next)
	}
	return nil
}

// stamp persists run times. A zero next clears next_run_time.
func (s *Scheduler) stamp(ctx context.Context, id string, last *time.Time, next time.Time) {
	_, err := s.records.Mutate(context.WithoutCancel(ctx), collections.Schedules, id, func(doc models.Document) error {
		if last != nil {
			doc["last_run_time"] = models.FormatTime(*last)
		}
		if next.IsZero() {
			doc["next_run_time"] = nil
		} else {
			doc["next_run_time"] = models.FormatTime(next)
		}
		return nil
	}, nil)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("stamp schedule failed", zap.String("id", id), zap.Error(err))
	}
}

func (s *Scheduler) fire(id string) {
	ctx := s.ctx
	if ctx.Err() != nil {
		return
	}
	doc, err := s.records.Get(ctx, collections.Schedules, id)
	if err != nil {
		s.logger.Warn("fired schedule not loaded", zap.String("id", id), zap.Error(err))
		return
	}
	var sc models.Schedule
	if err := models.Decode(doc, &sc); err != nil || !sc.Enabled() {
		return
	}

	now := s.now().UTC()
	s.mu.Lock()
	e, ok := s.entries[id]
	busy := s.running[id]
	if !busy {
		s.running[id] = true
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	var next time.Time
	if sc.Type != "once" {
		next = e.schedule.Next(now)
	}
	s.stamp(ctx, id, &now, next)

	req := RunRequest{
		Parameters:    sc.Parameters,
		TriggerSource: models.TriggerSchedule,
		ScheduleID:    sc.ID,
	}
	if sc.RetryPolicy != nil {
		req.Retry = *sc.RetryPolicy
	}

	if busy {
		if sc.ConcurrencyPolicy == "forbid" {
			s.logger.Info("schedule skipped", zap.String("id", id), zap.String("reason", skipReason))
			if _, err := s.runner.Skip(ctx, sc.ScriptID, req, skipReason); err != nil {
				s.logger.Warn("record skipped execution failed", zap.String("id", id), zap.Error(err))
			}
			return
		}
	} else {
		defer func() {
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
		}()
	}

	if sc.Type == "once" {
		// A one-off schedule disables itself once it has fired.
		if _, err := s.records.Mutate(context.WithoutCancel(ctx), collections.Schedules, id, func(doc models.Document) error {
			doc["status"] = "disabled"
			return nil
		}, nil); err != nil {
			s.logger.Warn("disable once schedule failed", zap.String("id", id), zap.Error(err))
		}
	}

	if _, err := s.runner.Run(ctx, sc.ScriptID, req); err != nil {
		s.logger.Error("scheduled execution failed", zap.String("id", id), zap.String("script", sc.ScriptID), zap.Error(err))
	}
}

// Parse returns the cron schedule for sc, evaluated in sc.Timezone.
func Parse(sc models.Schedule) (cron.Schedule, error) {
	if sc.Type == "once" {
		if sc.NextRunTime == nil {
			return nil, ErrNoCronExpression
		}
		return onceSchedule{at: *sc.NextRunTime}, nil
	}
	if sc.CronExpression == "" {
		return nil, ErrNoCronExpression
	}
	tz := sc.Timezone
	if tz == "" {
		tz = "UTC"
	}
	sched, err := cron.ParseStandard("CRON_TZ=" + tz + " " + sc.CronExpression)
	if err != nil {
		return nil, &collections.ValidationError{
			Collection: collections.Schedules,
			Fields:     []collections.FieldError{{Field: "cron_expression", Message: err.Error()}},
		}
	}
	return sched, nil
}

// Guard rejects recurring schedule writes whose cron expression does not
// parse. Register it with collections.Service.BeforeWrite.
func Guard(_, next models.Document, _ time.Time) error {
	var sc models.Schedule
	if err := models.Decode(next, &sc); err != nil {
		// Left to model validation.
		return nil
	}
	if sc.Type == "once" || sc.CronExpression == "" {
		return nil
	}
	_, err := Parse(sc)
	return err
}

// NextRuns returns up to count upcoming fire times of sc after from.
func NextRuns(sc models.Schedule, from time.Time, count int) ([]time.Time, error) {
	sched, err := Parse(sc)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, count)
	t := from
	for len(out) < count {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if o.at.After(t) {
		return o.at
	}
	return time.Time{}
}

// signature covers the trigger fields. Run time stamps written by the
// scheduler leave it unchanged.
func signature(sc models.Schedule) string {
	var once int64
	if sc.Type == "once" && sc.NextRunTime != nil {
		once = sc.NextRunTime.Unix()
	}
	return fmt.Sprintf("%s|%s|%s|%s|%d", sc.ScriptID, sc.Type, sc.CronExpression, sc.Timezone, once)
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
