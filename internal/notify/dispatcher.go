package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Songmu/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sre-platform/internal/collections"
	"sre-platform/internal/metrics"
	"sre-platform/internal/models"
	"sre-platform/internal/silence"
	"sre-platform/internal/stream"
)

// Records is the part of the record service the dispatcher needs.
type Records interface {
	List(ctx context.Context, key string, p models.ListParams) (models.ListResult, error)
	Get(ctx context.Context, key, id string) (models.Document, error)
	Create(ctx context.Context, key string, doc models.Document, actor *models.Actor) (models.Document, error)
	Mutate(ctx context.Context, key, id string, fn func(models.Document) error, actor *models.Actor) (models.Document, error)
}

// Silences lists the configured silences, usually from a silence.Cache.
type Silences interface {
	All(ctx context.Context) ([]models.Silence, error)
}

type Options struct {
	Concurrency   int
	RetryAttempts uint
	RetryInterval time.Duration
	SendTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 4
	}
	if o.RetryAttempts < 1 {
		o.RetryAttempts = 1
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	return o
}

// Dispatcher matches incidents against notification policies and sends
// them on the policies' channels.
type Dispatcher struct {
	records  Records
	silences Silences
	senders  map[models.ChannelType]Sender
	opts     Options
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

func NewDispatcher(records Records, silences Silences, opts Options, m *metrics.Metrics, logger *zap.Logger, senders ...Sender) *Dispatcher {
	d := &Dispatcher{
		records:  records,
		silences: silences,
		senders:  make(map[models.ChannelType]Sender, len(senders)),
		opts:     opts.withDefaults(),
		metrics:  m,
		logger:   logger.Named("notify"),
		now:      time.Now,
	}
	for _, s := range senders {
		d.senders[s.Type()] = s
	}
	return d
}

// delivery is one channel of one policy.
type delivery struct {
	policy  models.NotificationPolicy
	channel models.Channel
	silence *models.Silence
}

// Dispatch notifies every matching policy about e and returns the
// notification records written. A failing channel does not stop the
// others; the error only reports problems loading configuration.
func (d *Dispatcher) Dispatch(ctx context.Context, e models.Event) ([]models.Document, error) {
	policies, err := d.policies(ctx, e)
	if err != nil {
		return nil, err
	}
	if len(policies) == 0 {
		return nil, nil
	}
	silences, err := d.silenceList(ctx)
	if err != nil {
		return nil, err
	}
	labels := silence.Labels(e)
	now := d.now()

	var deliveries []delivery
	for _, p := range policies {
		matched := policySilence(p, silences, labels, now)
		if matched == nil && e.Status == models.EventStatusSilenced {
			matched = &models.Silence{Name: "incident silenced"}
		}
		for _, id := range p.ChannelIDs {
			ch, err := d.channel(ctx, id)
			if err != nil {
				d.logger.Warn("skipping channel", zap.String("policy", p.ID), zap.String("channel", id), zap.Error(err))
				continue
			}
			if !ch.Active() {
				continue
			}
			deliveries = append(deliveries, delivery{policy: p, channel: ch, silence: matched})
		}
	}

	msg := EventMessage(e)
	out := make([]models.Document, len(deliveries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i, dl := range deliveries {
		g.Go(func() error {
			m := msg
			m.Recipients = dl.policy.Recipients
			doc, err := d.deliver(gctx, e.ID, dl, m)
			if err != nil {
				d.logger.Error("record notification failed", zap.String("channel", dl.channel.ID), zap.Error(err))
				return nil
			}
			out[i] = doc
			return nil
		})
	}
	_ = g.Wait()

	written := out[:0]
	for _, doc := range out {
		if doc != nil {
			written = append(written, doc)
		}
	}
	return written, nil
}

// Go dispatches in the background. Wait blocks until all such
// dispatches have finished.
func (d *Dispatcher) Go(e models.Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.Dispatch(context.Background(), e); err != nil {
			d.logger.Error("dispatch failed", zap.String("event", e.ID), zap.Error(err))
		}
	}()
}

func (d *Dispatcher) Wait() { d.wg.Wait() }

// Notify dispatches the incident held in doc in the background.
func (d *Dispatcher) Notify(doc models.Document) {
	var e models.Event
	if err := models.Decode(doc, &e); err != nil {
		d.logger.Warn("cannot decode incident for dispatch", zap.String("id", doc.ID()), zap.Error(err))
		return
	}
	d.Go(e)
}

// Observe is a collections.Observer that dispatches newly created
// incidents.
func (d *Dispatcher) Observe(_ context.Context, c stream.Change) {
	if c.Collection != collections.Events || c.Action != stream.ActionCreated {
		return
	}
	d.Notify(c.Record)
}

// Test sends a test message on a channel and stamps last_tested_at.
func (d *Dispatcher) Test(ctx context.Context, channelID string, actor *models.Actor) (models.Document, error) {
	ch, err := d.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	doc, err := d.deliver(ctx, "", delivery{channel: ch}, TestMessage(ch))
	if err != nil {
		return nil, err
	}
	if _, err := d.records.Mutate(ctx, collections.Channels, channelID, func(c models.Document) error {
		c["last_tested_at"] = models.FormatTime(d.now())
		return nil
	}, actor); err != nil {
		return nil, err
	}
	return doc, nil
}

// Retry re-sends a failed notification, appending to its attempts.
func (d *Dispatcher) Retry(ctx context.Context, notificationID string, actor *models.Actor) (models.Document, error) {
	doc, err := d.records.Get(ctx, collections.Notifications, notificationID)
	if err != nil {
		return nil, err
	}
	var n models.Notification
	if err := models.Decode(doc, &n); err != nil {
		return nil, err
	}
	if n.Status != models.NotificationFailed {
		return nil, fmt.Errorf("%w: only failed notifications can be retried", ErrNotRetryable)
	}
	ch, err := d.channel(ctx, n.ChannelID)
	if err != nil {
		return nil, err
	}

	msg := Message{Subject: n.PolicyName, Body: n.PayloadExcerpt}
	if n.RelatedEventID != "" {
		if ev, err := d.records.Get(ctx, collections.Events, n.RelatedEventID); err == nil {
			var e models.Event
			if models.Decode(ev, &e) == nil {
				msg = EventMessage(e)
			}
		}
	}
	msg.Recipients = n.Recipients

	start := d.now()
	attempts, sendErr := d.send(ctx, ch, msg)
	return d.records.Mutate(ctx, collections.Notifications, notificationID, func(doc models.Document) error {
		var cur models.Notification
		if err := models.Decode(doc, &cur); err != nil {
			return err
		}
		cur.Attempts = append(cur.Attempts, attempts...)
		cur.RetryCount += len(attempts)
		finish(&cur, start, d.now(), sendErr)
		patch, err := models.Normalize(cur)
		if err != nil {
			return err
		}
		for _, k := range []string{"status", "attempts", "retry_count", "completed_at", "duration_ms", "error_message"} {
			doc[k] = patch[k]
		}
		return nil
	}, actor)
}

func (d *Dispatcher) deliver(ctx context.Context, eventID string, dl delivery, msg Message) (models.Document, error) {
	start := d.now()
	n := models.Notification{
		PolicyID:       dl.policy.ID,
		PolicyName:     dl.policy.Name,
		ChannelID:      dl.channel.ID,
		ChannelType:    dl.channel.Type,
		Recipients:     dl.policy.Recipients,
		SentAt:         &start,
		PayloadExcerpt: msg.excerpt(),
		RelatedEventID: eventID,
	}

	if dl.silence != nil {
		n.Status = models.NotificationSilenced
		n.SilenceID = dl.silence.ID
		n.CompletedAt = &start
		d.metrics.Notification(string(dl.channel.Type), string(n.Status), 0)
	} else {
		attempts, err := d.send(ctx, dl.channel, msg)
		n.Attempts = attempts
		if len(attempts) > 1 {
			n.RetryCount = len(attempts) - 1
		}
		finish(&n, start, d.now(), err)
		d.metrics.Notification(string(dl.channel.Type), string(n.Status), time.Duration(n.DurationMs)*time.Millisecond)
		if err != nil {
			d.logger.Warn("notification failed",
				zap.String("channel", dl.channel.ID),
				zap.String("type", string(dl.channel.Type)),
				zap.Int("attempts", len(attempts)),
				zap.Error(err))
		}
	}

	doc, err := models.Normalize(n)
	if err != nil {
		return nil, err
	}
	delete(doc, "id")
	delete(doc, "created_at")
	delete(doc, "updated_at")
	// The record outlives the caller's request.
	return d.records.Create(context.WithoutCancel(ctx), collections.Notifications, doc, nil)
}

// send tries the channel with retries and returns one attempt per try.
func (d *Dispatcher) send(ctx context.Context, ch models.Channel, msg Message) ([]models.Attempt, error) {
	sender, ok := d.senders[ch.Type]
	if !ok {
		err := fmt.Errorf("%w %q", ErrNoSender, ch.Type)
		return []models.Attempt{{AttemptAt: d.now().UTC(), Status: models.NotificationFailed, Error: err.Error()}}, err
	}

	var attempts []models.Attempt
	err := retry.Retry(d.opts.RetryAttempts, d.opts.RetryInterval, func() error {
		a := models.Attempt{AttemptAt: d.now().UTC(), Status: models.NotificationSuccess}
		sctx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
		code, err := sender.Send(sctx, ch, msg)
		cancel()
		a.ResponseCode = code
		if err != nil {
			a.Status = models.NotificationFailed
			a.Error = err.Error()
		}
		attempts = append(attempts, a)
		if errors.Is(err, ErrMisconfigured) || ctx.Err() != nil {
			// Not retryable. The attempt keeps the error.
			return nil
		}
		return err
	})
	if err == nil {
		if last := attempts[len(attempts)-1]; last.Status == models.NotificationFailed {
			err = errors.New(last.Error)
		}
	}
	return attempts, err
}

func finish(n *models.Notification, start, end time.Time, err error) {
	n.CompletedAt = &end
	n.DurationMs = end.Sub(start).Milliseconds()
	if err != nil {
		n.Status = models.NotificationFailed
		msg := err.Error()
		n.ErrorMessage = &msg
		return
	}
	n.Status = models.NotificationSuccess
	n.ErrorMessage = nil
}

func (d *Dispatcher) channel(ctx context.Context, id string) (models.Channel, error) {
	doc, err := d.records.Get(ctx, collections.Channels, id)
	if err != nil {
		return models.Channel{}, fmt.Errorf("channel %s: %w", id, err)
	}
	var ch models.Channel
	if err := models.Decode(doc, &ch); err != nil {
		return models.Channel{}, fmt.Errorf("decode channel %s: %w", id, err)
	}
	return ch, nil
}

func (d *Dispatcher) silenceList(ctx context.Context) ([]models.Silence, error) {
	if d.silences == nil {
		return nil, nil
	}
	return d.silences.All(ctx)
}

// policies returns the enabled policies that route e, by id.
func (d *Dispatcher) policies(ctx context.Context, e models.Event) ([]models.NotificationPolicy, error) {
	res, err := d.records.List(ctx, collections.NotificationPolicies, models.ListParams{})
	if err != nil {
		return nil, fmt.Errorf("load notification policies: %w", err)
	}
	labels := silence.Labels(e)
	var out []models.NotificationPolicy
	for _, doc := range res.Items {
		var p models.NotificationPolicy
		if err := models.Decode(doc, &p); err != nil {
			d.logger.Warn("skipping undecodable policy", zap.String("id", doc.ID()), zap.Error(err))
			continue
		}
		if Routes(p, e, labels) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Routes reports whether policy p applies to incident e.
//
// severity_filters lists accepted severities (empty accepts all).
// resource_filters must all equal the incident's labels ("*" only requires
// the label to exist). trigger_condition may restrict "status" to a comma
// separated list; its other keys are descriptive.
func Routes(p models.NotificationPolicy, e models.Event, labels map[string]string) bool {
	if !p.Enabled {
		return false
	}
	if len(p.SeverityFilters) > 0 {
		ok := false
		for _, s := range p.SeverityFilters {
			if s == e.Severity {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for k, want := range p.ResourceFilters {
		got, present := labels[k]
		if !present || (want != "*" && got != want) {
			return false
		}
	}
	if statuses, ok := p.TriggerCondition["status"]; ok && statuses != "" {
		st := string(e.Status)
		if st == "" {
			st = string(models.EventStatusNew)
		}
		ok := false
		for _, s := range strings.Split(statuses, ",") {
			if strings.TrimSpace(s) == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// policySilence finds the silence suppressing delivery for p: first the
// policy's own silences, then any active silence.
func policySilence(p models.NotificationPolicy, all []models.Silence, labels map[string]string, at time.Time) *models.Silence {
	if len(p.SilenceIDs) > 0 {
		own := make([]models.Silence, 0, len(p.SilenceIDs))
		for _, s := range all {
			for _, id := range p.SilenceIDs {
				if s.ID == id {
					own = append(own, s)
				}
			}
		}
		if s := silence.Silenced(own, labels, at); s != nil {
			return s
		}
	}
	return silence.Silenced(all, labels, at)
}
