package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sprintbot/internal/eventbus"
	"sprintbot/internal/storage"
	"sprintbot/internal/transport"
	logx "sprintbot/pkg/logx"
)

// DispatcherConfig tunes the delivery loop.
type DispatcherConfig struct {
	// Workers bounds how many claimed jobs are processed in parallel.
	Workers int
	// RatePerSec is the maximum sustained outbound send rate, shared across
	// all workers so a large roster cannot trip transport-side throttling.
	RatePerSec int
	// SendTimeout bounds one transport call; timing out is retryable.
	SendTimeout time.Duration

	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// TickInterval is the fallback wake period when nothing is due; new
	// enqueues wake the loop earlier.
	TickInterval time.Duration
}

func (c *DispatcherConfig) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Minute
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
}

// Dispatcher claims due jobs, expands them through the planner, delivers via
// the transport, and applies retry/backoff. It is the only component that
// mutates job state; producers just append.
type Dispatcher struct {
	queue   *Queue
	planner *Planner
	adapter transport.Adapter
	store   storage.Store
	bus     eventbus.Bus
	log     logx.Logger

	// mu guards cfg and limiter: Apply swaps them while the run loop and
	// its workers read them.
	mu      sync.Mutex
	cfg     DispatcherConfig
	limiter *rate.Limiter

	clock func() time.Time
}

func NewDispatcher(cfg DispatcherConfig, queue *Queue, planner *Planner, adapter transport.Adapter, store storage.Store, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	cfg.setDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:     cfg,
		queue:   queue,
		planner: planner,
		adapter: adapter,
		store:   store,
		bus:     bus,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		clock:   time.Now,
	}
}

// SetClock injects a fake clock for tests.
func (d *Dispatcher) SetClock(clock func() time.Time) { d.clock = clock }

// Apply swaps live-tunable knobs (workers, rate, timeouts, retry tuning)
// at runtime.
func (d *Dispatcher) Apply(cfg DispatcherConfig) {
	cfg.setDefaults()
	d.mu.Lock()
	d.cfg.Workers = cfg.Workers
	d.cfg.RatePerSec = cfg.RatePerSec
	d.cfg.SendTimeout = cfg.SendTimeout
	d.cfg.RetryBase = cfg.RetryBase
	d.cfg.RetryMaxDelay = cfg.RetryMaxDelay
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	d.mu.Unlock()
}

// snapshot returns a consistent view of the tunables for one scheduling or
// send decision.
func (d *Dispatcher) snapshot() (DispatcherConfig, *rate.Limiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.limiter
}

// Run is the scheduler loop: wait until the earliest pending job is due (or
// a new enqueue wakes us sooner), then claim and process the due batch.
// Returns when ctx is cancelled, after the current batch drains.
func (d *Dispatcher) Run(ctx context.Context) error {
	cfg, _ := d.snapshot()
	d.log.Info("dispatcher started",
		logx.Int("workers", cfg.Workers), logx.Int("rate_per_sec", cfg.RatePerSec))
	for {
		wait := cfg.TickInterval
		if next, ok := d.queue.NextDue(); ok {
			if until := next.Sub(d.clock()); until < wait {
				wait = until
			}
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.log.Info("dispatcher stopped")
			return nil
		case <-d.queue.Wake():
			// Something new may be due sooner; recompute the wait target.
			timer.Stop()
			continue
		case <-timer.C:
		}

		d.DispatchDue(ctx)
	}
}

// DispatchDue claims and processes everything currently due. Jobs are
// claimed in scheduled_for order; processing runs on a bounded worker pool,
// so per-recipient sends may complete out of order.
func (d *Dispatcher) DispatchDue(ctx context.Context) {
	now := d.clock()
	due := d.queue.DequeueDue(ctx, now)
	if len(due) == 0 {
		return
	}

	cfg, _ := d.snapshot()
	sem := make(chan struct{}, cfg.Workers)
	var wg sync.WaitGroup
	for _, j := range due {
		if ctx.Err() != nil {
			// Shutting down: return unstarted claims to the backlog.
			_ = d.queue.Requeue(ctx, j.ID, j.ScheduledFor, j.Attempts)
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(j *Job) {
			defer wg.Done()
			defer func() { <-sem }()
			d.process(ctx, j)
		}(j)
	}
	wg.Wait()
}

type retryTarget struct {
	recipient  int64
	retryAfter time.Duration
}

func (d *Dispatcher) process(ctx context.Context, j *Job) {
	now := d.clock()
	plan := d.planner.Plan(j, now)

	// A single-target job inside its recipient's quiet window is rescheduled
	// whole, to the window's end. A job that already sits at its deferral cap
	// cannot wait any longer: it is abandoned and reported rather than
	// rescheduled in place on every tick.
	if !j.Target.Broadcast && len(plan.Deferred) > 0 {
		until := plan.Deferred[0].Until
		switch err := d.queue.Defer(ctx, j.ID, until); {
		case errors.Is(err, ErrDeferExhausted):
			_ = d.queue.MarkDead(ctx, j.ID)
			d.reportDead(j, j.Target.Recipient, err)
			return
		case err != nil:
			d.log.Error("defer failed", logx.String("job_id", j.ID), logx.Err(err))
		}
		d.publish(eventbus.TypeJobDeferred, j, j.Target.Recipient)
		return
	}

	// A broadcast splits: suppressed recipients become per-recipient jobs at
	// their window end, the rest are sent now.
	for _, df := range plan.Deferred {
		child := childJob(j, df.Recipient, df.Until, 0)
		if _, _, err := d.queue.Enqueue(ctx, child); err != nil {
			d.log.Error("deferred child enqueue failed",
				logx.String("job_id", j.ID), logx.Int64("recipient", df.Recipient), logx.Err(err))
			continue
		}
		d.publish(eventbus.TypeJobDeferred, j, df.Recipient)
	}

	var (
		retries   []retryTarget
		permanent bool
	)
	for _, ps := range plan.Immediate {
		outcome, err := d.send(ctx, ps.Recipient, ps.Text)
		d.recordAttempt(ctx, j, ps.Recipient, outcome, err)
		switch outcome {
		case OutcomeSuccess:
		case OutcomePermanent:
			permanent = true
			d.reportDead(j, ps.Recipient, err)
		case OutcomeRetryable:
			retries = append(retries, retryTarget{recipient: ps.Recipient, retryAfter: transport.RetryAfter(err)})
		}
	}

	if !j.Target.Broadcast {
		d.finishSingle(ctx, j, retries, permanent)
		return
	}
	d.finishBroadcast(ctx, j, retries)
}

func (d *Dispatcher) finishSingle(ctx context.Context, j *Job, retries []retryTarget, permanent bool) {
	if permanent {
		// The pair is dead; reported when the outcome came back.
		_ = d.queue.MarkDead(ctx, j.ID)
		return
	}
	if len(retries) == 0 {
		_ = d.queue.Complete(ctx, j.ID)
		d.publish(eventbus.TypeJobDelivered, j, j.Target.Recipient)
		return
	}

	attempts := j.Attempts + 1
	if attempts > j.MaxAttempts {
		_ = d.queue.MarkDead(ctx, j.ID)
		d.reportExhausted(j, j.Target.Recipient)
		return
	}
	at := d.nextAttemptAt(attempts, retries[0].retryAfter)
	if err := d.queue.Requeue(ctx, j.ID, at, attempts); err != nil {
		d.log.Error("requeue failed", logx.String("job_id", j.ID), logx.Err(err))
		return
	}
	d.publish(eventbus.TypeJobRequeued, j, j.Target.Recipient)
}

func (d *Dispatcher) finishBroadcast(ctx context.Context, j *Job, retries []retryTarget) {
	attempts := j.Attempts + 1
	for _, rt := range retries {
		if attempts > j.MaxAttempts {
			d.reportExhausted(j, rt.recipient)
			continue
		}
		at := d.nextAttemptAt(attempts, rt.retryAfter)
		child := childJob(j, rt.recipient, at, attempts)
		if _, _, err := d.queue.Enqueue(ctx, child); err != nil {
			d.log.Error("retry child enqueue failed",
				logx.String("job_id", j.ID), logx.Int64("recipient", rt.recipient), logx.Err(err))
			continue
		}
		d.publish(eventbus.TypeJobRequeued, j, rt.recipient)
	}

	// The parent's fan-out is fully dispatched: every recipient is delivered,
	// dead (reported), or carried by its own child job.
	_ = d.queue.Complete(ctx, j.ID)
	d.publish(eventbus.TypeJobDelivered, j, 0)
}

func (d *Dispatcher) nextAttemptAt(attempts int, retryAfter time.Duration) time.Time {
	cfg, _ := d.snapshot()
	delay := jitterDelay(backoffDelay(cfg.RetryBase, cfg.RetryMaxDelay, attempts))
	if retryAfter > delay {
		delay = retryAfter
	}
	return d.clock().Add(delay)
}

func (d *Dispatcher) send(ctx context.Context, recipient int64, text string) (Outcome, error) {
	cfg, limiter := d.snapshot()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return OutcomeRetryable, &transport.TransientError{Err: err}
		}
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	_, err := d.adapter.SendText(cctx, recipient, text, &transport.SendOptions{DisablePreview: true})
	if err == nil {
		return OutcomeSuccess, nil
	}
	if transport.IsPermanent(err) {
		return OutcomePermanent, err
	}
	return OutcomeRetryable, err
}

func (d *Dispatcher) recordAttempt(ctx context.Context, j *Job, recipient int64, outcome Outcome, sendErr error) {
	detail := ""
	if sendErr != nil {
		detail = sendErr.Error()
	}
	rec := storage.AttemptRecord{
		JobID:     j.ID,
		Recipient: recipient,
		At:        d.clock(),
		Outcome:   string(outcome),
		Detail:    detail,
	}
	if err := d.store.AppendAttempt(ctx, rec); err != nil {
		d.log.Warn("attempt record write failed",
			logx.String("job_id", j.ID), logx.Int64("recipient", recipient), logx.Err(err))
	}
	if outcome != OutcomeSuccess {
		d.log.Warn("send failed",
			logx.String("job_id", j.ID), logx.Int64("recipient", recipient),
			logx.String("kind", string(j.Kind)), logx.String("outcome", string(outcome)), logx.Err(sendErr))
	}
}

func (d *Dispatcher) reportDead(j *Job, recipient int64, err error) {
	reason := "permanent transport failure"
	if err != nil {
		reason = err.Error()
	}
	d.log.Error("job recipient dead",
		logx.String("job_id", j.ID), logx.Int64("recipient", recipient),
		logx.String("kind", string(j.Kind)), logx.String("reason", reason))
	d.publishDead(j, recipient, reason)
}

func (d *Dispatcher) reportExhausted(j *Job, recipient int64) {
	d.log.Error("job retries exhausted",
		logx.String("job_id", j.ID), logx.Int64("recipient", recipient),
		logx.String("kind", string(j.Kind)), logx.Int("max_attempts", j.MaxAttempts))
	d.publishDead(j, recipient, "retries exhausted")
}

func (d *Dispatcher) publishDead(j *Job, recipient int64, reason string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{
		Type: eventbus.TypeJobDead,
		Data: JobEvent{JobID: j.ID, Recipient: recipient, Kind: j.Kind, Attempts: j.Attempts, Reason: reason},
	})
}

func (d *Dispatcher) publish(typ string, j *Job, recipient int64) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: JobEvent{JobID: j.ID, Recipient: recipient, Kind: j.Kind, Attempts: j.Attempts}})
}
