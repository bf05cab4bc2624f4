package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sprintbot/internal/storage"
	logx "sprintbot/pkg/logx"
)

// QueueConfig tunes the durable backlog.
type QueueConfig struct {
	// DedupHorizon collapses repeated enqueues of the same (dedup_key, target)
	// within this window. Per-kind overrides take precedence; reminders default
	// to their natural 24h repeat interval.
	DedupHorizon time.Duration
	KindHorizons map[Kind]time.Duration

	// DeferMax caps total postponement of one job. A recipient whose quiet
	// hours would push past this is a configuration error to surface, not a
	// schedule to honor indefinitely.
	DeferMax time.Duration

	// Storage write retries during steady state. Startup failures are fatal
	// upstream; here we retry briefly and then degrade.
	PersistRetries   int
	PersistRetryBase time.Duration
}

func (c *QueueConfig) setDefaults() {
	if c.DedupHorizon <= 0 {
		c.DedupHorizon = time.Hour
	}
	if c.KindHorizons == nil {
		c.KindHorizons = map[Kind]time.Duration{KindReminder: 24 * time.Hour}
	}
	if c.DeferMax <= 0 {
		c.DeferMax = 24 * time.Hour
	}
	if c.PersistRetries <= 0 {
		c.PersistRetries = 3
	}
	if c.PersistRetryBase <= 0 {
		c.PersistRetryBase = 100 * time.Millisecond
	}
}

func (c *QueueConfig) horizonFor(kind Kind) time.Duration {
	if d, ok := c.KindHorizons[kind]; ok && d > 0 {
		return d
	}
	return c.DedupHorizon
}

// Queue is the durable backlog of pending jobs.
//
// The in-memory map is a cache; storage is the source of truth, rebuilt by
// Load at startup. Every enqueue/defer/complete persists before it is
// considered committed, so a crash loses at most an in-flight dequeue batch,
// which Load re-reads as pending.
type Queue struct {
	cfg   QueueConfig
	store storage.Store
	log   logx.Logger
	clock func() time.Time

	mu       sync.Mutex
	jobs     map[string]*Job
	seq      int64
	degraded bool
	ops      uint64

	wake chan struct{}
}

func NewQueue(cfg QueueConfig, store storage.Store, log logx.Logger) *Queue {
	cfg.setDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{
		cfg:   cfg,
		store: store,
		log:   log,
		clock: time.Now,
		jobs:  map[string]*Job{},
		wake:  make(chan struct{}, 1),
	}
}

// SetClock injects a fake clock for tests.
func (q *Queue) SetClock(clock func() time.Time) { q.clock = clock }

// Wake signals whenever a job becomes due sooner than the scheduler's
// current wait target.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Load rebuilds the backlog from storage. Jobs found in flight were claimed
// by a previous process that never completed them; they reload as pending so
// the at-least-once contract holds.
func (q *Queue) Load(ctx context.Context) error {
	recs, err := q.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("queue load: %w", err)
	}
	now := q.clock()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = map[string]*Job{}
	q.seq = 0
	resumed := 0
	for _, rec := range recs {
		j := jobFromRecord(rec)
		if j.Seq >= q.seq {
			q.seq = j.Seq + 1
		}
		if j.State.Terminal() {
			// Retain through the dedup horizon, then drop from the cache.
			if now.Sub(j.CreatedAt) < q.cfg.horizonFor(j.Kind) {
				q.jobs[j.ID] = j
			}
			continue
		}
		if j.State == StateInFlight {
			j.State = StatePending
			if err := q.store.PutJob(ctx, j.record()); err != nil {
				return fmt.Errorf("queue load: resume job %s: %w", j.ID, err)
			}
			resumed++
		}
		q.jobs[j.ID] = j
	}
	q.log.Info("notification queue loaded",
		logx.Int("jobs", len(q.jobs)), logx.Int("resumed_in_flight", resumed))
	q.signal()
	return nil
}

// Enqueue adds a job to the backlog and returns its id.
//
// A duplicate (dedup_key, target) inside the dedup horizon is not an error:
// the existing job's id is returned with existing=true and nothing is
// written.
func (q *Queue) Enqueue(ctx context.Context, j *Job) (id string, existing bool, err error) {
	if j == nil || j.Text == "" {
		return "", false, fmt.Errorf("%w: empty job text", ErrValidation)
	}
	if !j.Target.Broadcast && j.Target.Recipient == 0 {
		return "", false, fmt.Errorf("%w: single target without recipient", ErrValidation)
	}
	now := q.clock()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.ScheduledFor.IsZero() {
		j.ScheduledFor = now
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 5
	}

	q.mu.Lock()
	if j.DedupKey != "" {
		horizon := q.cfg.horizonFor(j.Kind)
		scope := j.dedupScope()
		for _, other := range q.jobs {
			// Dead jobs don't block re-notification.
			if other.State == StateDead {
				continue
			}
			if other.dedupScope() == scope && now.Sub(other.CreatedAt) < horizon {
				id := other.ID
				q.mu.Unlock()
				return id, true, nil
			}
		}
	}
	j.ID = uuid.NewString()
	j.Seq = q.seq
	q.seq++
	j.State = StatePending
	// Insert before releasing the lock so a concurrent duplicate enqueue
	// sees this job in its dedup scan; persist happens outside the lock.
	q.jobs[j.ID] = j
	q.mu.Unlock()

	q.persist(ctx, j)
	q.signal()
	q.maybePrune(ctx)
	return j.ID, false, nil
}

// DequeueDue claims pending jobs with scheduled_for <= now, ordered by
// scheduled_for ascending with ties broken by creation order, so
// older-scheduled notifications are never starved. Claimed jobs transition
// to in_flight.
func (q *Queue) DequeueDue(ctx context.Context, now time.Time) []*Job {
	q.mu.Lock()
	var due []*Job
	for _, j := range q.jobs {
		if j.State == StatePending && !j.ScheduledFor.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if !due[i].ScheduledFor.Equal(due[k].ScheduledFor) {
			return due[i].ScheduledFor.Before(due[k].ScheduledFor)
		}
		return due[i].Seq < due[k].Seq
	})
	for _, j := range due {
		j.State = StateInFlight
	}
	q.mu.Unlock()

	for _, j := range due {
		q.persist(ctx, j)
	}
	return due
}

// Defer reschedules a job instead of dropping it. Deferral only moves
// forward in time and total postponement is capped at DeferMax past
// creation; hitting the cap is surfaced as a likely quiet-hours
// misconfiguration. A job already pinned at the cap cannot be deferred
// again: ErrDeferExhausted tells the caller to resolve it instead of
// rescheduling it in place forever.
func (q *Queue) Defer(ctx context.Context, id string, until time.Time) error {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok || j.State.Terminal() {
		q.mu.Unlock()
		return fmt.Errorf("defer: job %s not active", id)
	}
	if !until.After(j.ScheduledFor) {
		q.mu.Unlock()
		return nil
	}
	capAt := j.CreatedAt.Add(q.cfg.DeferMax)
	capped := false
	if until.After(capAt) {
		until = capAt
		capped = true
	}
	if capped && !until.After(j.ScheduledFor) {
		q.mu.Unlock()
		return fmt.Errorf("defer: job %s: %w", id, ErrDeferExhausted)
	}
	j.ScheduledFor = until
	j.State = StatePending
	q.mu.Unlock()

	if capped {
		q.log.Warn("deferral capped; quiet hours may cover the whole day",
			logx.String("job_id", id), logx.String("kind", string(j.Kind)), logx.Time("scheduled_for", until))
	}
	q.persist(ctx, j)
	q.signal()
	return nil
}

// Requeue returns a claimed job to pending with an updated attempt count and
// next-try time. Used by the dispatcher's retry path.
func (q *Queue) Requeue(ctx context.Context, id string, at time.Time, attempts int) error {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("requeue: unknown job %s", id)
	}
	j.State = StatePending
	j.ScheduledFor = at
	j.Attempts = attempts
	q.mu.Unlock()

	q.persist(ctx, j)
	q.signal()
	return nil
}

// Complete marks a job delivered. The record is retained through the dedup
// horizon and then pruned.
func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.finish(ctx, id, StateDelivered)
}

// MarkDead permanently abandons a job.
func (q *Queue) MarkDead(ctx context.Context, id string) error {
	return q.finish(ctx, id, StateDead)
}

func (q *Queue) finish(ctx context.Context, id string, state State) error {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("finish: unknown job %s", id)
	}
	j.State = state
	q.mu.Unlock()

	q.persist(ctx, j)
	return nil
}

// NextDue returns the earliest pending schedule time, if any.
func (q *Queue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var (
		min time.Time
		ok  bool
	)
	for _, j := range q.jobs {
		if j.State != StatePending {
			continue
		}
		if !ok || j.ScheduledFor.Before(min) {
			min = j.ScheduledFor
			ok = true
		}
	}
	return min, ok
}

// PendingCount reports backlog size (operational visibility).
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.jobs {
		if j.State == StatePending {
			n++
		}
	}
	return n
}

// Degraded reports whether a steady-state storage write has failed; the
// queue keeps serving from memory until storage recovers.
func (q *Queue) Degraded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.degraded
}

// persist writes the job through to storage with brief retries. Startup-path
// failures are fatal upstream; here a final failure degrades instead: the job
// stays committed in memory and the condition is surfaced loudly.
func (q *Queue) persist(ctx context.Context, j *Job) {
	rec := j.record()
	var err error
	delay := q.cfg.PersistRetryBase
	for attempt := 0; attempt <= q.cfg.PersistRetries; attempt++ {
		if err = q.store.PutJob(ctx, rec); err == nil {
			q.mu.Lock()
			if q.degraded {
				q.degraded = false
				q.log.Info("storage recovered; queue no longer degraded")
			}
			q.mu.Unlock()
			return
		}
		if attempt == q.cfg.PersistRetries {
			break
		}
		select {
		case <-ctx.Done():
			attempt = q.cfg.PersistRetries
		case <-time.After(delay):
			delay *= 2
		}
	}
	q.mu.Lock()
	first := !q.degraded
	q.degraded = true
	q.mu.Unlock()
	if first {
		q.log.Error("storage unavailable; queue running degraded (in-memory only)",
			logx.String("job_id", j.ID), logx.String("kind", string(j.Kind)), logx.Err(err))
	} else {
		q.log.Warn("storage write failed while degraded",
			logx.String("job_id", j.ID), logx.String("kind", string(j.Kind)), logx.Err(err))
	}
}

// maybePrune drops terminal jobs past their dedup horizon. Piggybacks on
// enqueue traffic like the usual "every N ops" pattern.
func (q *Queue) maybePrune(ctx context.Context) {
	q.mu.Lock()
	q.ops++
	run := q.ops%64 == 0
	q.mu.Unlock()
	if run {
		q.Prune(ctx)
	}
}

// Prune removes terminal jobs retained past their dedup horizon from both
// the cache and storage.
func (q *Queue) Prune(ctx context.Context) {
	now := q.clock()
	maxHorizon := q.cfg.DedupHorizon
	for _, d := range q.cfg.KindHorizons {
		if d > maxHorizon {
			maxHorizon = d
		}
	}

	q.mu.Lock()
	for id, j := range q.jobs {
		if j.State.Terminal() && now.Sub(j.CreatedAt) >= q.cfg.horizonFor(j.Kind) {
			delete(q.jobs, id)
		}
	}
	q.mu.Unlock()

	// Storage uses the widest horizon; per-kind precision only matters for
	// dedup, which is answered from the cache.
	states := []string{string(StateDelivered), string(StateDead)}
	if n, err := q.store.PruneJobs(ctx, states, now.Add(-maxHorizon)); err != nil {
		q.log.Warn("job prune failed", logx.Err(err))
	} else if n > 0 {
		q.log.Debug("pruned terminal jobs", logx.Int("count", n))
	}
}
