package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"sprintbot/internal/eventbus"
	"sprintbot/internal/runtime/supervisor"
	"sprintbot/internal/storage"
	"sprintbot/internal/transport"
	logx "sprintbot/pkg/logx"
)

// Config assembles the engine.
type Config struct {
	Queue      QueueConfig
	Dispatcher DispatcherConfig

	// MaxAttempts is the per-job retry cap applied to new jobs.
	MaxAttempts int

	// QuietDefault applies to recipients without a per-chat override.
	// Zero value = no global quiet hours.
	QuietDefault Window

	Reminder ReminderPlan

	// OperatorChat receives admin alerts and dead-job reports.
	OperatorChat int64

	ShutdownGrace time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 15 * time.Second
	}
}

// Service is the producer-facing API of the notification engine.
type Service struct {
	cfg Config
	log logx.Logger

	store      storage.Store
	registry   *Registry
	queue      *Queue
	planner    *Planner
	dispatcher *Dispatcher
	alerter    *Alerter
	bus        eventbus.Bus

	clock func() time.Time

	mu        sync.Mutex
	sup       *supervisor.Supervisor
	accepting bool
}

func New(cfg Config, store storage.Store, adapter transport.Adapter, bus eventbus.Bus, log logx.Logger) *Service {
	cfg.setDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}

	registry := NewRegistry(store, log.With(logx.String("comp", "registry")))
	queue := NewQueue(cfg.Queue, store, log.With(logx.String("comp", "queue")))
	quiet := NewQuietPolicy(cfg.QuietDefault, registry)
	planner := NewPlanner(registry.ListActive, quiet)
	dispatcher := NewDispatcher(cfg.Dispatcher, queue, planner, adapter, store, bus,
		log.With(logx.String("comp", "dispatcher")))
	alerter := NewAlerter(AlerterConfig{OperatorChat: cfg.OperatorChat}, adapter,
		log.With(logx.String("comp", "alerter")))

	return &Service{
		cfg:        cfg,
		log:        log,
		store:      store,
		registry:   registry,
		queue:      queue,
		planner:    planner,
		dispatcher: dispatcher,
		alerter:    alerter,
		bus:        bus,
		clock:      time.Now,
	}
}

// SetClock injects a fake clock for tests; it propagates to the queue and
// dispatcher.
func (s *Service) SetClock(clock func() time.Time) {
	s.clock = clock
	s.queue.SetClock(clock)
	s.dispatcher.SetClock(clock)
}

// Registry exposes the subscriber registry (command handlers use it).
func (s *Service) Registry() *Registry { return s.registry }

// ApplyDispatcher updates the live delivery knobs (workers, rate, timeouts).
// Queue and quiet-hour settings are startup-only.
func (s *Service) ApplyDispatcher(cfg DispatcherConfig) {
	s.dispatcher.Apply(cfg)
}

// Startup loads durable state and starts the delivery loops. A storage
// failure here is fatal: refusing to serve beats silently dropping
// subscriber or job state.
func (s *Service) Startup(ctx context.Context) error {
	if err := s.registry.Load(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	if err := s.queue.Load(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	s.accepting = true
	sup := supervisor.New(ctx, supervisor.WithLogger(s.log))
	sup.GoRestart("dispatcher", s.dispatcher.Run, 500*time.Millisecond, 10*time.Second)
	sup.Go0("alerter", func(c context.Context) { s.alerter.Run(c, s.bus) })
	sup.Go("reminder", s.reminderLoop)
	s.sup = sup

	s.log.Info("notification engine started",
		logx.Int("subscribers", len(s.registry.ListActive())),
		logx.Int("pending_jobs", s.queue.PendingCount()),
		logx.String("reminder_plan", s.cfg.Reminder.Describe()))
	return nil
}

// Shutdown stops claiming new due jobs and drains in-flight sends up to the
// configured grace period.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.accepting = false
	s.mu.Unlock()
	if sup == nil {
		return nil
	}

	grace := s.cfg.ShutdownGrace
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	dctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := sup.Stop(dctx)
	s.log.Info("notification engine stopped")
	return err
}

func (s *Service) checkAccepting() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepting {
		return ErrStopped
	}
	return nil
}

// ---- Producer API ----

// Subscribe opts a chat into notifications. Idempotent.
func (s *Service) Subscribe(ctx context.Context, chatID int64) error {
	_, err := s.registry.Subscribe(ctx, chatID)
	return err
}

// Unsubscribe opts a chat out. Idempotent; in-flight sends to the chat may
// still complete, but it is excluded from any not-yet-planned fan-out.
func (s *Service) Unsubscribe(ctx context.Context, chatID int64) error {
	_, err := s.registry.Unsubscribe(ctx, chatID)
	return err
}

func (s *Service) IsSubscribed(chatID int64) bool { return s.registry.IsSubscribed(chatID) }

// SetQuietHours stores a per-chat quiet window ("HH:MM" boundaries, IANA tz).
func (s *Service) SetQuietHours(ctx context.Context, chatID int64, start, end, tz string) error {
	return s.registry.SetQuietHours(ctx, chatID, start, end, tz)
}

// NotifyNewResult broadcasts a freshly logged sprint result to subscribers
// (minus the actor) and, when the result sets personal records, additionally
// sends PR summaries to the athlete and trainer chats.
func (s *Service) NotifyNewResult(ctx context.Context, ev ResultEvent) error {
	if err := s.checkAccepting(); err != nil {
		return err
	}
	if ev.AthleteName == "" || ev.Dist <= 0 || ev.Total <= 0 {
		return fmt.Errorf("%w: result event missing athlete/dist/total", ErrValidation)
	}

	job := &Job{
		Kind:        KindNewResult,
		Target:      BroadcastTarget(),
		Text:        renderResult(ev),
		Exclude:     []int64{ev.ActorID},
		MaxAttempts: s.cfg.MaxAttempts,
		DedupKey:    dedupHash("result", strconv.FormatInt(ev.AthleteID, 10), ev.Timestamp),
	}
	if id, existing, err := s.queue.Enqueue(ctx, job); err != nil {
		return err
	} else if existing {
		s.log.Debug("duplicate result notification collapsed",
			logx.Int64("athlete_id", ev.AthleteID), logx.String("timestamp", ev.Timestamp))
	} else {
		s.publishEnqueued(id, job)
	}

	if !ev.hasPR() {
		return nil
	}
	return s.NotifyNewPR(ctx, ev)
}

// NotifyNewPR sends PR summaries for a result to the athlete and trainer
// chats, excluding the actor who logged it.
func (s *Service) NotifyNewPR(ctx context.Context, ev ResultEvent) error {
	if err := s.checkAccepting(); err != nil {
		return err
	}
	if !ev.hasPR() {
		return fmt.Errorf("%w: event carries no PR", ErrValidation)
	}

	targets := map[int64]bool{ev.AthleteID: true}
	for _, t := range ev.Trainers {
		targets[t] = true
	}
	delete(targets, ev.ActorID)
	if len(targets) == 0 {
		return nil
	}

	text := renderPRSummary(ev)
	for chatID := range targets {
		job := &Job{
			Kind:        KindNewPR,
			Target:      SingleTarget(chatID),
			Text:        text,
			MaxAttempts: s.cfg.MaxAttempts,
			DedupKey:    dedupHash("pr", strconv.FormatInt(ev.AthleteID, 10), ev.Timestamp),
		}
		id, existing, err := s.queue.Enqueue(ctx, job)
		if err != nil {
			return err
		}
		if !existing {
			s.publishEnqueued(id, job)
		}
	}
	return nil
}

// BroadcastText sends arbitrary text to every subscriber. The dedup key
// rounds the enqueue time to the minute to absorb accidental double calls.
// Returns the job id.
func (s *Service) BroadcastText(ctx context.Context, text string, exclude ...int64) (string, error) {
	if err := s.checkAccepting(); err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty broadcast text", ErrValidation)
	}
	job := &Job{
		Kind:        KindBroadcastText,
		Target:      BroadcastTarget(),
		Text:        text,
		Exclude:     exclude,
		MaxAttempts: s.cfg.MaxAttempts,
		DedupKey:    dedupHash("broadcast", text, s.clock().Truncate(time.Minute).Format(time.RFC3339)),
	}
	id, existing, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		return "", err
	}
	if existing {
		s.log.Debug("duplicate broadcast collapsed", logx.String("job_id", id))
	} else {
		s.publishEnqueued(id, job)
	}
	return id, nil
}

// AdminAlert enqueues an operational alert to the operator chat. Alerts are
// urgent: they bypass quiet hours, and exhausting their retries escalates
// through the alerter's direct path instead of re-enqueueing.
func (s *Service) AdminAlert(ctx context.Context, text string) error {
	if err := s.checkAccepting(); err != nil {
		return err
	}
	if text == "" {
		return fmt.Errorf("%w: empty alert text", ErrValidation)
	}
	if s.cfg.OperatorChat == 0 {
		return fmt.Errorf("%w: no operator chat configured", ErrValidation)
	}
	job := &Job{
		Kind:        KindAdminAlert,
		Target:      SingleTarget(s.cfg.OperatorChat),
		Text:        "🚨 " + text,
		MaxAttempts: s.cfg.MaxAttempts,
		DedupKey:    dedupHash("admin", text, s.clock().Truncate(time.Minute).Format(time.RFC3339)),
	}
	id, existing, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		return err
	}
	if !existing {
		s.publishEnqueued(id, job)
	}
	return nil
}

func (s *Service) publishEnqueued(id string, j *Job) {
	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeJobEnqueued,
		Data: JobEvent{JobID: id, Recipient: j.Target.Recipient, Kind: j.Kind},
	})
}

// NextSprintRun returns the next instant the sprint reminder fires. Pure
// read of the configured schedule, no side effects.
func (s *Service) NextSprintRun() (time.Time, error) {
	plan := s.cfg.Reminder
	return plan.Next(s.clock())
}

// DescribeSchedule returns a human-readable reminder plan summary.
func (s *Service) DescribeSchedule() string { return s.cfg.Reminder.Describe() }

// reminderLoop enqueues a reminder broadcast at every planned firing. The
// dedup key is derived from the firing instant, so a restart around a run
// cannot double-send inside the 24h reminder horizon.
func (s *Service) reminderLoop(ctx context.Context) error {
	plan := s.cfg.Reminder
	for {
		next, err := plan.Next(s.clock())
		if err != nil {
			s.log.Warn("reminder schedule invalid; reminders disabled", logx.Err(err))
			return nil
		}

		wait := next.Sub(s.clock())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		job := &Job{
			Kind:        KindReminder,
			Target:      BroadcastTarget(),
			Text:        renderReminder(next),
			MaxAttempts: s.cfg.MaxAttempts,
			DedupKey:    dedupHash("reminder", next.Format(time.RFC3339)),
		}
		if id, existing, err := s.queue.Enqueue(ctx, job); err != nil {
			s.log.Error("reminder enqueue failed", logx.Err(err))
		} else if !existing {
			s.publishEnqueued(id, job)
			s.log.Info("sprint reminder enqueued", logx.Time("run", next))
		}
	}
}
