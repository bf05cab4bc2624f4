package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sprintbot/internal/storage"
	logx "sprintbot/pkg/logx"
)

func testQueue(t *testing.T, cfg QueueConfig) (*Queue, *storage.Memory, func() time.Time) {
	t.Helper()
	store := storage.NewMemory()
	q := NewQueue(cfg, store, logx.Nop())
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return base })
	return q, store, func() time.Time { return base }
}

func TestDequeueOrder(t *testing.T) {
	t.Parallel()
	q, _, now := testQueue(t, QueueConfig{})
	ctx := context.Background()

	// Enqueued out of schedule order; dequeue must come back sorted by
	// scheduled_for with ties broken by enqueue order.
	mk := func(text string, offset time.Duration) string {
		id, existing, err := q.Enqueue(ctx, &Job{
			Kind:         KindBroadcastText,
			Target:       SingleTarget(1),
			Text:         text,
			ScheduledFor: now().Add(offset),
		})
		if err != nil {
			t.Fatalf("enqueue %s: %v", text, err)
		}
		if existing {
			t.Fatalf("enqueue %s reported duplicate", text)
		}
		return id
	}
	first := mk("first", -3*time.Minute)
	third := mk("third", -1*time.Minute)
	second := mk("second", -2*time.Minute)

	due := q.DequeueDue(ctx, now())
	if len(due) != 3 {
		t.Fatalf("due = %d jobs, want 3", len(due))
	}
	got := []string{due[0].ID, due[1].ID, due[2].ID}
	want := []string{first, second, third}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dequeue order = %v, want %v", got, want)
		}
	}
	for _, j := range due {
		if j.State != StateInFlight {
			t.Fatalf("claimed job %s state = %s, want in_flight", j.ID, j.State)
		}
	}
}

func TestDequeueSkipsFuture(t *testing.T) {
	t.Parallel()
	q, _, now := testQueue(t, QueueConfig{})
	ctx := context.Background()

	if _, _, err := q.Enqueue(ctx, &Job{
		Kind:         KindReminder,
		Target:       BroadcastTarget(),
		Text:         "later",
		ScheduledFor: now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if due := q.DequeueDue(ctx, now()); len(due) != 0 {
		t.Fatalf("future job claimed: %d jobs", len(due))
	}
	if due := q.DequeueDue(ctx, now().Add(2*time.Hour)); len(due) != 1 {
		t.Fatalf("job not claimed after it became due")
	}
}

func TestEnqueueDedup(t *testing.T) {
	t.Parallel()
	q, _, _ := testQueue(t, QueueConfig{})
	ctx := context.Background()

	job := func() *Job {
		return &Job{Kind: KindNewResult, Target: BroadcastTarget(), Text: "result", DedupKey: "result|7|2026-03-10"}
	}
	id1, existing, err := q.Enqueue(ctx, job())
	if err != nil || existing {
		t.Fatalf("first enqueue: id=%s existing=%v err=%v", id1, existing, err)
	}
	id2, existing, err := q.Enqueue(ctx, job())
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if !existing || id2 != id1 {
		t.Fatalf("duplicate not collapsed: id1=%s id2=%s existing=%v", id1, id2, existing)
	}

	// Same key, different target: separate job.
	id3, existing, err := q.Enqueue(ctx, &Job{Kind: KindNewResult, Target: SingleTarget(5), Text: "result", DedupKey: "result|7|2026-03-10"})
	if err != nil || existing || id3 == id1 {
		t.Fatalf("distinct target collapsed: id3=%s existing=%v err=%v", id3, existing, err)
	}
}

func TestEnqueueDedupIgnoresDead(t *testing.T) {
	t.Parallel()
	q, _, _ := testQueue(t, QueueConfig{})
	ctx := context.Background()

	id1, _, err := q.Enqueue(ctx, &Job{Kind: KindBroadcastText, Target: SingleTarget(1), Text: "x", DedupKey: "k"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.MarkDead(ctx, id1); err != nil {
		t.Fatalf("mark dead: %v", err)
	}

	id2, existing, err := q.Enqueue(ctx, &Job{Kind: KindBroadcastText, Target: SingleTarget(1), Text: "x", DedupKey: "k"})
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if existing || id2 == id1 {
		t.Fatal("dead job blocked re-notification")
	}
}

func TestEnqueueDedupDeliveredStillCollapses(t *testing.T) {
	t.Parallel()
	q, _, _ := testQueue(t, QueueConfig{})
	ctx := context.Background()

	id1, _, err := q.Enqueue(ctx, &Job{Kind: KindReminder, Target: BroadcastTarget(), Text: "r", DedupKey: "reminder|run"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Complete(ctx, id1); err != nil {
		t.Fatalf("complete: %v", err)
	}

	id2, existing, err := q.Enqueue(ctx, &Job{Kind: KindReminder, Target: BroadcastTarget(), Text: "r", DedupKey: "reminder|run"})
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if !existing || id2 != id1 {
		t.Fatal("delivered job inside the horizon should still collapse duplicates")
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	q, _, _ := testQueue(t, QueueConfig{})
	ctx := context.Background()

	if _, _, err := q.Enqueue(ctx, &Job{Kind: KindBroadcastText, Target: SingleTarget(1)}); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty text: err = %v, want ErrValidation", err)
	}
	if _, _, err := q.Enqueue(ctx, &Job{Kind: KindBroadcastText, Target: SingleTarget(0), Text: "x"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero recipient: err = %v, want ErrValidation", err)
	}
}

func TestDeferForwardOnlyAndCap(t *testing.T) {
	t.Parallel()
	q, _, now := testQueue(t, QueueConfig{DeferMax: 24 * time.Hour})
	ctx := context.Background()

	id, _, err := q.Enqueue(ctx, &Job{Kind: KindBroadcastText, Target: SingleTarget(1), Text: "x"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Backward deferral is a no-op.
	if err := q.Defer(ctx, id, now().Add(-time.Hour)); err != nil {
		t.Fatalf("backward defer: %v", err)
	}
	if next, ok := q.NextDue(); !ok || !next.Equal(now()) {
		t.Fatalf("backward defer moved schedule to %v", next)
	}

	// Forward deferral moves the schedule.
	until := now().Add(2 * time.Hour)
	if err := q.Defer(ctx, id, until); err != nil {
		t.Fatalf("defer: %v", err)
	}
	if next, ok := q.NextDue(); !ok || !next.Equal(until) {
		t.Fatalf("NextDue = %v, want %v", next, until)
	}

	// Total postponement is capped at CreatedAt + DeferMax.
	if err := q.Defer(ctx, id, now().Add(48*time.Hour)); err != nil {
		t.Fatalf("capped defer: %v", err)
	}
	capAt := now().Add(24 * time.Hour)
	if next, ok := q.NextDue(); !ok || !next.Equal(capAt) {
		t.Fatalf("NextDue = %v, want cap %v", next, capAt)
	}

	// At the cap there is nowhere forward to go; the caller has to resolve
	// the job, not reschedule it in place.
	if err := q.Defer(ctx, id, now().Add(72*time.Hour)); !errors.Is(err, ErrDeferExhausted) {
		t.Fatalf("defer past cap = %v, want ErrDeferExhausted", err)
	}
	if next, ok := q.NextDue(); !ok || !next.Equal(capAt) {
		t.Fatalf("exhausted defer moved schedule to %v", next)
	}
}

type slowStore struct {
	*storage.Memory
	delay time.Duration
}

func (s *slowStore) PutJob(ctx context.Context, rec storage.JobRecord) error {
	time.Sleep(s.delay)
	return s.Memory.PutJob(ctx, rec)
}

func TestEnqueueDedupConcurrent(t *testing.T) {
	t.Parallel()
	store := &slowStore{Memory: storage.NewMemory(), delay: 50 * time.Millisecond}
	q := NewQueue(QueueConfig{}, store, logx.Nop())
	ctx := context.Background()

	// Two producers race the same dedup key against a slow store; exactly
	// one job may exist afterwards.
	var (
		wg       sync.WaitGroup
		ids      [2]string
		existing [2]bool
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, ex, err := q.Enqueue(ctx, &Job{
				Kind:     KindBroadcastText,
				Target:   SingleTarget(1),
				Text:     "x",
				DedupKey: "race",
			})
			if err != nil {
				t.Errorf("enqueue %d: %v", i, err)
			}
			ids[i], existing[i] = id, ex
		}(i)
	}
	wg.Wait()

	if ids[0] != ids[1] {
		t.Fatalf("concurrent enqueues got distinct ids %q and %q", ids[0], ids[1])
	}
	if existing[0] == existing[1] {
		t.Fatalf("existing = %v, want exactly one duplicate", existing)
	}
	if n := q.PendingCount(); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
}

func TestLoadResumesInFlight(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	// A previous process crashed with one claimed job and three pending.
	for i, state := range []State{StatePending, StatePending, StatePending, StateInFlight} {
		rec := storage.JobRecord{
			ID:           string(rune('a' + i)),
			Seq:          int64(i),
			Kind:         string(KindBroadcastText),
			State:        string(state),
			Recipient:    int64(i + 1),
			Text:         "x",
			CreatedAt:    base,
			ScheduledFor: base,
			MaxAttempts:  5,
		}
		if err := store.PutJob(ctx, rec); err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}

	q := NewQueue(QueueConfig{}, store, logx.Nop())
	q.SetClock(func() time.Time { return base })
	if err := q.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := q.PendingCount(); got != 4 {
		t.Fatalf("pending after load = %d, want 4 (in_flight resumed)", got)
	}
	if due := q.DequeueDue(ctx, base); len(due) != 4 {
		t.Fatalf("due after load = %d, want 4", len(due))
	}
}

type failingStore struct {
	*storage.Memory
	fail bool
}

func (f *failingStore) PutJob(ctx context.Context, rec storage.JobRecord) error {
	if f.fail {
		return errors.New("disk on fire")
	}
	return f.Memory.PutJob(ctx, rec)
}

func TestQueueDegradesOnStorageFailure(t *testing.T) {
	t.Parallel()
	store := &failingStore{Memory: storage.NewMemory()}
	q := NewQueue(QueueConfig{PersistRetries: 1, PersistRetryBase: time.Millisecond}, store, logx.Nop())
	ctx := context.Background()

	store.fail = true
	id, _, err := q.Enqueue(ctx, &Job{Kind: KindBroadcastText, Target: SingleTarget(1), Text: "x"})
	if err != nil {
		t.Fatalf("enqueue during outage should commit in memory: %v", err)
	}
	if !q.Degraded() {
		t.Fatal("queue should report degraded after persist failure")
	}
	if due := q.DequeueDue(ctx, q.clock()); len(due) != 1 || due[0].ID != id {
		t.Fatal("degraded queue should keep serving from memory")
	}

	// Storage recovers; the next write clears the flag.
	store.fail = false
	if err := q.Complete(ctx, id); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if q.Degraded() {
		t.Fatal("queue should recover once writes succeed")
	}
}
