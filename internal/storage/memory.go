package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local Store used by tests and ephemeral runs.
// It applies the same ordering guarantees as the sqlite driver.
type Memory struct {
	mu       sync.Mutex
	subs     map[int64]SubscriberRecord
	jobs     map[string]JobRecord
	attempts []AttemptRecord
}

func NewMemory() *Memory {
	return &Memory{
		subs: map[int64]SubscriberRecord{},
		jobs: map[string]JobRecord{},
	}
}

func (m *Memory) UpsertSubscriber(ctx context.Context, rec SubscriberRecord) error {
	m.mu.Lock()
	m.subs[rec.ChatID] = rec
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListSubscribers(ctx context.Context) ([]SubscriberRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SubscriberRecord, 0, len(m.subs))
	for _, rec := range m.subs {
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory) PutJob(ctx context.Context, rec JobRecord) error {
	m.mu.Lock()
	if old, ok := m.jobs[rec.ID]; ok {
		// Upsert semantics: only mutable fields change.
		old.State = rec.State
		old.ScheduledFor = rec.ScheduledFor
		old.Attempts = rec.Attempts
		m.jobs[rec.ID] = old
	} else {
		rec.Exclude = append([]int64(nil), rec.Exclude...)
		m.jobs[rec.ID] = rec
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListJobs(ctx context.Context, states ...string) ([]JobRecord, error) {
	want := map[string]bool{}
	for _, s := range states {
		want[s] = true
	}
	m.mu.Lock()
	out := make([]JobRecord, 0, len(m.jobs))
	for _, rec := range m.jobs {
		if len(want) > 0 && !want[rec.State] {
			continue
		}
		out = append(out, rec)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *Memory) PruneJobs(ctx context.Context, states []string, olderThan time.Time) (int, error) {
	want := map[string]bool{}
	for _, s := range states {
		want[s] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.jobs {
		if want[rec.State] && rec.CreatedAt.Before(olderThan) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) AppendAttempt(ctx context.Context, rec AttemptRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	m.mu.Lock()
	m.attempts = append(m.attempts, rec)
	m.mu.Unlock()
	return nil
}

// Attempts returns a snapshot of the recorded attempts (test helper).
func (m *Memory) Attempts() []AttemptRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AttemptRecord(nil), m.attempts...)
}

func (m *Memory) Close() error { return nil }
