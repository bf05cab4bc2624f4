package storage

import (
	"time"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": process-local, for tests and ephemeral runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SubscriberRecord is one row of the subscribers collection.
// Inactive records are tombstones kept to avoid races with in-flight sends.
type SubscriberRecord struct {
	ChatID       int64
	Active       bool
	SubscribedAt time.Time
	Timezone     string
	QuietStart   string // "HH:MM" local, empty = use global default
	QuietEnd     string
}

// JobRecord is one row of the jobs collection.
// Seq is the engine-assigned creation order, used to break scheduling ties.
type JobRecord struct {
	ID           string
	Seq          int64
	Kind         string
	State        string
	Broadcast    bool
	Recipient    int64 // 0 when Broadcast
	Text         string
	Exclude      []int64
	CreatedAt    time.Time
	ScheduledFor time.Time
	Attempts     int
	MaxAttempts  int
	DedupKey     string
}

// AttemptRecord is one row of the append-only attempts collection.
type AttemptRecord struct {
	JobID     string
	Recipient int64
	At        time.Time
	Outcome   string // success | retryable_failure | permanent_failure
	Detail    string
}
