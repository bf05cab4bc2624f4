package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "sprintbot/pkg/logx"
)

// Store is the row-oriented persistence API used by the notification engine.
//
// Writes must be durable before they return: the engine treats a returned nil
// as "committed" and will not replay the operation after a restart.
type Store interface {
	UpsertSubscriber(ctx context.Context, rec SubscriberRecord) error
	ListSubscribers(ctx context.Context) ([]SubscriberRecord, error)

	PutJob(ctx context.Context, rec JobRecord) error
	ListJobs(ctx context.Context, states ...string) ([]JobRecord, error)
	PruneJobs(ctx context.Context, states []string, olderThan time.Time) (int, error)

	AppendAttempt(ctx context.Context, rec AttemptRecord) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
