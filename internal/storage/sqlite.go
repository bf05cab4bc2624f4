package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "sprintbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertSubscriber(ctx context.Context, rec SubscriberRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(chat_id, active, subscribed_at, timezone, quiet_start, quiet_end)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   active=excluded.active,
		   subscribed_at=excluded.subscribed_at,
		   timezone=excluded.timezone,
		   quiet_start=excluded.quiet_start,
		   quiet_end=excluded.quiet_end`,
		rec.ChatID, boolInt(rec.Active), rec.SubscribedAt.UTC().Format(time.RFC3339Nano),
		rec.Timezone, rec.QuietStart, rec.QuietEnd,
	)
	return err
}

func (s *sqliteStore) ListSubscribers(ctx context.Context) ([]SubscriberRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, active, subscribed_at, timezone, quiet_start, quiet_end FROM subscribers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubscriberRecord
	for rows.Next() {
		var (
			rec    SubscriberRecord
			active int
			subAt  string
		)
		if err := rows.Scan(&rec.ChatID, &active, &subAt, &rec.Timezone, &rec.QuietStart, &rec.QuietEnd); err != nil {
			return nil, err
		}
		rec.Active = active != 0
		rec.SubscribedAt = parseTime(subAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutJob(ctx context.Context, rec JobRecord) error {
	excl, err := json.Marshal(rec.Exclude)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, seq, kind, state, broadcast, recipient, text, exclude,
		                  created_at, scheduled_for, attempts, max_attempts, dedup_key)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   state=excluded.state,
		   scheduled_for=excluded.scheduled_for,
		   attempts=excluded.attempts`,
		rec.ID, rec.Seq, rec.Kind, rec.State, boolInt(rec.Broadcast), rec.Recipient, rec.Text, string(excl),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.ScheduledFor.UTC().Format(time.RFC3339Nano),
		rec.Attempts, rec.MaxAttempts, rec.DedupKey,
	)
	return err
}

func (s *sqliteStore) ListJobs(ctx context.Context, states ...string) ([]JobRecord, error) {
	q := `SELECT id, seq, kind, state, broadcast, recipient, text, exclude,
	             created_at, scheduled_for, attempts, max_attempts, dedup_key
	      FROM jobs`
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		q += ` WHERE state IN (?` + strings.Repeat(",?", len(states)-1) + `)`
		for _, st := range states {
			args = append(args, st)
		}
	}
	q += ` ORDER BY scheduled_for, seq`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var (
			rec                JobRecord
			broadcast          int
			excl               string
			createdAt, schedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Seq, &rec.Kind, &rec.State, &broadcast, &rec.Recipient,
			&rec.Text, &excl, &createdAt, &schedAt, &rec.Attempts, &rec.MaxAttempts, &rec.DedupKey); err != nil {
			return nil, err
		}
		rec.Broadcast = broadcast != 0
		rec.CreatedAt = parseTime(createdAt)
		rec.ScheduledFor = parseTime(schedAt)
		if excl != "" {
			_ = json.Unmarshal([]byte(excl), &rec.Exclude)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneJobs(ctx context.Context, states []string, olderThan time.Time) (int, error) {
	if len(states) == 0 {
		return 0, nil
	}
	q := `DELETE FROM jobs WHERE created_at < ? AND state IN (?` + strings.Repeat(",?", len(states)-1) + `)`
	args := []any{olderThan.UTC().Format(time.RFC3339Nano)}
	for _, st := range states {
		args = append(args, st)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) AppendAttempt(ctx context.Context, rec AttemptRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts(job_id, recipient, attempted_at, outcome, detail) VALUES(?,?,?,?,?)`,
		rec.JobID, rec.Recipient, rec.At.UTC().Format(time.RFC3339Nano), rec.Outcome, rec.Detail,
	)
	return err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
