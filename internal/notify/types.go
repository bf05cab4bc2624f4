package notify

import (
	"errors"
	"fmt"
	"time"

	"sprintbot/internal/storage"
)

var (
	// ErrValidation rejects malformed producer input synchronously; nothing
	// is enqueued.
	ErrValidation = errors.New("invalid notification input")

	// ErrStopped is returned by producer calls after Shutdown.
	ErrStopped = errors.New("notification engine stopped")

	// ErrDeferExhausted is returned by Queue.Defer when a job already sits at
	// its deferral cap and cannot move forward. Quiet hours that cover the
	// whole day produce this; the dispatcher abandons the job and reports it.
	ErrDeferExhausted = errors.New("deferral cap exhausted")
)

// Kind labels the logical event a job carries.
type Kind string

const (
	KindNewResult     Kind = "new_result"
	KindNewPR         Kind = "new_pr"
	KindReminder      Kind = "reminder"
	KindAdminAlert    Kind = "admin_alert"
	KindBroadcastText Kind = "broadcast_text"
)

// Urgent kinds bypass quiet hours.
func (k Kind) Urgent() bool { return k == KindAdminAlert }

// State is the job lifecycle state persisted in storage.
type State string

const (
	StatePending   State = "pending"
	StateInFlight  State = "in_flight"
	StateDelivered State = "delivered"
	StateDead      State = "dead"
)

func (s State) Terminal() bool { return s == StateDelivered || s == StateDead }

// Target is either the full broadcast audience or a single chat.
type Target struct {
	Broadcast bool
	Recipient int64
}

func BroadcastTarget() Target          { return Target{Broadcast: true} }
func SingleTarget(chatID int64) Target { return Target{Recipient: chatID} }

func (t Target) String() string {
	if t.Broadcast {
		return "broadcast"
	}
	return fmt.Sprintf("single(%d)", t.Recipient)
}

// Job is one unit of pending delivery work.
//
// Producers only ever append jobs; after enqueue, all mutation happens inside
// the dispatcher, so jobs never see concurrent writers.
type Job struct {
	ID           string
	Seq          int64
	Kind         Kind
	State        State
	Target       Target
	Text         string
	Exclude      []int64
	CreatedAt    time.Time
	ScheduledFor time.Time
	Attempts     int
	MaxAttempts  int
	DedupKey     string
}

// dedupScope keys the (dedup_key, target) uniqueness constraint.
func (j *Job) dedupScope() string {
	return j.DedupKey + "|" + j.Target.String()
}

func (j *Job) record() storage.JobRecord {
	return storage.JobRecord{
		ID:           j.ID,
		Seq:          j.Seq,
		Kind:         string(j.Kind),
		State:        string(j.State),
		Broadcast:    j.Target.Broadcast,
		Recipient:    j.Target.Recipient,
		Text:         j.Text,
		Exclude:      j.Exclude,
		CreatedAt:    j.CreatedAt,
		ScheduledFor: j.ScheduledFor,
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		DedupKey:     j.DedupKey,
	}
}

func jobFromRecord(rec storage.JobRecord) *Job {
	return &Job{
		ID:           rec.ID,
		Seq:          rec.Seq,
		Kind:         Kind(rec.Kind),
		State:        State(rec.State),
		Target:       Target{Broadcast: rec.Broadcast, Recipient: rec.Recipient},
		Text:         rec.Text,
		Exclude:      rec.Exclude,
		CreatedAt:    rec.CreatedAt,
		ScheduledFor: rec.ScheduledFor,
		Attempts:     rec.Attempts,
		MaxAttempts:  rec.MaxAttempts,
		DedupKey:     rec.DedupKey,
	}
}

// Outcome tags the result of one transport send. The dispatcher consumes
// outcomes through its state machine; they are never propagated as errors
// across the retry boundary.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable_failure"
	OutcomePermanent Outcome = "permanent_failure"
)

// JobEvent is the bus payload for job lifecycle events. Reason is set only on
// dead events, where a job/recipient pair is permanently abandoned.
type JobEvent struct {
	JobID     string
	Recipient int64
	Kind      Kind
	Attempts  int
	Reason    string
}
