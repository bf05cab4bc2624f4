// Package notify is the notification delivery engine.
//
// Producers (result logging, PR detection, the reminder schedule, operational
// alerts) append jobs; a single dispatcher loop claims due jobs, expands
// broadcasts into per-recipient sends, and delivers them through a
// transport.Adapter with bounded parallelism, rate limiting, and
// retry-with-backoff.
//
// # Delivery semantics
//
// Delivery is at-least-once: every enqueue, deferral, and completion is
// persisted before it is considered committed, and a restart re-reads the
// backlog (jobs found in flight are treated as retryable). Duplicate enqueues
// of the same logical event are collapsed by a dedup key within a per-kind
// horizon.
//
// # Quiet hours
//
// Each recipient may carry a local-time window during which non-urgent
// notifications are deferred to the window's end instead of sent. A broadcast
// splits per recipient, so one subscriber's quiet hours never delay the rest
// of the fan-out. Operational alerts bypass quiet hours.
package notify
