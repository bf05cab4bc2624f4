package storage

// Package storage is the durable source of truth for the notification engine.
//
// It persists:
//   - Subscribers (tombstoned, never hard-deleted)
//   - Notification jobs (the pending backlog plus retained terminal jobs)
//   - Delivery attempts (append-only audit trail)
