package transport

import (
	"context"
	"errors"
	"time"
)

// SendOptions tunes a single outbound message.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// MessageRef identifies a sent message on the platform.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Adapter is the outbound message capability the engine depends on.
//
// SendText must return within the deadline of ctx. Errors should be wrapped
// in TransientError or PermanentError so callers can decide on retries;
// unclassified errors are treated as transient.
type Adapter interface {
	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) (MessageRef, error)
	Stop(ctx context.Context) error
}

// TransientError marks a failure worth retrying (rate limit, network blip).
// RetryAfter is a platform-suggested minimum wait, 0 if none.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that will not succeed on retry
// (recipient blocked the bot, chat deleted, message rejected).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is classified as non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RetryAfter extracts the platform-suggested retry delay, if any.
func RetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
