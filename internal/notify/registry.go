package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sprintbot/internal/storage"
	logx "sprintbot/pkg/logx"
)

// Registry is the durable set of chats opted into notifications.
//
// Every mutation writes through to storage before the in-memory cache is
// updated, so a crash between the two never loses data. Unsubscribe
// tombstones instead of deleting, avoiding races with in-flight sends;
// a later re-subscribe reactivates the same record.
type Registry struct {
	store storage.Store
	log   logx.Logger

	mu   sync.RWMutex
	subs map[int64]storage.SubscriberRecord
}

func NewRegistry(store storage.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{store: store, log: log, subs: map[int64]storage.SubscriberRecord{}}
}

// Load rebuilds the cache from storage. A failure here is fatal to the
// caller: serving with an empty subscriber set would silently drop every
// notification.
func (r *Registry) Load(ctx context.Context) error {
	recs, err := r.store.ListSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("registry load: %w", err)
	}
	subs := make(map[int64]storage.SubscriberRecord, len(recs))
	for _, rec := range recs {
		subs[rec.ChatID] = rec
	}
	r.mu.Lock()
	r.subs = subs
	r.mu.Unlock()
	r.log.Info("subscriber registry loaded", logx.Int("total", len(recs)), logx.Int("active", r.countActive()))
	return nil
}

func (r *Registry) countActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.subs {
		if rec.Active {
			n++
		}
	}
	return n
}

// Subscribe opts a chat in. Idempotent: subscribing an active chat is a
// no-op and reports false.
func (r *Registry) Subscribe(ctx context.Context, chatID int64) (bool, error) {
	r.mu.RLock()
	rec, ok := r.subs[chatID]
	r.mu.RUnlock()

	if ok && rec.Active {
		return false, nil
	}
	if ok {
		// Reactivate the tombstone, keeping quiet hours and the original
		// subscription time.
		rec.Active = true
	} else {
		rec = storage.SubscriberRecord{ChatID: chatID, Active: true, SubscribedAt: time.Now()}
	}
	if err := r.store.UpsertSubscriber(ctx, rec); err != nil {
		return false, fmt.Errorf("subscribe %d: %w", chatID, err)
	}
	r.mu.Lock()
	r.subs[chatID] = rec
	r.mu.Unlock()
	r.log.Info("chat subscribed", logx.Int64("chat_id", chatID))
	return true, nil
}

// Unsubscribe opts a chat out. Idempotent: unsubscribing an inactive or
// unknown chat is a no-op and reports false.
func (r *Registry) Unsubscribe(ctx context.Context, chatID int64) (bool, error) {
	r.mu.RLock()
	rec, ok := r.subs[chatID]
	r.mu.RUnlock()

	if !ok || !rec.Active {
		return false, nil
	}
	rec.Active = false
	if err := r.store.UpsertSubscriber(ctx, rec); err != nil {
		return false, fmt.Errorf("unsubscribe %d: %w", chatID, err)
	}
	r.mu.Lock()
	r.subs[chatID] = rec
	r.mu.Unlock()
	r.log.Info("chat unsubscribed", logx.Int64("chat_id", chatID))
	return true, nil
}

func (r *Registry) IsSubscribed(chatID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.subs[chatID]
	return ok && rec.Active
}

// ListActive returns a point-in-time snapshot of active chat ids, sorted for
// deterministic fan-out order.
func (r *Registry) ListActive() []int64 {
	r.mu.RLock()
	out := make([]int64, 0, len(r.subs))
	for id, rec := range r.subs {
		if rec.Active {
			out = append(out, id)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetQuietHours stores a per-recipient quiet window override. Empty start and
// end clear the override. The window is validated before anything is written.
func (r *Registry) SetQuietHours(ctx context.Context, chatID int64, start, end, tz string) error {
	if start != "" || end != "" {
		if _, err := NewWindow(start, end, tz); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	r.mu.RLock()
	rec, ok := r.subs[chatID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: chat %d is not registered", ErrValidation, chatID)
	}
	rec.QuietStart = start
	rec.QuietEnd = end
	rec.Timezone = tz
	if err := r.store.UpsertSubscriber(ctx, rec); err != nil {
		return fmt.Errorf("set quiet hours %d: %w", chatID, err)
	}
	r.mu.Lock()
	r.subs[chatID] = rec
	r.mu.Unlock()
	return nil
}

// QuietWindow implements WindowSource for the quiet-hours policy.
func (r *Registry) QuietWindow(chatID int64) (Window, bool) {
	r.mu.RLock()
	rec, ok := r.subs[chatID]
	r.mu.RUnlock()
	if !ok || rec.QuietStart == "" || rec.QuietEnd == "" {
		return Window{}, false
	}
	w, err := NewWindow(rec.QuietStart, rec.QuietEnd, rec.Timezone)
	if err != nil {
		// Validated on write; a broken stored window falls back to the default.
		r.log.Warn("stored quiet window invalid", logx.Int64("chat_id", chatID), logx.Err(err))
		return Window{}, false
	}
	return w, true
}
