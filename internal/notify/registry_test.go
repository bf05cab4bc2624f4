package notify

import (
	"context"
	"errors"
	"testing"

	"sprintbot/internal/storage"
	logx "sprintbot/pkg/logx"
)

func TestSubscribeIdempotent(t *testing.T) {
	t.Parallel()
	r := NewRegistry(storage.NewMemory(), logx.Nop())
	ctx := context.Background()

	changed, err := r.Subscribe(ctx, 10)
	if err != nil || !changed {
		t.Fatalf("first subscribe: changed=%v err=%v", changed, err)
	}
	changed, err = r.Subscribe(ctx, 10)
	if err != nil || changed {
		t.Fatalf("repeat subscribe: changed=%v err=%v", changed, err)
	}
	if !r.IsSubscribed(10) {
		t.Fatal("chat should be subscribed")
	}

	changed, err = r.Unsubscribe(ctx, 10)
	if err != nil || !changed {
		t.Fatalf("unsubscribe: changed=%v err=%v", changed, err)
	}
	changed, err = r.Unsubscribe(ctx, 10)
	if err != nil || changed {
		t.Fatalf("repeat unsubscribe: changed=%v err=%v", changed, err)
	}
	if changed, err := r.Unsubscribe(ctx, 999); err != nil || changed {
		t.Fatalf("unknown unsubscribe: changed=%v err=%v", changed, err)
	}
}

func TestResubscribeReactivatesTombstone(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	r := NewRegistry(store, logx.Nop())
	ctx := context.Background()

	if _, err := r.Subscribe(ctx, 10); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.SetQuietHours(ctx, 10, "22:00", "07:00", "UTC"); err != nil {
		t.Fatalf("set quiet hours: %v", err)
	}
	recs, _ := store.ListSubscribers(ctx)
	originalSubscribedAt := recs[0].SubscribedAt

	if _, err := r.Unsubscribe(ctx, 10); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, err := r.Subscribe(ctx, 10); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}

	// The tombstone came back with its history intact.
	recs, _ = store.ListSubscribers(ctx)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if !rec.Active {
		t.Fatal("record inactive after resubscribe")
	}
	if !rec.SubscribedAt.Equal(originalSubscribedAt) {
		t.Fatal("resubscribe reset SubscribedAt")
	}
	if rec.QuietStart != "22:00" || rec.QuietEnd != "07:00" {
		t.Fatal("resubscribe lost quiet hours")
	}
}

func TestListActiveSortedExcludesTombstones(t *testing.T) {
	t.Parallel()
	r := NewRegistry(storage.NewMemory(), logx.Nop())
	ctx := context.Background()

	for _, id := range []int64{30, 10, 20} {
		if _, err := r.Subscribe(ctx, id); err != nil {
			t.Fatalf("subscribe %d: %v", id, err)
		}
	}
	if _, err := r.Unsubscribe(ctx, 20); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	got := r.ListActive()
	want := []int64{10, 30}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ListActive = %v, want %v", got, want)
	}
}

func TestLoadRebuildsFromStorage(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	ctx := context.Background()

	first := NewRegistry(store, logx.Nop())
	if _, err := first.Subscribe(ctx, 10); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := first.Subscribe(ctx, 20); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := first.Unsubscribe(ctx, 20); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	// A fresh process sees the same state.
	second := NewRegistry(store, logx.Nop())
	if err := second.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !second.IsSubscribed(10) || second.IsSubscribed(20) {
		t.Fatal("reloaded registry state wrong")
	}
}

func TestSetQuietHoursValidates(t *testing.T) {
	t.Parallel()
	r := NewRegistry(storage.NewMemory(), logx.Nop())
	ctx := context.Background()

	if _, err := r.Subscribe(ctx, 10); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.SetQuietHours(ctx, 10, "25:00", "07:00", "UTC"); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad window: err = %v, want ErrValidation", err)
	}
	if err := r.SetQuietHours(ctx, 999, "22:00", "07:00", "UTC"); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown chat: err = %v, want ErrValidation", err)
	}

	if err := r.SetQuietHours(ctx, 10, "22:00", "07:00", "UTC"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if w, ok := r.QuietWindow(10); !ok || w.IsZero() {
		t.Fatal("quiet window not stored")
	}

	// Clearing the override.
	if err := r.SetQuietHours(ctx, 10, "", "", ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := r.QuietWindow(10); ok {
		t.Fatal("cleared override still reported")
	}
}
