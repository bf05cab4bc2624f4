package notify

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: time.Second},
		{attempts: 1, want: 2 * time.Second},
		{attempts: 2, want: 4 * time.Second},
		{attempts: 5, want: 32 * time.Second},
		{attempts: 6, want: time.Minute},  // capped
		{attempts: 50, want: time.Minute}, // no overflow past the cap
	}
	for _, tt := range tests {
		if got := backoffDelay(time.Second, time.Minute, tt.attempts); got != tt.want {
			t.Fatalf("backoffDelay(attempts=%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestJitterDelayRange(t *testing.T) {
	t.Parallel()
	base := 10 * time.Second
	for i := 0; i < 1000; i++ {
		d := jitterDelay(base)
		if d < base/2 || d > base*3/2 {
			t.Fatalf("jitterDelay(%v) = %v, outside [0.5x, 1.5x]", base, d)
		}
	}
	if jitterDelay(0) != 0 {
		t.Fatal("jitterDelay(0) should be 0")
	}
}
