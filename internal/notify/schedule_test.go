package notify

import (
	"strings"
	"testing"
	"time"
)

func TestReminderPlanNext(t *testing.T) {
	t.Parallel()
	plan := DefaultReminderPlan(time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "tuesday rolls to wednesday",
			now:  time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC), // Tue
			want: time.Date(2026, time.March, 11, 9, 0, 0, 0, time.UTC),  // Wed 09:00
		},
		{
			name: "monday before nine fires same day",
			now:  time.Date(2026, time.March, 9, 8, 0, 0, 0, time.UTC), // Mon 08:00
			want: time.Date(2026, time.March, 9, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "monday at nine rolls to wednesday",
			now:  time.Date(2026, time.March, 9, 9, 0, 0, 0, time.UTC),
			want: time.Date(2026, time.March, 11, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "friday evening rolls to monday",
			now:  time.Date(2026, time.March, 13, 20, 0, 0, 0, time.UTC), // Fri
			want: time.Date(2026, time.March, 16, 9, 0, 0, 0, time.UTC),  // Mon
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := plan.Next(tt.now)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Next(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestReminderPlanValidate(t *testing.T) {
	t.Parallel()
	bad := ReminderPlan{Weekdays: nil, Hour: 9, Loc: time.UTC}
	if _, err := bad.Next(time.Now()); err == nil {
		t.Fatal("empty weekday set should be rejected")
	}
	bad = ReminderPlan{Weekdays: []time.Weekday{time.Monday}, Hour: 24, Loc: time.UTC}
	if _, err := bad.Next(time.Now()); err == nil {
		t.Fatal("hour 24 should be rejected")
	}
}

func TestReminderPlanDescribe(t *testing.T) {
	t.Parallel()
	plan := DefaultReminderPlan(time.UTC)
	got := plan.Describe()
	for _, want := range []string{"09:00", "Monday", "Wednesday", "Friday"} {
		if !strings.Contains(got, want) {
			t.Fatalf("Describe() = %q, missing %q", got, want)
		}
	}
}
