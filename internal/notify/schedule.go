package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ReminderPlan describes when automated sprint reminders fire: a time of day
// on a set of weekdays, in a fixed location. No general cron surface is
// exposed; the cron library only computes the next firing instant.
type ReminderPlan struct {
	Weekdays []time.Weekday
	Hour     int
	Minute   int
	Loc      *time.Location

	sched cron.Schedule
}

// DefaultReminderPlan is Monday/Wednesday/Friday at 09:00 local time.
func DefaultReminderPlan(loc *time.Location) ReminderPlan {
	if loc == nil {
		loc = time.Local
	}
	return ReminderPlan{
		Weekdays: []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		Hour:     9,
		Minute:   0,
		Loc:      loc,
	}
}

func (p *ReminderPlan) validate() error {
	if len(p.Weekdays) == 0 {
		return fmt.Errorf("%w: reminder plan has no weekdays", ErrValidation)
	}
	if p.Hour < 0 || p.Hour > 23 || p.Minute < 0 || p.Minute > 59 {
		return fmt.Errorf("%w: reminder time %02d:%02d out of range", ErrValidation, p.Hour, p.Minute)
	}
	if p.Loc == nil {
		p.Loc = time.Local
	}
	return nil
}

// compile parses the plan into a cron schedule once.
func (p *ReminderPlan) compile() error {
	if p.sched != nil {
		return nil
	}
	if err := p.validate(); err != nil {
		return err
	}
	days := make([]string, 0, len(p.Weekdays))
	sorted := append([]time.Weekday(nil), p.Weekdays...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, d := range sorted {
		days = append(days, fmt.Sprintf("%d", int(d)))
	}
	spec := fmt.Sprintf("%d %d * * %s", p.Minute, p.Hour, strings.Join(days, ","))
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("reminder schedule: %w", err)
	}
	p.sched = sched
	return nil
}

// Next returns the first firing instant strictly after now.
func (p *ReminderPlan) Next(now time.Time) (time.Time, error) {
	if err := p.compile(); err != nil {
		return time.Time{}, err
	}
	return p.sched.Next(now.In(p.Loc)), nil
}

// Describe returns a human-readable summary of the plan.
func (p *ReminderPlan) Describe() string {
	if err := p.validate(); err != nil {
		return "reminders disabled (invalid plan)"
	}
	sorted := append([]time.Weekday(nil), p.Weekdays...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	names := make([]string, 0, len(sorted))
	for _, d := range sorted {
		names = append(names, d.String())
	}
	return fmt.Sprintf("Reminders go out at %02d:%02d on %s.", p.Hour, p.Minute, strings.Join(names, ", "))
}
