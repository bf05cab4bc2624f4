package notify

import (
	"fmt"
	"time"
)

// PlannedSend is one immediate per-recipient delivery.
type PlannedSend struct {
	Recipient int64
	Text      string
}

// Deferral postpones one recipient of a job to the end of their quiet window.
type Deferral struct {
	Recipient int64
	Until     time.Time
}

// Plan is the expansion of one job at claim time.
type Plan struct {
	Immediate []PlannedSend
	Deferred  []Deferral
}

// Audience selects the recipients of a broadcast at plan time. The default
// is the registry's active set; it is a parameter so scoped audiences
// (e.g. per-group) can be plugged in without touching the planner.
type Audience func() []int64

// Planner expands a job into per-recipient send tasks, splitting off
// quiet-hour deferrals. Suppressed recipients are removed from the immediate
// plan and come back as single-recipient jobs scheduled for their window's
// end, so no one recipient's quiet hours blocks the rest of a broadcast.
type Planner struct {
	audience Audience
	quiet    *QuietPolicy
}

func NewPlanner(audience Audience, quiet *QuietPolicy) *Planner {
	return &Planner{audience: audience, quiet: quiet}
}

func (p *Planner) Plan(j *Job, now time.Time) Plan {
	var recipients []int64
	if j.Target.Broadcast {
		excluded := make(map[int64]bool, len(j.Exclude))
		for _, id := range j.Exclude {
			excluded[id] = true
		}
		for _, id := range p.audience() {
			if !excluded[id] {
				recipients = append(recipients, id)
			}
		}
	} else {
		recipients = []int64{j.Target.Recipient}
	}

	var plan Plan
	for _, id := range recipients {
		if !j.Kind.Urgent() && p.quiet != nil && p.quiet.IsSuppressed(id, now) {
			plan.Deferred = append(plan.Deferred, Deferral{Recipient: id, Until: p.quiet.ResumeAt(id, now)})
			continue
		}
		plan.Immediate = append(plan.Immediate, PlannedSend{Recipient: id, Text: j.Text})
	}
	return plan
}

// childJob scopes a broadcast job to a single deferred or retrying
// recipient. The derived dedup key keeps children of one parent from
// colliding with each other or with the parent.
func childJob(parent *Job, recipient int64, at time.Time, attempts int) *Job {
	return &Job{
		Kind:         parent.Kind,
		Target:       SingleTarget(recipient),
		Text:         parent.Text,
		CreatedAt:    parent.CreatedAt,
		ScheduledFor: at,
		Attempts:     attempts,
		MaxAttempts:  parent.MaxAttempts,
		DedupKey:     fmt.Sprintf("%s/%d", parent.DedupKey, recipient),
	}
}
