package notify

import (
	"fmt"
	"strings"
	"time"
)

// ResultEvent describes a freshly logged sprint result.
type ResultEvent struct {
	ActorID     int64
	ActorName   string
	AthleteID   int64
	AthleteName string
	Stroke      string
	Dist        int     // meters
	Total       float64 // seconds
	Timestamp   string

	NewPRs []SegmentPR

	NewTotalPR   bool
	TotalPRDelta float64
	SOBDelta     float64
	SOBCurrent   float64

	// Trainers additionally receive the PR summary (minus the actor).
	Trainers []int64
}

// SegmentPR is an improved split: segment index and the new segment time.
type SegmentPR struct {
	Segment int
	Time    float64
}

func (ev ResultEvent) hasPR() bool {
	return ev.NewTotalPR || len(ev.NewPRs) > 0 || ev.SOBDelta > 0
}

// renderResult composes the broadcast message for a new result.
func renderResult(ev ResultEvent) string {
	var b strings.Builder
	b.WriteString("🏊 New result\n")
	fmt.Fprintf(&b, "%s — %dm %s in %s\n", ev.AthleteName, ev.Dist, ev.Stroke, fmtTime(ev.Total))
	fmt.Fprintf(&b, "Speed: %.2f m/s\n", speed(ev.Dist, ev.Total))
	fmt.Fprintf(&b, "Recorded %s by %s", ev.Timestamp, ev.ActorName)

	if ev.NewTotalPR {
		b.WriteString("\n🥇 New total PR" + prDeltaSuffix(ev.TotalPRDelta))
	}
	if len(ev.NewPRs) > 0 {
		b.WriteString("\n⚡ Segment PRs: " + segmentList(ev.NewPRs))
	}
	if ev.SOBDelta > 0 {
		fmt.Fprintf(&b, "\n📉 Sum of best −%.2fs%s", ev.SOBDelta, sobSuffix(ev.SOBCurrent))
	}
	return b.String()
}

// renderPRSummary composes the single-target summary sent to the athlete and
// trainer chats when a result sets personal records.
func renderPRSummary(ev ResultEvent) string {
	var b strings.Builder
	b.WriteString("🏅 Personal record!\n")
	fmt.Fprintf(&b, "%s — %dm %s", ev.AthleteName, ev.Dist, ev.Stroke)
	if ev.NewTotalPR {
		fmt.Fprintf(&b, "\nTotal: %s%s", fmtTime(ev.Total), prDeltaSuffix(ev.TotalPRDelta))
	}
	if len(ev.NewPRs) > 0 {
		b.WriteString("\nSegments: " + segmentList(ev.NewPRs))
	}
	if ev.SOBDelta > 0 {
		fmt.Fprintf(&b, "\nSum of best −%.2fs%s", ev.SOBDelta, sobSuffix(ev.SOBCurrent))
	}
	return b.String()
}

// renderReminder composes the scheduled sprint reminder.
func renderReminder(start time.Time) string {
	return fmt.Sprintf("⏱ Sprint reminder\nThe next set starts %s. Warm up and log your results!", startLabel(start))
}

func startLabel(start time.Time) string {
	return fmt.Sprintf("%s, %02d.%02d at %02d:%02d",
		start.Weekday(), start.Day(), int(start.Month()), start.Hour(), start.Minute())
}

func segmentList(prs []SegmentPR) string {
	parts := make([]string, 0, len(prs))
	for _, pr := range prs {
		parts = append(parts, fmt.Sprintf("#%d %s", pr.Segment, fmtTime(pr.Time)))
	}
	return strings.Join(parts, ", ")
}

func prDeltaSuffix(delta float64) string {
	if delta > 0 {
		return fmt.Sprintf(" (−%.2fs)", delta)
	}
	return ""
}

func sobSuffix(current float64) string {
	if current <= 0 {
		return ""
	}
	return fmt.Sprintf(" (now %s)", fmtTime(current))
}

// fmtTime renders seconds as m:ss.cc.
func fmtTime(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	m := int(sec) / 60
	rem := sec - float64(m*60)
	return fmt.Sprintf("%d:%05.2f", m, rem)
}

// speed in meters per second; 0 when the time is degenerate.
func speed(dist int, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(dist) / total
}
