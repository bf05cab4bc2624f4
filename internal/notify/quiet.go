package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a quiet-hours window in wall-clock minutes of a local day.
// A window with start > end wraps past midnight and is evaluated as the
// union of [start, 24:00) and [00:00, end).
type Window struct {
	start int // minutes since midnight, inclusive
	end   int // exclusive
	loc   *time.Location
}

// NewWindow builds a window from "HH:MM" boundaries and an IANA timezone.
// An empty tz means local time.
func NewWindow(start, end, tz string) (Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, err
	}
	loc := time.Local
	if strings.TrimSpace(tz) != "" {
		loc, err = time.LoadLocation(strings.TrimSpace(tz))
		if err != nil {
			return Window{}, fmt.Errorf("quiet hours timezone: %w", err)
		}
	}
	return Window{start: s, end: e, loc: loc}, nil
}

func (w Window) IsZero() bool { return w.loc == nil }

// Covers24h reports a window that suppresses the whole day. Honoring it
// indefinitely would postpone forever, so callers treat it as a
// configuration error rather than a schedule.
func (w Window) Covers24h() bool { return !w.IsZero() && w.start == w.end }

// Contains reports whether the instant falls inside [start, end) of the
// window's local day. The end boundary itself is not suppressed.
func (w Window) Contains(at time.Time) bool {
	if w.IsZero() || w.start == w.end {
		return false
	}
	local := at.In(w.loc)
	m := local.Hour()*60 + local.Minute()
	if w.start < w.end {
		return m >= w.start && m < w.end
	}
	// Wraps midnight.
	return m >= w.start || m < w.end
}

// End returns the first instant at or after "at" when the window stops
// suppressing, i.e. the next occurrence of the end boundary. If the instant
// is not suppressed, it is returned unchanged.
func (w Window) End(at time.Time) time.Time {
	if !w.Contains(at) {
		return at
	}
	local := at.In(w.loc)
	endToday := time.Date(local.Year(), local.Month(), local.Day(), w.end/60, w.end%60, 0, 0, w.loc)
	if endToday.After(local) {
		return endToday
	}
	return endToday.AddDate(0, 0, 1)
}

func (w Window) String() string {
	if w.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d %s", w.start/60, w.start%60, w.end/60, w.end%60, w.loc)
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// WindowSource resolves a per-recipient quiet-hours override.
type WindowSource interface {
	QuietWindow(chatID int64) (Window, bool)
}

// QuietPolicy decides whether an instant falls inside a recipient's
// suppressed window. Pure, no I/O: the source is an in-memory cache.
type QuietPolicy struct {
	def    Window // zero value = no global default
	source WindowSource
}

func NewQuietPolicy(def Window, source WindowSource) *QuietPolicy {
	return &QuietPolicy{def: def, source: source}
}

func (p *QuietPolicy) window(chatID int64) Window {
	if p.source != nil {
		if w, ok := p.source.QuietWindow(chatID); ok {
			return w
		}
	}
	return p.def
}

// IsSuppressed reports whether sending to the recipient at the given instant
// falls inside their effective quiet-hours window.
func (p *QuietPolicy) IsSuppressed(chatID int64, at time.Time) bool {
	w := p.window(chatID)
	if w.Covers24h() {
		// Configuration error, surfaced by the planner's deferral cap.
		return true
	}
	return w.Contains(at)
}

// ResumeAt returns when the recipient's quiet window ends, or "at" itself if
// the recipient is not suppressed.
func (p *QuietPolicy) ResumeAt(chatID int64, at time.Time) time.Time {
	w := p.window(chatID)
	if w.Covers24h() {
		return at.Add(24 * time.Hour)
	}
	return w.End(at)
}
