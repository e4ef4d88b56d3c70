// Package timing provides bounded polling and per-step timing for fleet
// operations.
package timing

import (
	"fmt"
	"io"
	"time"
)

// Timer records how long each named step of a command took. Steps are
// contiguous: each one ends where the previous one did.
type Timer struct {
	title  string
	now    func() time.Time
	start  time.Time
	last   time.Time
	phases []Phase
}

// Phase is one finished step.
type Phase struct {
	Name     string
	Duration time.Duration
}

// New starts a timer. The title heads the report.
func New(title string) *Timer {
	return newTimer(title, time.Now)
}

func newTimer(title string, now func() time.Time) *Timer {
	t := now()
	return &Timer{title: title, now: now, start: t, last: t}
}

// Mark ends the current step under name and begins the next.
func (t *Timer) Mark(name string) {
	now := t.now()
	t.phases = append(t.phases, Phase{Name: name, Duration: now.Sub(t.last)})
	t.last = now
}

// Total is the time since New, marked or not.
func (t *Timer) Total() time.Duration {
	return t.now().Sub(t.start)
}

func (t *Timer) Phases() []Phase {
	return append([]Phase(nil), t.phases...)
}

// Report writes the steps aligned on the longest name, then the total.
func (t *Timer) Report(w io.Writer) {
	width := len("total")
	for _, p := range t.phases {
		width = max(width, len(p.Name))
	}
	fmt.Fprintf(w, "\n%s\n", t.title)
	for _, p := range t.phases {
		fmt.Fprintf(w, "  %-*s  %s\n", width, p.Name, formatDuration(p.Duration))
	}
	fmt.Fprintf(w, "  %-*s  %s\n", width, "total", formatDuration(t.Total()))
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}
