// Package stage maps wall-clock time to the active funnel stage.
package stage

import (
	"fmt"
	"sort"
	"time"
)

type ID string

// Window is the half-open interval [Start, End) during which a stage is
// active.
type Window struct {
	Stage ID
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Resolve returns the stage of the first window containing now. The second
// result is false when no stage is active.
func Resolve(now time.Time, windows []Window) (ID, bool) {
	for _, w := range windows {
		if w.Contains(now) {
			return w.Stage, true
		}
	}
	return "", false
}

// ValidateWindows rejects empty or inverted windows and overlapping ones.
func ValidateWindows(windows []Window) error {
	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	for i, w := range sorted {
		if w.Stage == "" {
			return fmt.Errorf("window %d: stage id is empty", i)
		}
		if !w.End.After(w.Start) {
			return fmt.Errorf("window %q: end %s is not after start %s", w.Stage, w.End, w.Start)
		}
		if i > 0 && sorted[i-1].End.After(w.Start) {
			return fmt.Errorf("window %q overlaps %q", w.Stage, sorted[i-1].Stage)
		}
	}
	return nil
}
