// Package overlap finds existing events that collide in time with a
// candidate event.
//
// Two events conflict when they fall on the same date and their
// [startTime, endTime) intervals intersect. Back-to-back events, where one
// ends exactly when the other starts, do not conflict.
package overlap

import (
	"fmt"
	"strings"

	"eventcal/internal/model"
)

// Conflicts reports whether a and b collide. It is symmetric.
func Conflicts(a, b model.Event) bool {
	if !a.Date.Equal(b.Date) {
		return false
	}
	return a.StartTime < b.EndTime && a.EndTime > b.StartTime
}

// Detect returns the events in existing that conflict with candidate, in
// collection order. An event with the candidate's own ID is skipped so an
// edit is never reported as clashing with its pre-edit version.
func Detect(candidate model.Event, existing []model.Event) []model.Event {
	out := make([]model.Event, 0)
	for _, ev := range existing {
		if candidate.ID != "" && ev.ID == candidate.ID {
			continue
		}
		if Conflicts(candidate, ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Pair links one candidate instance to an existing event it collides with.
type Pair struct {
	Candidate model.Event `json:"candidate"`
	Existing  model.Event `json:"existing"`
}

// Report is the union of conflicts found for a batch of candidates, such as
// every instance of a recurring series. It is a reportable condition that
// needs an explicit override, not a failure.
type Report struct {
	// Conflicts holds each conflicting existing event once, in collection
	// order.
	Conflicts []model.Event `json:"conflicts"`
	// Pairs lists every candidate/existing collision.
	Pairs []Pair `json:"pairs"`
}

// Empty reports whether no conflict was found.
func (r Report) Empty() bool {
	return len(r.Conflicts) == 0
}

// Summary renders the conflict list the way the overlap warning shows it:
// one "title (date start-end)" line per event.
func (r Report) Summary() string {
	var b strings.Builder
	for i, ev := range r.Conflicts {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s (%s %s-%s)", ev.Title, ev.Date, ev.StartTime, ev.EndTime)
	}
	return b.String()
}

// DetectAll checks every candidate against existing and merges the results
// into one Report. Candidates are excluded from existing by ID the same way
// Detect excludes a single candidate.
func DetectAll(candidates []model.Event, existing []model.Event) Report {
	report := Report{
		Conflicts: make([]model.Event, 0),
		Pairs:     make([]Pair, 0),
	}

	hit := make(map[int]bool)
	for _, c := range candidates {
		for i, ev := range existing {
			if c.ID != "" && ev.ID == c.ID {
				continue
			}
			if !Conflicts(c, ev) {
				continue
			}
			hit[i] = true
			report.Pairs = append(report.Pairs, Pair{Candidate: c, Existing: ev})
		}
	}

	for i, ev := range existing {
		if hit[i] {
			report.Conflicts = append(report.Conflicts, ev)
		}
	}
	return report
}
