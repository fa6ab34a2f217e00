// Package series decides which instances of a recurring series a user's
// edit or delete applies to.
//
// Acting on an instance that still belongs to a series is ambiguous, so a
// Session starts in StatePrompt and the caller drives it to a resolved scope
// or cancels it. Standalone events skip the prompt. Nothing here performs
// I/O: the result is a Plan of store mutations for the caller to apply.
package series

import (
	"errors"
	"fmt"

	"eventcal/internal/model"
)

// Action is the user operation being resolved.
type Action string

const (
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Scope selects the instances an action applies to.
type Scope string

const (
	// ScopeSingle applies to the targeted instance only.
	ScopeSingle Scope = "single"
	// ScopeAll applies to every instance sharing the target's series.
	ScopeAll Scope = "all"
)

// ParseScope maps a request value to a Scope. The empty string is not a
// scope and returns an error.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeSingle, ScopeAll:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("unknown scope %q", s)
	}
}

// State is the position of a Session in the resolution flow.
type State string

const (
	StatePrompt    State = "prompt"
	StateResolved  State = "resolved"
	StateCancelled State = "cancelled"
)

var (
	// ErrNotPrompting is returned when a transition is requested from a state
	// other than StatePrompt.
	ErrNotPrompting = errors.New("series: session is not awaiting a scope")
	// ErrNotResolved is returned when a plan is requested before a scope was
	// chosen, or after the session was cancelled.
	ErrNotResolved = errors.New("series: session is not resolved")
)

// Plan lists the mutations a resolved action requires.
type Plan struct {
	ToUpdate []model.Event `json:"toUpdate"`
	ToDelete []model.Event `json:"toDelete"`
}

// DeleteIDs returns the IDs of ToDelete.
func (p Plan) DeleteIDs() []string {
	ids := make([]string, len(p.ToDelete))
	for i, ev := range p.ToDelete {
		ids[i] = ev.ID
	}
	return ids
}

// Session tracks one user action on one target instance.
type Session struct {
	action Action
	target model.Event
	state  State
	scope  Scope
}

// Begin starts resolving action on target. A recurring target needs a scope
// decision (StatePrompt); a standalone target is resolved to ScopeSingle at
// once.
func Begin(action Action, target model.Event) *Session {
	s := &Session{action: action, target: target}
	if target.IsRecurring() {
		s.state = StatePrompt
		return s
	}
	s.state = StateResolved
	s.scope = ScopeSingle
	return s
}

func (s *Session) Action() Action      { return s.action }
func (s *Session) Target() model.Event { return s.target }
func (s *Session) State() State        { return s.state }

// Scope returns the chosen scope, or "" while prompting or after cancel.
func (s *Session) Scope() Scope { return s.scope }

// Choose resolves a prompting session to scope.
func (s *Session) Choose(scope Scope) error {
	if s.state != StatePrompt {
		return ErrNotPrompting
	}
	if _, err := ParseScope(string(scope)); err != nil {
		return err
	}
	s.state = StateResolved
	s.scope = scope
	return nil
}

// Cancel aborts a prompting session. The action then has no effect.
func (s *Session) Cancel() error {
	if s.state != StatePrompt {
		return ErrNotPrompting
	}
	s.state = StateCancelled
	return nil
}

// Plan computes the mutations for a resolved session. For edits, edited
// carries the new field values of the target; it is ignored for deletes.
// all is the current event collection or any superset of the series.
func (s *Session) Plan(edited model.Event, all []model.Event) (Plan, error) {
	if s.state != StateResolved {
		return Plan{}, ErrNotResolved
	}
	if s.action == ActionDelete {
		edited = s.target
	}
	edited.ID = s.target.ID
	edited.SeriesID = s.target.SeriesID
	return Resolve(s.action, edited, s.scope, all), nil
}

// Resolve is the stateless form of Session.Plan. target is the instance
// acted on; for edits it already carries the new field values.
//
// ScopeSingle edits detach target from its series. ScopeAll edits copy the
// edited fields onto every member of the series except the per-instance ID
// and Date; series identity and the repeat rule are kept.
func Resolve(action Action, target model.Event, scope Scope, all []model.Event) Plan {
	plan := Plan{
		ToUpdate: make([]model.Event, 0),
		ToDelete: make([]model.Event, 0),
	}

	if scope != ScopeAll || target.SeriesID == "" {
		switch action {
		case ActionEdit:
			updated := target
			if scope == ScopeSingle && wasRecurring(target, all) {
				updated = updated.Detached()
			}
			plan.ToUpdate = append(plan.ToUpdate, updated)
		case ActionDelete:
			plan.ToDelete = append(plan.ToDelete, target)
		}
		return plan
	}

	members := Members(target.SeriesID, all)
	switch action {
	case ActionEdit:
		for _, m := range members {
			plan.ToUpdate = append(plan.ToUpdate, applyFields(m, target))
		}
	case ActionDelete:
		plan.ToDelete = append(plan.ToDelete, members...)
	}
	return plan
}

// wasRecurring reports whether the stored version of target belongs to a
// series. The edited copy may carry a rule the user just changed, so the
// stored copy wins when it is present in all.
func wasRecurring(target model.Event, all []model.Event) bool {
	for _, ev := range all {
		if ev.ID == target.ID {
			return ev.IsRecurring() || ev.SeriesID != ""
		}
	}
	return target.IsRecurring() || target.SeriesID != ""
}

// Members returns the events of all that belong to seriesID, in collection
// order. Detached instances have no series ID and are never members.
func Members(seriesID string, all []model.Event) []model.Event {
	out := make([]model.Event, 0)
	if seriesID == "" {
		return out
	}
	for _, ev := range all {
		if ev.SeriesID == seriesID {
			out = append(out, ev)
		}
	}
	return out
}

// applyFields copies the user-editable, series-wide fields of src onto dst.
func applyFields(dst, src model.Event) model.Event {
	dst.Title = src.Title
	dst.Description = src.Description
	dst.Location = src.Location
	dst.Category = src.Category
	dst.StartTime = src.StartTime
	dst.EndTime = src.EndTime
	dst.NotificationTime = src.NotificationTime
	return dst
}
