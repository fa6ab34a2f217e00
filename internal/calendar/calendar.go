// Package calendar runs the event flows on top of a store: create with
// recurrence expansion and overlap checks, scoped edit and delete of series
// instances, relocation, filtering and the month/week views.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"eventcal/internal/caldate"
	appLog "eventcal/internal/log"
	"eventcal/internal/model"
	"eventcal/internal/overlap"
	"eventcal/internal/recur"
	"eventcal/internal/series"
	"eventcal/internal/store"
)

// ErrSessionTarget is returned when a change session refers to an event
// that no longer exists.
var ErrSessionTarget = errors.New("calendar: session target no longer exists")

// ErrWrongAction is returned when a session is applied with a flow that
// does not match its action.
var ErrWrongAction = errors.New("calendar: session action does not match")

// HolidaySource supplies the informational holiday overlay, keyed by
// YYYY-MM-DD, for the inclusive range [from, to].
type HolidaySource interface {
	Holidays(ctx context.Context, from, to caldate.Date) map[string]string
}

// Options configures a Service.
type Options struct {
	// Expander materializes recurring seeds. Defaults to recur.NewExpander
	// with its default config.
	Expander *recur.Expander
	// Holidays is optional; nil means no overlay.
	Holidays HolidaySource
	// WeekStart is the first day of week windows. Defaults to Sunday.
	WeekStart time.Weekday
}

// Service is safe for concurrent use. Mutating flows are serialized so a
// read-check-write cycle sees its own collection.
type Service struct {
	store     store.Store
	expander  *recur.Expander
	holidays  HolidaySource
	weekStart time.Weekday

	mu sync.Mutex
}

// New returns a Service over st.
func New(st store.Store, opts Options) *Service {
	if opts.Expander == nil {
		opts.Expander = recur.NewExpander(recur.Config{})
	}
	return &Service{
		store:     st,
		expander:  opts.Expander,
		holidays:  opts.Holidays,
		weekStart: opts.WeekStart,
	}
}

// Result describes the outcome of a mutating flow.
type Result struct {
	// Committed is false when conflicts blocked the change; nothing was
	// written in that case.
	Committed bool           `json:"committed"`
	Saved     []model.Event  `json:"saved"`
	Deleted   []string       `json:"deleted"`
	Conflicts overlap.Report `json:"conflicts"`
	// Truncated is set when expansion hit the instance cap.
	Truncated bool `json:"truncated,omitempty"`
}

func emptyResult() Result {
	return Result{
		Saved:     make([]model.Event, 0),
		Deleted:   make([]string, 0),
		Conflicts: overlap.DetectAll(nil, nil),
	}
}

// CreateOptions controls Create.
type CreateOptions struct {
	// Force persists the series even when it overlaps existing events.
	Force bool
}

// Create expands seed into its instances, checks them against the stored
// collection and saves them in one batch. When any instance overlaps and
// Force is unset, the conflict report is returned and nothing is saved.
func (s *Service) Create(ctx context.Context, seed model.Event, opts CreateOptions) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.ListEvents(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list events: %w", err)
	}
	return s.create(ctx, normalize(seed), existing, opts.Force, "")
}

// create runs the create flow against existing. replacing, if set, is the id
// of an event the new series supersedes: it is ignored for overlap checks
// and deleted once the series is saved.
func (s *Service) create(ctx context.Context, seed model.Event, existing []model.Event, force bool, replacing string) (Result, error) {
	if err := seed.Validate(); err != nil {
		return Result{}, err
	}

	expanded, err := s.expander.Expand(seed)
	if err != nil {
		return Result{}, err
	}
	if len(expanded.Instances) == 0 {
		return Result{}, &model.ValidationError{Field: "repeat", Reason: "반복 일정이 생성되지 않았습니다."}
	}
	for _, inst := range expanded.Instances {
		if err := inst.Validate(); err != nil {
			return Result{}, err
		}
	}

	if replacing != "" {
		existing = without(existing, replacing)
	}

	res := emptyResult()
	res.Truncated = expanded.Truncated
	res.Conflicts = overlap.DetectAll(expanded.Instances, existing)
	if !res.Conflicts.Empty() && !force {
		appLog.Info("calendar: create blocked by overlap",
			"title", seed.Title,
			"conflicts", len(res.Conflicts.Conflicts),
		)
		return res, nil
	}

	if err := s.store.SaveEvents(ctx, expanded.Instances); err != nil {
		return Result{}, fmt.Errorf("save events: %w", err)
	}
	if replacing != "" {
		if err := s.store.DeleteEvents(ctx, []string{replacing}); err != nil {
			return Result{}, fmt.Errorf("delete replaced event: %w", err)
		}
		res.Deleted = append(res.Deleted, replacing)
	}

	res.Committed = true
	res.Saved = expanded.Instances
	appLog.Info("calendar: created",
		"title", seed.Title,
		"instances", len(expanded.Instances),
		"series", expanded.Instances[0].SeriesID,
		"forced", force && !res.Conflicts.Empty(),
	)
	return res, nil
}

// BeginChange loads the event id and starts a scope-resolution session for
// action on it.
func (s *Service) BeginChange(ctx context.Context, action series.Action, id string) (*series.Session, error) {
	target, err := store.Get(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return series.Begin(action, target), nil
}

// EditOptions controls ApplyEdit and Move.
type EditOptions struct {
	// Force saves the edit even when it overlaps existing events.
	Force bool
}

// ApplyEdit saves edited according to the resolved session. Every updated
// instance is validated and checked for overlaps first.
//
// Editing a standalone event into a recurring one replaces it with a freshly
// expanded series.
func (s *Service) ApplyEdit(ctx context.Context, session *series.Session, edited model.Event, opts EditOptions) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyEdit(ctx, session, normalize(edited), opts)
}

func (s *Service) applyEdit(ctx context.Context, session *series.Session, edited model.Event, opts EditOptions) (Result, error) {
	if session.Action() != series.ActionEdit {
		return Result{}, ErrWrongAction
	}
	if session.State() != series.StateResolved {
		return Result{}, series.ErrNotResolved
	}

	all, err := s.store.ListEvents(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list events: %w", err)
	}
	stored, ok := find(all, session.Target().ID)
	if !ok {
		return Result{}, ErrSessionTarget
	}

	if !stored.IsRecurring() && stored.SeriesID == "" && edited.IsRecurring() {
		return s.create(ctx, edited, all, opts.Force, stored.ID)
	}

	plan, err := session.Plan(edited, all)
	if err != nil {
		return Result{}, err
	}
	for i, ev := range plan.ToUpdate {
		if !ev.IsRecurring() {
			ev.Repeat = model.NoRepeat()
			plan.ToUpdate[i] = ev
		}
		if err := ev.Validate(); err != nil {
			return Result{}, err
		}
	}

	res := emptyResult()
	res.Conflicts = overlap.DetectAll(plan.ToUpdate, all)
	if !res.Conflicts.Empty() && !opts.Force {
		appLog.Info("calendar: edit blocked by overlap",
			"id", stored.ID,
			"scope", session.Scope(),
			"conflicts", len(res.Conflicts.Conflicts),
		)
		return res, nil
	}

	if err := s.store.SaveEvents(ctx, plan.ToUpdate); err != nil {
		return Result{}, fmt.Errorf("save events: %w", err)
	}
	res.Committed = true
	res.Saved = plan.ToUpdate
	appLog.Info("calendar: edited",
		"id", stored.ID,
		"scope", session.Scope(),
		"updated", len(plan.ToUpdate),
	)
	return res, nil
}

// ApplyDelete removes the instances the resolved session covers.
func (s *Service) ApplyDelete(ctx context.Context, session *series.Session) (Result, error) {
	if session.Action() != series.ActionDelete {
		return Result{}, ErrWrongAction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.store.ListEvents(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list events: %w", err)
	}
	if _, ok := find(all, session.Target().ID); !ok {
		return Result{}, ErrSessionTarget
	}

	plan, err := session.Plan(model.Event{}, all)
	if err != nil {
		return Result{}, err
	}

	ids := plan.DeleteIDs()
	if err := s.store.DeleteEvents(ctx, ids); err != nil {
		return Result{}, fmt.Errorf("delete events: %w", err)
	}

	res := emptyResult()
	res.Committed = true
	res.Deleted = ids
	appLog.Info("calendar: deleted",
		"id", session.Target().ID,
		"scope", session.Scope(),
		"deleted", len(ids),
	)
	return res, nil
}

// Move relocates the event id to date, keeping its times. A recurring
// instance is detached from its series, the same as a single-scope edit.
func (s *Service) Move(ctx context.Context, id string, date caldate.Date, opts EditOptions) (Result, error) {
	if date.IsZero() {
		return Result{}, &model.ValidationError{Field: "date", Reason: "필수 정보를 모두 입력해주세요."}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := store.Get(ctx, s.store, id)
	if err != nil {
		return Result{}, err
	}

	session := series.Begin(series.ActionEdit, target)
	if session.State() == series.StatePrompt {
		if err := session.Choose(series.ScopeSingle); err != nil {
			return Result{}, err
		}
	}

	edited := target
	edited.Date = date
	return s.applyEdit(ctx, session, edited, opts)
}

// View selects the date window List filters by.
type View string

const (
	ViewAll   View = "all"
	ViewWeek  View = "week"
	ViewMonth View = "month"
)

// ParseView maps a request value to a View; empty means ViewAll.
func ParseView(v string) (View, error) {
	switch View(v) {
	case "", ViewAll:
		return ViewAll, nil
	case ViewWeek, ViewMonth:
		return View(v), nil
	default:
		return "", fmt.Errorf("unknown view %q", v)
	}
}

// Filter narrows List results.
type Filter struct {
	// Query matches title, description or location, case-insensitively.
	Query string
	View  View
	// Anchor is any date inside the week or month window. Zero means today.
	Anchor caldate.Date
}

// List returns the stored events matching f in date/time order.
func (s *Service) List(ctx context.Context, f Filter) ([]model.Event, error) {
	all, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	anchor := f.Anchor
	if anchor.IsZero() {
		anchor = caldate.Today()
	}
	from, to, windowed := s.window(f.View, anchor)
	query := strings.ToLower(strings.TrimSpace(f.Query))

	out := make([]model.Event, 0, len(all))
	for _, ev := range all {
		if windowed && (ev.Date.Before(from) || ev.Date.After(to)) {
			continue
		}
		if query != "" && !matches(ev, query) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Service) window(v View, anchor caldate.Date) (caldate.Date, caldate.Date, bool) {
	switch v {
	case ViewWeek:
		start := caldate.WeekStartOn(anchor, s.weekStart)
		return start, start.AddDays(6), true
	case ViewMonth:
		return caldate.MonthStart(anchor), caldate.MonthEnd(anchor), true
	default:
		return caldate.Date{}, caldate.Date{}, false
	}
}

func matches(ev model.Event, query string) bool {
	return strings.Contains(strings.ToLower(ev.Title), query) ||
		strings.Contains(strings.ToLower(ev.Description), query) ||
		strings.Contains(strings.ToLower(ev.Location), query)
}

// MonthView is the data a month grid renders.
type MonthView struct {
	Title string       `json:"title"`
	Month caldate.Date `json:"month"`
	// Weeks holds day-of-month numbers, 0 for blank cells.
	Weeks    [][7]int                 `json:"weeks"`
	Events   map[string][]model.Event `json:"events"`
	Holidays map[string]string        `json:"holidays"`
}

// Month returns the grid, per-day events and holidays of anchor's month.
func (s *Service) Month(ctx context.Context, anchor caldate.Date) (MonthView, error) {
	events, err := s.List(ctx, Filter{View: ViewMonth, Anchor: anchor})
	if err != nil {
		return MonthView{}, err
	}
	from, to := caldate.MonthStart(anchor), caldate.MonthEnd(anchor)
	return MonthView{
		Title:    caldate.FormatMonth(anchor),
		Month:    from,
		Weeks:    caldate.MonthGrid(anchor),
		Events:   byDate(events),
		Holidays: s.holidaysIn(ctx, from, to),
	}, nil
}

// WeekView is the data a week strip renders.
type WeekView struct {
	Title    string                   `json:"title"`
	Days     []caldate.Date           `json:"days"`
	Events   map[string][]model.Event `json:"events"`
	Holidays map[string]string        `json:"holidays"`
}

// Week returns the seven days of anchor's week with their events and
// holidays.
func (s *Service) Week(ctx context.Context, anchor caldate.Date) (WeekView, error) {
	events, err := s.List(ctx, Filter{View: ViewWeek, Anchor: anchor})
	if err != nil {
		return WeekView{}, err
	}
	from := caldate.WeekStartOn(anchor, s.weekStart)
	days := make([]caldate.Date, 7)
	for i := range days {
		days[i] = from.AddDays(i)
	}
	return WeekView{
		Title:    caldate.FormatWeek(anchor),
		Days:     days,
		Events:   byDate(events),
		Holidays: s.holidaysIn(ctx, from, days[6]),
	}, nil
}

func (s *Service) holidaysIn(ctx context.Context, from, to caldate.Date) map[string]string {
	if s.holidays == nil {
		return map[string]string{}
	}
	h := s.holidays.Holidays(ctx, from, to)
	if h == nil {
		return map[string]string{}
	}
	return h
}

// StaticHolidays is a fixed date->name table, such as the one in config.
type StaticHolidays map[string]string

// Holidays implements HolidaySource. Keys that are not valid dates are
// skipped.
func (h StaticHolidays) Holidays(_ context.Context, from, to caldate.Date) map[string]string {
	out := make(map[string]string)
	for key, name := range h {
		d, err := caldate.Parse(key)
		if err != nil || d.Before(from) || d.After(to) {
			continue
		}
		out[d.String()] = name
	}
	return out
}

func byDate(events []model.Event) map[string][]model.Event {
	out := make(map[string][]model.Event)
	for _, ev := range events {
		key := ev.Date.String()
		out[key] = append(out[key], ev)
	}
	return out
}

// normalize fills the defaults a form leaves empty.
func normalize(ev model.Event) model.Event {
	ev.Title = strings.TrimSpace(ev.Title)
	if ev.Category == "" {
		ev.Category = model.CategoryWork
	}
	if !ev.Repeat.IsRecurring() {
		ev.Repeat = model.NoRepeat()
	}
	return ev
}

func find(events []model.Event, id string) (model.Event, bool) {
	for _, ev := range events {
		if ev.ID == id {
			return ev, true
		}
	}
	return model.Event{}, false
}

func without(events []model.Event, id string) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.ID != id {
			out = append(out, ev)
		}
	}
	return out
}
