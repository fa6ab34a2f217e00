package recur

import (
	"errors"

	"github.com/google/uuid"

	"eventcal/internal/caldate"
	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

const (
	defaultMaxInstances = 1000
)

// Config controls how a seed event is materialized into a series.
type Config struct {
	// MaxInstances is a safety cap against unbounded generation when a rule
	// has no end date. If zero, defaultMaxInstances is used.
	MaxInstances int

	// DefaultEnd bounds rules that carry no end date. Nil means only
	// MaxInstances bounds them.
	DefaultEnd *caldate.Date

	// NewID generates instance and series ids. If nil, random UUIDs are used.
	NewID func() string
}

// Result is the ordered series produced from one seed.
type Result struct {
	Instances []model.Event
	// Truncated is true when MaxInstances stopped the expansion before the
	// rule's end date did.
	Truncated bool
}

// Expander materializes recurrence rules.
type Expander struct {
	cfg Config
}

// NewExpander returns an Expander with cfg, filling in defaults.
func NewExpander(cfg Config) *Expander {
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = defaultMaxInstances
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	return &Expander{cfg: cfg}
}

// Expand turns seed into its ordered instances. The seed's date is the first
// occurrence. Every instance is a copy of seed with its own Date and a fresh
// ID; recurring instances share one SeriesID.
//
// The result is never empty for a valid seed and its dates are strictly
// increasing. Validation of the whole seed happens before anything is
// generated, so an error means no instance exists.
func (x *Expander) Expand(seed model.Event) (Result, error) {
	var result Result

	if seed.StartTime >= seed.EndTime {
		return result, &model.TimeOrderError{Start: seed.StartTime, End: seed.EndTime}
	}
	if err := model.ValidateRule(seed.Date, seed.Repeat); err != nil {
		return result, err
	}

	if !seed.Repeat.IsRecurring() {
		single := seed
		single.ID = x.cfg.NewID()
		single.SeriesID = ""
		single.Repeat = model.NoRepeat()
		result.Instances = []model.Event{single}
		return result, nil
	}

	end := seed.Repeat.EndDate
	// A default end before the seed would leave nothing; the cap bounds
	// such series instead.
	if end == nil && x.cfg.DefaultEnd != nil && !x.cfg.DefaultEnd.Before(seed.Date) {
		end = x.cfg.DefaultEnd
	}

	seriesID := x.cfg.NewID()
	dates, truncated := x.dates(seed.Date, seed.Repeat, end)

	result.Instances = make([]model.Event, 0, len(dates))
	for _, d := range dates {
		inst := seed
		inst.ID = x.cfg.NewID()
		inst.SeriesID = seriesID
		inst.Date = d
		result.Instances = append(result.Instances, inst)
	}
	result.Truncated = truncated

	if truncated {
		appLog.Error("recur: truncated series due to cap",
			errors.New("max instances reached"),
			"title", seed.Title,
			"type", seed.Repeat.Type,
			"cap", x.cfg.MaxInstances,
		)
	}

	return result, nil
}

// dates lists occurrence dates from seed up to end (inclusive), stopping at
// the cap. Each candidate is computed from the seed rather than from the
// previous occurrence so that month-end clamping does not drift: a Jan 31
// monthly series yields Feb 28 then Mar 31.
func (x *Expander) dates(seed caldate.Date, rule model.Repeat, end *caldate.Date) ([]caldate.Date, bool) {
	out := make([]caldate.Date, 0)
	for k := 0; ; k++ {
		d := step(seed, rule, k)
		if end != nil && d.After(*end) {
			return out, false
		}
		if len(out) == x.cfg.MaxInstances {
			return out, true
		}
		out = append(out, d)
	}
}

// step returns the k-th occurrence of rule starting at seed.
func step(seed caldate.Date, rule model.Repeat, k int) caldate.Date {
	n := k * rule.Interval
	switch rule.Type {
	case model.RepeatDaily:
		return seed.AddDays(n)
	case model.RepeatWeekly:
		return seed.AddDays(7 * n)
	case model.RepeatMonthly:
		return seed.AddMonths(n)
	case model.RepeatYearly:
		return seed.AddYears(n)
	default:
		return seed
	}
}

// Expand materializes seed with the default configuration.
func Expand(seed model.Event) ([]model.Event, error) {
	res, err := NewExpander(Config{}).Expand(seed)
	if err != nil {
		return nil, err
	}
	return res.Instances, nil
}
