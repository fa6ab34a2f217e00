package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	"eventcal/internal/caldate"
	appLog "eventcal/internal/log"
)

const defaultMaxPerHoliday = 500

// ExpandConfig bounds holiday expansion.
type ExpandConfig struct {
	// From and To are the inclusive date window.
	From caldate.Date
	To   caldate.Date
	// MaxPerHoliday caps occurrences of one recurring holiday. Zero means
	// defaultMaxPerHoliday.
	MaxPerHoliday int
}

// ExpandResult maps YYYY-MM-DD to holiday names inside the window.
type ExpandResult struct {
	Days map[string]string
	// Truncated lists UIDs that hit MaxPerHoliday.
	Truncated []string
}

// ExpandHolidays resolves recurring holidays with rrule-go and returns every
// holiday date inside the window. When two holidays fall on the same day the
// first one in input order wins.
func ExpandHolidays(holidays []Holiday, cfg ExpandConfig) (ExpandResult, error) {
	res := ExpandResult{Days: make(map[string]string)}
	if cfg.To.Before(cfg.From) {
		return res, errors.New("expand: To is before From")
	}
	if cfg.MaxPerHoliday <= 0 {
		cfg.MaxPerHoliday = defaultMaxPerHoliday
	}

	for _, h := range holidays {
		dates, capped := expandHoliday(h, cfg)
		if capped {
			res.Truncated = append(res.Truncated, h.UID)
			appLog.Error("expand: truncated holiday occurrences due to cap",
				errors.New("max occurrences reached"),
				"uid", h.UID,
				"cap", cfg.MaxPerHoliday,
			)
		}
		for _, d := range dates {
			key := d.String()
			if _, taken := res.Days[key]; !taken {
				res.Days[key] = h.Name
			}
		}
	}
	return res, nil
}

func expandHoliday(h Holiday, cfg ExpandConfig) ([]caldate.Date, bool) {
	if h.RRule == "" {
		if h.Date.Before(cfg.From) || h.Date.After(cfg.To) {
			return nil, false
		}
		return []caldate.Date{h.Date}, false
	}

	r, err := rrule.StrToRRule(h.RRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", h.UID, "rrule", h.RRule)
		return nil, false
	}
	// Expansion runs on UTC midnights so DST never shifts a date.
	r.DTStart(h.Date.Time(time.UTC))

	var set rrule.Set
	set.RRule(r)
	for _, ex := range h.ExDates {
		set.ExDate(ex.Time(time.UTC))
	}

	times := set.Between(cfg.From.Time(time.UTC), cfg.To.Time(time.UTC), true)
	capped := false
	if len(times) > cfg.MaxPerHoliday {
		times = times[:cfg.MaxPerHoliday]
		capped = true
	}

	out := make([]caldate.Date, 0, len(times))
	for _, t := range times {
		out = append(out, caldate.FromTime(t))
	}
	return out, capped
}
