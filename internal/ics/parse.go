package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"eventcal/internal/caldate"
	appLog "eventcal/internal/log"
)

// Holiday is one VEVENT of a holiday feed, reduced to what the overlay
// needs: a name on a civil date, optionally recurring.
type Holiday struct {
	Feed    Feed
	UID     string
	Name    string
	Date    caldate.Date
	AllDay  bool
	RRule   string
	ExDates []caldate.Date
}

// ParseHolidays parses an ICS payload into holidays.
//
// DTSTART is read as a civil date: all-day values (VALUE=DATE or no time
// part) directly, timed values by their wall-clock date. Events without a
// UID or a usable DTSTART are logged and skipped.
func ParseHolidays(feed Feed, body []byte) ([]Holiday, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", feed.ID)
		return nil, err
	}

	out := make([]Holiday, 0)
	for _, ve := range cal.Events() {
		h, err := parseHoliday(feed, ve)
		if err != nil {
			appLog.Warn("ics vevent skipped", "id", feed.ID, "reason", err.Error())
			continue
		}
		out = append(out, h)
	}

	appLog.Debug("ics parse completed", "id", feed.ID, "holidays", len(out))
	return out, nil
}

func parseHoliday(feed Feed, ve *ical.VEvent) (Holiday, error) {
	h := Holiday{Feed: feed}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return h, errors.New("missing UID")
	}
	h.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		h.Name = strings.TrimSpace(ical.FromText(p.Value))
	}

	start := ve.GetProperty(ical.ComponentPropertyDtStart)
	if start == nil {
		return h, errors.New("missing DTSTART")
	}
	if vs := start.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		h.AllDay = true
	}
	if !strings.Contains(start.Value, "T") {
		h.AllDay = true
	}
	d, err := parseICSDate(start.Value)
	if err != nil {
		return h, err
	}
	h.Date = d

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		h.RRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if ex, err := parseICSDate(part); err == nil {
				h.ExDates = append(h.ExDates, ex)
			}
		}
	}

	return h, nil
}

// parseICSDate reads the civil date of an ICS DATE or DATE-TIME value. UTC
// values are converted to local time first.
func parseICSDate(v string) (caldate.Date, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return caldate.Date{}, errors.New("empty date value")
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return caldate.Date{}, err
		}
		return caldate.FromTime(t.Local()), nil
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation("20060102T150405", v, time.Local)
		if err != nil {
			return caldate.Date{}, err
		}
		return caldate.FromTime(t), nil
	default:
		t, err := time.ParseInLocation("20060102", v, time.Local)
		if err != nil {
			return caldate.Date{}, err
		}
		return caldate.FromTime(t), nil
	}
}
