package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"eventcal/internal/model"
)

// PropertySeriesRule carries the recurrence rule of an exported series
// instance. Each instance is exported as its own VEVENT, so the rule is
// informational and a standard RRULE is not emitted.
const PropertySeriesRule = ical.ComponentProperty("X-EVENTCAL-RRULE")

// PropertySeriesID carries the series id of an exported instance.
const PropertySeriesID = ical.ComponentProperty("X-EVENTCAL-SERIES")

const floatingLayout = "20060102T150405"

var frequencies = map[model.RepeatType]rrule.Frequency{
	model.RepeatDaily:   rrule.DAILY,
	model.RepeatWeekly:  rrule.WEEKLY,
	model.RepeatMonthly: rrule.MONTHLY,
	model.RepeatYearly:  rrule.YEARLY,
}

// RuleString renders r as an RFC 5545 RRULE value ("FREQ=DAILY;..."), or ""
// for a non-recurring rule.
func RuleString(r model.Repeat) string {
	freq, ok := frequencies[r.Type]
	if !ok {
		return ""
	}
	opt := rrule.ROption{Freq: freq, Interval: r.Interval}
	if r.EndDate != nil {
		// UNTIL is inclusive; the last second of the end date keeps it so.
		opt.Until = r.EndDate.Time(time.UTC).Add(24*time.Hour - time.Second)
	}
	return opt.RRuleString()
}

// Export renders events as an iCalendar document. Times are written as
// floating local times since events carry no timezone. stamp is used for
// DTSTAMP.
func Export(events []model.Event, stamp time.Time) ([]byte, error) {
	cal := ical.NewCalendarFor("eventcal")
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName("eventcal")

	for _, ev := range events {
		if ev.ID == "" {
			return nil, fmt.Errorf("export: event %q has no id", ev.Title)
		}
		start := ev.Date.Time(time.UTC).Add(time.Duration(ev.StartTime) * time.Minute)
		end := ev.Date.Time(time.UTC).Add(time.Duration(ev.EndTime) * time.Minute)

		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp)
		ve.SetProperty(ical.ComponentPropertyDtStart, start.Format(floatingLayout))
		ve.SetProperty(ical.ComponentPropertyDtEnd, end.Format(floatingLayout))
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.Category != "" {
			ve.AddCategory(string(ev.Category))
		}
		if ev.SeriesID != "" {
			ve.SetProperty(PropertySeriesID, ev.SeriesID)
		}
		if rule := RuleString(ev.Repeat); rule != "" {
			ve.SetProperty(PropertySeriesRule, rule, ical.WithValue(string(ical.ValueDataTypeRecur)))
		}
		if minutes, ok := ev.NotificationTime.Get(); ok {
			alarm := ve.AddAlarm()
			alarm.SetAction(ical.ActionDisplay)
			alarm.SetTrigger(fmt.Sprintf("-PT%dM", minutes))
			alarm.SetProperty(ical.ComponentPropertyDescription, ev.Title)
		}
	}

	return []byte(cal.Serialize()), nil
}
