package model

import (
	"fmt"
	"strings"

	"github.com/samber/mo"

	"eventcal/internal/caldate"
)

// Category tags an event with one of a fixed set of labels.
type Category string

const (
	CategoryWork     Category = "업무"
	CategoryPersonal Category = "개인"
	CategoryFamily   Category = "가족"
	CategoryOther    Category = "기타"
)

// Categories lists the accepted categories in display order.
var Categories = []Category{CategoryWork, CategoryPersonal, CategoryFamily, CategoryOther}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// RepeatType is the recurrence frequency of an event.
type RepeatType string

const (
	RepeatNone    RepeatType = "none"
	RepeatDaily   RepeatType = "daily"
	RepeatWeekly  RepeatType = "weekly"
	RepeatMonthly RepeatType = "monthly"
	RepeatYearly  RepeatType = "yearly"
)

// Repeat is the recurrence rule every instance of a series carries.
type Repeat struct {
	Type     RepeatType    `json:"type"`
	Interval int           `json:"interval"`
	EndDate  *caldate.Date `json:"endDate,omitempty"`
}

// NoRepeat is the rule a detached or standalone event carries.
func NoRepeat() Repeat {
	return Repeat{Type: RepeatNone, Interval: 0}
}

// IsRecurring reports whether the rule produces more than the seed.
func (r Repeat) IsRecurring() bool {
	return r.Type != "" && r.Type != RepeatNone
}

// NotificationOptions are the reminder offsets, in minutes, offered to users.
var NotificationOptions = []int{1, 10, 60, 120, 1440}

// Event is one materialized calendar entry. Instances of a recurring series
// share SeriesID; everything but ID and Date is identical at creation.
type Event struct {
	ID          string       `json:"id"`
	SeriesID    string       `json:"seriesId,omitempty"`
	Title       string       `json:"title"`
	Date        caldate.Date `json:"date"`
	StartTime   Clock        `json:"startTime"`
	EndTime     Clock        `json:"endTime"`
	Description string       `json:"description"`
	Location    string       `json:"location"`
	Category    Category     `json:"category"`
	Repeat      Repeat       `json:"repeat"`
	// NotificationTime is minutes before StartTime. None means no reminder,
	// Some(0) means remind at the start time.
	NotificationTime mo.Option[int] `json:"notificationTime"`
}

// IsRecurring reports whether e is still attached to a series rule.
func (e Event) IsRecurring() bool {
	return e.Repeat.IsRecurring()
}

// Detached returns a copy of e converted into a standalone event.
func (e Event) Detached() Event {
	e.Repeat = NoRepeat()
	e.SeriesID = ""
	return e
}

// Validate checks the invariants of a single event: strict time order, a
// known category and, for recurring events, a well-formed rule.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return &ValidationError{Field: "title", Reason: "필수 정보를 모두 입력해주세요."}
	}
	if e.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "필수 정보를 모두 입력해주세요."}
	}
	if e.StartTime >= e.EndTime {
		return &TimeOrderError{Start: e.StartTime, End: e.EndTime}
	}
	if e.Category != "" && !e.Category.Valid() {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", e.Category)}
	}
	if n, ok := e.NotificationTime.Get(); ok && n < 0 {
		return &ValidationError{Field: "notificationTime", Reason: "must not be negative"}
	}
	return ValidateRule(e.Date, e.Repeat)
}

// ValidateRule checks a repeat rule against the seed date it starts from.
func ValidateRule(seed caldate.Date, r Repeat) error {
	switch r.Type {
	case "", RepeatNone:
		return nil
	case RepeatDaily, RepeatWeekly, RepeatMonthly, RepeatYearly:
	default:
		return &InvalidRuleError{Rule: r, Reason: fmt.Sprintf("unknown repeat type %q", r.Type)}
	}
	if r.Interval <= 0 {
		return &InvalidRuleError{Rule: r, Reason: "interval must be positive"}
	}
	if r.EndDate != nil && r.EndDate.Before(seed) {
		return &InvalidRuleError{Rule: r, Reason: "end date is before start date"}
	}
	return nil
}
