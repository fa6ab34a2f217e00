// Package notify computes which events are due for a reminder and runs the
// periodic check that records them.
package notify

import (
	"fmt"
	"sort"
	"time"

	"eventcal/internal/model"
)

// Reminder is one fired notification for one event instance.
type Reminder struct {
	EventID string    `json:"eventId"`
	Title   string    `json:"title"`
	Start   time.Time `json:"start"`
	Minutes int       `json:"minutes"`
	Message string    `json:"message"`
	FiredAt time.Time `json:"firedAt"`
}

// Key identifies a reminder for de-duplication. It includes the start time
// so that an event moved to a new time is reminded again.
func Key(ev model.Event, loc *time.Location) string {
	return key(ev.ID, StartOf(ev, loc))
}

func key(id string, start time.Time) string {
	return id + "@" + start.Format(time.RFC3339)
}

// StartOf returns the wall-clock start of ev in loc.
func StartOf(ev model.Event, loc *time.Location) time.Time {
	return ev.Date.Time(loc).Add(time.Duration(ev.StartTime) * time.Minute)
}

// Message renders the reminder text shown to the user.
func Message(title string, minutes int) string {
	if minutes == 0 {
		return fmt.Sprintf("지금 %s 일정이 시작됩니다.", title)
	}
	return fmt.Sprintf("%d분 후 %s 일정이 시작됩니다.", minutes, title)
}

// Due returns reminders for the events whose notification window contains
// now and whose key is not in notified. now is truncated to the minute.
//
// With a lead of N > 0 minutes an event is due while its start lies in
// (now, now+N]. With N = 0 it is due in the minute it starts. Events without
// a notification time are never due. The result is ordered by start time.
func Due(events []model.Event, now time.Time, notified map[string]bool) []Reminder {
	loc := now.Location()
	tick := now.Truncate(time.Minute)

	out := make([]Reminder, 0)
	for _, ev := range events {
		minutes, ok := ev.NotificationTime.Get()
		if !ok || minutes < 0 {
			continue
		}
		if notified[Key(ev, loc)] {
			continue
		}

		start := StartOf(ev, loc)
		lead := start.Sub(tick)
		window := time.Duration(minutes) * time.Minute

		due := false
		if minutes == 0 {
			due = lead == 0
		} else {
			due = lead > 0 && lead <= window
		}
		if !due {
			continue
		}

		out = append(out, Reminder{
			EventID: ev.ID,
			Title:   ev.Title,
			Start:   start,
			Minutes: minutes,
			Message: Message(ev.Title, minutes),
			FiredAt: now,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}
