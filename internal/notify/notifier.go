package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

const (
	defaultSchedule = "* * * * *"
	maxKept         = 100
)

// EventLister is the read side of the event store.
type EventLister interface {
	ListEvents(ctx context.Context) ([]model.Event, error)
}

// Config controls a Notifier.
type Config struct {
	// Schedule is a standard 5-field cron expression. Defaults to every
	// minute.
	Schedule string
	// Location is the zone event times are read in. Defaults to time.Local.
	Location *time.Location
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// OnReminder, if set, is called for each fired reminder.
	OnReminder func(Reminder)
}

// Notifier periodically lists events and records the reminders that became
// due. Each event start is reminded at most once per process.
type Notifier struct {
	events EventLister
	cfg    Config
	cron   *cron.Cron

	mu        sync.Mutex
	notified  map[string]bool
	reminders []Reminder
}

// NewNotifier returns a Notifier reading from events.
func NewNotifier(events EventLister, cfg Config) *Notifier {
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Notifier{
		events:    events,
		cfg:       cfg,
		cron:      cron.New(cron.WithLocation(cfg.Location)),
		notified:  make(map[string]bool),
		reminders: make([]Reminder, 0),
	}
}

// Start schedules the periodic check. It returns an error if the schedule
// does not parse.
func (n *Notifier) Start(ctx context.Context) error {
	_, err := n.cron.AddFunc(n.cfg.Schedule, func() {
		if _, err := n.Check(ctx); err != nil {
			appLog.Error("notify: check failed", err)
		}
	})
	if err != nil {
		return err
	}
	n.cron.Start()
	appLog.Info("notify: scheduler started", "schedule", n.cfg.Schedule)
	return nil
}

// Stop halts the scheduler and waits for a running check to finish.
func (n *Notifier) Stop() {
	<-n.cron.Stop().Done()
	appLog.Info("notify: scheduler stopped")
}

// Check lists events, fires the reminders that are due now and returns them.
func (n *Notifier) Check(ctx context.Context) ([]Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	events, err := n.events.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("notify: list events: %w", err)
	}

	now := n.cfg.Now().In(n.cfg.Location)

	n.mu.Lock()
	due := Due(events, now, n.notified)
	for _, r := range due {
		n.notified[key(r.EventID, r.Start)] = true
		n.reminders = append(n.reminders, r)
	}
	if extra := len(n.reminders) - maxKept; extra > 0 {
		n.reminders = append([]Reminder(nil), n.reminders[extra:]...)
	}
	n.prune(now)
	n.mu.Unlock()

	for _, r := range due {
		appLog.Info("notify: reminder", "id", r.EventID, "title", r.Title, "minutes", r.Minutes, "start", r.Start.Format(time.RFC3339))
		if n.cfg.OnReminder != nil {
			n.cfg.OnReminder(r)
		}
	}
	return due, nil
}

// prune forgets de-duplication keys for starts more than a day in the past.
// Callers hold n.mu.
func (n *Notifier) prune(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	for k := range n.notified {
		i := strings.LastIndex(k, "@")
		if i < 0 {
			continue
		}
		start, err := time.Parse(time.RFC3339, k[i+1:])
		if err == nil && start.Before(cutoff) {
			delete(n.notified, k)
		}
	}
}

// Reminders returns the most recently fired reminders, oldest first.
func (n *Notifier) Reminders() []Reminder {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Reminder, len(n.reminders))
	copy(out, n.reminders)
	return out
}
