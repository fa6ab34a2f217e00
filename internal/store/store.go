// Package store persists calendar events. The core never talks to a
// backend directly; it reads a snapshot with ListEvents and hands back whole
// batches to SaveEvents and DeleteEvents.
package store

import (
	"context"
	"errors"
	"fmt"

	"eventcal/internal/model"
)

// Store is the event collection the calendar service works against.
type Store interface {
	// ListEvents returns every stored event ordered by date, then start time.
	ListEvents(ctx context.Context) ([]model.Event, error)
	// SaveEvents inserts or replaces events by ID. The batch is applied
	// entirely or not at all.
	SaveEvents(ctx context.Context, events []model.Event) error
	// DeleteEvents removes the events with the given IDs. Unknown IDs are
	// reported with ErrNotFound and nothing is removed.
	DeleteEvents(ctx context.Context, ids []string) error
	// Close releases the backend.
	Close() error
}

var (
	// ErrNotFound is returned when a requested event doesn't exist.
	ErrNotFound = errors.New("event not found")
	// ErrInvalidInput is returned for events without an ID.
	ErrInvalidInput = errors.New("invalid input parameters")
)

const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// Open returns the store for driver rooted at path.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", DriverJSON:
		return NewJSONStore(path)
	case DriverSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// Get finds one event by ID in s.
func Get(ctx context.Context, s Store, id string) (model.Event, error) {
	events, err := s.ListEvents(ctx)
	if err != nil {
		return model.Event{}, err
	}
	for _, ev := range events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return model.Event{}, fmt.Errorf("get event %s: %w", id, ErrNotFound)
}

func checkIDs(events []model.Event) error {
	for _, ev := range events {
		if ev.ID == "" {
			return fmt.Errorf("save event %q without id: %w", ev.Title, ErrInvalidInput)
		}
	}
	return nil
}

// less orders events by date, then start time, then ID.
func less(a, b model.Event) bool {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c < 0
	}
	if a.StartTime != b.StartTime {
		return a.StartTime < b.StartTime
	}
	return a.ID < b.ID
}
