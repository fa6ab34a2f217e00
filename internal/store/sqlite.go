package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/mo"

	"eventcal/internal/caldate"
	"eventcal/internal/model"
)

//go:embed schema.sql
var schema string

// SQLiteStore keeps events in a SQLite database, one row per instance.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectEvents = `
	SELECT id, series_id, title, date, start_time, end_time, description, location,
	       category, repeat_type, repeat_interval, repeat_end, notification_time
	FROM events
	ORDER BY date, start_time, id`

func (s *SQLiteStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (model.Event, error) {
	var (
		ev                         model.Event
		date, start, end, category string
		repeatType                 string
		repeatEnd                  sql.NullString
		notification               sql.NullInt64
	)
	err := rows.Scan(&ev.ID, &ev.SeriesID, &ev.Title, &date, &start, &end,
		&ev.Description, &ev.Location, &category, &repeatType, &ev.Repeat.Interval,
		&repeatEnd, &notification)
	if err != nil {
		return ev, err
	}

	if ev.Date, err = caldate.Parse(date); err != nil {
		return ev, err
	}
	if ev.StartTime, err = model.ParseClock(start); err != nil {
		return ev, err
	}
	if ev.EndTime, err = model.ParseClock(end); err != nil {
		return ev, err
	}
	ev.Category = model.Category(category)
	ev.Repeat.Type = model.RepeatType(repeatType)
	if repeatEnd.Valid {
		d, err := caldate.Parse(repeatEnd.String)
		if err != nil {
			return ev, err
		}
		ev.Repeat.EndDate = &d
	}
	if notification.Valid {
		ev.NotificationTime = mo.Some(int(notification.Int64))
	}
	return ev, nil
}

func (s *SQLiteStore) SaveEvents(ctx context.Context, events []model.Event) error {
	if err := checkIDs(events); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO events (id, series_id, title, date, start_time, end_time,
			description, location, category, repeat_type, repeat_interval, repeat_end,
			notification_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		var repeatEnd sql.NullString
		if ev.Repeat.EndDate != nil {
			repeatEnd = sql.NullString{String: ev.Repeat.EndDate.String(), Valid: true}
		}
		var notification sql.NullInt64
		if n, ok := ev.NotificationTime.Get(); ok {
			notification = sql.NullInt64{Int64: int64(n), Valid: true}
		}
		repeatType := ev.Repeat.Type
		if repeatType == "" {
			repeatType = model.RepeatNone
		}

		_, err := stmt.ExecContext(ctx,
			ev.ID, ev.SeriesID, ev.Title, ev.Date.String(), ev.StartTime.String(), ev.EndTime.String(),
			ev.Description, ev.Location, string(ev.Category), string(repeatType), ev.Repeat.Interval,
			repeatEnd, notification,
		)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteEvents(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		res, err := tx.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("delete event %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete event %s: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("delete event %s: %w", id, ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}
