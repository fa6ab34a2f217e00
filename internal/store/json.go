package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

// jsonFile is the on-disk shape: {"events": [...]}.
type jsonFile struct {
	Events []model.Event `json:"events"`
}

// JSONStore keeps the whole collection in one JSON file and rewrites it
// atomically on every mutation.
type JSONStore struct {
	mu     sync.RWMutex
	path   string
	events []model.Event
}

// NewJSONStore opens the file at path, creating an empty collection if it
// does not exist yet.
func NewJSONStore(path string) (*JSONStore, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}
	s := &JSONStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read events file: %w", err)
		}
		s.events = []model.Event{}
		appLog.Info("store: starting empty event file", "path", path)
		return s, nil
	}

	var f jsonFile
	if len(data) > 0 {
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode events file: %w", err)
		}
	}
	if f.Events == nil {
		f.Events = []model.Event{}
	}
	s.events = f.Events
	appLog.Info("store: loaded events", "path", path, "count", len(s.events))
	return s, nil
}

func (s *JSONStore) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.events)
	slices.SortStableFunc(out, func(a, b model.Event) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		default:
			return 0
		}
	})
	return out, nil
}

func (s *JSONStore) SaveEvents(_ context.Context, events []model.Event) error {
	if err := checkIDs(events); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(s.events)
	index := make(map[string]int, len(next))
	for i, ev := range next {
		index[ev.ID] = i
	}
	for _, ev := range events {
		if i, ok := index[ev.ID]; ok {
			next[i] = ev
			continue
		}
		index[ev.ID] = len(next)
		next = append(next, ev)
	}

	if err := s.write(next); err != nil {
		return err
	}
	s.events = next
	return nil
}

func (s *JSONStore) DeleteEvents(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	next := make([]model.Event, 0, len(s.events))
	found := 0
	for _, ev := range s.events {
		if drop[ev.ID] {
			found++
			continue
		}
		next = append(next, ev)
	}
	if found != len(drop) {
		return fmt.Errorf("delete %d events: %w", len(ids), ErrNotFound)
	}

	if err := s.write(next); err != nil {
		return err
	}
	s.events = next
	return nil
}

func (s *JSONStore) Close() error {
	return nil
}

// write replaces the file atomically: temp file in the same directory,
// fsync, chmod 0600, rename.
func (s *JSONStore) write(events []model.Event) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(jsonFile{Events: events}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".eventcal-events-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
