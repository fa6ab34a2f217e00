package store

import (
	"context"

	"github.com/stretchr/testify/mock"

	"eventcal/internal/model"
)

// MockStore implements the Store interface for testing
type MockStore struct {
	mock.Mock
}

// ListEvents implements the Store interface
func (m *MockStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Event), args.Error(1)
}

// SaveEvents implements the Store interface
func (m *MockStore) SaveEvents(ctx context.Context, events []model.Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// DeleteEvents implements the Store interface
func (m *MockStore) DeleteEvents(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
