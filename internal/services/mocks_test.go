package services

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/tallybot/backend/internal/models"
	"github.com/tallybot/backend/internal/storage"
)

type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) Insert(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	args := m.Called(ctx, entry)
	return args.Get(0).(models.LedgerEntry), args.Error(1)
}

func (m *MockLedgerStore) ListBySubject(ctx context.Context, subjectID string) ([]models.LedgerEntry, error) {
	args := m.Called(ctx, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LedgerEntry), args.Error(1)
}

func (m *MockLedgerStore) DeleteByMatch(ctx context.Context, subjectID string, matcher storage.Matcher) (models.LedgerEntry, bool, error) {
	args := m.Called(ctx, subjectID, matcher)
	return args.Get(0).(models.LedgerEntry), args.Bool(1), args.Error(2)
}

func (m *MockLedgerStore) DeleteByIndex(ctx context.Context, subjectID string, index int) (models.LedgerEntry, bool, error) {
	args := m.Called(ctx, subjectID, index)
	return args.Get(0).(models.LedgerEntry), args.Bool(1), args.Error(2)
}

// MockPingStore adds Ping to MockLedgerStore.
type MockPingStore struct {
	MockLedgerStore
}

func (m *MockPingStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
