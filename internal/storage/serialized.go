package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/tallybot/backend/internal/models"
)

// SerializedStore wraps a LedgerStore so that every mutation of a subject
// runs while holding that subject's lock. DeleteByIndex resolves its index
// and deletes under the same lock, so two commands on one subject cannot
// remove the wrong entry. Listing is not locked.
type SerializedStore struct {
	next   LedgerStore
	locker SubjectLocker
}

// NewSerialized wraps next with per-subject locking from locker.
func NewSerialized(next LedgerStore, locker SubjectLocker) *SerializedStore {
	return &SerializedStore{next: next, locker: locker}
}

func (s *SerializedStore) lock(ctx context.Context, subjectID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("lock subject %s: %w", subjectID, err)
	}
	return unlock, nil
}

func (s *SerializedStore) Insert(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	unlock, err := s.lock(ctx, entry.SubjectID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	defer unlock()
	return s.next.Insert(ctx, entry)
}

func (s *SerializedStore) ListBySubject(ctx context.Context, subjectID string) ([]models.LedgerEntry, error) {
	return s.next.ListBySubject(ctx, subjectID)
}

func (s *SerializedStore) DeleteByMatch(ctx context.Context, subjectID string, m Matcher) (models.LedgerEntry, bool, error) {
	unlock, err := s.lock(ctx, subjectID)
	if err != nil {
		return models.LedgerEntry{}, false, err
	}
	defer unlock()
	return s.next.DeleteByMatch(ctx, subjectID, m)
}

func (s *SerializedStore) DeleteByIndex(ctx context.Context, subjectID string, index int) (models.LedgerEntry, bool, error) {
	unlock, err := s.lock(ctx, subjectID)
	if err != nil {
		return models.LedgerEntry{}, false, err
	}
	defer unlock()
	return s.next.DeleteByIndex(ctx, subjectID, index)
}

// Ping forwards to the wrapped store when it supports connectivity checks.
func (s *SerializedStore) Ping(ctx context.Context) error {
	if p, ok := s.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close forwards to the wrapped store when it holds resources.
func (s *SerializedStore) Close() error {
	if c, ok := s.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var (
	_ LedgerStore = (*SerializedStore)(nil)
	_ Pinger      = (*SerializedStore)(nil)
)
