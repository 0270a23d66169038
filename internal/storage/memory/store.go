// Package memory is an in-process LedgerStore used by tests and by the
// "memory" storage backend.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/tallybot/backend/internal/models"
	"github.com/tallybot/backend/internal/storage"
)

// Store keeps entries in one slice in insertion order.
type Store struct {
	mu      sync.Mutex
	entries []models.LedgerEntry
	nextID  int64
	now     func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		entries: make([]models.LedgerEntry, 0),
		nextID:  1,
		now:     time.Now,
	}
}

func (s *Store) Insert(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	entry, err := storage.PrepareInsert(entry, s.now())
	if err != nil {
		return models.LedgerEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = strconv.FormatInt(s.nextID, 10)
	s.nextID++
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *Store) ListBySubject(ctx context.Context, subjectID string) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.bySubject(subjectID), nil
}

func (s *Store) bySubject(subjectID string) []models.LedgerEntry {
	result := make([]models.LedgerEntry, 0)
	for _, e := range s.entries {
		if e.SubjectID == subjectID {
			result = append(result, e)
		}
	}
	return result
}

func (s *Store) DeleteByMatch(ctx context.Context, subjectID string, m storage.Matcher) (models.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.SubjectID == subjectID && m.Matches(e) {
			s.removeAt(i)
			return e, true, nil
		}
	}
	return models.LedgerEntry{}, false, nil
}

func (s *Store) DeleteByIndex(ctx context.Context, subjectID string, index int) (models.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.bySubject(subjectID)
	if !storage.IndexInRange(index, len(snapshot)) {
		return models.LedgerEntry{}, false, nil
	}
	target := snapshot[index-1]
	for i, e := range s.entries {
		if e.ID == target.ID {
			s.removeAt(i)
			return e, true, nil
		}
	}
	return models.LedgerEntry{}, false, nil
}

func (s *Store) removeAt(i int) {
	s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
}

var _ storage.LedgerStore = (*Store)(nil)
