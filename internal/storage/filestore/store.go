// Package filestore keeps the whole ledger in one JSON file. Every mutation
// rewrites the file through a temporary file and an atomic rename, so an
// interrupted write leaves the previous version in place.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tallybot/backend/internal/models"
	"github.com/tallybot/backend/internal/storage"
)

type record struct {
	ID            int64       `json:"id"`
	SubjectID     string      `json:"subject_id"`
	SubjectName   string      `json:"subject_name"`
	Item          string      `json:"item"`
	Amount        json.Number `json:"amount"`
	PaymentMethod string      `json:"payment_method"`
	LoggedBy      string      `json:"logged_by"`
	CreatedAt     time.Time   `json:"created_at"`
}

type ledgerFile struct {
	NextID  int64    `json:"next_id"`
	Entries []record `json:"entries"`
}

func (f *ledgerFile) clone() *ledgerFile {
	c := &ledgerFile{NextID: f.NextID, Entries: make([]record, len(f.Entries))}
	copy(c.Entries, f.Entries)
	return c
}

// Store is a file-backed LedgerStore. It assumes it is the only writer of
// its file.
type Store struct {
	mu    sync.Mutex
	path  string
	state *ledgerFile
	now   func() time.Time
}

// Open loads the ledger at path, creating an empty ledger in memory when the
// file does not exist yet.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	state, err := load(path)
	if err != nil {
		return nil, err
	}

	return &Store{path: path, state: state, now: time.Now}, nil
}

func load(path string) (*ledgerFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &ledgerFile{NextID: 1, Entries: []record{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}

	var state ledgerFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", path, err)
	}
	if state.Entries == nil {
		state.Entries = []record{}
	}

	// Files written before next_id existed: continue after the highest id.
	for _, r := range state.Entries {
		if r.ID >= state.NextID {
			state.NextID = r.ID + 1
		}
	}
	if state.NextID < 1 {
		state.NextID = 1
	}
	return &state, nil
}

// save writes state next to the target and renames it into place.
func save(path string, state *ledgerFile) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		// Not every filesystem supports syncing directories.
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// commit persists next and makes it the current state. On failure the
// current state is left untouched.
func (s *Store) commit(next *ledgerFile) error {
	if err := save(s.path, next); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *Store) Insert(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	entry, err := storage.PrepareInsert(entry, s.now())
	if err != nil {
		return models.LedgerEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return models.LedgerEntry{}, err
	}

	next := s.state.clone()
	r := toRecord(entry)
	r.ID = next.NextID
	next.NextID++
	next.Entries = append(next.Entries, r)

	if err := s.commit(next); err != nil {
		return models.LedgerEntry{}, err
	}
	return fromRecord(r)
}

func (s *Store) ListBySubject(ctx context.Context, subjectID string) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, entries, err := s.subjectEntries(subjectID)
	return entries, err
}

// subjectEntries returns the subject's entries with their positions in the
// flat file.
func (s *Store) subjectEntries(subjectID string) ([]int, []models.LedgerEntry, error) {
	positions := make([]int, 0)
	entries := make([]models.LedgerEntry, 0)
	for i, r := range s.state.Entries {
		if r.SubjectID != subjectID {
			continue
		}
		e, err := fromRecord(r)
		if err != nil {
			return nil, nil, err
		}
		positions = append(positions, i)
		entries = append(entries, e)
	}
	return positions, entries, nil
}

func (s *Store) DeleteByMatch(ctx context.Context, subjectID string, m storage.Matcher) (models.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions, entries, err := s.subjectEntries(subjectID)
	if err != nil {
		return models.LedgerEntry{}, false, err
	}
	for i, e := range entries {
		if m.Matches(e) {
			return s.removeAt(ctx, positions[i], e)
		}
	}
	return models.LedgerEntry{}, false, nil
}

func (s *Store) DeleteByIndex(ctx context.Context, subjectID string, index int) (models.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions, entries, err := s.subjectEntries(subjectID)
	if err != nil {
		return models.LedgerEntry{}, false, err
	}
	if !storage.IndexInRange(index, len(entries)) {
		return models.LedgerEntry{}, false, nil
	}
	return s.removeAt(ctx, positions[index-1], entries[index-1])
}

func (s *Store) removeAt(ctx context.Context, pos int, removed models.LedgerEntry) (models.LedgerEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.LedgerEntry{}, false, err
	}

	next := s.state.clone()
	next.Entries = append(next.Entries[:pos], next.Entries[pos+1:]...)
	if err := s.commit(next); err != nil {
		return models.LedgerEntry{}, false, err
	}
	return removed, true, nil
}

// Ping checks that the ledger directory is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return fmt.Errorf("stat ledger dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("ledger dir %s is not a directory", filepath.Dir(s.path))
	}
	return nil
}

func toRecord(e models.LedgerEntry) record {
	return record{
		SubjectID:     e.SubjectID,
		SubjectName:   e.SubjectName,
		Item:          e.Item,
		Amount:        json.Number(e.Amount.String()),
		PaymentMethod: e.PaymentMethod,
		LoggedBy:      e.LoggedBy,
		CreatedAt:     e.CreatedAt,
	}
}

func fromRecord(r record) (models.LedgerEntry, error) {
	amount := decimal.Zero
	if r.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(r.Amount.String())
		if err != nil {
			return models.LedgerEntry{}, fmt.Errorf("entry %d: bad amount %q: %w", r.ID, r.Amount, err)
		}
	}
	return models.LedgerEntry{
		ID:            strconv.FormatInt(r.ID, 10),
		SubjectID:     r.SubjectID,
		SubjectName:   r.SubjectName,
		Item:          r.Item,
		Amount:        amount,
		PaymentMethod: r.PaymentMethod,
		LoggedBy:      r.LoggedBy,
		CreatedAt:     r.CreatedAt,
	}, nil
}

var (
	_ storage.LedgerStore = (*Store)(nil)
	_ storage.Pinger      = (*Store)(nil)
)
