// Package storage defines the ledger persistence contract shared by every
// backend, plus the per-subject serialization wrapper used in production.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tallybot/backend/internal/models"
)

var (
	// ErrInvalidEntry is returned by Insert when a required field is missing
	// or the caller tried to choose the identifier.
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrTransient marks failures worth retrying by the user (network loss,
	// timeouts). Stores never retry on their own.
	ErrTransient = errors.New("storage temporarily unavailable")
)

// LedgerStore persists ledger entries. Implementations must be safe for
// concurrent use and must return copies, never references to stored state.
type LedgerStore interface {
	// Insert assigns the identifier, persists the entry and returns it as
	// stored. CreatedAt is set when the caller left it zero.
	Insert(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error)

	// ListBySubject returns the subject's entries in creation order. A
	// subject with no entries yields an empty slice and a nil error.
	ListBySubject(ctx context.Context, subjectID string) ([]models.LedgerEntry, error)

	// DeleteByMatch removes the earliest entry of the subject accepted by m.
	// The boolean is false when nothing matched.
	DeleteByMatch(ctx context.Context, subjectID string, m Matcher) (models.LedgerEntry, bool, error)

	// DeleteByIndex removes the entry at the 1-based position of the
	// subject's current listing. The boolean is false when index is outside
	// [1, len].
	DeleteByIndex(ctx context.Context, subjectID string, index int) (models.LedgerEntry, bool, error)
}

// Pinger is implemented by stores that can verify backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Matcher selects entries by field equality. Zero-valued fields match
// anything.
type Matcher struct {
	Amount        *decimal.Decimal
	Item          string
	PaymentMethod string
}

// MatchAmount returns a Matcher selecting entries with the given amount.
func MatchAmount(amount decimal.Decimal) Matcher {
	return Matcher{Amount: &amount}
}

// Matches reports whether e is accepted by m.
func (m Matcher) Matches(e models.LedgerEntry) bool {
	if m.Amount != nil && !e.Amount.Equal(*m.Amount) {
		return false
	}
	if m.Item != "" && e.Item != m.Item {
		return false
	}
	if m.PaymentMethod != "" && e.PaymentMethod != m.PaymentMethod {
		return false
	}
	return true
}

// PrepareInsert checks the invariants every backend enforces before
// persisting and stamps CreatedAt.
func PrepareInsert(entry models.LedgerEntry, now time.Time) (models.LedgerEntry, error) {
	if entry.ID != "" {
		return models.LedgerEntry{}, ErrInvalidEntry
	}
	if strings.TrimSpace(entry.SubjectID) == "" || strings.TrimSpace(entry.LoggedBy) == "" {
		return models.LedgerEntry{}, ErrInvalidEntry
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}

// IndexInRange reports whether the 1-based index addresses one of n entries.
func IndexInRange(index, n int) bool {
	return index >= 1 && index <= n
}
