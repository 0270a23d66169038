// Package storagetest holds the behavioural checks every LedgerStore must
// pass. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallybot/backend/internal/models"
	"github.com/tallybot/backend/internal/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.LedgerStore

// NewEntry builds a valid entry for subject with the given amount.
func NewEntry(subject, amount string) models.LedgerEntry {
	return models.LedgerEntry{
		SubjectID:     subject,
		SubjectName:   "user-" + subject,
		Item:          "item " + amount,
		Amount:        decimal.RequireFromString(amount),
		PaymentMethod: "cashapp",
		LoggedBy:      "admin-1",
	}
}

// IDs returns the identifiers of entries in order.
func IDs(entries []models.LedgerEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

// Run executes the contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("insert assigns unique ids", func(t *testing.T) {
		s := newStore(t)
		seen := make(map[string]bool)
		for i := 0; i < 20; i++ {
			subject := fmt.Sprintf("U%d", i%3)
			e, err := s.Insert(ctx, NewEntry(subject, fmt.Sprintf("%d.5", i)))
			require.NoError(t, err)
			require.NotEmpty(t, e.ID)
			assert.False(t, seen[e.ID], "duplicate id %s", e.ID)
			seen[e.ID] = true
		}
	})

	t.Run("insert keeps every field", func(t *testing.T) {
		s := newStore(t)
		in := NewEntry("U1", "19.99")
		out, err := s.Insert(ctx, in)
		require.NoError(t, err)

		assert.Equal(t, in.SubjectID, out.SubjectID)
		assert.Equal(t, in.SubjectName, out.SubjectName)
		assert.Equal(t, in.Item, out.Item)
		assert.True(t, in.Amount.Equal(out.Amount))
		assert.Equal(t, in.PaymentMethod, out.PaymentMethod)
		assert.Equal(t, in.LoggedBy, out.LoggedBy)
		assert.False(t, out.CreatedAt.IsZero())

		listed, err := s.ListBySubject(ctx, "U1")
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, out.ID, listed[0].ID)
		assert.Equal(t, out.Item, listed[0].Item)
		assert.True(t, out.Amount.Equal(listed[0].Amount))
	})

	t.Run("insert rejects missing subject or actor", func(t *testing.T) {
		s := newStore(t)

		noSubject := NewEntry("", "1")
		_, err := s.Insert(ctx, noSubject)
		assert.ErrorIs(t, err, storage.ErrInvalidEntry)

		noActor := NewEntry("U1", "1")
		noActor.LoggedBy = ""
		_, err = s.Insert(ctx, noActor)
		assert.ErrorIs(t, err, storage.ErrInvalidEntry)

		withID := NewEntry("U1", "1")
		withID.ID = "42"
		_, err = s.Insert(ctx, withID)
		assert.ErrorIs(t, err, storage.ErrInvalidEntry)

		listed, err := s.ListBySubject(ctx, "U1")
		require.NoError(t, err)
		assert.Empty(t, listed)
	})

	t.Run("list of unknown subject is empty", func(t *testing.T) {
		s := newStore(t)
		listed, err := s.ListBySubject(ctx, "nobody")
		require.NoError(t, err)
		assert.NotNil(t, listed)
		assert.Empty(t, listed)
	})

	t.Run("list preserves insertion order per subject", func(t *testing.T) {
		s := newStore(t)
		var want []string
		for i := 0; i < 6; i++ {
			e, err := s.Insert(ctx, NewEntry("U1", fmt.Sprint(i+1)))
			require.NoError(t, err)
			want = append(want, e.ID)
			_, err = s.Insert(ctx, NewEntry("U9", fmt.Sprint(i+1)))
			require.NoError(t, err)
		}

		listed, err := s.ListBySubject(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, want, IDs(listed))
	})

	t.Run("log list unlog by amount", func(t *testing.T) {
		s := newStore(t)
		e, err := s.Insert(ctx, NewEntry("U1", "25.0"))
		require.NoError(t, err)

		listed, err := s.ListBySubject(ctx, "U1")
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.True(t, listed[0].Amount.Equal(decimal.RequireFromString("25")))

		removed, ok, err := s.DeleteByMatch(ctx, "U1", storage.MatchAmount(decimal.RequireFromString("25.0")))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, e.ID, removed.ID)

		listed, err = s.ListBySubject(ctx, "U1")
		require.NoError(t, err)
		assert.Empty(t, listed)
	})

	t.Run("delete by match removes only the earliest match", func(t *testing.T) {
		s := newStore(t)
		first, err := s.Insert(ctx, NewEntry("U1", "10"))
		require.NoError(t, err)
		second, err := s.Insert(ctx, NewEntry("U1", "10"))
		require.NoError(t, err)
		other, err := s.Insert(ctx, NewEntry("U2", "10"))
		require.NoError(t, err)

		removed, ok, err := s.DeleteByMatch(ctx, "U1", storage.MatchAmount(decimal.NewFromInt(10)))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, first.ID, removed.ID)

		listed, err := s.ListBySubject(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, []string{second.ID}, IDs(listed))

		listed, err = s.ListBySubject(ctx, "U2")
		require.NoError(t, err)
		assert.Equal(t, []string{other.ID}, IDs(listed))
	})

	t.Run("delete by index removes that position", func(t *testing.T) {
		s := newStore(t)
		var ids []string
		for _, amount := range []string{"1", "2", "3"} {
			e, err := s.Insert(ctx, NewEntry("U2", amount))
			require.NoError(t, err)
			ids = append(ids, e.ID)
		}

		removed, ok, err := s.DeleteByIndex(ctx, "U2", 2)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ids[1], removed.ID)

		listed, err := s.ListBySubject(ctx, "U2")
		require.NoError(t, err)
		assert.Equal(t, []string{ids[0], ids[2]}, IDs(listed))
	})

	t.Run("missing targets leave the store unchanged", func(t *testing.T) {
		s := newStore(t)
		for _, amount := range []string{"1", "2"} {
			_, err := s.Insert(ctx, NewEntry("U1", amount))
			require.NoError(t, err)
		}
		before, err := s.ListBySubject(ctx, "U1")
		require.NoError(t, err)

		_, ok, err := s.DeleteByMatch(ctx, "U1", storage.MatchAmount(decimal.NewFromInt(99)))
		require.NoError(t, err)
		assert.False(t, ok)

		for _, index := range []int{-1, 0, 3, 100} {
			_, ok, err = s.DeleteByIndex(ctx, "U1", index)
			require.NoError(t, err)
			assert.False(t, ok, "index %d", index)
		}

		_, ok, err = s.DeleteByIndex(ctx, "nobody", 1)
		require.NoError(t, err)
		assert.False(t, ok)

		after, err := s.ListBySubject(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, IDs(before), IDs(after))
	})

	t.Run("ids are not reused after delete", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Insert(ctx, NewEntry("U1", "1"))
		require.NoError(t, err)
		_, ok, err := s.DeleteByIndex(ctx, "U1", 1)
		require.NoError(t, err)
		require.True(t, ok)

		b, err := s.Insert(ctx, NewEntry("U1", "1"))
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("concurrent deletes never remove an entry twice", func(t *testing.T) {
		s := newStore(t)
		const n = 8
		for i := 0; i < n; i++ {
			_, err := s.Insert(ctx, NewEntry("U1", "5"))
			require.NoError(t, err)
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			removed = make(map[string]int)
		)
		for i := 0; i < n*2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e, ok, err := s.DeleteByMatch(ctx, "U1", storage.MatchAmount(decimal.NewFromInt(5)))
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					removed[e.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, removed, n)
		for id, count := range removed {
			assert.Equal(t, 1, count, "entry %s removed %d times", id, count)
		}
		listed, err := s.ListBySubject(ctx, "U1")
		require.NoError(t, err)
		assert.Empty(t, listed)
	})
}
