// Package postgres is a relational LedgerStore. Deletions are single
// statements, so they are atomic without any application-side lock.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/tallybot/backend/internal/models"
	"github.com/tallybot/backend/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	id             BIGSERIAL PRIMARY KEY,
	subject_id     TEXT NOT NULL,
	subject_name   TEXT NOT NULL DEFAULT '',
	item           TEXT NOT NULL DEFAULT '',
	amount         NUMERIC NOT NULL,
	payment_method TEXT NOT NULL DEFAULT '',
	logged_by      TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_entries_subject_idx ON ledger_entries (subject_id, id);`

const columns = `id, subject_id, subject_name, item, amount, payment_method, logged_by, created_at`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// EnsureSchema creates the ledger table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return classify("ensure schema", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	entry, err := storage.PrepareInsert(entry, s.now())
	if err != nil {
		return models.LedgerEntry{}, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (subject_id, subject_name, item, amount, payment_method, logged_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		entry.SubjectID, entry.SubjectName, entry.Item, entry.Amount, entry.PaymentMethod, entry.LoggedBy, entry.CreatedAt,
	).Scan(&id)
	if err != nil {
		return models.LedgerEntry{}, classify("insert", err)
	}

	entry.ID = strconv.FormatInt(id, 10)
	return entry, nil
}

func (s *Store) ListBySubject(ctx context.Context, subjectID string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+`
		FROM ledger_entries
		WHERE subject_id = $1
		ORDER BY id`, subjectID)
	if err != nil {
		return nil, classify("list", err)
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify("scan", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list", err)
	}
	return entries, nil
}

func (s *Store) DeleteByMatch(ctx context.Context, subjectID string, m storage.Matcher) (models.LedgerEntry, bool, error) {
	conds := []string{"subject_id = $1"}
	args := []any{subjectID}
	if m.Amount != nil {
		args = append(args, *m.Amount)
		conds = append(conds, fmt.Sprintf("amount = $%d", len(args)))
	}
	if m.Item != "" {
		args = append(args, m.Item)
		conds = append(conds, fmt.Sprintf("item = $%d", len(args)))
	}
	if m.PaymentMethod != "" {
		args = append(args, m.PaymentMethod)
		conds = append(conds, fmt.Sprintf("payment_method = $%d", len(args)))
	}

	query := `
		DELETE FROM ledger_entries
		WHERE id = (
			SELECT id FROM ledger_entries
			WHERE ` + strings.Join(conds, " AND ") + `
			ORDER BY id
			LIMIT 1
			FOR UPDATE
		)
		RETURNING ` + columns
	return s.deleteOne(ctx, "delete by match", query, args...)
}

func (s *Store) DeleteByIndex(ctx context.Context, subjectID string, index int) (models.LedgerEntry, bool, error) {
	if index < 1 {
		return models.LedgerEntry{}, false, nil
	}
	query := `
		DELETE FROM ledger_entries
		WHERE id = (
			SELECT id FROM ledger_entries
			WHERE subject_id = $1
			ORDER BY id
			OFFSET $2
			LIMIT 1
			FOR UPDATE
		)
		RETURNING ` + columns
	return s.deleteOne(ctx, "delete by index", query, subjectID, index-1)
}

func (s *Store) deleteOne(ctx context.Context, op, query string, args ...any) (models.LedgerEntry, bool, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.LedgerEntry{}, false, nil
	}
	if err != nil {
		return models.LedgerEntry{}, false, classify(op, err)
	}
	return e, true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (models.LedgerEntry, error) {
	var (
		e  models.LedgerEntry
		id int64
	)
	if err := row.Scan(&id, &e.SubjectID, &e.SubjectName, &e.Item, &e.Amount, &e.PaymentMethod, &e.LoggedBy, &e.CreatedAt); err != nil {
		return models.LedgerEntry{}, err
	}
	e.ID = strconv.FormatInt(id, 10)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// classify marks connection-level failures as transient. Class 08 is
// "connection exception" and 57P0x are server shutdowns.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		if strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57P0") {
			return fmt.Errorf("%w: postgres %s: %v", storage.ErrTransient, op, err)
		}
		return fmt.Errorf("postgres %s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: postgres %s: %v", storage.ErrTransient, op, err)
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}

var (
	_ storage.LedgerStore = (*Store)(nil)
	_ storage.Pinger      = (*Store)(nil)
)
