package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one recorded transaction tied to a subject user and the
// administrator who logged it. Entries are never updated, only deleted.
type LedgerEntry struct {
	ID            string          `json:"id"`
	SubjectID     string          `json:"subject_id" validate:"required,max=64"`
	SubjectName   string          `json:"subject_name" validate:"max=128"`
	Item          string          `json:"item" validate:"max=512"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method" validate:"max=256"`
	LoggedBy      string          `json:"logged_by" validate:"required,max=64"`
	CreatedAt     time.Time       `json:"created_at"`
}

