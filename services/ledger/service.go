// Package ledger holds the fee ledger rules: voucher status derivation, payment
// recording, voucher generation, client onboarding and the read-side aggregates.
// Every operation takes the caller's Principal explicitly and scopes its queries by it.
package ledger

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service runs ledger operations against a relational store.
type Service struct {
	db            *gorm.DB
	voucherPrefix string
	now           func() time.Time
}

// NewService creates a Service. An empty prefix falls back to "SS".
func NewService(db *gorm.DB, voucherPrefix string) *Service {
	if voucherPrefix == "" {
		voucherPrefix = "SS"
	}
	return &Service{
		db:            db,
		voucherPrefix: voucherPrefix,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source (tests, backfills).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// DB exposes the underlying handle for collaborators that share the connection.
func (s *Service) DB() *gorm.DB {
	return s.db
}

// today is midnight UTC of the current day.
func (s *Service) today() time.Time {
	return truncateDay(s.now())
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// lockForUpdate adds SELECT ... FOR UPDATE where the dialect supports row locks.
// SQLite serialises writers itself and rejects the clause.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ClampLimit applies the default and maximum page size.
func ClampLimit(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}
