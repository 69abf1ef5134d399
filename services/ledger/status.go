package ledger

import (
	"strings"

	"stepschool_go/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type VoucherStatus string

const (
	StatusPending   VoucherStatus = "pending"
	StatusPartial   VoucherStatus = "partial"
	StatusPaid      VoucherStatus = "paid"
	StatusCancelled VoucherStatus = "cancelled"
)

// ParseStatus accepts the four status labels, case-insensitively.
func ParseStatus(s string) (VoucherStatus, bool) {
	switch VoucherStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, true
	case StatusPartial:
		return StatusPartial, true
	case StatusPaid:
		return StatusPaid, true
	case StatusCancelled:
		return StatusCancelled, true
	}
	return "", false
}

// DeriveStatus is the single source of truth for voucher status.
// Precedence: cancelled, paid, partial, pending.
func DeriveStatus(amount, amountPaid decimal.Decimal, cancelled bool) VoucherStatus {
	switch {
	case cancelled:
		return StatusCancelled
	case amountPaid.GreaterThanOrEqual(amount):
		return StatusPaid
	case amountPaid.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

// Balance is amount - amountPaid, never below zero.
func Balance(amount, amountPaid decimal.Decimal) decimal.Decimal {
	b := amount.Sub(amountPaid)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// StatusOf derives the status of a stored voucher.
func StatusOf(v models.Voucher) VoucherStatus {
	return DeriveStatus(v.Amount, v.AmountPaid, v.IsCancelled())
}

// StatusScope restricts a voucher query to rows whose derived status is s.
// The predicates mirror DeriveStatus so SQL filtering and Go derivation agree.
func StatusScope(s VoucherStatus) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		switch s {
		case StatusCancelled:
			return q.Where("vouchers.cancelled_at IS NOT NULL")
		case StatusPaid:
			return q.Where("vouchers.cancelled_at IS NULL AND vouchers.amount_paid >= vouchers.amount")
		case StatusPartial:
			return q.Where("vouchers.cancelled_at IS NULL AND vouchers.amount_paid < vouchers.amount AND vouchers.amount_paid > 0")
		case StatusPending:
			return q.Where("vouchers.cancelled_at IS NULL AND vouchers.amount_paid < vouchers.amount AND vouchers.amount_paid <= 0")
		}
		return q
	}
}
