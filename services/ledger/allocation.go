package ledger

import "github.com/shopspring/decimal"

// Allocation is the share of a received pool assigned to one milestone.
type Allocation struct {
	Target        decimal.Decimal `json:"target"`
	Allocated     decimal.Decimal `json:"allocated"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Status        VoucherStatus   `json:"status"`
}

// Allocate spreads pool over targets in order, filling each one before moving on.
// Whatever the targets cannot absorb is returned as remaining.
func Allocate(pool decimal.Decimal, targets []decimal.Decimal) (allocs []Allocation, remaining decimal.Decimal) {
	remaining = pool
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	allocs = make([]Allocation, 0, len(targets))
	for _, target := range targets {
		take := decimal.Min(remaining, target)
		if take.IsNegative() {
			take = decimal.Zero
		}
		remaining = remaining.Sub(take)
		allocs = append(allocs, Allocation{
			Target:        target,
			Allocated:     take,
			BalanceBefore: target,
			BalanceAfter:  Balance(target, take),
			Status:        DeriveStatus(target, take, false),
		})
	}
	return allocs, remaining
}

// MilestoneTotals multiplies per-student milestone amounts by the student count.
func MilestoneTotals(perStudent []decimal.Decimal, students int) []decimal.Decimal {
	n := decimal.NewFromInt(int64(students))
	out := make([]decimal.Decimal, len(perStudent))
	for i, amt := range perStudent {
		out[i] = amt.Mul(n)
	}
	return out
}
