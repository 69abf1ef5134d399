package ledger

import (
	"context"
	"fmt"
	"time"

	"stepschool_go/models"

	"github.com/shopspring/decimal"
)

// Metrics is the dashboard summary. It is recomputed on every call by scanning the
// vouchers in scope, so cost grows linearly with the voucher count.
type Metrics struct {
	TotalRevenue    decimal.Decimal       `json:"total_revenue"`
	PendingPayments decimal.Decimal       `json:"pending_payments"`
	OverduePayments int                   `json:"overdue_payments"`
	TotalBilled     decimal.Decimal       `json:"total_billed"`
	VoucherCounts   map[VoucherStatus]int `json:"voucher_counts"`
	TotalVouchers   int                   `json:"total_vouchers"`
	TotalClients    int64                 `json:"total_clients"`
	TotalCampuses   int64                 `json:"total_campuses"`
	GeneratedAt     time.Time             `json:"generated_at"`
}

// ClientMetric is one row of the per-client balance table.
type ClientMetric struct {
	ClientID      uint                  `json:"client_id"`
	ClientName    string                `json:"client_name"`
	CampusID      uint                  `json:"campus_id"`
	TotalAmount   decimal.Decimal       `json:"total_amount"`
	TotalPaid     decimal.Decimal       `json:"total_paid"`
	Outstanding   decimal.Decimal       `json:"outstanding"`
	VoucherCounts map[VoucherStatus]int `json:"voucher_counts"`
	Overdue       int                   `json:"overdue"`
	NextDueDate   *time.Time            `json:"next_due_date"`
}

// accumulator folds vouchers into the dashboard figures.
type accumulator struct {
	revenue decimal.Decimal
	pending decimal.Decimal
	billed  decimal.Decimal
	manual  decimal.Decimal
	overdue int
	counts  map[VoucherStatus]int
	nextDue *time.Time
}

func newAccumulator() *accumulator {
	return &accumulator{
		revenue: decimal.Zero,
		pending: decimal.Zero,
		billed:  decimal.Zero,
		manual:  decimal.Zero,
		counts: map[VoucherStatus]int{
			StatusPending: 0, StatusPartial: 0, StatusPaid: 0, StatusCancelled: 0,
		},
	}
}

func (a *accumulator) add(v models.Voucher, today time.Time) {
	status := StatusOf(v)
	a.counts[status]++
	if status == StatusCancelled {
		return
	}
	a.revenue = a.revenue.Add(v.AmountPaid)
	a.billed = a.billed.Add(v.Amount)
	if v.PaymentPlanID == nil {
		a.manual = a.manual.Add(v.Amount)
	}
	if status == StatusPending || status == StatusPartial {
		a.pending = a.pending.Add(Balance(v.Amount, v.AmountPaid))
		if v.DueDate != nil {
			due := v.DueDate.UTC()
			if due.Before(today) {
				a.overdue++
			} else if a.nextDue == nil || due.Before(*a.nextDue) {
				a.nextDue = &due
			}
		}
	}
}

// DashboardMetrics aggregates the vouchers visible to the principal.
func (s *Service) DashboardMetrics(ctx context.Context, p Principal) (Metrics, error) {
	db := s.db.WithContext(ctx)
	var vouchers []models.Voucher
	if err := db.Model(&models.Voucher{}).Scopes(p.scopeVouchers).
		Select("vouchers.id, vouchers.client_id, vouchers.payment_plan_id, vouchers.amount, " +
			"vouchers.amount_paid, vouchers.due_date, vouchers.cancelled_at").
		Find(&vouchers).Error; err != nil {
		return Metrics{}, fmt.Errorf("scan vouchers: %w", err)
	}

	today := s.today()
	acc := newAccumulator()
	for _, v := range vouchers {
		acc.add(v, today)
	}

	m := Metrics{
		TotalRevenue:    acc.revenue,
		PendingPayments: acc.pending,
		OverduePayments: acc.overdue,
		TotalBilled:     acc.billed,
		VoucherCounts:   acc.counts,
		TotalVouchers:   len(vouchers),
		GeneratedAt:     s.now(),
	}
	if err := db.Model(&models.Client{}).Scopes(p.scopeClients).Count(&m.TotalClients).Error; err != nil {
		return Metrics{}, fmt.Errorf("count clients: %w", err)
	}
	if err := db.Model(&models.Campus{}).Scopes(p.scopeCampuses).Count(&m.TotalCampuses).Error; err != nil {
		return Metrics{}, fmt.Errorf("count campuses: %w", err)
	}
	return m, nil
}

// ClientMetrics returns the outstanding balance of every client in scope.
func (s *Service) ClientMetrics(ctx context.Context, p Principal) ([]ClientMetric, error) {
	db := s.db.WithContext(ctx)
	var clients []models.Client
	if err := db.Scopes(p.scopeClients).Preload("PaymentPlan").Order("clients.name, clients.id").
		Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("load clients: %w", err)
	}
	var vouchers []models.Voucher
	if err := db.Model(&models.Voucher{}).Scopes(p.scopeVouchers).
		Select("vouchers.id, vouchers.client_id, vouchers.payment_plan_id, vouchers.amount, " +
			"vouchers.amount_paid, vouchers.due_date, vouchers.cancelled_at").
		Find(&vouchers).Error; err != nil {
		return nil, fmt.Errorf("scan vouchers: %w", err)
	}

	today := s.today()
	byClient := make(map[uint]*accumulator, len(clients))
	for _, v := range vouchers {
		acc, ok := byClient[v.ClientID]
		if !ok {
			acc = newAccumulator()
			byClient[v.ClientID] = acc
		}
		acc.add(v, today)
	}

	out := make([]ClientMetric, 0, len(clients))
	for _, c := range clients {
		acc, ok := byClient[c.ID]
		if !ok {
			acc = newAccumulator()
		}
		total := c.PlanTotal()
		if len(c.PaymentPlan) == 0 {
			total = acc.manual
		}
		out = append(out, ClientMetric{
			ClientID:      c.ID,
			ClientName:    c.Name,
			CampusID:      c.CampusID,
			TotalAmount:   total,
			TotalPaid:     acc.revenue,
			Outstanding:   total.Sub(acc.revenue),
			VoucherCounts: acc.counts,
			Overdue:       acc.overdue,
			NextDueDate:   acc.nextDue,
		})
	}
	return out, nil
}
