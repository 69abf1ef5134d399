package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stepschool_go/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProgramInput is one program row of a client form.
type ProgramInput struct {
	ProgramName string
	SeatCount   int
}

// PlanEntryInput is one milestone of a client's payment plan.
type PlanEntryInput struct {
	PaymentType  string
	Amount       decimal.Decimal
	DisplayOrder int
}

// ClientInput creates or replaces a client. On update, nil Programs or PaymentPlan
// leave the stored rows untouched.
type ClientInput struct {
	Name         string
	DirectorName string
	City         string
	CampusID     uint
	SeatCost     decimal.Decimal
	Programs     []ProgramInput
	PaymentPlan  []PlanEntryInput
}

// ClientFilter narrows ListClients.
type ClientFilter struct {
	CampusID uint
	Search   string
	Limit    int
	Offset   int
}

// ClientView is a client with its contract figures.
type ClientView struct {
	models.Client
	CampusName          string          `json:"campus_name"`
	TotalSeats          int             `json:"total_seats"`
	ContractTotal       decimal.Decimal `json:"contract_total"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	PlanMatchesContract bool            `json:"plan_matches_contract"`
	TotalPaid           decimal.Decimal `json:"total_paid"`
	Outstanding         decimal.Decimal `json:"outstanding"`
}

// PlanEntryView is a payment plan entry with the state of its active voucher.
type PlanEntryView struct {
	models.PaymentPlan
	VoucherID     *uint           `json:"voucher_id"`
	VoucherNumber string          `json:"voucher_number"`
	Status        string          `json:"status"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Balance       decimal.Decimal `json:"balance"`
}

// PaymentHistoryEntry is one payment with the voucher it was recorded against.
type PaymentHistoryEntry struct {
	ID            uint            `json:"id"`
	VoucherID     uint            `json:"voucher_id"`
	VoucherNumber string          `json:"voucher_number"`
	Label         string          `json:"label"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	PaymentDate   time.Time       `json:"payment_date"`
	Notes         string          `json:"notes"`
	RecordedBy    uint            `json:"recorded_by"`
}

// ClientDetail is the full client page.
type ClientDetail struct {
	ClientView
	Plan              []PlanEntryView       `json:"payment_plan"`
	MilestoneVouchers []VoucherView         `json:"milestone_vouchers"`
	ManualVouchers    []VoucherView         `json:"manual_vouchers"`
	PaymentHistory    []PaymentHistoryEntry `json:"payment_history"`
}

// planNotGenerated marks a plan entry without an active voucher.
const planNotGenerated = "not_generated"

type clientTotals struct {
	ClientID uint
	Paid     decimal.Decimal
	Manual   decimal.Decimal
}

func newClientView(c models.Client, t clientTotals) ClientView {
	total := c.PlanTotal()
	if len(c.PaymentPlan) == 0 {
		total = t.Manual
	}
	contract := c.ContractTotal()
	v := ClientView{
		Client:              c,
		CampusName:          c.Campus.Name,
		TotalSeats:          c.TotalSeats(),
		ContractTotal:       contract,
		TotalAmount:         total,
		PlanMatchesContract: len(c.PaymentPlan) == 0 || c.PlanTotal().Equal(contract),
		TotalPaid:           t.Paid,
		Outstanding:         total.Sub(t.Paid),
	}
	return v
}

// totalsFor sums non-cancelled vouchers per client in a single grouped query.
func totalsFor(db *gorm.DB, clientIDs []uint) (map[uint]clientTotals, error) {
	out := make(map[uint]clientTotals, len(clientIDs))
	if len(clientIDs) == 0 {
		return out, nil
	}
	var rows []clientTotals
	err := db.Model(&models.Voucher{}).
		Select("client_id, COALESCE(SUM(amount_paid), 0) AS paid, " +
			"COALESCE(SUM(CASE WHEN payment_plan_id IS NULL THEN amount ELSE 0 END), 0) AS manual").
		Where("client_id IN ? AND cancelled_at IS NULL", clientIDs).
		Group("client_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sum client vouchers: %w", err)
	}
	for _, r := range rows {
		out[r.ClientID] = r
	}
	return out, nil
}

func (in ClientInput) check(creating bool) error {
	var flds []FieldError
	if strings.TrimSpace(in.Name) == "" {
		flds = append(flds, FieldError{Field: "name", Error: "is required"})
	}
	if in.CampusID == 0 {
		flds = append(flds, FieldError{Field: "campus_id", Error: "is required"})
	}
	if !in.SeatCost.IsPositive() {
		flds = append(flds, FieldError{Field: "seat_cost", Error: "must be greater than zero"})
	}
	if (creating || in.Programs != nil) && len(in.Programs) == 0 {
		flds = append(flds, FieldError{Field: "programs", Error: "at least one program is required"})
	}
	for i, prog := range in.Programs {
		if strings.TrimSpace(prog.ProgramName) == "" {
			flds = append(flds, FieldError{Field: fmt.Sprintf("programs[%d].program_name", i), Error: "is required"})
		}
		if prog.SeatCount <= 0 {
			flds = append(flds, FieldError{Field: fmt.Sprintf("programs[%d].seat_count", i), Error: "must be greater than zero"})
		}
	}
	seen := map[string]bool{}
	for i, entry := range in.PaymentPlan {
		pt := strings.TrimSpace(entry.PaymentType)
		if pt == "" {
			flds = append(flds, FieldError{Field: fmt.Sprintf("payment_plan[%d].payment_type", i), Error: "is required"})
		} else if seen[pt] {
			flds = append(flds, FieldError{Field: fmt.Sprintf("payment_plan[%d].payment_type", i), Error: "is duplicated"})
		}
		seen[pt] = true
		if !entry.Amount.IsPositive() {
			flds = append(flds, FieldError{Field: fmt.Sprintf("payment_plan[%d].amount", i), Error: ErrNonPositiveAmount.Error()})
		}
	}
	if len(flds) > 0 {
		return NewValidationError(ErrInvalidInput, flds...)
	}
	return nil
}

// CreateClient onboards a client with its programs and payment plan in one transaction.
func (s *Service) CreateClient(ctx context.Context, p Principal, in ClientInput) (ClientDetail, error) {
	if err := p.requireWrite("create clients"); err != nil {
		return ClientDetail{}, err
	}
	if err := in.check(true); err != nil {
		return ClientDetail{}, err
	}
	if !p.canSeeCampus(in.CampusID) {
		return ClientDetail{}, notFound("campus", in.CampusID)
	}

	var client models.Client
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureCampus(tx, in.CampusID); err != nil {
			return err
		}
		if err := ensureUniqueClientName(tx, in.CampusID, in.Name, 0); err != nil {
			return err
		}

		client = models.Client{
			Name:         strings.TrimSpace(in.Name),
			DirectorName: strings.TrimSpace(in.DirectorName),
			City:         strings.TrimSpace(in.City),
			CampusID:     in.CampusID,
			SeatCost:     in.SeatCost,
		}
		if err := tx.Omit("Campus", "Programs", "PaymentPlan").Create(&client).Error; err != nil {
			return fmt.Errorf("create client: %w", err)
		}
		if err := replacePrograms(tx, client.ID, in.Programs); err != nil {
			return err
		}
		for i, entry := range in.PaymentPlan {
			row := planRow(client.ID, entry, i)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create payment plan entry %q: %w", row.PaymentType, err)
			}
		}
		return nil
	})
	if err != nil {
		return ClientDetail{}, err
	}
	return s.GetClient(ctx, p, client.ID)
}

// UpdateClient edits a client. Plan entries with an active voucher keep their amount
// and cannot be removed.
func (s *Service) UpdateClient(ctx context.Context, p Principal, id uint, in ClientInput) (ClientDetail, error) {
	if err := p.requireWrite("update clients"); err != nil {
		return ClientDetail{}, err
	}
	if err := in.check(false); err != nil {
		return ClientDetail{}, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var client models.Client
		err := lockForUpdate(tx).Scopes(p.scopeClients).Where("clients.id = ?", id).First(&client).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("client", id)
		}
		if err != nil {
			return fmt.Errorf("load client %d: %w", id, err)
		}

		if in.CampusID != client.CampusID {
			if !p.IsOwner() {
				return &ForbiddenError{Action: "move clients between campuses"}
			}
			if err := ensureCampus(tx, in.CampusID); err != nil {
				return err
			}
		}
		if err := ensureUniqueClientName(tx, in.CampusID, in.Name, client.ID); err != nil {
			return err
		}

		if err := tx.Model(&client).Updates(map[string]interface{}{
			"name":          strings.TrimSpace(in.Name),
			"director_name": strings.TrimSpace(in.DirectorName),
			"city":          strings.TrimSpace(in.City),
			"campus_id":     in.CampusID,
			"seat_cost":     in.SeatCost,
		}).Error; err != nil {
			return fmt.Errorf("update client %d: %w", id, err)
		}
		if in.CampusID != client.CampusID {
			if err := tx.Model(&models.Voucher{}).Where("client_id = ?", client.ID).
				Update("campus_id", in.CampusID).Error; err != nil {
				return fmt.Errorf("move vouchers of client %d: %w", id, err)
			}
		}

		if in.Programs != nil {
			if err := tx.Where("client_id = ?", client.ID).Delete(&models.Program{}).Error; err != nil {
				return fmt.Errorf("clear programs: %w", err)
			}
			if err := replacePrograms(tx, client.ID, in.Programs); err != nil {
				return err
			}
		}
		if in.PaymentPlan != nil {
			return s.syncPlan(tx, client.ID, in.PaymentPlan)
		}
		return nil
	})
	if err != nil {
		return ClientDetail{}, err
	}
	return s.GetClient(ctx, p, id)
}

// syncPlan upserts plan entries by payment type.
func (s *Service) syncPlan(tx *gorm.DB, clientID uint, entries []PlanEntryInput) error {
	var existing []models.PaymentPlan
	if err := lockForUpdate(tx).Where("client_id = ?", clientID).Find(&existing).Error; err != nil {
		return fmt.Errorf("load payment plan: %w", err)
	}
	var issued []uint
	if err := tx.Model(&models.Voucher{}).
		Where("client_id = ? AND payment_plan_id IS NOT NULL AND cancelled_at IS NULL", clientID).
		Pluck("payment_plan_id", &issued).Error; err != nil {
		return fmt.Errorf("load issued milestones: %w", err)
	}
	locked := make(map[uint]bool, len(issued))
	for _, id := range issued {
		locked[id] = true
	}

	wanted := make(map[string]int, len(entries))
	for i, e := range entries {
		wanted[strings.TrimSpace(e.PaymentType)] = i
	}

	byType := make(map[string]models.PaymentPlan, len(existing))
	for _, row := range existing {
		byType[row.PaymentType] = row
		i, keep := wanted[row.PaymentType]
		if !keep {
			if locked[row.ID] {
				return conflict(fmt.Errorf("%w: %s", ErrMilestoneLocked, row.PaymentType))
			}
			// cancelled vouchers keep their history but lose the plan link
			if err := tx.Model(&models.Voucher{}).Where("payment_plan_id = ?", row.ID).
				Update("payment_plan_id", nil).Error; err != nil {
				return fmt.Errorf("detach vouchers from plan %d: %w", row.ID, err)
			}
			if err := tx.Delete(&models.PaymentPlan{}, row.ID).Error; err != nil {
				return fmt.Errorf("delete plan entry %d: %w", row.ID, err)
			}
			continue
		}
		entry := entries[i]
		if locked[row.ID] && !entry.Amount.Equal(row.Amount) {
			return conflict(fmt.Errorf("%w: %s", ErrMilestoneLocked, row.PaymentType))
		}
		if err := tx.Model(&models.PaymentPlan{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
			"amount":        entry.Amount,
			"display_order": orderOf(entry, i),
		}).Error; err != nil {
			return fmt.Errorf("update plan entry %d: %w", row.ID, err)
		}
	}

	for i, entry := range entries {
		if _, ok := byType[strings.TrimSpace(entry.PaymentType)]; ok {
			continue
		}
		row := planRow(clientID, entry, i)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create payment plan entry %q: %w", row.PaymentType, err)
		}
	}
	return nil
}

// DeleteClient removes a client with its programs, plan, vouchers and payments.
// Portal users bound to the client are deactivated.
func (s *Service) DeleteClient(ctx context.Context, p Principal, id uint) error {
	if err := p.requireWrite("delete clients"); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		client, err := s.loadClient(lockForUpdate(tx), p, id)
		if err != nil {
			return err
		}
		voucherIDs := tx.Model(&models.Voucher{}).Select("id").Where("client_id = ?", client.ID)
		steps := []struct {
			what string
			run  func() error
		}{
			{"payments", func() error {
				return tx.Where("voucher_id IN (?)", voucherIDs).Delete(&models.VoucherPayment{}).Error
			}},
			{"vouchers", func() error { return tx.Where("client_id = ?", client.ID).Delete(&models.Voucher{}).Error }},
			{"payment plan", func() error { return tx.Where("client_id = ?", client.ID).Delete(&models.PaymentPlan{}).Error }},
			{"programs", func() error { return tx.Where("client_id = ?", client.ID).Delete(&models.Program{}).Error }},
			{"users", func() error {
				return tx.Model(&models.User{}).Where("client_id = ?", client.ID).
					Updates(map[string]interface{}{"client_id": nil, "status": "inactive"}).Error
			}},
			{"client", func() error { return tx.Delete(&models.Client{}, client.ID).Error }},
		}
		for _, step := range steps {
			if err := step.run(); err != nil {
				return fmt.Errorf("delete client %d %s: %w", client.ID, step.what, err)
			}
		}
		return nil
	})
}

// ListClients returns a page of clients in scope with their totals.
func (s *Service) ListClients(ctx context.Context, p Principal, f ClientFilter) ([]ClientView, int64, error) {
	db := s.db.WithContext(ctx)
	q := db.Model(&models.Client{}).Scopes(p.scopeClients)
	if f.CampusID != 0 {
		q = q.Where("clients.campus_id = ?", f.CampusID)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(clients.name) LIKE ? OR LOWER(clients.director_name) LIKE ? OR LOWER(clients.city) LIKE ?", like, like, like)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count clients: %w", err)
	}
	limit := ClampLimit(f.Limit)
	var clients []models.Client
	if err := q.Preload("Campus").Preload("Programs").
		Preload("PaymentPlan", func(db *gorm.DB) *gorm.DB { return db.Order("display_order, id") }).
		Order("clients.name, clients.id").
		Limit(limit).Offset(f.Offset).
		Find(&clients).Error; err != nil {
		return nil, 0, fmt.Errorf("list clients: %w", err)
	}

	ids := make([]uint, len(clients))
	for i, c := range clients {
		ids[i] = c.ID
	}
	totals, err := totalsFor(db, ids)
	if err != nil {
		return nil, 0, err
	}
	views := make([]ClientView, 0, len(clients))
	for _, c := range clients {
		views = append(views, newClientView(c, totals[c.ID]))
	}
	return views, total, nil
}

// GetClient returns the client page: plan with voucher state, vouchers and payment history.
func (s *Service) GetClient(ctx context.Context, p Principal, id uint) (ClientDetail, error) {
	db := s.db.WithContext(ctx)
	var client models.Client
	err := db.Scopes(p.scopeClients).
		Preload("Campus").Preload("Programs").
		Preload("PaymentPlan", func(db *gorm.DB) *gorm.DB { return db.Order("display_order, id") }).
		Where("clients.id = ?", id).
		First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ClientDetail{}, notFound("client", id)
	}
	if err != nil {
		return ClientDetail{}, fmt.Errorf("load client %d: %w", id, err)
	}

	var vouchers []models.Voucher
	if err := db.Where("client_id = ?", client.ID).Order("created_at, id").Find(&vouchers).Error; err != nil {
		return ClientDetail{}, fmt.Errorf("load vouchers of client %d: %w", id, err)
	}

	var history []PaymentHistoryEntry
	if err := db.Table("voucher_payments").
		Select("voucher_payments.id, voucher_payments.voucher_id, vouchers.voucher_number, vouchers.label, " +
			"voucher_payments.amount, voucher_payments.payment_method, voucher_payments.payment_date, " +
			"voucher_payments.notes, voucher_payments.recorded_by").
		Joins("JOIN vouchers ON vouchers.id = voucher_payments.voucher_id").
		Where("vouchers.client_id = ?", client.ID).
		Order("voucher_payments.payment_date DESC, voucher_payments.id DESC").
		Scan(&history).Error; err != nil {
		return ClientDetail{}, fmt.Errorf("load payment history of client %d: %w", id, err)
	}

	return buildClientDetail(client, vouchers, history, s.today()), nil
}

func buildClientDetail(client models.Client, vouchers []models.Voucher, history []PaymentHistoryEntry, today time.Time) ClientDetail {
	totals := clientTotals{ClientID: client.ID, Paid: decimal.Zero, Manual: decimal.Zero}
	active := map[uint]models.Voucher{}
	d := ClientDetail{
		MilestoneVouchers: []VoucherView{},
		ManualVouchers:    []VoucherView{},
		PaymentHistory:    history,
	}
	for _, v := range vouchers {
		v.Client = client
		view := newVoucherView(v, today)
		if v.PaymentPlanID != nil {
			d.MilestoneVouchers = append(d.MilestoneVouchers, view)
		} else {
			d.ManualVouchers = append(d.ManualVouchers, view)
		}
		if v.IsCancelled() {
			continue
		}
		totals.Paid = totals.Paid.Add(v.AmountPaid)
		if v.PaymentPlanID == nil {
			totals.Manual = totals.Manual.Add(v.Amount)
		} else {
			active[*v.PaymentPlanID] = v
		}
	}

	d.Plan = make([]PlanEntryView, 0, len(client.PaymentPlan))
	for _, entry := range client.PaymentPlan {
		pv := PlanEntryView{PaymentPlan: entry, Status: planNotGenerated, AmountPaid: decimal.Zero, Balance: entry.Amount}
		if v, ok := active[entry.ID]; ok {
			id := v.ID
			pv.VoucherID = &id
			pv.VoucherNumber = v.VoucherNumber
			pv.Status = string(StatusOf(v))
			pv.AmountPaid = v.AmountPaid
			pv.Balance = Balance(v.Amount, v.AmountPaid)
		}
		d.Plan = append(d.Plan, pv)
	}
	if d.PaymentHistory == nil {
		d.PaymentHistory = []PaymentHistoryEntry{}
	}

	d.ClientView = newClientView(client, totals)
	d.ClientView.Client.PaymentPlan = nil
	return d
}

func ensureCampus(tx *gorm.DB, campusID uint) error {
	var n int64
	if err := tx.Model(&models.Campus{}).Where("id = ?", campusID).Count(&n).Error; err != nil {
		return fmt.Errorf("check campus %d: %w", campusID, err)
	}
	if n == 0 {
		return notFound("campus", campusID)
	}
	return nil
}

func ensureUniqueClientName(tx *gorm.DB, campusID uint, name string, exceptID uint) error {
	var n int64
	q := tx.Model(&models.Client{}).Where("campus_id = ? AND LOWER(name) = ?", campusID, strings.ToLower(strings.TrimSpace(name)))
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&n).Error; err != nil {
		return fmt.Errorf("check client name: %w", err)
	}
	if n > 0 {
		return conflict(fmt.Errorf("client %w in this campus", ErrDuplicateName))
	}
	return nil
}

func replacePrograms(tx *gorm.DB, clientID uint, programs []ProgramInput) error {
	for _, prog := range programs {
		row := models.Program{ClientID: clientID, ProgramName: strings.TrimSpace(prog.ProgramName), SeatCount: prog.SeatCount}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create program %q: %w", row.ProgramName, err)
		}
	}
	return nil
}

func planRow(clientID uint, entry PlanEntryInput, i int) models.PaymentPlan {
	return models.PaymentPlan{
		ClientID:     clientID,
		PaymentType:  strings.TrimSpace(entry.PaymentType),
		Amount:       entry.Amount,
		DisplayOrder: orderOf(entry, i),
	}
}

func orderOf(entry PlanEntryInput, i int) int {
	if entry.DisplayOrder != 0 {
		return entry.DisplayOrder
	}
	return i + 1
}
