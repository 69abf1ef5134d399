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

// VoucherSource tells milestone vouchers from manual ones.
type VoucherSource interface {
	Kind() string
}

// MilestoneSource is a voucher issued against a payment plan entry.
type MilestoneSource struct {
	PaymentPlanID uint
	PaymentType   string
}

func (MilestoneSource) Kind() string { return "milestone" }

// ManualSource is an ad-hoc voucher with a free-text label.
type ManualSource struct {
	Label string
}

func (ManualSource) Kind() string { return "manual" }

// SourceOf classifies a stored voucher.
func SourceOf(v models.Voucher) VoucherSource {
	if v.PaymentPlanID != nil {
		return MilestoneSource{PaymentPlanID: *v.PaymentPlanID, PaymentType: v.Label}
	}
	return ManualSource{Label: v.Label}
}

// VoucherView is a voucher with its derived fields filled in.
type VoucherView struct {
	models.Voucher
	Status     VoucherStatus   `json:"status"`
	Balance    decimal.Decimal `json:"balance"`
	Kind       string          `json:"kind"`
	Overdue    bool            `json:"overdue"`
	ClientName string          `json:"client_name"`
}

func newVoucherView(v models.Voucher, today time.Time) VoucherView {
	status := StatusOf(v)
	overdue := false
	if v.DueDate != nil && (status == StatusPending || status == StatusPartial) {
		overdue = v.DueDate.UTC().Before(today)
	}
	return VoucherView{
		Voucher:    v,
		Status:     status,
		Balance:    Balance(v.Amount, v.AmountPaid),
		Kind:       SourceOf(v).Kind(),
		Overdue:    overdue,
		ClientName: v.Client.Name,
	}
}

// VoucherFilter narrows ListVouchers.
type VoucherFilter struct {
	Status   VoucherStatus
	ClientID uint
	Search   string
	Limit    int
	Offset   int
}

// MilestoneVoucherInput issues a voucher for one payment plan entry.
type MilestoneVoucherInput struct {
	ClientID      uint
	PaymentPlanID uint
	DueDate       *time.Time
}

// ManualVoucherInput creates an ad-hoc voucher, optionally with money already received.
type ManualVoucherInput struct {
	ClientID      uint
	Label         string
	Amount        decimal.Decimal
	DueDate       *time.Time
	AmountPaid    decimal.Decimal
	PaymentMethod string
	PaymentDate   *time.Time
	Notes         string
}

// PaymentInput records money received against a voucher.
type PaymentInput struct {
	Amount        decimal.Decimal
	PaymentMethod string
	PaymentDate   time.Time
	Notes         string
}

func (in PaymentInput) check() error {
	flds := in.detailErrors()
	if !in.Amount.IsPositive() {
		flds = append([]FieldError{{Field: "payment_amount", Error: ErrNonPositiveAmount.Error()}}, flds...)
		return NewValidationError(ErrNonPositiveAmount, flds...)
	}
	if len(flds) > 0 {
		return NewValidationError(ErrInvalidInput, flds...)
	}
	return nil
}

func (in PaymentInput) detailErrors() []FieldError {
	var flds []FieldError
	if strings.TrimSpace(in.PaymentMethod) == "" {
		flds = append(flds, FieldError{Field: "payment_method", Error: "is required"})
	}
	if in.PaymentDate.IsZero() {
		flds = append(flds, FieldError{Field: "payment_date", Error: "is required"})
	}
	return flds
}

// StatusChange is a requested status transition. Only cancelled and paid are accepted.
type StatusChange struct {
	Status        string
	Reason        string
	PaymentMethod string
	PaymentDate   time.Time
	Notes         string
}

// GetVoucher returns one voucher with its plan entry and payment history.
func (s *Service) GetVoucher(ctx context.Context, p Principal, id uint) (VoucherView, error) {
	var v models.Voucher
	err := s.db.WithContext(ctx).Scopes(p.scopeVouchers).
		Preload("Client").
		Preload("PaymentPlan").
		Preload("Payments", func(db *gorm.DB) *gorm.DB {
			return db.Order("payment_date DESC, id DESC")
		}).
		Where("vouchers.id = ?", id).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return VoucherView{}, notFound("voucher", id)
	}
	if err != nil {
		return VoucherView{}, fmt.Errorf("load voucher %d: %w", id, err)
	}
	return newVoucherView(v, s.today()), nil
}

// FindVoucherID resolves a voucher number inside the caller's scope.
func (s *Service) FindVoucherID(ctx context.Context, p Principal, number string) (uint, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	var v models.Voucher
	err := s.db.WithContext(ctx).Scopes(p.scopeVouchers).
		Select("vouchers.id").
		Where("vouchers.voucher_number = ?", number).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, &NotFoundError{Resource: "voucher " + number}
	}
	if err != nil {
		return 0, fmt.Errorf("find voucher %s: %w", number, err)
	}
	return v.ID, nil
}

// ListVouchers returns a page of vouchers in the caller's scope, newest first.
func (s *Service) ListVouchers(ctx context.Context, p Principal, f VoucherFilter) ([]VoucherView, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Voucher{}).Scopes(p.scopeVouchers)
	if f.Status != "" {
		q = q.Scopes(StatusScope(f.Status))
	}
	if f.ClientID != 0 {
		q = q.Where("vouchers.client_id = ?", f.ClientID)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(vouchers.voucher_number) LIKE ? OR LOWER(vouchers.label) LIKE ? OR vouchers.client_id IN (?)",
			like, like, s.db.Model(&models.Client{}).Select("id").Where("LOWER(name) LIKE ?", like))
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count vouchers: %w", err)
	}

	limit := ClampLimit(f.Limit)
	var rows []models.Voucher
	if err := q.Preload("Client").
		Order("vouchers.created_at DESC, vouchers.id DESC").
		Limit(limit).Offset(f.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list vouchers: %w", err)
	}

	today := s.today()
	views := make([]VoucherView, 0, len(rows))
	for _, v := range rows {
		views = append(views, newVoucherView(v, today))
	}
	return views, total, nil
}

// GenerateFromMilestone issues the voucher for a payment plan entry. A plan entry
// has at most one non-cancelled voucher at a time.
func (s *Service) GenerateFromMilestone(ctx context.Context, p Principal, in MilestoneVoucherInput) (VoucherView, error) {
	if err := p.requireWrite("generate vouchers"); err != nil {
		return VoucherView{}, err
	}

	var created models.Voucher
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		client, err := s.loadClient(tx, p, in.ClientID)
		if err != nil {
			return err
		}

		var plan models.PaymentPlan
		err = lockForUpdate(tx).Where("id = ? AND client_id = ?", in.PaymentPlanID, client.ID).First(&plan).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("payment plan", in.PaymentPlanID)
		}
		if err != nil {
			return fmt.Errorf("load payment plan: %w", err)
		}
		if !plan.Amount.IsPositive() {
			return NewValidationError(ErrNonPositiveAmount, FieldError{Field: "amount", Error: "milestone amount must be greater than zero"})
		}

		var active int64
		if err := tx.Model(&models.Voucher{}).
			Where("payment_plan_id = ? AND cancelled_at IS NULL", plan.ID).
			Count(&active).Error; err != nil {
			return fmt.Errorf("check milestone vouchers: %w", err)
		}
		if active > 0 {
			return conflict(ErrMilestoneIssued)
		}

		number, err := s.nextVoucherNumber(tx, client)
		if err != nil {
			return err
		}
		created = models.Voucher{
			VoucherNumber: number,
			ClientID:      client.ID,
			CampusID:      client.CampusID,
			PaymentPlanID: &plan.ID,
			Label:         plan.PaymentType,
			Amount:        plan.Amount,
			AmountPaid:    decimal.Zero,
			DueDate:       utcDate(in.DueDate),
			GeneratedBy:   p.UserID,
		}
		if err := tx.Omit("Client", "PaymentPlan", "Payments").Create(&created).Error; err != nil {
			return fmt.Errorf("create voucher: %w", err)
		}
		created.Client = client
		return nil
	})
	if err != nil {
		return VoucherView{}, err
	}
	return newVoucherView(created, s.today()), nil
}

// CreateManualVoucher creates an ad-hoc voucher. A non-zero AmountPaid is recorded
// as the voucher's first payment.
func (s *Service) CreateManualVoucher(ctx context.Context, p Principal, in ManualVoucherInput) (VoucherView, error) {
	if err := p.requireWrite("create vouchers"); err != nil {
		return VoucherView{}, err
	}
	if err := in.check(); err != nil {
		return VoucherView{}, err
	}

	var created models.Voucher
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		client, err := s.loadClient(tx, p, in.ClientID)
		if err != nil {
			return err
		}
		number, err := s.nextVoucherNumber(tx, client)
		if err != nil {
			return err
		}

		created = models.Voucher{
			VoucherNumber: number,
			ClientID:      client.ID,
			CampusID:      client.CampusID,
			Label:         strings.TrimSpace(in.Label),
			Amount:        in.Amount,
			AmountPaid:    in.AmountPaid,
			DueDate:       utcDate(in.DueDate),
			GeneratedBy:   p.UserID,
			Notes:         in.Notes,
		}
		var paidOn time.Time
		if in.AmountPaid.IsPositive() {
			paidOn = s.now()
			if in.PaymentDate != nil {
				paidOn = in.PaymentDate.UTC()
			}
			created.PaymentMethod = in.PaymentMethod
			created.PaymentDate = &paidOn
		}
		if err := tx.Omit("Client", "PaymentPlan", "Payments").Create(&created).Error; err != nil {
			return fmt.Errorf("create voucher: %w", err)
		}

		if in.AmountPaid.IsPositive() {
			payment := models.VoucherPayment{
				VoucherID:     created.ID,
				Amount:        in.AmountPaid,
				PaymentMethod: in.PaymentMethod,
				PaymentDate:   paidOn,
				Notes:         in.Notes,
				RecordedBy:    p.UserID,
			}
			if err := tx.Omit("Voucher").Create(&payment).Error; err != nil {
				return fmt.Errorf("record opening payment: %w", err)
			}
		}
		created.Client = client
		return nil
	})
	if err != nil {
		return VoucherView{}, err
	}
	return newVoucherView(created, s.today()), nil
}

func (in ManualVoucherInput) check() error {
	var flds []FieldError
	if in.ClientID == 0 {
		flds = append(flds, FieldError{Field: "client_id", Error: "is required"})
	}
	if strings.TrimSpace(in.Label) == "" {
		flds = append(flds, FieldError{Field: "label", Error: "is required"})
	}
	if in.DueDate == nil {
		flds = append(flds, FieldError{Field: "due_date", Error: "is required"})
	}
	if in.AmountPaid.IsNegative() {
		flds = append(flds, FieldError{Field: "amount_paid", Error: "must not be negative"})
	}
	if in.AmountPaid.GreaterThan(in.Amount) && in.Amount.IsPositive() {
		flds = append(flds, FieldError{Field: "amount_paid", Error: "must not exceed amount"})
	}
	if in.AmountPaid.IsPositive() && strings.TrimSpace(in.PaymentMethod) == "" {
		flds = append(flds, FieldError{Field: "payment_method", Error: "is required when amount_paid is set"})
	}
	if !in.Amount.IsPositive() {
		flds = append(flds, FieldError{Field: "amount", Error: ErrNonPositiveAmount.Error()})
		return NewValidationError(ErrNonPositiveAmount, flds...)
	}
	if len(flds) > 0 {
		return NewValidationError(ErrInvalidInput, flds...)
	}
	return nil
}

// RecordPayment adds a payment to a voucher. The read, the guarded update and the
// payment row are one transaction; a concurrent writer yields a ConflictError.
func (s *Service) RecordPayment(ctx context.Context, p Principal, voucherID uint, in PaymentInput) (VoucherView, error) {
	if err := p.requireWrite("record payments"); err != nil {
		return VoucherView{}, err
	}
	if err := in.check(); err != nil {
		return VoucherView{}, err
	}
	return s.applyPayment(ctx, p, voucherID, in, func(models.Voucher) decimal.Decimal { return in.Amount })
}

// applyPayment locks the voucher, lets amountFor pick the amount from the locked row,
// then performs a compare-and-swap on amount_paid.
func (s *Service) applyPayment(ctx context.Context, p Principal, voucherID uint, in PaymentInput, amountFor func(models.Voucher) decimal.Decimal) (VoucherView, error) {
	var out models.Voucher
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := s.lockVoucher(tx, p, voucherID)
		if err != nil {
			return err
		}
		if v.IsCancelled() {
			return NewValidationError(ErrVoucherCancelled)
		}

		amount := amountFor(v)
		balance := Balance(v.Amount, v.AmountPaid)
		if balance.IsZero() {
			return NewValidationError(ErrAlreadySettled)
		}
		if !amount.IsPositive() {
			return NewValidationError(ErrNonPositiveAmount, FieldError{Field: "payment_amount", Error: ErrNonPositiveAmount.Error()})
		}
		if amount.GreaterThan(balance) {
			return NewValidationError(ErrOverdraw, FieldError{
				Field: "payment_amount",
				Error: fmt.Sprintf("exceeds remaining balance of %s", balance.StringFixed(2)),
			})
		}

		paidOn := in.PaymentDate.UTC()
		res := tx.Model(&models.Voucher{}).
			Where("id = ? AND amount_paid = ? AND cancelled_at IS NULL", v.ID, v.AmountPaid).
			Updates(map[string]interface{}{
				"amount_paid":    v.AmountPaid.Add(amount),
				"payment_method": in.PaymentMethod,
				"payment_date":   paidOn,
				"notes":          in.Notes,
			})
		if res.Error != nil {
			return fmt.Errorf("update voucher %d: %w", v.ID, res.Error)
		}
		if res.RowsAffected != 1 {
			return conflict(ErrConcurrentUpdate)
		}

		payment := models.VoucherPayment{
			VoucherID:     v.ID,
			Amount:        amount,
			PaymentMethod: in.PaymentMethod,
			PaymentDate:   paidOn,
			Notes:         in.Notes,
			RecordedBy:    p.UserID,
		}
		if err := tx.Omit("Voucher").Create(&payment).Error; err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		return tx.Preload("Client").First(&out, v.ID).Error
	})
	if err != nil {
		return VoucherView{}, err
	}
	return newVoucherView(out, s.today()), nil
}

// CancelVoucher voids a voucher. Payments already recorded stay in history.
func (s *Service) CancelVoucher(ctx context.Context, p Principal, id uint, reason string) (VoucherView, error) {
	if err := p.requireWrite("cancel vouchers"); err != nil {
		return VoucherView{}, err
	}

	var out models.Voucher
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := s.lockVoucher(tx, p, id)
		if err != nil {
			return err
		}
		if v.IsCancelled() {
			return NewValidationError(ErrVoucherCancelled)
		}
		res := tx.Model(&models.Voucher{}).
			Where("id = ? AND cancelled_at IS NULL", v.ID).
			Updates(map[string]interface{}{
				"cancelled_at":  s.now(),
				"cancel_reason": strings.TrimSpace(reason),
			})
		if res.Error != nil {
			return fmt.Errorf("cancel voucher %d: %w", v.ID, res.Error)
		}
		if res.RowsAffected != 1 {
			return conflict(ErrConcurrentUpdate)
		}
		return tx.Preload("Client").First(&out, v.ID).Error
	})
	if err != nil {
		return VoucherView{}, err
	}
	return newVoucherView(out, s.today()), nil
}

// SetStatus applies a requested status. "cancelled" voids the voucher, "paid" records
// a payment for the remaining balance. Pending and partial only follow from payments.
func (s *Service) SetStatus(ctx context.Context, p Principal, id uint, change StatusChange) (VoucherView, error) {
	if err := p.requireWrite("change voucher status"); err != nil {
		return VoucherView{}, err
	}
	status, ok := ParseStatus(change.Status)
	if !ok {
		return VoucherView{}, NewValidationError(ErrInvalidInput, FieldError{Field: "status", Error: "must be one of pending, partial, paid, cancelled"})
	}

	switch status {
	case StatusCancelled:
		return s.CancelVoucher(ctx, p, id, change.Reason)
	case StatusPaid:
		in := PaymentInput{
			PaymentMethod: change.PaymentMethod,
			PaymentDate:   change.PaymentDate,
			Notes:         change.Notes,
		}
		if in.PaymentDate.IsZero() {
			in.PaymentDate = s.now()
		}
		if flds := in.detailErrors(); len(flds) > 0 {
			return VoucherView{}, NewValidationError(ErrInvalidInput, flds...)
		}
		return s.applyPayment(ctx, p, id, in, func(v models.Voucher) decimal.Decimal {
			return Balance(v.Amount, v.AmountPaid)
		})
	}
	return VoucherView{}, NewValidationError(ErrDerivedStatus, FieldError{Field: "status", Error: ErrDerivedStatus.Error()})
}

// DeleteVoucher removes a voucher and its payment history.
func (s *Service) DeleteVoucher(ctx context.Context, p Principal, id uint) error {
	if err := p.requireWrite("delete vouchers"); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := s.lockVoucher(tx, p, id)
		if err != nil {
			return err
		}
		if err := tx.Where("voucher_id = ?", v.ID).Delete(&models.VoucherPayment{}).Error; err != nil {
			return fmt.Errorf("delete payments of voucher %d: %w", v.ID, err)
		}
		if err := tx.Delete(&models.Voucher{}, v.ID).Error; err != nil {
			return fmt.Errorf("delete voucher %d: %w", v.ID, err)
		}
		return nil
	})
}

// AttachPDF stores the archived document location on the voucher.
func (s *Service) AttachPDF(ctx context.Context, p Principal, id uint, url string) error {
	if err := p.requireWrite("archive voucher documents"); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.Voucher{}).Scopes(p.scopeVouchers).
		Where("vouchers.id = ?", id).
		Update("pdf_url", url)
	if res.Error != nil {
		return fmt.Errorf("attach pdf to voucher %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("voucher", id)
	}
	return nil
}

func (s *Service) lockVoucher(tx *gorm.DB, p Principal, id uint) (models.Voucher, error) {
	var v models.Voucher
	err := lockForUpdate(tx).Scopes(p.scopeVouchers).Where("vouchers.id = ?", id).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return v, notFound("voucher", id)
	}
	if err != nil {
		return v, fmt.Errorf("load voucher %d: %w", id, err)
	}
	return v, nil
}

func (s *Service) loadClient(tx *gorm.DB, p Principal, id uint) (models.Client, error) {
	var c models.Client
	err := tx.Scopes(p.scopeClients).Where("clients.id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c, notFound("client", id)
	}
	if err != nil {
		return c, fmt.Errorf("load client %d: %w", id, err)
	}
	return c, nil
}

func utcDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := truncateDay(*t)
	return &d
}
