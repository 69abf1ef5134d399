package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Base model with common fields. Rows are hard-deleted, so there is no DeletedAt.
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Campus is the top-level partition every client belongs to.
type Campus struct {
	BaseModel
	Name     string `json:"name" gorm:"size:150;not null;uniqueIndex"`
	City     string `json:"city" gorm:"size:100"`
	Location string `json:"location" gorm:"size:255"`

	Clients []Client `json:"clients,omitempty" gorm:"foreignKey:CampusID"`
}

// Client is an onboarded school with a fee contract.
type Client struct {
	BaseModel
	Name         string          `json:"name" gorm:"size:255;not null;index"`
	DirectorName string          `json:"director_name" gorm:"size:255"`
	City         string          `json:"city" gorm:"size:100"`
	CampusID     uint            `json:"campus_id" gorm:"not null;index"`
	SeatCost     decimal.Decimal `json:"seat_cost" gorm:"type:decimal(14,2);not null"`

	// Relationships
	Campus      Campus        `json:"-" gorm:"foreignKey:CampusID"`
	Programs    []Program     `json:"programs,omitempty" gorm:"foreignKey:ClientID"`
	PaymentPlan []PaymentPlan `json:"payment_plan,omitempty" gorm:"foreignKey:ClientID"`
}

// TotalSeats sums seat_count over the loaded programs.
func (c Client) TotalSeats() int {
	total := 0
	for _, p := range c.Programs {
		total += p.SeatCount
	}
	return total
}

// ContractTotal is total seats × seat cost.
func (c Client) ContractTotal() decimal.Decimal {
	return c.SeatCost.Mul(decimal.NewFromInt(int64(c.TotalSeats())))
}

// PlanTotal sums the loaded payment plan entries.
func (c Client) PlanTotal() decimal.Decimal {
	total := decimal.Zero
	for _, p := range c.PaymentPlan {
		total = total.Add(p.Amount)
	}
	return total
}

// Program is a named cohort of seats within a client.
type Program struct {
	BaseModel
	ClientID    uint   `json:"client_id" gorm:"not null;index"`
	ProgramName string `json:"program_name" gorm:"size:150;not null"`
	SeatCount   int    `json:"seat_count" gorm:"not null"`
}

// Known milestone types. Seed data may carry free text.
const (
	PaymentTypeAdvance              = "advance"
	PaymentTypeAfterPreRegistration = "after_pre_registration"
	PaymentTypeSubmittedExamination = "submitted_examination"
	PaymentTypeRollNumberSlip       = "roll_number_slip"
)

// PaymentPlan is one scheduled milestone obligation of a client.
type PaymentPlan struct {
	BaseModel
	ClientID     uint            `json:"client_id" gorm:"not null;uniqueIndex:idx_plan_client_type,priority:1"`
	PaymentType  string          `json:"payment_type" gorm:"size:100;not null;uniqueIndex:idx_plan_client_type,priority:2"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:decimal(14,2);not null"`
	DisplayOrder int             `json:"display_order" gorm:"not null;default:0"`
}

// Voucher is an issued demand for payment. PaymentPlanID is nil for manual vouchers.
// Status is never stored; see services/ledger.DeriveStatus.
type Voucher struct {
	BaseModel
	VoucherNumber string          `json:"voucher_number" gorm:"size:64;not null;uniqueIndex"`
	ClientID      uint            `json:"client_id" gorm:"not null;index"`
	CampusID      uint            `json:"campus_id" gorm:"not null;index"`
	PaymentPlanID *uint           `json:"payment_plan_id" gorm:"index"`
	Label         string          `json:"label" gorm:"size:150"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(14,2);not null"`
	AmountPaid    decimal.Decimal `json:"amount_paid" gorm:"type:decimal(14,2);not null;default:0"`
	DueDate       *time.Time      `json:"due_date"`
	GeneratedBy   uint            `json:"generated_by"`

	// Latest payment, kept on the voucher for list views
	PaymentMethod string     `json:"payment_method" gorm:"size:50"`
	PaymentDate   *time.Time `json:"payment_date"`
	Notes         string     `json:"notes" gorm:"type:text"`

	CancelledAt  *time.Time `json:"cancelled_at"`
	CancelReason string     `json:"cancel_reason" gorm:"size:500"`
	PDFURL       string     `json:"pdf_url" gorm:"column:pdf_url;size:500"`

	// Relationships
	Client      Client           `json:"-" gorm:"foreignKey:ClientID"`
	PaymentPlan *PaymentPlan     `json:"payment_plan,omitempty" gorm:"foreignKey:PaymentPlanID"`
	Payments    []VoucherPayment `json:"payments,omitempty" gorm:"foreignKey:VoucherID"`
}

// IsCancelled reports whether the voucher has been voided.
func (v Voucher) IsCancelled() bool {
	return v.CancelledAt != nil
}

// VoucherPayment is one recorded payment increment against a voucher.
type VoucherPayment struct {
	BaseModel
	VoucherID     uint            `json:"voucher_id" gorm:"not null;index"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(14,2);not null"`
	PaymentMethod string          `json:"payment_method" gorm:"size:50;not null"`
	PaymentDate   time.Time       `json:"payment_date" gorm:"not null"`
	Notes         string          `json:"notes" gorm:"type:text"`
	RecordedBy    uint            `json:"recorded_by"`

	Voucher Voucher `json:"-" gorm:"foreignKey:VoucherID"`
}

// User roles
const (
	RoleOwner      = "owner"
	RoleAccountant = "accountant"
	RoleClient     = "client"
)

// User is a portal account. Accountants are bound to a campus, clients to a client record.
type User struct {
	BaseModel
	Username string `json:"username" gorm:"size:100;not null;uniqueIndex"`
	Password string `json:"-" gorm:"size:255;not null"`
	Email    string `json:"email" gorm:"size:255"`
	Role     string `json:"role" gorm:"size:20;not null;default:'client'"` // owner, accountant, client
	CampusID *uint  `json:"campus_id"`
	ClientID *uint  `json:"client_id"`
	Status   string `json:"status" gorm:"size:20;not null;default:'active'"` // active, inactive
}

// LedgerExport tracks xlsx ledger snapshots uploaded to S3.
type LedgerExport struct {
	BaseModel
	FileName    string `json:"file_name" gorm:"size:255;not null"`
	S3Key       string `json:"s3_key" gorm:"size:500;not null"`
	RecordCount int    `json:"record_count" gorm:"not null"`
	FileSize    int64  `json:"file_size" gorm:"not null"`
	Status      string `json:"status" gorm:"size:20;not null;default:'pending'"` // pending, completed, failed
	Error       string `json:"error" gorm:"type:text"`
}
