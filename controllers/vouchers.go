package controllers

import (
	"bytes"
	"fmt"
	"time"

	"stepschool_go/middleware"
	"stepschool_go/services"
	"stepschool_go/services/documents"
	"stepschool_go/services/ledger"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	pdfMIME  = "application/pdf"
	xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// DocumentStore archives rendered files and returns their URL.
type DocumentStore interface {
	UploadBytes(folder, filename, contentType string, data []byte) (string, error)
}

type VoucherController struct {
	ledger   *ledger.Service
	renderer *documents.Renderer
	store    DocumentStore
	importer *services.PaymentImporter
}

// NewVoucherController wires the voucher endpoints. store may be nil when S3 is not configured.
func NewVoucherController(svc *ledger.Service, renderer *documents.Renderer, store DocumentStore) *VoucherController {
	return &VoucherController{
		ledger:   svc,
		renderer: renderer,
		store:    store,
		importer: services.NewPaymentImporter(svc),
	}
}

type manualVoucherRequest struct {
	ClientID      uint            `json:"client_id" validate:"required"`
	Label         string          `json:"label" validate:"required,max=150"`
	Amount        decimal.Decimal `json:"amount"`
	DueDate       string          `json:"due_date" validate:"required"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentMethod string          `json:"payment_method" validate:"max=50"`
	PaymentDate   string          `json:"payment_date"`
	Notes         string          `json:"notes"`
}

type recordPaymentRequest struct {
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	PaymentMethod string          `json:"payment_method" validate:"required,max=50"`
	PaymentDate   string          `json:"payment_date" validate:"required"`
	Notes         string          `json:"notes"`
}

type voucherStatusRequest struct {
	Status        string `json:"status" validate:"required"`
	Reason        string `json:"reason" validate:"max=500"`
	PaymentMethod string `json:"payment_method" validate:"max=50"`
	PaymentDate   string `json:"payment_date"`
	Notes         string `json:"notes"`
}

type cancelVoucherRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// GetVouchers returns a filtered page of vouchers
func (vc *VoucherController) GetVouchers(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	f, err := voucherFilter(c)
	if err != nil {
		return respondError(c, err)
	}

	vouchers, total, err := vc.ledger.ListVouchers(c.UserContext(), p, f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"vouchers":   vouchers,
		"pagination": pagination(total, ledger.ClampLimit(f.Limit), f.Offset),
	})
}

func voucherFilter(c *fiber.Ctx) (ledger.VoucherFilter, error) {
	f := ledger.VoucherFilter{
		Search: c.Query("search"),
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if raw := c.Query("status"); raw != "" && raw != "all" {
		status, ok := ledger.ParseStatus(raw)
		if !ok {
			return f, ledger.NewValidationError(ledger.ErrInvalidInput,
				ledger.FieldError{Field: "status", Error: "must be one of pending, partial, paid, cancelled"})
		}
		f.Status = status
	}
	clientID, err := queryUint(c, "client_id")
	if err != nil {
		return f, err
	}
	f.ClientID = clientID
	return f, nil
}

// GetVoucher returns one voucher with its payments
func (vc *VoucherController) GetVoucher(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	voucher, err := vc.ledger.GetVoucher(c.UserContext(), p, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"voucher": voucher})
}

// CreateVoucher creates a manual voucher
func (vc *VoucherController) CreateVoucher(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	var req manualVoucherRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	due, err := parseAPIDate("due_date", req.DueDate)
	if err != nil {
		return respondError(c, err)
	}
	paidOn, err := parseAPIDate("payment_date", req.PaymentDate)
	if err != nil {
		return respondError(c, err)
	}

	voucher, err := vc.ledger.CreateManualVoucher(c.UserContext(), p, ledger.ManualVoucherInput{
		ClientID:      req.ClientID,
		Label:         req.Label,
		Amount:        req.Amount,
		DueDate:       due,
		AmountPaid:    req.AmountPaid,
		PaymentMethod: req.PaymentMethod,
		PaymentDate:   paidOn,
		Notes:         req.Notes,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Voucher created successfully",
		"voucher": voucher,
	})
}

// RecordPayment adds a payment against a voucher
func (vc *VoucherController) RecordPayment(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req recordPaymentRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	paidOn, err := parseAPIDate("payment_date", req.PaymentDate)
	if err != nil {
		return respondError(c, err)
	}
	if paidOn == nil {
		return respondError(c, ledger.NewValidationError(ledger.ErrInvalidInput,
			ledger.FieldError{Field: "payment_date", Error: "is required"}))
	}

	voucher, err := vc.ledger.RecordPayment(c.UserContext(), p, id, ledger.PaymentInput{
		Amount:        req.PaymentAmount,
		PaymentMethod: req.PaymentMethod,
		PaymentDate:   *paidOn,
		Notes:         req.Notes,
	})
	if err != nil {
		return respondError(c, err)
	}

	logrus.WithFields(logrus.Fields{
		"voucher_id":  voucher.ID,
		"amount":      req.PaymentAmount.StringFixed(2),
		"recorded_by": p.UserID,
		"status":      voucher.Status,
	}).Info("Payment recorded")

	return c.JSON(fiber.Map{
		"message": "Payment recorded successfully",
		"voucher": voucher,
	})
}

// UpdateVoucherStatus cancels a voucher or settles its balance
func (vc *VoucherController) UpdateVoucherStatus(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req voucherStatusRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	paidOn, err := parseAPIDate("payment_date", req.PaymentDate)
	if err != nil {
		return respondError(c, err)
	}

	change := ledger.StatusChange{
		Status:        req.Status,
		Reason:        req.Reason,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	}
	if paidOn != nil {
		change.PaymentDate = *paidOn
	}
	voucher, err := vc.ledger.SetStatus(c.UserContext(), p, id, change)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Voucher status updated",
		"voucher": voucher,
	})
}

// CancelVoucher voids a voucher
func (vc *VoucherController) CancelVoucher(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req cancelVoucherRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
	}
	voucher, err := vc.ledger.CancelVoucher(c.UserContext(), p, id, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Voucher cancelled",
		"voucher": voucher,
	})
}

// DeleteVoucher removes a voucher and its payments
func (vc *VoucherController) DeleteVoucher(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := vc.ledger.DeleteVoucher(c.UserContext(), p, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Voucher deleted successfully"})
}

// DownloadPDF renders the voucher as a PDF
func (vc *VoucherController) DownloadPDF(c *fiber.Ctx) error {
	voucher, data, err := vc.render(c)
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, pdfMIME)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`inline; filename="%s.pdf"`, voucher.VoucherNumber))
	return c.Send(data)
}

// ArchivePDF renders the voucher, uploads it and stores the URL on the voucher
func (vc *VoucherController) ArchivePDF(c *fiber.Ctx) error {
	if vc.store == nil {
		return respondError(c, fiber.NewError(fiber.StatusServiceUnavailable, "Document storage is not configured"))
	}
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	voucher, data, err := vc.render(c)
	if err != nil {
		return respondError(c, err)
	}
	// rendering is read-only; check write access before uploading anything
	if !p.CanWrite() {
		return respondError(c, &ledger.ForbiddenError{Action: "archive voucher documents"})
	}

	url, err := vc.store.UploadBytes("vouchers", voucher.VoucherNumber+".pdf", pdfMIME, data)
	if err != nil {
		return respondError(c, err)
	}
	if err := vc.ledger.AttachPDF(c.UserContext(), p, voucher.ID, url); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Voucher document archived",
		"pdf_url": url,
	})
}

func (vc *VoucherController) render(c *fiber.Ctx) (ledger.VoucherView, []byte, error) {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return ledger.VoucherView{}, nil, err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return ledger.VoucherView{}, nil, err
	}
	voucher, err := vc.ledger.GetVoucher(c.UserContext(), p, id)
	if err != nil {
		return voucher, nil, err
	}
	data, err := vc.renderer.Render(documents.FromView(voucher))
	return voucher, data, err
}

// ExportVouchers downloads the filtered vouchers as an xlsx workbook
func (vc *VoucherController) ExportVouchers(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	f, err := voucherFilter(c)
	if err != nil {
		return respondError(c, err)
	}

	var all []ledger.VoucherView
	f.Offset = 0
	f.Limit = 100
	for {
		page, total, err := vc.ledger.ListVouchers(c.UserContext(), p, f)
		if err != nil {
			return respondError(c, err)
		}
		all = append(all, page...)
		if len(page) == 0 || int64(len(all)) >= total {
			break
		}
		f.Offset += len(page)
	}

	var buf bytes.Buffer
	if err := services.WriteVoucherWorkbook(&buf, all); err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, xlsxMIME)
	c.Set(fiber.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="vouchers_%s.xlsx"`, time.Now().UTC().Format("2006-01-02")))
	return c.Send(buf.Bytes())
}

// ImportPayments records payments from an uploaded bank statement (.xlsx or .csv)
func (vc *VoucherController) ImportPayments(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return respondError(c, ledger.NewValidationError(ledger.ErrInvalidInput,
			ledger.FieldError{Field: "file", Error: "is required"}))
	}
	file, err := fh.Open()
	if err != nil {
		return respondError(c, err)
	}
	defer file.Close()

	report, err := vc.importer.Import(c.UserContext(), p, fh.Filename, file)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Statement processed",
		"report":  report,
	})
}
