// Package documents renders printable voucher documents.
package documents

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"stepschool_go/services/ledger"
	"stepschool_go/utils"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// VoucherDocument is the data printed on a voucher.
type VoucherDocument struct {
	VoucherNumber string
	ClientName    string
	Label         string
	Amount        decimal.Decimal
	AmountPaid    decimal.Decimal
	Balance       decimal.Decimal
	Status        ledger.VoucherStatus
	DueDate       *time.Time
	IssuedAt      time.Time
}

// FromView builds the document data from a ledger voucher.
func FromView(v ledger.VoucherView) VoucherDocument {
	return VoucherDocument{
		VoucherNumber: v.VoucherNumber,
		ClientName:    v.ClientName,
		Label:         v.Label,
		Amount:        v.Amount,
		AmountPaid:    v.AmountPaid,
		Balance:       v.Balance,
		Status:        v.Status,
		DueDate:       v.DueDate,
		IssuedAt:      v.CreatedAt,
	}
}

// Renderer produces voucher PDFs.
type Renderer struct {
	Title      string
	Compressed bool
}

// NewRenderer returns a renderer with compressed output.
func NewRenderer(title string) *Renderer {
	if title == "" {
		title = "Fee Voucher"
	}
	return &Renderer{Title: title, Compressed: true}
}

// Render draws a single A4 voucher and returns the PDF bytes.
func (r *Renderer) Render(doc VoucherDocument) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.Compressed)
	pdf.SetTitle(fmt.Sprintf("%s %s", r.Title, doc.VoucherNumber), true)
	if !doc.IssuedAt.IsZero() {
		pdf.SetCreationDate(doc.IssuedAt)
	}
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, r.Title, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, doc.VoucherNumber, "", 1, "C", false, 0, "")
	pdf.Ln(6)

	rows := [][2]string{
		{"Client", doc.ClientName},
		{"Description", humanize(doc.Label)},
		{"Due date", formatDate(doc.DueDate)},
		{"Status", strings.ToUpper(string(doc.Status))},
	}
	for _, row := range rows {
		r.row(pdf, row[0], row[1], false)
	}
	pdf.Ln(4)

	r.row(pdf, "Amount", utils.FormatPKR(doc.Amount), false)
	r.row(pdf, "Paid", utils.FormatPKR(doc.AmountPaid), false)
	r.row(pdf, "Balance due", utils.FormatPKR(doc.Balance), true)

	pdf.Ln(10)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.MultiCell(0, 5, "This is a computer generated voucher and does not require a signature.", "", "L", false)

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("render voucher %s: %w", doc.VoucherNumber, err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write voucher %s: %w", doc.VoucherNumber, err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) row(pdf *fpdf.Fpdf, label, value string, bold bool) {
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(45, 8, label, "1", 0, "L", false, 0, "")
	style := ""
	if bold {
		style = "B"
	}
	pdf.SetFont("Helvetica", style, 11)
	pdf.CellFormat(0, 8, value, "1", 1, "L", false, 0, "")
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("02 Jan 2006")
}

// humanize turns "after_pre_registration" into "After pre registration".
func humanize(label string) string {
	s := strings.TrimSpace(strings.ReplaceAll(label, "_", " "))
	if s == "" {
		return "-"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
