package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"stepschool_go/services/ledger"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// ImportRow is the outcome of one statement line.
type ImportRow struct {
	Line          int             `json:"line"`
	VoucherNumber string          `json:"voucher_number"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"` // recorded, skipped, failed
	Error         string          `json:"error,omitempty"`
	VoucherStatus string          `json:"voucher_status,omitempty"`
}

// ImportReport summarises a bank statement import.
type ImportReport struct {
	Recorded int         `json:"recorded"`
	Skipped  int         `json:"skipped"`
	Failed   int         `json:"failed"`
	Rows     []ImportRow `json:"rows"`
}

// PaymentImporter posts bank statement lines as voucher payments. Every line is its own
// RecordPayment call, so one bad line never blocks the rest.
type PaymentImporter struct {
	ledger *ledger.Service
}

func NewPaymentImporter(svc *ledger.Service) *PaymentImporter {
	return &PaymentImporter{ledger: svc}
}

var requiredImportColumns = []string{"voucher_number", "amount", "payment_date"}

// Import reads a .xlsx or .csv statement with a header row. Recognised columns:
// voucher_number, amount, payment_date, payment_method, notes.
func (pi *PaymentImporter) Import(ctx context.Context, p ledger.Principal, filename string, r io.Reader) (ImportReport, error) {
	var report ImportReport
	if !p.CanWrite() {
		return report, &ledger.ForbiddenError{Action: "import payments"}
	}

	rows, err := readStatement(filename, r)
	if err != nil {
		return report, ledger.NewValidationError(ledger.ErrInvalidInput, ledger.FieldError{Field: "file", Error: err.Error()})
	}
	if len(rows) == 0 {
		return report, ledger.NewValidationError(ledger.ErrInvalidInput, ledger.FieldError{Field: "file", Error: "statement is empty"})
	}

	idx := mapHeaderIndexes(rows[0])
	var missing []string
	for _, col := range requiredImportColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return report, ledger.NewValidationError(ledger.ErrInvalidInput, ledger.FieldError{
			Field: "file",
			Error: "missing columns: " + strings.Join(missing, ", "),
		})
	}

	for i, rec := range rows[1:] {
		row := pi.importLine(ctx, p, i+2, idx, rec)
		switch row.Status {
		case "recorded":
			report.Recorded++
		case "skipped":
			report.Skipped++
		default:
			report.Failed++
		}
		report.Rows = append(report.Rows, row)
	}

	logrus.WithFields(logrus.Fields{
		"file":     filename,
		"recorded": report.Recorded,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
		"user_id":  p.UserID,
	}).Info("Payment statement imported")
	return report, nil
}

func (pi *PaymentImporter) importLine(ctx context.Context, p ledger.Principal, line int, idx map[string]int, rec []string) ImportRow {
	get := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	row := ImportRow{Line: line, VoucherNumber: strings.ToUpper(get("voucher_number"))}
	if row.VoucherNumber == "" && get("amount") == "" {
		row.Status = "skipped"
		return row
	}
	fail := func(err error) ImportRow {
		row.Status = "failed"
		row.Error = err.Error()
		return row
	}

	amount, err := decimal.NewFromString(strings.ReplaceAll(get("amount"), ",", ""))
	if err != nil {
		return fail(fmt.Errorf("amount %q is not a number", get("amount")))
	}
	row.Amount = amount

	paidOn := parseStatementDate(get("payment_date"))
	if paidOn == nil {
		return fail(fmt.Errorf("payment_date %q is not a date", get("payment_date")))
	}

	method := get("payment_method")
	if method == "" {
		method = detectPaymentMethod(get("notes"))
	}

	id, err := pi.ledger.FindVoucherID(ctx, p, row.VoucherNumber)
	if err != nil {
		return fail(err)
	}
	v, err := pi.ledger.RecordPayment(ctx, p, id, ledger.PaymentInput{
		Amount:        amount,
		PaymentMethod: method,
		PaymentDate:   *paidOn,
		Notes:         get("notes"),
	})
	if err != nil {
		var ve *ledger.ValidationError
		if errors.As(err, &ve) && len(ve.Fields) > 0 {
			return fail(fmt.Errorf("%s: %s", ve.Error(), ve.Fields[0].Error))
		}
		return fail(err)
	}
	row.Status = "recorded"
	row.VoucherStatus = string(v.Status)
	return row
}

func readStatement(filename string, r io.Reader) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return readCSVSimple(r)
	case ".xlsx":
		return readXLSXSimple(r)
	}
	return nil, fmt.Errorf("unsupported file type %q (use .xlsx or .csv)", filepath.Ext(filename))
}

func readCSVSimple(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readXLSXSimple(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sht := f.GetSheetName(0)
	if sht == "" {
		sht = "Sheet1"
	}
	return f.GetRows(sht)
}

// mapHeaderIndexes normalises "Voucher Number" and "voucher_number" to the same key.
func mapHeaderIndexes(header []string) map[string]int {
	m := map[string]int{}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		key = strings.ReplaceAll(key, " ", "_")
		if key != "" {
			m[key] = i
		}
	}
	return m
}

func parseStatementDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	layouts := []string{"2006-01-02", "02/01/2006", "2/1/2006", "02-01-2006", time.RFC3339}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func detectPaymentMethod(notes string) string {
	chk := strings.ToLower(notes)
	switch {
	case strings.Contains(chk, "cash"):
		return "cash"
	case strings.Contains(chk, "cheque"), strings.Contains(chk, "chq"):
		return "cheque"
	}
	return "bank_transfer"
}
