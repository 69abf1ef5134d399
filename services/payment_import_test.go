package services

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"stepschool_go/models"
	"stepschool_go/services/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func firstTwoVouchers(t *testing.T, svc *ledger.Service) (string, string) {
	t.Helper()
	views, _, err := svc.ListVouchers(context.Background(), ledger.System, ledger.VoucherFilter{})
	require.NoError(t, err)
	require.Len(t, views, 2)
	return views[0].VoucherNumber, views[1].VoucherNumber
}

func TestImportPaymentsCSV(t *testing.T) {
	svc, _ := newExportFixture(t)
	first, second := firstTwoVouchers(t, svc)

	csvData := strings.Join([]string{
		"Voucher Number,Amount,Payment Date,Notes",
		first + ",\"1,000\",2026-03-10,IBFT from school",
		second + ",3001,2026-03-10,cash deposit",
		"SS-NOPE-2603-000000,10,2026-03-10,",
		",,,",
		first + ",abc,2026-03-10,",
	}, "\n")

	report, err := NewPaymentImporter(svc).Import(context.Background(), ledger.System, "statement.csv", strings.NewReader(csvData))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Recorded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 3, report.Failed)
	require.Len(t, report.Rows, 5)

	assert.Equal(t, "recorded", report.Rows[0].Status)
	assert.Equal(t, "partial", report.Rows[0].VoucherStatus)
	assert.Contains(t, report.Rows[1].Error, "exceeds remaining balance of 3000.00")
	assert.Contains(t, report.Rows[2].Error, "not found")
	assert.Equal(t, "skipped", report.Rows[3].Status)
	assert.Equal(t, 6, report.Rows[4].Line)

	id, err := svc.FindVoucherID(context.Background(), ledger.System, strings.ToLower(first))
	require.NoError(t, err)
	v, err := svc.GetVoucher(context.Background(), ledger.System, id)
	require.NoError(t, err)
	assert.True(t, v.AmountPaid.Equal(decimal.NewFromInt(1000)), v.AmountPaid.String())
	require.Len(t, v.Payments, 1)
	assert.Equal(t, "bank_transfer", v.Payments[0].PaymentMethod)
}

func TestImportPaymentsCSVWithByteOrderMark(t *testing.T) {
	svc, _ := newExportFixture(t)
	first, _ := firstTwoVouchers(t, svc)

	csvData := "\ufeffVoucher Number,Amount\n" + first + ",500\n"
	report, err := NewPaymentImporter(svc).Import(context.Background(), ledger.System, "statement.csv", strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recorded)
	assert.Zero(t, report.Failed)
}

func TestImportPaymentsXLSX(t *testing.T) {
	svc, _ := newExportFixture(t)
	first, _ := firstTwoVouchers(t, svc)

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"voucher_number", "amount", "payment_date", "payment_method"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{first, "3000", "15/03/2026", "cheque"}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	report, err := NewPaymentImporter(svc).Import(context.Background(), ledger.System, "march.XLSX", &buf)
	require.NoError(t, err)
	require.Equal(t, 1, report.Recorded, report.Rows)
	assert.Equal(t, "paid", report.Rows[0].VoucherStatus)
}

func TestImportPaymentsRejectsBadFiles(t *testing.T) {
	svc, _ := newExportFixture(t)
	importer := NewPaymentImporter(svc)
	ctx := context.Background()

	_, err := importer.Import(ctx, ledger.System, "statement.pdf", strings.NewReader("x"))
	assert.True(t, ledger.IsValidation(err))

	_, err = importer.Import(ctx, ledger.System, "statement.csv", strings.NewReader("voucher_number,notes\n"))
	require.True(t, ledger.IsValidation(err))
	assert.Contains(t, err.(*ledger.ValidationError).Fields[0].Error, "amount, payment_date")

	id := uint(1)
	_, err = importer.Import(ctx, ledger.Principal{Role: models.RoleClient, ClientID: &id}, "statement.csv", strings.NewReader(""))
	assert.True(t, ledger.IsForbidden(err))
}

func TestDetectPaymentMethod(t *testing.T) {
	assert.Equal(t, "cash", detectPaymentMethod("Cash deposit at branch"))
	assert.Equal(t, "cheque", detectPaymentMethod("CHQ 000123"))
	assert.Equal(t, "bank_transfer", detectPaymentMethod(""))
}
