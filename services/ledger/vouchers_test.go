package ledger

import (
	"errors"
	"testing"
	"time"

	"stepschool_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func reloadVoucher(t *testing.T, svc *Service, id uint) models.Voucher {
	t.Helper()
	var v models.Voucher
	require.NoError(t, svc.db.First(&v, id).Error)
	return v
}

func countPayments(t *testing.T, svc *Service, voucherID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, svc.db.Model(&models.VoucherPayment{}).Where("voucher_id = ?", voucherID).Count(&n).Error)
	return n
}

func TestRecordPaymentRejectsOverdraw(t *testing.T) {
	svc := newTestService(t)
	campus := seedCampus(t, svc, "Main")
	client := seedClient(t, svc, campus.ID, "Beacon House School")
	v := seedManualVoucher(t, svc, client.ID, "1000", "800")
	require.Equal(t, StatusPartial, v.Status)

	_, err := svc.RecordPayment(ctx, System, v.ID, payment("201"))
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.True(t, errors.Is(err, ErrOverdraw))

	stored := reloadVoucher(t, svc, v.ID)
	requireDecimal(t, "800", stored.AmountPaid)
	assert.Equal(t, int64(1), countPayments(t, svc, v.ID))
}

func TestRecordPaymentExactBalanceSettles(t *testing.T) {
	svc := newTestService(t)
	campus := seedCampus(t, svc, "Main")
	client := seedClient(t, svc, campus.ID, "Beacon House School")
	v := seedManualVoucher(t, svc, client.ID, "1000", "800")

	in := payment("200")
	in.Notes = "final installment"
	got, err := svc.RecordPayment(ctx, System, v.ID, in)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	requireDecimal(t, "1000", got.AmountPaid)
	requireDecimal(t, "0", got.Balance)
	assert.Equal(t, "bank_transfer", got.PaymentMethod)
	assert.Equal(t, "final installment", got.Notes)
	assert.Equal(t, "Beacon House School", got.ClientName)
	assert.Equal(t, int64(2), countPayments(t, svc, v.ID))

	_, err = svc.RecordPayment(ctx, System, v.ID, payment("1"))
	assert.True(t, errors.Is(err, ErrAlreadySettled))
}

func TestRecordPaymentOnCancelledVoucher(t *testing.T) {
	svc := newTestService(t)
	campus := seedCampus(t, svc, "Main")
	client := seedClient(t, svc, campus.ID, "Beacon House School")
	v := seedManualVoucher(t, svc, client.ID, "1000", "0")

	cancelled, err := svc.CancelVoucher(ctx, System, v.ID, "issued twice")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "issued twice", cancelled.CancelReason)

	for _, amount := range []string{"1", "1000", "5000"} {
		_, err := svc.RecordPayment(ctx, System, v.ID, payment(amount))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrVoucherCancelled), amount)
	}
	stored := reloadVoucher(t, svc, v.ID)
	requireDecimal(t, "0", stored.AmountPaid)
	assert.Equal(t, int64(0), countPayments(t, svc, v.ID))

	_, err = svc.CancelVoucher(ctx, System, v.ID, "again")
	assert.True(t, errors.Is(err, ErrVoucherCancelled))
}

func TestRecordPaymentValidatesInput(t *testing.T) {
	svc := newTestService(t)
	campus := seedCampus(t, svc, "Main")
	client := seedClient(t, svc, campus.ID, "Beacon House School")
	v := seedManualVoucher(t, svc, client.ID, "1000", "0")

	tests := []struct {
		name string
		in   PaymentInput
		want error
	}{
		{"zero amount", payment("0"), ErrNonPositiveAmount},
		{"negative amount", payment("-5"), ErrNonPositiveAmount},
		{"missing method", PaymentInput{Amount: dec("10"), PaymentDate: fixedNow}, ErrInvalidInput},
		{"missing date", PaymentInput{Amount: dec("10"), PaymentMethod: "cash"}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordPayment(ctx, System, v.ID, tt.in)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.True(t, errors.Is(err, tt.want), err.Error())
		})
	}
	requireDecimal(t, "0", reloadVoucher(t, svc, v.ID).AmountPaid)

	_, err := svc.RecordPayment(ctx, System, 9999, payment("10"))
	assert.True(t, IsNotFound(err))
}

// Any sequence of accepted and rejected payments keeps 0 <= amount_paid <= amount.
func TestRecordPaymentSequenceKeepsBounds(t *testing.T) {
	svc := newTestService(t)
	campus := seedCampus(t, svc, "Main")
	client := seedClient(t, svc, campus.ID, "Beacon House School")
	v := seedManualVoucher(t, svc, client.ID, "1000", "0")

	attempts := []string{"300", "800", "500", "-1", "250", "0", "199", "0.5", "0.5", "10"}
	paid := dec("0")
	for _, amt := range attempts {
		_, err := svc.RecordPayment(ctx, System, v.ID, payment(amt))
		a := dec(amt)
		if err == nil {
			paid = paid.Add(a)
		} else {
			assert.True(t, IsValidation(err), amt)
		}
		stored := reloadVoucher(t, svc, v.ID)
		requireDecimal(t, paid.String(), stored.AmountPaid, amt)
		assert.False(t, stored.AmountPaid.IsNegative())
		assert.True(t, stored.AmountPaid.LessThanOrEqual(stored.Amount))
	}
	requireDecimal(t, "1000", paid)
	assert.Equal(t, StatusPaid, StatusOf(reloadVoucher(t, svc, v.ID)))
}

func TestRecordPaymentDetectsConcurrentWriter(t *testing.T) {
	svc := newTestService(t)
	campus := seedCampus(t, svc, "Main")
	client := seedClient(t, svc, campus.ID, "Beacon House School")
	v := seedManualVoucher(t, svc, client.ID, "1000", "0")

	// Another writer bumps amount_paid between the locked read and the guarded update.
	fired := false
	err := svc.db.Callback().Update().Before("gorm:update").Register("test:race", func(db *gorm.DB) {
		if fired || db.Statement.Table != "vouchers" {
			return
		}
		fired = true
		db.Statement.ConnPool.ExecContext(db.Statement.Context,
			"UPDATE vouchers SET amount_paid = amount_paid + 100 WHERE id = ?", v.ID)
	})
	require.NoError(t, err)

	_, err = svc.RecordPayment(ctx, System, v.ID, payment("300"))
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.True(t, errors.Is(err, ErrConcurrentUpdate))

	// the whole transaction rolled back, including the racing write
	requireDecimal(t, "0", reloadVoucher(t, svc, v.ID).AmountPaid)
	assert.Equal(t, int64(0), countPayments(t, svc, v.ID))
}

func TestRecordPaymentScoping(t *testing.T) {
	svc := newTestService(t)
	north := seedCampus(t, svc, "North")
	south := seedCampus(t, svc, "South")
	client := seedClient(t, svc, north.ID, "Beacon House School")
	v := seedManualVoucher(t, svc, client.ID, "1000", "0")

	_, err := svc.RecordPayment(ctx, accountantOf(south.ID), v.ID, payment("10"))
	assert.True(t, IsNotFound(err), "other campus sees nothing")

	_, err = svc.RecordPayment(ctx, clientPrincipal(client.ID), v.ID, payment("10"))
	assert.True(t, IsForbidden(err), "clients are read only")

	got, err := svc.RecordPayment(ctx, accountantOf(north.ID), v.ID, payment("10"))
	require.NoError(t, err)
	requireDecimal(t, "10", got.AmountPaid)

	var p models.VoucherPayment
	require.NoError(t, svc.db.Where("voucher_id = ?", v.ID).First(&p).Error)
	assert.Equal(t, uint(7), p.RecordedBy)
}

func TestGenerateFromMilestone(t *testing.T) {
	svc := newTestService(t)
	campus := seedCampus(t, svc, "Main")
	client := seedClient(t, svc, campus.ID, "Beacon House School", "3000", "1500")
	other := seedClient(t, svc, campus.ID, "Allied School", "900")
	advance := client.Plan[0]

	v, err := svc.GenerateFromMilestone(ctx, System, MilestoneVoucherInput{
		ClientID:      client.ID,
		PaymentPlanID: advance.ID,
		DueDate:       day(2026, time.April, 10),
	})
	require.NoError(t, err)
	assert.Equal(t, "milestone", v.Kind)
	assert.Equal(t, models.PaymentTypeAdvance, v.Label)
	requireDecimal(t, "3000", v.Amount)
	assert.Equal(t, StatusPending, v.Status)
	require.NotNil(t, v.PaymentPlanID)
	assert.Equal(t, advance.ID, *v.PaymentPlanID)
	assert.Equal(t, campus.ID, v.CampusID)

	_, err = svc.GenerateFromMilestone(ctx, System, MilestoneVoucherInput{ClientID: client.ID, PaymentPlanID: advance.ID})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.True(t, errors.Is(err, ErrMilestoneIssued))

	_, err = svc.GenerateFromMilestone(ctx, System, MilestoneVoucherInput{ClientID: client.ID, PaymentPlanID: other.Plan[0].ID})
	assert.True(t, IsNotFound(err), "plan of another client")

	_, err = svc.CancelVoucher(ctx, System, v.ID, "wrong due date")
	require.NoError(t, err)
	again, err := svc.GenerateFromMilestone(ctx, System, MilestoneVoucherInput{ClientID: client.ID, PaymentPlanID: advance.ID})
	require.NoError(t, err, "cancelled voucher frees the milestone")
	assert.NotEqual(t, v.VoucherNumber, again.VoucherNumber)
}

func TestCreateManualVoucher(t *testing.T) {
	svc := newTestService(t)
	campus := seedCampus(t, svc, "Main")
	client := seedClient(t, svc, campus.ID, "Beacon House School")

	tests := []struct {
		name string
		in   ManualVoucherInput
		want error
	}{
		{"zero amount", ManualVoucherInput{ClientID: client.ID, Label: "x", Amount: dec("0"), DueDate: day(2026, 4, 1)}, ErrNonPositiveAmount},
		{"missing label", ManualVoucherInput{ClientID: client.ID, Amount: dec("10"), DueDate: day(2026, 4, 1)}, ErrInvalidInput},
		{"missing due date", ManualVoucherInput{ClientID: client.ID, Label: "x", Amount: dec("10")}, ErrInvalidInput},
		{"paid above amount", ManualVoucherInput{ClientID: client.ID, Label: "x", Amount: dec("10"), AmountPaid: dec("11"), PaymentMethod: "cash", DueDate: day(2026, 4, 1)}, ErrInvalidInput},
		{"paid without method", ManualVoucherInput{ClientID: client.ID, Label: "x", Amount: dec("10"), AmountPaid: dec("5"), DueDate: day(2026, 4, 1)}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateManualVoucher(ctx, System, tt.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
		})
	}

	var n int64
	require.NoError(t, svc.db.Model(&models.Voucher{}).Count(&n).Error)
	assert.Zero(t, n)

	v := seedManualVoucher(t, svc, client.ID, "2500", "500")
	assert.Equal(t, "manual", v.Kind)
	assert.Nil(t, v.PaymentPlanID)
	assert.Equal(t, StatusPartial, v.Status)
	requireDecimal(t, "2000", v.Balance)
	assert.Equal(t, int64(1), countPayments(t, svc, v.ID))
}

func TestSetStatus(t *testing.T) {
	svc := newTestService(t)
	campus := seedCampus(t, svc, "Main")
	client := seedClient(t, svc, campus.ID, "Beacon House School")

	t.Run("derived statuses are rejected", func(t *testing.T) {
		v := seedManualVoucher(t, svc, client.ID, "1000", "0")
		for _, s := range []string{"pending", "partial"} {
			_, err := svc.SetStatus(ctx, System, v.ID, StatusChange{Status: s})
			assert.True(t, errors.Is(err, ErrDerivedStatus), s)
		}
		_, err := svc.SetStatus(ctx, System, v.ID, StatusChange{Status: "overdue"})
		assert.True(t, IsValidation(err))
	})

	t.Run("paid settles the balance", func(t *testing.T) {
		v := seedManualVoucher(t, svc, client.ID, "1000", "400")
		got, err := svc.SetStatus(ctx, System, v.ID, StatusChange{Status: "paid", PaymentMethod: "cheque"})
		require.NoError(t, err)
		assert.Equal(t, StatusPaid, got.Status)
		requireDecimal(t, "1000", got.AmountPaid)

		var last models.VoucherPayment
		require.NoError(t, svc.db.Where("voucher_id = ?", v.ID).Order("id DESC").First(&last).Error)
		requireDecimal(t, "600", last.Amount)
		assert.Equal(t, "cheque", last.PaymentMethod)
	})

	t.Run("paid needs a method", func(t *testing.T) {
		v := seedManualVoucher(t, svc, client.ID, "1000", "0")
		_, err := svc.SetStatus(ctx, System, v.ID, StatusChange{Status: "paid"})
		assert.True(t, IsValidation(err))
	})

	t.Run("cancelled cancels", func(t *testing.T) {
		v := seedManualVoucher(t, svc, client.ID, "1000", "0")
		got, err := svc.SetStatus(ctx, System, v.ID, StatusChange{Status: "cancelled", Reason: "duplicate"})
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		require.NotNil(t, got.CancelledAt)
	})
}

func TestListVouchers(t *testing.T) {
	svc := newTestService(t)
	north := seedCampus(t, svc, "North")
	south := seedCampus(t, svc, "South")
	beacon := seedClient(t, svc, north.ID, "Beacon House School")
	allied := seedClient(t, svc, south.ID, "Allied School")

	seedManualVoucher(t, svc, beacon.ID, "1000", "0")
	seedManualVoucher(t, svc, beacon.ID, "1000", "1000")
	partial := seedManualVoucher(t, svc, beacon.ID, "1000", "10")
	seedManualVoucher(t, svc, allied.ID, "500", "0")

	all, total, err := svc.ListVouchers(ctx, System, VoucherFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, all, 4)

	pending, total, err := svc.ListVouchers(ctx, System, VoucherFilter{Status: StatusPending})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, v := range pending {
		assert.Equal(t, StatusPending, v.Status)
	}

	found, _, err := svc.ListVouchers(ctx, System, VoucherFilter{Search: "allied"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Allied School", found[0].ClientName)

	found, _, err = svc.ListVouchers(ctx, System, VoucherFilter{Search: partial.VoucherNumber})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, partial.ID, found[0].ID)

	page, total, err := svc.ListVouchers(ctx, System, VoucherFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, page, 2)

	scoped, total, err := svc.ListVouchers(ctx, accountantOf(south.ID), VoucherFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, allied.ID, scoped[0].ClientID)

	own, total, err := svc.ListVouchers(ctx, clientPrincipal(beacon.ID), VoucherFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	for _, v := range own {
		assert.Equal(t, beacon.ID, v.ClientID)
	}

	_, err = svc.GetVoucher(ctx, clientPrincipal(beacon.ID), scoped[0].ID)
	assert.True(t, IsNotFound(err))
}

func TestOverdueFlag(t *testing.T) {
	svc := newTestService(t)
	campus := seedCampus(t, svc, "Main")
	client := seedClient(t, svc, campus.ID, "Beacon House School")

	late, err := svc.CreateManualVoucher(ctx, System, ManualVoucherInput{
		ClientID: client.ID, Label: "Late fee", Amount: dec("100"), DueDate: day(2026, time.March, 1),
	})
	require.NoError(t, err)
	assert.True(t, late.Overdue)

	dueToday, err := svc.CreateManualVoucher(ctx, System, ManualVoucherInput{
		ClientID: client.ID, Label: "Today", Amount: dec("100"), DueDate: day(2026, time.March, 15),
	})
	require.NoError(t, err)
	assert.False(t, dueToday.Overdue)

	settled, err := svc.RecordPayment(ctx, System, late.ID, payment("100"))
	require.NoError(t, err)
	assert.False(t, settled.Overdue)
}

func TestDeleteVoucherRemovesPayments(t *testing.T) {
	svc := newTestService(t)
	campus := seedCampus(t, svc, "Main")
	client := seedClient(t, svc, campus.ID, "Beacon House School")
	v := seedManualVoucher(t, svc, client.ID, "1000", "300")

	assert.True(t, IsForbidden(svc.DeleteVoucher(ctx, clientPrincipal(client.ID), v.ID)))
	require.NoError(t, svc.DeleteVoucher(ctx, System, v.ID))
	assert.Equal(t, int64(0), countPayments(t, svc, v.ID))
	_, err := svc.GetVoucher(ctx, System, v.ID)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(svc.DeleteVoucher(ctx, System, v.ID)))
}

func TestAttachPDF(t *testing.T) {
	svc := newTestService(t)
	campus := seedCampus(t, svc, "Main")
	client := seedClient(t, svc, campus.ID, "Beacon House School")
	v := seedManualVoucher(t, svc, client.ID, "1000", "0")

	require.NoError(t, svc.AttachPDF(ctx, System, v.ID, "https://bucket.s3.amazonaws.com/vouchers/a.pdf"))
	assert.Equal(t, "https://bucket.s3.amazonaws.com/vouchers/a.pdf", reloadVoucher(t, svc, v.ID).PDFURL)
	assert.True(t, IsNotFound(svc.AttachPDF(ctx, System, 999, "x")))
}
