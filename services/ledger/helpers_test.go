package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"stepschool_go/database"
	"stepschool_go/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

var ctx = context.Background()

func newTestService(t *testing.T) *Service {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := database.OpenMemory(name)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	svc := NewService(db, "SS")
	svc.SetClock(func() time.Time { return fixedNow })
	return svc
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func seedCampus(t *testing.T, svc *Service, name string) models.Campus {
	t.Helper()
	c, err := svc.CreateCampus(ctx, System, CampusInput{Name: name, City: "Lahore"})
	require.NoError(t, err)
	return c
}

// seedClient onboards a client with one 10-seat program and the given plan amounts.
func seedClient(t *testing.T, svc *Service, campusID uint, name string, plan ...string) ClientDetail {
	t.Helper()
	types := []string{
		models.PaymentTypeAdvance,
		models.PaymentTypeAfterPreRegistration,
		models.PaymentTypeSubmittedExamination,
		models.PaymentTypeRollNumberSlip,
	}
	in := ClientInput{
		Name:         name,
		DirectorName: "Director",
		City:         "Lahore",
		CampusID:     campusID,
		SeatCost:     dec("600"),
		Programs:     []ProgramInput{{ProgramName: "Matric", SeatCount: 10}},
	}
	for i, amt := range plan {
		in.PaymentPlan = append(in.PaymentPlan, PlanEntryInput{PaymentType: types[i], Amount: dec(amt)})
	}
	d, err := svc.CreateClient(ctx, System, in)
	require.NoError(t, err)
	return d
}

func seedManualVoucher(t *testing.T, svc *Service, clientID uint, amount, paid string) VoucherView {
	t.Helper()
	in := ManualVoucherInput{
		ClientID:   clientID,
		Label:      "Books",
		Amount:     dec(amount),
		DueDate:    day(2026, time.April, 1),
		AmountPaid: dec(paid),
	}
	if in.AmountPaid.IsPositive() {
		in.PaymentMethod = "cash"
	}
	v, err := svc.CreateManualVoucher(ctx, System, in)
	require.NoError(t, err)
	return v
}

func accountantOf(campusID uint) Principal {
	id := campusID
	return Principal{UserID: 7, Role: models.RoleAccountant, CampusID: &id}
}

func clientPrincipal(clientID uint) Principal {
	id := clientID
	return Principal{UserID: 9, Role: models.RoleClient, ClientID: &id}
}

func payment(amount string) PaymentInput {
	return PaymentInput{Amount: dec(amount), PaymentMethod: "bank_transfer", PaymentDate: fixedNow}
}
