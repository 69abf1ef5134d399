package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stepschool_go/config"
	"stepschool_go/database"
	"stepschool_go/middleware"
	"stepschool_go/models"
	"stepschool_go/services/documents"
	"stepschool_go/services/ledger"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeDocs struct {
	uploads []string
}

func (f *fakeDocs) UploadBytes(folder, filename, contentType string, data []byte) (string, error) {
	f.uploads = append(f.uploads, folder+"/"+filename)
	return "https://docs.example/" + folder + "/" + filename, nil
}

type fixture struct {
	svc      *ledger.Service
	campus   models.Campus
	client   ledger.ClientDetail
	voucher  ledger.VoucherView
	docs     *fakeDocs
	asCaller ledger.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	ctx := context.Background()
	svc := ledger.NewService(db, "SS")
	campus, err := svc.CreateCampus(ctx, ledger.System, ledger.CampusInput{Name: "Model Town", City: "Lahore"})
	require.NoError(t, err)
	client, err := svc.CreateClient(ctx, ledger.System, ledger.ClientInput{
		Name:        "Beacon House School",
		City:        "Lahore",
		CampusID:    campus.ID,
		SeatCost:    decimal.NewFromInt(300),
		Programs:    []ledger.ProgramInput{{ProgramName: "Matric", SeatCount: 10}},
		PaymentPlan: []ledger.PlanEntryInput{{PaymentType: models.PaymentTypeAdvance, Amount: decimal.NewFromInt(3000)}},
	})
	require.NoError(t, err)
	voucher, err := svc.GenerateFromMilestone(ctx, ledger.System, ledger.MilestoneVoucherInput{
		ClientID:      client.ID,
		PaymentPlanID: client.Plan[0].ID,
	})
	require.NoError(t, err)

	return &fixture{svc: svc, campus: campus, client: client, voucher: voucher, docs: &fakeDocs{}, asCaller: ledger.System}
}

// app mounts the ledger routes behind a stub that installs f.asCaller as the principal.
func (f *fixture) app() *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		middleware.SetPrincipal(c, f.asCaller)
		return c.Next()
	})

	clients := NewClientController(f.svc)
	vouchers := NewVoucherController(f.svc, documents.NewRenderer("Step School"), f.docs)
	dashboard := NewDashboardController(f.svc)
	campuses := NewCampusController(f.svc)

	app.Get("/campuses", campuses.GetCampuses)
	app.Post("/campuses", campuses.CreateCampus)
	app.Get("/clients", clients.GetClients)
	app.Get("/clients/:id", clients.GetClient)
	app.Post("/clients", clients.CreateClient)
	app.Get("/vouchers/export", vouchers.ExportVouchers)
	app.Post("/vouchers/import-payments", vouchers.ImportPayments)
	app.Get("/vouchers", vouchers.GetVouchers)
	app.Get("/vouchers/:id", vouchers.GetVoucher)
	app.Get("/vouchers/:id/pdf", vouchers.DownloadPDF)
	app.Post("/vouchers/:id/pdf/archive", vouchers.ArchivePDF)
	app.Post("/vouchers/:id/record-payment", vouchers.RecordPayment)
	app.Patch("/vouchers/:id/cancel", vouchers.CancelVoucher)
	app.Get("/dashboard/metrics", dashboard.GetMetrics)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func idPath(prefix string, id uint, suffix string) string {
	return fmt.Sprintf("%s/%d%s", prefix, id, suffix)
}

func TestRecordPaymentEndpoint(t *testing.T) {
	f := newFixture(t)
	app := f.app()
	path := idPath("/vouchers", f.voucher.ID, "/record-payment")

	status, body := doJSON(t, app, http.MethodPost, path, fiber.Map{
		"payment_amount": "1000",
		"payment_method": "cash",
		"payment_date":   "2026-03-10",
	})
	require.Equal(t, http.StatusOK, status, body)
	voucher := body["voucher"].(map[string]interface{})
	assert.Equal(t, "partial", voucher["status"])

	status, body = doJSON(t, app, http.MethodPost, path, fiber.Map{
		"payment_amount": "2500",
		"payment_method": "cash",
		"payment_date":   "2026-03-11",
	})
	assert.Equal(t, http.StatusBadRequest, status, body)

	status, body = doJSON(t, app, http.MethodPost, path, fiber.Map{"payment_amount": "10"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body["fields"])

	status, _ = doJSON(t, app, http.MethodPost, idPath("/vouchers", 9999, "/record-payment"), fiber.Map{
		"payment_amount": "10",
		"payment_method": "cash",
		"payment_date":   "2026-03-11",
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestPrincipalScopingOverHTTP(t *testing.T) {
	f := newFixture(t)
	app := f.app()

	other := f.campus.ID + 1
	f.asCaller = ledger.Principal{UserID: 5, Role: models.RoleAccountant, CampusID: &other}
	status, _ := doJSON(t, app, http.MethodGet, idPath("/vouchers", f.voucher.ID, ""), nil)
	assert.Equal(t, http.StatusNotFound, status)

	clientID := f.client.ID
	f.asCaller = ledger.Principal{UserID: 6, Role: models.RoleClient, ClientID: &clientID}
	status, _ = doJSON(t, app, http.MethodGet, idPath("/vouchers", f.voucher.ID, ""), nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, app, http.MethodPost, idPath("/vouchers", f.voucher.ID, "/record-payment"), fiber.Map{
		"payment_amount": "10",
		"payment_method": "cash",
		"payment_date":   "2026-03-11",
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = doJSON(t, app, http.MethodPost, "/campuses", fiber.Map{"name": "Gulberg"})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestGetClientsPagination(t *testing.T) {
	f := newFixture(t)
	status, body := doJSON(t, f.app(), http.MethodGet, "/clients?search=beacon&limit=5", nil)
	require.Equal(t, http.StatusOK, status)

	clients := body["clients"].([]interface{})
	require.Len(t, clients, 1)
	page := body["pagination"].(map[string]interface{})
	assert.EqualValues(t, 1, page["total"])
	assert.EqualValues(t, 5, page["limit"])

	status, _ = doJSON(t, f.app(), http.MethodGet, "/clients?campus_id=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCreateClientValidation(t *testing.T) {
	f := newFixture(t)
	status, body := doJSON(t, f.app(), http.MethodPost, "/clients", fiber.Map{
		"name":      "",
		"campus_id": f.campus.ID,
		"seat_cost": "0",
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body["fields"])
}

func TestCancelThenDashboard(t *testing.T) {
	f := newFixture(t)
	app := f.app()

	status, body := doJSON(t, app, http.MethodPatch, idPath("/vouchers", f.voucher.ID, "/cancel"), fiber.Map{"reason": "duplicate"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "cancelled", body["voucher"].(map[string]interface{})["status"])

	status, body = doJSON(t, app, http.MethodGet, "/dashboard/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	metrics := body["metrics"].(map[string]interface{})
	counts := metrics["voucher_counts"].(map[string]interface{})
	assert.EqualValues(t, 1, counts["cancelled"])
}

func TestVoucherDocuments(t *testing.T) {
	f := newFixture(t)
	app := f.app()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, idPath("/vouchers", f.voucher.ID, "/pdf"), nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pdfMIME, resp.Header.Get(fiber.HeaderContentType))
	pdf, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))

	status, body := doJSON(t, app, http.MethodPost, idPath("/vouchers", f.voucher.ID, "/pdf/archive"), nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, []string{"vouchers/" + f.voucher.VoucherNumber + ".pdf"}, f.docs.uploads)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/vouchers/export", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxMIME, resp.Header.Get(fiber.HeaderContentType))

	wb, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows("Vouchers")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, f.voucher.VoucherNumber, rows[1][0])
}

func TestImportPaymentsEndpoint(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "statement.csv")
	require.NoError(t, err)
	_, err = io.WriteString(part, "voucher_number,amount,payment_date\n"+f.voucher.VoucherNumber+",3000,2026-03-12\n")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/vouchers/import-payments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := f.app().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Report struct {
			Recorded int `json:"recorded"`
			Failed   int `json:"failed"`
		} `json:"report"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out.Report.Recorded)
	assert.Equal(t, 0, out.Report.Failed)

	v, err := f.svc.GetVoucher(context.Background(), ledger.System, f.voucher.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, v.Status)

	status, _ := doJSON(t, f.app(), http.MethodPost, "/vouchers/import-payments", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUserLifecycleAndLogin(t *testing.T) {
	config.AppConfig = &config.Config{JWTSecret: "0123456789abcdef", JWTExpiresIn: time.Hour}
	f := newFixture(t)
	db := f.svc.DB()

	users := NewUserController(db)
	auth := NewAuthController(db, nil)
	admin := fiber.New()
	admin.Use(func(c *fiber.Ctx) error {
		middleware.SetPrincipal(c, ledger.System)
		return c.Next()
	})
	admin.Get("/users", users.GetUsers)
	admin.Post("/users", users.CreateUser)
	admin.Patch("/users/:id/status", users.UpdateUserStatus)

	public := fiber.New()
	public.Post("/auth/login", auth.Login)
	public.Get("/auth/profile", middleware.JWTMiddleware(db, nil), auth.GetProfile)

	status, body := doJSON(t, admin, http.MethodPost, "/users", fiber.Map{"username": "acc1", "role": "accountant"})
	assert.Equal(t, http.StatusBadRequest, status, body)

	status, body = doJSON(t, admin, http.MethodPost, "/users", fiber.Map{
		"username":  "acc1",
		"role":      "accountant",
		"campus_id": f.campus.ID,
	})
	require.Equal(t, http.StatusCreated, status, body)
	password, _ := body["temporary_password"].(string)
	require.Len(t, password, 12)
	userID := uint(body["user"].(map[string]interface{})["id"].(float64))

	status, _ = doJSON(t, admin, http.MethodPost, "/users", fiber.Map{
		"username":  "acc1",
		"role":      "accountant",
		"campus_id": f.campus.ID,
	})
	assert.Equal(t, http.StatusConflict, status)

	status, body = doJSON(t, public, http.MethodPost, "/auth/login", fiber.Map{"username": "acc1", "password": password})
	require.Equal(t, http.StatusOK, status, body)
	token := body["token"].(string)

	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := public.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile struct {
		User struct {
			Role   string `json:"role"`
			Campus struct {
				Name string `json:"name"`
			} `json:"campus"`
		} `json:"user"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profile))
	assert.Equal(t, models.RoleAccountant, profile.User.Role)
	assert.Equal(t, "Model Town", profile.User.Campus.Name)

	status, _ = doJSON(t, admin, http.MethodPatch, idPath("/users", userID, "/status"), fiber.Map{"status": "inactive"})
	require.Equal(t, http.StatusOK, status)
	status, _ = doJSON(t, public, http.MethodPost, "/auth/login", fiber.Map{"username": "acc1", "password": password})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = doJSON(t, admin, http.MethodGet, "/users?role=accountant", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["users"], 1)
	status, _ = doJSON(t, admin, http.MethodGet, "/users?role=janitor", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
