package routes

import (
	"time"

	"stepschool_go/controllers"
	"stepschool_go/middleware"
	"stepschool_go/services"
	"stepschool_go/services/documents"
	"stepschool_go/services/ledger"
	"stepschool_go/storage"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const idempotencyTTL = 24 * time.Hour

// Deps carries the shared services the routes are built from.
// Redis and Storage may be nil.
type Deps struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Ledger   *ledger.Service
	Renderer *documents.Renderer
	Storage  *storage.StorageService
	Exports  *services.LedgerExportService
	Health   *services.HealthService
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, d Deps) {
	var docs controllers.DocumentStore
	if d.Storage != nil {
		docs = d.Storage
	}
	var idem middleware.IdempotencyStore
	if d.Redis != nil {
		idem = middleware.NewRedisIdempotencyStore(d.Redis)
	}

	authController := controllers.NewAuthController(d.DB, d.Redis)
	userController := controllers.NewUserController(d.DB)
	campusController := controllers.NewCampusController(d.Ledger)
	clientController := controllers.NewClientController(d.Ledger)
	voucherController := controllers.NewVoucherController(d.Ledger, d.Renderer, docs)
	dashboardController := controllers.NewDashboardController(d.Ledger)
	exportController := controllers.NewExportController(d.Exports)
	healthController := controllers.NewHealthController(d.Health)

	app.Get("/health", healthController.GetHealthStatus)

	api := app.Group("/api")
	api.Get("/health", healthController.GetHealthStatus)

	// Authentication routes (login is public)
	auth := api.Group("/auth")
	auth.Post("/login", authController.Login)

	protected := api.Group("/", middleware.JWTMiddleware(d.DB, d.Redis))
	protected.Post("/auth/logout", authController.Logout)
	protected.Get("/auth/profile", authController.GetProfile)

	// User management routes
	users := protected.Group("/users", middleware.RequireOwner())
	users.Get("/", userController.GetUsers)
	users.Post("/", userController.CreateUser)
	users.Patch("/:id/status", userController.UpdateUserStatus)

	campuses := protected.Group("/campuses")
	campuses.Get("/", campusController.GetCampuses)
	campuses.Post("/", middleware.RequireOwner(), campusController.CreateCampus)
	campuses.Delete("/:id", middleware.RequireOwner(), campusController.DeleteCampus)

	// Clients are visible to clients themselves; mutations are staff only
	clients := protected.Group("/clients")
	clients.Get("/", clientController.GetClients)
	clients.Get("/:id", clientController.GetClient)
	clients.Post("/", middleware.RequireStaff(), clientController.CreateClient)
	clients.Put("/:id", middleware.RequireStaff(), clientController.UpdateClient)
	clients.Delete("/:id", middleware.RequireStaff(), clientController.DeleteClient)
	clients.Post("/:id/payment-plan/:planId/voucher", middleware.RequireStaff(), clientController.GenerateMilestoneVoucher)

	// Static voucher paths must be registered before /:id
	vouchers := protected.Group("/vouchers")
	vouchers.Get("/", voucherController.GetVouchers)
	vouchers.Get("/export", middleware.RequireStaff(), voucherController.ExportVouchers)
	vouchers.Post("/import-payments", middleware.RequireStaff(), voucherController.ImportPayments)
	vouchers.Post("/", middleware.RequireStaff(), voucherController.CreateVoucher)
	vouchers.Get("/:id", voucherController.GetVoucher)
	vouchers.Get("/:id/pdf", voucherController.DownloadPDF)
	vouchers.Post("/:id/pdf/archive", middleware.RequireStaff(), voucherController.ArchivePDF)
	vouchers.Post("/:id/record-payment", middleware.RequireStaff(),
		middleware.Idempotency(idem, idempotencyTTL), voucherController.RecordPayment)
	vouchers.Patch("/:id/status", middleware.RequireStaff(), voucherController.UpdateVoucherStatus)
	vouchers.Patch("/:id/cancel", middleware.RequireStaff(), voucherController.CancelVoucher)
	vouchers.Delete("/:id", middleware.RequireStaff(), voucherController.DeleteVoucher)

	dashboard := protected.Group("/dashboard")
	dashboard.Get("/metrics", dashboardController.GetMetrics)
	dashboard.Get("/client-metrics", dashboardController.GetClientMetrics)

	exports := protected.Group("/exports", middleware.RequireOwner())
	exports.Get("/", exportController.GetExports)
	exports.Post("/run", exportController.RunExport)
}
