package main

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"stepschool_go/config"
	"stepschool_go/database"
	"stepschool_go/middleware"
	"stepschool_go/routes"
	"stepschool_go/services"
	"stepschool_go/services/documents"
	"stepschool_go/services/ledger"
	"stepschool_go/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

const maxUploadSize = 10 * 1024 * 1024

func init() {
	// Load configuration
	config.LoadConfig()

	// Initialize logging
	setupLogging()

	// Connect to database
	database.Connect()
}

func main() {
	startedAt := time.Now()
	db := database.GetDB()
	rdb := database.GetRedisClient()
	cfg := config.AppConfig

	ledgerSvc := ledger.NewService(db, cfg.VoucherPrefix)

	store, err := storage.NewStorageService()
	if err != nil {
		logrus.WithError(err).Warn("S3 storage unavailable, voucher archiving disabled")
	}

	var putter services.ObjectPutter
	if cfg.ExportEnabled {
		client, err := services.NewS3Client(context.Background(), cfg.AWSRegion)
		if err != nil {
			logrus.WithError(err).Warn("Ledger export disabled")
		} else {
			putter = client
		}
	}
	exports := services.NewLedgerExportService(ledgerSvc, db, putter, cfg.ExportBucketName)
	if putter != nil {
		if _, err := exports.StartScheduler(cfg.ExportCron); err != nil {
			log.Fatal("Invalid EXPORT_CRON:", err)
		}
	}

	health := services.NewHealthService(db, rdb, cfg.AppEnv, services.HealthFlags{
		SkipMigrate:   cfg.SkipMigrate,
		ExportEnabled: putter != nil,
	})
	health.SetStartTime(startedAt)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    maxUploadSize,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization," + middleware.IdempotencyHeader,
		ExposeHeaders: "Content-Disposition,X-Request-ID",
	}))
	app.Use(middleware.LoggerMiddleware())

	routes.SetupRoutes(app, routes.Deps{
		DB:       db,
		Redis:    rdb,
		Ledger:   ledgerSvc,
		Renderer: documents.NewRenderer("Step School"),
		Storage:  store,
		Exports:  exports,
		Health:   health,
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "Route not found",
			"path":   c.Path(),
			"method": c.Method(),
		})
	})

	log.Printf("Server starting on port %s", cfg.Port)
	log.Printf("Environment: %s", cfg.AppEnv)

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// setupLogging configures the logging system
func setupLogging() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(config.AppConfig.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	// Log to stdout in development, stdout plus file elsewhere
	if config.AppConfig.AppEnv == "development" || config.AppConfig.LogFile == "" {
		logrus.SetOutput(os.Stdout)
		return
	}
	if err := os.MkdirAll(filepath.Dir(config.AppConfig.LogFile), 0755); err != nil {
		log.Printf("Warning: Could not create logs directory: %v", err)
	}
	file, err := os.OpenFile(config.AppConfig.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		logrus.SetOutput(io.MultiWriter(os.Stdout, file))
	}
}

// customErrorHandler handles application errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	// Check if it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	logrus.WithFields(logrus.Fields{
		"error":  err.Error(),
		"path":   c.Path(),
		"method": c.Method(),
		"ip":     c.IP(),
		"status": code,
	}).Error("Request error")

	return c.Status(code).JSON(fiber.Map{
		"error":  message,
		"code":   code,
		"path":   c.Path(),
		"method": c.Method(),
	})
}
