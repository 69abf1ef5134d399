package controllers

import (
	"stepschool_go/services"

	"github.com/gofiber/fiber/v2"
)

type ExportController struct {
	exports *services.LedgerExportService
}

func NewExportController(exports *services.LedgerExportService) *ExportController {
	return &ExportController{exports: exports}
}

// GetExports lists recent ledger snapshots
func (ec *ExportController) GetExports(c *fiber.Ctx) error {
	exports, err := ec.exports.ListExports(c.UserContext(), c.QueryInt("limit", 30))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"exports": exports})
}

// RunExport triggers a ledger snapshot outside the schedule
func (ec *ExportController) RunExport(c *fiber.Ctx) error {
	record, err := ec.exports.ExportLedger(c.UserContext())
	if err != nil {
		if record.ID != 0 {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":  "Ledger export failed",
				"export": record,
			})
		}
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Ledger export completed",
		"export":  record,
	})
}
