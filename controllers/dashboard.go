package controllers

import (
	"stepschool_go/middleware"
	"stepschool_go/services/ledger"

	"github.com/gofiber/fiber/v2"
)

type DashboardController struct {
	ledger *ledger.Service
}

func NewDashboardController(svc *ledger.Service) *DashboardController {
	return &DashboardController{ledger: svc}
}

// GetMetrics returns revenue, pending and overdue figures for the caller's scope
func (dc *DashboardController) GetMetrics(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	metrics, err := dc.ledger.DashboardMetrics(c.UserContext(), p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"metrics": metrics})
}

// GetClientMetrics returns the per-client balance table
func (dc *DashboardController) GetClientMetrics(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	rows, err := dc.ledger.ClientMetrics(c.UserContext(), p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"clients": rows})
}
