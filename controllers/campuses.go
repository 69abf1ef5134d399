package controllers

import (
	"stepschool_go/middleware"
	"stepschool_go/services/ledger"

	"github.com/gofiber/fiber/v2"
)

type CampusController struct {
	ledger *ledger.Service
}

func NewCampusController(svc *ledger.Service) *CampusController {
	return &CampusController{ledger: svc}
}

type createCampusRequest struct {
	Name     string `json:"name" validate:"required,max=150"`
	City     string `json:"city" validate:"max=100"`
	Location string `json:"location" validate:"max=255"`
}

// GetCampuses lists the campuses visible to the caller
func (cc *CampusController) GetCampuses(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	campuses, err := cc.ledger.ListCampuses(c.UserContext(), p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"campuses": campuses})
}

// CreateCampus adds a campus
func (cc *CampusController) CreateCampus(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	var req createCampusRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	campus, err := cc.ledger.CreateCampus(c.UserContext(), p, ledger.CampusInput{
		Name:     req.Name,
		City:     req.City,
		Location: req.Location,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Campus created successfully",
		"campus":  campus,
	})
}

// DeleteCampus removes an empty campus
func (cc *CampusController) DeleteCampus(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := cc.ledger.DeleteCampus(c.UserContext(), p, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Campus deleted successfully"})
}
