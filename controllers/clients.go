package controllers

import (
	"stepschool_go/middleware"
	"stepschool_go/services/ledger"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type ClientController struct {
	ledger *ledger.Service
}

func NewClientController(svc *ledger.Service) *ClientController {
	return &ClientController{ledger: svc}
}

type programRequest struct {
	ProgramName string `json:"program_name" validate:"required,max=150"`
	SeatCount   int    `json:"seat_count" validate:"gt=0"`
}

type planEntryRequest struct {
	PaymentType  string          `json:"payment_type" validate:"required,max=100"`
	Amount       decimal.Decimal `json:"amount" validate:"gt=0"`
	DisplayOrder int             `json:"display_order" validate:"gte=0"`
}

type clientRequest struct {
	Name         string             `json:"name" validate:"required,max=255"`
	DirectorName string             `json:"director_name" validate:"max=255"`
	City         string             `json:"city" validate:"max=100"`
	CampusID     uint               `json:"campus_id" validate:"required"`
	SeatCost     decimal.Decimal    `json:"seat_cost" validate:"gt=0"`
	Programs     []programRequest   `json:"programs" validate:"omitempty,dive"`
	PaymentPlan  []planEntryRequest `json:"payment_plan" validate:"omitempty,dive"`
}

// toInput keeps nil slices nil so an update without programs or plan leaves them untouched.
func (r clientRequest) toInput() ledger.ClientInput {
	in := ledger.ClientInput{
		Name:         r.Name,
		DirectorName: r.DirectorName,
		City:         r.City,
		CampusID:     r.CampusID,
		SeatCost:     r.SeatCost,
	}
	if r.Programs != nil {
		in.Programs = make([]ledger.ProgramInput, 0, len(r.Programs))
		for _, p := range r.Programs {
			in.Programs = append(in.Programs, ledger.ProgramInput{ProgramName: p.ProgramName, SeatCount: p.SeatCount})
		}
	}
	if r.PaymentPlan != nil {
		in.PaymentPlan = make([]ledger.PlanEntryInput, 0, len(r.PaymentPlan))
		for _, e := range r.PaymentPlan {
			in.PaymentPlan = append(in.PaymentPlan, ledger.PlanEntryInput{
				PaymentType:  e.PaymentType,
				Amount:       e.Amount,
				DisplayOrder: e.DisplayOrder,
			})
		}
	}
	return in
}

type generateVoucherRequest struct {
	DueDate string `json:"due_date"`
}

// GetClients returns a page of clients with their totals
func (cc *ClientController) GetClients(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	campusID, err := queryUint(c, "campus_id")
	if err != nil {
		return respondError(c, err)
	}
	f := ledger.ClientFilter{
		CampusID: campusID,
		Search:   c.Query("search"),
		Limit:    c.QueryInt("limit", 0),
		Offset:   c.QueryInt("offset", 0),
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	clients, total, err := cc.ledger.ListClients(c.UserContext(), p, f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"clients":    clients,
		"pagination": pagination(total, ledger.ClampLimit(f.Limit), f.Offset),
	})
}

// GetClient returns a client with its plan, vouchers and payment history
func (cc *ClientController) GetClient(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	client, err := cc.ledger.GetClient(c.UserContext(), p, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"client": client})
}

// CreateClient onboards a client with programs and payment plan
func (cc *ClientController) CreateClient(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	var req clientRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	client, err := cc.ledger.CreateClient(c.UserContext(), p, req.toInput())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Client created successfully",
		"client":  client,
	})
}

// UpdateClient edits a client
func (cc *ClientController) UpdateClient(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req clientRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	client, err := cc.ledger.UpdateClient(c.UserContext(), p, id, req.toInput())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Client updated successfully",
		"client":  client,
	})
}

// DeleteClient removes a client with its vouchers and plan
func (cc *ClientController) DeleteClient(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := cc.ledger.DeleteClient(c.UserContext(), p, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Client deleted successfully"})
}

// GenerateMilestoneVoucher issues the voucher for one payment plan entry
func (cc *ClientController) GenerateMilestoneVoucher(c *fiber.Ctx) error {
	p, err := middleware.CurrentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	clientID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	planID, err := parseID(c, "planId")
	if err != nil {
		return respondError(c, err)
	}

	var req generateVoucherRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
	}
	due, err := parseAPIDate("due_date", req.DueDate)
	if err != nil {
		return respondError(c, err)
	}

	voucher, err := cc.ledger.GenerateFromMilestone(c.UserContext(), p, ledger.MilestoneVoucherInput{
		ClientID:      clientID,
		PaymentPlanID: planID,
		DueDate:       due,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Voucher generated successfully",
		"voucher": voucher,
	})
}
