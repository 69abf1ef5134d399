package controllers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"stepschool_go/services/ledger"
	"stepschool_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// respondError maps ledger errors onto HTTP statuses. Anything unrecognised is logged
// and reported as an opaque 500.
func respondError(c *fiber.Ctx, err error) error {
	var (
		ve *ledger.ValidationError
		nf *ledger.NotFoundError
		ce *ledger.ConflictError
		fe *ledger.ForbiddenError
		he *fiber.Error
	)
	switch {
	case errors.As(err, &ve):
		body := fiber.Map{"error": ve.Error()}
		if len(ve.Fields) > 0 {
			body["fields"] = ve.Fields
		}
		return c.Status(fiber.StatusBadRequest).JSON(body)
	case errors.As(err, &fe):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": fe.Error()})
	case errors.As(err, &nf):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": nf.Error()})
	case errors.As(err, &ce):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ce.Error()})
	case errors.As(err, &he):
		return c.Status(he.Code).JSON(fiber.Map{"error": he.Message})
	}

	logrus.WithError(err).WithFields(logrus.Fields{
		"method": c.Method(),
		"path":   c.Path(),
	}).Error("request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal server error",
	})
}

// parseBody decodes the JSON body and runs its validate tags.
func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return ledger.NewValidationError(ledger.ErrInvalidInput, ledger.FieldError{Field: "body", Error: "Invalid request body"})
	}
	return utils.ValidateStruct(out)
}

func parseID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, ledger.NewValidationError(ledger.ErrInvalidInput, ledger.FieldError{Field: name, Error: "must be a positive integer"})
	}
	return uint(id), nil
}

func queryUint(c *fiber.Ctx, name string) (uint, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, ledger.NewValidationError(ledger.ErrInvalidInput, ledger.FieldError{Field: name, Error: "must be a non-negative integer"})
	}
	return uint(n), nil
}

// parseAPIDate accepts the date layouts the portal sends. Empty input yields nil.
func parseAPIDate(field, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	layouts := []string{"2006-01-02", time.RFC3339, "02/01/2006"}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, ledger.NewValidationError(ledger.ErrInvalidInput, ledger.FieldError{Field: field, Error: "must be a date (YYYY-MM-DD)"})
}

func pagination(total int64, limit, offset int) fiber.Map {
	return fiber.Map{
		"total":  total,
		"limit":  limit,
		"offset": offset,
	}
}
