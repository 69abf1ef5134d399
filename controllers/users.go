package controllers

import (
	"errors"
	"fmt"
	"strings"

	"stepschool_go/models"
	"stepschool_go/services/ledger"
	"stepschool_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type UserController struct {
	db *gorm.DB
}

func NewUserController(db *gorm.DB) *UserController {
	return &UserController{db: db}
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"omitempty,min=6"`
	Email    string `json:"email" validate:"omitempty,email"`
	Role     string `json:"role" validate:"required,oneof=owner accountant client"`
	CampusID *uint  `json:"campus_id"`
	ClientID *uint  `json:"client_id"`
}

type updateUserStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// GetUsers returns users with pagination
func (uc *UserController) GetUsers(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	query := uc.db.WithContext(c.UserContext()).Model(&models.User{})
	if role := c.Query("role"); role != "" {
		if !utils.IsValidRole(role) {
			return respondError(c, ledger.NewValidationError(ledger.ErrInvalidInput,
				ledger.FieldError{Field: "role", Error: "must be owner, accountant or client"}))
		}
		query = query.Where("role = ?", role)
	}
	campusID, err := queryUint(c, "campus_id")
	if err != nil {
		return respondError(c, err)
	}
	if campusID != 0 {
		query = query.Where("campus_id = ?", campusID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return respondError(c, err)
	}

	var users []models.User
	if err := query.Order("username").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"users":      utils.ToUserDTOs(users),
		"pagination": pagination(total, limit, offset),
	})
}

// CreateUser creates a portal account. Accountants need a campus, clients need a client record.
// Without a password a random one is generated and returned once.
func (uc *UserController) CreateUser(c *fiber.Ctx) error {
	var req createUserRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	req.Username = utils.SanitizeString(req.Username)

	user := models.User{
		Username: req.Username,
		Email:    strings.TrimSpace(req.Email),
		Role:     req.Role,
		Status:   "active",
	}

	db := uc.db.WithContext(c.UserContext())
	var campus *models.Campus
	switch req.Role {
	case models.RoleAccountant:
		if req.CampusID == nil {
			return respondError(c, ledger.NewValidationError(ledger.ErrInvalidInput,
				ledger.FieldError{Field: "campus_id", Error: "is required for accountants"}))
		}
		var found models.Campus
		if err := db.First(&found, *req.CampusID).Error; err != nil {
			return respondError(c, lookupError(err, "campus", *req.CampusID))
		}
		campus = &found
		user.CampusID = &found.ID
	case models.RoleClient:
		if req.ClientID == nil {
			return respondError(c, ledger.NewValidationError(ledger.ErrInvalidInput,
				ledger.FieldError{Field: "client_id", Error: "is required for client users"}))
		}
		var client models.Client
		if err := db.First(&client, *req.ClientID).Error; err != nil {
			return respondError(c, lookupError(err, "client", *req.ClientID))
		}
		user.ClientID = &client.ID
		user.CampusID = &client.CampusID
	}

	var existing int64
	if err := db.Model(&models.User{}).Where("username = ?", user.Username).Count(&existing).Error; err != nil {
		return respondError(c, err)
	}
	if existing > 0 {
		return respondError(c, &ledger.ConflictError{Err: fmt.Errorf("username %q: %w", user.Username, ledger.ErrDuplicateName)})
	}

	password := req.Password
	generated := password == ""
	if generated {
		var err error
		if password, err = utils.GenerateRandomString(12); err != nil {
			return respondError(c, err)
		}
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return respondError(c, err)
	}
	user.Password = hashed

	if err := db.Create(&user).Error; err != nil {
		return respondError(c, err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("User created")

	body := fiber.Map{
		"message": "User created successfully",
		"user":    utils.ToUserDTO(user, campus),
	}
	if generated {
		body["temporary_password"] = password
	}
	return c.Status(fiber.StatusCreated).JSON(body)
}

// UpdateUserStatus activates or deactivates an account
func (uc *UserController) UpdateUserStatus(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req updateUserStatusRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	if !utils.IsValidStatus(req.Status) {
		return respondError(c, ledger.NewValidationError(ledger.ErrInvalidInput,
			ledger.FieldError{Field: "status", Error: "must be active or inactive"}))
	}

	res := uc.db.WithContext(c.UserContext()).Model(&models.User{}).Where("id = ?", id).Update("status", req.Status)
	if res.Error != nil {
		return respondError(c, res.Error)
	}
	if res.RowsAffected == 0 {
		return respondError(c, &ledger.NotFoundError{Resource: "user", ID: id})
	}
	return c.JSON(fiber.Map{"message": "User status updated"})
}

func lookupError(err error, resource string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ledger.NotFoundError{Resource: resource, ID: id}
	}
	return err
}
