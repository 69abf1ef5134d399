package controllers

import (
	"errors"

	"stepschool_go/middleware"
	"stepschool_go/models"
	"stepschool_go/utils"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type AuthController struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewAuthController wires login against db. rdb may be nil.
func NewAuthController(db *gorm.DB, rdb *redis.Client) *AuthController {
	return &AuthController{db: db, rdb: rdb}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login authenticates a user and returns a JWT token
func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	// Find user by username
	var user models.User
	err := ac.db.WithContext(c.UserContext()).
		Where("username = ? AND status = ?", req.Username, "active").
		First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, err)
	}
	if err != nil || utils.CheckPassword(req.Password, user.Password) != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	token, err := middleware.GenerateToken(&user)
	if err != nil {
		return respondError(c, err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
		"role":     user.Role,
	}).Info("User logged in")

	return c.JSON(fiber.Map{
		"message": "Login successful",
		"token":   token,
		"user":    utils.ToUserDTO(user, ac.campusOf(c, user)),
	})
}

// Logout revokes the current token until its expiry
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := middleware.RevokeToken(c.UserContext(), ac.rdb, claims); err != nil {
		// logout still succeeds client-side; the token simply lives until expiry
		logrus.WithError(err).WithField("user_id", claims.UserID).Warn("Failed to revoke token")
	}
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

// GetProfile returns the current user's profile
func (ac *AuthController) GetProfile(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"user": utils.ToUserDTO(*user, ac.campusOf(c, *user)),
	})
}

func (ac *AuthController) campusOf(c *fiber.Ctx, user models.User) *models.Campus {
	if user.CampusID == nil {
		return nil
	}
	var campus models.Campus
	if err := ac.db.WithContext(c.UserContext()).First(&campus, *user.CampusID).Error; err != nil {
		return nil
	}
	return &campus
}
