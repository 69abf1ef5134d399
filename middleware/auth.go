package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"stepschool_go/config"
	"stepschool_go/models"
	"stepschool_go/services/ledger"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	localsUser      = "user"
	localsClaims    = "claims"
	localsPrincipal = "principal"

	revokedKeyPrefix = "auth:revoked:"
)

type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	CampusID *uint  `json:"campus_id,omitempty"`
	ClientID *uint  `json:"client_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts token claims into the ledger caller.
func (c *Claims) Principal() ledger.Principal {
	return ledger.Principal{
		UserID:   c.UserID,
		Role:     c.Role,
		CampusID: c.CampusID,
		ClientID: c.ClientID,
	}
}

// GenerateToken creates a new JWT token for a user
func GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		CampusID: user.CampusID,
		ClientID: user.ClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(config.AppConfig.JWTExpiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

// ParseToken validates a signed token and returns its claims.
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// RevokeToken blacklists the token id until it would have expired anyway.
func RevokeToken(ctx context.Context, rdb *redis.Client, claims *Claims) error {
	if rdb == nil || claims.ID == "" {
		return nil
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		return nil
	}
	return rdb.Set(ctx, revokedKeyPrefix+claims.ID, "1", ttl).Err()
}

func isRevoked(ctx context.Context, rdb *redis.Client, claims *Claims) bool {
	if rdb == nil || claims.ID == "" {
		return false
	}
	n, err := rdb.Exists(ctx, revokedKeyPrefix+claims.ID).Result()
	return err == nil && n > 0
}

// JWTMiddleware validates JWT tokens. rdb may be nil, which disables the logout blacklist.
func JWTMiddleware(db *gorm.DB, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Get token from Authorization header
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		// Extract token from "Bearer <token>"
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		claims, err := ParseToken(tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}
		if isRevoked(c.UserContext(), rdb, claims) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Token has been revoked",
			})
		}

		// Verify user still exists and is active
		var user models.User
		if err := db.WithContext(c.UserContext()).Where("id = ? AND status = ?", claims.UserID, "active").First(&user).Error; err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "User not found or inactive",
			})
		}

		// Bindings come from the row, not the token
		claims.Role = user.Role
		claims.CampusID = user.CampusID
		claims.ClientID = user.ClientID

		c.Locals(localsUser, &user)
		c.Locals(localsClaims, claims)
		SetPrincipal(c, claims.Principal())

		return c.Next()
	}
}

// RequireRole middleware checks if user has required role
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, ok := c.Locals(localsPrincipal).(ledger.Principal)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing user claims",
			})
		}

		for _, role := range roles {
			if p.Role == role {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Insufficient permissions",
		})
	}
}

// RequireOwner allows only owners.
func RequireOwner() fiber.Handler {
	return RequireRole(models.RoleOwner)
}

// RequireStaff allows owners and accountants.
func RequireStaff() fiber.Handler {
	return RequireRole(models.RoleOwner, models.RoleAccountant)
}

// SetPrincipal stores the ledger caller for downstream handlers.
func SetPrincipal(c *fiber.Ctx, p ledger.Principal) {
	c.Locals(localsPrincipal, p)
}

// CurrentPrincipal returns the authenticated ledger caller.
func CurrentPrincipal(c *fiber.Ctx) (ledger.Principal, error) {
	p, ok := c.Locals(localsPrincipal).(ledger.Principal)
	if !ok {
		return ledger.Principal{}, fiber.NewError(fiber.StatusUnauthorized, "Principal not found in context")
	}
	return p, nil
}

// GetCurrentUser returns the current authenticated user
func GetCurrentUser(c *fiber.Ctx) (*models.User, error) {
	user, ok := c.Locals(localsUser).(*models.User)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "User not found in context")
	}
	return user, nil
}

// GetCurrentClaims returns the current JWT claims
func GetCurrentClaims(c *fiber.Ctx) (*Claims, error) {
	claims, ok := c.Locals(localsClaims).(*Claims)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Claims not found in context")
	}
	return claims, nil
}
