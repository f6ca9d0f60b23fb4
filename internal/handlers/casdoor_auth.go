package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-engine/internal/config"
	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
)

// CasdoorAuthMiddleware resolves bearer tokens to engine users. Identity
// lives in Casdoor; the local user row only mirrors it for role checks and
// enrollment, so a token with no row yet is still serviceable from claims.
type CasdoorAuthMiddleware struct {
	client   *casdoorsdk.Client
	userRepo repositories.UserRepository
}

func NewCasdoorAuthMiddleware(cfg config.CasdoorConfig, userRepo repositories.UserRepository) *CasdoorAuthMiddleware {
	return &CasdoorAuthMiddleware{
		client: casdoorsdk.NewClient(
			cfg.Endpoint,
			cfg.ClientID,
			cfg.ClientSecret,
			cfg.Cert,
			cfg.Application,
			cfg.Organization,
		),
		userRepo: userRepo,
	}
}

// AuthMiddleware verifies the bearer token and stores the resolved user in
// the gin context under user_id / user / user_role.
func (cam *CasdoorAuthMiddleware) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, "missing or malformed authorization header")
			return
		}

		claims, err := cam.client.ParseJwtToken(token)
		if err != nil {
			abortUnauthorized(c, fmt.Sprintf("invalid token: %v", err))
			return
		}

		user, err := cam.resolveUser(c.Request.Context(), claims)
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}

		c.Set("user_id", user.ID)
		c.Set("user", user)
		c.Set("user_role", user.Role)

		c.Next()
	}
}

// RequireRoleMiddleware gates a route group by role. Admins pass every gate.
func (cam *CasdoorAuthMiddleware) RequireRoleMiddleware(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := c.Get("user_role")
		if !ok {
			abortForbidden(c, "no authenticated user in context")
			return
		}
		userRole, ok := role.(models.UserRole)
		if !ok {
			abortForbidden(c, "invalid role in context")
			return
		}

		if userRole != models.RoleAdmin && !containsRole(roles, userRole) {
			abortForbidden(c, fmt.Sprintf("requires one of roles %v", roles))
			return
		}

		c.Next()
	}
}

// resolveUser prefers the local user row; a token whose user has not been
// synced yet is served from its claims as an active student (or admin).
func (cam *CasdoorAuthMiddleware) resolveUser(ctx context.Context, claims *casdoorsdk.Claims) (*models.User, error) {
	if claims.Id == "" {
		return nil, fmt.Errorf("token carries no user id")
	}

	if user, err := cam.userRepo.GetByID(ctx, claims.Id); err == nil {
		return user, nil
	}

	role := models.RoleStudent
	switch strings.ToLower(claims.User.Type) {
	case "admin", "administrator":
		role = models.RoleAdmin
	}

	return &models.User{
		ID:       claims.Id,
		FullName: claims.User.DisplayName,
		Email:    claims.User.Email,
		Role:     role,
		Active:   true,
	}, nil
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func containsRole(roles []models.UserRole, role models.UserRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": message,
	})
}

func abortForbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error":   "forbidden",
		"message": message,
	})
}
