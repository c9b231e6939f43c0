package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bxt-team/sevencycles/internal/auth"
	"github.com/bxt-team/sevencycles/pkg/models"
)

// RequireAuth middleware validates JWT tokens
func RequireAuth(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header is required",
				"code":  "AUTH_HEADER_MISSING",
			})
			c.Abort()
			return
		}

		token, err := extractBearerToken(authHeader)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
				"code":  "INVALID_AUTH_HEADER",
			})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			var code string
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				code = "TOKEN_EXPIRED"
			case errors.Is(err, auth.ErrInvalidToken):
				code = "INVALID_TOKEN"
			default:
				code = "TOKEN_VALIDATION_FAILED"
			}

			c.JSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
				"code":  code,
			})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("token_claims", claims)

		c.Next()
	}
}

// OptionalAuth middleware validates a token if present but doesn't
// require one.
func OptionalAuth(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		token, err := extractBearerToken(authHeader)
		if err != nil {
			c.Next()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.Next()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("token_claims", claims)
		c.Set("authenticated", true)

		c.Next()
	}
}

// RequireOrgRole checks the caller's membership in the :orgID
// organization. Roles escalate viewer < member < admin < owner; the
// middleware passes when the member's role is at least minRole.
func RequireOrgRole(db *gorm.DB, minRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
				"code":  "AUTH_REQUIRED",
			})
			c.Abort()
			return
		}

		orgID, err := strconv.ParseUint(c.Param("orgID"), 10, 64)
		if err != nil || orgID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid organization id",
				"code":  "INVALID_ORG_ID",
			})
			c.Abort()
			return
		}

		var member models.OrganizationMember
		err = db.WithContext(c.Request.Context()).
			Where("organization_id = ? AND user_id = ?", orgID, userID).
			First(&member).Error
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Not a member of this organization",
				"code":  "NOT_A_MEMBER",
			})
			c.Abort()
			return
		}

		if roleRank(member.Role) < roleRank(minRole) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":         "Insufficient permissions",
				"code":          "INSUFFICIENT_PERMISSIONS",
				"required_role": minRole,
				"user_role":     member.Role,
			})
			c.Abort()
			return
		}

		c.Set("org_id", uint(orgID))
		c.Set("org_role", member.Role)
		c.Next()
	}
}

func roleRank(role string) int {
	switch role {
	case models.RoleOwner:
		return 4
	case models.RoleAdmin:
		return 3
	case models.RoleMember:
		return 2
	case models.RoleViewer:
		return 1
	default:
		return 0
	}
}

// extractBearerToken extracts the token from a Bearer header
func extractBearerToken(authHeader string) (string, error) {
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errors.New("invalid authorization header format, expected 'Bearer <token>'")
	}

	token := strings.TrimPrefix(authHeader, bearerPrefix)
	if token == "" {
		return "", errors.New("token cannot be empty")
	}
	return token, nil
}

// GetUserID extracts the authenticated user id from context
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		return 0, false
	}
	return userID.(uint), true
}

// GetOrgID extracts the resolved organization id from context
func GetOrgID(c *gin.Context) (uint, bool) {
	orgID, exists := c.Get("org_id")
	if !exists {
		return 0, false
	}
	return orgID.(uint), true
}

// GetOrgRole extracts the caller's role in the organization
func GetOrgRole(c *gin.Context) (string, bool) {
	role, exists := c.Get("org_role")
	if !exists {
		return "", false
	}
	return role.(string), true
}

// IsAuthenticated checks if the request carries a valid identity
func IsAuthenticated(c *gin.Context) bool {
	authenticated, exists := c.Get("authenticated")
	if !exists {
		_, exists = c.Get("user_id")
		return exists
	}
	return authenticated.(bool)
}
