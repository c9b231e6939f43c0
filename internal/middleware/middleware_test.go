package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/bxt-team/sevencycles/internal/auth"
	"github.com/bxt-team/sevencycles/internal/db"
	"github.com/bxt-team/sevencycles/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthService() *auth.AuthService {
	return auth.NewAuthService("middleware-test-secret", time.Hour, 24*time.Hour)
}

func protectedRouter(authService *auth.AuthService) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/protected", RequireAuth(authService), func(c *gin.Context) {
		userID, _ := GetUserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})
	return router
}

func TestRequireAuthMissingHeader(t *testing.T) {
	router := protectedRouter(newAuthService())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "AUTH_HEADER_MISSING")
}

func TestRequireAuthMalformedHeader(t *testing.T) {
	router := protectedRouter(newAuthService())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic abc123")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_AUTH_HEADER")
}

func TestRequireAuthInvalidToken(t *testing.T) {
	router := protectedRouter(newAuthService())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
}

func TestRequireAuthValidToken(t *testing.T) {
	authService := newAuthService()
	router := protectedRouter(authService)

	pair, err := authService.GenerateTokens(&models.User{ID: 9, Email: "u@e.x"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":9`)
}

func TestRequireOrgRole(t *testing.T) {
	database, err := db.NewTestDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, database.DB.Create(&models.OrganizationMember{
		OrganizationID: 1, UserID: 5, Role: models.RoleMember,
	}).Error)

	authService := newAuthService()
	router := gin.New()
	router.GET("/orgs/:orgID/admin",
		RequireAuth(authService),
		RequireOrgRole(database.DB, models.RoleAdmin),
		func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/orgs/:orgID/content",
		RequireAuth(authService),
		RequireOrgRole(database.DB, models.RoleMember),
		func(c *gin.Context) {
			orgID, _ := GetOrgID(c)
			role, _ := GetOrgRole(c)
			c.JSON(http.StatusOK, gin.H{"org_id": orgID, "role": role})
		})

	pair, err := authService.GenerateTokens(&models.User{ID: 5, Email: "m@e.x"})
	require.NoError(t, err)

	// Member hitting an admin route is forbidden.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orgs/1/admin", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "INSUFFICIENT_PERMISSIONS")

	// Member hitting a member route passes.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/orgs/1/content", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"member"`)

	// Non-member org is forbidden.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/orgs/2/content", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_A_MEMBER")
}

func TestRoleRank(t *testing.T) {
	assert.Greater(t, roleRank(models.RoleOwner), roleRank(models.RoleAdmin))
	assert.Greater(t, roleRank(models.RoleAdmin), roleRank(models.RoleMember))
	assert.Greater(t, roleRank(models.RoleMember), roleRank(models.RoleViewer))
	assert.Equal(t, 0, roleRank("intern"))
}

func TestRateLimitBlocksAfterBurst(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(0.001), 2)

	router := gin.New()
	router.GET("/", RateLimit(limiter), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code, "request %d within burst", i+1)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	router.ServeHTTP(w, req)
	assert.Equal(t, "fixed-id", w.Header().Get("X-Request-ID"))
}

func TestCORSPreflightAndOrigin(t *testing.T) {
	router := gin.New()
	router.Use(CORS([]string{"https://app.example.com"}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(Security())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestOptionalAuthPassesWithoutToken(t *testing.T) {
	router := gin.New()
	router.GET("/", OptionalAuth(newAuthService()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"authenticated": IsAuthenticated(c)})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"authenticated":false`)
}

func TestRateLimiterPerIP(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(0.001), 1)

	assert.True(t, limiter.GetLimiter("10.0.0.1").Allow())
	assert.False(t, limiter.GetLimiter("10.0.0.1").Allow())
	assert.True(t, limiter.GetLimiter("10.0.0.2").Allow(), "distinct IPs have distinct budgets")
}

func TestRequestIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := generateRequestID()
		require.False(t, seen[id], fmt.Sprintf("duplicate request id %s", id))
		seen[id] = true
	}
}
