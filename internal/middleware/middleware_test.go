package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/authz"
)

var testKey = []byte("test-secret")

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(testKey))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	api := r.Group("/", ReadOnlyGuard())
	whoami := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt64("user_id"), "role_id": c.GetInt("role_id")})
	}
	api.GET("/me", whoami)
	api.POST("/me", whoami)
	api.GET("/admin", RequireRoles(authz.RoleAdmin), whoami)
	return r
}

func do(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter()

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "garbage").Code)

	other, err := IssueToken([]byte("other-secret"), 1, authz.RoleSales, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", other).Code)

	expired, err := IssueToken(testKey, 1, authz.RoleSales, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", expired).Code)

	good, err := IssueToken(testKey, 12, authz.RoleSales, time.Hour)
	require.NoError(t, err)
	w := do(r, http.MethodGet, "/me", good)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":12,"role_id":10}`, w.Body.String())
}

func TestWebsocketTokenFromQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(testKey))
	r.GET("/feed/ws", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/feed", func(c *gin.Context) { c.Status(http.StatusOK) })

	token, err := IssueToken(testKey, 3, authz.RoleSales, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/feed/ws?access_token="+token, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/feed?access_token="+token, "").Code)
}

func TestRoleGuards(t *testing.T) {
	r := newRouter()

	audit, err := IssueToken(testKey, 5, authz.RoleAudit, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/me", audit).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/me", audit).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/admin", audit).Code)

	admin, err := IssueToken(testKey, 6, authz.RoleAdmin, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/admin", admin).Code)
}
