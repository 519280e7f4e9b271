package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"printflow/internal/authz"
)

// roleFromContext reads the role stored by AuthMiddleware.
func roleFromContext(c *gin.Context) (int, bool) {
	v, ok := c.Get("role_id")
	if !ok {
		return 0, false
	}
	roleID, ok := v.(int)
	return roleID, ok
}

// RequireRoles lets the request through only for the listed roles.
func RequireRoles(allowed ...int) gin.HandlerFunc {
	allowedSet := make(map[int]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}
	return func(c *gin.Context) {
		roleID, ok := roleFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no role in context"})
			return
		}
		if _, allowed := allowedSet[roleID]; !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not allowed for this action"})
			return
		}
		c.Next()
	}
}

// ReadOnlyGuard rejects mutating requests from the audit role. Audit users
// may still read reminders and open the feed socket.
func ReadOnlyGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		roleID, _ := roleFromContext(c)
		if authz.IsReadOnly(roleID) && !safeMethod(c.Request.Method) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "read-only role"})
			return
		}
		c.Next()
	}
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}
