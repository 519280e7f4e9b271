package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is issued by the order backend's login service.
type Claims struct {
	UserID int64 `json:"user_id"`
	RoleID int   `json:"role_id"`
	jwt.RegisteredClaims
}

// список публичных эндпоинтов, которые не требуют токена
func isPublicPath(path string) bool {
	switch path {
	case "/healthz", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/swagger")
}

// AuthMiddleware validates the bearer token with key and puts user_id and
// role_id into the gin context.
func AuthMiddleware(key []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions || isPublicPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
			// принимаем только HMAC
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return key, nil
		}, jwt.WithLeeway(2*time.Minute), jwt.WithExpirationRequired())
		if err != nil || !token.Valid || claims.UserID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role_id", claims.RoleID)
		c.Next()
	}
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// websocket handshakes, so the feed socket may pass the token as ?access_token.
func bearerToken(c *gin.Context) string {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		if strings.HasSuffix(c.Request.URL.Path, "/ws") {
			return strings.TrimSpace(c.Query("access_token"))
		}
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// IssueToken signs claims for userID and roleID. It backs local tooling and tests.
func IssueToken(key []byte, userID int64, roleID int, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		RoleID: roleID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
