package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"docsense/internal/pkg/jwtutil"
	"docsense/internal/transport/http/response"
)

const (
	ContextOwnerIDKey = "owner_id"
	ContextEmailKey   = "email"
	ContextClaimsKey  = "jwt_claims"
)

// AuthJWT verifies the bearer token and stores the owner it names. The
// scheme is matched case-insensitively.
func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			unauthorized(c, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			unauthorized(c, "invalid authorization scheme")
			return
		}

		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Set(ContextOwnerIDKey, claims.OwnerID())
		c.Set(ContextEmailKey, claims.Email)
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", `Bearer realm="docsense"`)
	response.Error(c, 401, response.CodeUnauthorized, message)
	c.Abort()
}

// OwnerID returns the authenticated owner set by AuthJWT.
func OwnerID(c *gin.Context) string {
	return c.GetString(ContextOwnerIDKey)
}

// Email returns the email claim of the verified token, empty when absent.
func Email(c *gin.Context) string {
	return c.GetString(ContextEmailKey)
}

// Claims returns the verified token claims, or nil outside AuthJWT.
func Claims(c *gin.Context) *jwtutil.Claims {
	v, ok := c.Get(ContextClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*jwtutil.Claims)
	return claims
}
