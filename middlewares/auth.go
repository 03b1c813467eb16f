package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/kanban_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates the bearer token and loads the upstream auth
// context (tenant, user, role) into the request context. The lifecycle core
// only consumes this context; issuing and managing tokens is owned by the
// platform's auth service.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}

		tokenString := c.GetHeader("token")
		if tokenString == "" {
			auth := c.GetHeader("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				tokenString = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token is required"})
			return
		}

		token, err := utils.JwtValidate(tokenString)
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		claims, ok := token.Claims.(*utils.JwtCustomClaim)
		if !ok || claims.TenantId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			return
		}

		ctx := c.Request.Context()
		ctx = utils.SetTokenInContext(ctx, tokenString)
		ctx = utils.SetTenantIdInContext(ctx, claims.TenantId)
		ctx = utils.SetUserIdInContext(ctx, claims.ID)
		ctx = utils.SetUserRoleInContext(ctx, claims.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
