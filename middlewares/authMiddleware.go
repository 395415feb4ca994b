package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/meditrustlab/trace_backend/models"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware resolves the bearer token, if any, into user identity on
// the request context. Requests without a token pass through anonymous;
// endpoint guards decide what anonymous callers may do.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" {
			c.Next()
			return
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		auth = auth[len(bearer):]

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), auth)
		ctx = utils.SetUserIdInContext(ctx, claim.ID)
		ctx = utils.SetUserRoleInContext(ctx, claim.Role)
		ctx = utils.SetUserNameInContext(ctx, claim.Name)
		ctx = utils.SetIsAdminInContext(ctx, claim.Role == string(models.UserRoleAdmin))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRoles rejects requests whose authenticated role is not in the
// allowlist. Must run after AuthMiddleware.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := utils.GetUserRoleFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}
		for _, allowed := range roles {
			if string(allowed) == role {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
		c.Abort()
	}
}
