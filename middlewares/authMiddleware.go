package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/cedarledger/statements_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates a bearer token when one is present and puts the
// claims into the request context. Requests without a token pass through;
// RequireAuth gates the routes that need one.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" {
			c.Next()
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")

		validate, err := utils.JwtValidate(token)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, _ := validate.Claims.(*utils.JwtCustomClaim)
		if claim != nil {
			ctx := utils.SetUserIdInContext(c.Request.Context(), claim.ID)
			ctx = utils.SetUsernameInContext(ctx, claim.Subject)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// RequireAuth rejects requests that did not carry a valid token.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
