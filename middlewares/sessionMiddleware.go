package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware authenticates requests that carry a token header. The
// token must be a valid signed JWT and the matching redis session must still
// exist, so logout revokes a token before its JWT expiry.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		parsed, err := utils.JwtValidate(token)
		if err != nil || !parsed.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		var session utils.SessionData
		found, err := config.GetRedisObject("Token:"+token, &session)
		if err != nil || !found {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, session.Username)
		ctx = utils.SetUserIdInContext(ctx, session.UserId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
