package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/proposalpricing/internal/actorcontext"
)

const HeaderUserID = "X-User-ID"

// UserContext asserts the acting user from the X-User-ID header. A missing
// header leaves the request anonymous; a malformed one is rejected.
func UserContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			c.Next()
			return
		}

		userID, err := snowflake.ParseString(raw)
		if err != nil || userID <= 0 {
			AbortWithError(c, newValidationError("X-User-ID", "invalid_user_id", "invalid user id"))
			return
		}

		ctx := actorcontext.WithUserID(c.Request.Context(), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := actorcontext.UserIDFromContext(c.Request.Context()); !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func userIDFrom(c *gin.Context) string {
	if id, ok := actorcontext.UserIDFromContext(c.Request.Context()); ok {
		return id.String()
	}
	return ""
}
