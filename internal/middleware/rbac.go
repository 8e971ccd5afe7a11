package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/testengine/internal/response"
	"github.com/stemsi/testengine/internal/service"
)

// RequireRole lets through only tokens carrying role. Must run after RequireJWT.
func RequireRole(role string, denied response.ErrCode) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		switch {
		case claims == nil:
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		case claims.Role != role:
			response.AbortFail(c, http.StatusForbidden, denied)
		default:
			c.Next()
		}
	}
}

// RequireStaff guards staff-only routes such as time extensions.
func RequireStaff() gin.HandlerFunc {
	return RequireRole(service.RoleStaff, response.ErrStaffAccessOnly)
}
