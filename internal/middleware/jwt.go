package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stemsi/testengine/internal/response"
	"github.com/stemsi/testengine/internal/service"
)

// ContextKeyClaims is the Gin context key for verified token claims.
const ContextKeyClaims = "claims"

var errNoToken = errors.New("no bearer token")

// TokenValidator verifies identity tokens.
type TokenValidator interface {
	ValidateToken(tokenStr string) (*service.Claims, error)
}

// RequireJWT verifies the bearer token. Browsers cannot set headers on a
// WebSocket handshake, so upgrade requests may pass it as ?token= instead.
func RequireJWT(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := extractToken(c.Request)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := tokens.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims returns the verified claims, or nil outside RequireJWT.
func GetClaims(c *gin.Context) *service.Claims {
	v, _ := c.Get(ContextKeyClaims)
	claims, _ := v.(*service.Claims)
	return claims
}

func extractToken(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "bearer") && token != "" {
		return strings.TrimSpace(token), nil
	}
	if websocket.IsWebSocketUpgrade(r) {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
	}
	return "", errNoToken
}
