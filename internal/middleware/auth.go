package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"comedores/internal/services"
)

const (
	CtxUserID = "user_id"
	CtxEmail  = "email"
)

// TokenParser is satisfied by *services.AuthService.
type TokenParser interface {
	ParseAccessToken(raw string) (*services.Claims, error)
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": "Sesión inválida o vencida. Iniciá sesión de nuevo.",
		"code":  "unauthorized",
		"next":  "login",
	})
}

// AuthMiddleware requires a Bearer access token and exposes its claims in the
// gin context.
func AuthMiddleware(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		scheme, tokenStr, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenStr) == "" {
			unauthorized(c)
			return
		}

		claims, err := tokens.ParseAccessToken(strings.TrimSpace(tokenStr))
		if err != nil {
			unauthorized(c)
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxEmail, claims.Email)
		c.Next()
	}
}
