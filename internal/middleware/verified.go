package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"comedores/internal/models"
)

// VerificationStatus is satisfied by *services.VerificationService.
type VerificationStatus interface {
	StatusForUser(ctx context.Context, userID int64) (models.VerificationState, error)
}

// RequireVerifiedEmail closes a route to accounts whose email is not verified.
// It never sends a code; the response points the client at the verify flow.
// Must run after AuthMiddleware.
func RequireVerifiedEmail(status VerificationStatus, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(CtxUserID)
		userID, isInt := v.(int64)
		if !ok || !isInt {
			unauthorized(c)
			return
		}

		state, err := status.StatusForUser(c.Request.Context(), userID)
		if err != nil {
			log.Error("verification status lookup failed", zap.Int64("user_id", userID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Algo salió mal. Intentá más tarde.", "code": "internal"})
			return
		}
		if state != models.StateVerified {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Tenés que verificar tu correo antes de continuar.",
				"code":  "email_not_verified",
				"state": state,
				"next":  "verify",
			})
			return
		}
		c.Next()
	}
}
