package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"comedores/internal/services"
)

// accepts int / int64 / float64 / string
func getInt64FromCtx(c *gin.Context, key string) (int64, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// badRequest answers a bind failure. The validator text only goes to the log.
func badRequest(c *gin.Context, log *zap.Logger, err error) {
	fields := bindingFields(err)
	log.Info("bad request", zap.String("path", c.FullPath()), zap.Strings("fields", fields), zap.Error(err))
	body := gin.H{"error": inputMessage(fields), "code": "invalid_input"}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	c.JSON(http.StatusBadRequest, body)
}

// respondError turns a service outcome into a status and a message that says
// what happened and what to do next. Unexpected errors are logged, never shown.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	var verr *services.VerificationError
	errors.As(err, &verr)

	switch {
	case errors.Is(err, services.ErrInvalidInput):
		var ierr *services.InputError
		var fields []string
		if errors.As(err, &ierr) && ierr.Field != "" {
			fields = []string{ierr.Field}
		}
		log.Info("invalid input", zap.String("path", c.FullPath()), zap.Error(err))
		body := gin.H{"error": inputMessage(fields), "code": "invalid_input"}
		if len(fields) > 0 {
			body["fields"] = fields
		}
		c.JSON(http.StatusBadRequest, body)

	case errors.Is(err, services.ErrCodeExpired):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "El código venció o ya no es válido. Pedí uno nuevo.",
			"code":  "code_expired",
			"next":  "resend",
		})

	case errors.Is(err, services.ErrCodeInvalid):
		remaining := 0
		if verr != nil {
			remaining = verr.RemainingAttempts
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":              fmt.Sprintf("Código incorrecto. Te quedan %d intento(s).", remaining),
			"code":               "code_invalid",
			"remaining_attempts": remaining,
		})

	case errors.Is(err, services.ErrTooManyAttempts):
		maxTries, retry := 0, 0
		if verr != nil {
			maxTries, retry = verr.MaxTries, verr.RetryAfterSeconds
		}
		setRetryAfter(c, retry)
		c.JSON(http.StatusLocked, gin.H{
			"error":       fmt.Sprintf("Superaste los %d intentos. Pedí un código nuevo en %d segundos.", maxTries, retry),
			"code":        "too_many_attempts",
			"retry_after": retry,
			"next":        "resend",
		})

	case errors.Is(err, services.ErrCooldownActive), errors.Is(err, services.ErrResendThrottled):
		retry := 0
		if verr != nil {
			retry = verr.RetryAfterSeconds
		}
		code := "cooldown_active"
		if errors.Is(err, services.ErrResendThrottled) {
			code = "resend_throttled"
		}
		setRetryAfter(c, retry)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       fmt.Sprintf("Esperá %d segundos antes de pedir otro código.", retry),
			"code":        code,
			"retry_after": retry,
		})

	case errors.Is(err, services.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No encontramos una cuenta con ese correo. Registrate primero.",
			"code":  "account_not_found",
			"next":  "register",
		})

	case errors.Is(err, services.ErrAlreadyVerified):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Tu correo ya está verificado. Iniciá sesión.",
			"code":  "already_verified",
			"next":  "login",
		})

	case errors.Is(err, services.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Ese correo ya está registrado.", "code": "email_taken", "next": "login"})

	case errors.Is(err, services.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Ese nombre de usuario ya existe.", "code": "username_taken"})

	case errors.Is(err, services.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Correo o contraseña incorrectos.", "code": "invalid_credentials"})

	case errors.Is(err, services.ErrDeliveryFailed):
		log.Warn("delivery failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "No pudimos enviar el correo. Intentá de nuevo en unos minutos.",
			"code":  "delivery_failed",
			"next":  "resend",
		})

	default:
		log.Error("unexpected error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Algo salió mal. Intentá más tarde.", "code": "internal"})
	}
}

func setRetryAfter(c *gin.Context, seconds int) {
	if seconds > 0 {
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
}
