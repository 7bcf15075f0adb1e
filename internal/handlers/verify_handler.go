package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"comedores/internal/models"
	"comedores/internal/services"
)

type VerifyHandler struct {
	Verification *services.VerificationService
	Auth         *services.AuthService
	log          *zap.Logger
}

func NewVerifyHandler(v *services.VerificationService, a *services.AuthService, log *zap.Logger) *VerifyHandler {
	return &VerifyHandler{Verification: v, Auth: a, log: log.Named("verify_handler")}
}

// @Summary      Registro
// @Description  Creates the account and emails the first verification code
// @Tags         Verification
// @Accept       json
// @Produce      json
// @Param        body  body      models.RegisterRequest  true  "Account data"
// @Success      201   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]interface{}
// @Failure      409   {object}  map[string]interface{}
// @Failure      502   {object}  map[string]interface{}
// @Router       /register [post]
func (h *VerifyHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, err)
		return
	}

	res, err := h.Verification.Register(c.Request.Context(), services.RegisterInput{
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil && res != nil && errors.Is(err, services.ErrDeliveryFailed) {
		h.log.Warn("registered without delivery", zap.Int64("user_id", res.UserID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Tu cuenta fue creada, pero no pudimos enviar el código. Pedí un reenvío.",
			"code":    "delivery_failed",
			"user_id": res.UserID,
			"email":   res.Email,
			"next":    "resend",
		})
		return
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":    "Te enviamos un código de verificación a tu correo.",
		"user_id":    res.UserID,
		"email":      res.Email,
		"expires_at": res.ExpiresAt,
		"next":       "verify",
	})
}

// @Summary      Confirmar correo
// @Description  Checks the emailed code; on success returns an access token
// @Tags         Verification
// @Accept       json
// @Produce      json
// @Param        body  body      models.ConfirmEmailRequest  true  "Email and code"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]interface{}
// @Failure      404   {object}  map[string]interface{}
// @Failure      423   {object}  map[string]interface{}
// @Router       /register/confirm [post]
func (h *VerifyHandler) Confirm(c *gin.Context) {
	var req models.ConfirmEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, err)
		return
	}

	res, err := h.Verification.AttemptVerify(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if res.AlreadyVerified {
		// No token here: the code was not checked.
		c.JSON(http.StatusOK, gin.H{
			"message":          "Tu correo ya estaba verificado. Iniciá sesión.",
			"already_verified": true,
			"next":             "login",
		})
		return
	}

	token, exp, err := h.Auth.IssueAccessToken(res.User)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      "¡Correo verificado!",
		"user":         res.User,
		"access_token": token,
		"expires_at":   exp,
	})
}

// @Summary      Reenviar código
// @Description  Issues a fresh code, subject to the cooldown and the resend window
// @Tags         Verification
// @Accept       json
// @Produce      json
// @Param        body  body      models.ResendCodeRequest  true  "Email"
// @Success      200   {object}  map[string]interface{}
// @Failure      404   {object}  map[string]interface{}
// @Failure      409   {object}  map[string]interface{}
// @Failure      429   {object}  map[string]interface{}
// @Failure      502   {object}  map[string]interface{}
// @Router       /register/resend [post]
func (h *VerifyHandler) Resend(c *gin.Context) {
	var req models.ResendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, err)
		return
	}
	if err := h.Verification.RequestResend(c.Request.Context(), req.Email); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Te enviamos un código nuevo.", "next": "verify"})
}

// @Summary      Estado de verificación
// @Tags         Verification
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]interface{}
// @Router       /me/verification [get]
func (h *VerifyHandler) Status(c *gin.Context) {
	userID, ok := getInt64FromCtx(c, "user_id")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Iniciá sesión.", "code": "unauthorized"})
		return
	}
	state, err := h.Verification.StatusForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":          state,
		"email_verified": state == models.StateVerified,
		"max_tries":      h.Verification.MaxTries(),
	})
}
