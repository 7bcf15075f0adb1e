package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"comedores/internal/models"
	"comedores/internal/services"
)

type AuthHandler struct {
	authService *services.AuthService
	log         *zap.Logger
}

func NewAuthHandler(authService *services.AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, log: log.Named("auth_handler")}
}

// @Summary      Iniciar sesión
// @Description  Authenticates and returns an access token. Unverified accounts may log in; verified-only actions stay closed.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        login  body      models.LoginRequest  true  "Credentials"
// @Success      200    {object}  map[string]interface{}
// @Failure      400    {object}  map[string]interface{}
// @Failure      401    {object}  map[string]interface{}
// @Router       /login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, err)
		return
	}

	res, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	body := gin.H{
		"message":        "Sesión iniciada.",
		"user":           res.User,
		"access_token":   res.AccessToken,
		"expires_at":     res.ExpiresAt,
		"email_verified": res.EmailVerified,
	}
	if !res.EmailVerified {
		body["next"] = "verify"
	}
	c.JSON(http.StatusOK, body)
}
