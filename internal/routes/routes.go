package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"comedores/internal/handlers"
	"comedores/internal/middleware"
)

type Handlers struct {
	Auth          *handlers.AuthHandler
	Verify        *handlers.VerifyHandler
	Notifications *handlers.NotificationHandler
}

type Guards struct {
	Tokens middleware.TokenParser
	Status middleware.VerificationStatus
	Log    *zap.Logger
}

func SetupRoutes(r *gin.Engine, h Handlers, g Guards) *gin.Engine {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// ---- public
	r.POST("/login", h.Auth.Login)
	r.POST("/register", h.Verify.Register)
	r.POST("/register/confirm", h.Verify.Confirm)
	r.POST("/register/resend", h.Verify.Resend)

	// ---- protected
	authed := r.Group("/", middleware.AuthMiddleware(g.Tokens))
	authed.GET("/me/verification", h.Verify.Status)

	// ---- verified email only
	notifications := authed.Group("/notifications", middleware.RequireVerifiedEmail(g.Status, g.Log))
	{
		notifications.POST("/publication", h.Notifications.Publication)
		notifications.POST("/donation", h.Notifications.Donation)
	}

	return r
}
