package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"comedores/internal/services"
)

type NotificationHandler struct {
	Notifications *services.NotificationService
	log           *zap.Logger
}

func NewNotificationHandler(n *services.NotificationService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{Notifications: n, log: log.Named("notification_handler")}
}

type publicationRequest struct {
	Recipients []string `json:"recipients" binding:"required,min=1"`
	Comedor    string   `json:"comedor" binding:"required"`
	Title      string   `json:"title" binding:"required"`
}

type donationRequest struct {
	Recipients []string                `json:"recipients" binding:"required,min=1"`
	Comedor    string                  `json:"comedor" binding:"required"`
	Donor      string                  `json:"donor" binding:"required"`
	Items      []services.DonationItem `json:"items" binding:"required,min=1,dive"`
}

// @Summary      Aviso de nueva publicación
// @Tags         Notifications
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      publicationRequest  true  "Publication"
// @Success      202   {object}  map[string]interface{}
// @Failure      403   {object}  map[string]interface{}
// @Failure      502   {object}  map[string]interface{}
// @Router       /notifications/publication [post]
func (h *NotificationHandler) Publication(c *gin.Context) {
	var req publicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, err)
		return
	}
	if err := h.Notifications.NotifyNewPublication(c.Request.Context(), req.Recipients, req.Comedor, req.Title); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Aviso enviado."})
}

// @Summary      Aviso de nueva donación
// @Tags         Notifications
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      donationRequest  true  "Donation"
// @Success      202   {object}  map[string]interface{}
// @Failure      403   {object}  map[string]interface{}
// @Failure      502   {object}  map[string]interface{}
// @Router       /notifications/donation [post]
func (h *NotificationHandler) Donation(c *gin.Context) {
	var req donationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.log, err)
		return
	}
	if err := h.Notifications.NotifyNewDonation(c.Request.Context(), req.Recipients, req.Comedor, req.Donor, req.Items); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Aviso enviado."})
}
