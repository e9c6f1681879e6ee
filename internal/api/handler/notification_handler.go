package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/genqueue/internal/api/dto"
	"github.com/cuongbtq/genqueue/internal/auth"
)

// NotificationHandler hands out pending notifications
type NotificationHandler struct {
	deps *Dependencies
}

// NewNotificationHandler creates a new NotificationHandler instance
func NewNotificationHandler(deps *Dependencies) *NotificationHandler {
	return &NotificationHandler{deps: deps}
}

// ListNotifications handles GET /api/v1/notifications
// Each notification is returned once.
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, dto.ListNotificationsResponse{
		Notifications: h.deps.Inbox.Drain(auth.UserID(c)),
	})
}
