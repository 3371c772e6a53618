package handler

import (
	"grocery-pos-terminal/internal/model"

	"github.com/gofiber/fiber/v2"
)

type ToastLister interface {
	Active() []model.Notification
}

type NotificationHandler struct {
	toasts ToastLister
}

func NewNotificationHandler(toasts ToastLister) *NotificationHandler {
	return &NotificationHandler{toasts: toasts}
}

func (h *NotificationHandler) GetNotifications(c *fiber.Ctx) error {
	return c.JSON(h.toasts.Active())
}
