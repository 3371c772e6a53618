package handler

import (
	"grocery-pos-terminal/internal/model"
	"grocery-pos-terminal/internal/service"

	"github.com/gofiber/fiber/v2"
)

type CheckoutHandler struct {
	service service.CheckoutService
}

func NewCheckoutHandler(s service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{service: s}
}

func (h *CheckoutHandler) Begin(c *fiber.Ctx) error {
	channel, ok := model.ParseChannel(c.Params("channel"))
	if !ok {
		return c.Status(400).JSON(fiber.Map{"error": "Unknown payment channel"})
	}

	session, err := h.service.Begin(c.UserContext(), channel)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(session)
}

func (h *CheckoutHandler) GetCurrent(c *fiber.Ctx) error {
	session, ok := h.service.Current()
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "No checkout yet"})
	}
	return c.JSON(session)
}

func (h *CheckoutHandler) SubmitCash(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid session ID"})
	}
	var tender model.CashTender
	if err := c.BodyParser(&tender); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	session, err := h.service.SubmitCash(c.UserContext(), id, tender)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

func (h *CheckoutHandler) StartQR(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid session ID"})
	}

	session, err := h.service.StartQR(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

func (h *CheckoutHandler) QRImage(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid session ID"})
	}

	png, err := h.service.QRImage(id, c.QueryInt("size", 256))
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(png)
}

func (h *CheckoutHandler) CancelQR(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid session ID"})
	}

	session, err := h.service.CancelQR(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

func (h *CheckoutHandler) SubmitDebit(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid session ID"})
	}
	var req model.DebitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	session, err := h.service.SubmitDebit(c.UserContext(), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

func (h *CheckoutHandler) Abort(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid session ID"})
	}

	session, err := h.service.Abort(id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}
