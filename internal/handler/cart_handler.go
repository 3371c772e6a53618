package handler

import (
	"encoding/json"
	"strings"

	"grocery-pos-terminal/internal/model"
	"grocery-pos-terminal/internal/service"

	"github.com/gofiber/fiber/v2"
)

type CartHandler struct {
	service service.CartService
}

func NewCartHandler(s service.CartService) *CartHandler {
	return &CartHandler{service: s}
}

func (h *CartHandler) cartView(c *fiber.Ctx, status int) error {
	return c.Status(status).JSON(fiber.Map{
		"lines":      h.service.Lines(),
		"total":      h.service.Total(),
		"item_count": h.service.ItemCount(),
	})
}

func (h *CartHandler) GetCart(c *fiber.Ctx) error {
	return h.cartView(c, 200)
}

func (h *CartHandler) AddItem(c *fiber.Ctx) error {
	var req struct {
		Barcode string `json:"barcode"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Barcode) == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	if _, err := h.service.AddBarcode(c.UserContext(), req.Barcode); err != nil {
		return respondError(c, err)
	}
	return h.cartView(c, 201)
}

func (h *CartHandler) AddManual(c *fiber.Ctx) error {
	var draft model.ManualLineDraft
	if err := c.BodyParser(&draft); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	if _, err := h.service.AddManualLine(c.UserContext(), draft); err != nil {
		return respondError(c, err)
	}
	return h.cartView(c, 201)
}

func (h *CartHandler) Increment(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid line ID"})
	}
	if _, err := h.service.IncrementLine(c.UserContext(), id); err != nil {
		return respondError(c, err)
	}
	return h.cartView(c, 200)
}

func (h *CartHandler) Decrement(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid line ID"})
	}
	if _, err := h.service.DecrementLine(c.UserContext(), id); err != nil {
		return respondError(c, err)
	}
	return h.cartView(c, 200)
}

// SetQuantity accepts the quantity as a JSON number or string, as typed.
func (h *CartHandler) SetQuantity(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid line ID"})
	}
	var req struct {
		Quantity json.RawMessage `json:"quantity"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	raw := strings.Trim(string(req.Quantity), `"`)
	if _, err := h.service.SetLineQuantity(c.UserContext(), id, raw); err != nil {
		return respondError(c, err)
	}
	return h.cartView(c, 200)
}

func (h *CartHandler) RemoveLine(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid line ID"})
	}
	if err := h.service.RemoveLine(c.UserContext(), id); err != nil {
		return respondError(c, err)
	}
	return h.cartView(c, 200)
}

// Clear needs ?confirm=true, the screen's answer to the confirmation dialog.
func (h *CartHandler) Clear(c *fiber.Ctx) error {
	confirmed := c.QueryBool("confirm", false)
	if err := h.service.Clear(c.UserContext(), service.Always(confirmed)); err != nil {
		return respondError(c, err)
	}
	return h.cartView(c, 200)
}

func (h *CartHandler) GetBackup(c *fiber.Ctx) error {
	backup, err := h.service.PendingBackup(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	if backup == nil {
		return c.Status(404).JSON(fiber.Map{"error": service.ErrNoBackup.Error()})
	}
	return c.JSON(backup)
}

func (h *CartHandler) RecoverBackup(c *fiber.Ctx) error {
	if _, err := h.service.RecoverBackup(c.UserContext()); err != nil {
		return respondError(c, err)
	}
	return h.cartView(c, 200)
}
