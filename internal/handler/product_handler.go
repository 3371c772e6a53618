package handler

import (
	"time"

	"grocery-pos-terminal/internal/service"

	"github.com/gofiber/fiber/v2"
)

type ProductHandler struct {
	catalog   service.CatalogService
	connected func() bool
}

// NewProductHandler serves the catalog. connected reports the realtime link for /health.
func NewProductHandler(catalog service.CatalogService, connected func() bool) *ProductHandler {
	if connected == nil {
		connected = func() bool { return false }
	}
	return &ProductHandler{catalog: catalog, connected: connected}
}

func (h *ProductHandler) Health(c *fiber.Ctx) error {
	body := fiber.Map{
		"status":   "ok",
		"realtime": h.connected(),
		"products": len(h.catalog.Products()),
	}
	if last := h.catalog.LastRefresh(); !last.IsZero() {
		body["catalog_refreshed_at"] = last.Format(time.RFC3339)
	}
	return c.JSON(body)
}

func (h *ProductHandler) GetProducts(c *fiber.Ctx) error {
	return c.JSON(h.catalog.Products())
}

func (h *ProductHandler) Refresh(c *fiber.Ctx) error {
	if err := h.catalog.Refresh(c.UserContext()); err != nil {
		return c.Status(502).JSON(fiber.Map{"error": "Failed to refresh products"})
	}
	return c.JSON(fiber.Map{"message": "Products refreshed", "count": len(h.catalog.Products())})
}
