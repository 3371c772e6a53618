package handler

import "github.com/gofiber/fiber/v2"

type Handlers struct {
	Product      *ProductHandler
	Cart         *CartHandler
	Checkout     *CheckoutHandler
	Notification *NotificationHandler
}

// RegisterRoutes mounts the local API under api. Guards are applied by the caller.
func RegisterRoutes(api fiber.Router, h Handlers) {
	api.Get("/health", h.Product.Health)

	// Catalog
	api.Get("/products", h.Product.GetProducts)
	api.Post("/products/refresh", h.Product.Refresh)

	// Cart
	cart := api.Group("/cart")
	cart.Get("/", h.Cart.GetCart)
	cart.Delete("/", h.Cart.Clear)
	cart.Post("/items", h.Cart.AddItem)
	cart.Post("/manual", h.Cart.AddManual)
	cart.Post("/lines/:id/increment", h.Cart.Increment)
	cart.Post("/lines/:id/decrement", h.Cart.Decrement)
	cart.Put("/lines/:id", h.Cart.SetQuantity)
	cart.Delete("/lines/:id", h.Cart.RemoveLine)
	cart.Get("/backup", h.Cart.GetBackup)
	cart.Post("/backup/recover", h.Cart.RecoverBackup)

	// Checkout
	checkout := api.Group("/checkout")
	checkout.Get("/", h.Checkout.GetCurrent)
	checkout.Post("/:channel", h.Checkout.Begin)
	checkout.Post("/:id/cash", h.Checkout.SubmitCash)
	checkout.Post("/:id/qr", h.Checkout.StartQR)
	checkout.Get("/:id/qr.png", h.Checkout.QRImage)
	checkout.Delete("/:id/qr", h.Checkout.CancelQR)
	checkout.Post("/:id/debit", h.Checkout.SubmitDebit)
	checkout.Post("/:id/abort", h.Checkout.Abort)

	api.Get("/notifications", h.Notification.GetNotifications)
}
