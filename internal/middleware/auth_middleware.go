package middleware

import (
	"strings"

	"grocery-pos-terminal/pkg/jwt"

	"github.com/gofiber/fiber/v2"
)

// RequireTerminal validates the terminal token and sets its claims in context.
// With an empty secret the local API is open.
func RequireTerminal(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}

		tokenString := c.Query("token")
		if authHeader := c.Get("Authorization"); authHeader != "" {
			// Extract token from "Bearer <token>"
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return c.Status(401).JSON(fiber.Map{"error": "Invalid authorization format. Use: Bearer <token>"})
			}
			tokenString = parts[1]
		}
		if tokenString == "" {
			return c.Status(401).JSON(fiber.Map{"error": "Missing authorization token"})
		}

		claims, err := jwt.ValidateToken(tokenString, secret)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid or expired token"})
		}

		c.Locals("terminal_id", claims.TerminalID)
		c.Locals("cashier", claims.Cashier)
		return c.Next()
	}
}

// RequireSameTerminal rejects tokens issued for another till.
func RequireSameTerminal(terminalID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := c.Locals("terminal_id").(string)
		if !ok || id == "" || id == terminalID {
			return c.Next()
		}
		return c.Status(403).JSON(fiber.Map{
			"error": "Forbidden: token was issued for terminal '" + id + "'",
		})
	}
}
