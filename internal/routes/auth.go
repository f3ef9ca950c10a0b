package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/payo-app/payo_vault/internal/auth"
)

// RegisterAuthRoutes wires authentication endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/auth")
	if rateLimiter != nil {
		group.Post("/token", rateLimiter, h.Token)
	} else {
		group.Post("/token", h.Token)
	}
}
