package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/payo-app/payo_vault/internal/token"
)

// RegisterFaucetRoutes wires the development test-USDC faucet.
func RegisterFaucetRoutes(r fiber.Router, h *token.FaucetHandler, rateLimiter fiber.Handler) {
	r.Post("/faucet", rateLimiter, h.Drip)
	r.Get("/faucet/:address", h.Status)
}
