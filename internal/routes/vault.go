package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/payo-app/payo_vault/internal/vault"
)

// RegisterVaultRoutes wires vault reads and the guarded mutations.
func RegisterVaultRoutes(r fiber.Router, h *vault.Handler, guard []fiber.Handler) {
	group := r.Group("/vault")

	group.Get("/owner", h.Owner)
	group.Get("/relayer", h.Relayer)
	group.Get("/balances/:idHash", h.Balance)
	group.Get("/transfers/:transferId", h.Transfer)
	group.Get("/solvency", h.Solvency)

	with := func(handler fiber.Handler) []fiber.Handler {
		return append(append(make([]fiber.Handler, 0, len(guard)+1), guard...), handler)
	}
	group.Post("/initialize", with(h.Initialize)...)
	group.Post("/deposit", with(h.Deposit)...)
	group.Post("/send", with(h.Send)...)
	group.Post("/claim", with(h.Claim)...)
	group.Post("/refund", with(h.Refund)...)
	group.Post("/withdraw", with(h.Withdraw)...)
	group.Post("/relayer", with(h.SetRelayer)...)
	group.Post("/owner", with(h.TransferOwnership)...)
}

// RegisterIdentityRoutes wires identifier hashing and per-identity history.
func RegisterIdentityRoutes(r fiber.Router, h *vault.Handler) {
	r.Post("/identity/hash", h.Hash)
	r.Get("/identities/:idHash/history", h.History)
}
