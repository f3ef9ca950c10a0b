package auth

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
)

// Handler exposes the token endpoint.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type tokenRequest struct {
	Address string `json:"address"`
	APIKey  string `json:"api_key"`
}

// Token exchanges an address and API key for a bearer token.
func (h *Handler) Token(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if !common.IsHexAddress(req.Address) {
		return fiber.NewError(http.StatusBadRequest, "address is required")
	}
	tok, err := h.svc.Authenticate(common.HexToAddress(req.Address), req.APIKey)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}
	return c.Status(http.StatusOK).JSON(tok)
}
