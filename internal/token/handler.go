package token

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/payo-app/payo_vault/internal/amount"
)

// FaucetHandler serves the development test-USDC faucet.
type FaucetHandler struct {
	token *Memory
}

func NewFaucetHandler(m *Memory) *FaucetHandler {
	return &FaucetHandler{token: m}
}

type faucetRequest struct {
	Address string `json:"address"`
	// Approve also grants the vault custody an allowance for the drip so the
	// address can fund deposits right away.
	Approve bool `json:"approve"`
}

type faucetResponse struct {
	Address         string `json:"address"`
	Balance         string `json:"balance"`
	Formatted       string `json:"formatted"`
	Allowance       string `json:"allowance"`
	CooldownSeconds int64  `json:"cooldown_seconds"`
	Dripped         string `json:"dripped,omitempty"`
}

// Drip handles POST /faucet.
func (h *FaucetHandler) Drip(c *fiber.Ctx) error {
	var req faucetRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if !common.IsHexAddress(req.Address) {
		return fiber.NewError(http.StatusBadRequest, "invalid address")
	}
	addr := common.HexToAddress(req.Address)
	drip, err := h.token.Faucet(c.UserContext(), addr)
	if err != nil {
		if errors.Is(err, ErrFaucetCooldown) {
			return fiber.NewError(http.StatusTooManyRequests, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	if req.Approve {
		h.token.IncreaseAllowance(addr, drip)
	}
	out := h.status(c, addr)
	out.Dripped = drip.Dec()
	return c.JSON(out)
}

// Status handles GET /faucet/:address.
func (h *FaucetHandler) Status(c *fiber.Ctx) error {
	raw := c.Params("address")
	if !common.IsHexAddress(raw) {
		return fiber.NewError(http.StatusBadRequest, "invalid address")
	}
	return c.JSON(h.status(c, common.HexToAddress(raw)))
}

func (h *FaucetHandler) status(c *fiber.Ctx, addr common.Address) faucetResponse {
	bal, _ := h.token.BalanceOf(c.UserContext(), addr)
	return faucetResponse{
		Address:         addr.Hex(),
		Balance:         bal.Dec(),
		Formatted:       amount.Format(bal),
		Allowance:       h.token.Allowance(addr).Dec(),
		CooldownSeconds: int64(h.token.CooldownRemaining(addr).Seconds()),
	}
}
