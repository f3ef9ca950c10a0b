package vault

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/holiman/uint256"

	"github.com/payo-app/payo_vault/internal/amount"
	"github.com/payo-app/payo_vault/internal/identity"
	"github.com/payo-app/payo_vault/internal/ledger"
)

// Handler exposes the vault over HTTP.
type Handler struct {
	vault  *Vault
	logger *slog.Logger
}

// NewHandler constructs a vault handler.
func NewHandler(v *Vault, logger *slog.Logger) *Handler {
	return &Handler{vault: v, logger: logger}
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := Status(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("vault request failed",
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
	}
	return fiber.NewError(status, err.Error())
}

func caller(c *fiber.Ctx) (common.Address, error) {
	addr, ok := c.Locals("caller").(common.Address)
	if !ok {
		return common.Address{}, fiber.NewError(http.StatusUnauthorized, "missing caller")
	}
	return addr, nil
}

func parseKey(field, s string) (common.Hash, error) {
	k, err := identity.ParseKey(s)
	if err != nil {
		return common.Hash{}, fiber.NewError(http.StatusBadRequest, field+": "+err.Error())
	}
	return k, nil
}

func parseAddress(field, s string) (common.Address, error) {
	a, err := identity.ParseAddress(s)
	if err != nil {
		return common.Address{}, fiber.NewError(http.StatusBadRequest, ErrInvalidAddress.Error()+": "+field)
	}
	return a, nil
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := amount.ParseUnits(s)
	if err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, ErrInvalidAmount.Error())
	}
	return v, nil
}

func parseTransferID(s string) (common.Hash, error) {
	id, err := ParseTransferID(s)
	if err != nil {
		return common.Hash{}, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return id, nil
}

func bind(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Initialize handles POST /vault/initialize.
func (h *Handler) Initialize(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return err
	}
	var req InitializeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	relayer, err := parseAddress("relayer", req.Relayer)
	if err != nil {
		return err
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		return err
	}
	if err := h.vault.Initialize(c.UserContext(), who, relayer, tokenAddr); err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"owner":   who.Hex(),
		"relayer": relayer.Hex(),
		"token":   tokenAddr.Hex(),
	})
}

// Deposit handles POST /vault/deposit.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return err
	}
	var req DepositRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	key, err := parseKey("id_hash", req.IDHash)
	if err != nil {
		return err
	}
	amt, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	payer := who
	if req.Payer != "" {
		if payer, err = parseAddress("payer", req.Payer); err != nil {
			return err
		}
	}
	return h.moved(c, key, h.vault.DepositFrom(c.UserContext(), who, payer, key, amt))
}

// Send handles POST /vault/send.
func (h *Handler) Send(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return err
	}
	var req SendRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	from, err := parseKey("from_hash", req.FromHash)
	if err != nil {
		return err
	}
	to, err := parseKey("to_hash", req.ToHash)
	if err != nil {
		return err
	}
	amt, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	id, err := h.vault.Send(c.UserContext(), who, from, to, amt)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(SendResponse{TransferID: id.Hex(), ClaimCode: ClaimCode(id)})
}

// Claim handles POST /vault/claim.
func (h *Handler) Claim(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return err
	}
	var req ClaimRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	id, err := parseTransferID(req.TransferID)
	if err != nil {
		return err
	}
	recipient, err := parseKey("recipient_hash", req.RecipientHash)
	if err != nil {
		return err
	}
	if err := h.vault.Claim(c.UserContext(), who, id, recipient); err != nil {
		return h.fail(c, err)
	}
	return h.transfer(c, id)
}

// Refund handles POST /vault/refund.
func (h *Handler) Refund(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return err
	}
	var req RefundRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	id, err := parseTransferID(req.TransferID)
	if err != nil {
		return err
	}
	if err := h.vault.Refund(c.UserContext(), who, id); err != nil {
		return h.fail(c, err)
	}
	return h.transfer(c, id)
}

// Withdraw handles POST /vault/withdraw.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return err
	}
	var req WithdrawRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	key, err := parseKey("id_hash", req.IDHash)
	if err != nil {
		return err
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		return err
	}
	amt, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	return h.moved(c, key, h.vault.Withdraw(c.UserContext(), who, key, to, amt))
}

// SetRelayer handles POST /vault/relayer.
func (h *Handler) SetRelayer(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return err
	}
	var req SetRelayerRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	relayer, err := parseAddress("relayer", req.Relayer)
	if err != nil {
		return err
	}
	if err := h.vault.SetRelayer(c.UserContext(), who, relayer); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"relayer": relayer.Hex()})
}

// TransferOwnership handles POST /vault/owner.
func (h *Handler) TransferOwnership(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return err
	}
	var req TransferOwnershipRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		return err
	}
	if err := h.vault.TransferOwnership(c.UserContext(), who, owner); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"owner": owner.Hex()})
}

// Owner handles GET /vault/owner.
func (h *Handler) Owner(c *fiber.Ctx) error {
	owner, err := h.vault.Owner(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"owner": owner.Hex()})
}

// Relayer handles GET /vault/relayer.
func (h *Handler) Relayer(c *fiber.Ctx) error {
	relayer, err := h.vault.Relayer(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"relayer": relayer.Hex()})
}

// Balance handles GET /vault/balances/:idHash.
func (h *Handler) Balance(c *fiber.Ctx) error {
	key, err := parseKey("id_hash", c.Params("idHash"))
	if err != nil {
		return err
	}
	return h.balance(c, key)
}

func (h *Handler) balance(c *fiber.Ctx, key common.Hash) error {
	bal, err := h.vault.Balance(c.UserContext(), key)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(toBalanceResponse(key, bal))
}

// moved answers a deposit or withdrawal. A committed transition whose token
// transaction is unconfirmed answers 202 so idempotent retries replay it.
func (h *Handler) moved(c *fiber.Ctx, key common.Hash, err error) error {
	var pending *PendingError
	switch {
	case err == nil:
		return h.balance(c, key)
	case !errors.As(err, &pending):
		return h.fail(c, err)
	}
	bal, err := h.vault.Balance(c.UserContext(), key)
	if err != nil {
		return h.fail(c, err)
	}
	resp := toBalanceResponse(key, bal)
	resp.PendingTx = pending.TxHash.Hex()
	return c.Status(http.StatusAccepted).JSON(resp)
}

// Transfer handles GET /vault/transfers/:transferId. Unknown ids answer 200
// with exists=false.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	id, err := parseTransferID(c.Params("transferId"))
	if err != nil {
		return err
	}
	return h.transfer(c, id)
}

func (h *Handler) transfer(c *fiber.Ctx, id common.Hash) error {
	tr, err := h.vault.Transfer(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(toTransferResponse(id, tr))
}

// History handles GET /identities/:idHash/history.
func (h *Handler) History(c *fiber.Ctx) error {
	key, err := parseKey("id_hash", c.Params("idHash"))
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", ledger.DefaultHistoryLimit)
	events, err := h.vault.History(c.UserContext(), key, limit)
	if err != nil {
		return h.fail(c, err)
	}
	out := HistoryResponse{IDHash: key.Hex(), Events: make([]EventResponse, 0, len(events))}
	for _, e := range events {
		out.Events = append(out.Events, toEventResponse(e))
	}
	return c.JSON(out)
}

// Solvency handles GET /vault/solvency.
func (h *Handler) Solvency(c *fiber.Ctx) error {
	s, err := h.vault.Solvency(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(toSolvencyResponse(s))
}

// Hash handles POST /identity/hash.
func (h *Handler) Hash(c *fiber.Ctx) error {
	var req HashRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return c.JSON(HashResponse{
		Normalized: identity.Normalize(req.Identifier),
		IDHash:     identity.Hash(req.Identifier).Hex(),
	})
}
