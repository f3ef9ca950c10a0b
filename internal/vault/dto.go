package vault

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mr-tron/base58"

	"github.com/payo-app/payo_vault/internal/amount"
	"github.com/payo-app/payo_vault/internal/identity"
	"github.com/payo-app/payo_vault/internal/ledger"
)

// ClaimCode renders a transfer id in the short form shared in claim links.
func ClaimCode(id common.Hash) string {
	return base58.Encode(id.Bytes())
}

// ParseTransferID accepts a 0x hex id or a base58 claim code.
func ParseTransferID(s string) (common.Hash, error) {
	if id, err := identity.ParseKey(s); err == nil {
		return id, nil
	}
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transfer id %q", s)
	}
	return common.BytesToHash(raw), nil
}

type InitializeRequest struct {
	Relayer string `json:"relayer"`
	Token   string `json:"token"`
}

type DepositRequest struct {
	IDHash string `json:"id_hash"`
	Amount string `json:"amount"`
	// Payer defaults to the caller.
	Payer string `json:"payer,omitempty"`
}

type SendRequest struct {
	FromHash string `json:"from_hash"`
	ToHash   string `json:"to_hash"`
	Amount   string `json:"amount"`
}

type SendResponse struct {
	TransferID string `json:"transfer_id"`
	ClaimCode  string `json:"claim_code"`
}

type ClaimRequest struct {
	TransferID    string `json:"transfer_id"`
	RecipientHash string `json:"recipient_hash"`
}

type RefundRequest struct {
	TransferID string `json:"transfer_id"`
}

type WithdrawRequest struct {
	IDHash string `json:"id_hash"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type SetRelayerRequest struct {
	Relayer string `json:"relayer"`
}

type TransferOwnershipRequest struct {
	Owner string `json:"owner"`
}

type HashRequest struct {
	Identifier string `json:"identifier"`
}

type HashResponse struct {
	Normalized string `json:"normalized"`
	IDHash     string `json:"id_hash"`
}

type BalanceResponse struct {
	IDHash    string `json:"id_hash"`
	Balance   string `json:"balance"`
	Formatted string `json:"formatted"`
	PendingTx string `json:"pending_tx,omitempty"`
}

type TransferResponse struct {
	TransferID string     `json:"transfer_id"`
	ClaimCode  string     `json:"claim_code"`
	FromHash   string     `json:"from_hash"`
	ToHash     string     `json:"to_hash"`
	Amount     string     `json:"amount"`
	Status     string     `json:"status"`
	Claimed    bool       `json:"claimed"`
	Exists     bool       `json:"exists"`
	SettledTo  string     `json:"settled_to,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	SettledAt  *time.Time `json:"settled_at,omitempty"`
}

type EventResponse struct {
	Seq        uint64    `json:"seq"`
	Kind       string    `json:"kind"`
	TransferID string    `json:"transfer_id,omitempty"`
	IDHash     string    `json:"id_hash,omitempty"`
	FromHash   string    `json:"from_hash,omitempty"`
	ToHash     string    `json:"to_hash,omitempty"`
	Address    string    `json:"address,omitempty"`
	Amount     string    `json:"amount"`
	TxHash     string    `json:"tx_hash,omitempty"`
	At         time.Time `json:"at"`
}

type HistoryResponse struct {
	IDHash string          `json:"id_hash"`
	Events []EventResponse `json:"events"`
}

type SolvencyResponse struct {
	Deposited string `json:"deposited"`
	Withdrawn string `json:"withdrawn"`
	Pending   string `json:"pending"`
	Balances  string `json:"balances"`
	Custodied string `json:"custodied"`
	OnChain   string `json:"on_chain"`
	Balanced  bool   `json:"balanced"`
	Covered   bool   `json:"covered"`
}

func hashString(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

func addressString(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toTransferResponse(id common.Hash, tr ledger.Transfer) TransferResponse {
	return TransferResponse{
		TransferID: id.Hex(),
		ClaimCode:  ClaimCode(id),
		FromHash:   tr.FromHash.Hex(),
		ToHash:     tr.ToHash.Hex(),
		Amount:     tr.Amount.Dec(),
		Status:     tr.Status.String(),
		Claimed:    tr.Claimed(),
		Exists:     tr.Exists(),
		SettledTo:  hashString(tr.SettledTo),
		CreatedAt:  timePtr(tr.CreatedAt),
		SettledAt:  timePtr(tr.SettledAt),
	}
}

func toEventResponse(e ledger.Event) EventResponse {
	return EventResponse{
		Seq:        e.Seq,
		Kind:       string(e.Kind),
		TransferID: hashString(e.TransferID),
		IDHash:     hashString(e.IDHash),
		FromHash:   hashString(e.FromHash),
		ToHash:     hashString(e.ToHash),
		Address:    addressString(e.Address),
		Amount:     e.Amount.Dec(),
		TxHash:     hashString(e.TxHash),
		At:         e.At,
	}
}

func toSolvencyResponse(s Solvency) SolvencyResponse {
	return SolvencyResponse{
		Deposited: s.Deposited.Dec(),
		Withdrawn: s.Withdrawn.Dec(),
		Pending:   s.Pending.Dec(),
		Balances:  s.Balances.Dec(),
		Custodied: s.Custodied.Dec(),
		OnChain:   s.OnChain.Dec(),
		Balanced:  s.Balanced,
		Covered:   s.Covered,
	}
}

func toBalanceResponse(key common.Hash, bal *uint256.Int) BalanceResponse {
	return BalanceResponse{
		IDHash:    key.Hex(),
		Balance:   bal.Dec(),
		Formatted: amount.Format(bal),
	}
}
