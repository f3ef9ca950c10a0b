// Package token moves the custodied ERC-20 in and out of the vault. The vault
// only ever sees the Token interface; Memory backs tests and the development
// server, ERC20 talks to a real chain over JSON-RPC.
package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientFunds is returned when the source holds less than the amount.
	ErrInsufficientFunds = errors.New("token balance too low")
	// ErrInsufficientAllowance is returned when a pull exceeds the approved amount.
	ErrInsufficientAllowance = errors.New("token allowance too low")
	// ErrReverted is returned when an on-chain transfer was mined but failed.
	ErrReverted = errors.New("token transfer reverted")
	// ErrFaucetCooldown is returned when an address asks the faucet again too soon.
	ErrFaucetCooldown = errors.New("faucet cooldown active")
	// ErrUnconfirmed is matched by UnconfirmedError.
	ErrUnconfirmed = errors.New("token transfer unconfirmed")
)

// UnconfirmedError reports a transfer that was broadcast but whose receipt
// was not observed. It may still be mined, so the caller must treat the
// transfer as having happened.
type UnconfirmedError struct {
	TxHash common.Hash
	Err    error
}

func (e *UnconfirmedError) Error() string {
	return fmt.Sprintf("%s: tx %s: %v", ErrUnconfirmed, e.TxHash.Hex(), e.Err)
}

func (e *UnconfirmedError) Is(target error) bool { return target == ErrUnconfirmed }

func (e *UnconfirmedError) Unwrap() error { return e.Err }

// Token is the external fungible token held in custody by the vault.
type Token interface {
	// Address is the token contract address.
	Address() common.Address
	// Custody is the account holding the vault's funds.
	Custody() common.Address
	// Pull moves amount from the depositing wallet into custody. The wallet
	// must have approved the custody account beforehand.
	Pull(ctx context.Context, from common.Address, amount *uint256.Int) error
	// Push moves amount out of custody.
	//
	// Pull and Push return an *UnconfirmedError once the transfer has left
	// the process but its outcome is unknown; any other error means nothing
	// moved.
	Push(ctx context.Context, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error)
}
