package cli

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/payo-app/payo_vault/internal/amount"
	"github.com/payo-app/payo_vault/internal/client"
	"github.com/payo-app/payo_vault/internal/identity"
)

// identityArg accepts a raw identifier ("@alice", "wallet:0x...") or a
// pre-hashed 0x key.
func identityArg(s string) common.Hash {
	return identity.Resolve(s)
}

func addressArg(name, s string) (common.Address, error) {
	a, err := identity.ParseAddress(s)
	if err != nil {
		return common.Address{}, WrapExitError(ExitCommandError, "bad "+name, err)
	}
	return a, nil
}

func amountArg(s string) (*uint256.Int, error) {
	v, err := amount.Parse(s)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "bad amount", err)
	}
	return v, nil
}

// apiError classifies a client error: vault rejections are failures, anything
// else is a command error.
func apiError(op string, err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return WrapExitError(ExitFailure, op, err)
	}
	return WrapExitError(ExitCommandError, op, fmt.Errorf("request failed: %w", err))
}
