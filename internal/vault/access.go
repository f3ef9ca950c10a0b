package vault

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/payo-app/payo_vault/internal/ledger"
)

// Initialize sets up the vault once. The caller becomes the owner.
func (v *Vault) Initialize(ctx context.Context, caller, relayer, tokenAddr common.Address) error {
	if err := guardReentry(ctx); err != nil {
		return err
	}
	err := v.store.Update(ctx, func(tx ledger.Tx) error {
		roles, err := tx.Roles()
		if err != nil {
			return err
		}
		if roles.Initialized {
			return ErrAlreadyInitialized
		}
		zero := common.Address{}
		if caller == zero || relayer == zero || tokenAddr == zero {
			return ErrInvalidAddress
		}
		if tokenAddr != v.token.Address() {
			return ErrTokenMismatch
		}
		if err := tx.SetRoles(ledger.Roles{Owner: caller, Relayer: relayer, Token: tokenAddr, Initialized: true}); err != nil {
			return err
		}
		return tx.Append(ledger.Event{Kind: ledger.EventInitialized, Address: relayer, At: v.timestamp()})
	})
	if err != nil {
		return err
	}
	v.logger.Info("vault initialized",
		slog.String("owner", caller.Hex()),
		slog.String("relayer", relayer.Hex()),
		slog.String("token", tokenAddr.Hex()),
	)
	return nil
}

// Bootstrap initializes an empty vault on behalf of owner, bound to the
// configured token. It reports whether it initialized. An initialized vault
// is left alone unless its stored token differs, which is ErrTokenMismatch.
func (v *Vault) Bootstrap(ctx context.Context, owner, relayer common.Address) (bool, error) {
	err := v.Initialize(ctx, owner, relayer, v.token.Address())
	if !errors.Is(err, ErrAlreadyInitialized) {
		return err == nil, err
	}
	roles, err := v.Roles(ctx)
	if err != nil {
		return false, err
	}
	if roles.Token != v.token.Address() {
		return false, ErrTokenMismatch
	}
	return false, nil
}

// SetRelayer rotates the relayer key. Owner only.
func (v *Vault) SetRelayer(ctx context.Context, caller, relayer common.Address) error {
	err := v.ownerTx(ctx, caller, func(tx ledger.Tx, roles ledger.Roles) error {
		if relayer == (common.Address{}) {
			return ErrInvalidAddress
		}
		roles.Relayer = relayer
		if err := tx.SetRoles(roles); err != nil {
			return err
		}
		return tx.Append(ledger.Event{Kind: ledger.EventRelayerChanged, Address: relayer, At: v.timestamp()})
	})
	if err != nil {
		return err
	}
	v.logger.Info("relayer changed", slog.String("relayer", relayer.Hex()))
	return nil
}

// TransferOwnership hands the owner role to owner. Owner only.
func (v *Vault) TransferOwnership(ctx context.Context, caller, owner common.Address) error {
	err := v.ownerTx(ctx, caller, func(tx ledger.Tx, roles ledger.Roles) error {
		if owner == (common.Address{}) {
			return ErrInvalidAddress
		}
		roles.Owner = owner
		if err := tx.SetRoles(roles); err != nil {
			return err
		}
		return tx.Append(ledger.Event{Kind: ledger.EventOwnershipTransferred, Address: owner, At: v.timestamp()})
	})
	if err != nil {
		return err
	}
	v.logger.Info("ownership transferred", slog.String("owner", owner.Hex()))
	return nil
}

// Roles returns the access-control state. Before initialization every
// address is zero.
func (v *Vault) Roles(ctx context.Context) (ledger.Roles, error) {
	var roles ledger.Roles
	err := v.store.View(ctx, func(r ledger.Reader) (err error) {
		roles, err = r.Roles()
		return err
	})
	return roles, err
}

// Owner returns the owner address.
func (v *Vault) Owner(ctx context.Context) (common.Address, error) {
	roles, err := v.Roles(ctx)
	return roles.Owner, err
}

// Relayer returns the relayer address.
func (v *Vault) Relayer(ctx context.Context) (common.Address, error) {
	roles, err := v.Roles(ctx)
	return roles.Relayer, err
}
