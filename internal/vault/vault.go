// Package vault holds user funds under hashed identities. A single relayer
// account drives every mutation; the owner may rotate the relayer. Funds
// enter and leave through the external token, everything in between is
// ledger bookkeeping.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/payo-app/payo_vault/internal/ledger"
	"github.com/payo-app/payo_vault/internal/token"
)

// Vault is the custodial ledger. All methods are safe for concurrent use;
// mutations are serialized by the store.
type Vault struct {
	store  ledger.Store
	token  token.Token
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Vault.
type Option func(*Vault)

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// New constructs a vault over store that custodies tok.
func New(store ledger.Store, tok token.Token, logger *slog.Logger, opts ...Option) *Vault {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	v := &Vault{store: store, token: tok, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type callKey struct{}

// external marks ctx as belonging to an in-flight transition before it is
// handed to the token.
func external(ctx context.Context) context.Context {
	return context.WithValue(ctx, callKey{}, true)
}

func guardReentry(ctx context.Context) error {
	if ctx.Value(callKey{}) != nil {
		return ErrReentrantCall
	}
	return nil
}

func (v *Vault) timestamp() time.Time { return v.now().UTC() }

// relayerTx runs fn as one transition that only the relayer may perform.
func (v *Vault) relayerTx(ctx context.Context, caller common.Address, fn func(tx ledger.Tx) error) error {
	if err := guardReentry(ctx); err != nil {
		return err
	}
	return v.store.Update(ctx, func(tx ledger.Tx) error {
		roles, err := tx.Roles()
		if err != nil {
			return err
		}
		if !roles.Initialized {
			return ErrNotInitialized
		}
		if caller != roles.Relayer {
			return ErrUnauthorized
		}
		if v.token.Address() != roles.Token {
			return ErrTokenMismatch
		}
		return fn(tx)
	})
}

// ownerTx runs fn as one transition that only the owner may perform.
func (v *Vault) ownerTx(ctx context.Context, caller common.Address, fn func(tx ledger.Tx, roles ledger.Roles) error) error {
	if err := guardReentry(ctx); err != nil {
		return err
	}
	return v.store.Update(ctx, func(tx ledger.Tx) error {
		roles, err := tx.Roles()
		if err != nil {
			return err
		}
		if !roles.Initialized {
			return ErrNotInitialized
		}
		if caller != roles.Owner {
			return ErrUnauthorized
		}
		return fn(tx, roles)
	})
}

func validAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

func credit(tx ledger.Tx, key common.Hash, amount *uint256.Int) error {
	bal, err := tx.Balance(key)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if _, overflow := bal.AddOverflow(&bal, amount); overflow {
		return ErrInvalidAmount
	}
	return tx.SetBalance(key, &bal)
}

func debit(tx ledger.Tx, key common.Hash, amount *uint256.Int) error {
	bal, err := tx.Balance(key)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if bal.Lt(amount) {
		return ErrInsufficientBalance
	}
	bal.Sub(&bal, amount)
	return tx.SetBalance(key, &bal)
}

func updateSupply(tx ledger.Tx, fn func(s *ledger.Supply) error) error {
	s, err := tx.Supply()
	if err != nil {
		return fmt.Errorf("read supply: %w", err)
	}
	if err := fn(&s); err != nil {
		return err
	}
	return tx.SetSupply(s)
}

// addTotal adds amount to a supply counter, refusing to wrap.
func addTotal(total, amount *uint256.Int) error {
	if _, overflow := total.AddOverflow(total, amount); overflow {
		return ErrInvalidAmount
	}
	return nil
}

// unconfirmedHash reports the broadcast hash when err says the token call
// left the process without a receipt.
func unconfirmedHash(err error) (common.Hash, bool) {
	var u *token.UnconfirmedError
	if errors.As(err, &u) {
		return u.TxHash, true
	}
	return common.Hash{}, false
}

// Deposit credits key with amount pulled from the caller's own wallet.
func (v *Vault) Deposit(ctx context.Context, caller common.Address, key common.Hash, amount *uint256.Int) error {
	return v.DepositFrom(ctx, caller, caller, key, amount)
}

// DepositFrom credits key with amount pulled from payer, which must have
// approved the custody account. A pull that was broadcast but not confirmed
// is still credited and reported as a *PendingError.
func (v *Vault) DepositFrom(ctx context.Context, caller, payer common.Address, key common.Hash, amount *uint256.Int) error {
	var (
		pulled  bool
		pending common.Hash
	)
	err := v.relayerTx(ctx, caller, func(tx ledger.Tx) error {
		if err := validAmount(amount); err != nil {
			return err
		}
		if payer == (common.Address{}) {
			return ErrInvalidAddress
		}
		if err := credit(tx, key, amount); err != nil {
			return err
		}
		if err := updateSupply(tx, func(s *ledger.Supply) error { return addTotal(&s.Deposited, amount) }); err != nil {
			return err
		}
		ev := ledger.Event{Kind: ledger.EventDeposited, IDHash: key, Address: payer, Amount: *amount, At: v.timestamp()}
		if err := v.token.Pull(external(ctx), payer, amount); err != nil {
			hash, ok := unconfirmedHash(err)
			if !ok {
				return fmt.Errorf("%w: %v", ErrTransferFailed, err)
			}
			pending, ev.TxHash = hash, hash
		}
		pulled = true
		return tx.Append(ev)
	})
	if err != nil {
		if pulled {
			v.logger.Error("deposit pulled funds but ledger commit failed",
				slog.String("id_hash", key.Hex()),
				slog.String("payer", payer.Hex()),
				slog.String("amount", amount.Dec()),
				slog.Any("error", err),
			)
		}
		return err
	}
	if pending != (common.Hash{}) {
		v.logger.Warn("deposit committed with unconfirmed pull",
			slog.String("id_hash", key.Hex()),
			slog.String("amount", amount.Dec()),
			slog.String("tx", pending.Hex()),
		)
		return &PendingError{TxHash: pending}
	}
	v.logger.Info("deposit committed",
		slog.String("id_hash", key.Hex()),
		slog.String("amount", amount.Dec()),
	)
	return nil
}

// Withdraw debits key and pays amount out to the destination wallet. A payout
// that was broadcast but not confirmed still debits key and is reported as a
// *PendingError; retrying it would pay twice.
func (v *Vault) Withdraw(ctx context.Context, caller common.Address, key common.Hash, to common.Address, amount *uint256.Int) error {
	var (
		pushed  bool
		pending common.Hash
	)
	err := v.relayerTx(ctx, caller, func(tx ledger.Tx) error {
		if err := validAmount(amount); err != nil {
			return err
		}
		if to == (common.Address{}) {
			return ErrInvalidAddress
		}
		if err := debit(tx, key, amount); err != nil {
			return err
		}
		if err := updateSupply(tx, func(s *ledger.Supply) error { return addTotal(&s.Withdrawn, amount) }); err != nil {
			return err
		}
		ev := ledger.Event{Kind: ledger.EventWithdrawn, IDHash: key, Address: to, Amount: *amount, At: v.timestamp()}
		if err := v.token.Push(external(ctx), to, amount); err != nil {
			hash, ok := unconfirmedHash(err)
			if !ok {
				return fmt.Errorf("%w: %v", ErrTransferFailed, err)
			}
			pending, ev.TxHash = hash, hash
		}
		pushed = true
		return tx.Append(ev)
	})
	if err != nil {
		if pushed {
			v.logger.Error("withdrawal paid out but ledger commit failed",
				slog.String("id_hash", key.Hex()),
				slog.String("to", to.Hex()),
				slog.String("amount", amount.Dec()),
				slog.Any("error", err),
			)
		}
		return err
	}
	if pending != (common.Hash{}) {
		v.logger.Warn("withdrawal committed with unconfirmed payout",
			slog.String("id_hash", key.Hex()),
			slog.String("to", to.Hex()),
			slog.String("amount", amount.Dec()),
			slog.String("tx", pending.Hex()),
		)
		return &PendingError{TxHash: pending}
	}
	v.logger.Info("withdrawal committed",
		slog.String("id_hash", key.Hex()),
		slog.String("to", to.Hex()),
		slog.String("amount", amount.Dec()),
	)
	return nil
}

// Balance returns the spendable balance of key; unknown keys hold zero.
func (v *Vault) Balance(ctx context.Context, key common.Hash) (*uint256.Int, error) {
	var out uint256.Int
	err := v.store.View(ctx, func(r ledger.Reader) error {
		bal, err := r.Balance(key)
		out = bal
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// History lists the newest events touching key.
func (v *Vault) History(ctx context.Context, key common.Hash, limit int) ([]ledger.Event, error) {
	var out []ledger.Event
	err := v.store.View(ctx, func(r ledger.Reader) (err error) {
		out, err = r.History(key, limit)
		return err
	})
	return out, err
}

// Solvency compares the ledger's books with the token held in custody.
type Solvency struct {
	Deposited uint256.Int
	Withdrawn uint256.Int
	Pending   uint256.Int
	Balances  uint256.Int
	// Custodied is Deposited minus Withdrawn.
	Custodied uint256.Int
	OnChain   uint256.Int
	// Balanced holds when Balances plus Pending equals Custodied.
	Balanced bool
	// Covered holds when the custody account owns at least Custodied.
	Covered bool
}

// Solvency audits the vault's conservation invariant and custody coverage.
func (v *Vault) Solvency(ctx context.Context) (Solvency, error) {
	var s Solvency
	err := v.store.View(ctx, func(r ledger.Reader) error {
		sup, err := r.Supply()
		if err != nil {
			return err
		}
		total, err := r.TotalBalances()
		if err != nil {
			return err
		}
		s.Deposited, s.Withdrawn, s.Pending, s.Balances = sup.Deposited, sup.Withdrawn, sup.Pending, total
		s.Custodied = *sup.Custodied()
		return nil
	})
	if err != nil {
		return Solvency{}, err
	}

	onChain, err := v.token.BalanceOf(ctx, v.token.Custody())
	if err != nil {
		return Solvency{}, fmt.Errorf("read custody balance: %w", err)
	}
	s.OnChain = *onChain

	held := new(uint256.Int).Add(&s.Balances, &s.Pending)
	s.Balanced = held.Eq(&s.Custodied)
	s.Covered = !s.OnChain.Lt(&s.Custodied)
	if !s.Balanced {
		v.logger.Error("ledger conservation violated",
			slog.String("held", held.Dec()),
			slog.String("custodied", s.Custodied.Dec()),
		)
	}
	return s, nil
}

// IsVaultError reports whether err carries one of the vault sentinels.
func IsVaultError(err error) bool {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
