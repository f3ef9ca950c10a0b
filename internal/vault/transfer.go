package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/payo-app/payo_vault/internal/ledger"
)

// TransferID derives the registry id of a send. The nonce is strictly
// increasing, so ids never repeat even for identical sends.
func TransferID(from, to common.Hash, amount *uint256.Int, nonce uint64) common.Hash {
	amt := amount.Bytes32()
	n := uint256.NewInt(nonce).Bytes32()
	return crypto.Keccak256Hash(from.Bytes(), to.Bytes(), amt[:], n[:])
}

// Send debits from and parks amount in the registry for to. The recipient
// does not need to exist yet.
func (v *Vault) Send(ctx context.Context, caller common.Address, from, to common.Hash, amount *uint256.Int) (common.Hash, error) {
	var id common.Hash
	err := v.relayerTx(ctx, caller, func(tx ledger.Tx) error {
		if err := validAmount(amount); err != nil {
			return err
		}
		if err := debit(tx, from, amount); err != nil {
			return err
		}

		for {
			nonce, err := tx.NextNonce()
			if err != nil {
				return fmt.Errorf("next nonce: %w", err)
			}
			id = TransferID(from, to, amount, nonce)
			existing, err := tx.Transfer(id)
			if err != nil {
				return fmt.Errorf("read transfer: %w", err)
			}
			if !existing.Exists() {
				break
			}
		}

		now := v.timestamp()
		if err := tx.PutTransfer(ledger.Transfer{
			ID:        id,
			FromHash:  from,
			ToHash:    to,
			Amount:    *amount,
			Status:    ledger.TransferPending,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := updateSupply(tx, func(s *ledger.Supply) error { return addTotal(&s.Pending, amount) }); err != nil {
			return err
		}
		return tx.Append(ledger.Event{Kind: ledger.EventSent, TransferID: id, FromHash: from, ToHash: to, Amount: *amount, At: now})
	})
	if err != nil {
		return common.Hash{}, err
	}
	v.logger.Info("transfer sent",
		slog.String("transfer_id", id.Hex()),
		slog.String("amount", amount.Dec()),
	)
	return id, nil
}

// Claim settles a pending transfer into recipient, which may differ from the
// hash named at send time.
func (v *Vault) Claim(ctx context.Context, caller common.Address, id, recipient common.Hash) error {
	var amount uint256.Int
	err := v.relayerTx(ctx, caller, func(tx ledger.Tx) error {
		tr, err := pendingTransfer(tx, id)
		if err != nil {
			return err
		}
		if recipient == (common.Hash{}) {
			return ErrInvalidAddress
		}
		amount = tr.Amount

		tr.Status = ledger.TransferClaimed
		tr.SettledTo = recipient
		tr.SettledAt = v.timestamp()
		return settle(tx, tr, ledger.Event{Kind: ledger.EventClaimed, IDHash: recipient})
	})
	if err != nil {
		return err
	}
	v.logger.Info("transfer claimed",
		slog.String("transfer_id", id.Hex()),
		slog.String("amount", amount.Dec()),
	)
	return nil
}

// Refund returns a pending transfer to its sender.
func (v *Vault) Refund(ctx context.Context, caller common.Address, id common.Hash) error {
	err := v.relayerTx(ctx, caller, func(tx ledger.Tx) error {
		tr, err := pendingTransfer(tx, id)
		if err != nil {
			return err
		}
		tr.Status = ledger.TransferRefunded
		tr.SettledTo = tr.FromHash
		tr.SettledAt = v.timestamp()
		return settle(tx, tr, ledger.Event{Kind: ledger.EventRefunded, IDHash: tr.FromHash})
	})
	if err != nil {
		return err
	}
	v.logger.Info("transfer refunded", slog.String("transfer_id", id.Hex()))
	return nil
}

// Transfer returns the registry record for id. Unknown ids yield a zero
// record whose Exists reports false.
func (v *Vault) Transfer(ctx context.Context, id common.Hash) (ledger.Transfer, error) {
	var tr ledger.Transfer
	err := v.store.View(ctx, func(r ledger.Reader) (err error) {
		tr, err = r.Transfer(id)
		return err
	})
	return tr, err
}

func pendingTransfer(tx ledger.Tx, id common.Hash) (ledger.Transfer, error) {
	tr, err := tx.Transfer(id)
	if err != nil {
		return ledger.Transfer{}, fmt.Errorf("read transfer: %w", err)
	}
	switch tr.Status {
	case ledger.TransferPending:
		return tr, nil
	case ledger.TransferClaimed:
		return ledger.Transfer{}, ErrTransferAlreadyClaimed
	case ledger.TransferRefunded:
		return ledger.Transfer{}, ErrTransferRefunded
	default:
		return ledger.Transfer{}, ErrTransferNotFound
	}
}

// settle moves a transfer out of Pending and credits tr.SettledTo.
func settle(tx ledger.Tx, tr ledger.Transfer, ev ledger.Event) error {
	if err := tx.PutTransfer(tr); err != nil {
		return err
	}
	if err := credit(tx, tr.SettledTo, &tr.Amount); err != nil {
		return err
	}
	if err := updateSupply(tx, func(s *ledger.Supply) error {
		s.Pending.Sub(&s.Pending, &tr.Amount)
		return nil
	}); err != nil {
		return err
	}
	ev.TransferID = tr.ID
	ev.FromHash = tr.FromHash
	ev.ToHash = tr.ToHash
	ev.Amount = tr.Amount
	ev.At = tr.SettledAt
	return tx.Append(ev)
}
