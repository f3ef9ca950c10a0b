package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SeedBalance is a test helper that credits key as if amount had been
// deposited, keeping the supply counters consistent.
func SeedBalance(ctx context.Context, s Store, key common.Hash, amount *uint256.Int) error {
	return s.Update(ctx, func(tx Tx) error {
		bal, err := tx.Balance(key)
		if err != nil {
			return err
		}
		sup, err := tx.Supply()
		if err != nil {
			return err
		}
		bal.Add(&bal, amount)
		sup.Deposited.Add(&sup.Deposited, amount)
		if err := tx.SetBalance(key, &bal); err != nil {
			return err
		}
		return tx.SetSupply(sup)
	})
}

// CheckConservation reports whether the sum of balances plus pending
// transfers equals net deposits. It returns both sides for diagnostics.
func CheckConservation(ctx context.Context, s Store) (ok bool, held, custodied uint256.Int, err error) {
	err = s.View(ctx, func(r Reader) error {
		sup, err := r.Supply()
		if err != nil {
			return err
		}
		total, err := r.TotalBalances()
		if err != nil {
			return err
		}
		held.Add(&total, &sup.Pending)
		custodied = *sup.Custodied()
		return nil
	})
	return err == nil && held.Eq(&custodied), held, custodied, err
}
