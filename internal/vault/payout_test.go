package vault

import (
	"context"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payo-app/payo_vault/internal/identity"
	"github.com/payo-app/payo_vault/internal/ledger"
	"github.com/payo-app/payo_vault/internal/token"
)

// stuckChain accepts every transaction and never mines any of them.
type stuckChain struct {
	mu   sync.Mutex
	sent []*types.Transaction
}

func (c *stuckChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(84532), nil }

func (c *stuckChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.sent)), nil
}

func (c *stuckChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(100_000_000), nil
}

func (c *stuckChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (c *stuckChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50_000, nil
}

func (c *stuckChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)
	return nil
}

func (c *stuckChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (c *stuckChain) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, ethereum.NotFound
}

func (c *stuckChain) broadcasts() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

func testStores() map[string]func(t *testing.T) ledger.Store {
	return map[string]func(t *testing.T) ledger.Store{
		"memory": func(*testing.T) ledger.Store { return ledger.NewInMemory() },
		"sqlite": func(t *testing.T) ledger.Store {
			s, err := ledger.OpenSQLite(filepath.Join(t.TempDir(), "vault.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func newStuckVault(t *testing.T, store ledger.Store) (*Vault, *stuckChain) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	chain := &stuckChain{}
	tok := token.NewERC20(chain, tokenAddr, key,
		token.WithPollInterval(time.Millisecond),
		token.WithReceiptTimeout(20*time.Millisecond),
	)
	v := New(store, tok, nil)
	require.NoError(t, v.Initialize(context.Background(), ownerAddr, relayerAddr, tokenAddr))
	return v, chain
}

func readSupply(t *testing.T, store ledger.Store) ledger.Supply {
	t.Helper()
	var sup ledger.Supply
	require.NoError(t, store.View(context.Background(), func(r ledger.Reader) (err error) {
		sup, err = r.Supply()
		return err
	}))
	return sup
}

func eventOfKind(t *testing.T, v *Vault, key common.Hash, kind ledger.EventKind) ledger.Event {
	t.Helper()
	hist, err := v.History(context.Background(), key, 0)
	require.NoError(t, err)
	for _, e := range hist {
		if e.Kind == kind {
			return e
		}
	}
	t.Fatalf("no %s event for %s", kind, key.Hex())
	return ledger.Event{}
}

func TestVault_UnconfirmedWithdrawalDebitsOnce(t *testing.T) {
	for name, open := range testStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			v, chain := newStuckVault(t, store)
			alice := identity.Hash("alice")
			require.NoError(t, ledger.SeedBalance(ctx, store, alice, usdc("60")))

			for attempt := 0; attempt < 3; attempt++ {
				err := v.Withdraw(ctx, relayerAddr, alice, payoutAddr, usdc("60"))
				if attempt == 0 {
					require.ErrorIs(t, err, ErrTransferPending)
					assert.NotErrorIs(t, err, ErrTransferFailed)
					continue
				}
				require.ErrorIs(t, err, ErrInsufficientBalance, "attempt %d", attempt)
			}

			sent := chain.broadcasts()
			require.Len(t, sent, 1)
			assert.True(t, balanceOf(t, v, alice).IsZero())
			sup := readSupply(t, store)
			assert.Equal(t, *usdc("60"), sup.Withdrawn)

			ev := eventOfKind(t, v, alice, ledger.EventWithdrawn)
			assert.Equal(t, sent[0].Hash(), ev.TxHash)
			assert.Equal(t, payoutAddr, ev.Address)

			ok, held, custodied, err := ledger.CheckConservation(ctx, store)
			require.NoError(t, err)
			assert.Truef(t, ok, "held %s != custodied %s", held.Dec(), custodied.Dec())
		})
	}
}

func TestVault_UnconfirmedDepositCreditsOnce(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewInMemory()
	v, chain := newStuckVault(t, store)
	alice := identity.Hash("alice")

	err := v.Deposit(ctx, relayerAddr, alice, usdc("25"))
	var pending *PendingError
	require.ErrorAs(t, err, &pending)
	require.Len(t, chain.broadcasts(), 1)
	assert.Equal(t, chain.broadcasts()[0].Hash(), pending.TxHash)
	assert.Equal(t, usdc("25"), balanceOf(t, v, alice))
	assert.Equal(t, *usdc("25"), readSupply(t, store).Deposited)

	ev := eventOfKind(t, v, alice, ledger.EventDeposited)
	assert.Equal(t, pending.TxHash, ev.TxHash)
}

func TestVault_CancelDuringPayoutKeepsDebit(t *testing.T) {
	for name, open := range testStores() {
		t.Run(name, func(t *testing.T) {
			f := newFixtureWithStore(t, open(t))
			alice := identity.Hash("alice")
			require.NoError(t, f.vault.Deposit(context.Background(), relayerAddr, alice, usdc("60")))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			f.tok.SetHook(func(context.Context, common.Address, common.Address, *uint256.Int) error {
				cancel()
				return nil
			})
			require.NoError(t, f.vault.Withdraw(ctx, relayerAddr, alice, payoutAddr, usdc("60")))
			f.tok.SetHook(nil)

			assert.True(t, f.balance(t, alice).IsZero())
			paid, err := f.tok.BalanceOf(context.Background(), payoutAddr)
			require.NoError(t, err)
			assert.Equal(t, usdc("60"), paid)
			held, err := f.tok.BalanceOf(context.Background(), custodyAddr)
			require.NoError(t, err)
			assert.True(t, held.IsZero())
			f.requireConserved(t)

			require.ErrorIs(t, f.vault.Withdraw(context.Background(), relayerAddr, alice, payoutAddr, usdc("60")), ErrInsufficientBalance)
		})
	}
}

func TestVault_CancelledBeforeTransitionChangesNothing(t *testing.T) {
	f := newFixture(t)
	alice := identity.Hash("alice")
	require.NoError(t, f.vault.Deposit(context.Background(), relayerAddr, alice, usdc("10")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, f.vault.Withdraw(ctx, relayerAddr, alice, payoutAddr, usdc("10")), context.Canceled)
	assert.Equal(t, usdc("10"), f.balance(t, alice))
	paid, err := f.tok.BalanceOf(context.Background(), payoutAddr)
	require.NoError(t, err)
	assert.True(t, paid.IsZero())
}

func TestVault_SupplyCountersRefuseToWrap(t *testing.T) {
	maxed := new(uint256.Int).SetAllOne()
	cases := []struct {
		name string
		max  func(s *ledger.Supply)
		run  func(ctx context.Context, f *fixture, key common.Hash) error
	}{
		{
			name: "deposited",
			max:  func(s *ledger.Supply) { s.Deposited = *maxed },
			run: func(ctx context.Context, f *fixture, key common.Hash) error {
				return f.vault.Deposit(ctx, relayerAddr, key, usdc("1"))
			},
		},
		{
			name: "pending",
			max:  func(s *ledger.Supply) { s.Pending = *maxed },
			run: func(ctx context.Context, f *fixture, key common.Hash) error {
				_, err := f.vault.Send(ctx, relayerAddr, key, identity.Hash("bob"), usdc("1"))
				return err
			},
		},
		{
			name: "withdrawn",
			max:  func(s *ledger.Supply) { s.Withdrawn = *maxed },
			run: func(ctx context.Context, f *fixture, key common.Hash) error {
				return f.vault.Withdraw(ctx, relayerAddr, key, payoutAddr, usdc("1"))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			alice := identity.Hash("alice")
			require.NoError(t, f.vault.Deposit(ctx, relayerAddr, alice, usdc("10")))
			require.NoError(t, f.store.Update(ctx, func(tx ledger.Tx) error {
				sup, err := tx.Supply()
				if err != nil {
					return err
				}
				tc.max(&sup)
				return tx.SetSupply(sup)
			}))
			before := readSupply(t, f.store)

			require.ErrorIs(t, tc.run(ctx, f, alice), ErrInvalidAmount)
			assert.Equal(t, usdc("10"), f.balance(t, alice))
			assert.Equal(t, before, readSupply(t, f.store))
			paid, err := f.tok.BalanceOf(ctx, payoutAddr)
			require.NoError(t, err)
			assert.True(t, paid.IsZero())
		})
	}
}

func balanceOf(t *testing.T, v *Vault, key common.Hash) *uint256.Int {
	t.Helper()
	bal, err := v.Balance(context.Background(), key)
	require.NoError(t, err)
	return bal
}
