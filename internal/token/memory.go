package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// FaucetDrip is 100 test USDC.
	FaucetDrip = 100_000_000
	// FaucetCooldown is the minimum delay between two drips to one address.
	FaucetCooldown = time.Hour
)

// Hook runs before a transfer is applied. Returning an error aborts it.
type Hook func(ctx context.Context, from, to common.Address, amount *uint256.Int) error

// Memory is an in-process ERC-20 ledger. It is safe for concurrent use and
// never calls hooks while holding its lock, so a hook may call back into the
// token or into the vault.
type Memory struct {
	address common.Address
	custody common.Address
	now     func() time.Time

	mu         sync.Mutex
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]*uint256.Int
	lastDrip   map[common.Address]time.Time
	before     Hook
}

// MemoryOption customizes a Memory token.
type MemoryOption func(*Memory)

// WithClock replaces time.Now for faucet cooldowns.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithHook installs a hook that runs before every Pull and Push.
func WithHook(h Hook) MemoryOption {
	return func(m *Memory) { m.before = h }
}

// NewMemory creates a token at address whose vault funds sit at custody.
func NewMemory(address, custody common.Address, opts ...MemoryOption) *Memory {
	m := &Memory{
		address:    address,
		custody:    custody,
		now:        time.Now,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]*uint256.Int),
		lastDrip:   make(map[common.Address]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Address() common.Address { return m.address }

func (m *Memory) Custody() common.Address { return m.custody }

// SetHook replaces the transfer hook. Passing nil removes it.
func (m *Memory) SetHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.before = h
}

// Mint credits amount to addr out of thin air.
func (m *Memory) Mint(addr common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(addr, amount)
}

// Approve lets the custody account pull up to amount from owner.
func (m *Memory) Approve(owner common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[owner] = new(uint256.Int).Set(amount)
}

// IncreaseAllowance raises the custody allowance of owner by amount.
func (m *Memory) IncreaseAllowance(owner common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[owner] = new(uint256.Int).Add(m.get(m.allowances, owner), amount)
}

// Allowance returns what custody may still pull from owner.
func (m *Memory) Allowance(owner common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(m.allowances, owner)
}

func (m *Memory) Pull(ctx context.Context, from common.Address, amount *uint256.Int) error {
	if err := m.runHook(ctx, from, m.custody, amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	allowance := m.get(m.allowances, from)
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: %s approved, %s requested", ErrInsufficientAllowance, allowance.Dec(), amount.Dec())
	}
	if err := m.move(from, m.custody, amount); err != nil {
		return err
	}
	m.allowances[from] = allowance.Sub(allowance, amount)
	return nil
}

func (m *Memory) Push(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if err := m.runHook(ctx, m.custody, to, amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(m.custody, to, amount)
}

func (m *Memory) BalanceOf(_ context.Context, addr common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(m.balances, addr), nil
}

// Faucet drips FaucetDrip to addr once per FaucetCooldown.
func (m *Memory) Faucet(_ context.Context, addr common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if remaining := m.cooldownRemaining(addr); remaining > 0 {
		return nil, fmt.Errorf("%w: retry in %s", ErrFaucetCooldown, remaining.Round(time.Second))
	}
	drip := uint256.NewInt(FaucetDrip)
	m.credit(addr, drip)
	m.lastDrip[addr] = m.now()
	return drip, nil
}

// CooldownRemaining is zero when addr may use the faucet.
func (m *Memory) CooldownRemaining(addr common.Address) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldownRemaining(addr)
}

func (m *Memory) cooldownRemaining(addr common.Address) time.Duration {
	last, ok := m.lastDrip[addr]
	if !ok {
		return 0
	}
	remaining := FaucetCooldown - m.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (m *Memory) runHook(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	hook := m.before
	m.mu.Unlock()
	if hook == nil {
		return nil
	}
	return hook(ctx, from, to, amount)
}

func (m *Memory) move(from, to common.Address, amount *uint256.Int) error {
	bal := m.get(m.balances, from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, from.Hex(), bal.Dec(), amount.Dec())
	}
	m.balances[from] = bal.Sub(bal, amount)
	m.credit(to, amount)
	return nil
}

func (m *Memory) credit(addr common.Address, amount *uint256.Int) {
	bal := m.get(m.balances, addr)
	m.balances[addr] = bal.Add(bal, amount)
}

// get returns a copy so callers may mutate it.
func (m *Memory) get(set map[common.Address]*uint256.Int, addr common.Address) *uint256.Int {
	if v, ok := set[addr]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}
