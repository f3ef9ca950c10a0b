package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	custodyAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob         = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestMemory_PullRequiresAllowance(t *testing.T) {
	ctx := context.Background()
	tok := NewMemory(tokenAddr, custodyAddr)
	tok.Mint(alice, uint256.NewInt(100))

	err := tok.Pull(ctx, alice, uint256.NewInt(10))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	tok.Approve(alice, uint256.NewInt(60))
	require.NoError(t, tok.Pull(ctx, alice, uint256.NewInt(40)))
	assert.Equal(t, uint64(20), tok.Allowance(alice).Uint64())

	bal, err := tok.BalanceOf(ctx, custodyAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), bal.Uint64())

	tok.Approve(alice, uint256.NewInt(1_000))
	err = tok.Pull(ctx, alice, uint256.NewInt(61))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestMemory_PushMovesCustodyFunds(t *testing.T) {
	ctx := context.Background()
	tok := NewMemory(tokenAddr, custodyAddr)
	tok.Mint(custodyAddr, uint256.NewInt(50))

	require.NoError(t, tok.Push(ctx, bob, uint256.NewInt(30)))
	require.ErrorIs(t, tok.Push(ctx, bob, uint256.NewInt(30)), ErrInsufficientFunds)

	got, err := tok.BalanceOf(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), got.Uint64())
}

func TestMemory_HookAbortsTransfer(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("rpc down")
	tok := NewMemory(tokenAddr, custodyAddr, WithHook(func(context.Context, common.Address, common.Address, *uint256.Int) error {
		return boom
	}))
	tok.Mint(custodyAddr, uint256.NewInt(50))

	require.ErrorIs(t, tok.Push(ctx, bob, uint256.NewInt(1)), boom)
	bal, _ := tok.BalanceOf(ctx, custodyAddr)
	assert.Equal(t, uint64(50), bal.Uint64())

	tok.SetHook(nil)
	require.NoError(t, tok.Push(ctx, bob, uint256.NewInt(1)))
}

func TestMemory_FaucetCooldown(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	tok := NewMemory(tokenAddr, custodyAddr, WithClock(func() time.Time { return now }))

	drip, err := tok.Faucet(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(FaucetDrip), drip.Uint64())
	assert.Equal(t, FaucetCooldown, tok.CooldownRemaining(alice))

	now = now.Add(30 * time.Minute)
	_, err = tok.Faucet(ctx, alice)
	require.ErrorIs(t, err, ErrFaucetCooldown)
	assert.Equal(t, 30*time.Minute, tok.CooldownRemaining(alice))

	_, err = tok.Faucet(ctx, bob)
	require.NoError(t, err, "cooldown is per address")

	now = now.Add(30 * time.Minute)
	_, err = tok.Faucet(ctx, alice)
	require.NoError(t, err)

	bal, _ := tok.BalanceOf(ctx, alice)
	assert.Equal(t, uint64(2*FaucetDrip), bal.Uint64())
}
