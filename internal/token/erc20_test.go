package token

import (
	"context"
	"math/big"
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
)

type fakeBackend struct {
	mu          sync.Mutex
	chainID     *big.Int
	baseFee     *big.Int
	tip         *big.Int
	gas         uint64
	status      uint64
	notFoundFor int
	balance     *big.Int
	sent        []*types.Transaction
	onSend      func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID: big.NewInt(84532),
		baseFee: big.NewInt(1_000_000_000),
		tip:     big.NewInt(100_000_000),
		gas:     50_000,
		status:  types.ReceiptStatusSuccessful,
		balance: big.NewInt(0),
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return f.tip, nil }

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return f.gas, nil }

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, tx)
	onSend := f.onSend
	f.mu.Unlock()
	if onSend != nil {
		onSend()
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFoundFor > 0 {
		f.notFoundFor--
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.status, TxHash: hash}, nil
}

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return parsedERC20.Methods["balanceOf"].Outputs.Pack(f.balance)
}

func newTestERC20(t *testing.T, backend *fakeBackend) *ERC20 {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewERC20(backend, tokenAddr, key, WithPollInterval(time.Millisecond), WithReceiptTimeout(time.Second))
}

func TestERC20_PushSignsTransfer(t *testing.T) {
	backend := newFakeBackend()
	backend.notFoundFor = 2
	tok := newTestERC20(t, backend)

	require.NoError(t, tok.Push(context.Background(), bob, uint256.NewInt(5_000_000)))
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	sender, err := types.Sender(types.LatestSignerForChainID(backend.chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, tok.Custody(), sender)
	assert.Equal(t, tokenAddr, *tx.To())
	assert.Equal(t, uint64(60_000), tx.Gas())
	assert.Equal(t, big.NewInt(2_100_000_000), tx.GasFeeCap())

	method := parsedERC20.Methods["transfer"]
	require.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, bob, args[0].(common.Address))
	assert.Equal(t, int64(5_000_000), args[1].(*big.Int).Int64())
}

func TestERC20_PullUsesTransferFrom(t *testing.T) {
	backend := newFakeBackend()
	tok := newTestERC20(t, backend)

	require.NoError(t, tok.Pull(context.Background(), alice, uint256.NewInt(7)))
	require.Len(t, backend.sent, 1)

	method := parsedERC20.Methods["transferFrom"]
	data := backend.sent[0].Data()
	require.Equal(t, method.ID, data[:4])
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, alice, args[0].(common.Address))
	assert.Equal(t, tok.Custody(), args[1].(common.Address))
	assert.Equal(t, int64(7), args[2].(*big.Int).Int64())
}

func TestERC20_RevertedReceipt(t *testing.T) {
	backend := newFakeBackend()
	backend.status = types.ReceiptStatusFailed
	tok := newTestERC20(t, backend)

	err := tok.Push(context.Background(), bob, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrReverted)
}

func TestERC20_ReceiptTimeout(t *testing.T) {
	backend := newFakeBackend()
	backend.notFoundFor = 1 << 30
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tok := NewERC20(backend, tokenAddr, key, WithPollInterval(time.Millisecond), WithReceiptTimeout(20*time.Millisecond))

	err = tok.Push(context.Background(), bob, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrUnconfirmed)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	var unconfirmed *UnconfirmedError
	require.ErrorAs(t, err, &unconfirmed)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, backend.sent[0].Hash(), unconfirmed.TxHash)
}

func TestERC20_CancelAfterBroadcastStillAwaitsReceipt(t *testing.T) {
	backend := newFakeBackend()
	backend.notFoundFor = 3
	tok := newTestERC20(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend.onSend = cancel

	require.NoError(t, tok.Push(ctx, bob, uint256.NewInt(1)))
	assert.Len(t, backend.sent, 1)
}

func TestERC20_CancelBeforeBroadcastSendsNothing(t *testing.T) {
	backend := newFakeBackend()
	tok := newTestERC20(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tok.Push(ctx, bob, uint256.NewInt(1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnconfirmed)
	assert.Empty(t, backend.sent)
}

func TestERC20_BalanceOf(t *testing.T) {
	backend := newFakeBackend()
	backend.balance = big.NewInt(123_456)
	tok := newTestERC20(t, backend)

	got, err := tok.BalanceOf(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(123_456), got.Uint64())
}
