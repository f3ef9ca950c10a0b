package token

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
)

const erc20ABI = `[
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable",
   "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

var parsedERC20 = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

const (
	defaultReceiptTimeout = 2 * time.Minute
	defaultPollInterval   = 2 * time.Second
	gasHeadroomPercent    = 20
)

// Backend is the slice of an Ethereum JSON-RPC client the token needs.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ERC20 moves a real ERC-20 with transactions signed by the custody key.
type ERC20 struct {
	backend        Backend
	address        common.Address
	key            *ecdsa.PrivateKey
	custody        common.Address
	receiptTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
}

// ERC20Option customizes an ERC20 token.
type ERC20Option func(*ERC20)

// WithReceiptTimeout bounds how long Pull and Push wait for a receipt.
func WithReceiptTimeout(d time.Duration) ERC20Option {
	return func(t *ERC20) {
		if d > 0 {
			t.receiptTimeout = d
		}
	}
}

// WithPollInterval sets the receipt polling period.
func WithPollInterval(d time.Duration) ERC20Option {
	return func(t *ERC20) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// WithLogger attaches a logger for submitted transactions.
func WithLogger(l *slog.Logger) ERC20Option {
	return func(t *ERC20) { t.logger = l }
}

// NewERC20 binds the token contract at address. key signs every transfer
// and its address is the custody account.
func NewERC20(backend Backend, address common.Address, key *ecdsa.PrivateKey, opts ...ERC20Option) *ERC20 {
	t := &ERC20{
		backend:        backend,
		address:        address,
		key:            key,
		custody:        crypto.PubkeyToAddress(key.PublicKey),
		receiptTimeout: defaultReceiptTimeout,
		pollInterval:   defaultPollInterval,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DialERC20 connects to rpcURL and binds the token with a hex-encoded
// custody key.
func DialERC20(ctx context.Context, rpcURL string, address common.Address, hexKey string, opts ...ERC20Option) (*ERC20, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse custody key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return NewERC20(client, address, key, opts...), nil
}

func (t *ERC20) Address() common.Address { return t.address }

func (t *ERC20) Custody() common.Address { return t.custody }

// Pull calls transferFrom(from, custody, amount).
func (t *ERC20) Pull(ctx context.Context, from common.Address, amount *uint256.Int) error {
	data, err := parsedERC20.Pack("transferFrom", from, t.custody, amount.ToBig())
	if err != nil {
		return fmt.Errorf("pack transferFrom: %w", err)
	}
	return t.transact(ctx, data)
}

// Push calls transfer(to, amount).
func (t *ERC20) Push(ctx context.Context, to common.Address, amount *uint256.Int) error {
	data, err := parsedERC20.Pack("transfer", to, amount.ToBig())
	if err != nil {
		return fmt.Errorf("pack transfer: %w", err)
	}
	return t.transact(ctx, data)
}

func (t *ERC20) BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	data, err := parsedERC20.Pack("balanceOf", addr)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := t.backend.CallContract(ctx, ethereum.CallMsg{To: &t.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}
	values, err := parsedERC20.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack balanceOf: unexpected %T", values[0])
	}
	v, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, fmt.Errorf("balanceOf overflows uint256")
	}
	return v, nil
}

func (t *ERC20) transact(ctx context.Context, data []byte) error {
	chainID, err := t.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	nonce, err := t.backend.PendingNonceAt(ctx, t.custody)
	if err != nil {
		return fmt.Errorf("pending nonce: %w", err)
	}
	tip, err := t.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("gas tip: %w", err)
	}
	head, err := t.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: t.custody, To: &t.address, Data: data})
	if err != nil {
		return fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * gasHeadroomPercent / 100

	tx, err := types.SignNewTx(t.key, types.LatestSignerForChainID(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &t.address,
		Value:     new(big.Int),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// Past this point the transaction may be in the mempool; the caller's
	// cancellation no longer decides its fate.
	detached := context.WithoutCancel(ctx)
	sendCtx, cancel := context.WithTimeout(detached, t.receiptTimeout)
	defer cancel()
	if err := t.backend.SendTransaction(sendCtx, tx); err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}
	t.logger.Info("token transaction submitted",
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("nonce", nonce),
	)

	receipt, err := t.waitReceipt(detached, tx.Hash())
	if err != nil {
		t.logger.Warn("token transaction unconfirmed",
			slog.String("tx", tx.Hash().Hex()),
			slog.Any("error", err),
		)
		return &UnconfirmedError{TxHash: tx.Hash(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: tx %s", ErrReverted, tx.Hash().Hex())
	}
	return nil
}

func (t *ERC20) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, t.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
