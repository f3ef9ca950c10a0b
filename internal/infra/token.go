package infra

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/payo-app/payo_vault/internal/config"
	"github.com/payo-app/payo_vault/internal/token"
)

var (
	// DevTokenAddress and DevCustodyAddress identify the in-memory test USDC.
	DevTokenAddress   = common.HexToAddress("0x0000000000000000000000000000000000005553")
	DevCustodyAddress = common.HexToAddress("0x000000000000000000000000000000000000c057")
)

// NewToken builds the custodied token named by cfg. The returned Memory is
// non-nil only for the in-memory backend, where it also serves the faucet.
func NewToken(ctx context.Context, cfg config.Config, logger *slog.Logger) (token.Token, *token.Memory, error) {
	switch cfg.TokenBackend {
	case config.TokenBackendERC20:
		erc20, err := token.DialERC20(ctx, cfg.EthRPCURL, common.HexToAddress(cfg.TokenAddress), cfg.CustodyPrivateKey,
			token.WithReceiptTimeout(cfg.ReceiptTimeout),
			token.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("token bound",
			slog.String("backend", cfg.TokenBackend),
			slog.String("token", erc20.Address().Hex()),
			slog.String("custody", erc20.Custody().Hex()),
		)
		return erc20, nil, nil
	case config.TokenBackendMemory:
		addr := DevTokenAddress
		if cfg.TokenAddress != "" {
			addr = common.HexToAddress(cfg.TokenAddress)
		}
		mem := token.NewMemory(addr, DevCustodyAddress)
		logger.Info("token bound", slog.String("backend", cfg.TokenBackend), slog.String("token", addr.Hex()))
		return mem, mem, nil
	default:
		return nil, nil, fmt.Errorf("unknown token backend %q", cfg.TokenBackend)
	}
}
