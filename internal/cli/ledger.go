package cli

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/payo-app/payo_vault/internal/vault"
)

func newDepositCommand(opts *RootOptions) *cobra.Command {
	var payer string
	cmd := &cobra.Command{
		Use:   "deposit <identity> <amount>",
		Short: "Credit an identity, pulling the token from the caller or --payer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := identityArg(args[0])
			amt, err := amountArg(args[1])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			var bal vault.BalanceResponse
			if payer != "" {
				var from common.Address
				if from, err = addressArg("payer", payer); err != nil {
					return err
				}
				bal, err = c.DepositFrom(cmd.Context(), from, key, amt)
			} else {
				bal, err = c.Deposit(cmd.Context(), key, amt)
			}
			if err != nil {
				return apiError("deposit", err)
			}
			return printBalance(opts, cmd, bal)
		},
	}
	cmd.Flags().StringVar(&payer, "payer", "", "wallet the token is pulled from (defaults to the caller)")
	return cmd
}

func newWithdrawCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <identity> <address> <amount>",
		Short: "Debit an identity and pay the token out to an address",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := identityArg(args[0])
			to, err := addressArg("destination", args[1])
			if err != nil {
				return err
			}
			amt, err := amountArg(args[2])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			bal, err := c.Withdraw(cmd.Context(), key, to, amt)
			if err != nil {
				return apiError("withdraw", err)
			}
			return printBalance(opts, cmd, bal)
		},
	}
}

func newBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <identity>",
		Short: "Show an identity's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			bal, err := c.Balance(cmd.Context(), identityArg(args[0]))
			if err != nil {
				return apiError("balance", err)
			}
			return printBalance(opts, cmd, bal)
		},
	}
}

func printBalance(opts *RootOptions, cmd *cobra.Command, bal vault.BalanceResponse) error {
	fields := []field{
		{"id_hash", bal.IDHash},
		{"balance", bal.Formatted},
		{"units", bal.Balance},
	}
	if bal.PendingTx != "" {
		fields = append(fields, field{"pending_tx", bal.PendingTx})
	}
	return opts.printer(cmd).print(bal, fields...)
}
