package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/payo-app/payo_vault/internal/vault"
)

func newSendCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <from> <to> <amount>",
		Short: "Escrow an amount from one identity for another",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := amountArg(args[2])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			sent, err := c.Send(cmd.Context(), identityArg(args[0]), identityArg(args[1]), amt)
			if err != nil {
				return apiError("send", err)
			}
			return opts.printer(cmd).print(sent,
				field{"transfer_id", sent.TransferID},
				field{"claim_code", sent.ClaimCode},
			)
		},
	}
}

func newClaimCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <transfer> <recipient>",
		Short: "Settle a pending transfer into a recipient identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			tr, err := c.Claim(cmd.Context(), args[0], identityArg(args[1]))
			if err != nil {
				return apiError("claim", err)
			}
			return printTransfer(opts, cmd, tr)
		},
	}
}

func newRefundCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refund <transfer>",
		Short: "Return a pending transfer to its sender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			tr, err := c.Refund(cmd.Context(), args[0])
			if err != nil {
				return apiError("refund", err)
			}
			return printTransfer(opts, cmd, tr)
		},
	}
}

func newTransferCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <transfer>",
		Short: "Show a transfer by id or claim code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			tr, err := c.Transfer(cmd.Context(), args[0])
			if err != nil {
				return apiError("transfer", err)
			}
			return printTransfer(opts, cmd, tr)
		},
	}
}

func printTransfer(opts *RootOptions, cmd *cobra.Command, tr vault.TransferResponse) error {
	fields := []field{
		{"transfer_id", tr.TransferID},
		{"status", tr.Status},
	}
	if tr.Exists {
		fields = append(fields,
			field{"from_hash", tr.FromHash},
			field{"to_hash", tr.ToHash},
			field{"amount", formatUnits(tr.Amount)},
		)
	}
	if tr.SettledTo != "" {
		fields = append(fields, field{"settled_to", tr.SettledTo})
	}
	if tr.SettledAt != nil {
		fields = append(fields, field{"settled_at", tr.SettledAt.UTC().Format(time.RFC3339)})
	}
	fields = append(fields, field{"exists", strconv.FormatBool(tr.Exists)})
	return opts.printer(cmd).print(tr, fields...)
}
