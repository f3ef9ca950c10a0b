package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/payo-app/payo_vault/internal/amount"
	"github.com/payo-app/payo_vault/internal/vault"
)

func newHistoryCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <identity>",
		Short: "List the newest events touching an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			hist, err := c.History(cmd.Context(), identityArg(args[0]), limit)
			if err != nil {
				return apiError("history", err)
			}
			if opts.Format == "json" {
				return opts.printer(cmd).print(hist)
			}
			w := cmd.OutOrStdout()
			for _, e := range hist.Events {
				fmt.Fprintf(w, "%d %s %s %s%s\n", e.Seq, e.At.UTC().Format(time.RFC3339), e.Kind, formatUnits(e.Amount), eventRef(e))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events (server default when 0)")
	return cmd
}

func eventRef(e vault.EventResponse) string {
	switch {
	case e.TransferID != "":
		return " transfer=" + e.TransferID
	case e.Address != "" && e.TxHash != "":
		return " address=" + e.Address + " pending_tx=" + e.TxHash
	case e.Address != "":
		return " address=" + e.Address
	default:
		return ""
	}
}

func newSolvencyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "solvency",
		Short: "Compare the ledger books with the token held in custody",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			s, err := c.Solvency(cmd.Context())
			if err != nil {
				return apiError("solvency", err)
			}
			if err := opts.printer(cmd).print(s,
				field{"deposited", formatUnits(s.Deposited)},
				field{"withdrawn", formatUnits(s.Withdrawn)},
				field{"pending", formatUnits(s.Pending)},
				field{"balances", formatUnits(s.Balances)},
				field{"custodied", formatUnits(s.Custodied)},
				field{"on_chain", formatUnits(s.OnChain)},
				field{"balanced", strconv.FormatBool(s.Balanced)},
				field{"covered", strconv.FormatBool(s.Covered)},
			); err != nil {
				return err
			}
			if !s.Balanced || !s.Covered {
				return NewExitError(ExitFailure, "vault is not solvent")
			}
			return nil
		},
	}
}

func formatUnits(units string) string {
	v, err := amount.ParseUnits(units)
	if err != nil {
		return units
	}
	return amount.Format(v)
}
