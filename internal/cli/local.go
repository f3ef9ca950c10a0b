package cli

import (
	"github.com/spf13/cobra"

	"github.com/payo-app/payo_vault/internal/amount"
	"github.com/payo-app/payo_vault/internal/identity"
)

func newHashCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <identifier>",
		Short: "Print the identity key for an identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := struct {
				Normalized string `json:"normalized"`
				IDHash     string `json:"id_hash"`
			}{identity.Normalize(args[0]), identity.Hash(args[0]).Hex()}
			return opts.printer(cmd).print(out,
				field{"normalized", out.Normalized},
				field{"id_hash", out.IDHash},
			)
		},
	}
}

func newAmountCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amount",
		Short: "Convert between USDC and base units",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "parse <decimal>",
		Short: "Convert a USDC amount to base units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := amountArg(args[0])
			if err != nil {
				return err
			}
			return printAmount(opts, cmd, v.Dec(), amount.Format(v))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "format <units>",
		Short: "Convert base units to a USDC amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := amount.ParseUnits(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "bad units", err)
			}
			return printAmount(opts, cmd, v.Dec(), amount.Format(v))
		},
	})
	return cmd
}

func printAmount(opts *RootOptions, cmd *cobra.Command, units, formatted string) error {
	out := struct {
		Units     string `json:"units"`
		Formatted string `json:"formatted"`
	}{units, formatted}
	return opts.printer(cmd).print(out,
		field{"units", units},
		field{"formatted", formatted},
	)
}
