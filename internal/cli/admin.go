package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/payo-app/payo_vault/internal/client"
)

func newTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		address string
		apiKey  string
		save    bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Exchange an API key for a bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := addressArg("address", address)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			tok, err := c.IssueToken(cmd.Context(), addr, apiKey)
			if err != nil {
				return apiError("issue token", err)
			}
			if save {
				prof, err := LoadProfile(opts.Profile)
				if err != nil {
					return WrapExitError(ExitCommandError, "load profile", err)
				}
				prof.Endpoint = firstNonEmpty(opts.Endpoint, prof.Endpoint, defaultEndpoint)
				prof.Token = tok.AccessToken
				if err := SaveProfile(opts.Profile, prof); err != nil {
					return WrapExitError(ExitCommandError, "save profile", err)
				}
			}
			return opts.printer(cmd).print(tok,
				field{"caller", tok.Caller},
				field{"access_token", tok.AccessToken},
				field{"expires_in", strconv.FormatInt(tok.ExpiresIn, 10)},
			)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "caller address")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for the address")
	cmd.Flags().BoolVar(&save, "save", false, "store the token in the profile")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("api-key")
	return cmd
}

func newInitCommand(opts *RootOptions) *cobra.Command {
	var relayer, token string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the vault; the caller becomes owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := addressArg("relayer", relayer)
			if err != nil {
				return err
			}
			t, err := addressArg("token", token)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.Initialize(cmd.Context(), r, t); err != nil {
				return apiError("initialize", err)
			}
			return printRoles(opts, cmd, c)
		},
	}
	cmd.Flags().StringVar(&relayer, "relayer", "", "relayer address")
	cmd.Flags().StringVar(&token, "token-address", "", "custodied token address")
	_ = cmd.MarkFlagRequired("relayer")
	_ = cmd.MarkFlagRequired("token-address")
	return cmd
}

func newSetRelayerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-relayer <address>",
		Short: "Rotate the relayer (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := addressArg("relayer", args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.SetRelayer(cmd.Context(), addr); err != nil {
				return apiError("set relayer", err)
			}
			return printRoles(opts, cmd, c)
		},
	}
}

func newTransferOwnershipCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer-ownership <address>",
		Short: "Hand the owner role to another address (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := addressArg("owner", args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.TransferOwnership(cmd.Context(), addr); err != nil {
				return apiError("transfer ownership", err)
			}
			return printRoles(opts, cmd, c)
		},
	}
}

func newRolesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "Show the owner and relayer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			return printRoles(opts, cmd, c)
		},
	}
}

func printRoles(opts *RootOptions, cmd *cobra.Command, c *client.Client) error {
	owner, err := c.Owner(cmd.Context())
	if err != nil {
		return apiError("read owner", err)
	}
	relayer, err := c.Relayer(cmd.Context())
	if err != nil {
		return apiError("read relayer", err)
	}
	out := struct {
		Owner   string `json:"owner"`
		Relayer string `json:"relayer"`
	}{owner.Hex(), relayer.Hex()}
	return opts.printer(cmd).print(out,
		field{"owner", out.Owner},
		field{"relayer", out.Relayer},
	)
}
