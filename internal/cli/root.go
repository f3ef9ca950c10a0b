// Package cli implements vaultctl, the operator command line for the vault API.
package cli

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/payo-app/payo_vault/internal/client"
)

const defaultEndpoint = "http://localhost:8080"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Profile  string
	Endpoint string
	Token    string
	Format   string // "json" | "text"
	Timeout  time.Duration

	// HTTPClient overrides the transport, for tests.
	HTTPClient *http.Client
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for vaultctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Operate a Payo vault",
		Long:          "vaultctl drives the Payo vault relayer API: identity hashing, deposits, transfers, claims and audits.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Profile, "profile", defaultProfilePath(), "profile file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.Endpoint, "endpoint", "", "API endpoint (overrides profile)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "bearer token (overrides profile)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(newHashCommand(opts))
	cmd.AddCommand(newAmountCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newInitCommand(opts))
	cmd.AddCommand(newSetRelayerCommand(opts))
	cmd.AddCommand(newTransferOwnershipCommand(opts))
	cmd.AddCommand(newRolesCommand(opts))
	cmd.AddCommand(newDepositCommand(opts))
	cmd.AddCommand(newWithdrawCommand(opts))
	cmd.AddCommand(newBalanceCommand(opts))
	cmd.AddCommand(newSendCommand(opts))
	cmd.AddCommand(newClaimCommand(opts))
	cmd.AddCommand(newRefundCommand(opts))
	cmd.AddCommand(newTransferCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newSolvencyCommand(opts))

	return cmd
}

// client builds an API client from flags, falling back to the profile.
func (o *RootOptions) client() (*client.Client, error) {
	prof, err := LoadProfile(o.Profile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load profile", err)
	}
	endpoint := firstNonEmpty(o.Endpoint, prof.Endpoint, defaultEndpoint)
	token := firstNonEmpty(o.Token, prof.Token)

	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.Timeout}
	}
	return client.New(endpoint, client.WithHTTPClient(httpClient), client.WithToken(token)), nil
}

func (o *RootOptions) printer(cmd *cobra.Command) printer {
	return printer{format: o.Format, w: cmd.OutOrStdout()}
}

func defaultProfilePath() string {
	if p := os.Getenv("VAULTCTL_PROFILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "vaultctl.yaml"
	}
	return filepath.Join(home, ".payo", "vaultctl.yaml")
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
