package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTokenCmd(opts *globalOptions) *cobra.Command {
	var forceRefresh bool

	cmd := &cobra.Command{
		Use:   "token <server-url>",
		Short: "Print a valid access token",
		Long: `Print a valid access token for a remote tool server to stdout.

An expired token is refreshed and, when autoAuthenticate is enabled in the
config, a missing token starts the authorization flow. With --refresh the
stored refresh token is exchanged even if the access token is still valid.

Exit codes:
  0  token printed
  2  authentication required
  3  refresh or authorization failed

Examples:
  remoteauth token https://mcp.example.com/mcp
  curl -H "Authorization: Bearer $(remoteauth token https://mcp.example.com/mcp)" ...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, opts, args[0], forceRefresh)
		},
	}

	cmd.Flags().BoolVar(&forceRefresh, "refresh", false, "Force a refresh grant")
	return cmd
}

func runToken(cmd *cobra.Command, opts *globalOptions, serverURL string, forceRefresh bool) error {
	ctx := cmd.Context()

	p, _, err := newProvider(opts.cfg, serverURL, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer p.Close()

	if forceRefresh {
		stored, err := p.StoredTokens(ctx)
		if err != nil {
			return err
		}
		if stored == nil || stored.RefreshToken == "" {
			return &AuthRequiredError{ServerURL: p.ServerURL()}
		}
		tokens, err := p.Refresh(ctx, stored.RefreshToken)
		if err != nil {
			return classifyFlowError(p.ServerURL(), err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tokens.AccessToken)
		return nil
	}

	tokens, err := p.Tokens(ctx)
	if err != nil {
		return classifyFlowError(p.ServerURL(), err)
	}
	if !tokens.HasAccessToken() {
		return &AuthRequiredError{ServerURL: p.ServerURL()}
	}

	fmt.Fprintln(cmd.OutOrStdout(), tokens.AccessToken)
	return nil
}
