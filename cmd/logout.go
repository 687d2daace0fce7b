package cmd

import (
	"fmt"

	"remoteauth/internal/auth"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newLogoutCmd(opts *globalOptions) *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "logout <server-url>",
		Short: "Remove stored credentials for a remote tool server",
		Long: `Remove stored credentials for a remote tool server.

--scope selects what is removed:
  tokens    access and refresh tokens (default)
  client    the dynamically registered client
  verifier  the PKCE verifier of an interrupted flow
  all       everything, forcing rediscovery and reregistration

Scopes can be combined with commas. Removing something that is not stored is
not an error.

Examples:
  remoteauth logout https://mcp.example.com/mcp
  remoteauth logout https://mcp.example.com/mcp --scope all`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd, opts, args[0], scope)
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "tokens", "Credentials to remove: tokens, client, verifier or all")
	return cmd
}

func runLogout(cmd *cobra.Command, opts *globalOptions, serverURL, scopeFlag string) error {
	scope, err := auth.ParseScope(scopeFlag)
	if err != nil {
		return err
	}

	p, _, err := newProvider(opts.cfg, serverURL, cmd.ErrOrStderr(), auth.WithAutoAuthenticate(false))
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.InvalidateCredentials(cmd.Context(), scope); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s credentials for %s\n", text.FgGreen.Sprint("✓"), scope, p.ServerURL())
	return nil
}
