package cmd

import (
	"fmt"
	"time"

	"remoteauth/internal/auth"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newLoginCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <server-url>",
		Short: "Authenticate to a remote tool server",
		Long: `Authenticate to a remote tool server using OAuth.

A valid stored token makes this a no-op. Otherwise the authorization server is
discovered, a client is registered if none is configured or stored, and the
browser is opened on the authorization page. The command returns once the
redirect has been received and the code exchanged.

Examples:
  remoteauth login https://mcp.example.com/mcp
  remoteauth login https://mcp.example.com/mcp --no-browser
  remoteauth login https://mcp.example.com/mcp --client-id my-client --callback-port 8765`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, opts, args[0])
		},
	}
}

func runLogin(cmd *cobra.Command, opts *globalOptions, serverURL string) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))

	p, _, err := newProvider(opts.cfg, serverURL, cmd.ErrOrStderr(), auth.WithStateChangeHook(func(state auth.State) {
		switch state {
		case auth.StateDiscovering:
			s.Suffix = " Discovering authorization server..."
			s.Start()
		case auth.StateRegistering:
			s.Suffix = " Resolving client registration..."
		case auth.StateAwaitingRedirect:
			// The authorization URL may be printed next.
			s.Stop()
			fmt.Fprintln(cmd.ErrOrStderr(), "Waiting for authorization in the browser...")
		case auth.StateExchangingCode:
			s.Suffix = " Exchanging authorization code..."
			s.Start()
		default:
			s.Stop()
		}
	}))
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.EnsureAuthenticated(cmd.Context()); err != nil {
		s.Stop()
		return classifyFlowError(p.ServerURL(), err)
	}
	s.Stop()

	if p.State() == auth.StateIdle {
		fmt.Fprintf(cmd.OutOrStdout(), "%s Already authenticated to %s\n", text.FgGreen.Sprint("✓"), p.ServerURL())
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Successfully authenticated to %s\n", text.FgGreen.Sprint("✓"), p.ServerURL())
	return nil
}
