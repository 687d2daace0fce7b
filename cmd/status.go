package cmd

import (
	"fmt"
	"io"

	"remoteauth/internal/auth"
	"remoteauth/internal/store"
	"remoteauth/pkg/oauth"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <server-url>",
		Short: "Show stored credentials for a remote tool server",
		Long: `Show what is stored for a remote tool server: whether an access token is
present and when it expires, whether a refresh token is available, and which
client identity is used. No network requests are made.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts, args[0])
		},
	}
}

// credentialStatus is what the status table shows.
type credentialStatus struct {
	ServerURL     string
	ServerID      string
	Partition     string
	Tokens        *oauth.TokenSet
	Client        *oauth.ClientInformation
	StaticClient  bool
	PendingVerify bool
}

func runStatus(cmd *cobra.Command, opts *globalOptions, serverURL string) error {
	p, fs, err := newProvider(opts.cfg, serverURL, cmd.ErrOrStderr(), auth.WithAutoAuthenticate(false))
	if err != nil {
		return err
	}
	defer p.Close()

	status, err := collectStatus(cmd, p, fs)
	if err != nil {
		return err
	}
	status.StaticClient = opts.cfg.HasStaticClient()

	renderStatus(cmd.OutOrStdout(), status)

	if !status.Tokens.HasAccessToken() {
		return &AuthRequiredError{ServerURL: status.ServerURL}
	}
	return nil
}

func collectStatus(cmd *cobra.Command, p *auth.Provider, fs *store.FileStore) (*credentialStatus, error) {
	ctx := cmd.Context()

	tokens, err := p.StoredTokens(ctx)
	if err != nil {
		return nil, err
	}
	client, err := p.ClientInformation(ctx)
	if err != nil {
		return nil, err
	}
	verifier, err := p.CodeVerifier(ctx)
	if err != nil {
		return nil, err
	}

	return &credentialStatus{
		ServerURL:     p.ServerURL(),
		ServerID:      p.ServerID(),
		Partition:     fs.PartitionDir(p.ServerID()),
		Tokens:        tokens,
		Client:        client,
		PendingVerify: verifier != "",
	}, nil
}

func renderStatus(w io.Writer, s *credentialStatus) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("FIELD"), text.FgHiCyan.Sprint("VALUE")})

	t.AppendRow(table.Row{"Server", s.ServerURL})
	t.AppendRow(table.Row{"Server ID", s.ServerID})
	t.AppendRow(table.Row{"Store", s.Partition})

	switch {
	case !s.Tokens.HasAccessToken():
		t.AppendRow(table.Row{"Status", text.FgYellow.Sprint("Not authenticated")})
	case s.Tokens.IsExpired():
		t.AppendRow(table.Row{"Status", text.FgYellow.Sprint("Token expired")})
	default:
		t.AppendRow(table.Row{"Status", text.FgGreen.Sprint("Authenticated")})
	}

	if s.Tokens.HasAccessToken() {
		t.AppendRow(table.Row{"Expires", formatExpiry(s.Tokens.ExpiresAt)})
		if s.Tokens.Scope != "" {
			t.AppendRow(table.Row{"Scope", s.Tokens.Scope})
		}
	}

	if s.Tokens != nil && s.Tokens.RefreshToken != "" {
		t.AppendRow(table.Row{"Refresh", text.FgGreen.Sprint("Available")})
	} else {
		t.AppendRow(table.Row{"Refresh", text.FgYellow.Sprint("Not available (re-auth required on expiry)")})
	}

	switch {
	case s.Client == nil:
		t.AppendRow(table.Row{"Client", text.FgHiBlack.Sprint("Not registered")})
	case s.StaticClient:
		t.AppendRow(table.Row{"Client", fmt.Sprintf("%s (configured)", s.Client.ClientID)})
	default:
		t.AppendRow(table.Row{"Client", fmt.Sprintf("%s (registered)", s.Client.ClientID)})
	}

	if s.PendingVerify {
		t.AppendRow(table.Row{"Flow", text.FgYellow.Sprint("Interrupted authorization (verifier on disk)")})
	}

	t.Render()
}
