package cmd

import (
	"fmt"
	"io"
	"time"

	"remoteauth/internal/auth"
	"remoteauth/internal/config"
	"remoteauth/internal/store"
	"remoteauth/pkg/logging"
	"remoteauth/pkg/oauth"

	"github.com/jedib0t/go-pretty/v6/text"
)

// newProvider builds a provider for serverURL from the resolved
// configuration. Extra options are applied last.
func newProvider(cfg config.Config, serverURL string, out io.Writer, extra ...auth.Option) (*auth.Provider, *store.FileStore, error) {
	fs, err := store.NewFileStore(store.FileStoreConfig{
		Root:   cfg.StorageDir,
		Logger: logging.For("Store"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	opts := []auth.Option{
		auth.WithStore(fs),
		auth.WithLogger(logging.For("Auth")),
		auth.WithOutput(out),
		auth.WithCallback(cfg.Callback.Host, cfg.Callback.Port, cfg.Callback.Path),
		auth.WithRedirectTimeout(cfg.RedirectTimeout),
		auth.WithClientMetadata(oauth.ClientMetadata{
			ClientName:      cfg.ClientMetadata.ClientName,
			ClientURI:       cfg.ClientMetadata.ClientURI,
			SoftwareID:      cfg.ClientMetadata.SoftwareID,
			SoftwareVersion: cfg.ClientMetadata.SoftwareVersion,
		}),
		auth.WithScopes(cfg.Scopes...),
		auth.WithResource(cfg.Resource),
		auth.WithAutoAuthenticate(cfg.AutoAuthenticate),
		auth.WithAutoRefresh(cfg.AutoRefresh),
		auth.WithStoreWatcher(cfg.WatchStore),
	}
	if cfg.HasStaticClient() {
		opts = append(opts, auth.WithStaticClient(&oauth.ClientInformation{
			ClientID:     cfg.Client.ClientID,
			ClientSecret: cfg.Client.ClientSecret,
		}))
	}
	if !cfg.OpenBrowser {
		opts = append(opts, auth.WithBrowserOpener(nil))
	}

	p, err := auth.NewProvider(serverURL, append(opts, extra...)...)
	if err != nil {
		return nil, nil, err
	}
	return p, fs, nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return "< 1 minute"
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// formatExpiry formats a token expiry as "in X" or "expired X ago".
func formatExpiry(expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return "never"
	}
	remaining := time.Until(expiresAt)
	if remaining > 0 {
		return "in " + formatDuration(remaining)
	}
	return text.FgYellow.Sprintf("expired %s ago", formatDuration(-remaining))
}
