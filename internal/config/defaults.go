package config

import "time"

const (
	// DefaultCallbackHost is the default host for the redirect listener.
	DefaultCallbackHost = "localhost"

	// DefaultCallbackPort is the default port for the redirect listener.
	DefaultCallbackPort = 3000

	// DefaultCallbackPath is the default path for OAuth callbacks.
	DefaultCallbackPath = "/oauth/callback"

	// DefaultRedirectTimeout bounds the wait for the authorization redirect.
	DefaultRedirectTimeout = 5 * time.Minute

	// DefaultClientName is sent during dynamic client registration.
	DefaultClientName = "remoteauth"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	return Config{
		Callback: CallbackConfig{
			Host: DefaultCallbackHost,
			Port: DefaultCallbackPort,
			Path: DefaultCallbackPath,
		},
		RedirectTimeout: DefaultRedirectTimeout,
		ClientMetadata: ClientMetadataConfig{
			ClientName: DefaultClientName,
		},
		AutoAuthenticate: true,
		AutoRefresh:      true,
		OpenBrowser:      true,
	}
}
