package config

import "time"

// Config is the top-level configuration structure for remoteauth.
type Config struct {
	// StorageDir is the credential store root (default: ~/.config/remoteauth/credentials).
	StorageDir string `yaml:"storageDir,omitempty"`

	Callback        CallbackConfig       `yaml:"callback,omitempty"`
	RedirectTimeout time.Duration        `yaml:"redirectTimeout,omitempty"` // e.g. "5m"
	Client          ClientConfig         `yaml:"client,omitempty"`
	ClientMetadata  ClientMetadataConfig `yaml:"clientMetadata,omitempty"`

	Scopes   []string `yaml:"scopes,omitempty"`
	Resource string   `yaml:"resource,omitempty"` // RFC 8707 resource indicator

	AutoAuthenticate bool `yaml:"autoAuthenticate"`
	AutoRefresh      bool `yaml:"autoRefresh"`
	WatchStore       bool `yaml:"watchStore"`
	OpenBrowser      bool `yaml:"openBrowser"` // false prints the URL instead
}

// CallbackConfig defines the local redirect listener.
type CallbackConfig struct {
	Host string `yaml:"host,omitempty"` // default: localhost
	Port int    `yaml:"port,omitempty"` // default: 3000, 0 for an ephemeral port
	Path string `yaml:"path,omitempty"` // default: /oauth/callback
}

// ClientConfig holds a pre-registered client. An empty ClientID means the
// client is registered dynamically.
type ClientConfig struct {
	ClientID     string `yaml:"clientId,omitempty"`
	ClientSecret string `yaml:"clientSecret,omitempty"`
}

// ClientMetadataConfig is sent during dynamic client registration.
type ClientMetadataConfig struct {
	ClientName      string `yaml:"clientName,omitempty"`
	ClientURI       string `yaml:"clientUri,omitempty"`
	SoftwareID      string `yaml:"softwareId,omitempty"`
	SoftwareVersion string `yaml:"softwareVersion,omitempty"`
}

// HasStaticClient reports whether a pre-registered client is configured.
func (c Config) HasStaticClient() bool {
	return c.Client.ClientID != ""
}
