package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// maxResponseBytes bounds metadata, registration and error bodies.
	maxResponseBytes = 1 << 20
)

// Client handles OAuth 2.1 protocol operations against an authorization
// server: metadata discovery, dynamic client registration, authorization URL
// construction, code exchange and token refresh.
//
// Client keeps no state between calls; every call hits the network.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// MetadataURLs returns the discovery URLs tried for serverURL, in order.
// The well-known path under the server URL comes first. A server URL with a
// path then falls back to the RFC 8414 path-insertion form and the origin
// root. OpenID Connect discovery at the origin is always last.
func MetadataURLs(serverURL string) ([]string, error) {
	parsed, err := url.Parse(NormalizeServerURL(serverURL))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: scheme and host are required", serverURL)
	}

	origin := parsed.Scheme + "://" + parsed.Host
	urls := []string{origin + WellKnownMetadataPath}
	if parsed.Path != "" && parsed.Path != "/" {
		urls = []string{
			origin + parsed.Path + WellKnownMetadataPath,
			origin + WellKnownMetadataPath + parsed.Path,
			origin + WellKnownMetadataPath,
		}
	}
	return append(urls, origin+WellKnownOpenIDConfigurationPath), nil
}

// DiscoverMetadata fetches the authorization server metadata for serverURL.
// Any transport, status or parse failure is a discovery error; there is no
// retry.
func (c *Client) DiscoverMetadata(ctx context.Context, serverURL string) (*Metadata, error) {
	urls, err := MetadataURLs(serverURL)
	if err != nil {
		return nil, NewError(KindDiscovery, "discover metadata", err)
	}

	var lastErr error
	for _, metadataURL := range urls {
		metadata, err := c.fetchMetadata(ctx, metadataURL)
		if err == nil {
			c.logger.Debug("Discovered OAuth metadata",
				"server_url", serverURL,
				"authorization_endpoint", metadata.AuthorizationEndpoint,
				"token_endpoint", metadata.TokenEndpoint,
				"has_registration_endpoint", metadata.RegistrationEndpoint != "")
			return metadata, nil
		}
		c.logger.Debug("OAuth metadata fetch failed",
			"metadata_url", metadataURL,
			"error", err)
		lastErr = err
	}

	return nil, NewError(KindDiscovery, "discover metadata for "+serverURL, lastErr)
}

// fetchMetadata fetches metadata from a specific URL.
func (c *Client) fetchMetadata(ctx context.Context, metadataURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	var metadata Metadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return nil, errors.New("metadata missing required endpoints")
	}

	return &metadata, nil
}

// RegisterClient performs RFC 7591 dynamic client registration.
// A missing registration endpoint is a configuration error: the server does
// not support registration and a static client must be supplied.
func (c *Client) RegisterClient(ctx context.Context, metadata *Metadata, clientMetadata *ClientMetadata) (*ClientInformation, error) {
	if metadata == nil || metadata.RegistrationEndpoint == "" {
		return nil, NewError(KindConfiguration, "register client",
			errors.New("authorization server has no registration_endpoint; configure a static client"))
	}

	body, err := json.Marshal(clientMetadata)
	if err != nil {
		return nil, NewError(KindRegistration, "encode registration request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, metadata.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(KindRegistration, "create registration request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewError(KindRegistration, "send registration request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewError(KindRegistration, "read registration response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		regErr := NewError(KindRegistration, "register client",
			fmt.Errorf("registration failed with status %d", resp.StatusCode))
		var oauthErr struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(respBody, &oauthErr) == nil {
			regErr.Code = oauthErr.Error
			regErr.Description = oauthErr.ErrorDescription
		}
		return nil, regErr
	}

	var info ClientInformation
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, NewError(KindRegistration, "parse registration response", err)
	}
	if info.ClientID == "" {
		return nil, NewError(KindRegistration, "register client", errors.New("registration response missing client_id"))
	}

	c.logger.Info("Registered OAuth client",
		"registration_endpoint", metadata.RegistrationEndpoint,
		"client_id", info.ClientID)

	return &info, nil
}

// AuthorizationRequest describes one authorization redirect.
type AuthorizationRequest struct {
	Metadata    *Metadata
	Client      *ClientInformation
	RedirectURI string
	PKCE        *PKCEChallenge
	Scopes      []string

	// Resource is the RFC 8707 resource indicator (optional).
	Resource string

	// State is optional; it is omitted from the URL when empty.
	State string
}

// BuildAuthorizationURL constructs the authorization URL the browser is sent to.
func (c *Client) BuildAuthorizationURL(r AuthorizationRequest) (string, error) {
	if r.Metadata == nil || r.Client == nil || r.PKCE == nil {
		return "", errors.New("authorization request requires metadata, client and PKCE")
	}
	if _, err := url.Parse(r.Metadata.AuthorizationEndpoint); err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	cfg := c.oauth2Config(r.Metadata, r.Client, r.RedirectURI, r.Scopes)
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", r.PKCE.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", r.PKCE.CodeChallengeMethod),
	}
	if r.Resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", r.Resource))
	}

	return cfg.AuthCodeURL(r.State, opts...), nil
}

// ExchangeRequest describes an authorization-code grant.
type ExchangeRequest struct {
	Metadata     *Metadata
	Client       *ClientInformation
	RedirectURI  string
	Code         string
	CodeVerifier string
	Resource     string
}

// ExchangeCode exchanges an authorization code for tokens. The request is a
// form POST carrying grant_type, code, redirect_uri, client_id, code_verifier
// and client_secret when the client has one.
func (c *Client) ExchangeCode(ctx context.Context, r ExchangeRequest) (*TokenSet, error) {
	cfg := c.oauth2Config(r.Metadata, r.Client, r.RedirectURI, nil)

	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(r.CodeVerifier)}
	if r.Resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", r.Resource))
	}

	token, err := cfg.Exchange(c.httpContext(ctx), r.Code, opts...)
	if err != nil {
		return nil, tokenError("exchange authorization code", err)
	}

	return TokenSetFromOAuth2(token), nil
}

// RefreshToken obtains a new token set using a refresh token. Servers are not
// required to rotate refresh tokens, so the returned set keeps refreshToken
// when the response omits one.
func (c *Client) RefreshToken(ctx context.Context, metadata *Metadata, client *ClientInformation, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, NewError(KindExchange, "refresh token", errors.New("no refresh token"))
	}

	cfg := c.oauth2Config(metadata, client, "", nil)
	source := cfg.TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken})

	token, err := source.Token()
	if err != nil {
		return nil, tokenError("refresh token", err)
	}

	set := TokenSetFromOAuth2(token)
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}
	return set, nil
}

// oauth2Config maps the discovered endpoints and client onto an oauth2.Config.
// Credentials always travel in the form body.
func (c *Client) oauth2Config(metadata *Metadata, client *ClientInformation, redirectURI string, scopes []string) *oauth2.Config {
	cfg := &oauth2.Config{
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if metadata != nil {
		cfg.Endpoint.AuthURL = metadata.AuthorizationEndpoint
		cfg.Endpoint.TokenURL = metadata.TokenEndpoint
	}
	if client != nil {
		cfg.ClientID = client.ClientID
		cfg.ClientSecret = client.ClientSecret
	}
	return cfg
}

// httpContext makes x/oauth2 use our HTTP client.
func (c *Client) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// tokenError classifies a token endpoint failure as an exchange error,
// lifting the OAuth error code when the server sent one.
func tokenError(op string, err error) error {
	e := NewError(KindExchange, op, err)

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		e.Code = retrieveErr.ErrorCode
		e.Description = retrieveErr.ErrorDescription
		if e.Code == "" && retrieveErr.Response != nil {
			e.Code = strings.ToLower(http.StatusText(retrieveErr.Response.StatusCode))
		}
	}
	return e
}
