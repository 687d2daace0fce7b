package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"remoteauth/internal/callback"
	"remoteauth/internal/store"
	"remoteauth/pkg/oauth"
)

const (
	// DefaultCallbackPort is the default port for the local redirect listener.
	DefaultCallbackPort = 3000

	// DefaultRedirectTimeout bounds the wait for the authorization redirect.
	DefaultRedirectTimeout = 5 * time.Minute

	// DefaultClientName is sent during dynamic registration.
	DefaultClientName = "remoteauth"
)

// ErrClosed is returned by operations on a closed provider.
var ErrClosed = errors.New("auth provider closed")

// OAuthClientProvider is the capability set a tool-calling client needs to
// authenticate against a remote resource server.
type OAuthClientProvider interface {
	RedirectURL() string
	ClientMetadata() oauth.ClientMetadata
	ClientInformation(ctx context.Context) (*oauth.ClientInformation, error)
	SaveClientInformation(ctx context.Context, info *oauth.ClientInformation) error
	Tokens(ctx context.Context) (*oauth.TokenSet, error)
	SaveTokens(ctx context.Context, tokens *oauth.TokenSet) error
	RedirectToAuthorization(ctx context.Context, authorizationURL string) error
	CodeVerifier(ctx context.Context) (string, error)
	SaveCodeVerifier(ctx context.Context, verifier string) error
	InvalidateCredentials(ctx context.Context, scope Scope) error
}

var _ OAuthClientProvider = (*Provider)(nil)

// Provider authenticates against one resource server.
//
// At most one authorization flow runs at a time; concurrent callers of
// EnsureAuthenticated share its outcome. The in-memory client and verifier
// copies are a cache over the store and are dropped whenever a fresh flow
// starts, credentials are invalidated, or the store watcher sees an
// external change.
type Provider struct {
	serverURL string
	serverID  string
	store     store.Store
	client    *oauth.Client
	logger    *slog.Logger
	out       io.Writer

	callbackHost    string
	callbackPort    int
	callbackPath    string
	redirectTimeout time.Duration

	staticClient     *oauth.ClientInformation
	clientMetadata   oauth.ClientMetadata
	scopes           []string
	resource         string
	autoAuthenticate bool
	autoRefresh      bool
	openBrowser      BrowserOpener
	onStateChange    func(State)
	watchStore       bool
	httpClient       *http.Client

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	closed     bool
	state      State
	lastErr    error
	attempt    *attempt
	metadata   *oauth.Metadata
	clientInfo *oauth.ClientInformation
	verifier   string

	watcher *store.Watcher
}

// Option configures a Provider.
type Option func(*Provider)

// WithStore sets the credential store. Defaults to a FileStore under
// ~/.config/remoteauth/credentials.
func WithStore(s store.Store) Option {
	return func(p *Provider) { p.store = s }
}

// WithHTTPClient sets the HTTP client used for all authorization server calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) { p.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithOutput sets where the authorization URL is printed when no browser
// can be opened. Defaults to stderr.
func WithOutput(w io.Writer) Option {
	return func(p *Provider) {
		if w != nil {
			p.out = w
		}
	}
}

// WithCallback configures the redirect listener. Empty host and path keep
// their defaults; port 0 binds an ephemeral port, which only works with
// static clients since registration must name the redirect URI up front.
func WithCallback(host string, port int, path string) Option {
	return func(p *Provider) {
		if host != "" {
			p.callbackHost = host
		}
		p.callbackPort = port
		if path != "" {
			p.callbackPath = path
		}
	}
}

// WithRedirectTimeout overrides how long the flow waits for the redirect.
func WithRedirectTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.redirectTimeout = d
		}
	}
}

// WithStaticClient supplies a pre-registered client. It always wins over
// cached or dynamically registered identities.
func WithStaticClient(info *oauth.ClientInformation) Option {
	return func(p *Provider) {
		if info != nil && info.ClientID != "" {
			c := *info
			p.staticClient = &c
		}
	}
}

// WithClientMetadata sets the registration template. Redirect URIs are
// always filled in from the callback configuration.
func WithClientMetadata(md oauth.ClientMetadata) Option {
	return func(p *Provider) { p.clientMetadata = md }
}

// WithScopes sets the scopes requested during authorization.
func WithScopes(scopes ...string) Option {
	return func(p *Provider) { p.scopes = append([]string(nil), scopes...) }
}

// WithResource sets the RFC 8707 resource parameter.
func WithResource(resource string) Option {
	return func(p *Provider) { p.resource = resource }
}

// WithAutoAuthenticate controls whether Tokens runs the flow when no valid
// token exists. Enabled by default.
func WithAutoAuthenticate(enabled bool) Option {
	return func(p *Provider) { p.autoAuthenticate = enabled }
}

// WithAutoRefresh controls whether Tokens refreshes expired tokens before
// falling back to the full flow. Enabled by default.
func WithAutoRefresh(enabled bool) Option {
	return func(p *Provider) { p.autoRefresh = enabled }
}

// WithBrowserOpener replaces the browser launcher. nil disables launching;
// the URL is printed instead.
func WithBrowserOpener(open BrowserOpener) Option {
	return func(p *Provider) { p.openBrowser = open }
}

// WithStateChangeHook registers a hook called on every state transition.
// The hook runs synchronously on the flow goroutine and must not block.
func WithStateChangeHook(fn func(State)) Option {
	return func(p *Provider) { p.onStateChange = fn }
}

// WithStoreWatcher enables watching the store partition for changes made
// by other processes. Only file stores can be watched.
func WithStoreWatcher(enabled bool) Option {
	return func(p *Provider) { p.watchStore = enabled }
}

// NewProvider creates a provider for the resource server at serverURL.
func NewProvider(serverURL string, opts ...Option) (*Provider, error) {
	normalized := oauth.NormalizeServerURL(serverURL)
	parsed, err := url.Parse(normalized)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, oauth.NewError(oauth.KindConfiguration, "parse server URL",
			fmt.Errorf("invalid server URL %q", serverURL))
	}

	p := &Provider{
		serverURL:        normalized,
		serverID:         oauth.ServerIdentity(normalized),
		logger:           slog.Default(),
		out:              os.Stderr,
		callbackHost:     callback.DefaultHost,
		callbackPort:     DefaultCallbackPort,
		callbackPath:     callback.DefaultPath,
		redirectTimeout:  DefaultRedirectTimeout,
		clientMetadata:   oauth.ClientMetadata{ClientName: DefaultClientName},
		autoAuthenticate: true,
		autoRefresh:      true,
		openBrowser:      OpenBrowser,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.callbackPort < 0 || p.callbackPort > 65535 {
		return nil, oauth.NewError(oauth.KindConfiguration, "configure callback",
			fmt.Errorf("invalid callback port %d", p.callbackPort))
	}

	if p.store == nil {
		fs, err := store.NewFileStore(store.FileStoreConfig{Logger: p.logger})
		if err != nil {
			return nil, oauth.NewError(oauth.KindStorage, "open credential store", err)
		}
		p.store = fs
	}

	clientOpts := []oauth.ClientOption{oauth.WithLogger(p.logger)}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, oauth.WithHTTPClient(p.httpClient))
	}
	p.client = oauth.NewClient(clientOpts...)

	p.logger = p.logger.With("server_id", p.serverID)
	p.ctx, p.cancel = context.WithCancel(context.Background())

	if p.watchStore {
		if err := p.startWatcher(); err != nil {
			p.cancel()
			return nil, err
		}
	}

	return p, nil
}

func (p *Provider) startWatcher() error {
	fs, ok := p.store.(*store.FileStore)
	if !ok {
		return oauth.NewError(oauth.KindConfiguration, "watch store",
			errors.New("store watching requires a file store"))
	}

	p.watcher = store.NewWatcher(store.WatcherConfig{
		Dir:      fs.PartitionDir(p.serverID),
		OnChange: p.handleStoreChange,
	})
	if err := p.watcher.Start(); err != nil {
		return oauth.NewError(oauth.KindStorage, "watch store", err)
	}
	return nil
}

// handleStoreChange drops cached copies of records changed on disk.
func (p *Provider) handleStoreChange(kind store.RecordKind) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch kind {
	case store.RecordClient:
		p.clientInfo = nil
	case store.RecordVerifier:
		p.verifier = ""
	}
	p.logger.Debug("Credential record changed on disk", "record", kind.String())
}

// ServerURL returns the normalized resource server URL.
func (p *Provider) ServerURL() string {
	return p.serverURL
}

// ServerID returns the storage partition key of the resource server.
func (p *Provider) ServerID() string {
	return p.serverID
}

// State returns the current flow state.
func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// LastError returns the error that moved the provider to StateFailed.
func (p *Provider) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// InProgress reports whether an authorization flow is running.
func (p *Provider) InProgress() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.attempt != nil
}

func (p *Provider) setState(s State) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	if s != StateFailed {
		p.lastErr = nil
	}
	hook := p.onStateChange
	p.mu.Unlock()

	if prev == s {
		return
	}
	p.logger.Debug("OAuth flow state changed", "from", prev.String(), "to", s.String())
	if hook != nil {
		hook(s)
	}
}

func (p *Provider) fail(err error) error {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	p.setState(StateFailed)
	return err
}

// RedirectURL returns the redirect URI registered with the server.
func (p *Provider) RedirectURL() string {
	return fmt.Sprintf("http://%s%s",
		net.JoinHostPort(p.callbackHost, strconv.Itoa(p.callbackPort)), p.callbackPath)
}

// ClientMetadata returns the registration request for this provider.
func (p *Provider) ClientMetadata() oauth.ClientMetadata {
	md := p.clientMetadata
	md.RedirectURIs = []string{p.RedirectURL()}
	if len(md.GrantTypes) == 0 {
		md.GrantTypes = []string{"authorization_code", "refresh_token"}
	}
	if len(md.ResponseTypes) == 0 {
		md.ResponseTypes = []string{"code"}
	}
	if md.TokenEndpointAuthMethod == "" {
		md.TokenEndpointAuthMethod = "none"
	}
	if md.Scope == "" && len(p.scopes) > 0 {
		md.Scope = strings.Join(p.scopes, " ")
	}
	return md
}

// ClientInformation returns the static client, the cached client, or the
// stored client, in that order. It returns nil when none exists.
func (p *Provider) ClientInformation(ctx context.Context) (*oauth.ClientInformation, error) {
	if p.staticClient != nil {
		c := *p.staticClient
		return &c, nil
	}

	p.mu.RLock()
	cached := p.clientInfo
	p.mu.RUnlock()
	if cached != nil {
		c := *cached
		return &c, nil
	}

	info, err := p.store.ClientInformation(ctx, p.serverID)
	if err != nil || info == nil {
		return nil, err
	}

	p.mu.Lock()
	p.clientInfo = info
	p.mu.Unlock()

	c := *info
	return &c, nil
}

// SaveClientInformation persists a client identity and caches it.
func (p *Provider) SaveClientInformation(ctx context.Context, info *oauth.ClientInformation) error {
	if err := p.store.SaveClientInformation(ctx, p.serverID, info); err != nil {
		return err
	}
	c := *info
	p.mu.Lock()
	p.clientInfo = &c
	p.mu.Unlock()
	return nil
}

// CodeVerifier returns the verifier of the current or last attempt.
func (p *Provider) CodeVerifier(ctx context.Context) (string, error) {
	p.mu.RLock()
	cached := p.verifier
	p.mu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	v, err := p.store.CodeVerifier(ctx, p.serverID)
	if err != nil || v == "" {
		return "", err
	}

	p.mu.Lock()
	p.verifier = v
	p.mu.Unlock()
	return v, nil
}

// SaveCodeVerifier persists a verifier and caches it.
func (p *Provider) SaveCodeVerifier(ctx context.Context, verifier string) error {
	if err := p.store.SaveCodeVerifier(ctx, p.serverID, verifier); err != nil {
		return err
	}
	p.mu.Lock()
	p.verifier = verifier
	p.mu.Unlock()
	return nil
}

// SaveTokens persists a token set. ExpiresAt is derived from ExpiresIn when unset.
func (p *Provider) SaveTokens(ctx context.Context, tokens *oauth.TokenSet) error {
	if tokens == nil {
		return oauth.NewError(oauth.KindStorage, "save tokens", errors.New("nil token set"))
	}
	t := *tokens
	t.SetExpiresAtFromExpiresIn()
	return p.store.SaveTokens(ctx, p.serverID, &t)
}

// StoredTokens returns the persisted token set as-is, valid or not.
func (p *Provider) StoredTokens(ctx context.Context) (*oauth.TokenSet, error) {
	return p.store.Tokens(ctx, p.serverID)
}

// Tokens returns a usable token set.
//
// A valid stored token is returned directly. While a flow is running the
// result is (nil, nil) so callers never start a second one. Otherwise an
// expired token is refreshed when auto-refresh is on, and the full flow runs
// when auto-authenticate is on. With both disabled, (nil, nil) means
// authentication is required.
func (p *Provider) Tokens(ctx context.Context) (*oauth.TokenSet, error) {
	tokens, err := p.store.Tokens(ctx, p.serverID)
	if err != nil {
		return nil, err
	}
	if tokens.Valid() {
		return tokens, nil
	}

	if p.InProgress() {
		p.logger.Debug("Authorization flow in progress, no token yet")
		return nil, nil
	}

	if p.autoRefresh && tokens != nil && tokens.RefreshToken != "" {
		refreshed, err := p.Refresh(ctx, tokens.RefreshToken)
		if err == nil {
			return refreshed, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("Token refresh failed, falling back to authorization flow", "error", err)
	}

	if !p.autoAuthenticate {
		return nil, nil
	}

	if err := p.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	tokens, err = p.store.Tokens(ctx, p.serverID)
	if err != nil {
		return nil, err
	}
	if !tokens.Valid() {
		return nil, nil
	}
	return tokens, nil
}

// validStoredTokens returns the stored token set when it is usable.
// Access token presence, not record existence, is the signal.
func (p *Provider) validStoredTokens(ctx context.Context) (*oauth.TokenSet, error) {
	tokens, err := p.store.Tokens(ctx, p.serverID)
	if err != nil {
		return nil, err
	}
	if !tokens.Valid() {
		return nil, nil
	}
	return tokens, nil
}

// RedirectToAuthorization sends the user to the authorization URL. A browser
// that cannot be launched is not fatal: the URL is printed for manual use.
func (p *Provider) RedirectToAuthorization(ctx context.Context, authorizationURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.openBrowser != nil {
		err := p.openBrowser(authorizationURL)
		if err == nil {
			p.logger.Debug("Opened browser for authorization")
			return nil
		}
		p.logger.Warn("Failed to open browser, open the authorization URL manually", "error", err)
	}

	_, err := fmt.Fprintf(p.out, "Open the following URL in your browser to authenticate:\n\n  %s\n\n", authorizationURL)
	return err
}

// InvalidateCredentials removes the selected records from the store along
// with their cached copies. It is idempotent. A static client is never
// removed since it is configuration, not state.
func (p *Provider) InvalidateCredentials(ctx context.Context, scope Scope) error {
	if scope == 0 || scope&^ScopeAll != 0 {
		return oauth.NewError(oauth.KindConfiguration, "invalidate credentials",
			fmt.Errorf("invalid scope %d", scope))
	}

	var errs []error

	if scope&ScopeTokens != 0 {
		if err := p.store.DeleteTokens(ctx, p.serverID); err != nil {
			errs = append(errs, err)
		}
	}

	if scope&ScopeClient != 0 {
		if err := p.store.DeleteClientInformation(ctx, p.serverID); err != nil {
			errs = append(errs, err)
		}
		p.mu.Lock()
		p.clientInfo = nil
		p.mu.Unlock()
	}

	if scope&ScopeVerifier != 0 {
		if err := p.store.DeleteCodeVerifier(ctx, p.serverID); err != nil {
			errs = append(errs, err)
		}
		p.mu.Lock()
		p.verifier = ""
		p.mu.Unlock()
	}

	if scope == ScopeAll {
		p.mu.Lock()
		p.metadata = nil
		p.mu.Unlock()
	}

	p.logger.Info("Invalidated OAuth credentials", "scope", scope.String())
	return errors.Join(errs...)
}

// Close cancels any running flow, waits for its listener to be torn down,
// and stops the store watcher.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	if p.watcher != nil {
		return p.watcher.Stop()
	}
	return nil
}
