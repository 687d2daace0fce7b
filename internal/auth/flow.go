package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"remoteauth/internal/callback"
	"remoteauth/pkg/oauth"
)

// authenticateKey is the single-flight key for the authorization flow.
const authenticateKey = "authenticate"

// attempt is the run-scoped state of one authorization flow.
type attempt struct {
	id      string
	started time.Time
}

// EnsureAuthenticated makes sure a valid token is stored, running the
// authorization flow if needed. Concurrent callers share one flow; each
// caller stops waiting when its own ctx ends while the flow continues.
func (p *Provider) EnsureAuthenticated(ctx context.Context) error {
	tokens, err := p.validStoredTokens(ctx)
	if err != nil {
		return err
	}
	if tokens != nil {
		p.logger.Debug("Valid token already stored, skipping authorization flow")
		return nil
	}

	ch := p.group.DoChan(authenticateKey, func() (any, error) {
		return nil, p.runFlow()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runFlow executes one authorization flow under the provider's lifetime
// context.
func (p *Provider) runFlow() error {
	at, err := p.beginAttempt()
	if err != nil {
		return err
	}
	defer p.endAttempt()

	ctx := p.ctx
	logger := p.logger.With("attempt_id", at.id)

	// Another process, or a flow that finished just before this one was
	// scheduled, may already have stored a token.
	tokens, err := p.validStoredTokens(ctx)
	if err != nil {
		return p.fail(err)
	}
	if tokens != nil {
		logger.Debug("Valid token found at flow start")
		p.setState(StateAuthenticated)
		return nil
	}

	logger.Info("Starting OAuth authorization flow", "server_url", p.serverURL)

	p.setState(StateDiscovering)
	metadata, err := p.discover(ctx)
	if err != nil {
		logger.Warn("OAuth discovery failed", "error", err)
		return p.fail(err)
	}

	p.setState(StateRegistering)
	client, err := p.resolveClient(ctx, metadata)
	if err != nil {
		logger.Warn("OAuth client resolution failed", "error", err)
		return p.fail(err)
	}
	logger.Debug("OAuth client resolved", "client", client)

	tokens, err = p.authorize(ctx, metadata, client)
	if err != nil {
		logger.Warn("OAuth authorization failed", "error", err)
		return p.fail(err)
	}

	if err := p.SaveTokens(ctx, tokens); err != nil {
		return p.fail(err)
	}
	if err := p.store.DeleteCodeVerifier(ctx, p.serverID); err != nil {
		logger.Warn("Failed to delete PKCE verifier after exchange", "error", err)
	}
	p.mu.Lock()
	p.verifier = ""
	p.mu.Unlock()

	p.setState(StateAuthenticated)
	logger.Info("OAuth authorization completed",
		"duration", time.Since(at.started).Round(time.Millisecond).String(),
		"tokens", tokens)
	return nil
}

// beginAttempt registers the attempt and drops the advisory caches so the
// flow starts from what is in the store.
func (p *Provider) beginAttempt() (*attempt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	at := &attempt{id: uuid.NewString(), started: time.Now()}
	p.attempt = at
	p.clientInfo = nil
	p.verifier = ""
	p.wg.Add(1)
	return at, nil
}

func (p *Provider) endAttempt() {
	p.mu.Lock()
	p.attempt = nil
	p.mu.Unlock()
	p.wg.Done()
}

// discover fetches fresh metadata and remembers it for the refresh path.
func (p *Provider) discover(ctx context.Context) (*oauth.Metadata, error) {
	metadata, err := p.client.DiscoverMetadata(ctx, p.serverURL)
	if err != nil {
		return nil, err
	}
	if !metadata.SupportsPKCE() {
		p.logger.Warn("Authorization server does not advertise S256 PKCE, continuing anyway",
			"code_challenge_methods_supported", metadata.CodeChallengeMethodsSupported)
	}

	p.mu.Lock()
	p.metadata = metadata
	p.mu.Unlock()
	return metadata, nil
}

// resolveClient returns the static client, else the cached or stored one,
// else registers a new client and persists it before returning.
func (p *Provider) resolveClient(ctx context.Context, metadata *oauth.Metadata) (*oauth.ClientInformation, error) {
	info, err := p.ClientInformation(ctx)
	if err != nil {
		return nil, err
	}
	if info != nil {
		return info, nil
	}

	md := p.ClientMetadataFor(metadata)
	info, err = p.client.RegisterClient(ctx, metadata, &md)
	if err != nil {
		return nil, err
	}
	if err := p.SaveClientInformation(ctx, info); err != nil {
		return nil, err
	}
	return info, nil
}

// ClientMetadataFor returns the registration request, asking for a
// confidential client when the server only accepts client authentication.
func (p *Provider) ClientMetadataFor(metadata *oauth.Metadata) oauth.ClientMetadata {
	md := p.ClientMetadata()
	if p.clientMetadata.TokenEndpointAuthMethod != "" || metadata == nil {
		return md
	}
	methods := metadata.TokenEndpointAuthMethodsSupported
	if len(methods) > 0 && !slices.Contains(methods, "none") && slices.Contains(methods, "client_secret_post") {
		md.TokenEndpointAuthMethod = "client_secret_post"
	}
	return md
}

// authorize runs the redirect and exchange stages. The listener lives only
// while the flow is in StateAwaitingRedirect.
func (p *Provider) authorize(ctx context.Context, metadata *oauth.Metadata, client *oauth.ClientInformation) (*oauth.TokenSet, error) {
	p.setState(StateAwaitingRedirect)

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return nil, oauth.NewError(oauth.KindConfiguration, "generate PKCE", err)
	}
	if err := p.SaveCodeVerifier(ctx, pkce.CodeVerifier); err != nil {
		return nil, err
	}

	result, redirectURI, err := p.awaitRedirect(ctx, metadata, client, pkce)
	if err != nil {
		return nil, err
	}

	p.setState(StateExchangingCode)

	return p.client.ExchangeCode(ctx, oauth.ExchangeRequest{
		Metadata:     metadata,
		Client:       client,
		RedirectURI:  redirectURI,
		Code:         result.Code,
		CodeVerifier: pkce.CodeVerifier,
		Resource:     p.resource,
	})
}

// awaitRedirect starts the listener, sends the user to the authorization
// endpoint and waits for the redirect. The listener is stopped on return.
func (p *Provider) awaitRedirect(ctx context.Context, metadata *oauth.Metadata, client *oauth.ClientInformation, pkce *oauth.PKCEChallenge) (*callback.Result, string, error) {
	srv := callback.NewServer(callback.Config{
		Host:        p.callbackHost,
		Port:        p.callbackPort,
		Path:        p.callbackPath,
		Application: p.clientMetadata.ClientName,
		Logger:      p.logger,
	})

	redirectURI, err := srv.Start(ctx)
	if err != nil {
		return nil, "", err
	}
	defer srv.Stop()

	authURL, err := p.client.BuildAuthorizationURL(oauth.AuthorizationRequest{
		Metadata:    metadata,
		Client:      client,
		RedirectURI: redirectURI,
		PKCE:        pkce,
		Scopes:      p.scopes,
		Resource:    p.resource,
	})
	if err != nil {
		return nil, "", oauth.NewError(oauth.KindDiscovery, "build authorization URL", err)
	}

	if err := p.RedirectToAuthorization(ctx, authURL); err != nil {
		p.logger.Warn("Could not present authorization URL", "error", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.redirectTimeout)
	defer cancel()

	result, err := srv.Wait(waitCtx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, "", fmt.Errorf("authorization flow cancelled: %w", ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return nil, "", oauth.NewError(oauth.KindTimeout, "wait for redirect",
			fmt.Errorf("no authorization redirect within %s", p.redirectTimeout))
	default:
		return nil, "", oauth.NewError(oauth.KindRedirect, "callback listener", err)
	}

	if result.IsError() {
		return nil, "", &oauth.Error{
			Kind:        oauth.KindRedirect,
			Op:          "authorization redirect",
			Code:        result.Error,
			Description: result.ErrorDescription,
		}
	}

	return result, redirectURI, nil
}
