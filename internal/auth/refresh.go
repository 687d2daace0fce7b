package auth

import (
	"context"

	"remoteauth/pkg/oauth"
)

// Refresh exchanges refreshToken for a new token set and persists it.
//
// Metadata and the client identity are resolved first if this process has
// not done so yet, using the same policy as the authorization flow. The new
// set keeps refreshToken when the server does not rotate it. Failures are
// returned, never retried; falling back to the full flow is up to the caller.
// Concurrent refreshes of the same token share one request.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*oauth.TokenSet, error) {
	ch := p.group.DoChan("refresh:"+refreshToken, func() (any, error) {
		return p.refresh(p.ctx, refreshToken)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		t := *res.Val.(*oauth.TokenSet)
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (*oauth.TokenSet, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	metadata, err := p.knownMetadata(ctx)
	if err != nil {
		return nil, err
	}

	client, err := p.resolveClient(ctx, metadata)
	if err != nil {
		return nil, err
	}

	tokens, err := p.client.RefreshToken(ctx, metadata, client, refreshToken)
	if err != nil {
		p.logger.Debug("OAuth token refresh failed", "error", err)
		return nil, err
	}

	if err := p.SaveTokens(ctx, tokens); err != nil {
		return nil, err
	}

	p.setState(StateAuthenticated)
	p.logger.Info("OAuth token refreshed", "rotated", tokens.RefreshToken != refreshToken, "tokens", tokens)
	return tokens, nil
}

// knownMetadata returns the metadata fetched earlier in this process, or
// discovers it now.
func (p *Provider) knownMetadata(ctx context.Context) (*oauth.Metadata, error) {
	p.mu.RLock()
	metadata := p.metadata
	p.mu.RUnlock()
	if metadata != nil {
		return metadata, nil
	}
	return p.discover(ctx)
}
