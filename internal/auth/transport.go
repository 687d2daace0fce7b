package auth

import (
	"context"

	"github.com/mark3labs/mcp-go/client/transport"

	"remoteauth/pkg/oauth"
)

// TransportTokenStore is a thin binder that implements mcp-go's
// transport.TokenStore over a Provider.
//
// It has no storage of its own. GetToken goes through Provider.Tokens, so
// refresh and the authorization flow run according to the provider's
// settings; SaveToken persists whatever mcp-go writes back.
type TransportTokenStore struct {
	provider *Provider
}

// NewTransportTokenStore creates a token store bound to p.
func NewTransportTokenStore(p *Provider) *TransportTokenStore {
	return &TransportTokenStore{provider: p}
}

// GetToken returns the current token. Returns transport.ErrNoToken when none
// is available, which signals mcp-go to start its own authorization handling.
func (s *TransportTokenStore) GetToken(ctx context.Context) (*transport.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens, err := s.provider.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	if !tokens.HasAccessToken() {
		return nil, transport.ErrNoToken
	}

	return &transport.Token{
		AccessToken:  tokens.AccessToken,
		TokenType:    tokens.TokenType,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}, nil
}

// SaveToken persists a token mcp-go obtained or refreshed.
func (s *TransportTokenStore) SaveToken(ctx context.Context, token *transport.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if token == nil {
		return nil
	}

	return s.provider.SaveTokens(ctx, &oauth.TokenSet{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
	})
}

var _ transport.TokenStore = (*TransportTokenStore)(nil)

// TransportOAuthConfig returns the mcp-go OAuth configuration for p, for use
// with transport.WithHTTPOAuth. The client id is taken from the static or
// stored client; an empty id lets mcp-go register dynamically.
func TransportOAuthConfig(ctx context.Context, p *Provider) (*transport.OAuthConfig, error) {
	cfg := &transport.OAuthConfig{
		RedirectURI: p.RedirectURL(),
		Scopes:      append([]string(nil), p.scopes...),
		TokenStore:  NewTransportTokenStore(p),
		PKCEEnabled: true,
	}

	info, err := p.ClientInformation(ctx)
	if err != nil {
		return nil, err
	}
	if info != nil {
		cfg.ClientID = info.ClientID
		cfg.ClientSecret = info.ClientSecret
	}

	return cfg, nil
}
