package oauth

import (
	"log/slog"
	"time"
)

// redacted replaces a secret in log output.
const redacted = "[REDACTED]"

// Redact masks a secret for display. Empty values stay empty so that a log
// line still tells whether the secret was present.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	return redacted
}

// LogValue implements slog.LogValuer so a TokenSet can be logged without
// leaking its tokens.
func (t *TokenSet) LogValue() slog.Value {
	if t == nil {
		return slog.StringValue("<nil>")
	}
	attrs := []slog.Attr{
		slog.String("access_token", Redact(t.AccessToken)),
		slog.String("refresh_token", Redact(t.RefreshToken)),
	}
	if t.TokenType != "" {
		attrs = append(attrs, slog.String("token_type", t.TokenType))
	}
	if t.Scope != "" {
		attrs = append(attrs, slog.String("scope", t.Scope))
	}
	if !t.ExpiresAt.IsZero() {
		attrs = append(attrs, slog.String("expires_at", t.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	return slog.GroupValue(attrs...)
}

// LogValue implements slog.LogValuer. The client secret is masked.
func (c *ClientInformation) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("client_id", c.ClientID),
		slog.String("client_secret", Redact(c.ClientSecret)),
		slog.String("token_endpoint_auth_method", c.TokenEndpointAuthMethod),
	)
}
