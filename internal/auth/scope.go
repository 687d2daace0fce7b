package auth

import (
	"fmt"
	"strings"
)

// Scope selects which credentials InvalidateCredentials clears.
type Scope uint8

const (
	ScopeTokens Scope = 1 << iota
	ScopeClient
	ScopeVerifier

	// ScopeAll clears every record and the remembered server metadata.
	ScopeAll = ScopeTokens | ScopeClient | ScopeVerifier
)

// ParseScope parses "tokens", "client", "verifier" or "all".
// A comma-separated list combines scopes.
func ParseScope(s string) (Scope, error) {
	var scope Scope
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "tokens", "token":
			scope |= ScopeTokens
		case "client":
			scope |= ScopeClient
		case "verifier":
			scope |= ScopeVerifier
		case "all":
			scope |= ScopeAll
		default:
			return 0, fmt.Errorf("unknown credential scope %q (expected tokens, client, verifier or all)", part)
		}
	}
	return scope, nil
}

// String renders the scope in ParseScope syntax.
func (s Scope) String() string {
	if s == ScopeAll {
		return "all"
	}
	var parts []string
	if s&ScopeTokens != 0 {
		parts = append(parts, "tokens")
	}
	if s&ScopeClient != 0 {
		parts = append(parts, "client")
	}
	if s&ScopeVerifier != 0 {
		parts = append(parts, "verifier")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}
