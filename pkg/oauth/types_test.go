package oauth

import (
	"slices"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestServerIdentity(t *testing.T) {
	a := ServerIdentity("https://mcp.example.com/mcp")

	if len(a) != 32 {
		t.Fatalf("ServerIdentity() length = %d, want 32 hex chars", len(a))
	}
	if b := ServerIdentity("https://mcp.example.com/mcp"); a != b {
		t.Errorf("ServerIdentity() not deterministic: %q != %q", a, b)
	}
	if b := ServerIdentity("https://mcp.example.com/mcp/"); a != b {
		t.Errorf("trailing slash changed identity: %q != %q", a, b)
	}
	if b := ServerIdentity("https://mcp.example.com/other"); a == b {
		t.Error("different paths share an identity")
	}
	if b := ServerIdentity("https://other.example.com/mcp"); a == b {
		t.Error("different hosts share an identity")
	}
}

func TestNormalizeServerURL(t *testing.T) {
	tests := map[string]string{
		"https://a.example.com/mcp":     "https://a.example.com/mcp",
		"https://a.example.com/mcp/":    "https://a.example.com/mcp",
		"  https://a.example.com//  ":   "https://a.example.com",
		"http://localhost:8080/sse/ ":   "http://localhost:8080/sse",
		"https://a.example.com/a/b?x=1": "https://a.example.com/a/b?x=1",
	}
	for in, want := range tests {
		if got := NormalizeServerURL(in); got != want {
			t.Errorf("NormalizeServerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTokenSet_Valid(t *testing.T) {
	tests := []struct {
		name   string
		tokens *TokenSet
		want   bool
	}{
		{name: "nil", tokens: nil, want: false},
		{name: "no access token", tokens: &TokenSet{RefreshToken: "r"}, want: false},
		{name: "no expiry", tokens: &TokenSet{AccessToken: "a"}, want: true},
		{name: "future expiry", tokens: &TokenSet{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}, want: true},
		{name: "past expiry", tokens: &TokenSet{AccessToken: "a", ExpiresAt: time.Now().Add(-time.Hour)}, want: false},
		{name: "inside margin", tokens: &TokenSet{AccessToken: "a", ExpiresAt: time.Now().Add(10 * time.Second)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tokens.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenSet_IsExpiredWithMargin(t *testing.T) {
	tokens := &TokenSet{AccessToken: "a", ExpiresAt: time.Now().Add(2 * time.Minute)}

	if tokens.IsExpiredWithMargin(time.Minute) {
		t.Error("IsExpiredWithMargin(1m) = true, want false")
	}
	if !tokens.IsExpiredWithMargin(3 * time.Minute) {
		t.Error("IsExpiredWithMargin(3m) = false, want true")
	}
}

func TestTokenSet_SetExpiresAtFromExpiresIn(t *testing.T) {
	fixed := time.Now().Add(2 * time.Hour)

	derived := &TokenSet{ExpiresIn: 3600}
	derived.SetExpiresAtFromExpiresIn()
	if d := time.Until(derived.ExpiresAt); d < 3590*time.Second || d > 3600*time.Second {
		t.Errorf("ExpiresAt %v not about an hour away", derived.ExpiresAt)
	}

	kept := &TokenSet{ExpiresIn: 3600, ExpiresAt: fixed}
	kept.SetExpiresAtFromExpiresIn()
	if !kept.ExpiresAt.Equal(fixed) {
		t.Errorf("existing ExpiresAt overwritten: %v", kept.ExpiresAt)
	}

	none := &TokenSet{}
	none.SetExpiresAtFromExpiresIn()
	if !none.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt set without expires_in: %v", none.ExpiresAt)
	}
}

func TestTokenSet_Scopes(t *testing.T) {
	if got := (&TokenSet{}).Scopes(); got != nil {
		t.Errorf("Scopes() = %v, want nil", got)
	}
	got := (&TokenSet{Scope: "openid  profile email"}).Scopes()
	if want := []string{"openid", "profile", "email"}; !slices.Equal(got, want) {
		t.Errorf("Scopes() = %v, want %v", got, want)
	}
}

func TestTokenSetFromOAuth2(t *testing.T) {
	if TokenSetFromOAuth2(nil) != nil {
		t.Error("TokenSetFromOAuth2(nil) != nil")
	}

	expiry := time.Now().Add(time.Hour)
	token := (&oauth2.Token{
		AccessToken:  "access",
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		Expiry:       expiry,
		ExpiresIn:    3600,
	}).WithExtra(map[string]any{"scope": "read write"})

	set := TokenSetFromOAuth2(token)
	if set.AccessToken != "access" || set.TokenType != "Bearer" || set.RefreshToken != "refresh" {
		t.Errorf("unexpected token fields: %+v", set)
	}
	if set.Scope != "read write" {
		t.Errorf("Scope = %q, want %q", set.Scope, "read write")
	}
	if !set.ExpiresAt.Equal(expiry) {
		t.Errorf("ExpiresAt = %v, want %v", set.ExpiresAt, expiry)
	}

	back := set.ToOAuth2Token()
	if back.AccessToken != "access" || back.RefreshToken != "refresh" || !back.Expiry.Equal(expiry) {
		t.Errorf("ToOAuth2Token() = %+v", back)
	}
}

func TestMetadata_SupportsPKCE(t *testing.T) {
	tests := []struct {
		name    string
		methods []string
		want    bool
	}{
		{name: "S256 listed", methods: []string{"plain", "S256"}, want: true},
		{name: "plain only", methods: []string{"plain"}, want: false},
		{name: "not advertised", methods: nil, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := &Metadata{CodeChallengeMethodsSupported: tt.methods}
			if got := md.SupportsPKCE(); got != tt.want {
				t.Errorf("SupportsPKCE() = %v, want %v", got, tt.want)
			}
		})
	}
}
