package auth

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remoteauth/internal/store"
	"remoteauth/pkg/oauth"
)

// fakeAS is an authorization server with request counters.
type fakeAS struct {
	server *httptest.Server

	discoveryCalls    atomic.Int32
	registrationCalls atomic.Int32
	tokenCalls        atomic.Int32
	browserCalls      atomic.Int32

	// withoutRegistration omits registration_endpoint from metadata.
	withoutRegistration bool
	// discoveryStatus overrides the discovery response status.
	discoveryStatus int
	// registrationStatus overrides the registration response status.
	registrationStatus int
	// refreshStatus overrides the refresh grant response status.
	refreshStatus int
	// refreshRotates makes refresh responses carry a new refresh token.
	refreshRotates bool
	// registeredClientID is returned by registration.
	registeredClientID string
	// redirectDelay delays the simulated browser redirect.
	redirectDelay time.Duration

	mu            sync.Mutex
	lastAuthQuery url.Values
	tokenForms    []url.Values
	registrations []oauth.ClientMetadata
}

// newFakeAS starts the server. Behaviour knobs are set through opts so they
// are fixed before any request is served.
func newFakeAS(t *testing.T, opts ...func(*fakeAS)) *fakeAS {
	t.Helper()

	as := &fakeAS{registeredClientID: "dynamic-client"}
	for _, opt := range opts {
		opt(as)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", as.handleDiscovery)
	mux.HandleFunc("/register", as.handleRegister)
	mux.HandleFunc("/token", as.handleToken)

	as.server = httptest.NewServer(mux)
	t.Cleanup(as.server.Close)
	return as
}

func (as *fakeAS) URL() string {
	return as.server.URL
}

func (as *fakeAS) metadata() map[string]any {
	md := map[string]any{
		"issuer":                           as.server.URL,
		"authorization_endpoint":           as.server.URL + "/authorize",
		"token_endpoint":                   as.server.URL + "/token",
		"code_challenge_methods_supported": []string{"S256"},
	}
	if !as.withoutRegistration {
		md["registration_endpoint"] = as.server.URL + "/register"
	}
	return md
}

func (as *fakeAS) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	as.discoveryCalls.Add(1)
	if as.discoveryStatus != 0 {
		w.WriteHeader(as.discoveryStatus)
		return
	}
	writeJSON(w, http.StatusOK, as.metadata())
}

func (as *fakeAS) handleRegister(w http.ResponseWriter, r *http.Request) {
	as.registrationCalls.Add(1)

	var md oauth.ClientMetadata
	if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_client_metadata"})
		return
	}
	as.mu.Lock()
	as.registrations = append(as.registrations, md)
	as.mu.Unlock()

	if as.registrationStatus != 0 {
		writeJSON(w, as.registrationStatus, map[string]string{
			"error":             "invalid_redirect_uri",
			"error_description": "redirect not allowed",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":     as.registeredClientID,
		"redirect_uris": md.RedirectURIs,
		"grant_types":   md.GrantTypes,
		"client_name":   md.ClientName,
	})
}

func (as *fakeAS) handleToken(w http.ResponseWriter, r *http.Request) {
	as.tokenCalls.Add(1)

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	form := r.PostForm
	as.mu.Lock()
	as.tokenForms = append(as.tokenForms, form)
	challenge := as.lastAuthQuery.Get("code_challenge")
	as.mu.Unlock()

	switch form.Get("grant_type") {
	case "authorization_code":
		if form.Get("code") != "abc123" || !oauth.VerifyPKCE(form.Get("code_verifier"), challenge) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "refresh-1",
			"scope":         "read",
		})

	case "refresh_token":
		if as.refreshStatus != 0 {
			writeJSON(w, as.refreshStatus, map[string]string{"error": "invalid_grant"})
			return
		}
		resp := map[string]any{
			"access_token": "access-refreshed",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if as.refreshRotates {
			resp["refresh_token"] = "refresh-rotated"
		}
		writeJSON(w, http.StatusOK, resp)

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (as *fakeAS) networkCalls() int32 {
	return as.discoveryCalls.Load() + as.registrationCalls.Load() + as.tokenCalls.Load()
}

func (as *fakeAS) authQuery() url.Values {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.lastAuthQuery
}

func (as *fakeAS) registered() []oauth.ClientMetadata {
	as.mu.Lock()
	defer as.mu.Unlock()
	return append([]oauth.ClientMetadata(nil), as.registrations...)
}

func (as *fakeAS) lastTokenForm() url.Values {
	as.mu.Lock()
	defer as.mu.Unlock()
	if len(as.tokenForms) == 0 {
		return nil
	}
	return as.tokenForms[len(as.tokenForms)-1]
}

// browser returns an opener that behaves like a user granting (or denying)
// consent: it records the authorization request and hits the redirect URI
// with params.
func (as *fakeAS) browser(params url.Values) BrowserOpener {
	return func(authURL string) error {
		as.browserCalls.Add(1)

		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		as.mu.Lock()
		as.lastAuthQuery = q
		as.mu.Unlock()

		redirect := q.Get("redirect_uri") + "?" + params.Encode()
		delay := as.redirectDelay
		go func() {
			time.Sleep(delay)
			resp, err := http.Get(redirect)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

// approve is the opener for a user granting consent.
func (as *fakeAS) approve() BrowserOpener {
	return as.browser(url.Values{"code": {"abc123"}})
}

// silentBrowser records the request but never redirects.
func (as *fakeAS) silentBrowser() BrowserOpener {
	return func(authURL string) error {
		as.browserCalls.Add(1)
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		as.mu.Lock()
		as.lastAuthQuery = u.Query()
		as.mu.Unlock()
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// freePort returns a port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

var staticClient = &oauth.ClientInformation{ClientID: "static-client"}

// newTestProvider builds a provider wired to as with a free callback port.
// Extra options are applied last.
func newTestProvider(t *testing.T, as *fakeAS, s store.Store, opts ...Option) *Provider {
	t.Helper()
	if s == nil {
		s = store.NewMemoryStore()
	}

	base := []Option{
		WithStore(s),
		WithHTTPClient(as.server.Client()),
		WithLogger(quietLogger()),
		WithCallback("127.0.0.1", freePort(t), ""),
		WithBrowserOpener(as.approve()),
		WithRedirectTimeout(5 * time.Second),
		WithOutput(io.Discard),
	}

	p, err := NewProvider(as.URL(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// stateRecorder collects state transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) hook(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}
