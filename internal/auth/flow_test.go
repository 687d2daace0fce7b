package auth

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteauth/internal/store"
	"remoteauth/pkg/oauth"
)

func TestEnsureAuthenticated_StaticClient(t *testing.T) {
	as := newFakeAS(t)
	rec := &stateRecorder{}
	s := store.NewMemoryStore()
	p := newTestProvider(t, as, s,
		WithStaticClient(staticClient),
		WithStateChangeHook(rec.hook))

	require.NoError(t, p.EnsureAuthenticated(context.Background()))

	assert.Equal(t, StateAuthenticated, p.State())
	assert.NoError(t, p.LastError())
	assert.Equal(t, []State{
		StateDiscovering,
		StateRegistering,
		StateAwaitingRedirect,
		StateExchangingCode,
		StateAuthenticated,
	}, rec.get())

	assert.Equal(t, int32(1), as.discoveryCalls.Load())
	assert.Equal(t, int32(0), as.registrationCalls.Load())
	assert.Equal(t, int32(1), as.tokenCalls.Load())

	form := as.lastTokenForm()
	require.NotNil(t, form)
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "abc123", form.Get("code"))
	assert.Equal(t, "static-client", form.Get("client_id"))
	assert.Empty(t, form.Get("client_secret"))
	assert.True(t, oauth.VerifyPKCE(form.Get("code_verifier"), as.authQuery().Get("code_challenge")))
	assert.Equal(t, as.authQuery().Get("redirect_uri"), form.Get("redirect_uri"))

	tokens, err := s.Tokens(context.Background(), p.ServerID())
	require.NoError(t, err)
	require.NotNil(t, tokens)
	assert.Equal(t, "access-1", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
	assert.Equal(t, "read", tokens.Scope)
	assert.False(t, tokens.ExpiresAt.IsZero())

	// The verifier only lives between generation and exchange.
	verifier, err := s.CodeVerifier(context.Background(), p.ServerID())
	require.NoError(t, err)
	assert.Empty(t, verifier)
}

func TestEnsureAuthenticated_AuthorizationURL(t *testing.T) {
	as := newFakeAS(t)
	p := newTestProvider(t, as, nil,
		WithStaticClient(staticClient),
		WithScopes("read", "write"),
		WithResource("https://mcp.example.com"))

	require.NoError(t, p.EnsureAuthenticated(context.Background()))

	q := as.authQuery()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "static-client", q.Get("client_id"))
	assert.Equal(t, p.RedirectURL(), q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Len(t, q.Get("code_challenge"), 43)
	assert.Equal(t, "read write", q.Get("scope"))
	assert.Equal(t, "https://mcp.example.com", q.Get("resource"))
	_, hasState := q["state"]
	assert.False(t, hasState)

	assert.Equal(t, "https://mcp.example.com", as.lastTokenForm().Get("resource"))
}

func TestEnsureAuthenticated_SingleFlight(t *testing.T) {
	as := newFakeAS(t, func(as *fakeAS) { as.redirectDelay = 200 * time.Millisecond })
	p := newTestProvider(t, as, nil)

	const callers = 10
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = p.EnsureAuthenticated(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		assert.NoErrorf(t, err, "caller %d", i)
	}
	assert.Equal(t, StateAuthenticated, p.State())

	assert.Equal(t, int32(1), as.discoveryCalls.Load(), "discovery calls")
	assert.Equal(t, int32(1), as.registrationCalls.Load(), "registration calls")
	assert.Equal(t, int32(1), as.browserCalls.Load(), "listener binds")
	assert.Equal(t, int32(1), as.tokenCalls.Load(), "token exchanges")
}

func TestEnsureAuthenticated_AccessDenied(t *testing.T) {
	as := newFakeAS(t)
	p := newTestProvider(t, as, nil,
		WithStaticClient(staticClient),
		WithBrowserOpener(as.browser(url.Values{
			"error":             {"access_denied"},
			"error_description": {"user cancelled"},
		})))

	err := p.EnsureAuthenticated(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, oauth.ErrRedirect))

	var oerr *oauth.Error
	require.True(t, errors.As(err, &oerr))
	assert.Equal(t, "access_denied", oerr.Code)
	assert.Equal(t, "user cancelled", oerr.Description)

	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, err, p.LastError())
	assert.Equal(t, int32(0), as.tokenCalls.Load())
}

func TestEnsureAuthenticated_RedirectTimeout(t *testing.T) {
	as := newFakeAS(t)
	p := newTestProvider(t, as, nil,
		WithStaticClient(staticClient),
		WithBrowserOpener(as.silentBrowser()),
		WithRedirectTimeout(200*time.Millisecond))

	err := p.EnsureAuthenticated(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, oauth.ErrTimeout))
	assert.Equal(t, oauth.KindTimeout, oauth.KindOf(err))
	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, int32(0), as.tokenCalls.Load())

	// The listener is gone: its port can be bound again.
	redirect, err := url.Parse(as.authQuery().Get("redirect_uri"))
	require.NoError(t, err)
	l, err := net.Listen("tcp", redirect.Host)
	require.NoError(t, err)
	l.Close()
}

func TestEnsureAuthenticated_StoredValidToken(t *testing.T) {
	as := newFakeAS(t)
	s := store.NewMemoryStore()
	p := newTestProvider(t, as, s)

	require.NoError(t, s.SaveTokens(context.Background(), p.ServerID(), &oauth.TokenSet{
		AccessToken: "stored",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	require.NoError(t, p.EnsureAuthenticated(context.Background()))
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, int32(0), as.networkCalls())
	assert.Equal(t, int32(0), as.browserCalls.Load())
}

func TestEnsureAuthenticated_RecordWithoutAccessTokenIsNoToken(t *testing.T) {
	as := newFakeAS(t)
	s := store.NewMemoryStore()
	p := newTestProvider(t, as, s, WithStaticClient(staticClient))

	require.NoError(t, s.SaveTokens(context.Background(), p.ServerID(), &oauth.TokenSet{TokenType: "Bearer"}))

	require.NoError(t, p.EnsureAuthenticated(context.Background()))
	assert.Equal(t, int32(1), as.tokenCalls.Load())
}

func TestEnsureAuthenticated_DynamicRegistration(t *testing.T) {
	as := newFakeAS(t)
	s := store.NewMemoryStore()
	p := newTestProvider(t, as, s, WithClientMetadata(oauth.ClientMetadata{
		ClientName:      "test-app",
		SoftwareID:      "remoteauth-test",
		SoftwareVersion: "1.2.3",
	}))

	require.NoError(t, p.EnsureAuthenticated(context.Background()))

	assert.Equal(t, int32(1), as.registrationCalls.Load())
	regs := as.registered()
	require.Len(t, regs, 1)
	reg := regs[0]
	assert.Equal(t, []string{p.RedirectURL()}, reg.RedirectURIs)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, reg.GrantTypes)
	assert.Equal(t, []string{"code"}, reg.ResponseTypes)
	assert.Equal(t, "none", reg.TokenEndpointAuthMethod)
	assert.Equal(t, "test-app", reg.ClientName)
	assert.Equal(t, "remoteauth-test", reg.SoftwareID)

	info, err := s.ClientInformation(context.Background(), p.ServerID())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "dynamic-client", info.ClientID)
	assert.Equal(t, "dynamic-client", as.lastTokenForm().Get("client_id"))
}

func TestEnsureAuthenticated_CachedClientSkipsRegistration(t *testing.T) {
	as := newFakeAS(t)
	s := store.NewMemoryStore()
	p := newTestProvider(t, as, s)

	require.NoError(t, s.SaveClientInformation(context.Background(), p.ServerID(),
		&oauth.ClientInformation{ClientID: "cached-client"}))

	require.NoError(t, p.EnsureAuthenticated(context.Background()))
	assert.Equal(t, int32(0), as.registrationCalls.Load())
	assert.Equal(t, "cached-client", as.lastTokenForm().Get("client_id"))
}

func TestEnsureAuthenticated_StaticClientWinsOverCache(t *testing.T) {
	as := newFakeAS(t)
	s := store.NewMemoryStore()
	p := newTestProvider(t, as, s, WithStaticClient(&oauth.ClientInformation{
		ClientID:     "static-client",
		ClientSecret: "static-secret",
	}))

	require.NoError(t, s.SaveClientInformation(context.Background(), p.ServerID(),
		&oauth.ClientInformation{ClientID: "cached-client"}))

	require.NoError(t, p.EnsureAuthenticated(context.Background()))
	form := as.lastTokenForm()
	assert.Equal(t, "static-client", form.Get("client_id"))
	assert.Equal(t, "static-secret", form.Get("client_secret"))
	assert.Equal(t, int32(0), as.registrationCalls.Load())
}

func TestEnsureAuthenticated_StaleClientIsNotReconciled(t *testing.T) {
	// A client registered against an earlier endpoint set is used as-is with
	// freshly discovered metadata.
	as := newFakeAS(t)
	s := store.NewMemoryStore()
	p := newTestProvider(t, as, s)

	require.NoError(t, s.SaveClientInformation(context.Background(), p.ServerID(), &oauth.ClientInformation{
		ClientID:     "old-client",
		RedirectURIs: []string{"http://localhost:9999/old/callback"},
	}))

	require.NoError(t, p.EnsureAuthenticated(context.Background()))
	assert.Equal(t, int32(0), as.registrationCalls.Load())
	assert.Equal(t, "old-client", as.lastTokenForm().Get("client_id"))
	assert.Equal(t, p.RedirectURL(), as.lastTokenForm().Get("redirect_uri"))
}

func TestEnsureAuthenticated_MissingRegistrationEndpoint(t *testing.T) {
	as := newFakeAS(t, func(as *fakeAS) { as.withoutRegistration = true })
	p := newTestProvider(t, as, nil)

	err := p.EnsureAuthenticated(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, oauth.ErrConfiguration))
	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, int32(0), as.browserCalls.Load())
}

func TestEnsureAuthenticated_DiscoveryFailure(t *testing.T) {
	as := newFakeAS(t, func(as *fakeAS) { as.discoveryStatus = 500 })
	p := newTestProvider(t, as, nil, WithStaticClient(staticClient))

	err := p.EnsureAuthenticated(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, oauth.ErrDiscovery))
	assert.Equal(t, int32(1), as.discoveryCalls.Load(), "no retry")
	assert.Equal(t, StateFailed, p.State())
}

func TestEnsureAuthenticated_RegistrationRejected(t *testing.T) {
	as := newFakeAS(t, func(as *fakeAS) { as.registrationStatus = 400 })
	p := newTestProvider(t, as, nil)

	err := p.EnsureAuthenticated(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, oauth.ErrRegistration))

	var oerr *oauth.Error
	require.True(t, errors.As(err, &oerr))
	assert.Equal(t, "invalid_redirect_uri", oerr.Code)
}

func TestEnsureAuthenticated_ExchangeRejected(t *testing.T) {
	as := newFakeAS(t)
	p := newTestProvider(t, as, nil,
		WithStaticClient(staticClient),
		WithBrowserOpener(as.browser(url.Values{"code": {"wrong-code"}})))

	err := p.EnsureAuthenticated(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, oauth.ErrExchange))

	var oerr *oauth.Error
	require.True(t, errors.As(err, &oerr))
	assert.Equal(t, "invalid_grant", oerr.Code)
	assert.Equal(t, StateFailed, p.State())
}

func TestEnsureAuthenticated_BindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	as := newFakeAS(t)
	p := newTestProvider(t, as, nil,
		WithStaticClient(staticClient),
		WithCallback("127.0.0.1", busy.Addr().(*net.TCPAddr).Port, ""))

	err = p.EnsureAuthenticated(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, oauth.ErrConfiguration))
	assert.Equal(t, int32(0), as.browserCalls.Load())
}

func TestEnsureAuthenticated_CallerContext(t *testing.T) {
	as := newFakeAS(t)
	p := newTestProvider(t, as, nil,
		WithStaticClient(staticClient),
		WithBrowserOpener(as.silentBrowser()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := p.EnsureAuthenticated(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The flow outlives the caller until the provider is closed.
	assert.Eventually(t, func() bool { return p.State() == StateAwaitingRedirect }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, p.InProgress())

	require.NoError(t, p.Close())
	assert.False(t, p.InProgress())
	assert.Equal(t, StateFailed, p.State())

	assert.ErrorIs(t, p.EnsureAuthenticated(context.Background()), ErrClosed)
}

func TestEnsureAuthenticated_FlowPicksUpTokenFromOtherProcess(t *testing.T) {
	as := newFakeAS(t)
	root := t.TempDir()

	first, err := store.NewFileStore(store.FileStoreConfig{Root: root, Logger: quietLogger()})
	require.NoError(t, err)
	p := newTestProvider(t, as, first, WithStaticClient(staticClient))

	// A second process completes authentication for the same server.
	second, err := store.NewFileStore(store.FileStoreConfig{Root: root, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, second.SaveTokens(context.Background(), p.ServerID(), &oauth.TokenSet{
		AccessToken: "from-other-process",
	}))

	require.NoError(t, p.EnsureAuthenticated(context.Background()))
	assert.Equal(t, int32(0), as.networkCalls())

	tokens, err := p.Tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-other-process", tokens.AccessToken)
}

func TestEnsureAuthenticated_EphemeralPortWithStaticClient(t *testing.T) {
	as := newFakeAS(t)
	p := newTestProvider(t, as, nil,
		WithStaticClient(staticClient),
		WithCallback("127.0.0.1", 0, "/cb"))

	require.NoError(t, p.EnsureAuthenticated(context.Background()))

	redirect, err := url.Parse(as.authQuery().Get("redirect_uri"))
	require.NoError(t, err)
	assert.Equal(t, "/cb", redirect.Path)
	port, err := strconv.Atoi(redirect.Port())
	require.NoError(t, err)
	assert.NotZero(t, port)
	assert.Equal(t, redirect.String(), as.lastTokenForm().Get("redirect_uri"))
}
