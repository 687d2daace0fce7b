// Package oauth implements the protocol side of an OAuth 2.1 public client:
// authorization server metadata discovery (RFC 8414), dynamic client
// registration (RFC 7591), PKCE (RFC 7636) and the authorization-code and
// refresh grants.
//
// The package is stateless. Persistence, the local redirect listener and the
// flow state machine live in remoteauth/internal/store,
// remoteauth/internal/callback and remoteauth/internal/auth.
//
// # Errors
//
// Every failure returned by Client is an *Error classified by ErrorKind.
// Match kinds with errors.Is against the sentinels:
//
//	if errors.Is(err, oauth.ErrRedirect) {
//		var oerr *oauth.Error
//		errors.As(err, &oerr)
//		fmt.Println("denied:", oerr.Code)
//	}
//
// # Usage
//
//	client := oauth.NewClient(oauth.WithLogger(logger))
//	md, err := client.DiscoverMetadata(ctx, "https://mcp.example.com/mcp")
//	pkce, err := oauth.GeneratePKCE()
//	authURL, err := client.BuildAuthorizationURL(oauth.AuthorizationRequest{
//		Metadata:    md,
//		Client:      info,
//		RedirectURI: redirectURI,
//		PKCE:        pkce,
//	})
package oauth
