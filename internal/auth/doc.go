// Package auth drives the OAuth authorization-code flow for one remote
// resource server.
//
// A Provider owns the flow state machine. It discovers the authorization
// server, resolves a client identity, and waits for the browser redirect on a
// local listener before exchanging the code. The resulting tokens go to a
// store.Store. Concurrent callers of EnsureAuthenticated share one attempt.
//
//	p, err := auth.NewProvider("https://mcp.example.com/mcp",
//		auth.WithStore(fileStore),
//		auth.WithScopes("read"),
//	)
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//
//	tokens, err := p.Tokens(ctx)
//
// TransportTokenStore adapts a Provider to the mcp-go client transport.
package auth
