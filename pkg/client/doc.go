// Package client is the Go SDK for the authority service.
//
// Relying parties use it to log users in, verify access tokens offline
// against the published JWKS, and call the administrative endpoints.
//
// # Logging in
//
//	c, err := client.New("http://authentication:8082")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tok, err := c.Login(ctx, "alice", "pw123")
//	// tok.AccessToken, tok.TokenType == "Bearer", tok.Expiry
//
// TokenSource wraps the same credentials in an oauth2.TokenSource that logs
// in again shortly before the current token expires, so it plugs straight
// into oauth2.NewClient:
//
//	httpClient := oauth2.NewClient(ctx, c.TokenSource(ctx, "alice", "pw123"))
//
// # Verifying tokens
//
// VerifyToken checks the RS256 signature against the key whose kid matches
// the token header, fetching and caching /.well-known/jwks.json:
//
//	c, _ := client.New(base, client.WithJWKSCacheTTL(5*time.Minute))
//	claims, err := c.VerifyToken(ctx, bearer)
//	// claims.Subject, claims.Role
//
// Claims, key sets and the discovery document are the pkg/oidc types, so
// callers can also verify with oidc.ParseToken against a JWKS they manage.
//
// An unknown kid triggers one refetch so that a key rotation on the server
// is picked up without waiting for the cache to expire.
//
// # Registering users
//
// Registration is gated by the shared internal API key:
//
//	c, _ := client.New(base, client.WithInternalAPIKey(os.Getenv("INTERNAL_API_KEY")))
//	reg, err := c.Register(ctx, "alice", "alice@x.com", "pw123")
package client
