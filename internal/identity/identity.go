// Package identity holds the signing side of the authority service.
//
// It provides:
//   - LoadPrivateKey / LoadPublicKey: parse the RSA key pair from a KeySource
//   - KeyStore: the active KeyPair behind an atomically swapped snapshot
//   - SignToken: RS256 access-token signing (pure function)
//   - TokenIssuer: issues and verifies access tokens with the active key
//   - OIDCProvider: discovery and JWKS HTTP endpoints
//
// The verifying side (claims, JWKS, discovery) lives in pkg/oidc.
package identity
