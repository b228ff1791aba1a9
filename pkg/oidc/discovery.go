// Package oidc holds the public, relying-party side of the authority token
// format: the published JWK set, the access-token claims and their
// verification, and the OpenID discovery document.
package oidc

import "strings"

// Paths of the endpoints advertised in the discovery document.
const (
	JWKSPath      = "/.well-known/jwks.json"
	DiscoveryPath = "/.well-known/openid-configuration"
	LoginPath     = "/api/auth/login"
	StatusPath    = "/api/auth/status"
)

// DiscoveryDocument is the OpenID Connect discovery document served at
// /.well-known/openid-configuration.
type DiscoveryDocument struct {
	Issuer                           string   `json:"issuer"`
	JWKSURI                          string   `json:"jwks_uri"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
}

// NewDiscoveryDocument derives every URL from baseURL.
func NewDiscoveryDocument(baseURL string) DiscoveryDocument {
	base := strings.TrimRight(baseURL, "/")
	return DiscoveryDocument{
		Issuer:                           base,
		JWKSURI:                          base + JWKSPath,
		AuthorizationEndpoint:            base + LoginPath,
		TokenEndpoint:                    base + LoginPath,
		UserinfoEndpoint:                 base + StatusPath,
		ResponseTypesSupported:           []string{"code", "token"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
	}
}
