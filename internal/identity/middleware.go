package identity

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/authority/pkg/oidc"
)

const ctxTokenClaims = "authority_token_claims"

// OptionalToken returns a Gin middleware that verifies a Bearer token when
// one is present and injects its claims into the context. Requests without
// a valid token pass through unchanged.
func OptionalToken(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			if claims, err := tokens.Verify(tokenStr); err == nil {
				c.Set(ctxTokenClaims, claims)
			}
		}
		c.Next()
	}
}

// ClaimsFromCtx returns the claims injected by OptionalToken, or nil.
func ClaimsFromCtx(c *gin.Context) *oidc.Claims {
	v, _ := c.Get(ctxTokenClaims)
	claims, _ := v.(*oidc.Claims)
	return claims
}
