package identity

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/authority/pkg/oidc"
)

// OIDCProvider exposes the discovery and JWKS endpoints so that relying
// parties can verify access tokens without calling back into the service.
type OIDCProvider struct {
	discovery oidc.DiscoveryDocument
	keys      *KeyStore
	logger    *zap.Logger
}

// NewOIDCProvider creates an OIDCProvider.
func NewOIDCProvider(baseURL string, keys *KeyStore, logger *zap.Logger) *OIDCProvider {
	return &OIDCProvider{
		discovery: oidc.NewDiscoveryDocument(baseURL),
		keys:      keys,
		logger:    logger,
	}
}

// RegisterWellKnown attaches the discovery and JWKS routes.
func (p *OIDCProvider) RegisterWellKnown(r gin.IRoutes) {
	r.GET(oidc.DiscoveryPath, p.discoveryHandler)
	r.GET(oidc.JWKSPath, p.jwksHandler)
}

func (p *OIDCProvider) discoveryHandler(c *gin.Context) {
	c.JSON(http.StatusOK, p.discovery)
}

func (p *OIDCProvider) jwksHandler(c *gin.Context) {
	kp := p.keys.Current()
	if kp == nil {
		p.logger.Error("jwks requested with no active key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, oidc.PublishJWKS(kp.Public, kp.KeyID))
}
