package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/authority/internal/identity"
	"github.com/jmerrifield20/authority/internal/users"
)

// authSvc is the subset of users.UserService used by AuthHandler.
type authSvc interface {
	Register(ctx context.Context, username, email, password string) (*users.User, error)
	Login(ctx context.Context, username, password string) (*users.Session, error)
}

// AuthHandler serves /api/auth.
type AuthHandler struct {
	svc       authSvc
	tokens    *identity.TokenIssuer
	apiKey    string
	loginRate gin.HandlerFunc
	logger    *zap.Logger
}

// NewAuthHandler creates an AuthHandler. apiKey gates registration; an
// empty key rejects every registration request.
func NewAuthHandler(svc authSvc, tokens *identity.TokenIssuer, apiKey string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, tokens: tokens, apiKey: apiKey, logger: logger}
}

// SetLoginRateLimiter installs mw in front of the login route.
func (h *AuthHandler) SetLoginRateLimiter(mw gin.HandlerFunc) {
	h.loginRate = mw
}

// Register attaches the auth routes to rg, which is expected to be /api/auth.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	login := []gin.HandlerFunc{h.Login}
	if h.loginRate != nil {
		login = append([]gin.HandlerFunc{h.loginRate}, login...)
	}
	rg.POST("/login", login...)
	rg.POST("/register", RequireInternalKey(h.apiKey), h.RegisterUser)
	rg.GET("/status", identity.OptionalToken(h.tokens), h.Status)
}

// loginRequest carries no binding rules: empty credentials are well formed
// and fail as invalid credentials, not as a bad request.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c)
		return
	}

	sess, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, h.logger, "login", err)
		return
	}

	loginAttemptsTotal.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: sess.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   sess.ExpiresIn,
	})
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RegisterUser handles POST /api/auth/register.
func (h *AuthHandler) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c)
		return
	}

	u, err := h.svc.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(c, h.logger, "register", err)
		return
	}

	registrationsTotal.Inc()
	c.JSON(http.StatusOK, gin.H{
		"message":  "User registered successfully",
		"user_id":  u.ID,
		"username": u.Username,
	})
}

// Status handles GET /api/auth/status.
func (h *AuthHandler) Status(c *gin.Context) {
	claims := identity.ClaimsFromCtx(c)
	if claims == nil {
		c.JSON(http.StatusOK, gin.H{
			"authenticated": false,
			"message":       "Authentication service is ready for implementation",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"message":       "Token is valid",
		"sub":           claims.Subject,
		"role":          claims.Role,
	})
}
