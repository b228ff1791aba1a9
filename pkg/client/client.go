package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/jmerrifield20/authority/pkg/oidc"
)

var (
	// ErrUnauthorized is returned for 401 responses: bad credentials on login
	// or a missing/wrong internal API key on register.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict is returned by Register when the username or email is taken.
	ErrConflict = errors.New("username or email already exists")
)

// APIError is any non-2xx response not covered by a sentinel.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Registration is the result of a successful Register call.
type Registration struct {
	Message  string `json:"message"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// Status is the payload of GET /api/auth/status.
type Status struct {
	Authenticated bool   `json:"authenticated"`
	Message       string `json:"message"`
	Subject       string `json:"sub,omitempty"`
	Role          string `json:"role,omitempty"`
}

// Client talks to one authority instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	jwks       *jwksCache
	now        func() time.Time
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithJWKSCacheTTL sets how long a fetched JWKS is reused. Default 5 minutes.
func WithJWKSCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl <= 0 {
			return fmt.Errorf("jwks cache ttl must be positive, got %s", ttl)
		}
		c.jwks = newJWKSCache(ttl)
		return nil
	}
}

// WithInternalAPIKey sets the shared secret sent on Register.
func WithInternalAPIKey(key string) Option {
	return func(c *Client) error {
		c.apiKey = key
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a self-signed deployment.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		jwks:       newJWKSCache(5 * time.Minute),
		now:        time.Now,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, username, password string) (*oauth2.Token, error) {
	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.postJSON(ctx, oidc.LoginPath, body, nil, &payload); err != nil {
		return nil, err
	}
	if payload.AccessToken == "" {
		return nil, errors.New("login response has no access_token")
	}
	return &oauth2.Token{
		AccessToken: payload.AccessToken,
		TokenType:   payload.TokenType,
		Expiry:      c.now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

// Register creates a user. Requires WithInternalAPIKey.
func (c *Client) Register(ctx context.Context, username, email, password string) (*Registration, error) {
	headers := map[string]string{"X-Internal-API-Key": c.apiKey}
	body := map[string]string{"username": username, "email": email, "password": password}

	var reg Registration
	if err := c.postJSON(ctx, "/api/auth/register", body, headers, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Status calls the status endpoint, presenting accessToken when non-empty.
func (c *Client) Status(ctx context.Context, accessToken string) (*Status, error) {
	headers := map[string]string{}
	if accessToken != "" {
		headers["Authorization"] = "Bearer " + accessToken
	}
	var st Status
	if err := c.getJSON(ctx, oidc.StatusPath, headers, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Discovery fetches the OpenID discovery document.
func (c *Client) Discovery(ctx context.Context) (*oidc.DiscoveryDocument, error) {
	var doc oidc.DiscoveryDocument
	if err := c.getJSON(ctx, oidc.DiscoveryPath, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// JWKS returns the published key set, served from cache while fresh.
func (c *Client) JWKS(ctx context.Context) (*oidc.JWKSet, error) {
	if set, ok := c.jwks.get(c.now()); ok {
		return set, nil
	}
	return c.refreshJWKS(ctx)
}

func (c *Client) refreshJWKS(ctx context.Context) (*oidc.JWKSet, error) {
	var set oidc.JWKSet
	if err := c.getJSON(ctx, oidc.JWKSPath, nil, &set); err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	c.jwks.put(&set, c.now())
	return &set, nil
}

// VerifyToken validates an access token offline against the published JWKS.
// An unknown kid forces one JWKS refetch before failing.
func (c *Client) VerifyToken(ctx context.Context, token string) (*oidc.Claims, error) {
	set, err := c.JWKS(ctx)
	if err != nil {
		return nil, err
	}

	kid, err := tokenKeyID(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", oidc.ErrInvalidToken, err)
	}
	if _, ok := set.Lookup(kid); !ok {
		if set, err = c.refreshJWKS(ctx); err != nil {
			return nil, err
		}
	}
	return oidc.ParseToken(token, set.KeyLookup())
}

// TokenSource returns an oauth2.TokenSource that logs in with the given
// credentials and reuses the token until shortly before it expires.
func (c *Client) TokenSource(ctx context.Context, username, password string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &loginSource{ctx: ctx, c: c, username: username, password: password})
}

type loginSource struct {
	ctx      context.Context
	c        *Client
	username string
	password string
}

func (s *loginSource) Token() (*oauth2.Token, error) {
	return s.c.Login(s.ctx, s.username, s.password)
}

// tokenKeyID extracts the kid from a JWT header without verifying it.
func tokenKeyID(token string) (string, error) {
	header, _, ok := strings.Cut(token, ".")
	if !ok {
		return "", errors.New("malformed token")
	}
	raw, err := oidc.DecodeSegment(header)
	if err != nil {
		return "", fmt.Errorf("decode header: %w", err)
	}
	var h struct {
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return "", fmt.Errorf("parse header: %w", err)
	}
	return h.Kid, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in any, headers map[string]string, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, headers, out)
}

func (c *Client) getJSON(ctx context.Context, path string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, headers, out)
}

// do executes req and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, headers map[string]string, out any) error {
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusConflict:
		return ErrConflict
	case resp.StatusCode >= 300:
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// errorMessage pulls "error" out of the JSON envelope, falling back to the raw body.
func errorMessage(body []byte) string {
	var env struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error != "" {
		return env.Error
	}
	return strings.TrimSpace(string(body))
}
