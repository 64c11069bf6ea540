// Package identity is a client for Firebase Identity Toolkit compatible
// email/password providers. It implements auth.Provider.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/spiffcs/firststep/internal/auth"
	"github.com/spiffcs/firststep/internal/format"
	"github.com/spiffcs/firststep/internal/log"
)

const (
	DefaultBaseURL  = "https://identitytoolkit.googleapis.com"
	DefaultTokenURL = "https://securetoken.googleapis.com"
	DefaultTimeout  = 30 * time.Second

	// RequestIDHeader is set on every outgoing request.
	RequestIDHeader = "X-Request-Id"
)

// Options configures a Client.
type Options struct {
	APIKey   string
	BaseURL  string
	TokenURL string
	Timeout  time.Duration
	// Cache persists the session between runs. Nil keeps it in memory only.
	Cache *Cache
	// HTTPClient overrides the transport. Timeout still applies.
	HTTPClient *http.Client
}

// Client talks to the identity provider and holds the current session.
type Client struct {
	apiKey   string
	baseURL  string
	tokenURL string
	http     *http.Client
	oauth    *oauth2.Config
	cache    *Cache
	validate *validator.Validate

	mu      sync.Mutex
	session *Session
}

var _ auth.Provider = (*Client)(nil)

// requestIDTransport tags each request with a fresh request ID.
type requestIDTransport struct {
	base http.RoundTripper
}

func (t *requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	id := uuid.NewString()
	req.Header.Set(RequestIDHeader, id)

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		log.Debug("identity request failed", "request_id", id, "path", req.URL.Path, "error", err)
		return resp, err
	}
	log.Trace("identity request", "request_id", id, "path", req.URL.Path, "status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

// New creates a client and loads any cached session. A cache that cannot be
// read is logged and treated as signed out.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key not provided. Set the FIRSTSTEP_API_KEY environment variable")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultTokenURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Cache == nil {
		opts.Cache = NewCache("", "")
	}

	hc := &http.Client{}
	if opts.HTTPClient != nil {
		*hc = *opts.HTTPClient
	}
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc.Transport = &requestIDTransport{base: base}
	hc.Timeout = opts.Timeout

	c := &Client{
		apiKey:   opts.APIKey,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		tokenURL: strings.TrimRight(opts.TokenURL, "/"),
		http:     hc,
		cache:    opts.Cache,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	c.oauth = &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL + "/v1/token?key=" + url.QueryEscape(c.apiKey),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	s, err := c.cache.Load()
	if err != nil {
		log.Warn("could not load session cache, starting signed out", "path", c.cache.Path(), "error", err)
	}
	c.session = s

	return c, nil
}

type credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

func (c *Client) checkCredentials(email, password string) error {
	if err := c.validate.Struct(credentials{Email: email, Password: password}); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, describe(err))
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, field+" must be a valid email address")
		case "min":
			msgs = append(msgs, field+" must be at least "+e.Param()+" characters")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type authResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type oobRequest struct {
	RequestType string `json:"requestType"`
	Email       string `json:"email,omitempty"`
	IDToken     string `json:"idToken,omitempty"`
}

// CreateAccount registers the account, signs it in and sends the
// verification email.
func (c *Client) CreateAccount(ctx context.Context, email, password string) error {
	if err := c.checkCredentials(email, password); err != nil {
		return err
	}

	var resp authResponse
	req := passwordRequest{Email: email, Password: password, ReturnSecureToken: true}
	if err := c.post(ctx, "accounts:signUp", req, &resp); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	if _, err := c.signedIn(&resp); err != nil {
		return err
	}

	if err := c.SendEmailVerification(ctx); err != nil {
		return fmt.Errorf("%w: %w", auth.ErrVerificationNotSent, err)
	}
	return nil
}

// SignIn authenticates and reports the email_verified claim of the new ID token.
func (c *Client) SignIn(ctx context.Context, email, password string) (bool, error) {
	if err := c.checkCredentials(email, password); err != nil {
		return false, err
	}

	var resp authResponse
	req := passwordRequest{Email: email, Password: password, ReturnSecureToken: true}
	if err := c.post(ctx, "accounts:signInWithPassword", req, &resp); err != nil {
		return false, fmt.Errorf("failed to sign in: %w", err)
	}
	s, err := c.signedIn(&resp)
	if err != nil {
		return false, err
	}
	return s.EmailVerified, nil
}

// SendPasswordReset asks the provider to mail a password reset link.
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	if err := c.validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("%w: email must be a valid email address", ErrInvalidCredentials)
	}

	req := oobRequest{RequestType: "PASSWORD_RESET", Email: email}
	if err := c.post(ctx, "accounts:sendOobCode", req, nil); err != nil {
		return fmt.Errorf("failed to send password reset: %w", err)
	}
	return nil
}

// SendEmailVerification mails a verification link to the signed-in account.
func (c *Client) SendEmailVerification(ctx context.Context) error {
	idToken, err := c.idToken(ctx)
	if err != nil {
		return err
	}

	req := oobRequest{RequestType: "VERIFY_EMAIL", IDToken: idToken}
	if err := c.post(ctx, "accounts:sendOobCode", req, nil); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	return nil
}

// SignOut forgets the session locally. The provider has no sign-out call.
func (c *Client) SignOut() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = nil
	if err := c.cache.Clear(); err != nil {
		return fmt.Errorf("failed to clear session cache: %w", err)
	}
	return nil
}

// CurrentUser returns the cached user without contacting the provider.
func (c *Client) CurrentUser() *auth.User {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	return &auth.User{
		ID:            c.session.LocalID,
		Email:         c.session.Email,
		EmailVerified: c.session.EmailVerified,
	}
}

// signedIn replaces the session with the one described by resp.
func (c *Client) signedIn(resp *authResponse) (*Session, error) {
	claims, err := parseClaims(resp.IDToken)
	if err != nil {
		return nil, err
	}

	s := &Session{
		LocalID:       resp.LocalID,
		Email:         resp.Email,
		EmailVerified: claims.EmailVerified,
		IDToken:       resp.IDToken,
		RefreshToken:  resp.RefreshToken,
		Expiry:        expiry(resp.ExpiresIn, claims),
	}
	if s.Email == "" {
		s.Email = claims.Email
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	if err := c.cache.Save(s); err != nil {
		log.Warn("could not save session cache", "path", c.cache.Path(), "error", err)
	}
	return s, nil
}

// idToken returns a valid ID token, refreshing it through the refresh token
// when it has expired.
func (c *Client) idToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return "", ErrNotSignedIn
	}

	current := &oauth2.Token{
		AccessToken:  s.IDToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
		Expiry:       s.Expiry,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := oauth2.ReuseTokenSource(current, c.oauth.TokenSource(ctx, current)).Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh session: %w", err)
	}
	if tok.AccessToken == s.IDToken && tok.Expiry.Equal(s.Expiry) {
		return s.IDToken, nil
	}

	idToken := tok.AccessToken
	if v, ok := tok.Extra("id_token").(string); ok && v != "" {
		idToken = v
	}
	claims, err := parseClaims(idToken)
	if err != nil {
		return "", err
	}

	refreshed := *s
	refreshed.IDToken = idToken
	refreshed.RefreshToken = tok.RefreshToken
	refreshed.Expiry = tok.Expiry
	refreshed.EmailVerified = claims.EmailVerified

	c.mu.Lock()
	c.session = &refreshed
	if err := c.cache.Save(&refreshed); err != nil {
		log.Warn("could not save session cache", "path", c.cache.Path(), "error", err)
	}
	c.mu.Unlock()

	log.Debug("refreshed identity session", "email", format.MaskEmail(refreshed.Email))
	return idToken, nil
}

func (c *Client) post(ctx context.Context, method string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := c.baseURL + "/v1/" + method + "?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var eb errorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Error.Message == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: eb.Error.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}

// Claims are the ID token claims the client reads.
type Claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// parseClaims reads the ID token's claims without verifying its signature.
// The token only feeds local display state, never an authorization decision.
func parseClaims(idToken string) (*Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token: %w", err)
	}
	return &claims, nil
}

func expiry(expiresIn string, claims *Claims) time.Time {
	if secs, err := strconv.Atoi(expiresIn); err == nil && secs > 0 {
		return time.Now().Add(time.Duration(secs) * time.Second)
	}
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Time{}
}
