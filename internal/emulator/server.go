// Package emulator is an in-memory identity provider speaking the Identity
// Toolkit REST dialect, for local development and end-to-end tests.
package emulator

import (
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/spiffcs/firststep/internal/log"
)

const (
	DefaultProjectID = "firststep-local"
	tokenTTL         = time.Hour
	minPasswordLen   = 6
)

const (
	RequestVerifyEmail   = "VERIFY_EMAIL"
	RequestPasswordReset = "PASSWORD_RESET"
)

type account struct {
	localID       string
	email         string
	passwordHash  []byte
	emailVerified bool
}

// OobCode is an out-of-band action code the emulator would have mailed.
type OobCode struct {
	Email       string `json:"email"`
	RequestType string `json:"requestType"`
	OobCode     string `json:"oobCode"`
	OobLink     string `json:"oobLink"`
}

// Server holds the emulator state.
type Server struct {
	projectID  string
	secret     []byte
	bcryptCost int
	now        func() time.Time

	mu       sync.Mutex
	accounts map[string]*account // by email
	refresh  map[string]string   // refresh token to local ID
	oobCodes []OobCode

	engine *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithProjectID sets the project the emulator issues tokens for.
func WithProjectID(id string) Option {
	return func(s *Server) {
		s.projectID = id
	}
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Server) {
		s.bcryptCost = cost
	}
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates an emulator with no accounts.
func New(opts ...Option) *Server {
	s := &Server{
		projectID:  DefaultProjectID,
		secret:     []byte(uuid.NewString()),
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
		accounts:   make(map[string]*account),
		refresh:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	if log.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.POST("/identitytoolkit.googleapis.com/v1/*action", s.requireKey, s.identityToolkit)
	engine.POST("/securetoken.googleapis.com/v1/token", s.requireKey, s.token)
	engine.GET("/emulator/v1/oobCodes", s.listOobCodes)
	engine.GET("/emulator/action", s.action)
	engine.DELETE("/emulator/v1/accounts", s.reset)
	s.engine = engine

	return s
}

// Handler returns the HTTP handler serving the emulator.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// OobCodes returns the action codes issued so far.
func (s *Server) OobCodes() []OobCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OobCode(nil), s.oobCodes...)
}

// Reset deletes every account, token and action code.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = make(map[string]*account)
	s.refresh = make(map[string]string)
	s.oobCodes = nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("emulator request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"request_id", c.GetHeader("X-Request-Id"),
			"latency", time.Since(start).String(),
		)
	}
}

func (s *Server) requireKey(c *gin.Context) {
	if c.Query("key") == "" {
		fail(c, http.StatusBadRequest, "API key not valid. Please pass a valid API key.")
		return
	}
	c.Next()
}

func (s *Server) identityToolkit(c *gin.Context) {
	switch strings.TrimPrefix(c.Param("action"), "/") {
	case "accounts:signUp":
		s.signUp(c)
	case "accounts:signInWithPassword":
		s.signInWithPassword(c)
	case "accounts:sendOobCode":
		s.sendOobCode(c)
	case "accounts:update":
		s.update(c)
	case "accounts:lookup":
		s.lookup(c)
	default:
		fail(c, http.StatusNotFound, "NOT_FOUND")
	}
}

// fail writes the provider's error envelope.
func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    status,
			"message": message,
			"errors": []gin.H{
				{"message": message, "domain": "global", "reason": "invalid"},
			},
		},
	})
}

type passwordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) signUp(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil || req.Email == "" {
		fail(c, http.StatusBadRequest, "INVALID_EMAIL")
		return
	}
	if len(req.Password) < minPasswordLen {
		fail(c, http.StatusBadRequest, "WEAK_PASSWORD : Password should be at least 6 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(req.Email)
	if _, ok := s.accounts[key]; ok {
		fail(c, http.StatusBadRequest, "EMAIL_EXISTS")
		return
	}
	acct := &account{localID: uuid.NewString(), email: req.Email, passwordHash: hash}
	s.accounts[key] = acct

	s.respondSignedIn(c, acct, false)
}

func (s *Server) signInWithPassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[strings.ToLower(req.Email)]
	if !ok || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(req.Password)) != nil {
		fail(c, http.StatusBadRequest, "INVALID_LOGIN_CREDENTIALS")
		return
	}

	s.respondSignedIn(c, acct, true)
}

// respondSignedIn issues fresh tokens for acct. Callers hold mu.
func (s *Server) respondSignedIn(c *gin.Context, acct *account, registered bool) {
	idToken, err := s.issueIDToken(acct)
	if err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	refreshToken := uuid.NewString()
	s.refresh[refreshToken] = acct.localID

	c.JSON(http.StatusOK, gin.H{
		"kind":         "identitytoolkit#VerifyPasswordResponse",
		"localId":      acct.localID,
		"email":        acct.email,
		"idToken":      idToken,
		"refreshToken": refreshToken,
		"expiresIn":    fmt.Sprintf("%d", int(tokenTTL.Seconds())),
		"registered":   registered,
	})
}

type oobRequest struct {
	RequestType string `json:"requestType"`
	Email       string `json:"email"`
	IDToken     string `json:"idToken"`
}

func (s *Server) sendOobCode(c *gin.Context) {
	var req oobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var acct *account
	switch req.RequestType {
	case RequestPasswordReset:
		var ok bool
		if acct, ok = s.accounts[strings.ToLower(req.Email)]; !ok {
			fail(c, http.StatusBadRequest, "EMAIL_NOT_FOUND")
			return
		}
	case RequestVerifyEmail:
		var err error
		if acct, err = s.accountForToken(req.IDToken); err != nil {
			fail(c, http.StatusBadRequest, "INVALID_ID_TOKEN")
			return
		}
	default:
		fail(c, http.StatusBadRequest, "INVALID_REQ_TYPE")
		return
	}

	code := uuid.NewString()
	s.oobCodes = append(s.oobCodes, OobCode{
		Email:       acct.email,
		RequestType: req.RequestType,
		OobCode:     code,
		OobLink:     fmt.Sprintf("http://%s/emulator/action?mode=%s&oobCode=%s", c.Request.Host, modeFor(req.RequestType), code),
	})
	log.Info("emulator issued action code", "type", req.RequestType, "email", acct.email, "code", code)

	c.JSON(http.StatusOK, gin.H{
		"kind":  "identitytoolkit#GetOobConfirmationCodeResponse",
		"email": acct.email,
	})
}

func modeFor(requestType string) string {
	if requestType == RequestPasswordReset {
		return "resetPassword"
	}
	return "verifyEmail"
}

type updateRequest struct {
	OobCode     string `json:"oobCode"`
	NewPassword string `json:"newPassword"`
}

// update applies an action code: it verifies the email or resets the password.
func (s *Server) update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_JSON")
		return
	}

	code, acct, err := s.applyOobCode(req.OobCode, req.NewPassword)
	if err != nil {
		failWith(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":          "identitytoolkit#SetAccountInfoResponse",
		"email":         acct.email,
		"emailVerified": acct.emailVerified,
		"requestType":   code.RequestType,
	})
}

// action serves the links logged for issued codes, standing in for the
// provider's hosted action page.
func (s *Server) action(c *gin.Context) {
	code, acct, err := s.applyOobCode(c.Query("oobCode"), c.Query("newPassword"))
	if err != nil {
		c.String(http.StatusBadRequest, "%s\n", err.Error())
		return
	}
	if code.RequestType == RequestPasswordReset {
		c.String(http.StatusOK, "Password changed for %s.\n", acct.email)
		return
	}
	c.String(http.StatusOK, "Email %s verified. You can now sign in.\n", acct.email)
}

// actionError carries a provider error code and its HTTP status.
type actionError struct {
	status  int
	message string
}

func (e *actionError) Error() string {
	return e.message
}

func failWith(c *gin.Context, err error) {
	if ae, ok := err.(*actionError); ok {
		fail(c, ae.status, ae.message)
		return
	}
	fail(c, http.StatusInternalServerError, "INTERNAL_ERROR")
}

// ApplyOobCode consumes an action code as if its emailed link had been
// followed. Password reset codes need newPassword.
func (s *Server) ApplyOobCode(oobCode, newPassword string) (OobCode, error) {
	code, _, err := s.applyOobCode(oobCode, newPassword)
	return code, err
}

// applyOobCode returns the consumed code and a snapshot of the account.
func (s *Server) applyOobCode(oobCode, newPassword string) (OobCode, account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, code := range s.oobCodes {
		if code.OobCode == oobCode {
			idx = i
			break
		}
	}
	if oobCode == "" || idx < 0 {
		return OobCode{}, account{}, &actionError{http.StatusBadRequest, "INVALID_OOB_CODE"}
	}
	code := s.oobCodes[idx]
	acct, ok := s.accounts[strings.ToLower(code.Email)]
	if !ok {
		return OobCode{}, account{}, &actionError{http.StatusBadRequest, "USER_NOT_FOUND"}
	}

	switch code.RequestType {
	case RequestVerifyEmail:
		acct.emailVerified = true
	case RequestPasswordReset:
		if len(newPassword) < minPasswordLen {
			return OobCode{}, account{}, &actionError{http.StatusBadRequest, "WEAK_PASSWORD : Password should be at least 6 characters"}
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
		if err != nil {
			return OobCode{}, account{}, &actionError{http.StatusInternalServerError, "INTERNAL_ERROR"}
		}
		acct.passwordHash = hash
	}
	s.oobCodes = append(s.oobCodes[:idx], s.oobCodes[idx+1:]...)

	return code, *acct, nil
}

func (s *Server) lookup(c *gin.Context) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.accountForToken(req.IDToken)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_ID_TOKEN")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"kind": "identitytoolkit#GetAccountInfoResponse",
		"users": []gin.H{{
			"localId":       acct.localID,
			"email":         acct.email,
			"emailVerified": acct.emailVerified,
		}},
	})
}

func (s *Server) token(c *gin.Context) {
	if c.PostForm("grant_type") != "refresh_token" {
		fail(c, http.StatusBadRequest, "INVALID_GRANT_TYPE")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := c.PostForm("refresh_token")
	localID, ok := s.refresh[old]
	acct := s.accountByID(localID)
	if !ok || acct == nil {
		fail(c, http.StatusBadRequest, "INVALID_REFRESH_TOKEN")
		return
	}

	idToken, err := s.issueIDToken(acct)
	if err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	delete(s.refresh, old)
	refreshToken := uuid.NewString()
	s.refresh[refreshToken] = acct.localID

	c.JSON(http.StatusOK, gin.H{
		"access_token":  idToken,
		"id_token":      idToken,
		"refresh_token": refreshToken,
		"expires_in":    int(tokenTTL.Seconds()),
		"token_type":    "Bearer",
		"user_id":       acct.localID,
		"project_id":    s.projectID,
	})
}

func (s *Server) listOobCodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"oobCodes": s.OobCodes()})
}

func (s *Server) reset(c *gin.Context) {
	s.Reset()
	c.JSON(http.StatusOK, gin.H{})
}

type idClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

func (s *Server) issueIDToken(acct *account) (string, error) {
	now := s.now()
	claims := idClaims{
		Email:         acct.email,
		EmailVerified: acct.emailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://securetoken.google.com/" + s.projectID,
			Audience:  jwt.ClaimStrings{s.projectID},
			Subject:   acct.localID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// accountForToken verifies an ID token issued by this emulator. Callers hold mu.
func (s *Server) accountForToken(idToken string) (*account, error) {
	var claims idClaims
	_, err := jwt.ParseWithClaims(idToken, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	acct := s.accountByID(claims.Subject)
	if acct == nil {
		return nil, errors.New("user not found")
	}
	return acct, nil
}

func (s *Server) accountByID(localID string) *account {
	for _, a := range s.accounts {
		if a.localID == localID {
			return a
		}
	}
	return nil
}
