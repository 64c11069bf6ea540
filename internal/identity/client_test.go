package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/spiffcs/firststep/internal/auth"
	"github.com/spiffcs/firststep/internal/emulator"
)

type fixture struct {
	emu    *emulator.Server
	server *httptest.Server
	cache  *Cache
	client *Client
}

func newFixture(t *testing.T, opts ...emulator.Option) *fixture {
	t.Helper()
	emu := emulator.New(append([]emulator.Option{emulator.WithBcryptCost(bcrypt.MinCost)}, opts...)...)
	ts := httptest.NewServer(emu.Handler())
	t.Cleanup(ts.Close)

	cache := NewCache(filepath.Join(t.TempDir(), "session.json"), "")
	f := &fixture{emu: emu, server: ts, cache: cache}
	f.client = f.newClient(t)
	return f
}

func (f *fixture) newClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Options{
		APIKey:     "test-key",
		BaseURL:    f.server.URL + "/identitytoolkit.googleapis.com",
		TokenURL:   f.server.URL + "/securetoken.googleapis.com",
		Timeout:    5 * time.Second,
		Cache:      f.cache,
		HTTPClient: f.server.Client(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

// verify applies the latest verification code the emulator issued.
func (f *fixture) verify(t *testing.T) {
	t.Helper()
	codes := f.emu.OobCodes()
	for i := len(codes) - 1; i >= 0; i-- {
		if codes[i].RequestType != emulator.RequestVerifyEmail {
			continue
		}
		var out struct{}
		if err := f.client.post(context.Background(), "accounts:update", map[string]string{"oobCode": codes[i].OobCode}, &out); err != nil {
			t.Fatalf("apply oob code: %v", err)
		}
		return
	}
	t.Fatal("no verification code issued")
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without API key")
	}
}

func TestCreateAccountSendsVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.client.CreateAccount(ctx, "a@b.com", "pw123456"); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	user := f.client.CurrentUser()
	if user == nil || user.Email != "a@b.com" || user.EmailVerified {
		t.Errorf("expected unverified a@b.com, got %+v", user)
	}

	codes := f.emu.OobCodes()
	if len(codes) != 1 || codes[0].RequestType != emulator.RequestVerifyEmail {
		t.Errorf("expected one verification code, got %+v", codes)
	}

	err := f.client.CreateAccount(ctx, "a@b.com", "pw123456")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code() != "EMAIL_EXISTS" {
		t.Errorf("expected EMAIL_EXISTS, got %v", err)
	}
}

func TestCreateAccountVerificationFailure(t *testing.T) {
	emu := emulator.New(emulator.WithBcryptCost(bcrypt.MinCost))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "accounts:sendOobCode") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"UNAVAILABLE"}}`))
			return
		}
		emu.Handler().ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	f := &fixture{emu: emu, server: ts, cache: NewCache("", "")}
	c := f.newClient(t)

	err := c.CreateAccount(context.Background(), "a@b.com", "pw123456")
	if !errors.Is(err, auth.ErrVerificationNotSent) {
		t.Fatalf("expected ErrVerificationNotSent, got %v", err)
	}
	if user := c.CurrentUser(); user == nil || user.Email != "a@b.com" {
		t.Errorf("expected the new account signed in, got %+v", user)
	}
}

func TestCredentialValidation(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
	}{
		{name: "empty email", email: "", password: "pw123456"},
		{name: "malformed email", email: "nope", password: "pw123456"},
		{name: "short password", email: "a@b.com", password: "123"},
		{name: "empty password", email: "a@b.com", password: ""},
	}

	f := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.client.SignIn(context.Background(), tt.email, tt.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("SignIn() error = %v, want ErrInvalidCredentials", err)
			}
			if err := f.client.CreateAccount(context.Background(), tt.email, tt.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("CreateAccount() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestSignInReportsVerifiedClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.client.CreateAccount(ctx, "a@b.com", "pw123456"); err != nil {
		t.Fatal(err)
	}

	verified, err := f.client.SignIn(ctx, "a@b.com", "pw123456")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if verified {
		t.Error("expected unverified before applying the code")
	}

	f.verify(t)

	verified, err = f.client.SignIn(ctx, "a@b.com", "pw123456")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if !verified {
		t.Error("expected verified after applying the code")
	}
	if !f.client.CurrentUser().EmailVerified {
		t.Error("expected CurrentUser to reflect the verified claim")
	}
}

func TestSignInWrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.client.CreateAccount(ctx, "a@b.com", "pw123456"); err != nil {
		t.Fatal(err)
	}

	_, err := f.client.SignIn(ctx, "a@b.com", "wrong-password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSendPasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.client.CreateAccount(ctx, "a@b.com", "pw123456"); err != nil {
		t.Fatal(err)
	}

	if err := f.client.SendPasswordReset(ctx, "a@b.com"); err != nil {
		t.Fatalf("SendPasswordReset() error = %v", err)
	}
	codes := f.emu.OobCodes()
	if last := codes[len(codes)-1]; last.RequestType != emulator.RequestPasswordReset {
		t.Errorf("expected a password reset code, got %+v", last)
	}

	if err := f.client.SendPasswordReset(ctx, "not-an-email"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := f.client.SendPasswordReset(ctx, "nobody@b.com"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected EMAIL_NOT_FOUND to count as invalid credentials, got %v", err)
	}
}

func TestSendEmailVerificationRequiresSession(t *testing.T) {
	f := newFixture(t)
	if err := f.client.SendEmailVerification(context.Background()); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("expected ErrNotSignedIn, got %v", err)
	}
}

func TestSignOutClearsSessionAndCache(t *testing.T) {
	f := newFixture(t)
	if err := f.client.CreateAccount(context.Background(), "a@b.com", "pw123456"); err != nil {
		t.Fatal(err)
	}

	if err := f.client.SignOut(); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if f.client.CurrentUser() != nil {
		t.Error("expected no current user after sign out")
	}
	if s, err := f.cache.Load(); err != nil || s != nil {
		t.Errorf("expected empty cache, got %+v, %v", s, err)
	}
	if err := f.client.SignOut(); err != nil {
		t.Errorf("expected repeated SignOut to succeed, got %v", err)
	}
}

// countingTransport counts requests that reach the network.
type countingTransport struct {
	mu    sync.Mutex
	count int
	ids   []string
	base  http.RoundTripper
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.count++
	c.ids = append(c.ids, req.Header.Get(RequestIDHeader))
	c.mu.Unlock()
	return c.base.RoundTrip(req)
}

func TestCurrentUserFromCacheMakesNoRequests(t *testing.T) {
	f := newFixture(t)
	if err := f.client.CreateAccount(context.Background(), "a@b.com", "pw123456"); err != nil {
		t.Fatal(err)
	}

	counter := &countingTransport{base: http.DefaultTransport}
	restored, err := New(Options{
		APIKey:     "test-key",
		BaseURL:    f.server.URL + "/identitytoolkit.googleapis.com",
		Cache:      f.cache,
		HTTPClient: &http.Client{Transport: counter},
	})
	if err != nil {
		t.Fatal(err)
	}

	user := restored.CurrentUser()
	if user == nil || user.Email != "a@b.com" {
		t.Fatalf("expected cached user, got %+v", user)
	}
	if counter.count != 0 {
		t.Errorf("expected no requests, got %d", counter.count)
	}
}

func TestRequestsCarryRequestID(t *testing.T) {
	f := newFixture(t)
	counter := &countingTransport{base: http.DefaultTransport}
	c, err := New(Options{
		APIKey:     "test-key",
		BaseURL:    f.server.URL + "/identitytoolkit.googleapis.com",
		TokenURL:   f.server.URL + "/securetoken.googleapis.com",
		HTTPClient: &http.Client{Transport: counter},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.CreateAccount(context.Background(), "a@b.com", "pw123456"); err != nil {
		t.Fatal(err)
	}

	counter.mu.Lock()
	defer counter.mu.Unlock()
	if counter.count != 2 {
		t.Fatalf("expected signUp and sendOobCode requests, got %d", counter.count)
	}
	seen := map[string]bool{}
	for _, id := range counter.ids {
		if id == "" {
			t.Error("expected request ID header")
		}
		if seen[id] {
			t.Errorf("duplicate request ID %s", id)
		}
		seen[id] = true
	}
}

func TestExpiredTokenIsRefreshed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.client.CreateAccount(ctx, "a@b.com", "pw123456"); err != nil {
		t.Fatal(err)
	}

	f.client.mu.Lock()
	stale := *f.client.session
	f.client.session.Expiry = time.Now().Add(-time.Minute)
	f.client.mu.Unlock()

	if err := f.client.SendEmailVerification(ctx); err != nil {
		t.Fatalf("SendEmailVerification() error = %v", err)
	}

	f.client.mu.Lock()
	refreshed := *f.client.session
	f.client.mu.Unlock()

	if refreshed.RefreshToken == stale.RefreshToken {
		t.Error("expected the refresh token to rotate")
	}
	if !refreshed.Expiry.After(time.Now()) {
		t.Errorf("expected a future expiry, got %v", refreshed.Expiry)
	}

	cached, err := f.cache.Load()
	if err != nil || cached == nil || cached.RefreshToken != refreshed.RefreshToken {
		t.Errorf("expected refreshed session persisted, got %+v, %v", cached, err)
	}
}

func TestAPIErrorIs(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"INVALID_LOGIN_CREDENTIALS", true},
		{"INVALID_PASSWORD", true},
		{"EMAIL_NOT_FOUND", true},
		{"WEAK_PASSWORD : Password should be at least 6 characters", true},
		{"EMAIL_EXISTS", false},
		{"TOO_MANY_ATTEMPTS_TRY_LATER", false},
	}
	for _, tt := range tests {
		err := error(&APIError{StatusCode: http.StatusBadRequest, Message: tt.message})
		if got := errors.Is(err, ErrInvalidCredentials); got != tt.want {
			t.Errorf("errors.Is(%q, ErrInvalidCredentials) = %v, want %v", tt.message, got, tt.want)
		}
	}
}
