package emulator

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(WithBcryptCost(bcrypt.MinCost))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func call(t *testing.T, ts *httptest.Server, action string, body any) (int, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+"/identitytoolkit.googleapis.com/v1/"+action+"?key=test", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", action, err)
	}
	return resp.StatusCode, out
}

func errorMessage(out map[string]any) string {
	e, _ := out["error"].(map[string]any)
	msg, _ := e["message"].(string)
	return msg
}

func verifiedClaim(t *testing.T, idToken string) bool {
	t.Helper()
	var claims idClaims
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, &claims); err != nil {
		t.Fatalf("parse id token: %v", err)
	}
	return claims.EmailVerified
}

func signUp(t *testing.T, ts *httptest.Server, email, password string) map[string]any {
	t.Helper()
	status, out := call(t, ts, "accounts:signUp", map[string]any{"email": email, "password": password, "returnSecureToken": true})
	if status != http.StatusOK {
		t.Fatalf("signUp: status %d: %v", status, out)
	}
	return out
}

func TestSignUpValidation(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		wantMsg  string
	}{
		{name: "invalid email", email: "not-an-email", password: "pw123456", wantMsg: "INVALID_EMAIL"},
		{name: "empty email", email: "", password: "pw123456", wantMsg: "INVALID_EMAIL"},
		{name: "weak password", email: "a@b.com", password: "123", wantMsg: "WEAK_PASSWORD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := newTestServer(t)
			status, out := call(t, ts, "accounts:signUp", map[string]any{"email": tt.email, "password": tt.password})
			if status != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", status)
			}
			if msg := errorMessage(out); !strings.HasPrefix(msg, tt.wantMsg) {
				t.Errorf("expected %s, got %q", tt.wantMsg, msg)
			}
		})
	}
}

func TestSignUpDuplicate(t *testing.T) {
	_, ts := newTestServer(t)
	signUp(t, ts, "a@b.com", "pw123456")

	status, out := call(t, ts, "accounts:signUp", map[string]any{"email": "A@B.com", "password": "pw123456"})
	if status != http.StatusBadRequest || errorMessage(out) != "EMAIL_EXISTS" {
		t.Errorf("expected EMAIL_EXISTS, got %d %v", status, out)
	}
}

func TestSignInWithPassword(t *testing.T) {
	_, ts := newTestServer(t)
	signUp(t, ts, "a@b.com", "pw123456")

	tests := []struct {
		name       string
		email      string
		password   string
		wantStatus int
	}{
		{name: "correct password", email: "a@b.com", password: "pw123456", wantStatus: http.StatusOK},
		{name: "wrong password", email: "a@b.com", password: "wrong", wantStatus: http.StatusBadRequest},
		{name: "unknown email", email: "x@b.com", password: "pw123456", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := call(t, ts, "accounts:signInWithPassword", map[string]any{"email": tt.email, "password": tt.password})
			if status != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %v", tt.wantStatus, status, out)
			}
			if status != http.StatusOK {
				if msg := errorMessage(out); msg != "INVALID_LOGIN_CREDENTIALS" {
					t.Errorf("expected INVALID_LOGIN_CREDENTIALS, got %q", msg)
				}
				return
			}
			if out["registered"] != true {
				t.Error("expected registered true")
			}
		})
	}
}

func TestVerifyEmailRoundTrip(t *testing.T) {
	s, ts := newTestServer(t)
	out := signUp(t, ts, "a@b.com", "pw123456")
	idToken := out["idToken"].(string)

	if verifiedClaim(t, idToken) {
		t.Fatal("expected new account to be unverified")
	}

	status, _ := call(t, ts, "accounts:sendOobCode", map[string]any{"requestType": RequestVerifyEmail, "idToken": idToken})
	if status != http.StatusOK {
		t.Fatalf("sendOobCode: status %d", status)
	}

	codes := s.OobCodes()
	if len(codes) != 1 || codes[0].RequestType != RequestVerifyEmail || codes[0].Email != "a@b.com" {
		t.Fatalf("unexpected oob codes %+v", codes)
	}

	status, out = call(t, ts, "accounts:update", map[string]any{"oobCode": codes[0].OobCode})
	if status != http.StatusOK || out["emailVerified"] != true {
		t.Fatalf("update: status %d: %v", status, out)
	}
	if len(s.OobCodes()) != 0 {
		t.Error("expected applied code to be consumed")
	}

	status, out = call(t, ts, "accounts:signInWithPassword", map[string]any{"email": "a@b.com", "password": "pw123456"})
	if status != http.StatusOK {
		t.Fatalf("signIn: status %d", status)
	}
	if !verifiedClaim(t, out["idToken"].(string)) {
		t.Error("expected verified claim after applying the code")
	}
}

func TestPasswordReset(t *testing.T) {
	s, ts := newTestServer(t)
	signUp(t, ts, "a@b.com", "pw123456")

	status, out := call(t, ts, "accounts:sendOobCode", map[string]any{"requestType": RequestPasswordReset, "email": "nobody@b.com"})
	if status != http.StatusBadRequest || errorMessage(out) != "EMAIL_NOT_FOUND" {
		t.Fatalf("expected EMAIL_NOT_FOUND, got %d %v", status, out)
	}

	status, _ = call(t, ts, "accounts:sendOobCode", map[string]any{"requestType": RequestPasswordReset, "email": "a@b.com"})
	if status != http.StatusOK {
		t.Fatalf("sendOobCode: status %d", status)
	}
	code := s.OobCodes()[0]

	status, _ = call(t, ts, "accounts:update", map[string]any{"oobCode": code.OobCode, "newPassword": "newpass1"})
	if status != http.StatusOK {
		t.Fatalf("update: status %d", status)
	}

	if status, _ := call(t, ts, "accounts:signInWithPassword", map[string]any{"email": "a@b.com", "password": "pw123456"}); status != http.StatusBadRequest {
		t.Errorf("expected old password rejected, got %d", status)
	}
	if status, _ := call(t, ts, "accounts:signInWithPassword", map[string]any{"email": "a@b.com", "password": "newpass1"}); status != http.StatusOK {
		t.Errorf("expected new password accepted, got %d", status)
	}
}

func TestInvalidOobCode(t *testing.T) {
	_, ts := newTestServer(t)
	status, out := call(t, ts, "accounts:update", map[string]any{"oobCode": "nope"})
	if status != http.StatusBadRequest || errorMessage(out) != "INVALID_OOB_CODE" {
		t.Errorf("expected INVALID_OOB_CODE, got %d %v", status, out)
	}
}

func TestLookup(t *testing.T) {
	_, ts := newTestServer(t)
	out := signUp(t, ts, "a@b.com", "pw123456")

	status, out := call(t, ts, "accounts:lookup", map[string]any{"idToken": out["idToken"]})
	if status != http.StatusOK {
		t.Fatalf("lookup: status %d", status)
	}
	users, _ := out["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("expected one user, got %v", out["users"])
	}

	status, _ = call(t, ts, "accounts:lookup", map[string]any{"idToken": "garbage"})
	if status != http.StatusBadRequest {
		t.Errorf("expected invalid token rejected, got %d", status)
	}
}

func TestRefreshToken(t *testing.T) {
	_, ts := newTestServer(t)
	out := signUp(t, ts, "a@b.com", "pw123456")
	refresh := out["refreshToken"].(string)

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refresh}}
	resp, err := http.PostForm(ts.URL+"/securetoken.googleapis.com/v1/token?key=test", form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var tok map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, tok)
	}
	if tok["access_token"] == "" || tok["id_token"] != tok["access_token"] {
		t.Errorf("expected id token as access token, got %v", tok)
	}
	if tok["refresh_token"] == refresh {
		t.Error("expected refresh token rotation")
	}

	// The old refresh token is spent.
	resp2, err := http.PostForm(ts.URL+"/securetoken.googleapis.com/v1/token?key=test", form)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("expected spent refresh token rejected, got %d", resp2.StatusCode)
	}
}

func TestRequiresAPIKey(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/identitytoolkit.googleapis.com/v1/accounts:signUp", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without key, got %d", resp.StatusCode)
	}
}

func TestResetEndpoint(t *testing.T) {
	s, ts := newTestServer(t)
	out := signUp(t, ts, "a@b.com", "pw123456")
	call(t, ts, "accounts:sendOobCode", map[string]any{"requestType": RequestVerifyEmail, "idToken": out["idToken"]})

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/emulator/v1/accounts", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if len(s.OobCodes()) != 0 {
		t.Error("expected codes cleared")
	}
	if status, _ := call(t, ts, "accounts:signInWithPassword", map[string]any{"email": "a@b.com", "password": "pw123456"}); status != http.StatusBadRequest {
		t.Errorf("expected accounts cleared, got %d", status)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := New(WithBcryptCost(bcrypt.MinCost))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/emulator/v1/oobCodes")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestActionLink(t *testing.T) {
	s, ts := newTestServer(t)
	out := signUp(t, ts, "a@b.com", "pw123456")
	call(t, ts, "accounts:sendOobCode", map[string]any{"requestType": RequestVerifyEmail, "idToken": out["idToken"]})

	codes := s.OobCodes()
	if len(codes) != 1 {
		t.Fatalf("unexpected oob codes %+v", codes)
	}
	link, err := url.Parse(codes[0].OobLink)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []int{http.StatusOK, http.StatusBadRequest} {
		resp, err := http.Get(ts.URL + link.RequestURI())
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s = %d, want %d", link.RequestURI(), resp.StatusCode, want)
		}
	}

	_, out = call(t, ts, "accounts:signInWithPassword", map[string]any{"email": "a@b.com", "password": "pw123456"})
	if !verifiedClaim(t, out["idToken"].(string)) {
		t.Error("expected the link to verify the email")
	}
}

func TestApplyOobCode(t *testing.T) {
	s, ts := newTestServer(t)
	signUp(t, ts, "a@b.com", "pw123456")
	call(t, ts, "accounts:sendOobCode", map[string]any{"requestType": RequestPasswordReset, "email": "a@b.com"})

	code := s.OobCodes()[0].OobCode
	if _, err := s.ApplyOobCode(code, "123"); err == nil || !strings.Contains(err.Error(), "WEAK_PASSWORD") {
		t.Errorf("expected WEAK_PASSWORD, got %v", err)
	}
	applied, err := s.ApplyOobCode(code, "newpass99")
	if err != nil {
		t.Fatalf("ApplyOobCode() error = %v", err)
	}
	if applied.RequestType != RequestPasswordReset {
		t.Errorf("applied %+v", applied)
	}
	if _, err := s.ApplyOobCode(code, "newpass99"); err == nil {
		t.Error("expected a consumed code to be rejected")
	}

	status, _ := call(t, ts, "accounts:signInWithPassword", map[string]any{"email": "a@b.com", "password": "newpass99"})
	if status != http.StatusOK {
		t.Errorf("sign in with new password: status %d", status)
	}
}
