package identity

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testSession() *Session {
	return &Session{
		LocalID:       "local-1",
		Email:         "a@b.com",
		EmailVerified: true,
		IDToken:       "id-token",
		RefreshToken:  "refresh-token",
		Expiry:        time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestCacheRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{name: "plain", secret: ""},
		{name: "sealed", secret: "correct horse battery staple"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "session.json")
			c := NewCache(path, tt.secret)

			if err := c.Save(testSession()); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if perm := info.Mode().Perm(); perm != 0o600 {
				t.Errorf("expected mode 0600, got %o", perm)
			}

			got, err := c.Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			want := testSession()
			if got == nil || !got.Expiry.Equal(want.Expiry) {
				t.Fatalf("Load() = %+v, want %+v", got, want)
			}
			got.Expiry = want.Expiry
			if *got != *want {
				t.Errorf("Load() = %+v, want %+v", got, want)
			}

			data, _ := os.ReadFile(path)
			sealed := !bytes.Contains(data, []byte("refresh-token"))
			if sealed != (tt.secret != "") {
				t.Errorf("expected sealed=%v, file was %s", tt.secret != "", data)
			}
		})
	}
}

func TestCacheSealedNeedsKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := NewCache(path, "secret").Save(testSession()); err != nil {
		t.Fatal(err)
	}

	if _, err := NewCache(path, "").Load(); err == nil {
		t.Error("expected error loading sealed cache without key")
	}
	if _, err := NewCache(path, "other secret").Load(); err == nil {
		t.Error("expected error loading sealed cache with the wrong key")
	}
}

func TestCacheMissingFile(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "missing.json"), "")
	s, err := c.Load()
	if err != nil || s != nil {
		t.Errorf("expected (nil, nil), got %+v, %v", s, err)
	}
	if err := c.Clear(); err != nil {
		t.Errorf("Clear() on missing file error = %v", err)
	}
}

func TestCacheDisabled(t *testing.T) {
	c := NewCache("", "")
	if err := c.Save(testSession()); err != nil {
		t.Errorf("Save() error = %v", err)
	}
	if s, err := c.Load(); err != nil || s != nil {
		t.Errorf("expected nothing persisted, got %+v, %v", s, err)
	}
}

func TestCacheCorruptFileStartsSignedOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := New(Options{APIKey: "key", Cache: NewCache(path, "")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.CurrentUser() != nil {
		t.Error("expected no user from a corrupt cache")
	}
}
