package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// Session is the signed-in account as persisted between runs.
type Session struct {
	LocalID       string    `json:"localId"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	IDToken       string    `json:"idToken"`
	RefreshToken  string    `json:"refreshToken"`
	Expiry        time.Time `json:"expiry"`
}

// cacheFile is the on-disk layout. Exactly one of Session or Sealed is set.
type cacheFile struct {
	Session *Session `json:"session,omitempty"`
	Sealed  []byte   `json:"sealed,omitempty"`
}

// Cache persists a Session to a single file, sealing it with
// ChaCha20-Poly1305 when a key is configured.
type Cache struct {
	path string
	key  []byte
}

// NewCache returns a cache at path. An empty secret stores the session in
// plain JSON. An empty path disables persistence.
func NewCache(path, secret string) *Cache {
	c := &Cache{path: path}
	if secret != "" {
		sum := sha256.Sum256([]byte(secret))
		c.key = sum[:]
	}
	return c
}

// DefaultCachePath returns the session file under the user cache directory.
func DefaultCachePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "firststep", "session.json"), nil
}

// Path returns the cache file location.
func (c *Cache) Path() string {
	return c.path
}

// Load reads the cached session. A missing file yields (nil, nil).
func (c *Cache) Load() (*Session, error) {
	if c.path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse session cache: %w", err)
	}

	if f.Sealed == nil {
		return f.Session, nil
	}
	if c.key == nil {
		return nil, errors.New("session cache is sealed but no session key is set")
	}

	plain, err := c.open(f.Sealed)
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(plain, &s); err != nil {
		return nil, fmt.Errorf("failed to parse sealed session: %w", err)
	}
	return &s, nil
}

// Save writes s to disk, replacing any previous session.
func (c *Cache) Save(s *Session) error {
	if c.path == "" {
		return nil
	}

	var f cacheFile
	if c.key == nil {
		f.Session = s
	} else {
		plain, err := json.Marshal(s)
		if err != nil {
			return err
		}
		if f.Sealed, err = c.seal(plain); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o600)
}

// Clear removes the cached session.
func (c *Cache) Clear() error {
	if c.path == "" {
		return nil
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (c *Cache) seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, fmt.Errorf("create chacha20: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func (c *Cache) open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, fmt.Errorf("create chacha20: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("sealed session too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed session: %w", err)
	}
	return plain, nil
}
