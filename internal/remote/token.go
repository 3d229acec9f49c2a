package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken means there is no usable access token; the user has to sign
// in again.
var ErrNoToken = errors.New("not signed in")

// TokenEnv overrides the stored credentials when set.
const TokenEnv = "COMPETREE_TOKEN"

// expirySkew treats tokens about to expire as already expired.
const expirySkew = 60 * time.Second

// Credentials stores authentication tokens.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Email        string `json:"email,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	ServerURL    string `json:"server_url,omitempty"`
}

// DefaultCredentialsPath returns ~/.competree/credentials.json.
func DefaultCredentialsPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".competree", "credentials.json")
}

// LoadCredentials loads stored credentials. A missing file is not an
// error and yields nil.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	return &creds, nil
}

// SaveCredentials writes credentials readable by the owner only.
func SaveCredentials(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}

// TokenProvider supplies the access token for backend calls.
type TokenProvider struct {
	Path   string
	Getenv func(string) string
	Now    func() time.Time
}

// NewTokenProvider reads credentials from path, with TokenEnv taking
// precedence.
func NewTokenProvider(path string) *TokenProvider {
	if path == "" {
		path = DefaultCredentialsPath()
	}
	return &TokenProvider{Path: path, Getenv: os.Getenv, Now: time.Now}
}

// Token returns a token that is not known to be expired, or ErrNoToken.
func (p *TokenProvider) Token() (string, error) {
	now := p.Now()

	if tok := p.Getenv(TokenEnv); tok != "" {
		if expired(tok, now) {
			return "", fmt.Errorf("%s: %w (token expired)", TokenEnv, ErrNoToken)
		}
		return tok, nil
	}

	creds, err := LoadCredentials(p.Path)
	if err != nil {
		return "", err
	}
	if creds == nil || creds.AccessToken == "" {
		return "", ErrNoToken
	}
	if creds.ExpiresAt > 0 && now.Unix() > creds.ExpiresAt-int64(expirySkew/time.Second) {
		return "", fmt.Errorf("%w (token expired)", ErrNoToken)
	}
	if expired(creds.AccessToken, now) {
		return "", fmt.Errorf("%w (token expired)", ErrNoToken)
	}
	return creds.AccessToken, nil
}

// Expiry returns the exp claim of a JWT access token. The signature is not
// checked; the backend does that. Opaque tokens report false.
func Expiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func expired(token string, now time.Time) bool {
	exp, ok := Expiry(token)
	return ok && now.Add(expirySkew).After(exp)
}
