package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerifierConfig configures the HS256 JWT verifier.
type VerifierConfig struct {
	SecretFile string        // Path to the shared-secret keyfile (required).
	Audience   string        // Expected aud claim; empty skips the check.
	Issuer     string        // Expected iss claim; empty skips the check.
	Leeway     time.Duration // Clock-skew allowance for exp/nbf.
	UsersFile  string        // Optional allowlist of permitted sub values.
}

// Verifier validates HS256 JWTs against a reloadable secret file.
type Verifier struct {
	cfg VerifierConfig

	mu     sync.RWMutex
	secret []byte
	kid    string
	users  map[string]bool // nil means every authenticated subject exists
}

// NewVerifier loads the secret (and optional users allowlist) and returns a
// ready Verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.SecretFile == "" {
		return nil, fmt.Errorf("auth: missing secret file")
	}
	v := &Verifier{cfg: cfg}
	if err := v.Reload(); err != nil {
		return nil, err
	}
	return v, nil
}

// Reload re-reads the secret file and users allowlist. Safe to call from a
// signal handler goroutine while verifications are in flight.
func (v *Verifier) Reload() error {
	secret, kid, err := LoadSecretFile(v.cfg.SecretFile)
	if err != nil {
		return err
	}
	var users map[string]bool
	if v.cfg.UsersFile != "" {
		users, err = loadUsersFile(v.cfg.UsersFile)
		if err != nil {
			return err
		}
	}
	v.mu.Lock()
	v.secret = secret
	v.kid = kid
	v.users = users
	v.mu.Unlock()
	return nil
}

// KID returns the key id of the currently loaded secret.
func (v *Verifier) KID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.kid
}

// VerifyToken parses and validates the token, returning the sub claim.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.cfg.Leeway))
	}

	v.mu.RLock()
	secret := v.secret
	v.mu.RUnlock()

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return sub, nil
}

// UserExists reports whether the resolved user is known. Without an
// allowlist, every non-empty authenticated subject exists.
func (v *Verifier) UserExists(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	v.mu.RLock()
	users := v.users
	v.mu.RUnlock()
	if users == nil {
		return true
	}
	return users[userID]
}
