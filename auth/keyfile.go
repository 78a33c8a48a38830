package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"

	"github.com/claude-studio/pairlink/internal/securefile"
)

// MinSecretLen is the smallest accepted HMAC secret. HS256 secrets shorter
// than the hash size weaken the MAC.
const MinSecretLen = 32

// SecretFile is the JSON layout of the shared HMAC secret keyfile.
//
// This format is for self-hosted deployments and development. Keep it secret.
type SecretFile struct {
	KID       string `json:"kid"`         // Key id, informational.
	SecretB64 string `json:"secret_b64u"` // Base64url-encoded HMAC secret.
}

// LoadSecretFile reads and decodes a secret keyfile.
func LoadSecretFile(path string) ([]byte, string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	var f SecretFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, "", err
	}
	if f.SecretB64 == "" {
		return nil, "", errors.New("auth: secret file missing secret_b64u")
	}
	secret, err := base64.RawURLEncoding.DecodeString(f.SecretB64)
	if err != nil {
		return nil, "", errors.New("auth: secret file has invalid base64url secret")
	}
	if len(secret) < MinSecretLen {
		return nil, "", errors.New("auth: secret too short")
	}
	return secret, f.KID, nil
}

// WriteSecretFile persists a secret keyfile atomically with owner-only mode.
func WriteSecretFile(path string, kid string, secret []byte) error {
	if len(secret) < MinSecretLen {
		return errors.New("auth: secret too short")
	}
	return securefile.WriteJSONAtomic(path, SecretFile{
		KID:       kid,
		SecretB64: base64.RawURLEncoding.EncodeToString(secret),
	}, 0o600)
}

// NewRandomSecret draws a fresh HMAC secret of n bytes (n < MinSecretLen is
// raised to MinSecretLen).
func NewRandomSecret(n int) ([]byte, error) {
	if n < MinSecretLen {
		n = MinSecretLen
	}
	secret := make([]byte, n)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}
