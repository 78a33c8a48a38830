package deviceid

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"os/user"

	"github.com/google/uuid"
)

var errInvalid = errors.New("invalid device id")

// New derives a fresh device id from a random install UUID and the OS username.
//
// The result is stable only if the caller persists it; New never reads the store.
func New() string {
	return Derive(uuid.NewString(), osUsername())
}

// Derive hashes installID together with username into a 32-char lowercase hex id.
func Derive(installID string, username string) string {
	sum := sha256.Sum256([]byte(installID + ":" + username))
	return hex.EncodeToString(sum[:16])
}

// Validate checks the wire form of a device id: lowercase-or-uppercase hex,
// even length between 16 and 64 chars. Peers built on other stacks may hash to
// longer digests, so the exact length is not pinned.
func Validate(id string) error {
	if len(id) < 16 || len(id) > 64 {
		return errInvalid
	}
	if _, err := hex.DecodeString(id); err != nil {
		return errInvalid
	}
	return nil
}

func osUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	if v := os.Getenv("USERNAME"); v != "" {
		return v
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}
