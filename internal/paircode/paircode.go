package paircode

import (
	"errors"

	"github.com/google/uuid"
)

// MaxLen bounds the printable form accepted on the wire.
const MaxLen = 64

var errInvalid = errors.New("invalid pairing code")

// New returns a fresh 128-bit pairing code in canonical UUID form.
func New() string {
	return uuid.NewString()
}

// Validate accepts any printable 128-bit form (canonical UUID, bare hex32)
// within MaxLen. The code doubles as the HKDF salt, so the exact string must
// round-trip unchanged; validation never normalizes.
func Validate(code string) error {
	if code == "" || len(code) > MaxLen {
		return errInvalid
	}
	if _, err := uuid.Parse(code); err != nil {
		return errInvalid
	}
	return nil
}
