// Package e2ee implements the paired-device encryption layer: ephemeral P-256
// keypairs, HKDF-SHA256 key derivation salted with the pairing code, and an
// AES-256-GCM session with strict sequence-number replay protection.
//
// The relay server never sees key material; everything here runs on the
// endpoints only.
package e2ee

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the derived AES-256 key length.
	KeySize = 32
	// IVSize is the GCM nonce length carried at the front of each payload.
	IVSize = 12
	// TagSize is the GCM authentication tag length at the end of each payload.
	TagSize = 16

	// hkdfInfo is the fixed derivation label. Both endpoints must feed the
	// exact same bytes into HKDF or the derived keys will not match.
	hkdfInfo = "claude-studio-e2ee"

	// publicKeyLen is an uncompressed P-256 point: 0x04 || X(32) || Y(32).
	publicKeyLen = 65
)

var (
	ErrInvalidPublicKey = errors.New("e2ee: invalid public key")
	ErrInvalidKey       = errors.New("e2ee: invalid session key")
)

// KeyPair is an ephemeral P-256 keypair used for one pairing handshake.
type KeyPair struct {
	priv *ecdh.PrivateKey

	// PublicHex is the uncompressed point 0x04||X||Y, lowercase hex. This is
	// the wire form both endpoints exchange.
	PublicHex string
}

// GenerateKeyPair creates an ephemeral keypair for one pairing handshake.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		priv:      priv,
		PublicHex: hex.EncodeToString(priv.PublicKey().Bytes()),
	}, nil
}

// ParsePublicKey decodes a peer's hex-encoded uncompressed P-256 point.
func ParsePublicKey(publicHex string) (*ecdh.PublicKey, error) {
	raw, err := hex.DecodeString(publicHex)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	if len(raw) != publicKeyLen || raw[0] != 0x04 {
		return nil, ErrInvalidPublicKey
	}
	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return pub, nil
}

// DeriveKey computes the shared AES-256 key for a pairing.
//
// The ECDH result over P-256 is the shared point's X-coordinate (32 bytes),
// used as HKDF input keying material with the pairing code as salt. Desktop
// and mobile derive byte-identical keys from mirrored inputs.
func (kp *KeyPair) DeriveKey(peerPublicHex string, pairingCode string) ([]byte, error) {
	pub, err := ParsePublicKey(peerPublicHex)
	if err != nil {
		return nil, err
	}
	shared, err := kp.priv.ECDH(pub)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	r := hkdf.New(sha256.New, shared, []byte(pairingCode), []byte(hkdfInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
