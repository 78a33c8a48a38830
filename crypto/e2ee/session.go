package e2ee

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"sync"
)

var (
	ErrReplayRejected = errors.New("e2ee: sequence number replayed")
	ErrAuthFailed     = errors.New("e2ee: authentication failed")
	ErrInvalidPayload = errors.New("e2ee: malformed payload")
	ErrSessionClosed  = errors.New("e2ee: session zeroized")
)

// Session is the E2EE channel state shared with a single peer.
//
// Both counters are durable session state: outboundSeq stamps every sent
// payload and lastInboundSeq enforces strict monotonicity on receive. Losing
// either across a restart would make the peer's replay check reject us.
type Session struct {
	mu sync.Mutex

	peer string
	key  []byte
	aead cipher.AEAD

	outboundSeq    int64
	lastInboundSeq int64
}

// NewSession builds a fresh session: outboundSeq=0, lastInboundSeq=-1.
func NewSession(peer string, key []byte) (*Session, error) {
	return RestoreSession(peer, key, 0, -1)
}

// RestoreSession rebuilds a session from persisted key material and counters.
func RestoreSession(peer string, key []byte, outboundSeq int64, lastInboundSeq int64) (*Session, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if aead.NonceSize() != IVSize || aead.Overhead() != TagSize {
		return nil, errors.New("e2ee: unexpected AEAD geometry")
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Session{
		peer:           peer,
		key:            k,
		aead:           aead,
		outboundSeq:    outboundSeq,
		lastInboundSeq: lastInboundSeq,
	}, nil
}

// RestoreSessionHex is RestoreSession for a hex-encoded persisted key.
func RestoreSessionHex(peer string, keyHex string, outboundSeq int64, lastInboundSeq int64) (*Session, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return RestoreSession(peer, key, outboundSeq, lastInboundSeq)
}

// Peer returns the peer device id this session is keyed by.
func (s *Session) Peer() string { return s.peer }

// KeyHex returns the derived key in the persisted hex form.
func (s *Session) KeyHex() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hex.EncodeToString(s.key)
}

// Counters returns (outboundSeq, lastInboundSeq) for persistence.
func (s *Session) Counters() (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outboundSeq, s.lastInboundSeq
}

// Encrypt seals plaintext and returns the wire payload plus the sequence
// number to send alongside it. Payload form: base64(IV || ciphertext || tag).
func (s *Session) Encrypt(plaintext []byte) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aead == nil {
		return "", 0, ErrSessionClosed
	}
	iv := make([]byte, IVSize, IVSize+len(plaintext)+TagSize)
	if _, err := rand.Read(iv); err != nil {
		return "", 0, err
	}
	sealed := s.aead.Seal(iv, iv, plaintext, nil)
	seq := s.outboundSeq
	s.outboundSeq++
	return base64.StdEncoding.EncodeToString(sealed), seq, nil
}

// Decrypt authenticates and opens a payload received with seq.
//
// The replay check runs before any decoding: seq must be strictly greater
// than lastInboundSeq. On success lastInboundSeq advances to seq.
func (s *Session) Decrypt(payload string, seq int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aead == nil {
		return nil, ErrSessionClosed
	}
	if seq <= s.lastInboundSeq {
		return nil, ErrReplayRejected
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	if len(raw) < IVSize+TagSize {
		return nil, ErrInvalidPayload
	}
	plain, err := s.aead.Open(nil, raw[:IVSize], raw[IVSize:], nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	s.lastInboundSeq = seq
	return plain, nil
}

// Zeroize clears the key material. The session is unusable afterwards.
func (s *Session) Zeroize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.key {
		s.key[i] = 0
	}
	s.aead = nil
}
