package e2ee

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func mustKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func TestPublicKeyWireForm(t *testing.T) {
	kp := mustKeyPair(t)
	if len(kp.PublicHex) != 130 {
		t.Fatalf("public key hex length = %d, want 130", len(kp.PublicHex))
	}
	if !strings.HasPrefix(kp.PublicHex, "04") {
		t.Fatalf("public key %q is not an uncompressed point", kp.PublicHex[:8])
	}
	if kp.PublicHex != strings.ToLower(kp.PublicHex) {
		t.Fatal("public key hex is not lowercase")
	}
	if _, err := ParsePublicKey(kp.PublicHex); err != nil {
		t.Fatalf("ParsePublicKey rejected own key: %v", err)
	}
}

func TestParsePublicKeyRejectsBadInput(t *testing.T) {
	kp := mustKeyPair(t)
	cases := []string{
		"",
		"zz",
		"04deadbeef",
		strings.Replace(kp.PublicHex, "04", "02", 1), // compressed prefix
		kp.PublicHex + "00",
	}
	for _, c := range cases {
		if _, err := ParsePublicKey(c); !errors.Is(err, ErrInvalidPublicKey) {
			t.Fatalf("ParsePublicKey(%.16q...) = %v, want ErrInvalidPublicKey", c, err)
		}
	}
}

func TestDeriveKeySymmetric(t *testing.T) {
	desktop := mustKeyPair(t)
	mobile := mustKeyPair(t)
	const code = "bd9e2f70-6a21-4c8e-9f3d-58a1c0b7e412"

	kd, err := desktop.DeriveKey(mobile.PublicHex, code)
	if err != nil {
		t.Fatal(err)
	}
	km, err := mobile.DeriveKey(desktop.PublicHex, code)
	if err != nil {
		t.Fatal(err)
	}
	if len(kd) != KeySize {
		t.Fatalf("key length = %d, want %d", len(kd), KeySize)
	}
	if !bytes.Equal(kd, km) {
		t.Fatalf("derived keys differ:\n desktop %x\n mobile  %x", kd, km)
	}
}

func TestDeriveKeySaltMatters(t *testing.T) {
	desktop := mustKeyPair(t)
	mobile := mustKeyPair(t)

	k1, err := desktop.DeriveKey(mobile.PublicHex, "code-one")
	if err != nil {
		t.Fatal(err)
	}
	k2, err := desktop.DeriveKey(mobile.PublicHex, "code-two")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(k1, k2) {
		t.Fatal("different pairing codes derived the same key")
	}
}

func sessionPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	desktop := mustKeyPair(t)
	mobile := mustKeyPair(t)
	const code = "af3c9d40-0000-4abc-8def-112233445566"
	kd, err := desktop.DeriveKey(mobile.PublicHex, code)
	if err != nil {
		t.Fatal(err)
	}
	km, err := mobile.DeriveKey(desktop.PublicHex, code)
	if err != nil {
		t.Fatal(err)
	}
	sd, err := NewSession("mobile-1", kd)
	if err != nil {
		t.Fatal(err)
	}
	sm, err := NewSession("desktop-1", km)
	if err != nil {
		t.Fatal(err)
	}
	return sd, sm
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sd, sm := sessionPair(t)

	for i := 0; i < 3; i++ {
		msg := []byte("hello from desktop " + string(rune('0'+i)))
		payload, seq, err := sd.Encrypt(msg)
		if err != nil {
			t.Fatal(err)
		}
		if seq != int64(i) {
			t.Fatalf("send %d: seq = %d", i, seq)
		}
		got, err := sm.Decrypt(payload, seq)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("round trip mismatch: %q != %q", got, msg)
		}
	}
	out, lastIn := sm.Counters()
	if out != 0 || lastIn != 2 {
		t.Fatalf("mobile counters = (%d, %d), want (0, 2)", out, lastIn)
	}
}

func TestPayloadWireFormat(t *testing.T) {
	sd, _ := sessionPair(t)
	plain := []byte("format probe")
	payload, _, err := sd.Encrypt(plain)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("payload is not std base64: %v", err)
	}
	if want := IVSize + len(plain) + TagSize; len(raw) != want {
		t.Fatalf("sealed length = %d, want %d (IV+ct+tag)", len(raw), want)
	}
}

func TestReplayRejected(t *testing.T) {
	sd, sm := sessionPair(t)
	payload, seq, err := sd.Encrypt([]byte("once"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sm.Decrypt(payload, seq); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.Decrypt(payload, seq); !errors.Is(err, ErrReplayRejected) {
		t.Fatalf("second decrypt = %v, want ErrReplayRejected", err)
	}
	// A lower sequence is rejected before any decoding.
	if _, err := sm.Decrypt("!!not-base64!!", seq-1); !errors.Is(err, ErrReplayRejected) {
		t.Fatalf("stale seq = %v, want ErrReplayRejected", err)
	}
}

func TestAuthFailedOnTamper(t *testing.T) {
	sd, sm := sessionPair(t)
	payload, seq, err := sd.Encrypt([]byte("integrity"))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)
	if _, err := sm.Decrypt(tampered, seq); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("tampered decrypt = %v, want ErrAuthFailed", err)
	}
	// The failed attempt must not advance the replay counter.
	if _, err := sm.Decrypt(payload, seq); err != nil {
		t.Fatalf("original payload after failed tamper: %v", err)
	}
}

func TestAuthFailedOnWrongKey(t *testing.T) {
	sd, _ := sessionPair(t)
	_, other := sessionPair(t)
	payload, seq, err := sd.Encrypt([]byte("wrong key"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Decrypt(payload, seq); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("wrong-key decrypt = %v, want ErrAuthFailed", err)
	}
}

func TestDecryptMalformedPayload(t *testing.T) {
	_, sm := sessionPair(t)
	if _, err := sm.Decrypt("%%%", 0); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("bad base64 = %v, want ErrInvalidPayload", err)
	}
	short := base64.StdEncoding.EncodeToString(make([]byte, IVSize+TagSize-1))
	if _, err := sm.Decrypt(short, 0); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("short payload = %v, want ErrInvalidPayload", err)
	}
}

func TestRestoreSessionKeepsCounters(t *testing.T) {
	sd, sm := sessionPair(t)
	for i := 0; i < 5; i++ {
		payload, seq, err := sd.Encrypt([]byte("n"))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := sm.Decrypt(payload, seq); err != nil {
			t.Fatal(err)
		}
	}

	out, lastIn := sd.Counters()
	restored, err := RestoreSessionHex(sd.Peer(), sd.KeyHex(), out, lastIn)
	if err != nil {
		t.Fatal(err)
	}
	payload, seq, err := restored.Encrypt([]byte("after restart"))
	if err != nil {
		t.Fatal(err)
	}
	if seq != 5 {
		t.Fatalf("restored outbound seq = %d, want 5", seq)
	}
	got, err := sm.Decrypt(payload, seq)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "after restart" {
		t.Fatalf("got %q", got)
	}
}

func TestRestoreSessionRejectsBadKey(t *testing.T) {
	if _, err := RestoreSession("p", make([]byte, 16), 0, -1); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("short key = %v, want ErrInvalidKey", err)
	}
	if _, err := RestoreSessionHex("p", "zz", 0, -1); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("bad hex = %v, want ErrInvalidKey", err)
	}
}

func TestZeroize(t *testing.T) {
	sd, _ := sessionPair(t)
	sd.Zeroize()
	if _, _, err := sd.Encrypt([]byte("x")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("encrypt after zeroize = %v, want ErrSessionClosed", err)
	}
	if _, err := sd.Decrypt("AAAA", 0); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("decrypt after zeroize = %v, want ErrSessionClosed", err)
	}
	if sd.KeyHex() != hex.EncodeToString(make([]byte, KeySize)) {
		t.Fatal("key bytes not cleared")
	}
}
