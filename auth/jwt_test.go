package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func writeSecretFile(t *testing.T, dir, kid string, secret []byte) string {
	t.Helper()
	path := filepath.Join(dir, "relay-secret.json")
	if err := WriteSecretFile(path, kid, secret); err != nil {
		t.Fatalf("WriteSecretFile: %v", err)
	}
	return path
}

func mintToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestSecretFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secret, err := NewRandomSecret(48)
	if err != nil {
		t.Fatalf("NewRandomSecret: %v", err)
	}
	if len(secret) != 48 {
		t.Fatalf("secret length = %d, want 48", len(secret))
	}
	path := writeSecretFile(t, dir, "dev-1", secret)

	got, kid, err := LoadSecretFile(path)
	if err != nil {
		t.Fatalf("LoadSecretFile: %v", err)
	}
	if kid != "dev-1" {
		t.Fatalf("kid = %q, want dev-1", kid)
	}
	if string(got) != string(secret) {
		t.Fatal("loaded secret differs from written secret")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Fatalf("secret file mode %v readable by group/other", perm)
	}
}

func TestLoadSecretFileRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		body string
	}{
		{"not json", "hello"},
		{"missing secret", `{"kid":"x"}`},
		{"bad base64", `{"kid":"x","secret_b64u":"!!!"}`},
		{"too short", `{"kid":"x","secret_b64u":"c2hvcnQ"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".json")
			if err := os.WriteFile(path, []byte(tc.body), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, _, err := LoadSecretFile(path); err == nil {
				t.Fatal("LoadSecretFile accepted malformed file")
			}
		})
	}
}

func TestWriteSecretFileRejectsShortSecret(t *testing.T) {
	dir := t.TempDir()
	err := WriteSecretFile(filepath.Join(dir, "s.json"), "x", []byte("short"))
	if err == nil {
		t.Fatal("WriteSecretFile accepted a short secret")
	}
}

func newTestVerifier(t *testing.T, cfg VerifierConfig) (*Verifier, []byte) {
	t.Helper()
	secret, err := NewRandomSecret(MinSecretLen)
	if err != nil {
		t.Fatalf("NewRandomSecret: %v", err)
	}
	cfg.SecretFile = writeSecretFile(t, t.TempDir(), "test", secret)
	v, err := NewVerifier(cfg)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v, secret
}

func TestVerifyToken(t *testing.T) {
	v, secret := newTestVerifier(t, VerifierConfig{})
	tok := mintToken(t, secret, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	sub, err := v.VerifyToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if sub != "user-1" {
		t.Fatalf("sub = %q, want user-1", sub)
	}
}

func TestVerifyTokenRejections(t *testing.T) {
	v, secret := newTestVerifier(t, VerifierConfig{})
	other, _ := NewRandomSecret(MinSecretLen)
	future := time.Now().Add(time.Hour).Unix()

	noneTok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1", "exp": future,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.jwt"},
		{"wrong secret", mintToken(t, other, jwt.MapClaims{"sub": "user-1", "exp": future})},
		{"expired", mintToken(t, secret, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix()})},
		{"no expiry", mintToken(t, secret, jwt.MapClaims{"sub": "user-1"})},
		{"no sub", mintToken(t, secret, jwt.MapClaims{"exp": future})},
		{"alg none", noneTok},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.VerifyToken(context.Background(), tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("VerifyToken error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestVerifyTokenAudienceAndIssuer(t *testing.T) {
	v, secret := newTestVerifier(t, VerifierConfig{Audience: "relay", Issuer: "pairlink"})
	future := time.Now().Add(time.Hour).Unix()

	good := mintToken(t, secret, jwt.MapClaims{
		"sub": "user-1", "exp": future, "aud": "relay", "iss": "pairlink",
	})
	if _, err := v.VerifyToken(context.Background(), good); err != nil {
		t.Fatalf("VerifyToken with matching aud/iss: %v", err)
	}

	badAud := mintToken(t, secret, jwt.MapClaims{
		"sub": "user-1", "exp": future, "aud": "elsewhere", "iss": "pairlink",
	})
	if _, err := v.VerifyToken(context.Background(), badAud); err == nil {
		t.Fatal("VerifyToken accepted wrong audience")
	}

	badIss := mintToken(t, secret, jwt.MapClaims{
		"sub": "user-1", "exp": future, "aud": "relay", "iss": "someone",
	})
	if _, err := v.VerifyToken(context.Background(), badIss); err == nil {
		t.Fatal("VerifyToken accepted wrong issuer")
	}
}

func TestVerifyTokenLeeway(t *testing.T) {
	v, secret := newTestVerifier(t, VerifierConfig{Leeway: time.Minute})
	justExpired := mintToken(t, secret, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-10 * time.Second).Unix(),
	})
	if _, err := v.VerifyToken(context.Background(), justExpired); err != nil {
		t.Fatalf("VerifyToken within leeway: %v", err)
	}
}

func TestUserExists(t *testing.T) {
	v, _ := newTestVerifier(t, VerifierConfig{})
	ctx := context.Background()
	if !v.UserExists(ctx, "anyone") {
		t.Fatal("UserExists without allowlist should accept any subject")
	}
	if v.UserExists(ctx, "") {
		t.Fatal("UserExists accepted empty subject")
	}
}

func TestUserExistsAllowlist(t *testing.T) {
	dir := t.TempDir()
	usersPath := filepath.Join(dir, "users.json")
	if err := os.WriteFile(usersPath, []byte(`["alice","bob"]`), 0o600); err != nil {
		t.Fatalf("write users: %v", err)
	}
	v, _ := newTestVerifier(t, VerifierConfig{UsersFile: usersPath})
	ctx := context.Background()
	if !v.UserExists(ctx, "alice") || !v.UserExists(ctx, "bob") {
		t.Fatal("UserExists rejected allowlisted user")
	}
	if v.UserExists(ctx, "mallory") {
		t.Fatal("UserExists accepted user outside allowlist")
	}
}

func TestReloadPicksUpNewSecret(t *testing.T) {
	dir := t.TempDir()
	oldSecret, _ := NewRandomSecret(MinSecretLen)
	path := writeSecretFile(t, dir, "v1", oldSecret)
	v, err := NewVerifier(VerifierConfig{SecretFile: path})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if v.KID() != "v1" {
		t.Fatalf("KID = %q, want v1", v.KID())
	}

	newSecret, _ := NewRandomSecret(MinSecretLen)
	if err := WriteSecretFile(path, "v2", newSecret); err != nil {
		t.Fatalf("WriteSecretFile: %v", err)
	}
	if err := v.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if v.KID() != "v2" {
		t.Fatalf("KID after reload = %q, want v2", v.KID())
	}

	future := time.Now().Add(time.Hour).Unix()
	tokNew := mintToken(t, newSecret, jwt.MapClaims{"sub": "user-1", "exp": future})
	if _, err := v.VerifyToken(context.Background(), tokNew); err != nil {
		t.Fatalf("VerifyToken with reloaded secret: %v", err)
	}
	tokOld := mintToken(t, oldSecret, jwt.MapClaims{"sub": "user-1", "exp": future})
	if _, err := v.VerifyToken(context.Background(), tokOld); err == nil {
		t.Fatal("VerifyToken accepted token signed with rotated-out secret")
	}
}

func TestLoadUsersFileRejectsBlankID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	if err := os.WriteFile(path, []byte(`["alice",""]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadUsersFile(path); err == nil {
		t.Fatal("loadUsersFile accepted blank id")
	}
}
