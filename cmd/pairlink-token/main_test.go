package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/claude-studio/pairlink/auth"
)

func TestVersionFlag(t *testing.T) {
	oldV, oldC, oldD := version, commit, date
	version, commit, date = "v1.2.3", "abc", "2020-01-01T00:00:00Z"
	t.Cleanup(func() { version, commit, date = oldV, oldC, oldD })

	var stdout, stderr bytes.Buffer
	code := run([]string{"--version"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("unexpected exit code: %d (stderr=%q)", code, stderr.String())
	}
	got := strings.TrimSpace(stdout.String())
	want := "v1.2.3 (abc) 2020-01-01T00:00:00Z"
	if got != want {
		t.Fatalf("unexpected version output: got %q, want %q", got, want)
	}
}

func TestGenSecretWritesKeyfileAndEmitsReadyJSON(t *testing.T) {
	t.Setenv("PAIRLINK_TOKEN_KID", "")
	t.Setenv("PAIRLINK_TOKEN_OUT_DIR", "")
	t.Setenv("PAIRLINK_TOKEN_SECRET_FILE", "")
	t.Setenv("PAIRLINK_RELAY_AUTH_SECRET_FILE", "")

	oldV := version
	version = "v1.2.3"
	t.Cleanup(func() { version = oldV })

	outDir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := run([]string{"-gen-secret", "--kid", "k1", "--out-dir", outDir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("unexpected exit code: %d (stderr=%q)", code, stderr.String())
	}

	var r ready
	if err := json.Unmarshal(stdout.Bytes(), &r); err != nil {
		t.Fatalf("decode ready JSON: %v (stdout=%q)", err, stdout.String())
	}
	if r.KID != "k1" {
		t.Fatalf("unexpected kid: %q", r.KID)
	}
	if r.Version != "v1.2.3" {
		t.Fatalf("unexpected version: %q", r.Version)
	}
	if r.SecretFile == "" {
		t.Fatalf("missing secret file path: %+v", r)
	}

	path := filepath.Join(outDir, "relay_secret.json")
	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("secret file not written: %v", err)
	}
	if stat.Size() == 0 {
		t.Fatalf("secret file is empty")
	}
	if runtime.GOOS != "windows" {
		if got := stat.Mode().Perm(); got != 0o600 {
			t.Fatalf("unexpected secret file perms: got %o, want %o", got, 0o600)
		}
	}

	secret, kid, err := auth.LoadSecretFile(path)
	if err != nil {
		t.Fatalf("LoadSecretFile() failed: %v", err)
	}
	if kid != "k1" {
		t.Fatalf("unexpected keyfile kid: %q", kid)
	}
	if len(secret) < auth.MinSecretLen {
		t.Fatalf("secret too short: %d bytes", len(secret))
	}
}

func TestGenSecret_RefusesOverwrite(t *testing.T) {
	outDir := t.TempDir()
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-gen-secret", "--out-dir", outDir}, &stdout, &stderr); code != 0 {
		t.Fatalf("first run failed: %d (stderr=%q)", code, stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	code := run([]string{"-gen-secret", "--out-dir", outDir}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit 2 on existing file, got %d", code)
	}
	if !strings.Contains(stderr.String(), "refusing to overwrite") {
		t.Fatalf("expected overwrite refusal, got %q", stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	if code := run([]string{"-gen-secret", "--out-dir", outDir, "--overwrite"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected --overwrite to succeed, got %d (stderr=%q)", code, stderr.String())
	}
}

func TestMintAndInspect_RoundTrip(t *testing.T) {
	outDir := t.TempDir()
	secretFile := filepath.Join(outDir, "relay_secret.json")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-gen-secret", "--kid", "k7", "--secret-file", secretFile}, &stdout, &stderr); code != 0 {
		t.Fatalf("gen-secret failed: %d (stderr=%q)", code, stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	code := run([]string{
		"--secret-file", secretFile,
		"--sub", "user-1",
		"--aud", "pairlink-relay",
		"--iss", "pairlink-token",
		"--ttl", "1h",
	}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("mint failed: %d (stderr=%q)", code, stderr.String())
	}

	var m minted
	if err := json.Unmarshal(stdout.Bytes(), &m); err != nil {
		t.Fatalf("decode minted JSON: %v (stdout=%q)", err, stdout.String())
	}
	if m.Token == "" {
		t.Fatalf("missing token in output: %+v", m)
	}
	if m.Subject != "user-1" || m.KID != "k7" {
		t.Fatalf("unexpected mint output: %+v", m)
	}

	// The relay-side verifier must accept the minted token.
	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		SecretFile: secretFile,
		Audience:   "pairlink-relay",
		Issuer:     "pairlink-token",
	})
	if err != nil {
		t.Fatalf("NewVerifier() failed: %v", err)
	}
	userID, err := verifier.VerifyToken(context.Background(), m.Token)
	if err != nil {
		t.Fatalf("VerifyToken() failed: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected user id: %q", userID)
	}

	stdout.Reset()
	stderr.Reset()
	code = run([]string{
		"--secret-file", secretFile,
		"--aud", "pairlink-relay",
		"--iss", "pairlink-token",
		"-inspect", m.Token,
	}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("inspect failed: %d (stderr=%q)", code, stderr.String())
	}
	var ins inspected
	if err := json.Unmarshal(stdout.Bytes(), &ins); err != nil {
		t.Fatalf("decode inspected JSON: %v (stdout=%q)", err, stdout.String())
	}
	if !ins.Valid || ins.Subject != "user-1" || ins.Issuer != "pairlink-token" {
		t.Fatalf("unexpected inspect output: %+v", ins)
	}
	if len(ins.Audience) != 1 || ins.Audience[0] != "pairlink-relay" {
		t.Fatalf("unexpected audience: %v", ins.Audience)
	}
	if ins.KID != "k7" {
		t.Fatalf("unexpected kid: %q", ins.KID)
	}
	if ins.ExpiresAt == "" || ins.ID == "" {
		t.Fatalf("expected exp and jti claims: %+v", ins)
	}
}

func TestMint_RequiresSubject(t *testing.T) {
	outDir := t.TempDir()
	secretFile := filepath.Join(outDir, "relay_secret.json")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-gen-secret", "--secret-file", secretFile}, &stdout, &stderr); code != 0 {
		t.Fatalf("gen-secret failed: %d", code)
	}

	stdout.Reset()
	stderr.Reset()
	code := run([]string{"--secret-file", secretFile}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "--sub") {
		t.Fatalf("expected usage error naming --sub, got %q", stderr.String())
	}
}

func TestInspect_RejectsTamperedToken(t *testing.T) {
	outDir := t.TempDir()
	secretFile := filepath.Join(outDir, "relay_secret.json")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-gen-secret", "--secret-file", secretFile}, &stdout, &stderr); code != 0 {
		t.Fatalf("gen-secret failed: %d", code)
	}

	stdout.Reset()
	stderr.Reset()
	if code := run([]string{"--secret-file", secretFile, "--sub", "user-1"}, &stdout, &stderr); code != 0 {
		t.Fatalf("mint failed: %d (stderr=%q)", code, stderr.String())
	}
	var m minted
	if err := json.Unmarshal(stdout.Bytes(), &m); err != nil {
		t.Fatalf("decode minted JSON: %v", err)
	}

	tampered := m.Token[:len(m.Token)-2] + "xx"
	stdout.Reset()
	stderr.Reset()
	code := run([]string{"--secret-file", secretFile, "-inspect", tampered}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit 1 for tampered token, got %d", code)
	}
	if !strings.Contains(stderr.String(), "token invalid") {
		t.Fatalf("expected invalid token error, got %q", stderr.String())
	}
}

func TestPrettyFlag_EmitsIndentedJSON(t *testing.T) {
	outDir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := run([]string{"-gen-secret", "--out-dir", outDir, "--pretty"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("unexpected exit code: %d (stderr=%q)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "\n  \"kid\"") {
		t.Fatalf("expected pretty JSON output, got %q", stdout.String())
	}
}

func TestGenSecret_EnvDefaults(t *testing.T) {
	outDir := t.TempDir()
	t.Setenv("PAIRLINK_TOKEN_KID", "k9")
	t.Setenv("PAIRLINK_TOKEN_OUT_DIR", outDir)
	t.Setenv("PAIRLINK_TOKEN_SECRET_FILE", "custom_secret.json")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-gen-secret"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("unexpected exit code: %d (stderr=%q)", code, stderr.String())
	}

	var r ready
	if err := json.Unmarshal(stdout.Bytes(), &r); err != nil {
		t.Fatalf("decode ready JSON: %v (stdout=%q)", err, stdout.String())
	}
	if r.KID != "k9" {
		t.Fatalf("unexpected kid: %q", r.KID)
	}
	if _, err := os.Stat(filepath.Join(outDir, "custom_secret.json")); err != nil {
		t.Fatalf("secret file not written: %v", err)
	}
}

func TestHelp_IncludesExamplesAndExitCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr=%q)", code, stderr.String())
	}
	help := stderr.String()
	if !strings.Contains(help, "Examples:") {
		t.Fatalf("expected help to include Examples, help=%q", help)
	}
	if !strings.Contains(help, "Exit codes:") {
		t.Fatalf("expected help to include exit codes, help=%q", help)
	}
	if !strings.Contains(help, "Flags:") {
		t.Fatalf("expected help to include Flags, help=%q", help)
	}
}
