// Command pairlink-token manages the shared-secret keyfile for the relay and
// mints or inspects the HS256 bearer tokens devices present at admission.
//
// It exists for self-hosted deployments and development; a hosted account
// service would issue these tokens itself.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/claude-studio/pairlink/auth"
	"github.com/claude-studio/pairlink/internal/cmdutil"
	plversion "github.com/claude-studio/pairlink/internal/version"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type ready struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	Date       string `json:"date"`
	KID        string `json:"kid"`
	SecretFile string `json:"secret_file"`
}

type minted struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	KID       string `json:"kid,omitempty"`
	Token     string `json:"token"`
	Subject   string `json:"sub"`
	Audience  string `json:"aud,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	ExpiresAt string `json:"expires_at"`
}

type inspected struct {
	Valid     bool     `json:"valid"`
	KID       string   `json:"kid,omitempty"`
	Subject   string   `json:"sub"`
	Audience  []string `json:"aud,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	IssuedAt  string   `json:"iat,omitempty"`
	ExpiresAt string   `json:"exp,omitempty"`
	ID        string   `json:"jti,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	showVersion := false
	genSecret := false
	pretty := false
	overwrite := false

	kid := cmdutil.EnvString("PAIRLINK_TOKEN_KID", "k1")
	outDir := cmdutil.EnvString("PAIRLINK_TOKEN_OUT_DIR", ".")
	secretFile := cmdutil.EnvString("PAIRLINK_TOKEN_SECRET_FILE", cmdutil.EnvString("PAIRLINK_RELAY_AUTH_SECRET_FILE", ""))
	aud := cmdutil.EnvString("PAIRLINK_TOKEN_AUD", "")
	iss := cmdutil.EnvString("PAIRLINK_TOKEN_ISS", "")
	sub := ""
	inspectToken := ""
	secretBytes := auth.MinSecretLen

	ttl, err := cmdutil.EnvDuration("PAIRLINK_TOKEN_TTL", 24*time.Hour)
	if err != nil {
		fmt.Fprintf(stderr, "invalid PAIRLINK_TOKEN_TTL: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("pairlink-token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage of %s:\n\n", fs.Name())
		fmt.Fprintln(stderr, "Modes:")
		fmt.Fprintln(stderr, "  default      mint a bearer token for --sub using --secret-file")
		fmt.Fprintln(stderr, "  -gen-secret  generate a fresh shared-secret keyfile")
		fmt.Fprintln(stderr, "  -inspect     verify a token against --secret-file and print its claims")
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "Flags:")
		fs.PrintDefaults()
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "Examples:")
		fmt.Fprintln(stderr, "  pairlink-token -gen-secret -out-dir ./conf")
		fmt.Fprintln(stderr, "  pairlink-token -secret-file ./conf/relay_secret.json -sub user-1 -ttl 24h")
		fmt.Fprintln(stderr, "  pairlink-token -secret-file ./conf/relay_secret.json -inspect eyJhbGciOi...")
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "Exit codes:")
		fmt.Fprintln(stderr, "  0 success, 1 runtime error, 2 usage error")
	}

	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.BoolVar(&genSecret, "gen-secret", false, "generate a shared-secret keyfile instead of minting a token")
	fs.StringVar(&inspectToken, "inspect", "", "verify the given token and print its claims")
	fs.StringVar(&kid, "kid", kid, "key id recorded in the keyfile and token header (env: PAIRLINK_TOKEN_KID)")
	fs.StringVar(&outDir, "out-dir", outDir, "output directory for generated files (env: PAIRLINK_TOKEN_OUT_DIR)")
	fs.StringVar(&secretFile, "secret-file", secretFile, "shared-secret keyfile path (default for -gen-secret: <out-dir>/relay_secret.json) (env: PAIRLINK_TOKEN_SECRET_FILE or PAIRLINK_RELAY_AUTH_SECRET_FILE)")
	fs.IntVar(&secretBytes, "secret-bytes", secretBytes, "secret length in bytes for -gen-secret")
	fs.StringVar(&sub, "sub", sub, "token subject: the user id the relay resolves (required when minting)")
	fs.StringVar(&aud, "aud", aud, "token audience claim (env: PAIRLINK_TOKEN_AUD)")
	fs.StringVar(&iss, "iss", iss, "token issuer claim (env: PAIRLINK_TOKEN_ISS)")
	fs.DurationVar(&ttl, "ttl", ttl, "token lifetime when minting (env: PAIRLINK_TOKEN_TTL)")
	fs.BoolVar(&overwrite, "overwrite", overwrite, "overwrite existing files")
	fs.BoolVar(&pretty, "pretty", pretty, "pretty-print JSON output")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, plversion.String(version, commit, date))
		return 0
	}

	usageErr := func(msg string) int {
		if msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		fs.Usage()
		return 2
	}

	if genSecret && inspectToken != "" {
		return usageErr("-gen-secret and -inspect are mutually exclusive")
	}

	switch {
	case genSecret:
		return runGenSecret(stdout, stderr, usageErr, kid, outDir, secretFile, secretBytes, overwrite, pretty)
	case inspectToken != "":
		return runInspect(stdout, stderr, usageErr, secretFile, aud, iss, inspectToken, pretty)
	default:
		return runMint(stdout, stderr, usageErr, secretFile, kid, sub, aud, iss, ttl, pretty)
	}
}

func runGenSecret(stdout, stderr io.Writer, usageErr func(string) int, kid, outDir, secretFile string, secretBytes int, overwrite, pretty bool) int {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return usageErr("missing --kid")
	}
	outDir = strings.TrimSpace(outDir)
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if secretFile == "" {
		secretFile = filepath.Join(outDir, "relay_secret.json")
	} else if !filepath.IsAbs(secretFile) {
		secretFile = filepath.Join(outDir, secretFile)
	}

	if err := cmdutil.RefuseOverwrite(secretFile, overwrite); err != nil {
		if cmdutil.IsUsage(err) {
			fmt.Fprintln(stderr, err)
			return 2
		}
		fmt.Fprintln(stderr, err)
		return 1
	}

	secret, err := auth.NewRandomSecret(secretBytes)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := auth.WriteSecretFile(secretFile, kid, secret); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	_ = cmdutil.WriteJSON(stdout, ready{
		Version:    version,
		Commit:     commit,
		Date:       date,
		KID:        kid,
		SecretFile: absOr(secretFile),
	}, pretty)
	return 0
}

func runMint(stdout, stderr io.Writer, usageErr func(string) int, secretFile, kid, sub, aud, iss string, ttl time.Duration, pretty bool) int {
	if secretFile == "" {
		return usageErr("missing --secret-file")
	}
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return usageErr("missing --sub")
	}
	if ttl <= 0 {
		return usageErr("--ttl must be positive")
	}

	secret, fileKID, err := auth.LoadSecretFile(secretFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if fileKID != "" {
		kid = fileKID
	}

	now := time.Now()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub": sub,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(exp),
		"jti": uuid.NewString(),
	}
	if aud != "" {
		claims["aud"] = aud
	}
	if iss != "" {
		claims["iss"] = iss
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(secret)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	_ = cmdutil.WriteJSON(stdout, minted{
		Version:   version,
		Commit:    commit,
		Date:      date,
		KID:       kid,
		Token:     signed,
		Subject:   sub,
		Audience:  aud,
		Issuer:    iss,
		ExpiresAt: exp.UTC().Format(time.RFC3339),
	}, pretty)
	return 0
}

func runInspect(stdout, stderr io.Writer, usageErr func(string) int, secretFile, aud, iss, token string, pretty bool) int {
	if secretFile == "" {
		return usageErr("missing --secret-file")
	}
	secret, _, err := auth.LoadSecretFile(secretFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}
	if iss != "" {
		opts = append(opts, jwt.WithIssuer(iss))
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		fmt.Fprintf(stderr, "token invalid: %v\n", err)
		return 1
	}

	out := inspected{Valid: true}
	if k, ok := parsed.Header["kid"].(string); ok {
		out.KID = k
	}
	out.Subject, _ = parsed.Claims.GetSubject()
	out.Issuer, _ = parsed.Claims.GetIssuer()
	if auds, err := parsed.Claims.GetAudience(); err == nil {
		out.Audience = auds
	}
	if t, err := parsed.Claims.GetIssuedAt(); err == nil && t != nil {
		out.IssuedAt = t.UTC().Format(time.RFC3339)
	}
	if t, err := parsed.Claims.GetExpirationTime(); err == nil && t != nil {
		out.ExpiresAt = t.UTC().Format(time.RFC3339)
	}
	if mc, ok := parsed.Claims.(jwt.MapClaims); ok {
		if jti, ok := mc["jti"].(string); ok {
			out.ID = jti
		}
	}

	_ = cmdutil.WriteJSON(stdout, out, pretty)
	return 0
}

func absOr(path string) string {
	if path == "" {
		return ""
	}
	a, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return a
}
