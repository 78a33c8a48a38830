// Command pairlink-relay runs the pairing relay server.
//
// Configuration comes from PAIRLINK_RELAY_* environment variables with
// matching flags taking precedence. The process prints a single ready JSON
// line on stdout once the listener is bound, then runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/claude-studio/pairlink/auth"
	"github.com/claude-studio/pairlink/internal/cmdutil"
	plversion "github.com/claude-studio/pairlink/internal/version"
	"github.com/claude-studio/pairlink/observability"
	"github.com/claude-studio/pairlink/observability/prom"
	"github.com/claude-studio/pairlink/relay/server"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const shutdownTimeout = 5 * time.Second

func versionString() string {
	return plversion.String(version, commit, date)
}

type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }

func (s *stringSliceFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// switchHandler swaps its delegate at runtime so /metrics can be turned on
// and off by signal without rebinding the listener.
type switchHandler struct {
	mu      sync.RWMutex
	handler http.Handler
}

func newSwitchHandler() *switchHandler {
	return &switchHandler{handler: http.NotFoundHandler()}
}

func (h *switchHandler) Set(next http.Handler) {
	if next == nil {
		next = http.NotFoundHandler()
	}
	h.mu.Lock()
	h.handler = next
	h.mu.Unlock()
}

func (h *switchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	handler.ServeHTTP(w, r)
}

type metricsController struct {
	mu       sync.Mutex
	enabled  bool
	handler  *switchHandler
	observer *observability.AtomicRelayObserver
	srv      *server.Server
}

func newMetricsController(handler *switchHandler, observer *observability.AtomicRelayObserver, srv *server.Server) *metricsController {
	return &metricsController{
		handler:  handler,
		observer: observer,
		srv:      srv,
	}
}

func (c *metricsController) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return
	}
	reg := prom.NewRegistry()
	relayObs := prom.NewRelayObserver(reg)
	c.handler.Set(prom.Handler(reg))
	c.observer.Set(relayObs)
	stats := c.srv.Stats()
	relayObs.ConnCount(stats.Conns)
	relayObs.OfferCount(stats.Offers)
	c.enabled = true
}

func (c *metricsController) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.handler.Set(nil)
	c.observer.Set(observability.NoopRelayObserver)
	c.enabled = false
}

func validateTLSFiles(certFile string, keyFile string) error {
	if certFile == "" && keyFile == "" {
		return nil
	}
	if certFile == "" || keyFile == "" {
		return errors.New("tls requires both --tls-cert-file and --tls-key-file")
	}
	return nil
}

type ready struct {
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	Date          string `json:"date"`
	Listen        string `json:"listen"`
	WSPath        string `json:"ws_path"`
	AdvertiseHost string `json:"advertise_host,omitempty"`
	WSURL         string `json:"ws_url"`
	HTTPURL       string `json:"http_url"`
	HealthzURL    string `json:"healthz_url"`
	MetricsURL    string `json:"metrics_url,omitempty"`
	UsageURL      string `json:"usage_url,omitempty"`
}

func writeReadyJSON(w io.Writer, out ready, pretty bool) error {
	return cmdutil.WriteJSON(w, out, pretty)
}

func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "pairlink-relay").Logger(), nil
}

// envFileFromArgs pre-scans args for --env-file so dotenv values are in place
// before env-backed flag defaults are computed.
func envFileFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return ""
		}
		name, val, hasVal := strings.Cut(a, "=")
		if name == "--env-file" || name == "-env-file" {
			if hasVal {
				return val
			}
			if i+1 < len(args) {
				return args[i+1]
			}
		}
	}
	return ""
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	envFile := envFileFromArgs(args)
	if envFile == "" {
		envFile = cmdutil.EnvString("PAIRLINK_RELAY_ENV_FILE", "")
	}
	if envFile != "" {
		// Real environment variables win over dotenv values.
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(stderr, "load env file: %v\n", err)
			return 2
		}
	}

	cfg := server.DefaultConfig()

	listen := cmdutil.EnvString("PAIRLINK_RELAY_LISTEN", "127.0.0.1:0")
	advertiseHost := cmdutil.EnvString("PAIRLINK_RELAY_ADVERTISE_HOST", "")
	path := cmdutil.EnvString("PAIRLINK_RELAY_WS_PATH", cfg.Path)
	secretFile := cmdutil.EnvString("PAIRLINK_RELAY_AUTH_SECRET_FILE", "")
	aud := cmdutil.EnvString("PAIRLINK_RELAY_AUTH_AUD", "")
	iss := cmdutil.EnvString("PAIRLINK_RELAY_AUTH_ISS", "")
	usersFile := cmdutil.EnvString("PAIRLINK_RELAY_USERS_FILE", "")
	metricsListen := cmdutil.EnvString("PAIRLINK_RELAY_METRICS_LISTEN", "")
	tlsCertFile := cmdutil.EnvString("PAIRLINK_RELAY_TLS_CERT_FILE", "")
	tlsKeyFile := cmdutil.EnvString("PAIRLINK_RELAY_TLS_KEY_FILE", "")
	logLevel := cmdutil.EnvString("PAIRLINK_RELAY_LOG_LEVEL", "info")

	allowedOrigins := stringSliceFlag(cmdutil.SplitCSVEnv("PAIRLINK_RELAY_ALLOW_ORIGIN"))

	allowNoOrigin, err := cmdutil.EnvBool("PAIRLINK_RELAY_ALLOW_NO_ORIGIN", cfg.AllowNoOrigin)
	if err != nil {
		fmt.Fprintf(stderr, "invalid PAIRLINK_RELAY_ALLOW_NO_ORIGIN: %v\n", err)
		return 2
	}
	authLeeway, err := cmdutil.EnvDuration("PAIRLINK_RELAY_AUTH_LEEWAY", 30*time.Second)
	if err != nil {
		fmt.Fprintf(stderr, "invalid PAIRLINK_RELAY_AUTH_LEEWAY: %v\n", err)
		return 2
	}
	maxConns, err := cmdutil.EnvInt("PAIRLINK_RELAY_MAX_CONNS", 0)
	if err != nil {
		fmt.Fprintf(stderr, "invalid PAIRLINK_RELAY_MAX_CONNS: %v\n", err)
		return 2
	}
	maxFrameBytes, err := cmdutil.EnvInt("PAIRLINK_RELAY_MAX_FRAME_BYTES", 0)
	if err != nil {
		fmt.Fprintf(stderr, "invalid PAIRLINK_RELAY_MAX_FRAME_BYTES: %v\n", err)
		return 2
	}
	maxPayloadBytes, err := cmdutil.EnvInt("PAIRLINK_RELAY_MAX_PAYLOAD_BYTES", 0)
	if err != nil {
		fmt.Fprintf(stderr, "invalid PAIRLINK_RELAY_MAX_PAYLOAD_BYTES: %v\n", err)
		return 2
	}
	offerTTL, err := cmdutil.EnvDuration("PAIRLINK_RELAY_OFFER_TTL", cfg.OfferTTL)
	if err != nil {
		fmt.Fprintf(stderr, "invalid PAIRLINK_RELAY_OFFER_TTL: %v\n", err)
		return 2
	}
	sweepInterval, err := cmdutil.EnvDuration("PAIRLINK_RELAY_SWEEP_INTERVAL", cfg.SweepInterval)
	if err != nil {
		fmt.Fprintf(stderr, "invalid PAIRLINK_RELAY_SWEEP_INTERVAL: %v\n", err)
		return 2
	}
	writeTimeout, err := cmdutil.EnvDuration("PAIRLINK_RELAY_WRITE_TIMEOUT", cfg.WriteTimeout)
	if err != nil {
		fmt.Fprintf(stderr, "invalid PAIRLINK_RELAY_WRITE_TIMEOUT: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("pairlink-relay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
		printSignalHelp(stderr)
	}

	showVersion := false
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&envFile, "env-file", envFile, "dotenv file loaded before env-backed defaults (env: PAIRLINK_RELAY_ENV_FILE)")
	fs.StringVar(&listen, "listen", listen, "listen address (env: PAIRLINK_RELAY_LISTEN)")
	fs.StringVar(&advertiseHost, "advertise-host", advertiseHost, "public host[:port] for ready URLs (optional; avoids ws://0.0.0.0) (env: PAIRLINK_RELAY_ADVERTISE_HOST)")
	fs.StringVar(&path, "ws-path", path, "websocket path (env: PAIRLINK_RELAY_WS_PATH)")
	fs.StringVar(&secretFile, "auth-secret-file", secretFile, "HS256 shared-secret keyfile (required) (env: PAIRLINK_RELAY_AUTH_SECRET_FILE)")
	fs.StringVar(&aud, "auth-aud", aud, "expected token audience (empty skips the check) (env: PAIRLINK_RELAY_AUTH_AUD)")
	fs.StringVar(&iss, "auth-iss", iss, "expected token issuer (empty skips the check) (env: PAIRLINK_RELAY_AUTH_ISS)")
	fs.DurationVar(&authLeeway, "auth-leeway", authLeeway, "clock-skew allowance for token exp/nbf (env: PAIRLINK_RELAY_AUTH_LEEWAY)")
	fs.StringVar(&usersFile, "users-file", usersFile, "optional allowlist of permitted user ids, a JSON array of strings (env: PAIRLINK_RELAY_USERS_FILE)")
	fs.Var(&allowedOrigins, "allow-origin", "allowed Origin value beyond same-origin (repeatable): full Origin, hostname, hostname:port, or wildcard hostname (*.example.com) (env: PAIRLINK_RELAY_ALLOW_ORIGIN)")
	fs.BoolVar(&allowNoOrigin, "allow-no-origin", allowNoOrigin, "allow requests without Origin header (native endpoints) (env: PAIRLINK_RELAY_ALLOW_NO_ORIGIN)")
	fs.IntVar(&maxConns, "max-conns", maxConns, "max concurrent websocket connections (0 uses default) (env: PAIRLINK_RELAY_MAX_CONNS)")
	fs.IntVar(&maxFrameBytes, "max-frame-bytes", maxFrameBytes, "max inbound frame size in bytes (0 uses default) (env: PAIRLINK_RELAY_MAX_FRAME_BYTES)")
	fs.IntVar(&maxPayloadBytes, "max-payload-bytes", maxPayloadBytes, "max relayed payload size in bytes, base64 form (0 uses default) (env: PAIRLINK_RELAY_MAX_PAYLOAD_BYTES)")
	fs.DurationVar(&offerTTL, "offer-ttl", offerTTL, "pairing offer lifetime (env: PAIRLINK_RELAY_OFFER_TTL)")
	fs.DurationVar(&sweepInterval, "sweep-interval", sweepInterval, "cadence of the expired-offer sweep (env: PAIRLINK_RELAY_SWEEP_INTERVAL)")
	fs.DurationVar(&writeTimeout, "write-timeout", writeTimeout, "per-frame websocket write timeout (0 disables) (env: PAIRLINK_RELAY_WRITE_TIMEOUT)")
	fs.StringVar(&metricsListen, "metrics-listen", metricsListen, "listen address for the metrics/debug server (empty disables) (env: PAIRLINK_RELAY_METRICS_LISTEN)")
	fs.StringVar(&tlsCertFile, "tls-cert-file", tlsCertFile, "enable TLS with the given certificate file (default: disabled) (env: PAIRLINK_RELAY_TLS_CERT_FILE)")
	fs.StringVar(&tlsKeyFile, "tls-key-file", tlsKeyFile, "enable TLS with the given private key file (default: disabled) (env: PAIRLINK_RELAY_TLS_KEY_FILE)")
	fs.StringVar(&logLevel, "log-level", logLevel, "log level: trace, debug, info, warn, error (env: PAIRLINK_RELAY_LOG_LEVEL)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, versionString())
		return 0
	}

	usageErr := func(msg string) int {
		if msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		fs.Usage()
		return 2
	}

	if secretFile == "" {
		return usageErr("missing --auth-secret-file")
	}
	if err := validateTLSFiles(tlsCertFile, tlsKeyFile); err != nil {
		return usageErr(err.Error())
	}

	logger, err := newLogger(stderr, logLevel)
	if err != nil {
		return usageErr(err.Error())
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		SecretFile: secretFile,
		Audience:   aud,
		Issuer:     iss,
		Leeway:     authLeeway,
		UsersFile:  usersFile,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	observer := observability.NewAtomicRelayObserver()
	cfg.Path = path
	cfg.Auth = verifier
	cfg.AllowedOrigins = allowedOrigins
	cfg.AllowNoOrigin = allowNoOrigin
	cfg.OfferTTL = offerTTL
	cfg.SweepInterval = sweepInterval
	cfg.WriteTimeout = writeTimeout
	cfg.Logger = logger
	cfg.Observer = observer
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if maxFrameBytes > 0 {
		cfg.MaxFrameBytes = maxFrameBytes
	}
	if maxPayloadBytes > 0 {
		cfg.MaxPayloadBytes = maxPayloadBytes
	}

	s, err := server.New(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer s.Close()

	mux := http.NewServeMux()
	s.Register(mux)

	var metrics *metricsController
	var metricsSrv *http.Server
	var metricsLn net.Listener
	if metricsListen != "" {
		metricsMux := http.NewServeMux()
		metricsHandler := newSwitchHandler()
		metricsMux.Handle("/metrics", metricsHandler)
		metricsMux.HandleFunc("/debug/usage", func(w http.ResponseWriter, r *http.Request) {
			snap := s.UsageSnapshot()
			if snap == nil {
				snap = []server.PairUsage{}
			}
			w.Header().Set("Content-Type", "application/json")
			_ = cmdutil.WriteJSON(w, snap, r.URL.Query().Get("pretty") == "1")
		})
		metrics = newMetricsController(metricsHandler, observer, s)
		metrics.Enable()

		metricsLn, err = net.Listen("tcp", metricsListen)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		metricsSrv = newHTTPServer(metricsMux)
		if tlsCertFile != "" {
			if metricsSrv.TLSConfig == nil {
				metricsSrv.TLSConfig = &tls.Config{}
			}
			if metricsSrv.TLSConfig.MinVersion == 0 {
				metricsSrv.TLSConfig.MinVersion = tls.VersionTLS12
			}
		}
		go func() {
			var err error
			if tlsCertFile != "" {
				err = metricsSrv.ServeTLS(metricsLn, tlsCertFile, tlsKeyFile)
			} else {
				err = metricsSrv.Serve(metricsLn)
			}
			if err != nil && err != http.ErrServerClosed {
				logger.Fatal().Err(err).Msg("metrics server failed")
			}
		}()
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	srv := newHTTPServer(mux)
	if tlsCertFile != "" {
		if srv.TLSConfig == nil {
			srv.TLSConfig = &tls.Config{}
		}
		// TLS is optional and disabled by default. When enabled, enforce a conservative minimum version.
		if srv.TLSConfig.MinVersion == 0 {
			srv.TLSConfig.MinVersion = tls.VersionTLS12
		}
	}

	go func() {
		var err error
		if tlsCertFile != "" {
			err = srv.ServeTLS(ln, tlsCertFile, tlsKeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("relay server failed")
		}
	}()

	wsScheme := "ws"
	httpScheme := "http"
	metricsScheme := "http"
	if tlsCertFile != "" {
		wsScheme = "wss"
		httpScheme = "https"
		metricsScheme = "https"
	}
	bindAddr := ln.Addr().String()
	advMainHostPort, advHostOnly, advWasSet, err := resolveAdvertiseHost(bindAddr, advertiseHost)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	out := ready{
		Version:    version,
		Commit:     commit,
		Date:       date,
		Listen:     bindAddr,
		WSPath:     path,
		WSURL:      wsScheme + "://" + advMainHostPort + path,
		HTTPURL:    httpScheme + "://" + advMainHostPort,
		HealthzURL: httpScheme + "://" + advMainHostPort + "/healthz",
	}
	if advWasSet {
		out.AdvertiseHost = advertiseHost
	}
	if metricsLn != nil {
		metricsAddr := metricsLn.Addr().String()
		if advWasSet {
			if _, port, err := net.SplitHostPort(metricsAddr); err == nil {
				metricsAddr = net.JoinHostPort(advHostOnly, port)
			}
		}
		out.MetricsURL = metricsScheme + "://" + metricsAddr + "/metrics"
		out.UsageURL = metricsScheme + "://" + metricsAddr + "/debug/usage"
	}
	_ = writeReadyJSON(stdout, out, false)

	logger.Info().
		Str("listen", bindAddr).
		Str("ws_path", path).
		Str("kid", verifier.KID()).
		Msg("relay ready")

	// Handle reloads, metric toggles, and shutdowns.
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, notifySignals()...)

	for {
		got := <-sig
		if handleSignal(got, logger, verifier.Reload, metrics) {
			continue
		}
		logger.Info().Str("signal", got.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = srv.Shutdown(ctx)
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(ctx)
		}
		cancel()
		return 0
	}
}

func resolveAdvertiseHost(bindHostPort string, advertiseHost string) (mainHostPort string, hostOnly string, wasSet bool, err error) {
	bindHost, bindPort, err := net.SplitHostPort(bindHostPort)
	if err != nil {
		return "", "", false, err
	}
	if strings.TrimSpace(advertiseHost) == "" {
		return bindHostPort, bindHost, false, nil
	}
	raw := strings.TrimSpace(advertiseHost)
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", true, fmt.Errorf("invalid advertise host: %w", err)
		}
		if u.Host == "" {
			return "", "", true, errors.New("invalid advertise host: missing host")
		}
		raw = u.Host
	}
	hostOnly = raw
	if h, p, err := net.SplitHostPort(raw); err == nil {
		return net.JoinHostPort(h, p), h, true, nil
	}
	hostOnly = strings.TrimSuffix(strings.TrimPrefix(hostOnly, "["), "]")
	return net.JoinHostPort(hostOnly, bindPort), hostOnly, true, nil
}
