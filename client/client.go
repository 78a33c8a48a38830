// Package client implements the desktop and mobile endpoints of the relay:
// admission and reconnect, heartbeats, the pairing handshake, E2EE session
// management with durable counters, and event dispatch to the application.
//
// Plaintext exists only inside this process. Everything an endpoint sends
// through SendEncrypted crosses the relay as an opaque payload.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/claude-studio/pairlink/crypto/e2ee"
	"github.com/claude-studio/pairlink/internal/defaults"
	"github.com/claude-studio/pairlink/plerrors"
	"github.com/claude-studio/pairlink/realtime/ws"
	"github.com/claude-studio/pairlink/relay/protocol"
)

// DefaultPath is the relay websocket endpoint path.
const DefaultPath = "/ws/relay"

// Config carries everything a RelayClient needs to reach its relay.
type Config struct {
	// ServerURL is the relay base URL. http(s) and ws(s) schemes are both
	// accepted; a URL without a path gets DefaultPath appended.
	ServerURL string

	// Token is the bearer token presented at admission.
	Token string

	// Role declares the endpoint side. Desktops register pairing offers,
	// mobiles claim them.
	Role protocol.Role

	// DeviceName is the human-readable name announced to peers.
	DeviceName string

	// Store persists the device id, sessions, and relay config. Required.
	Store *Store

	// Path overrides the websocket path when ServerURL has none.
	Path string

	// Origin overrides the Origin header. When empty it is derived from the
	// relay URL, which satisfies the server's same-host check.
	Origin string

	// DialTimeout bounds one connection attempt.
	DialTimeout time.Duration

	// HeartbeatInterval is the idle keep-alive cadence.
	HeartbeatInterval time.Duration

	// Logger receives connection lifecycle events. Pairing codes, tokens, and
	// relayed payloads are never logged.
	Logger zerolog.Logger

	// Handlers receive relay events. Nil entries are skipped.
	Handlers Handlers
}

// RelayClient is one endpoint of the relay. Construct with New, drive with
// Run, and stop with Close. All exported methods are safe for concurrent use.
type RelayClient struct {
	cfg      Config
	log      zerolog.Logger
	store    *Store
	deviceID string
	wsURL    string

	mu       sync.Mutex
	sock     *ws.Conn
	sessions map[string]*e2ee.Session
	devices  map[string]PairedDevice
	pending  *pendingPair
	unsynced int // encrypted sends since the last counter flush

	sendMu sync.Mutex // one writer on the socket at a time

	closeOnce sync.Once
	closed    chan struct{}
}

// New validates cfg, restores persisted sessions, and returns a client ready
// for Run. The device id is created on first use and reused forever after.
func New(cfg Config) (*RelayClient, error) {
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return nil, errors.New("client: server url required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("client: token required")
	}
	if cfg.Role != protocol.RoleDesktop && cfg.Role != protocol.RoleMobile {
		return nil, protocol.ErrInvalidRole
	}
	cfg.DeviceName = strings.TrimSpace(cfg.DeviceName)
	if cfg.DeviceName == "" {
		return nil, errors.New("client: device name required")
	}
	if cfg.Store == nil {
		return nil, errors.New("client: store required")
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = DefaultPath
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.ConnectTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}

	deviceID, err := cfg.Store.DeviceID()
	if err != nil {
		return nil, err
	}
	wsURL, err := relayURL(cfg.ServerURL, cfg.Path, url.Values{
		"token":      {cfg.Token},
		"deviceType": {string(cfg.Role)},
		"deviceId":   {deviceID},
		"deviceName": {cfg.DeviceName},
	})
	if err != nil {
		return nil, err
	}

	c := &RelayClient{
		cfg:      cfg,
		log:      cfg.Logger,
		store:    cfg.Store,
		deviceID: deviceID,
		wsURL:    wsURL,
		sessions: make(map[string]*e2ee.Session),
		devices:  make(map[string]PairedDevice),
		closed:   make(chan struct{}),
	}
	if err := c.restoreSessions(); err != nil {
		return nil, err
	}
	return c, nil
}

// relayURL converts the configured base URL to its websocket form and
// attaches the admission query. The token travels in the query, so the
// resulting URL must never be logged.
func relayURL(serverURL, path string, q url.Values) (string, error) {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("client: unsupported relay scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("client: relay url missing host")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DeviceID returns this endpoint's stable device id.
func (c *RelayClient) DeviceID() string { return c.deviceID }

// Role returns the endpoint role declared at admission.
func (c *RelayClient) Role() protocol.Role { return c.cfg.Role }

// Connected reports whether a relay connection is currently live.
func (c *RelayClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock != nil
}

// Run connects and serves the relay connection, reconnecting with exponential
// backoff until ctx is cancelled or Close is called. Session counters are
// flushed on the way out.
func (c *RelayClient) Run(ctx context.Context) error {
	defer func() {
		if err := c.flushState(); err != nil {
			c.log.Warn().Err(err).Msg("session flush on shutdown failed")
		}
	}()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		default:
		}

		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.isClosed() {
			return nil
		}
		if connected {
			attempts = 0
		}

		delay := defaults.ReconnectDelay(attempts)
		attempts++
		c.log.Warn().Err(err).
			Int("attempt", attempts).
			Dur("retry_in", delay).
			Msg("relay connection lost; reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case <-time.After(delay):
		}
	}
}

// Close persists session counters, stops the reconnect loop, and closes any
// live connection with a normal-closure frame. Safe to call more than once.
func (c *RelayClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.flushState()
		c.mu.Lock()
		sock := c.sock
		c.sock = nil
		c.mu.Unlock()
		if sock != nil {
			_ = sock.CloseWithStatus(websocket.CloseNormalClosure, "closing")
		}
	})
	return err
}

func (c *RelayClient) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// connectAndServe runs one connection: dial, hand the socket to the send
// path, heartbeat, and read frames until the connection dies. The bool
// reports whether the dial succeeded, which resets the backoff counter.
func (c *RelayClient) connectAndServe(ctx context.Context) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	sock, resp, err := ws.Dial(dialCtx, c.wsURL, ws.DialOptions{Header: c.header()})
	cancel()
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("relay refused handshake (status %d): %w", resp.StatusCode, err)
		}
		return false, plerrors.Wrap(plerrors.StageTransport, plerrors.ClassifyDialCode(err), err)
	}
	sock.SetReadLimit(int64(protocol.DefaultConstraints().MaxFrameBytes))

	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()
	c.log.Info().
		Str("device_id", c.deviceID).
		Str("role", string(c.cfg.Role)).
		Msg("relay connected")
	c.cfg.Handlers.connectionState(true)

	defer func() {
		c.mu.Lock()
		if c.sock == sock {
			c.sock = nil
		}
		c.mu.Unlock()
		_ = sock.Close()
		c.log.Info().Str("device_id", c.deviceID).Msg("relay disconnected")
		c.cfg.Handlers.connectionState(false)
	}()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go c.heartbeatLoop(hbCtx)

	for {
		raw, err := sock.ReadText(ctx)
		if err != nil {
			return true, plerrors.Wrap(plerrors.StageTransport, plerrors.ClassifyReadCode(err), err)
		}
		f, err := protocol.Parse(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("unparseable frame from relay; dropped")
			continue
		}
		c.handleFrame(f)
	}
}

func (c *RelayClient) header() http.Header {
	h := http.Header{}
	origin := c.cfg.Origin
	if origin == "" {
		if o, err := ws.OriginFromURL(c.wsURL); err == nil {
			origin = o
		}
	}
	if origin != "" {
		h.Set("Origin", origin)
	}
	return h
}

func (c *RelayClient) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(c.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.send(protocol.Heartbeat()); err != nil {
				c.log.Debug().Err(err).Msg("heartbeat send failed")
				return
			}
		}
	}
}

// send encodes and writes one frame on the live connection.
func (c *RelayClient) send(f *protocol.Frame) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}
	b, err := f.Encode()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaults.WriteTimeout)
	defer cancel()
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := sock.WriteText(ctx, b); err != nil {
		return plerrors.Wrap(plerrors.StageTransport, plerrors.ClassifyWriteCode(err), err)
	}
	return nil
}

// handleFrame dispatches one server frame on the read goroutine.
func (c *RelayClient) handleFrame(f *protocol.Frame) {
	switch f.Type {
	case protocol.TypePong:
		// Liveness only.
	case protocol.TypeRelay:
		c.handleRelay(f)
	case protocol.TypePairingAccepted:
		c.completePairing(f)
	case protocol.TypePairingRevoked:
		if c.removeSession(f.DeviceID) {
			if err := c.flushState(); err != nil {
				c.log.Warn().Err(err).Msg("session persist after revocation failed")
			}
		}
		c.log.Info().Str("peer", f.DeviceID).Msg("pairing revoked by peer")
		c.cfg.Handlers.pairingRevoked(f.DeviceID)
	case protocol.TypeDeviceOnline:
		c.cfg.Handlers.deviceOnline(f.DeviceID, f.DeviceName)
	case protocol.TypeDeviceOffline:
		c.cfg.Handlers.deviceOffline(f.DeviceID, f.DeviceName)
	case protocol.TypeDeviceList:
		c.cfg.Handlers.deviceList(f.Devices)
	case protocol.TypeControlRequest:
		c.cfg.Handlers.controlRequest(f.From, f.DeviceName)
	case protocol.TypeControlAck:
		if f.Accepted != nil {
			c.cfg.Handlers.controlAck(f.From, *f.Accepted)
		}
	case protocol.TypeControlRevoked:
		c.cfg.Handlers.controlRevoked(f.From)
	case protocol.TypeError:
		c.log.Warn().Str("message", f.Message).Msg("error frame from relay")
		c.cfg.Handlers.errorMessage(f.Message)
	default:
		c.log.Debug().Str("type", string(f.Type)).Msg("unexpected frame type from relay; dropped")
	}
}

// handleRelay decrypts an inbound payload. A frame with no matching session
// is dropped; a frame that fails decryption kills the session, because a
// desynchronized or forged channel cannot be trusted again without re-pairing.
func (c *RelayClient) handleRelay(f *protocol.Frame) {
	if f.From == "" || f.Seq == nil {
		c.log.Warn().Msg("relay frame missing sender or seq; dropped")
		return
	}
	c.mu.Lock()
	sess := c.sessions[f.From]
	c.mu.Unlock()
	if sess == nil {
		c.log.Warn().Str("from", f.From).Msg("relay frame with no session; dropped")
		return
	}
	plain, err := sess.Decrypt(f.Payload, *f.Seq)
	if err != nil {
		code := plerrors.ClassifyCryptoCode(err)
		c.log.Warn().
			Str("from", f.From).
			Str("code", string(code)).
			Msg("relay frame failed decryption; session dropped")
		c.removeSession(f.From)
		if ferr := c.flushState(); ferr != nil {
			c.log.Warn().Err(ferr).Msg("session persist after decrypt failure failed")
		}
		c.cfg.Handlers.repairRequired(f.From, plerrors.Wrap(plerrors.StageCrypto, code, err))
		return
	}
	c.cfg.Handlers.relayPlaintext(f.From, plain)
}

// RequestControl asks the paired desktop to hand over control. Mobile only;
// the desktop answers with a control-ack.
func (c *RelayClient) RequestControl(desktopID string) error {
	if c.cfg.Role != protocol.RoleMobile {
		return ErrWrongRole
	}
	return c.send(protocol.ControlRequest(desktopID))
}

// AckControl answers a control request from peer to.
func (c *RelayClient) AckControl(to string, accepted bool) error {
	return c.send(protocol.ControlAck(to, accepted))
}

// RevokeControl ends a control hand-off with peer to.
func (c *RelayClient) RevokeControl(to string) error {
	return c.send(protocol.ControlRevoked(to))
}
