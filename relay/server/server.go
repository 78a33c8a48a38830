// Package server implements the pairing relay: a WebSocket rendezvous that
// admits authenticated devices, brokers one-shot pairing offers, and forwards
// opaque encrypted frames between the two devices of a pair. It never holds
// key material and never looks inside a relayed payload.
package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/claude-studio/pairlink/auth"
	"github.com/claude-studio/pairlink/internal/defaults"
	"github.com/claude-studio/pairlink/internal/deviceid"
	"github.com/claude-studio/pairlink/observability"
	"github.com/claude-studio/pairlink/realtime/ws"
	"github.com/claude-studio/pairlink/relay/protocol"
)

// Config controls relay server behavior.
type Config struct {
	Path string       // WebSocket endpoint path.
	Auth auth.Service // Token verifier and user lookup (required).

	AllowedOrigins []string // Extra allowed Origin values beyond same-origin.
	AllowNoOrigin  bool     // Admit requests without an Origin header (native endpoints).

	MaxFrameBytes   int // Read limit for a single inbound frame.
	MaxPayloadBytes int // Cap on an encrypted relay payload, base64 form.
	MaxNameBytes    int // Cap on a device display name.
	MaxConns        int // Concurrent connection ceiling; 0 means unlimited.
	SendQueueLen    int // Outbound frames buffered per connection.

	OfferTTL      time.Duration // Pairing offer lifetime.
	SweepInterval time.Duration // Cadence of the expired-offer sweep.
	WriteTimeout  time.Duration // Per-frame write deadline; 0 disables.
	AdmitTimeout  time.Duration // Budget for token verification during admission.

	Logger   zerolog.Logger              // Structured logger; defaults to a no-op.
	Observer observability.RelayObserver // Metrics observer; defaults to a no-op.
}

// DefaultConfig returns a Config with production defaults. Auth must still be
// supplied by the caller.
func DefaultConfig() Config {
	pc := protocol.DefaultConstraints()
	return Config{
		Path:            "/ws/relay",
		AllowNoOrigin:   true,
		MaxFrameBytes:   pc.MaxFrameBytes,
		MaxPayloadBytes: pc.MaxPayloadBytes,
		MaxNameBytes:    pc.MaxNameBytes,
		MaxConns:        8192,
		SendQueueLen:    64,
		OfferTTL:        defaults.OfferTTL,
		SweepInterval:   defaults.SweepInterval,
		WriteTimeout:    defaults.WriteTimeout,
		AdmitTimeout:    10 * time.Second,
		Logger:          zerolog.Nop(),
		Observer:        observability.NoopRelayObserver,
	}
}

// Server is the relay. Create with New, install with Register, stop with Close.
type Server struct {
	cfg Config

	auth auth.Service
	obs  observability.RelayObserver
	log  zerolog.Logger

	registry *DeviceRegistry
	offers   *PairingStore
	graph    *PairingGraph

	constraints protocol.Constraints

	connCount int64
	usage     sync.Map // usage key -> *usageEntry

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	closed   atomic.Bool
}

// New validates cfg, fills defaults, and starts the offer sweeper.
func New(cfg Config) (*Server, error) {
	if cfg.Auth == nil {
		return nil, errors.New("relay server: missing auth service")
	}
	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.Path == "" {
		cfg.Path = "/ws/relay"
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return nil, errors.New("relay server: path must start with /")
	}
	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.AllowedOrigins = origins
	pc := protocol.DefaultConstraints()
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = pc.MaxFrameBytes
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = pc.MaxPayloadBytes
	}
	if cfg.MaxPayloadBytes > cfg.MaxFrameBytes {
		return nil, errors.New("relay server: max payload exceeds max frame size")
	}
	if cfg.MaxNameBytes <= 0 {
		cfg.MaxNameBytes = pc.MaxNameBytes
	}
	if cfg.MaxConns < 0 {
		cfg.MaxConns = 0
	}
	if cfg.SendQueueLen <= 0 {
		cfg.SendQueueLen = 64
	}
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = defaults.OfferTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.WriteTimeout < 0 {
		cfg.WriteTimeout = 0
	}
	if cfg.AdmitTimeout <= 0 {
		cfg.AdmitTimeout = 10 * time.Second
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopRelayObserver
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		auth:     cfg.Auth,
		obs:      cfg.Observer,
		log:      cfg.Logger,
		registry: NewDeviceRegistry(),
		offers:   NewPairingStore(cfg.OfferTTL),
		graph:    NewPairingGraph(),
		constraints: protocol.Constraints{
			MaxFrameBytes:   cfg.MaxFrameBytes,
			MaxPayloadBytes: cfg.MaxPayloadBytes,
			MaxNameBytes:    cfg.MaxNameBytes,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	go s.sweepLoop()
	return s, nil
}

// Register installs the relay endpoint and a health probe on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc(s.cfg.Path, s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
}

// Close stops admitting connections and tears down the existing ones. Safe to
// call more than once.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

// Stats is a point-in-time snapshot of server state.
type Stats struct {
	Conns   int64
	Devices int
	Offers  int
	Pairs   int
}

func (s *Server) Stats() Stats {
	return Stats{
		Conns:   atomic.LoadInt64(&s.connCount),
		Devices: s.registry.Len(),
		Offers:  s.offers.Len(),
		Pairs:   s.graph.Len(),
	}
}

// conn is one admitted device connection. Frames destined for the device go
// through sendCh; the write pump owns the socket for writes, the read pump
// owns it for reads.
type conn struct {
	userID      string
	deviceID    string
	role        protocol.Role
	name        string
	connectedAt time.Time

	sock   *ws.Conn
	sendCh chan []byte

	closeOnce sync.Once
	closing   chan struct{}
	dropOnce  sync.Once

	mu          sync.Mutex
	closeReason observability.CloseReason
}

// close marks the connection as closing and records the first reason given.
// It never touches the socket, so it is safe under registry locks.
func (c *conn) close(reason observability.CloseReason) bool {
	first := false
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeReason = reason
		c.mu.Unlock()
		close(c.closing)
		first = true
	})
	return first
}

func (c *conn) reason() observability.CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	token := q.Get("token")
	if token == "" {
		s.rejectAdmission(w, http.StatusBadRequest, "missing token", observability.AdmissionReasonMissingToken)
		return
	}
	role, err := protocol.ParseRole(q.Get("deviceType"))
	if err != nil {
		s.rejectAdmission(w, http.StatusBadRequest, "invalid deviceType", observability.AdmissionReasonInvalidRole)
		return
	}
	devID := strings.TrimSpace(q.Get("deviceId"))
	if err := deviceid.Validate(devID); err != nil {
		s.rejectAdmission(w, http.StatusBadRequest, "invalid deviceId", observability.AdmissionReasonInvalidDeviceID)
		return
	}
	name := strings.TrimSpace(q.Get("deviceName"))
	if name == "" {
		s.rejectAdmission(w, http.StatusBadRequest, "missing deviceName", observability.AdmissionReasonMissingName)
		return
	}
	if len(name) > s.cfg.MaxNameBytes {
		s.rejectAdmission(w, http.StatusBadRequest, "deviceName too long", observability.AdmissionReasonNameTooLong)
		return
	}

	admitCtx, cancel := context.WithTimeout(r.Context(), s.cfg.AdmitTimeout)
	defer cancel()
	userID, err := s.auth.VerifyToken(admitCtx, token)
	if err != nil {
		s.rejectAdmission(w, http.StatusUnauthorized, "invalid token", observability.AdmissionReasonInvalidToken)
		return
	}
	if !s.auth.UserExists(admitCtx, userID) {
		s.rejectAdmission(w, http.StatusUnauthorized, "unknown user", observability.AdmissionReasonUnknownUser)
		return
	}

	sock, err := ws.Upgrade(w, r, ws.UpgraderOptions{CheckOrigin: s.checkOrigin})
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.obs.AdmissionRejected(observability.AdmissionReasonUpgradeError)
		return
	}
	if !s.trackConn() {
		s.obs.AdmissionRejected(observability.AdmissionReasonTooManyConnections)
		_ = sock.CloseWithStatus(websocket.CloseTryAgainLater, "too many connections")
		return
	}
	sock.SetReadLimit(int64(s.cfg.MaxFrameBytes))

	c := &conn{
		userID:      userID,
		deviceID:    devID,
		role:        role,
		name:        name,
		connectedAt: time.Now(),
		sock:        sock,
		sendCh:      make(chan []byte, s.cfg.SendQueueLen),
		closing:     make(chan struct{}),
	}
	if prev := s.registry.Attach(c); prev != nil {
		_ = prev.sock.CloseWithStatus(websocket.CloseNormalClosure, "replaced")
		s.log.Info().Str("device_id", devID).Msg("displaced prior connection")
	}
	s.obs.ConnOpened()
	s.log.Info().
		Str("device_id", devID).
		Str("role", string(role)).
		Str("device_name", name).
		Msg("device attached")

	go s.writePump(c)
	go s.readPump(c)
	s.announceAttach(c)
}

func (s *Server) rejectAdmission(w http.ResponseWriter, status int, msg string, reason observability.AdmissionReason) {
	s.obs.AdmissionRejected(reason)
	http.Error(w, msg, status)
}

// checkOrigin mirrors the browser same-origin default and adds the configured
// allowlist on top. Native endpoints that send no Origin header are admitted
// when AllowNoOrigin is set.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return s.cfg.AllowNoOrigin
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return ws.IsOriginAllowed(r, s.cfg.AllowedOrigins, s.cfg.AllowNoOrigin)
}

func (s *Server) trackConn() bool {
	n := atomic.AddInt64(&s.connCount, 1)
	if s.cfg.MaxConns > 0 && n > int64(s.cfg.MaxConns) {
		n = atomic.AddInt64(&s.connCount, -1)
		s.obs.ConnCount(n)
		return false
	}
	s.obs.ConnCount(n)
	return true
}

func (s *Server) untrackConn() {
	s.obs.ConnCount(atomic.AddInt64(&s.connCount, -1))
}

func (s *Server) readPump(c *conn) {
	defer s.dropConn(c)
	for {
		raw, err := c.sock.ReadText(s.ctx)
		if err != nil {
			s.noteReadError(c, err)
			return
		}
		s.route(c, raw)
	}
}

// noteReadError records the close reason for a failed read and sends the
// matching close frame when the peer violated the protocol.
func (s *Server) noteReadError(c *conn, err error) {
	switch {
	case errors.Is(err, ws.ErrNonTextFrame):
		if c.close(observability.CloseReasonNonTextFrame) {
			_ = c.sock.CloseWithStatus(websocket.CloseUnsupportedData, "text frames only")
		}
	case errors.Is(err, websocket.ErrReadLimit):
		// The websocket layer already sent a 1009 close.
		c.close(observability.CloseReasonFrameTooLarge)
	case errors.Is(err, context.Canceled):
		if c.close(observability.CloseReasonShutdown) {
			_ = c.sock.CloseWithStatus(websocket.CloseGoingAway, "server closed")
		}
	case isPeerClose(err):
		c.close(observability.CloseReasonPeerClosed)
	default:
		c.close(observability.CloseReasonReadError)
	}
}

func isPeerClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}

func (s *Server) writePump(c *conn) {
	for {
		select {
		case <-c.closing:
			return
		case b := <-c.sendCh:
			wctx := s.ctx
			cancel := context.CancelFunc(func() {})
			if s.cfg.WriteTimeout > 0 {
				wctx, cancel = context.WithTimeout(s.ctx, s.cfg.WriteTimeout)
			}
			err := c.sock.WriteText(wctx, b)
			cancel()
			if err != nil {
				if c.close(observability.CloseReasonWriteError) {
					_ = c.sock.Close()
				}
				return
			}
		}
	}
}

// dropConn is the single teardown path, run when the read pump exits. The
// close reason was recorded by whichever path noticed the failure first.
func (s *Server) dropConn(c *conn) {
	c.close(observability.CloseReasonReadError)
	c.dropOnce.Do(func() {
		_ = c.sock.Close()
		reason := c.reason()
		detached := s.registry.Detach(c)
		s.untrackConn()
		s.obs.ConnClosed(reason)
		if detached {
			s.announceDetach(c)
		}
		s.log.Info().
			Str("device_id", c.deviceID).
			Str("reason", string(reason)).
			Dur("connected_for", time.Since(c.connectedAt)).
			Msg("device detached")
	})
}

// send queues an encoded frame for c. A full queue means the device stopped
// draining; the connection is closed rather than blocking the router.
func (s *Server) send(c *conn, f *protocol.Frame) bool {
	b, err := f.Encode()
	if err != nil {
		return false
	}
	select {
	case c.sendCh <- b:
		return true
	case <-c.closing:
		return false
	default:
	}
	if c.close(observability.CloseReasonSendOverflow) {
		_ = c.sock.CloseWithStatus(websocket.CloseTryAgainLater, "send queue overflow")
	}
	return false
}

// announceAttach tells attached peers the device came online and hands a
// fresh desktop list to mobiles.
func (s *Server) announceAttach(c *conn) {
	for _, peerID := range s.graph.PeersOf(c.userID, c.deviceID) {
		if pc, ok := s.registry.Get(peerID); ok {
			s.send(pc, protocol.DeviceOnline(c.deviceID, c.name))
		}
	}
	if c.role == protocol.RoleMobile {
		s.sendDeviceList(c)
	}
}

func (s *Server) announceDetach(c *conn) {
	for _, peerID := range s.graph.PeersOf(c.userID, c.deviceID) {
		if pc, ok := s.registry.Get(peerID); ok {
			s.send(pc, protocol.DeviceOffline(c.deviceID, c.name))
		}
	}
}

func (s *Server) sendDeviceList(c *conn) {
	desktops := s.graph.DesktopsForUser(c.userID)
	devices := make([]protocol.Device, 0, len(desktops))
	for _, d := range desktops {
		_, online := s.registry.Get(d.DeviceID)
		devices = append(devices, protocol.Device{DeviceID: d.DeviceID, DeviceName: d.Name, Online: online})
	}
	if s.send(c, protocol.DeviceList(devices)) {
		s.obs.DeviceListSent()
	}
}

func (s *Server) sweepLoop() {
	t := time.NewTicker(s.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			now := time.Now()
			if n := s.offers.Sweep(now); n > 0 {
				s.obs.PairingOffersSwept(n)
				s.log.Debug().Int("swept", n).Msg("expired pairing offers removed")
			}
			s.obs.OfferCount(s.offers.Len())
			s.pruneUsage(now)
		}
	}
}
