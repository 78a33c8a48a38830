package client

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/claude-studio/pairlink/relay/protocol"
)

func TestRelayURL(t *testing.T) {
	q := url.Values{"token": {"tok"}, "deviceType": {"desktop"}}
	tests := []struct {
		name       string
		serverURL  string
		wantScheme string
		wantPath   string
		wantErr    bool
	}{
		{name: "http becomes ws", serverURL: "http://relay.example", wantScheme: "ws", wantPath: "/ws/relay"},
		{name: "https becomes wss", serverURL: "https://relay.example:8443", wantScheme: "wss", wantPath: "/ws/relay"},
		{name: "ws stays ws", serverURL: "ws://relay.example", wantScheme: "ws", wantPath: "/ws/relay"},
		{name: "wss stays wss", serverURL: "wss://relay.example", wantScheme: "wss", wantPath: "/ws/relay"},
		{name: "explicit path preserved", serverURL: "https://relay.example/custom/path", wantScheme: "wss", wantPath: "/custom/path"},
		{name: "root path replaced", serverURL: "https://relay.example/", wantScheme: "wss", wantPath: "/ws/relay"},
		{name: "unsupported scheme", serverURL: "ftp://relay.example", wantErr: true},
		{name: "missing host", serverURL: "https://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := relayURL(tt.serverURL, DefaultPath, q)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("relayURL(%q) succeeded, want error", tt.serverURL)
				}
				return
			}
			if err != nil {
				t.Fatalf("relayURL(%q) failed: %v", tt.serverURL, err)
			}
			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("result %q does not parse: %v", got, err)
			}
			if u.Scheme != tt.wantScheme {
				t.Errorf("scheme = %q, want %q", u.Scheme, tt.wantScheme)
			}
			if u.Path != tt.wantPath {
				t.Errorf("path = %q, want %q", u.Path, tt.wantPath)
			}
			if u.Query().Get("token") != "tok" || u.Query().Get("deviceType") != "desktop" {
				t.Errorf("query lost: %q", u.RawQuery)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	base := Config{
		ServerURL:  "wss://relay.example",
		Token:      "tok",
		Role:       protocol.RoleDesktop,
		DeviceName: "Desk",
		Store:      st,
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "missing server url", mutate: func(c *Config) { c.ServerURL = " " }, want: "server url"},
		{name: "missing token", mutate: func(c *Config) { c.Token = "" }, want: "token"},
		{name: "bad role", mutate: func(c *Config) { c.Role = "tablet" }, want: "device type"},
		{name: "missing device name", mutate: func(c *Config) { c.DeviceName = "  " }, want: "device name"},
		{name: "missing store", mutate: func(c *Config) { c.Store = nil }, want: "store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(cfg)
			if err == nil {
				t.Fatalf("New() succeeded, want error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("New() error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestNewRejectsBadRoleWithSentinel(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	_, err = New(Config{ServerURL: "wss://r.example", Token: "tok", Role: "watch", DeviceName: "W", Store: st})
	if !errors.Is(err, protocol.ErrInvalidRole) {
		t.Fatalf("New() with bad role = %v, want ErrInvalidRole", err)
	}
}

func TestNewRestoresSessionsWithCounterSkip(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	peer := strings.Repeat("cd", 16)
	seed := &SessionFile{
		Sessions: []SessionRecord{{
			DeviceID:       peer,
			DerivedKeyHex:  strings.Repeat("11", 32),
			OutboundSeq:    7,
			LastInboundSeq: 3,
		}},
		Devices: []PairedDevice{{DeviceID: peer, DeviceName: "Phone", Role: "mobile"}},
	}
	if err := st.SaveSessions(seed); err != nil {
		t.Fatalf("SaveSessions() failed: %v", err)
	}

	c, err := New(Config{
		ServerURL:  "wss://relay.example",
		Token:      "tok",
		Role:       protocol.RoleDesktop,
		DeviceName: "Desk",
		Store:      st,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if !c.HasSession(peer) {
		t.Fatalf("restored client has no session for %s", peer)
	}
	out, in := c.sessions[peer].Counters()
	if out != 7+persistEvery {
		t.Errorf("restored outbound seq = %d, want %d (persisted 7 plus flush window)", out, 7+persistEvery)
	}
	if in != 3 {
		t.Errorf("restored last inbound seq = %d, want 3", in)
	}
	devs := c.PairedDevices()
	if len(devs) != 1 || devs[0].DeviceName != "Phone" {
		t.Fatalf("PairedDevices() = %+v, want the seeded phone", devs)
	}
}

func TestNewDropsUnusableSessionRecord(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	peer := strings.Repeat("cd", 16)
	seed := &SessionFile{
		Sessions: []SessionRecord{{DeviceID: peer, DerivedKeyHex: "zz-not-hex"}},
		Devices:  []PairedDevice{{DeviceID: peer, DeviceName: "Phone", Role: "mobile"}},
	}
	if err := st.SaveSessions(seed); err != nil {
		t.Fatalf("SaveSessions() failed: %v", err)
	}
	c, err := New(Config{
		ServerURL:  "wss://relay.example",
		Token:      "tok",
		Role:       protocol.RoleDesktop,
		DeviceName: "Desk",
		Store:      st,
	})
	if err != nil {
		t.Fatalf("New() with unusable record failed: %v", err)
	}
	if c.HasSession(peer) {
		t.Fatalf("unusable session record survived restore")
	}
	// The device record stays so the UI can show what needs re-pairing.
	if devs := c.PairedDevices(); len(devs) != 1 {
		t.Fatalf("PairedDevices() = %+v, want the orphaned record", devs)
	}
}

func TestOperationsWithoutConnection(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	c, err := New(Config{
		ServerURL:  "wss://relay.example",
		Token:      "tok",
		Role:       protocol.RoleMobile,
		DeviceName: "Phone",
		Store:      st,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := c.SendEncrypted(strings.Repeat("ab", 16), []byte("x")); !errors.Is(err, ErrNoSession) {
		t.Errorf("SendEncrypted without session = %v, want ErrNoSession", err)
	}
	if err := c.AckControl(strings.Repeat("ab", 16), true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("AckControl without connection = %v, want ErrNotConnected", err)
	}
	if _, err := c.BeginPairing(); !errors.Is(err, ErrWrongRole) {
		t.Errorf("BeginPairing on mobile = %v, want ErrWrongRole", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := c.AckControl(strings.Repeat("ab", 16), true); !errors.Is(err, ErrClosed) {
		t.Errorf("AckControl after close = %v, want ErrClosed", err)
	}
}
