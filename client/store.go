package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/claude-studio/pairlink/internal/deviceid"
	"github.com/claude-studio/pairlink/internal/securefile"
	"github.com/claude-studio/pairlink/plerrors"
)

const (
	deviceIDFile    = "device-id"
	sessionsFile    = "e2ee-sessions.json"
	relayConfigFile = "relay-config.json"
)

// Store persists endpoint state under a single owner-only directory.
//
// Layout:
//
//	device-id           stable device identity, created on first use
//	e2ee-sessions.json  derived keys and sequence counters per paired peer
//	relay-config.json   relay URL and token, saved by a mobile after claiming
//
// All writes are replace-on-write; a crash mid-write never leaves a truncated
// file behind.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore opens (creating if needed) the store directory.
func NewStore(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("client: store dir required")
	}
	if err := securefile.MkdirAllOwnerOnly(dir); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// DefaultStoreDir returns the per-user store location, <user config dir>/pairlink.
func DefaultStoreDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "pairlink"), nil
}

// Dir returns the store directory path.
func (s *Store) Dir() string { return s.dir }

// DeviceID returns the stable device id, generating and persisting one on
// first use. An existing id file is never rewritten; peers key their sessions
// by this value.
func (s *Store) DeviceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.dir, deviceIDFile)
	b, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(b))
		if verr := deviceid.Validate(id); verr != nil {
			return "", plerrors.Wrap(plerrors.StageStore, plerrors.CodeStoreCorrupt, fmt.Errorf("%s: %w", deviceIDFile, verr))
		}
		return id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	id := deviceid.New()
	if err := securefile.WriteFileAtomic(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}

// SessionRecord is one persisted E2EE session. Both counters are restored on
// startup so replay protection holds across restarts.
type SessionRecord struct {
	DeviceID       string `json:"deviceId"`
	DerivedKeyHex  string `json:"derivedKeyHex"`
	OutboundSeq    int64  `json:"outboundSeq"`
	LastInboundSeq int64  `json:"lastInboundSeq"`
}

// PairedDevice is the displayable record of a paired peer.
type PairedDevice struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	Role       string    `json:"role"`
	PairedAt   time.Time `json:"pairedAt"`
}

// SessionFile is the on-disk shape of e2ee-sessions.json.
type SessionFile struct {
	Sessions []SessionRecord `json:"sessions"`
	Devices  []PairedDevice  `json:"devices"`
}

// LoadSessions reads e2ee-sessions.json. A missing file is an empty store.
func (s *Store) LoadSessions() (*SessionFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(filepath.Join(s.dir, sessionsFile))
	if errors.Is(err, os.ErrNotExist) {
		return &SessionFile{}, nil
	}
	if err != nil {
		return nil, err
	}
	var f SessionFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, plerrors.Wrap(plerrors.StageStore, plerrors.CodeStoreCorrupt, fmt.Errorf("%s: %w", sessionsFile, err))
	}
	return &f, nil
}

// SaveSessions atomically replaces e2ee-sessions.json. The file holds key
// material, so it is owner-read-write only.
func (s *Store) SaveSessions(f *SessionFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return securefile.WriteJSONAtomic(filepath.Join(s.dir, sessionsFile), f, 0o600)
}

// RelayConfig points an endpoint at its relay.
type RelayConfig struct {
	ServerURL string `json:"serverUrl"`
	Token     string `json:"token"`
}

// LoadRelayConfig reads relay-config.json. A missing file is reported as
// os.ErrNotExist so callers can distinguish "never paired" from corruption.
func (s *Store) LoadRelayConfig() (*RelayConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(filepath.Join(s.dir, relayConfigFile))
	if err != nil {
		return nil, err
	}
	var c RelayConfig
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, plerrors.Wrap(plerrors.StageStore, plerrors.CodeStoreCorrupt, fmt.Errorf("%s: %w", relayConfigFile, err))
	}
	return &c, nil
}

// SaveRelayConfig atomically replaces relay-config.json. The token is a
// bearer credential, so the file is owner-read-write only.
func (s *Store) SaveRelayConfig(c RelayConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return securefile.WriteJSONAtomic(filepath.Join(s.dir, relayConfigFile), c, 0o600)
}
