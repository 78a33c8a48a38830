package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/claude-studio/pairlink/client"
	"github.com/claude-studio/pairlink/internal/cmdutil"
	"github.com/claude-studio/pairlink/relay/protocol"
)

const configFileName = "agent.yaml"

// fileConfig is the YAML shape of the agent config file. Every field is
// optional; flags override file values.
type fileConfig struct {
	Server     string        `yaml:"server"`
	Token      string        `yaml:"token"`
	DeviceName string        `yaml:"deviceName"`
	LogLevel   string        `yaml:"logLevel"`
	Desktop    desktopConfig `yaml:"desktop"`
}

type desktopConfig struct {
	AllowRemoteControl bool   `yaml:"allowRemoteControl"`
	UnlockSecret       string `yaml:"unlockSecret"`
	AutoLockDelay      string `yaml:"autoLockDelay"` // time.ParseDuration form, e.g. "5s"
}

func loadFileConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &fc, nil
}

// settings is the effective agent configuration: flags over config file over
// values a previous claim saved in the store.
type settings struct {
	storeDir   string
	store      *client.Store
	serverURL  string
	token      string
	deviceName string
	logger     zerolog.Logger

	allowRemote   bool
	unlockSecret  string
	autoLockDelay time.Duration
}

func resolveSettings(opts *rootOptions) (*settings, error) {
	storeDir := opts.storeDir
	if storeDir == "" {
		d, err := client.DefaultStoreDir()
		if err != nil {
			return nil, err
		}
		storeDir = d
	}
	store, err := client.NewStore(storeDir)
	if err != nil {
		return nil, err
	}

	cfgPath := opts.configFile
	explicit := cfgPath != ""
	if cfgPath == "" {
		cfgPath = filepath.Join(storeDir, configFileName)
	}
	fc := &fileConfig{}
	if loaded, err := loadFileConfig(cfgPath); err == nil {
		fc = loaded
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	s := &settings{storeDir: storeDir, store: store}
	s.serverURL = firstNonEmpty(opts.serverURL, fc.Server)
	s.token = firstNonEmpty(opts.token, fc.Token)
	s.deviceName = firstNonEmpty(opts.deviceName, fc.DeviceName)
	if s.deviceName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "pairlink-device"
		}
		s.deviceName = host
	}

	s.allowRemote = fc.Desktop.AllowRemoteControl
	s.unlockSecret = fc.Desktop.UnlockSecret
	if fc.Desktop.AutoLockDelay != "" {
		d, err := time.ParseDuration(fc.Desktop.AutoLockDelay)
		if err != nil {
			return nil, fmt.Errorf("config desktop.autoLockDelay: %w", err)
		}
		if d < 0 {
			return nil, fmt.Errorf("config desktop.autoLockDelay: must not be negative")
		}
		s.autoLockDelay = d
	}

	logger, err := newConsoleLogger(opts.stderr, firstNonEmpty(opts.logLevel, fc.LogLevel, "info"))
	if err != nil {
		return nil, &cmdutil.UsageError{Msg: err.Error()}
	}
	s.logger = logger
	return s, nil
}

// fillFromSavedRelay backfills server and token from relay-config.json, which
// a mobile writes after a successful claim.
func (s *settings) fillFromSavedRelay() {
	if s.serverURL != "" && s.token != "" {
		return
	}
	rc, err := s.store.LoadRelayConfig()
	if err != nil {
		return
	}
	if s.serverURL == "" {
		s.serverURL = rc.ServerURL
	}
	if s.token == "" {
		s.token = rc.Token
	}
}

func (s *settings) requireRelay() error {
	s.fillFromSavedRelay()
	if s.serverURL == "" || s.token == "" {
		return &cmdutil.UsageError{Msg: "relay not configured: pass --server and --token, set them in the config file, or claim a pairing first"}
	}
	return nil
}

func (s *settings) newClient(role protocol.Role, h client.Handlers) (*client.RelayClient, error) {
	return client.New(client.Config{
		ServerURL:  s.serverURL,
		Token:      s.token,
		Role:       role,
		DeviceName: s.deviceName,
		Store:      s.store,
		Logger:     s.logger,
		Handlers:   h,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
