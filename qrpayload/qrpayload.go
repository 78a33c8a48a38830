// Package qrpayload encodes the pairing hand-off shown by a desktop and
// scanned by a mobile. The JSON keys are single letters to keep the QR dense:
// {s, t, p, k, d} = server URL, token, pairing code, desktop public key,
// desktop device id. Rendering the QR image is the UI's job; this package
// only produces and parses the string content.
package qrpayload

import (
	"encoding/json"
	"errors"
	"strings"
)

// MaxBytes caps a scanned payload before parsing. Bearer tokens dominate the
// size; 8 KiB leaves generous room.
const MaxBytes = 8 * 1024

var (
	ErrTooLarge      = errors.New("qr payload too large")
	ErrInvalidJSON   = errors.New("qr payload invalid json")
	ErrMissingField  = errors.New("qr payload missing field")
	ErrInvalidServer = errors.New("qr payload invalid server url")
)

// Payload is the QR content.
type Payload struct {
	ServerURL   string `json:"s"`
	Token       string `json:"t"`
	PairingCode string `json:"p"`
	PublicKey   string `json:"k"`
	DeviceID    string `json:"d"`
}

// Encode validates and marshals the payload to its compact wire string.
func (p Payload) Encode() (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses and validates a scanned payload string.
func Decode(s string) (Payload, error) {
	if len(s) > MaxBytes {
		return Payload{}, ErrTooLarge
	}
	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Payload{}, ErrInvalidJSON
	}
	if err := p.validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

func (p Payload) validate() error {
	if p.ServerURL == "" || p.Token == "" || p.PairingCode == "" || p.PublicKey == "" || p.DeviceID == "" {
		return ErrMissingField
	}
	switch {
	case strings.HasPrefix(p.ServerURL, "http://"),
		strings.HasPrefix(p.ServerURL, "https://"),
		strings.HasPrefix(p.ServerURL, "ws://"),
		strings.HasPrefix(p.ServerURL, "wss://"):
		return nil
	default:
		return ErrInvalidServer
	}
}
