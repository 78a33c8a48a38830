// Package protocol defines the relay wire grammar: one JSON frame per
// WebSocket text message, tagged by type.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type tags a frame.
type Type string

// Client to server.
const (
	TypeHeartbeat       Type = "heartbeat"
	TypeRegisterPairing Type = "register-pairing"
	TypeClaimPairing    Type = "claim-pairing"
	TypeRevokePairing   Type = "revoke-pairing"
	TypeRelay           Type = "relay"
	TypeControlRequest  Type = "control-request"
	TypeControlAck      Type = "control-ack"
	TypeControlRevoked  Type = "control-revoked"
)

// Server to client. TypeRelay, TypeControlRequest, TypeControlAck and
// TypeControlRevoked also flow this direction, rewritten with a from field.
const (
	TypePong            Type = "pong"
	TypePairingAccepted Type = "pairing-accepted"
	TypePairingRevoked  Type = "pairing-revoked"
	TypeDeviceOnline    Type = "device-online"
	TypeDeviceOffline   Type = "device-offline"
	TypeDeviceList      Type = "device-list"
	TypeError           Type = "error"
)

// Role is the declared endpoint role from the admission query.
type Role string

const (
	RoleDesktop Role = "desktop"
	RoleMobile  Role = "mobile"
)

var ErrInvalidRole = errors.New("invalid device type")

// ParseRole validates the deviceType admission parameter.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleDesktop:
		return RoleDesktop, nil
	case RoleMobile:
		return RoleMobile, nil
	default:
		return "", ErrInvalidRole
	}
}

// Device is one entry of a device-list frame.
type Device struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName,omitempty"`
	Online     bool   `json:"online"`
}

// Frame is the single wire envelope for every frame type. Unused fields stay
// empty and are omitted on encode; Seq and Accepted are pointers because
// zero is meaningful for both.
type Frame struct {
	Type Type `json:"type"`

	PairingCode string `json:"pairingCode,omitempty"`
	PublicKey   string `json:"publicKey,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	DeviceName  string `json:"deviceName,omitempty"`

	TargetDeviceID  string `json:"targetDeviceId,omitempty"`
	TargetDesktopID string `json:"targetDesktopId,omitempty"`

	To      string `json:"to,omitempty"`
	From    string `json:"from,omitempty"`
	Payload string `json:"payload,omitempty"`
	Seq     *int64 `json:"seq,omitempty"`

	Accepted *bool `json:"accepted,omitempty"`

	Message string   `json:"message,omitempty"`
	Devices []Device `json:"devices,omitempty"`
}

// Constraints caps inbound frame sizes to prevent abuse.
type Constraints struct {
	MaxFrameBytes   int // Maximum total frame JSON bytes.
	MaxPayloadBytes int // Maximum encoded relay payload length.
	MaxNameBytes    int // Maximum deviceName length.
}

// DefaultConstraints returns safe defaults for frame validation.
func DefaultConstraints() Constraints {
	return Constraints{
		MaxFrameBytes:   512 * 1024,
		MaxPayloadBytes: 384 * 1024,
		MaxNameBytes:    128,
	}
}

var (
	ErrFrameTooLarge   = errors.New("frame too large")
	ErrInvalidJSON     = errors.New("frame invalid json")
	ErrUnknownType     = errors.New("frame unknown type")
	ErrMissingField    = errors.New("frame missing field")
	ErrInvalidSeq      = errors.New("frame invalid seq")
	ErrPayloadTooLarge = errors.New("frame payload too large")
	ErrNameTooLong     = errors.New("frame device name too long")
)

// Parse decodes any known frame without direction-specific field checks.
func Parse(b []byte) (*Frame, error) {
	return parse(b, DefaultConstraints())
}

// ParseClientFrame decodes and validates a frame arriving from an endpoint,
// using DefaultConstraints.
func ParseClientFrame(b []byte) (*Frame, error) {
	return ParseClientFrameWithConstraints(b, DefaultConstraints())
}

// ParseClientFrameWithConstraints decodes and validates an endpoint frame.
//
// Zero-valued fields in c are filled from DefaultConstraints so the guard
// always applies.
func ParseClientFrameWithConstraints(b []byte, c Constraints) (*Frame, error) {
	c = c.withDefaults()
	f, err := parse(b, c)
	if err != nil {
		return nil, err
	}
	if err := f.validateClient(c); err != nil {
		return nil, err
	}
	return f, nil
}

func (c Constraints) withDefaults() Constraints {
	def := DefaultConstraints()
	if c.MaxFrameBytes == 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = def.MaxPayloadBytes
	}
	if c.MaxNameBytes == 0 {
		c.MaxNameBytes = def.MaxNameBytes
	}
	return c
}

func parse(b []byte, c Constraints) (*Frame, error) {
	if c.MaxFrameBytes > 0 && len(b) > c.MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, ErrInvalidJSON
	}
	switch f.Type {
	case TypeHeartbeat, TypeRegisterPairing, TypeClaimPairing, TypeRevokePairing,
		TypeRelay, TypeControlRequest, TypeControlAck, TypeControlRevoked,
		TypePong, TypePairingAccepted, TypePairingRevoked,
		TypeDeviceOnline, TypeDeviceOffline, TypeDeviceList, TypeError:
		return &f, nil
	default:
		return nil, ErrUnknownType
	}
}

func (f *Frame) validateClient(c Constraints) error {
	switch f.Type {
	case TypeHeartbeat:
		return nil
	case TypeRegisterPairing:
		if f.PairingCode == "" {
			return fmt.Errorf("%w: pairingCode", ErrMissingField)
		}
		if f.PublicKey == "" {
			return fmt.Errorf("%w: publicKey", ErrMissingField)
		}
		if c.MaxNameBytes > 0 && len(f.DeviceName) > c.MaxNameBytes {
			return ErrNameTooLong
		}
		return nil
	case TypeClaimPairing:
		if f.PairingCode == "" {
			return fmt.Errorf("%w: pairingCode", ErrMissingField)
		}
		if f.PublicKey == "" {
			return fmt.Errorf("%w: publicKey", ErrMissingField)
		}
		return nil
	case TypeRevokePairing:
		if f.TargetDeviceID == "" {
			return fmt.Errorf("%w: targetDeviceId", ErrMissingField)
		}
		return nil
	case TypeRelay:
		if f.To == "" {
			return fmt.Errorf("%w: to", ErrMissingField)
		}
		if f.Payload == "" {
			return fmt.Errorf("%w: payload", ErrMissingField)
		}
		if c.MaxPayloadBytes > 0 && len(f.Payload) > c.MaxPayloadBytes {
			return ErrPayloadTooLarge
		}
		if f.Seq == nil {
			return fmt.Errorf("%w: seq", ErrMissingField)
		}
		if *f.Seq < 0 {
			return ErrInvalidSeq
		}
		return nil
	case TypeControlRequest:
		if f.TargetDesktopID == "" {
			return fmt.Errorf("%w: targetDesktopId", ErrMissingField)
		}
		return nil
	case TypeControlAck:
		if f.To == "" {
			return fmt.Errorf("%w: to", ErrMissingField)
		}
		if f.Accepted == nil {
			return fmt.Errorf("%w: accepted", ErrMissingField)
		}
		return nil
	case TypeControlRevoked:
		if f.To == "" {
			return fmt.Errorf("%w: to", ErrMissingField)
		}
		return nil
	default:
		// Server-to-client types are not valid ingress.
		return ErrUnknownType
	}
}

// Encode marshals the frame for the wire.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}
