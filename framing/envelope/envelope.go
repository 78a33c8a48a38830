// Package envelope defines the cleartext protocol carried inside encrypted
// relay payloads: one JSON object per payload, tagged by type.
package envelope

import (
	"encoding/json"
	"errors"
)

// DefaultMaxBytes is the recommended cap for a single decoded envelope. It
// matches the relay's default plaintext budget per frame.
const DefaultMaxBytes = 256 * 1024

// Type tags an envelope object.
type Type string

const (
	TypeCommand  Type = "command"
	TypeResponse Type = "response"
	TypeEvent    Type = "event"
)

var (
	ErrTooLarge       = errors.New("envelope too large")
	ErrInvalidJSON    = errors.New("envelope invalid json")
	ErrUnknownType    = errors.New("envelope unknown type")
	ErrMissingID      = errors.New("envelope missing id")
	ErrMissingChannel = errors.New("envelope missing channel")
)

// Command asks the desktop to run one whitelisted channel handler.
// IDs are caller-generated and unique per in-flight request.
type Command struct {
	Type    Type              `json:"type"`
	ID      string            `json:"id"`
	Channel string            `json:"channel"`
	Args    []json.RawMessage `json:"args"`
}

// Response answers exactly one Command, carrying either a result or an error.
type Response struct {
	Type   Type            `json:"type"`
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Event is an unsolicited desktop-to-mobile notification (streaming progress).
type Event struct {
	Type    Type            `json:"type"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewCommand builds a command envelope. A nil args slice becomes an empty
// JSON array on the wire.
func NewCommand(id string, channel string, args []json.RawMessage) Command {
	if args == nil {
		args = []json.RawMessage{}
	}
	return Command{Type: TypeCommand, ID: id, Channel: channel, Args: args}
}

// NewResultResponse builds a success response; result is marshaled in place.
func NewResultResponse(id string, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	return Response{Type: TypeResponse, ID: id, Result: raw}, nil
}

// NewErrorResponse builds a failure response with a human-readable message.
func NewErrorResponse(id string, msg string) Response {
	return Response{Type: TypeResponse, ID: id, Error: msg}
}

// NewEvent builds an event envelope; data is marshaled in place.
func NewEvent(channel string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: TypeEvent, Channel: channel, Data: raw}, nil
}

func (c Command) Encode() ([]byte, error) {
	if c.ID == "" {
		return nil, ErrMissingID
	}
	if c.Channel == "" {
		return nil, ErrMissingChannel
	}
	if c.Args == nil {
		c.Args = []json.RawMessage{}
	}
	c.Type = TypeCommand
	return json.Marshal(c)
}

func (r Response) Encode() ([]byte, error) {
	if r.ID == "" {
		return nil, ErrMissingID
	}
	r.Type = TypeResponse
	return json.Marshal(r)
}

func (e Event) Encode() ([]byte, error) {
	if e.Channel == "" {
		return nil, ErrMissingChannel
	}
	e.Type = TypeEvent
	return json.Marshal(e)
}

// Decoded holds the result of Decode; exactly one field is non-nil.
type Decoded struct {
	Command  *Command
	Response *Response
	Event    *Event
}

// Decode parses one envelope with a size guard.
//
// maxBytes <= 0 selects DefaultMaxBytes; the guard always applies because
// envelopes arrive from the peer device, not from local code.
func Decode(b []byte, maxBytes int) (Decoded, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(b) > maxBytes {
		return Decoded{}, ErrTooLarge
	}
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return Decoded{}, ErrInvalidJSON
	}
	switch head.Type {
	case TypeCommand:
		var c Command
		if err := json.Unmarshal(b, &c); err != nil {
			return Decoded{}, ErrInvalidJSON
		}
		if c.ID == "" {
			return Decoded{}, ErrMissingID
		}
		if c.Channel == "" {
			return Decoded{}, ErrMissingChannel
		}
		return Decoded{Command: &c}, nil
	case TypeResponse:
		var r Response
		if err := json.Unmarshal(b, &r); err != nil {
			return Decoded{}, ErrInvalidJSON
		}
		if r.ID == "" {
			return Decoded{}, ErrMissingID
		}
		return Decoded{Response: &r}, nil
	case TypeEvent:
		var e Event
		if err := json.Unmarshal(b, &e); err != nil {
			return Decoded{}, ErrInvalidJSON
		}
		if e.Channel == "" {
			return Decoded{}, ErrMissingChannel
		}
		return Decoded{Event: &e}, nil
	default:
		return Decoded{}, ErrUnknownType
	}
}
