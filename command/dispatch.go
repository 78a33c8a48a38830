// Package command runs the cleartext RPC carried inside encrypted relay
// payloads: a desktop-side dispatcher with a fixed channel whitelist, and a
// mobile-side caller that tracks one response per request id.
//
// Neither half touches the relay directly; both send through an injected
// function, normally RelayClient.SendEncrypted.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/claude-studio/pairlink/framing/envelope"
	"github.com/claude-studio/pairlink/internal/defaults"
)

// allowedChannels is the fixed command surface a mobile may invoke. Anything
// else is answered with "Channel not allowed" without looking up a handler.
var allowedChannels = map[string]bool{
	"claude:spawn":      true,
	"claude:send":       true,
	"claude:kill":       true,
	"sessions:list":     true,
	"sessions:messages": true,
	"git:status":        true,
	"files:search":      true,
	"app:info":          true,
}

// Allowed reports whether channel is on the command whitelist.
func Allowed(channel string) bool { return allowedChannels[channel] }

// ErrNoStream is returned by EmitProcessEvent for a pid no mobile spawned.
var ErrNoStream = errors.New("command: no stream for pid")

// Sender transmits one envelope payload to a peer device.
type Sender func(to string, payload []byte) error

// Handler runs one command. The returned value is marshaled into the
// response; an error becomes a response error with its message.
type Handler func(ctx context.Context, args []json.RawMessage) (any, error)

// DispatcherConfig wires a Dispatcher into its agent.
type DispatcherConfig struct {
	// Send transmits responses and events. Required.
	Send Sender

	// CommandTimeout bounds one handler run.
	CommandTimeout time.Duration

	Logger zerolog.Logger
}

// Dispatcher is the desktop side: it decodes command envelopes, runs the
// matching handler, and answers with exactly one response per command id.
type Dispatcher struct {
	send    Sender
	timeout time.Duration
	log     zerolog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	streams  map[int]string // pid to the mobile that spawned it
}

// NewDispatcher validates cfg and returns an empty dispatcher. Handlers are
// added with Register.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Send == nil {
		return nil, errors.New("command: missing sender")
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaults.CommandTimeout
	}
	return &Dispatcher{
		send:     cfg.Send,
		timeout:  cfg.CommandTimeout,
		log:      cfg.Logger,
		handlers: make(map[string]Handler),
		streams:  make(map[int]string),
	}, nil
}

// Register installs the handler for a whitelisted channel, replacing any
// previous one.
func (d *Dispatcher) Register(channel string, h Handler) error {
	if !allowedChannels[channel] {
		return fmt.Errorf("command: channel %q not in whitelist", channel)
	}
	if h == nil {
		return errors.New("command: nil handler")
	}
	d.mu.Lock()
	d.handlers[channel] = h
	d.mu.Unlock()
	return nil
}

// HandleEnvelope feeds one decrypted payload from a mobile. Commands run on
// their own goroutine so a slow handler never stalls the relay read loop;
// anything that is not a command is dropped.
func (d *Dispatcher) HandleEnvelope(from string, payload []byte) {
	dec, err := envelope.Decode(payload, 0)
	if err != nil {
		d.log.Warn().Err(err).Str("from", from).Msg("undecodable envelope; dropped")
		return
	}
	if dec.Command == nil {
		d.log.Debug().Str("from", from).Msg("non-command envelope on dispatcher; dropped")
		return
	}
	go d.run(from, dec.Command)
}

func (d *Dispatcher) run(from string, cmd *envelope.Command) {
	resp := d.execute(from, cmd)
	b, err := resp.Encode()
	if err != nil {
		d.log.Error().Err(err).Str("id", cmd.ID).Msg("response encode failed")
		return
	}
	if err := d.send(from, b); err != nil {
		d.log.Warn().Err(err).Str("to", from).Str("id", cmd.ID).Msg("response send failed")
	}
}

func (d *Dispatcher) execute(from string, cmd *envelope.Command) envelope.Response {
	if !allowedChannels[cmd.Channel] {
		d.log.Warn().Str("from", from).Str("channel", cmd.Channel).Msg("command outside whitelist")
		return envelope.NewErrorResponse(cmd.ID, "Channel not allowed")
	}
	d.mu.Lock()
	h := d.handlers[cmd.Channel]
	d.mu.Unlock()
	if h == nil {
		return envelope.NewErrorResponse(cmd.ID, "Channel not implemented")
	}

	result, err := d.invoke(h, cmd.Args)
	if err != nil {
		return envelope.NewErrorResponse(cmd.ID, err.Error())
	}
	resp, err := envelope.NewResultResponse(cmd.ID, result)
	if err != nil {
		return envelope.NewErrorResponse(cmd.ID, "result not serializable: "+err.Error())
	}

	switch cmd.Channel {
	case "claude:spawn":
		d.trackSpawn(from, resp.Result)
	case "claude:kill":
		d.clearKilled(cmd.Args)
	}
	return resp
}

// invoke runs the handler with a deadline and converts panics into errors,
// so one broken handler cannot take the agent down.
func (d *Dispatcher) invoke(h Handler, args []json.RawMessage) (result any, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, args)
}

// trackSpawn binds a spawned pid to the mobile that asked for it, so later
// process output can stream back as events.
func (d *Dispatcher) trackSpawn(from string, result json.RawMessage) {
	var r struct {
		Pid *int `json:"pid"`
	}
	if err := json.Unmarshal(result, &r); err != nil || r.Pid == nil {
		return
	}
	d.mu.Lock()
	d.streams[*r.Pid] = from
	d.mu.Unlock()
	d.log.Debug().Int("pid", *r.Pid).Str("to", from).Msg("process stream bound")
}

// clearKilled unbinds the stream for an explicitly killed pid.
func (d *Dispatcher) clearKilled(args []json.RawMessage) {
	if len(args) == 0 {
		return
	}
	var pid int
	if err := json.Unmarshal(args[0], &pid); err != nil {
		return
	}
	d.ClearStream(pid)
}

// ClearStream unbinds pid's event stream. The agent calls this when the
// process exits on its own.
func (d *Dispatcher) ClearStream(pid int) {
	d.mu.Lock()
	delete(d.streams, pid)
	d.mu.Unlock()
}

// StreamTarget returns the mobile bound to pid, or "".
func (d *Dispatcher) StreamTarget(pid int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[pid]
}

// EmitProcessEvent sends an event envelope to the mobile that spawned pid.
func (d *Dispatcher) EmitProcessEvent(pid int, channel string, data any) error {
	d.mu.Lock()
	to := d.streams[pid]
	d.mu.Unlock()
	if to == "" {
		return ErrNoStream
	}
	ev, err := envelope.NewEvent(channel, data)
	if err != nil {
		return err
	}
	b, err := ev.Encode()
	if err != nil {
		return err
	}
	return d.send(to, b)
}
