package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/claude-studio/pairlink/framing/envelope"
	"github.com/claude-studio/pairlink/internal/defaults"
	"github.com/claude-studio/pairlink/plerrors"
)

// CallerConfig wires a Caller into its agent.
type CallerConfig struct {
	// Send transmits command envelopes. Required.
	Send Sender

	// Timeout bounds one call from send to response.
	Timeout time.Duration

	// OnEvent receives unsolicited events from the desktop.
	OnEvent func(from string, channel string, data json.RawMessage)

	Logger zerolog.Logger
}

// Caller is the mobile side: it assigns each command a fresh id, sends it,
// and parks the call until the matching response arrives or the budget runs
// out. Responses with no waiting call are dropped; they are the normal tail
// of a call that already timed out.
type Caller struct {
	send    Sender
	timeout time.Duration
	onEvent func(string, string, json.RawMessage)
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan envelope.Response
}

// NewCaller validates cfg and returns a caller with no calls in flight.
func NewCaller(cfg CallerConfig) (*Caller, error) {
	if cfg.Send == nil {
		return nil, errors.New("command: missing sender")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.CommandTimeout
	}
	return &Caller{
		send:    cfg.Send,
		timeout: cfg.Timeout,
		onEvent: cfg.OnEvent,
		log:     cfg.Logger,
		pending: make(map[string]chan envelope.Response),
	}, nil
}

// Call sends one command to the desktop and waits for its response. It
// returns the raw result, or an error carrying the desktop's message, or a
// timeout once the budget is spent. The pending entry is removed on every
// exit path.
func (c *Caller) Call(ctx context.Context, to, channel string, args []json.RawMessage) (json.RawMessage, error) {
	id := uuid.NewString()
	b, err := envelope.NewCommand(id, channel, args).Encode()
	if err != nil {
		return nil, err
	}

	ch := make(chan envelope.Response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(to, b); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, plerrors.Wrap(plerrors.StageCommand, plerrors.CodeHandlerError, errors.New(resp.Error))
		}
		return resp.Result, nil
	case <-ctx.Done():
		code := plerrors.CodeCommandTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			code = plerrors.CodeCanceled
		}
		return nil, plerrors.Wrap(plerrors.StageCommand, code, ctx.Err())
	}
}

// HandleEnvelope feeds one decrypted payload from the desktop. Responses
// wake their waiting call; events go to OnEvent; commands are dropped.
func (c *Caller) HandleEnvelope(from string, payload []byte) {
	dec, err := envelope.Decode(payload, 0)
	if err != nil {
		c.log.Warn().Err(err).Str("from", from).Msg("undecodable envelope; dropped")
		return
	}
	switch {
	case dec.Response != nil:
		c.mu.Lock()
		ch := c.pending[dec.Response.ID]
		c.mu.Unlock()
		if ch == nil {
			c.log.Debug().Str("id", dec.Response.ID).Msg("response with no waiting call; dropped")
			return
		}
		select {
		case ch <- *dec.Response:
		default:
		}
	case dec.Event != nil:
		if c.onEvent != nil {
			c.onEvent(from, dec.Event.Channel, dec.Event.Data)
		}
	default:
		c.log.Debug().Str("from", from).Msg("command envelope on caller; dropped")
	}
}

// Pending reports how many calls are waiting for a response.
func (c *Caller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
