// Package control implements the desktop-side hand-off state machine: which
// paired device is driving the desktop, and how the local user takes it back.
//
// The machine never talks to the relay itself; the owning agent injects the
// session check and the ack/revoke senders and feeds it relay events.
package control

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the hand-off position of the desktop.
type State string

const (
	// StateLocal means the desktop user is in control.
	StateLocal State = "local"
	// StateRemote means a paired mobile is in control.
	StateRemote State = "remote"
	// StateUnlocking means a failed unlock attempt was made while remote;
	// control stays with the mobile until the right secret arrives.
	StateUnlocking State = "unlocking"
)

// DefaultUnlockSecret is the factory unlock code.
const DefaultUnlockSecret = "666666"

var (
	ErrBadSecret      = errors.New("control: unlock secret must be six digits")
	errMissingSession = errors.New("control: missing session check")
	errMissingSenders = errors.New("control: missing ack/revoke senders")
)

// Config wires the machine into its agent.
type Config struct {
	// AllowRemote gates whether control requests are ever accepted.
	AllowRemote bool

	// AutoLockDelay defers the switch to remote after an accepted request,
	// giving the local user a moment to see the takeover coming. Zero
	// switches immediately.
	AutoLockDelay time.Duration

	// UnlockSecret is the six-digit unlock code. Empty selects the default.
	UnlockSecret string

	// HasSession reports whether an E2EE session exists with a device.
	// Control is only ever handed to a paired peer. Required.
	HasSession func(deviceID string) bool

	// SendAck answers a control request. Required.
	SendAck func(to string, accepted bool) error

	// SendRevoked tells the controller the desktop took control back. Required.
	SendRevoked func(to string) error

	// OnStateChange observes transitions. Optional. The controller argument
	// is empty in StateLocal.
	OnStateChange func(s State, controller string)

	Logger zerolog.Logger
}

// FSM is the hand-off machine. All methods are safe for concurrent use.
type FSM struct {
	mu         sync.Mutex
	state      State
	controller string
	secret     string
	allow      bool
	autoLock   time.Duration
	graceFor   string
	graceTimer *time.Timer

	hasSession  func(string) bool
	sendAck     func(string, bool) error
	sendRevoked func(string) error
	onChange    func(State, string)
	log         zerolog.Logger
}

// New validates cfg and returns a machine in StateLocal.
func New(cfg Config) (*FSM, error) {
	if cfg.HasSession == nil {
		return nil, errMissingSession
	}
	if cfg.SendAck == nil || cfg.SendRevoked == nil {
		return nil, errMissingSenders
	}
	secret := cfg.UnlockSecret
	if secret == "" {
		secret = DefaultUnlockSecret
	}
	if !validSecret(secret) {
		return nil, ErrBadSecret
	}
	return &FSM{
		state:       StateLocal,
		secret:      secret,
		allow:       cfg.AllowRemote,
		autoLock:    cfg.AutoLockDelay,
		hasSession:  cfg.HasSession,
		sendAck:     cfg.SendAck,
		sendRevoked: cfg.SendRevoked,
		onChange:    cfg.OnStateChange,
		log:         cfg.Logger,
	}, nil
}

func validSecret(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// State returns the current position.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Controller returns the device in control, or "" in StateLocal.
func (f *FSM) Controller() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.controller
}

// IsLocked reports whether the desktop UI should be locked against local
// input: true in StateRemote and StateUnlocking.
func (f *FSM) IsLocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == StateRemote || f.state == StateUnlocking
}

// SetAllowRemote toggles acceptance of future control requests. An active
// hand-off is not interrupted.
func (f *FSM) SetAllowRemote(allow bool) {
	f.mu.Lock()
	f.allow = allow
	f.mu.Unlock()
}

// SetUnlockSecret replaces the unlock code. Six digits, nothing else.
func (f *FSM) SetUnlockSecret(secret string) error {
	if !validSecret(secret) {
		return ErrBadSecret
	}
	f.mu.Lock()
	f.secret = secret
	f.mu.Unlock()
	return nil
}

// HandleControlRequest answers a control request from a paired mobile and
// reports whether it was accepted. Acceptance requires remote control to be
// enabled, a live session with the requester, StateLocal, and no takeover
// already pending.
func (f *FSM) HandleControlRequest(from string) bool {
	f.mu.Lock()
	accept := f.allow && f.state == StateLocal && f.graceFor == "" && f.hasSession(from)
	if !accept {
		f.mu.Unlock()
		f.ack(from, false)
		f.log.Info().Str("from", from).Msg("control request rejected")
		return false
	}
	if f.autoLock > 0 {
		f.graceFor = from
		f.graceTimer = time.AfterFunc(f.autoLock, func() { f.engage(from) })
		f.mu.Unlock()
		f.ack(from, true)
		f.log.Info().Str("from", from).Dur("grace", f.autoLock).Msg("control request accepted; takeover pending")
		return true
	}
	f.state = StateRemote
	f.controller = from
	f.mu.Unlock()
	f.ack(from, true)
	f.log.Info().Str("from", from).Msg("control handed to remote")
	f.notify(StateRemote, from)
	return true
}

// engage completes a deferred takeover, unless it was cancelled meanwhile.
func (f *FSM) engage(from string) {
	f.mu.Lock()
	if f.graceFor != from {
		f.mu.Unlock()
		return
	}
	f.graceFor = ""
	f.graceTimer = nil
	f.state = StateRemote
	f.controller = from
	f.mu.Unlock()
	f.log.Info().Str("from", from).Msg("control handed to remote")
	f.notify(StateRemote, from)
}

// TryUnlock attempts to return control to the local user. A wrong secret
// moves (or keeps) the machine in StateUnlocking; the right secret returns
// to StateLocal and notifies the controller. Returns true when the desktop
// is local afterwards.
func (f *FSM) TryUnlock(secret string) bool {
	f.mu.Lock()
	if f.state == StateLocal {
		f.mu.Unlock()
		return true
	}
	if secret != f.secret {
		changed := f.state != StateUnlocking
		controller := f.controller
		f.state = StateUnlocking
		f.mu.Unlock()
		f.log.Warn().Msg("unlock attempt with wrong secret")
		if changed {
			f.notify(StateUnlocking, controller)
		}
		return false
	}
	controller := f.controller
	f.state = StateLocal
	f.controller = ""
	f.mu.Unlock()
	f.revoke(controller)
	f.log.Info().Str("controller", controller).Msg("control returned to local")
	f.notify(StateLocal, "")
	return true
}

// PeerOffline releases control if peer held it or a takeover by peer was
// pending.
func (f *FSM) PeerOffline(peer string) {
	f.release(func(held string) bool { return held == peer }, "peer offline")
}

// PairRevoked releases control if the revoked peer held it.
func (f *FSM) PairRevoked(peer string) {
	f.release(func(held string) bool { return held == peer }, "pairing revoked")
}

// Disconnected releases control unconditionally: with the relay gone, the
// controller cannot drive the desktop anyway.
func (f *FSM) Disconnected() {
	f.release(func(string) bool { return true }, "relay disconnected")
}

func (f *FSM) release(match func(string) bool, why string) {
	f.mu.Lock()
	if f.graceFor != "" && match(f.graceFor) {
		if f.graceTimer != nil {
			f.graceTimer.Stop()
			f.graceTimer = nil
		}
		f.graceFor = ""
	}
	released := false
	if (f.state == StateRemote || f.state == StateUnlocking) && match(f.controller) {
		f.state = StateLocal
		f.controller = ""
		released = true
	}
	f.mu.Unlock()
	if released {
		f.log.Info().Str("reason", why).Msg("control returned to local")
		f.notify(StateLocal, "")
	}
}

// Close cancels any pending takeover timer.
func (f *FSM) Close() {
	f.mu.Lock()
	if f.graceTimer != nil {
		f.graceTimer.Stop()
		f.graceTimer = nil
	}
	f.graceFor = ""
	f.mu.Unlock()
}

func (f *FSM) ack(to string, accepted bool) {
	if err := f.sendAck(to, accepted); err != nil {
		f.log.Warn().Err(err).Str("to", to).Msg("control ack send failed")
	}
}

func (f *FSM) revoke(to string) {
	if err := f.sendRevoked(to); err != nil {
		f.log.Warn().Err(err).Str("to", to).Msg("control revoke send failed")
	}
}

func (f *FSM) notify(s State, controller string) {
	if f.onChange != nil {
		f.onChange(s, controller)
	}
}
