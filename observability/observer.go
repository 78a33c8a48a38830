package observability

import (
	"sync"
	"sync/atomic"
)

type AdmissionReason string

const (
	AdmissionReasonUpgradeError       AdmissionReason = "upgrade_error"
	AdmissionReasonMissingToken       AdmissionReason = "missing_token"
	AdmissionReasonInvalidToken       AdmissionReason = "invalid_token"
	AdmissionReasonUnknownUser        AdmissionReason = "unknown_user"
	AdmissionReasonInvalidRole        AdmissionReason = "invalid_role"
	AdmissionReasonInvalidDeviceID    AdmissionReason = "invalid_device_id"
	AdmissionReasonMissingName        AdmissionReason = "missing_name"
	AdmissionReasonNameTooLong        AdmissionReason = "name_too_long"
	AdmissionReasonTooManyConnections AdmissionReason = "too_many_connections"
)

type CloseReason string

const (
	CloseReasonPeerClosed    CloseReason = "peer_closed"
	CloseReasonReadError     CloseReason = "read_error"
	CloseReasonNonTextFrame  CloseReason = "non_text_frame"
	CloseReasonFrameTooLarge CloseReason = "frame_too_large"
	CloseReasonSendOverflow  CloseReason = "send_overflow"
	CloseReasonWriteError    CloseReason = "write_error"
	CloseReasonReplaced      CloseReason = "replaced"
	CloseReasonShutdown      CloseReason = "shutdown"
)

type ClaimResult string

const (
	ClaimResultOK        ClaimResult = "ok"
	ClaimResultExpired   ClaimResult = "expired"
	ClaimResultNotFound  ClaimResult = "not_found"
	ClaimResultWrongUser ClaimResult = "wrong_user"
)

type RejectReason string

const (
	RejectReasonInvalidJSON     RejectReason = "invalid_json"
	RejectReasonUnknownType     RejectReason = "unknown_type"
	RejectReasonMissingField    RejectReason = "missing_field"
	RejectReasonPayloadTooLarge RejectReason = "payload_too_large"
	RejectReasonRoleViolation   RejectReason = "role_violation"
	RejectReasonNotPaired       RejectReason = "not_paired"
	RejectReasonTargetOffline   RejectReason = "target_offline"
)

// RelayObserver receives relay-level metric events.
type RelayObserver interface {
	ConnOpened()
	ConnClosed(reason CloseReason)
	ConnCount(n int64)
	AdmissionRejected(reason AdmissionReason)
	FrameReceived(frameType string)
	FrameForwarded(frameType string)
	FrameRejected(reason RejectReason)
	PairingRegistered()
	PairingClaimed(result ClaimResult)
	PairingRevoked()
	PairingOffersSwept(n int)
	OfferCount(n int)
	ControlRequested()
	DeviceListSent()
}

type noopRelayObserver struct{}

func (noopRelayObserver) ConnOpened()                       {}
func (noopRelayObserver) ConnClosed(CloseReason)            {}
func (noopRelayObserver) ConnCount(int64)                   {}
func (noopRelayObserver) AdmissionRejected(AdmissionReason) {}
func (noopRelayObserver) FrameReceived(string)              {}
func (noopRelayObserver) FrameForwarded(string)             {}
func (noopRelayObserver) FrameRejected(RejectReason)        {}
func (noopRelayObserver) PairingRegistered()                {}
func (noopRelayObserver) PairingClaimed(ClaimResult)        {}
func (noopRelayObserver) PairingRevoked()                   {}
func (noopRelayObserver) PairingOffersSwept(int)            {}
func (noopRelayObserver) OfferCount(int)                    {}
func (noopRelayObserver) ControlRequested()                 {}
func (noopRelayObserver) DeviceListSent()                   {}

// NoopRelayObserver is a zero-cost observer used when metrics are disabled.
var NoopRelayObserver RelayObserver = noopRelayObserver{}

// AtomicRelayObserver swaps its delegate at runtime.
type AtomicRelayObserver struct {
	once sync.Once
	v    atomic.Value
}

type relayObserverHolder struct {
	obs RelayObserver
}

// NewAtomicRelayObserver returns an initialized atomic observer.
func NewAtomicRelayObserver() *AtomicRelayObserver {
	a := &AtomicRelayObserver{}
	a.once.Do(func() { a.v.Store(&relayObserverHolder{obs: NoopRelayObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicRelayObserver) Set(obs RelayObserver) {
	if obs == nil {
		obs = NoopRelayObserver
	}
	a.once.Do(func() { a.v.Store(&relayObserverHolder{obs: NoopRelayObserver}) })
	a.v.Store(&relayObserverHolder{obs: obs})
}

func (a *AtomicRelayObserver) load() RelayObserver {
	a.once.Do(func() { a.v.Store(&relayObserverHolder{obs: NoopRelayObserver}) })
	return a.v.Load().(*relayObserverHolder).obs
}

func (a *AtomicRelayObserver) ConnOpened()              { a.load().ConnOpened() }
func (a *AtomicRelayObserver) ConnClosed(r CloseReason) { a.load().ConnClosed(r) }
func (a *AtomicRelayObserver) ConnCount(n int64)        { a.load().ConnCount(n) }
func (a *AtomicRelayObserver) AdmissionRejected(r AdmissionReason) {
	a.load().AdmissionRejected(r)
}
func (a *AtomicRelayObserver) FrameReceived(t string)  { a.load().FrameReceived(t) }
func (a *AtomicRelayObserver) FrameForwarded(t string) { a.load().FrameForwarded(t) }
func (a *AtomicRelayObserver) FrameRejected(r RejectReason) {
	a.load().FrameRejected(r)
}
func (a *AtomicRelayObserver) PairingRegistered() { a.load().PairingRegistered() }
func (a *AtomicRelayObserver) PairingClaimed(r ClaimResult) {
	a.load().PairingClaimed(r)
}
func (a *AtomicRelayObserver) PairingRevoked()          { a.load().PairingRevoked() }
func (a *AtomicRelayObserver) PairingOffersSwept(n int) { a.load().PairingOffersSwept(n) }
func (a *AtomicRelayObserver) OfferCount(n int)         { a.load().OfferCount(n) }
func (a *AtomicRelayObserver) ControlRequested()        { a.load().ControlRequested() }
func (a *AtomicRelayObserver) DeviceListSent()          { a.load().DeviceListSent() }
