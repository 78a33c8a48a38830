package defaults

import "time"

const (
	// ConnectTimeout bounds a single WebSocket dial attempt from an endpoint.
	ConnectTimeout = 10 * time.Second
	// HeartbeatInterval is how often a connected endpoint sends a heartbeat frame.
	HeartbeatInterval = 30 * time.Second
	// ReconnectBase is the first reconnect delay after an unexpected close.
	ReconnectBase = 1 * time.Second
	// ReconnectCap caps the exponential reconnect delay.
	ReconnectCap = 30 * time.Second
	// OfferTTL is how long a registered pairing offer stays claimable.
	OfferTTL = 5 * time.Minute
	// SweepInterval is how often the server purges expired pairing offers.
	SweepInterval = 60 * time.Second
	// CommandTimeout bounds a single command round trip through the E2EE envelope.
	CommandTimeout = 15 * time.Second
	// WriteTimeout bounds a single websocket frame write on the server.
	WriteTimeout = 10 * time.Second
)

// ReconnectDelay returns the delay before reconnect attempt n (0-based),
// growing as 2^n seconds from ReconnectBase and clamped to ReconnectCap.
func ReconnectDelay(attempt int) time.Duration {
	d := ReconnectBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ReconnectCap {
			return ReconnectCap
		}
	}
	return d
}
