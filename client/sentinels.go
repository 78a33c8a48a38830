package client

import "errors"

// Sentinel errors for RelayClient operations. Transport, crypto, and store
// failures carry a structured plerrors value instead.
var (
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("client: closed")

	// ErrNotConnected is returned when an operation needs a live relay
	// connection and the reconnect loop is between attempts.
	ErrNotConnected = errors.New("client: not connected")

	// ErrNoSession is returned by SendEncrypted when no E2EE session exists
	// for the target peer.
	ErrNoSession = errors.New("client: no session for peer")

	// ErrWrongRole is returned when a pairing operation does not match the
	// endpoint role: desktops register offers, mobiles claim them.
	ErrWrongRole = errors.New("client: operation not valid for this role")
)
