package client

import "github.com/claude-studio/pairlink/relay/protocol"

// Handlers receives relay events on the client's read goroutine. Every field
// is optional; nil handlers are skipped. Handlers must not block: a slow
// handler stalls frame processing for the whole connection.
type Handlers struct {
	// OnRelayPlaintext delivers a decrypted relay payload from a paired peer.
	OnRelayPlaintext func(from string, plaintext []byte)

	// OnPairingAccepted fires when a pairing handshake completes and the
	// session for peer is committed.
	OnPairingAccepted func(peer PairedDevice)

	// OnPairingRevoked fires when a peer revokes the pairing. The local
	// session is already removed when this is called.
	OnPairingRevoked func(byDeviceID string)

	// OnDeviceOnline and OnDeviceOffline track paired-peer presence.
	OnDeviceOnline  func(deviceID, deviceName string)
	OnDeviceOffline func(deviceID, deviceName string)

	// OnDeviceList delivers the desktop roster pushed to mobile endpoints.
	OnDeviceList func(devices []protocol.Device)

	// OnControlRequest fires on a desktop when a paired mobile asks to take
	// control.
	OnControlRequest func(from, fromName string)

	// OnControlAck fires on a mobile with the desktop's answer.
	OnControlAck func(from string, accepted bool)

	// OnControlRevoked fires when the peer ends a control hand-off.
	OnControlRevoked func(from string)

	// OnRepairRequired fires when an inbound payload from peer failed
	// decryption and the session was dropped. The pairing must be redone.
	OnRepairRequired func(peer string, reason error)

	// OnConnectionState reports relay connectivity transitions.
	OnConnectionState func(connected bool)

	// OnError delivers error frames sent by the relay.
	OnError func(message string)
}

func (h Handlers) relayPlaintext(from string, plaintext []byte) {
	if h.OnRelayPlaintext != nil {
		h.OnRelayPlaintext(from, plaintext)
	}
}

func (h Handlers) pairingAccepted(peer PairedDevice) {
	if h.OnPairingAccepted != nil {
		h.OnPairingAccepted(peer)
	}
}

func (h Handlers) pairingRevoked(byDeviceID string) {
	if h.OnPairingRevoked != nil {
		h.OnPairingRevoked(byDeviceID)
	}
}

func (h Handlers) deviceOnline(deviceID, deviceName string) {
	if h.OnDeviceOnline != nil {
		h.OnDeviceOnline(deviceID, deviceName)
	}
}

func (h Handlers) deviceOffline(deviceID, deviceName string) {
	if h.OnDeviceOffline != nil {
		h.OnDeviceOffline(deviceID, deviceName)
	}
}

func (h Handlers) deviceList(devices []protocol.Device) {
	if h.OnDeviceList != nil {
		h.OnDeviceList(devices)
	}
}

func (h Handlers) controlRequest(from, fromName string) {
	if h.OnControlRequest != nil {
		h.OnControlRequest(from, fromName)
	}
}

func (h Handlers) controlAck(from string, accepted bool) {
	if h.OnControlAck != nil {
		h.OnControlAck(from, accepted)
	}
}

func (h Handlers) controlRevoked(from string) {
	if h.OnControlRevoked != nil {
		h.OnControlRevoked(from)
	}
}

func (h Handlers) repairRequired(peer string, reason error) {
	if h.OnRepairRequired != nil {
		h.OnRepairRequired(peer, reason)
	}
}

func (h Handlers) connectionState(connected bool) {
	if h.OnConnectionState != nil {
		h.OnConnectionState(connected)
	}
}

func (h Handlers) errorMessage(message string) {
	if h.OnError != nil {
		h.OnError(message)
	}
}
