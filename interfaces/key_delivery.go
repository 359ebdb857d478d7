// Package interfaces defines the abstractions JFrame requires from its
// external collaborators. Keeping them here lets the key exchange layer
// switch between real signaling transports and in-memory test doubles
// without coupling to a concrete implementation.
package interfaces

// KeyDelivery is the authenticated message channel used to carry
// key-exchange handshake traffic between participants. The channel is
// untrusted for confidentiality of media keys themselves: everything sent
// through it is opaque handshake material, never raw keys.
//
// Delivery may be ordered or best-effort; the key exchange protocol
// tolerates loss by re-running the handshake.
type KeyDelivery interface {
	// Send delivers an opaque payload to the named participant.
	Send(participantID string, payload []byte) error

	// OnReceive registers the handler invoked for each inbound payload.
	// Implementations must invoke the handler sequentially per sender.
	OnReceive(handler func(participantID string, payload []byte))
}
