package keyexchange

import "context"

// KeyUpdateFunc is invoked whenever a strategy learns new key material
// for a participant, both during initial establishment and on rotation
// announcements.
type KeyUpdateFunc func(participantID string, material []byte, index uint8)

// Strategy is a pluggable key establishment mechanism.
//
// Implementations deliver all learned keys through the OnKeyUpdate
// callback; Establish only reports when the first key for a participant
// is available (or the context is cancelled). This keeps key installation
// decoupled from the media path: the caller installs keys into the ring
// from the callback, never inline with a frame transform.
type Strategy interface {
	// LocalMaterial produces the initial key material for the local
	// sender. Shared-secret strategies return the same material on every
	// call; pairwise strategies generate fresh random material.
	LocalMaterial() ([]byte, error)

	// SupportsRotation reports whether the strategy can distribute
	// rotated keys. Shared-secret strategies cannot.
	SupportsRotation() bool

	// OnKeyUpdate registers the callback receiving learned keys. Must be
	// called before Establish.
	OnKeyUpdate(fn KeyUpdateFunc)

	// Announce distributes local sender material to a participant. If the
	// underlying session is still handshaking the announcement is queued
	// and flushed on establishment.
	Announce(participantID string, material []byte, index uint8) error

	// Establish blocks until the participant's first key has been
	// delivered via OnKeyUpdate, or ctx is done.
	Establish(ctx context.Context, participantID string) error

	// Teardown discards all session state for a participant, cancelling
	// any in-flight handshake. Late messages from that participant are
	// ignored afterwards.
	Teardown(participantID string)

	// Close tears down every session and wipes strategy key material.
	Close() error
}
