package transform

import "sync/atomic"

// Metrics counts frame transform outcomes. Decode failures are silent on
// the media path (frames are dropped or passed through, never errored
// upward into the pipeline), so these counters are the only way they are
// observable. Safe for concurrent use across contexts.
type Metrics struct {
	encoded           atomic.Uint64
	decoded           atomic.Uint64
	encodePassthrough atomic.Uint64
	decodePassthrough atomic.Uint64
	droppedMalformed  atomic.Uint64
	droppedUnknownKey atomic.Uint64
	droppedAuthFail   atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Encoded           uint64
	Decoded           uint64
	EncodePassthrough uint64
	DecodePassthrough uint64
	DroppedMalformed  uint64
	DroppedUnknownKey uint64
	DroppedAuthFail   uint64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Encoded:           m.encoded.Load(),
		Decoded:           m.decoded.Load(),
		EncodePassthrough: m.encodePassthrough.Load(),
		DecodePassthrough: m.decodePassthrough.Load(),
		DroppedMalformed:  m.droppedMalformed.Load(),
		DroppedUnknownKey: m.droppedUnknownKey.Load(),
		DroppedAuthFail:   m.droppedAuthFail.Load(),
	}
}
