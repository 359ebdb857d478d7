package transform

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jframe/frame"
	"github.com/opd-ai/jframe/keyring"
	"github.com/opd-ai/jframe/trailer"
)

// Policy selects how decode failures are handled.
type Policy uint8

const (
	// PolicyPermissive passes malformed frames through to the decoder
	// unmodified (fail-open, the interoperability default: a sender may
	// legitimately not be encrypting).
	PolicyPermissive Policy = iota
	// PolicyStrict drops malformed frames instead of forwarding them.
	PolicyStrict
)

var (
	// ErrMalformedFrame indicates a frame without a valid trailer,
	// dropped under PolicyStrict.
	ErrMalformedFrame = errors.New("frame has no valid encryption trailer")

	// ErrUnknownKey indicates the trailer's key index matched no slot:
	// the key rotated past the grace window or was never received.
	ErrUnknownKey = errors.New("no key for trailer key index")

	// ErrAuthenticationFailed indicates an AEAD tag mismatch.
	ErrAuthenticationFailed = errors.New("frame authentication failed")
)

// Context transforms frames for one (participant, media-kind) pair.
//
// The media pipeline delivers one stream's frames strictly in order and
// never concurrently, so Context holds no locks; the Ring it reads
// supports concurrent lock-free lookups. Distinct Contexts (other
// participants, send vs. receive) may run concurrently with each other.
type Context struct {
	ring    *keyring.Ring
	kind    frame.MediaKind
	policy  Policy
	metrics *Metrics

	// Per-SSRC frame counters, send side only. Combined with SSRC and
	// timestamp into the IV; never persisted.
	counters map[uint32]uint32
}

// NewContext creates a transform context reading keys from ring. A nil
// metrics aggregates into a context-private instance.
func NewContext(ring *keyring.Ring, kind frame.MediaKind, policy Policy, metrics *Metrics) *Context {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Context{
		ring:     ring,
		kind:     kind,
		policy:   policy,
		metrics:  metrics,
		counters: make(map[uint32]uint32),
	}
}

// Metrics returns the context's outcome counters.
func (c *Context) Metrics() *Metrics { return c.metrics }

// Encode encrypts a frame in place under the ring's current key and
// appends the trailer. With no key installed the context is in the
// disabled state and the frame is returned byte-identical. The payload is
// replaced with a single freshly allocated buffer; ownership of the frame
// returns to the caller.
func (c *Context) Encode(f *frame.Frame) (*frame.Frame, error) {
	if f == nil {
		return nil, fmt.Errorf("frame cannot be nil")
	}

	slot, ok := c.ring.CurrentKey()
	if !ok {
		c.metrics.encodePassthrough.Add(1)
		return f, nil
	}

	counter := c.counters[f.SSRC]
	c.counters[f.SSRC] = counter + 1
	iv := makeIV(f.SSRC, f.Timestamp, counter)

	prefix := frame.UnencryptedPrefixLength(f.Kind, f.KeyFrame)
	if prefix > len(f.Payload) {
		prefix = len(f.Payload)
	}

	// One buffer for prefix + ciphertext + trailer. Seal appends
	// ciphertext||tag; the trailer codec then re-appends the tag bytes in
	// place and adds IV and metadata.
	out := make([]byte, prefix, len(f.Payload)+trailer.Overhead)
	copy(out, f.Payload[:prefix])
	sealed := slot.AEAD().Seal(out, iv[:], f.Payload[prefix:], f.Payload[:prefix])

	var tag [trailer.TagSize]byte
	copy(tag[:], sealed[len(sealed)-trailer.TagSize:])
	body := sealed[:len(sealed)-trailer.TagSize]

	sFlag := f.Kind == frame.MediaVideo && f.KeyFrame
	encoded, err := trailer.Serialize(body, iv, tag[:], slot.Index(), sFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize trailer: %w", err)
	}

	f.Payload = encoded
	c.metrics.encoded.Add(1)
	return f, nil
}

// Decode reverses Encode. Outcomes:
//
//   - ring disabled: frame returned unmodified (an unencrypted sender).
//   - no valid trailer: pass-through under PolicyPermissive, dropped
//     (nil, ErrMalformedFrame) under PolicyStrict.
//   - unknown key index or tag mismatch: dropped under both policies —
//     forwarding garbage risks decoder crashes.
//
// A dropped frame returns a nil frame and a sentinel error; callers must
// treat that as "skip this frame", never as a pipeline-fatal condition.
func (c *Context) Decode(f *frame.Frame) (*frame.Frame, error) {
	if f == nil {
		return nil, fmt.Errorf("frame cannot be nil")
	}

	if _, ok := c.ring.CurrentKey(); !ok {
		c.metrics.decodePassthrough.Add(1)
		return f, nil
	}

	tr, err := trailer.Deserialize(f.Payload)
	if err != nil {
		if c.policy == PolicyStrict {
			c.metrics.droppedMalformed.Add(1)
			return nil, ErrMalformedFrame
		}
		c.metrics.decodePassthrough.Add(1)
		return f, nil
	}

	slot, ok := c.ring.KeyAt(tr.KeyIndex)
	if !ok {
		c.metrics.droppedUnknownKey.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":  "Decode",
			"kind":      c.kind.String(),
			"ssrc":      f.SSRC,
			"key_index": tr.KeyIndex,
		}).Debug("Dropping frame with unknown key index")
		return nil, ErrUnknownKey
	}

	body := trailer.Strip(f.Payload)
	prefix := frame.UnencryptedPrefixLength(f.Kind, tr.SFlag)
	if prefix > len(body) {
		prefix = len(body)
	}

	// Ciphertext and tag are contiguous in the original buffer, and Open
	// may write the plaintext over the ciphertext region it reads from.
	ciphertext := f.Payload[prefix : len(f.Payload)-trailer.MetaSize-trailer.IVSize]
	plaintext, err := slot.AEAD().Open(f.Payload[prefix:prefix], tr.IV[:], ciphertext, body[:prefix])
	if err != nil {
		c.metrics.droppedAuthFail.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":  "Decode",
			"kind":      c.kind.String(),
			"ssrc":      f.SSRC,
			"key_index": tr.KeyIndex,
		}).Debug("Dropping frame that failed authentication")
		return nil, ErrAuthenticationFailed
	}

	f.Payload = f.Payload[:prefix+len(plaintext)]
	if c.kind == frame.MediaVideo {
		f.KeyFrame = tr.SFlag
	}
	c.metrics.decoded.Add(1)
	return f, nil
}

// makeIV builds the 96-bit IV from SSRC, RTP timestamp, and the per-SSRC
// frame counter, each in its own 32-bit range. The counter is strictly
// monotonic, so no two frames under one key share an IV.
func makeIV(ssrc, timestamp, counter uint32) [trailer.IVSize]byte {
	var iv [trailer.IVSize]byte
	binary.BigEndian.PutUint32(iv[0:4], ssrc)
	binary.BigEndian.PutUint32(iv[4:8], timestamp)
	binary.BigEndian.PutUint32(iv[8:12], counter)
	return iv
}
