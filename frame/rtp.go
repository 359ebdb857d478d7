package frame

import (
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/sirupsen/logrus"
)

// FromRTP derives a Frame from a depacketized RTP packet. SSRC and
// timestamp come from the RTP header; for video the key-frame flag is
// detected from the VP8 payload descriptor. The returned payload is the
// codec payload with the RTP payload descriptor removed.
//
// Callers assembling multi-packet frames should use the metadata of the
// first packet in the frame.
func FromRTP(pkt *rtp.Packet, kind MediaKind) (*Frame, error) {
	if pkt == nil {
		return nil, fmt.Errorf("rtp packet cannot be nil")
	}

	f := &Frame{
		SSRC:      pkt.SSRC,
		Timestamp: pkt.Timestamp,
		Kind:      kind,
	}

	switch kind {
	case MediaVideo:
		vp8 := &codecs.VP8Packet{}
		payload, err := vp8.Unmarshal(pkt.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal VP8 descriptor: %w", err)
		}
		f.Payload = payload
		// RFC 7741: the first packet of a frame has S=1 and PID=0; the
		// P bit of the VP8 payload header is 0 for key frames.
		if vp8.S == 1 && vp8.PID == 0 {
			f.KeyFrame = IsVP8KeyFrame(payload)
		}
	case MediaAudio:
		f.Payload = pkt.Payload
	default:
		logrus.WithFields(logrus.Fields{
			"function": "FromRTP",
			"kind":     uint8(kind),
		}).Warn("Unknown media kind, passing payload through")
		f.Payload = pkt.Payload
	}

	return f, nil
}

// IsVP8KeyFrame reports whether a VP8 codec payload (descriptor already
// stripped) begins a key frame. The P bit of the payload header is 0 for
// key frames, 1 for interframes.
func IsVP8KeyFrame(vp8Payload []byte) bool {
	if len(vp8Payload) == 0 {
		return false
	}
	return vp8Payload[0]&0x01 == 0
}
