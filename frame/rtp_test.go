package frame

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"
)

// vp8Packet builds a minimal single-octet VP8 payload descriptor followed
// by a payload whose first byte carries the P bit.
func vp8Packet(startOfPartition bool, keyFrame bool) []byte {
	desc := byte(0x00) // X=0, N=0, S=0, PID=0
	if startOfPartition {
		desc |= 0x10 // S bit
	}
	payloadHeader := byte(0x01) // P=1: interframe
	if keyFrame {
		payloadHeader = 0x00 // P=0: key frame
	}
	return []byte{desc, payloadHeader, 0xAA, 0xBB}
}

func TestFromRTPVideoKeyFrame(t *testing.T) {
	t.Parallel()

	pkt := &rtp.Packet{
		Header:  rtp.Header{SSRC: 0xDEADBEEF, Timestamp: 90000},
		Payload: vp8Packet(true, true),
	}

	f, err := FromRTP(pkt, MediaVideo)
	if err != nil {
		t.Fatalf("FromRTP() failed: %v", err)
	}

	if f.SSRC != 0xDEADBEEF {
		t.Errorf("SSRC = %#x, want 0xDEADBEEF", f.SSRC)
	}
	if f.Timestamp != 90000 {
		t.Errorf("Timestamp = %d, want 90000", f.Timestamp)
	}
	if f.Kind != MediaVideo {
		t.Errorf("Kind = %v, want video", f.Kind)
	}
	if !f.KeyFrame {
		t.Error("P=0 first packet must be detected as key frame")
	}
}

func TestFromRTPVideoDeltaFrame(t *testing.T) {
	t.Parallel()

	pkt := &rtp.Packet{
		Header:  rtp.Header{SSRC: 1, Timestamp: 1},
		Payload: vp8Packet(true, false),
	}

	f, err := FromRTP(pkt, MediaVideo)
	if err != nil {
		t.Fatalf("FromRTP() failed: %v", err)
	}
	if f.KeyFrame {
		t.Error("P=1 packet must not be detected as key frame")
	}
}

func TestFromRTPContinuationPacketNeverKeyFrame(t *testing.T) {
	t.Parallel()

	// S=0: not the first packet of a frame, so no key-frame detection
	// even when the byte under the P-bit position happens to be zero.
	pkt := &rtp.Packet{
		Header:  rtp.Header{SSRC: 1, Timestamp: 1},
		Payload: vp8Packet(false, true),
	}

	f, err := FromRTP(pkt, MediaVideo)
	if err != nil {
		t.Fatalf("FromRTP() failed: %v", err)
	}
	if f.KeyFrame {
		t.Error("Continuation packets must not be classified as key frames")
	}
}

func TestFromRTPAudioPassesPayload(t *testing.T) {
	t.Parallel()

	payload := []byte{0x78, 1, 2, 3} // Opus TOC byte + data
	pkt := &rtp.Packet{
		Header:  rtp.Header{SSRC: 7, Timestamp: 480},
		Payload: payload,
	}

	f, err := FromRTP(pkt, MediaAudio)
	if err != nil {
		t.Fatalf("FromRTP() failed: %v", err)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Error("Audio payload must pass through unmodified")
	}
	if f.KeyFrame {
		t.Error("Audio frames must never be marked as key frames")
	}
}

func TestFromRTPNilPacket(t *testing.T) {
	t.Parallel()

	if _, err := FromRTP(nil, MediaAudio); err == nil {
		t.Error("FromRTP(nil) must fail")
	}
}

func TestIsVP8KeyFrame(t *testing.T) {
	t.Parallel()

	if !IsVP8KeyFrame([]byte{0x00}) {
		t.Error("P=0 must be a key frame")
	}
	if IsVP8KeyFrame([]byte{0x01}) {
		t.Error("P=1 must not be a key frame")
	}
	if IsVP8KeyFrame(nil) {
		t.Error("Empty payload must not be a key frame")
	}
}
