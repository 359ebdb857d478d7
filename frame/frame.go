package frame

// MediaKind identifies the media type a frame carries.
type MediaKind uint8

const (
	// MediaAudio is an encoded audio frame (e.g. Opus).
	MediaAudio MediaKind = iota
	// MediaVideo is an encoded video frame (e.g. VP8).
	MediaVideo
)

// String returns a human-readable name for the media kind.
func (k MediaKind) String() string {
	switch k {
	case MediaAudio:
		return "audio"
	case MediaVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Frame is one encoded media frame plus the metadata the encryption
// pipeline needs. Payload is an opaque codec buffer; KeyFrame is only
// meaningful for video.
type Frame struct {
	Payload   []byte
	SSRC      uint32
	Timestamp uint32
	Kind      MediaKind
	KeyFrame  bool
}

// Clone returns a deep copy of the frame. Used by tests and by callers
// that need to retain the pre-transform bytes.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Payload = append([]byte(nil), f.Payload...)
	return &c
}
