package frame

// Unencrypted prefix lengths per media kind. Video key frames carry more
// codec-structural bytes that payload-format-aware network elements must
// still be able to read; audio keeps only the Opus table-of-contents byte
// legible.
const (
	// VideoKeyFramePrefix is the unencrypted prefix of a video key frame.
	VideoKeyFramePrefix = 10
	// VideoDeltaFramePrefix is the unencrypted prefix of a video delta frame.
	VideoDeltaFramePrefix = 3
	// AudioPrefix covers the codec table-of-contents byte.
	AudioPrefix = 1
)

// UnencryptedPrefixLength returns the number of leading payload bytes that
// must remain unencrypted for the given media kind. The function is pure
// and total: unknown kinds get a zero-length prefix, trading middlebox
// convenience for strictly-correct confidentiality.
func UnencryptedPrefixLength(kind MediaKind, keyFrame bool) int {
	switch kind {
	case MediaVideo:
		if keyFrame {
			return VideoKeyFramePrefix
		}
		return VideoDeltaFramePrefix
	case MediaAudio:
		return AudioPrefix
	default:
		return 0
	}
}
