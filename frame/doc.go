// Package frame defines the media frame model shared by the JFrame
// encryption pipeline and the codec-aware header classifier that decides
// how many leading payload bytes stay unencrypted.
//
// A Frame is owned exclusively by the pipeline stage that holds it; the
// transform engine mutates or replaces its payload and hands ownership
// back. The package also provides an adapter that derives frame metadata
// (SSRC, timestamp, key-frame detection) from depacketized RTP using
// pion/rtp.
package frame
