// Package transform implements the per-frame encryption engine at the
// heart of JFrame.
//
// A Context is the state machine for one (participant, media-kind) pair.
// Encode encrypts the frame payload past its codec-dependent unencrypted
// prefix with AES-128-GCM under the participant's current key and appends
// the self-describing trailer; Decode is the inverse. The unencrypted
// prefix is bound into the authentication tag as associated data, so
// middlebox-legible bytes are still tamper-evident.
//
// Frames for one stream are processed strictly in order by the media
// pipeline, never concurrently, so a Context takes no locks of its own;
// the key ring it reads is safe for concurrent access. Every decode
// failure resolves to pass-through or drop per the configured policy —
// nothing on this path panics or stops playback.
package transform
