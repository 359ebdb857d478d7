// Package jframe provides end-to-end encryption for real-time media
// frames: each encoded audio or video frame is sealed with AES-GCM after
// the codec and before the transport, carrying a compact self-describing
// trailer, and unsealed on receipt.
//
// The Orchestrator is the public surface. It owns one key ring per
// participant, a transform context per (participant, media kind) stream,
// and a key exchange controller that establishes and rotates keys off the
// media path. Frame encode and decode are synchronous; all control-plane
// mutations (enable/disable, key installs, membership events) run on a
// single command goroutine so key material is only ever touched from one
// place.
//
// A codec-dependent prefix of every frame stays unencrypted so that
// payload-aware network elements keep working; everything after it is
// encrypted and authenticated. Decode failures never propagate as errors
// into the media pipeline: depending on policy a frame is passed through
// or dropped, and the outcome is visible through metrics counters.
package jframe
