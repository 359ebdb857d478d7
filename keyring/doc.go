// Package keyring manages per-participant encryption key slots for the
// JFrame pipeline.
//
// Each participant (including the local sender) owns a Ring of up to 16
// slots addressed by the 4-bit key index carried in the frame trailer.
// Installing a key advances the current index and marks the previous slot
// as superseded; superseded slots remain usable for decode during a grace
// window so frames produced just before a rotation still decrypt, then
// are wiped.
//
// Rings use copy-on-write snapshots behind an atomic pointer: readers on
// the media path never take a lock and never observe a half-updated slot,
// while writers serialize among themselves.
package keyring
