// Package crypto provides the shared cryptographic primitives for JFrame:
// working-key derivation from raw key material, the HKDF ratchet step used
// during key rotation, secure generation of fresh key material, and secure
// wiping of superseded keys.
//
// The per-frame AEAD itself lives in the transform package; this package
// only produces and destroys the keys it consumes.
package crypto
