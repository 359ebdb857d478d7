// Package keyexchange establishes and rotates the per-participant media
// keys consumed by the JFrame key ring.
//
// Key establishment is pluggable. Two strategies ship:
//
//   - PassphraseStrategy derives one shared key for all participants with
//     PBKDF2 over an out-of-band secret and the room name. No handshake,
//     no rotation: weak, but it works without any key-exchange channel.
//
//   - PairwiseStrategy runs a Noise XX handshake with every participant
//     over the key delivery channel, then distributes each sender's own
//     random key through the resulting authenticated session. Every
//     participant can rotate unilaterally by announcing new material.
//
// The Controller drives rotation policy: a join ratchets the local key
// forward (newcomers cannot derive earlier keys), a leave re-keys from
// scratch (the departed participant is excluded from future traffic).
// Handshakes run off the media path; keys land in the ring asynchronously
// and frame transforms pick them up on the next encode or decode.
package keyexchange
