package keyexchange

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"

	"github.com/opd-ai/jframe/crypto"
)

// PBKDF2Iterations is the iteration count for passphrase key derivation.
const PBKDF2Iterations = 100000

// PassphraseStrategy derives one symmetric key shared by every
// participant from an out-of-band secret and the room name as a public,
// low-entropy salt. There is no handshake and no per-participant key, so
// rotation on membership change is unsupported: a participant who ever
// held the passphrase can decrypt all traffic.
type PassphraseStrategy struct {
	material []byte
	onKey    KeyUpdateFunc
}

// NewPassphraseStrategy derives the shared key material. The secret must
// be non-empty; the room name salts the derivation so the same secret
// yields different keys in different rooms.
func NewPassphraseStrategy(secret []byte, roomName string) (*PassphraseStrategy, error) {
	if len(secret) == 0 {
		return nil, errors.New("passphrase secret cannot be empty")
	}
	if roomName == "" {
		return nil, errors.New("room name cannot be empty")
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewPassphraseStrategy",
		"iterations": PBKDF2Iterations,
	}).Info("Deriving shared key material from passphrase")

	material := pbkdf2.Key(secret, []byte(roomName), PBKDF2Iterations, crypto.KeyMaterialSize, sha256.New)
	return &PassphraseStrategy{material: material}, nil
}

// LocalMaterial returns the shared derived material.
func (s *PassphraseStrategy) LocalMaterial() ([]byte, error) {
	return append([]byte(nil), s.material...), nil
}

// SupportsRotation reports false: a shared passphrase key cannot be
// rotated without out-of-band coordination.
func (s *PassphraseStrategy) SupportsRotation() bool { return false }

// OnKeyUpdate registers the key callback.
func (s *PassphraseStrategy) OnKeyUpdate(fn KeyUpdateFunc) { s.onKey = fn }

// Announce is a no-op: every participant already holds the shared key.
func (s *PassphraseStrategy) Announce(string, []byte, uint8) error { return nil }

// Establish reports the shared key for the participant immediately.
func (s *PassphraseStrategy) Establish(ctx context.Context, participantID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.onKey == nil {
		return fmt.Errorf("OnKeyUpdate must be registered before Establish")
	}
	s.onKey(participantID, append([]byte(nil), s.material...), 0)
	return nil
}

// Teardown is a no-op: there is no per-participant session state.
func (s *PassphraseStrategy) Teardown(string) {}

// Close wipes the derived material.
func (s *PassphraseStrategy) Close() error {
	crypto.ZeroBytes(s.material)
	return nil
}
