package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeyMaterialSize is the length of raw key material exchanged between
	// participants. Working keys are derived from it, never used directly.
	KeyMaterialSize = 32

	// FrameKeySize is the length of the derived AES-128 frame encryption key.
	FrameKeySize = 16
)

// HKDF info labels. These are part of the wire-compatibility contract:
// both ends must derive with identical labels.
const (
	frameKeyLabel = "JFrameEncryptionKey"
	ratchetLabel  = "JFrameRatchetKey"
)

// DeriveFrameKey derives the AES-128 frame encryption key from raw key
// material using HKDF-SHA256. The derivation is deterministic so every
// participant holding the same material arrives at the same frame key.
func DeriveFrameKey(material []byte) ([FrameKeySize]byte, error) {
	var key [FrameKeySize]byte

	if len(material) == 0 {
		return key, fmt.Errorf("key material is empty")
	}

	r := hkdf.New(sha256.New, material, nil, []byte(frameKeyLabel))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("failed to derive frame key: %w", err)
	}

	return key, nil
}

// RatchetMaterial advances raw key material one ratchet step via
// HKDF-SHA256, returning fresh material of the same length. A receiver
// holding the pre-ratchet material can derive the post-ratchet material,
// but not the reverse, which is what makes the step safe to use on
// participant join.
func RatchetMaterial(material []byte) ([]byte, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("key material is empty")
	}

	next := make([]byte, len(material))
	r := hkdf.New(sha256.New, material, nil, []byte(ratchetLabel))
	if _, err := io.ReadFull(r, next); err != nil {
		return nil, fmt.Errorf("failed to ratchet key material: %w", err)
	}

	return next, nil
}

// GenerateKeyMaterial creates fresh random key material for a sender.
func GenerateKeyMaterial() ([]byte, error) {
	logrus.WithFields(logrus.Fields{
		"function": "GenerateKeyMaterial",
		"size":     KeyMaterialSize,
	}).Debug("Generating fresh key material")

	material := make([]byte, KeyMaterialSize)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}

	return material, nil
}
