package keyexchange

import (
	"bytes"
	"context"
	"testing"

	"github.com/opd-ai/jframe/crypto"
)

func TestPassphraseStrategyDeterministic(t *testing.T) {
	t.Parallel()

	a, err := NewPassphraseStrategy([]byte("correct horse"), "standup")
	if err != nil {
		t.Fatalf("NewPassphraseStrategy failed: %v", err)
	}
	b, err := NewPassphraseStrategy([]byte("correct horse"), "standup")
	if err != nil {
		t.Fatalf("NewPassphraseStrategy failed: %v", err)
	}

	ma, _ := a.LocalMaterial()
	mb, _ := b.LocalMaterial()
	if len(ma) != crypto.KeyMaterialSize {
		t.Fatalf("material length = %d, want %d", len(ma), crypto.KeyMaterialSize)
	}
	if !bytes.Equal(ma, mb) {
		t.Error("same secret and room produced different material")
	}

	c, err := NewPassphraseStrategy([]byte("correct horse"), "retro")
	if err != nil {
		t.Fatalf("NewPassphraseStrategy failed: %v", err)
	}
	mc, _ := c.LocalMaterial()
	if bytes.Equal(ma, mc) {
		t.Error("different rooms produced identical material")
	}
}

func TestPassphraseStrategyValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewPassphraseStrategy(nil, "room"); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := NewPassphraseStrategy([]byte("secret"), ""); err == nil {
		t.Error("expected error for empty room name")
	}
}

func TestPassphraseStrategyEstablish(t *testing.T) {
	t.Parallel()

	s, err := NewPassphraseStrategy([]byte("secret"), "room")
	if err != nil {
		t.Fatalf("NewPassphraseStrategy failed: %v", err)
	}
	if s.SupportsRotation() {
		t.Error("passphrase strategy must not support rotation")
	}

	if err := s.Establish(context.Background(), "peer"); err == nil {
		t.Error("expected error when Establish runs before OnKeyUpdate")
	}

	var gotID string
	var gotMaterial []byte
	var gotIndex uint8
	s.OnKeyUpdate(func(participantID string, material []byte, index uint8) {
		gotID = participantID
		gotMaterial = material
		gotIndex = index
	})

	if err := s.Establish(context.Background(), "peer"); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	if gotID != "peer" || gotIndex != 0 {
		t.Errorf("callback got (%q, index %d), want (\"peer\", 0)", gotID, gotIndex)
	}
	shared, _ := s.LocalMaterial()
	if !bytes.Equal(gotMaterial, shared) {
		t.Error("callback material does not match shared material")
	}
}

func TestPassphraseStrategyEstablishCancelled(t *testing.T) {
	t.Parallel()

	s, err := NewPassphraseStrategy([]byte("secret"), "room")
	if err != nil {
		t.Fatalf("NewPassphraseStrategy failed: %v", err)
	}
	s.OnKeyUpdate(func(string, []byte, uint8) { t.Error("callback fired after cancel") })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Establish(ctx, "peer"); err == nil {
		t.Error("expected error for cancelled context")
	}
}
