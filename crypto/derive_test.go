package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveFrameKeyDeterministic(t *testing.T) {
	t.Parallel()

	material, err := GenerateKeyMaterial()
	require.NoError(t, err)

	k1, err := DeriveFrameKey(material)
	require.NoError(t, err)
	k2, err := DeriveFrameKey(material)
	require.NoError(t, err)

	assert.Equal(t, k1, k2, "same material must derive the same frame key")
}

func TestDeriveFrameKeyDistinctMaterial(t *testing.T) {
	t.Parallel()

	m1, err := GenerateKeyMaterial()
	require.NoError(t, err)
	m2, err := GenerateKeyMaterial()
	require.NoError(t, err)

	k1, err := DeriveFrameKey(m1)
	require.NoError(t, err)
	k2, err := DeriveFrameKey(m2)
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2, "distinct material must derive distinct frame keys")
}

func TestDeriveFrameKeyEmptyMaterial(t *testing.T) {
	t.Parallel()

	_, err := DeriveFrameKey(nil)
	assert.Error(t, err)
}

func TestRatchetMaterialAdvances(t *testing.T) {
	t.Parallel()

	material, err := GenerateKeyMaterial()
	require.NoError(t, err)

	next, err := RatchetMaterial(material)
	require.NoError(t, err)

	assert.Len(t, next, len(material))
	assert.NotEqual(t, material, next, "ratchet step must produce different material")

	// Both sides ratcheting from the same state must agree.
	again, err := RatchetMaterial(material)
	require.NoError(t, err)
	assert.Equal(t, next, again, "ratchet step must be deterministic")
}

func TestSecureWipe(t *testing.T) {
	t.Parallel()

	data := []byte{1, 2, 3, 4, 5}
	require.NoError(t, SecureWipe(data))
	for i, b := range data {
		assert.Zerof(t, b, "byte %d not wiped", i)
	}

	assert.Error(t, SecureWipe(nil))
}
