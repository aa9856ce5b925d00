package hash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndVerify(t *testing.T) {
	t.Parallel()

	h := New(bcrypt.MinCost)

	d1, err := h.Hash("secret1")
	require.NoError(t, err)
	d2, err := h.Hash("secret1")
	require.NoError(t, err)

	assert.NotEqual(t, "secret1", d1)
	assert.NotEqual(t, d1, d2, "salt must differ per call")
	assert.True(t, h.Verify("secret1", d1))
	assert.True(t, h.Verify("secret1", d2))
	assert.False(t, h.Verify("secret2", d1))
}

func TestHasher_VerifyGarbageDigest(t *testing.T) {
	t.Parallel()

	h := New(bcrypt.MinCost)
	assert.False(t, h.Verify("secret1", "not-a-bcrypt-digest"))
	assert.False(t, h.Verify("secret1", ""))
}

func TestNew_ClampsCost(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultCost, New(0).Cost())
	assert.Equal(t, DefaultCost, New(bcrypt.MaxCost+1).Cost())
	assert.Equal(t, 12, New(12).Cost())
}

func TestHasher_RejectsOverlongPassword(t *testing.T) {
	t.Parallel()

	_, err := New(bcrypt.MinCost).Hash(strings.Repeat("a", 80))
	require.Error(t, err)
}
