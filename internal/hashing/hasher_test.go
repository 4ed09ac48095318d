package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHasher() *Hasher {
	return NewHasher(Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1})
}

func TestHasher_HashAndVerify(t *testing.T) {
	h := testHasher()

	encoded, err := h.Hash("agente123")
	require.NoError(t, err)
	assert.True(t, IsEncoded(encoded))
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.Verify("agente123", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("agente124", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_SaltsDiffer(t *testing.T) {
	h := testHasher()
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHasher_VerifyUsesEmbeddedParams(t *testing.T) {
	encoded, err := NewHasher(Argon2Params{Memory: 2048, Iterations: 2, Parallelism: 1}).Hash("s3cret")
	require.NoError(t, err)

	ok, err := testHasher().Verify("s3cret", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasher_VerifyRejectsMalformed(t *testing.T) {
	h := testHasher()
	for _, bad := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!$a2V5",
	} {
		_, err := h.Verify("x", bad)
		assert.Error(t, err, bad)
	}
}
