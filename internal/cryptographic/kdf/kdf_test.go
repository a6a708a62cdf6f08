package kdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	a, err := DeriveKey([]byte("device secret"), []byte("vault-1"), KeyShareInfo)
	require.NoError(t, err)
	b, err := DeriveKey([]byte("device secret"), []byte("vault-1"), KeyShareInfo)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
}

func TestDeriveKeyBoundToSaltAndInfo(t *testing.T) {
	base, err := DeriveKey([]byte("device secret"), []byte("vault-1"), KeyShareInfo)
	require.NoError(t, err)

	otherSalt, err := DeriveKey([]byte("device secret"), []byte("vault-2"), KeyShareInfo)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherSalt)

	otherInfo, err := DeriveKey([]byte("device secret"), []byte("vault-1"), "other")
	require.NoError(t, err)
	assert.NotEqual(t, base, otherInfo)
}
