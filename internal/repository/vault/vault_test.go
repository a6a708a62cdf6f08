package vault

import (
	"mpc_session/internal/cryptographic/encryption"
	"mpc_session/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testVault() *model.Vault {
	return &model.Vault{
		ID:           primitive.NewObjectID(),
		Name:         "main",
		LocalPartyID: "alice",
		PubKeyECDSA:  "02ab",
		Signers:      []string{"alice", "bob"},
		KeyShares: []model.KeyShare{
			{PubKey: "02ab", KeyShare: "ecdsa-share"},
			{PubKey: "ed01", KeyShare: "eddsa-share"},
		},
	}
}

func TestSealRoundTrip(t *testing.T) {
	secret := []byte("device secret")
	v := testVault()

	sealed, err := SealVault(secret, v)
	require.NoError(t, err)
	assert.True(t, sealed.ID.IsZero())
	require.Len(t, sealed.KeyShares, 2)
	for i, share := range sealed.KeyShares {
		assert.Equal(t, v.KeyShares[i].PubKey, share.PubKey)
		assert.NotEqual(t, v.KeyShares[i].KeyShare, share.KeyShare)
	}
	// the input is untouched
	assert.Equal(t, "ecdsa-share", v.KeyShares[0].KeyShare)

	plain, err := UnsealVault(secret, sealed)
	require.NoError(t, err)
	assert.Equal(t, v.KeyShares, plain.KeyShares)
	assert.Equal(t, v.Signers, plain.Signers)
}

func TestUnsealWithWrongSecretFails(t *testing.T) {
	sealed, err := SealVault([]byte("device secret"), testVault())
	require.NoError(t, err)

	_, err = UnsealVault([]byte("other device"), sealed)
	require.ErrorIs(t, err, encryption.ErrDecrypt)
}

func TestShareKeysAreBoundToPubKey(t *testing.T) {
	secret := []byte("device secret")
	sealed, err := SealVault(secret, testVault())
	require.NoError(t, err)

	// swapping ciphertexts between shares breaks authentication
	sealed.KeyShares[0].KeyShare, sealed.KeyShares[1].KeyShare = sealed.KeyShares[1].KeyShare, sealed.KeyShares[0].KeyShare
	_, err = UnsealVault(secret, sealed)
	require.ErrorIs(t, err, encryption.ErrDecrypt)
}

func TestUnsealRejectsGarbage(t *testing.T) {
	v := &model.Vault{KeyShares: []model.KeyShare{{PubKey: "02ab", KeyShare: "!!not base64"}}}
	_, err := UnsealVault([]byte("device secret"), v)
	require.ErrorIs(t, err, encryption.ErrDecrypt)
}

func TestNewVaultRepoRequiresSecret(t *testing.T) {
	_, err := NewVaultRepo(nil, nil)
	require.Error(t, err)
}
