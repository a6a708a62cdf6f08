package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mpc_session/internal/cryptographic/encryption"
	"mpc_session/internal/cryptographic/kdf"
	"mpc_session/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// VaultRepo stores vaults in mongo. Key shares are sealed under a key derived from
	// the device secret before they leave the process.
	VaultRepo struct {
		collection   *mongo.Collection
		deviceSecret []byte
	}
)

func NewVaultRepo(db *mongo.Database, deviceSecret []byte) (*VaultRepo, error) {
	if len(deviceSecret) == 0 {
		return nil, errors.New("device secret is empty")
	}
	return &VaultRepo{
		collection:   db.Collection("vaults"),
		deviceSecret: deviceSecret,
	}, nil
}

func (r *VaultRepo) GetByName(ctx context.Context, name string) (*model.Vault, error) {
	return r.findOne(ctx, bson.M{"name": name})
}

func (r *VaultRepo) GetByPubKey(ctx context.Context, pubKey string) (*model.Vault, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"pub_key_ecdsa": pubKey},
			bson.M{"pub_key_eddsa": pubKey},
		},
	}
	return r.findOne(ctx, filter)
}

// Upsert replaces the stored vault with the same name, creating it if needed.
func (r *VaultRepo) Upsert(ctx context.Context, vault *model.Vault) error {
	sealed, err := SealVault(r.deviceSecret, vault)
	if err != nil {
		return err
	}

	filter := bson.M{"name": vault.Name}
	update := bson.M{"$set": sealed}
	res, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return err
	}

	if res.UpsertedID != nil {
		vault.ID = res.UpsertedID.(primitive.ObjectID)
	}
	return nil
}

func (r *VaultRepo) findOne(ctx context.Context, filter bson.M) (*model.Vault, error) {
	var vault model.Vault
	err := r.collection.FindOne(ctx, filter).Decode(&vault)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return UnsealVault(r.deviceSecret, &vault)
}

// SealVault returns a copy of vault whose key shares are encrypted. The _id is left
// out so the copy can be used as a $set document.
func SealVault(deviceSecret []byte, vault *model.Vault) (*model.Vault, error) {
	out := *vault
	out.ID = primitive.NilObjectID
	out.Signers = append([]string(nil), vault.Signers...)
	out.KeyShares = make([]model.KeyShare, len(vault.KeyShares))
	for i, share := range vault.KeyShares {
		sealed, err := sealShare(deviceSecret, share)
		if err != nil {
			return nil, fmt.Errorf("seal key share %s: %w", share.PubKey, err)
		}
		out.KeyShares[i] = sealed
	}
	return &out, nil
}

func UnsealVault(deviceSecret []byte, vault *model.Vault) (*model.Vault, error) {
	out := *vault
	out.Signers = append([]string(nil), vault.Signers...)
	out.KeyShares = make([]model.KeyShare, len(vault.KeyShares))
	for i, share := range vault.KeyShares {
		plain, err := unsealShare(deviceSecret, share)
		if err != nil {
			return nil, fmt.Errorf("unseal key share %s: %w", share.PubKey, err)
		}
		out.KeyShares[i] = plain
	}
	return &out, nil
}

// The public key salts the derivation so every share gets its own key.
func sealShare(deviceSecret []byte, share model.KeyShare) (model.KeyShare, error) {
	key, err := kdf.DeriveKey(deviceSecret, []byte(share.PubKey), kdf.KeyShareInfo)
	if err != nil {
		return model.KeyShare{}, err
	}
	ct, err := encryption.GCMEncrypt(key, []byte(share.KeyShare))
	if err != nil {
		return model.KeyShare{}, err
	}
	return model.KeyShare{
		PubKey:   share.PubKey,
		KeyShare: base64.StdEncoding.EncodeToString(ct),
	}, nil
}

func unsealShare(deviceSecret []byte, share model.KeyShare) (model.KeyShare, error) {
	ct, err := base64.StdEncoding.DecodeString(share.KeyShare)
	if err != nil {
		return model.KeyShare{}, fmt.Errorf("%w: %v", encryption.ErrDecrypt, err)
	}
	key, err := kdf.DeriveKey(deviceSecret, []byte(share.PubKey), kdf.KeyShareInfo)
	if err != nil {
		return model.KeyShare{}, err
	}
	plain, err := encryption.GCMDecrypt(key, ct)
	if err != nil {
		return model.KeyShare{}, err
	}
	return model.KeyShare{
		PubKey:   share.PubKey,
		KeyShare: string(plain),
	}, nil
}
