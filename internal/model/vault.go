package model

import "go.mongodb.org/mongo-driver/bson/primitive"

type (
	KeyShare struct {
		PubKey   string `json:"pub_key" bson:"pub_key"`
		KeyShare string `json:"keyshare" bson:"keyshare"`
	}

	Vault struct {
		ID            primitive.ObjectID `json:"-" bson:"_id,omitempty"`
		Name          string             `json:"name" bson:"name"`
		LocalPartyID  string             `json:"local_party_id" bson:"local_party_id"`
		PubKeyECDSA   string             `json:"pub_key_ecdsa" bson:"pub_key_ecdsa"`
		PubKeyEdDSA   string             `json:"pub_key_eddsa" bson:"pub_key_eddsa"`
		HexChainCode  string             `json:"hex_chain_code" bson:"hex_chain_code"`
		ResharePrefix string             `json:"reshare_prefix" bson:"reshare_prefix"`
		Signers       []string           `json:"signers" bson:"signers"`
		KeyShares     []KeyShare         `json:"keyshares" bson:"keyshares"`
	}
)
