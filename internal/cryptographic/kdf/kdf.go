package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyShareInfo is the HKDF info label for the key that seals stored key shares.
const KeyShareInfo = "vault-keyshare"

// HKDF fills buffer with HKDF-SHA256 output.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// DeriveKey returns a 32-byte key bound to salt and info.
func DeriveKey(secret, salt []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := HKDF(secret, salt, []byte(info), key); err != nil {
		return nil, err
	}
	return key, nil
}
