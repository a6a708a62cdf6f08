package encryption

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrDecrypt marks ciphertexts that are malformed or were sealed under another key.
var ErrDecrypt = errors.New("decrypt failed")

type (
	// Codec encrypts and decrypts ceremony message bodies.
	Codec interface {
		Encrypt(plaintext []byte) ([]byte, error)
		Decrypt(ciphertext []byte) ([]byte, error)
	}

	cbcCodec struct {
		key []byte
	}

	gcmCodec struct {
		password []byte
	}
)

// NewCodec returns the GCM codec when gcm is set, otherwise the legacy CBC codec.
// hexKey is the session encryption key shared by all parties.
func NewCodec(hexKey string, gcm bool) (Codec, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if gcm {
		return &gcmCodec{password: key}, nil
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("invalid cbc key length %d", len(key))
	}
	return &cbcCodec{key: key}, nil
}

func (c *cbcCodec) Encrypt(plaintext []byte) ([]byte, error) {
	return CBCEncrypt(c.key, plaintext)
}

func (c *cbcCodec) Decrypt(ciphertext []byte) ([]byte, error) {
	return CBCDecrypt(c.key, ciphertext)
}

func (c *gcmCodec) Encrypt(plaintext []byte) ([]byte, error) {
	return GCMEncrypt(c.password, plaintext)
}

func (c *gcmCodec) Decrypt(ciphertext []byte) ([]byte, error) {
	return GCMDecrypt(c.password, ciphertext)
}

// Hash is the hex MD5 digest every party computes over a plaintext body.
func Hash(plaintext []byte) string {
	sum := md5.Sum(plaintext)
	return hex.EncodeToString(sum[:])
}

// EncryptBody encrypts a plaintext body and encodes it for the relay.
func EncryptBody(c Codec, plaintext string) (string, error) {
	ct, err := c.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptBody reverses EncryptBody. Bad base64 is reported as ErrDecrypt.
func DecryptBody(c Codec, body string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("%w: base64: %v", ErrDecrypt, err)
	}
	plain, err := c.Decrypt(ct)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
