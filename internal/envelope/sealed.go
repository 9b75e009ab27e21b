package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/dmitrijs2005/servicetracker/internal/common"
)

const (
	sealedPrefix = "sv2."
	nonceSize    = 12
)

var (
	sealedEncoding = base64.RawURLEncoding.Strict()

	errSealedShape = errors.New("envelope: not a sealed token")
)

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// sealV2 produces "sv2." + b64(salt | nonce | ciphertext). The prefix is
// bound as additional data so it cannot be swapped for another tag.
func sealV2(key, salt, plaintext []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := common.GenerateRandByteArray(nonceSize)

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, []byte(sealedPrefix))

	return sealedPrefix + sealedEncoding.EncodeToString(out), nil
}

func sealedRaw(token string) ([]byte, error) {
	body, ok := strings.CutPrefix(token, sealedPrefix)
	if !ok {
		return nil, errSealedShape
	}
	raw, err := sealedEncoding.DecodeString(body)
	if err != nil {
		return nil, errSealedShape
	}
	// 16 is the GCM tag size.
	if len(raw) < saltSize+nonceSize+16 {
		return nil, errSealedShape
	}
	return raw, nil
}

// sealedSalt extracts the salt so the caller can pick the right key.
func sealedSalt(token string) ([]byte, error) {
	raw, err := sealedRaw(token)
	if err != nil {
		return nil, err
	}
	return raw[:saltSize], nil
}

func openV2(key []byte, token string) ([]byte, error) {
	raw, err := sealedRaw(token)
	if err != nil {
		return nil, err
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := raw[saltSize : saltSize+nonceSize]
	return aead.Open(nil, nonce, raw[saltSize+nonceSize:], []byte(sealedPrefix))
}
