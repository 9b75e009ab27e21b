package envelope

import (
	"crypto/aes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/dmitrijs2005/servicetracker/internal/common"
	"github.com/fernet/fernet-go"
)

const (
	fernetVersion  byte = 0x80
	fernetOverhead      = 1 + 8 + aes.BlockSize + sha256.Size
)

var (
	fernetEncoding = base64.URLEncoding.Strict()

	errFernetShape = errors.New("envelope: not a fernet token")
	errFernetAuth  = errors.New("envelope: fernet token did not verify")
)

func fernetKey(key []byte) (*fernet.Key, error) {
	if len(key) != KeySize {
		return nil, common.ErrUnsupportedFormat
	}
	var k fernet.Key
	copy(k[:], key)
	return &k, nil
}

// sealFernet builds a Fernet token for plaintext signed at now.
func sealFernet(key, plaintext []byte, now time.Time) (string, error) {
	k, err := fernetKey(key)
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSignAtTime(plaintext, k, now)
	if err != nil {
		return "", err
	}
	return string(tok), nil
}

// fernetBytes decodes token and checks its framing without any key.
func fernetBytes(token string) ([]byte, error) {
	raw, err := fernetEncoding.DecodeString(token)
	if err != nil {
		return nil, errFernetShape
	}
	if len(raw) < fernetOverhead+aes.BlockSize || raw[0] != fernetVersion {
		return nil, errFernetShape
	}
	if (len(raw)-fernetOverhead)%aes.BlockSize != 0 {
		return nil, errFernetShape
	}
	return raw, nil
}

// openFernet authenticates token with key and returns the plaintext. A
// negative ttl turns off the timestamp checks.
func openFernet(key []byte, token string) ([]byte, error) {
	k, err := fernetKey(key)
	if err != nil {
		return nil, err
	}
	if _, err := fernetBytes(token); err != nil {
		return nil, err
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), -1, []*fernet.Key{k})
	if msg == nil {
		return nil, errFernetAuth
	}
	return msg, nil
}
