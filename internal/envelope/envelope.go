// Package envelope turns a short numeric PIN and a plaintext string into a
// printable, tamper-evident token (an envelope) and back.
//
// # Formats
//
// Three formats are understood when decoding:
//
//   - FormatFernet: the current format. The key is PBKDF2-HMAC-SHA256 over the
//     PIN with a fixed salt and 100,000 iterations. The token uses the Fernet
//     layout (version byte 0x80, timestamp, IV, AES-128-CBC ciphertext,
//     HMAC-SHA256 tag, URL-safe base64), so envelopes issued by already
//     deployed devices decode unchanged.
//   - FormatLegacy: the same token layout keyed by a plain SHA-256 of the PIN.
//     Decode-only; it is tried after FormatFernet fails authentication.
//   - FormatSealed: "sv2." followed by URL-safe base64 of
//     salt | nonce | AES-256-GCM ciphertext, keyed by argon2id over the PIN
//     and a per-deployment random salt carried inside the envelope.
//
// Decoding is all-or-nothing. A failure is reported as common.ErrDecodeFailure
// and is meant to be handled per item: callers keep the raw value and move on.
//
// Typical usage:
//
//	c := envelope.NewCodec(pin)
//	token, _ := c.Encode(`{"v":1,"student":"A"}`)
//	text, err := c.Decode(token)
package envelope

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/servicetracker/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the size in bytes of every derived key.
	KeySize = 32

	fixedSalt        = "sped_tracker_salt_v1"
	pbkdf2Iterations = 100_000

	// argon2id parameters for FormatSealed.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	saltSize     = 16

	// maxLearnedSalts bounds the keys kept for salts that are not pinned.
	maxLearnedSalts = 16
)

// MaxNewSaltsPerBatch is how many salts outside the key cache a Batch
// decoder will derive keys for.
const MaxNewSaltsPerBatch = 4

// Format identifies an envelope encoding.
type Format int

const (
	FormatFernet Format = iota
	FormatLegacy
	FormatSealed
)

func (f Format) String() string {
	switch f {
	case FormatFernet:
		return "fernet-pbkdf2"
	case FormatLegacy:
		return "fernet-sha256"
	case FormatSealed:
		return "sealed-v2"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// DeriveKey stretches pin into a 256-bit key with PBKDF2-HMAC-SHA256 over
// the fixed salt. The same PIN always yields the same key, which lets any
// device holding the PIN decode another device's envelopes.
func DeriveKey(pin string) []byte {
	return pbkdf2.Key([]byte(pin), []byte(fixedSalt), pbkdf2Iterations, KeySize, sha256.New)
}

// DeriveLegacyKey is the unstretched, unsalted SHA-256 of pin used by the
// oldest envelopes.
func DeriveLegacyKey(pin string) []byte {
	sum := sha256.Sum256([]byte(pin))
	return sum[:]
}

// DeriveSealedKey derives the FormatSealed key for pin and salt.
func DeriveSealedKey(pin string, salt []byte) []byte {
	return argon2.IDKey([]byte(pin), salt, argonTime, argonMemory, argonThreads, KeySize)
}

// Codec encodes and decodes envelopes for a single PIN. Keys are derived
// once per Codec; a Codec is safe for concurrent use.
//
// FormatSealed keys are cached for the pinned salts (the Codec's own
// deployment salt and any WithTrustedSalts) and for the most recently used
// salts that authenticated an envelope, up to maxLearnedSalts.
type Codec struct {
	pin    string
	format Format
	now    func() time.Time

	key    []byte
	legacy []byte

	salt    []byte
	trusted [][]byte

	mu      sync.Mutex
	pinned  map[string]bool
	keys    map[string][]byte
	learned []string // oldest first
}

// Option configures a Codec.
type Option func(*Codec)

// WithFormat selects the format used by Encode. FormatLegacy cannot be
// selected: it is decode-only.
func WithFormat(f Format) Option {
	return func(c *Codec) {
		if f != FormatLegacy {
			c.format = f
		}
	}
}

// WithDeploymentSalt fixes the salt embedded in FormatSealed envelopes.
// Without it a random salt is drawn when the Codec is created.
func WithDeploymentSalt(salt []byte) Option {
	return func(c *Codec) {
		if len(salt) == saltSize {
			c.salt = append([]byte(nil), salt...)
		}
	}
}

// WithTrustedSalts pins additional FormatSealed salts, for example those
// of other known deployments. Keys for pinned salts are never evicted.
func WithTrustedSalts(salts ...[]byte) Option {
	return func(c *Codec) {
		for _, s := range salts {
			if len(s) == saltSize {
				c.trusted = append(c.trusted, append([]byte(nil), s...))
			}
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec derives the keys for pin and returns a ready Codec.
func NewCodec(pin string, opts ...Option) *Codec {
	c := &Codec{
		pin:    pin,
		format: FormatFernet,
		now:    time.Now,
		pinned: make(map[string]bool),
		keys:   make(map[string][]byte),
	}
	for _, o := range opts {
		o(c)
	}
	c.key = DeriveKey(pin)
	c.legacy = DeriveLegacyKey(pin)
	if c.salt == nil {
		c.salt = common.GenerateRandByteArray(saltSize)
	}
	c.pinned[string(c.salt)] = true
	for _, s := range c.trusted {
		c.pinned[string(s)] = true
	}
	return c
}

// Format reports the format used by Encode.
func (c *Codec) Format() Format { return c.format }

// Encode wraps plaintext in a new envelope. A fresh IV/nonce is drawn for
// every call, so two encodings of the same plaintext never match.
func (c *Codec) Encode(plaintext string) (string, error) {
	switch c.format {
	case FormatFernet:
		return sealFernet(c.key, []byte(plaintext), c.now())
	case FormatSealed:
		key, _ := c.keyFor(c.salt, true)
		return sealV2(key, c.salt, []byte(plaintext))
	default:
		return "", common.ErrUnsupportedFormat
	}
}

// Open decodes an envelope and reports which format authenticated it.
func (c *Codec) Open(token string) (string, Format, error) {
	token = strings.TrimSpace(token)

	if strings.HasPrefix(token, sealedPrefix) {
		salt, err := sealedSalt(token)
		if err != nil {
			return "", FormatSealed, common.ErrDecodeFailure
		}
		key, _ := c.keyFor(salt, true)
		pt, err := openV2(key, token)
		if err != nil {
			return "", FormatSealed, common.ErrDecodeFailure
		}
		c.learn(salt, key)
		return string(pt), FormatSealed, nil
	}

	if pt, err := openFernet(c.key, token); err == nil {
		return string(pt), FormatFernet, nil
	}
	if pt, err := openFernet(c.legacy, token); err == nil {
		return string(pt), FormatLegacy, nil
	}
	return "", FormatFernet, common.ErrDecodeFailure
}

// Decode returns the plaintext of token, or common.ErrDecodeFailure when no
// known format authenticates it under this PIN.
func (c *Codec) Decode(token string) (string, error) {
	pt, _, err := c.Open(token)
	return pt, err
}

// TryDecode returns the decoded plaintext and true, or value unchanged and
// false. It is meant for sources that mix protected and plain values.
func (c *Codec) TryDecode(value string) (string, bool) {
	pt, err := c.Decode(value)
	if err != nil {
		return value, false
	}
	return pt, true
}

// Close wipes the derived keys. The Codec must not be used afterwards.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	common.WipeByteArray(c.key)
	common.WipeByteArray(c.legacy)
	for id, k := range c.keys {
		common.WipeByteArray(k)
		delete(c.keys, id)
	}
	c.learned = nil
}

// keyFor returns the FormatSealed key for salt. Cached and pinned salts
// always resolve; any other salt is derived only when derive is set.
func (c *Codec) keyFor(salt []byte, derive bool) ([]byte, bool) {
	id := string(salt)

	c.mu.Lock()
	if k, ok := c.keys[id]; ok {
		c.touch(id)
		c.mu.Unlock()
		return k, true
	}
	pinned := c.pinned[id]
	c.mu.Unlock()

	if !pinned && !derive {
		return nil, false
	}
	k := DeriveSealedKey(c.pin, salt)
	if pinned {
		c.mu.Lock()
		c.keys[id] = k
		c.mu.Unlock()
	}
	return k, true
}

// learn caches the key of a salt that just authenticated an envelope,
// evicting the least recently used learned salt when full.
func (c *Codec) learn(salt, key []byte) {
	id := string(salt)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[id]; ok {
		return
	}
	c.keys[id] = key
	c.learned = append(c.learned, id)
	if len(c.learned) > maxLearnedSalts {
		delete(c.keys, c.learned[0])
		c.learned = c.learned[1:]
	}
}

// touch marks a learned salt as recently used. Callers hold c.mu.
func (c *Codec) touch(id string) {
	if c.pinned[id] {
		return
	}
	for i, s := range c.learned {
		if s == id {
			c.learned = append(append(c.learned[:i:i], c.learned[i+1:]...), id)
			return
		}
	}
}

// cachedSalts reports how many FormatSealed keys are held.
func (c *Codec) cachedSalts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

// Batch decodes the cells of one batch with a Codec. Salts the Codec has
// no key for cost one derivation each, and only MaxNewSaltsPerBatch of them
// are attempted; envelopes under any further salt fail without key work.
type Batch struct {
	c      *Codec
	budget int
	failed map[string]bool
}

// ForBatch returns a decoder for a single batch.
func (c *Codec) ForBatch() *Batch {
	return &Batch{c: c, budget: MaxNewSaltsPerBatch, failed: make(map[string]bool)}
}

// TryDecode behaves like (*Codec).TryDecode within the batch's budget.
func (b *Batch) TryDecode(value string) (string, bool) {
	token := strings.TrimSpace(value)
	if !strings.HasPrefix(token, sealedPrefix) {
		return b.c.TryDecode(value)
	}

	salt, err := sealedSalt(token)
	if err != nil || b.failed[string(salt)] {
		return value, false
	}
	key, ok := b.c.keyFor(salt, false)
	if !ok {
		if b.budget <= 0 {
			return value, false
		}
		b.budget--
		key, _ = b.c.keyFor(salt, true)
	}

	pt, err := openV2(key, token)
	if err != nil {
		if !ok {
			b.failed[string(salt)] = true
		}
		return value, false
	}
	b.c.learn(salt, key)
	return string(pt), true
}

// LooksProtected reports whether s has the shape of an envelope. It does not
// authenticate anything; it only saves key work on plainly unprotected cells.
func LooksProtected(s string) bool {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, sealedPrefix) {
		return true
	}
	_, err := fernetBytes(s)
	return err == nil
}

// Encode is a convenience wrapper that derives the key for pin and encodes
// plaintext in the current format.
func Encode(plaintext, pin string) (string, error) {
	return NewCodec(pin).Encode(plaintext)
}

// Decode is a convenience wrapper around (*Codec).Decode.
func Decode(token, pin string) (string, error) {
	return NewCodec(pin).Decode(token)
}

// IsDecodeFailure reports whether err is a recoverable decode failure.
func IsDecodeFailure(err error) bool {
	return errors.Is(err, common.ErrDecodeFailure)
}
