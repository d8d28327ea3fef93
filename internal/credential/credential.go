package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Default scrypt parameters. They are not encoded in the stored hash, so
// changing them invalidates every existing credential.
const (
	DefaultCost        = 16384
	DefaultBlockSize   = 8
	DefaultParallelism = 1

	KeyLen  = 64
	SaltLen = 16

	delimiter = "."
)

// dummySalt stands in for the salt of a malformed record.
var dummySalt = strings.Repeat("0", 2*SaltLen)

// randRead is a seam for crypto/rand.Read.
var randRead = rand.Read

// Hasher derives and verifies stored hashes with fixed scrypt parameters.
// The zero value is not usable; construct it with New.
type Hasher struct {
	n int
	r int
	p int
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithCost sets the scrypt CPU/memory cost N. Values that are not a power of
// two greater than one are ignored.
func WithCost(n int) Option {
	return func(h *Hasher) {
		if n > 1 && n&(n-1) == 0 {
			h.n = n
		}
	}
}

// WithBlockSize sets the scrypt block size r.
func WithBlockSize(r int) Option {
	return func(h *Hasher) {
		if r > 0 {
			h.r = r
		}
	}
}

// WithParallelism sets the scrypt parallelism p.
func WithParallelism(p int) Option {
	return func(h *Hasher) {
		if p > 0 {
			h.p = p
		}
	}
}

// New returns a Hasher using the default parameters adjusted by opts.
func New(opts ...Option) *Hasher {
	h := &Hasher{
		n: DefaultCost,
		r: DefaultBlockSize,
		p: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Default is the Hasher compatible with every hash the application has stored.
var Default = New()

// Derive returns a fresh stored hash for plaintext. A new salt is drawn on
// every call. Errors from the entropy source or the KDF are returned as is;
// callers must not store anything in that case.
func (h *Hasher) Derive(plaintext string) (string, error) {
	salt := make([]byte, SaltLen)
	if _, err := randRead(salt); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSaltGeneration, err)
	}
	hexSalt := hex.EncodeToString(salt)

	key, err := h.key(plaintext, hexSalt)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(key) + delimiter + hexSalt, nil
}

// Check reports whether plaintext matches stored. When ok is false, err names
// the failure class (ErrMalformedHash, ErrKeyDerivation) or is nil for a plain
// mismatch. The KDF runs on every path, including malformed input.
func (h *Hasher) Check(plaintext, stored string) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
			err = fmt.Errorf("%w: %v", ErrKeyDerivation, p)
		}
	}()

	digest, hexSalt, err := parse(stored)
	if err != nil {
		_, _ = h.key(plaintext, dummySalt)
		return false, err
	}

	candidate, err := h.key(plaintext, hexSalt)
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare(digest, candidate) == 1, nil
}

// Verify reports whether plaintext matches stored. It fails closed.
func (h *Hasher) Verify(plaintext, stored string) bool {
	ok, _ := h.Check(plaintext, stored)
	return ok
}

func (h *Hasher) key(plaintext, hexSalt string) ([]byte, error) {
	key, err := scrypt.Key([]byte(plaintext), []byte(hexSalt), h.n, h.r, h.p, KeyLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	return key, nil
}

// parse splits stored into the raw digest and the hex salt text.
func parse(stored string) ([]byte, string, error) {
	hexDigest, hexSalt, found := strings.Cut(stored, delimiter)
	if !found {
		return nil, "", fmt.Errorf("%w: missing delimiter", ErrMalformedHash)
	}

	if len(hexDigest) != 2*KeyLen || len(hexSalt) != 2*SaltLen {
		return nil, "", fmt.Errorf("%w: unexpected length", ErrMalformedHash)
	}

	digest, err := hex.DecodeString(hexDigest)
	if err != nil {
		return nil, "", fmt.Errorf("%w: digest: %v", ErrMalformedHash, err)
	}

	if _, err := hex.DecodeString(hexSalt); err != nil {
		return nil, "", fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}

	return digest, hexSalt, nil
}

// Derive calls Default.Derive.
func Derive(plaintext string) (string, error) {
	return Default.Derive(plaintext)
}

// Verify calls Default.Verify.
func Verify(plaintext, stored string) bool {
	return Default.Verify(plaintext, stored)
}

// Check calls Default.Check.
func Check(plaintext, stored string) (bool, error) {
	return Default.Check(plaintext, stored)
}
