package credential

import "errors"

var (
	// ErrMalformedHash reports a stored value that is not <hexDigest>.<hexSalt>.
	ErrMalformedHash = errors.New("credential: malformed stored hash")

	ErrSaltGeneration = errors.New("credential: failed to generate salt")
	ErrKeyDerivation  = errors.New("credential: key derivation failed")
)
