package crypto

import (
	"encoding/hex"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
)

// Digest accumulates a BLAKE2b-256 sum over the bytes of one transfer so
// both ends can compare what moved over the wire.
type Digest struct {
	h hash.Hash
}

// NewDigest returns an empty digest.
func NewDigest() *Digest {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only fails for an oversized key; nil is always valid.
		panic(err)
	}
	return &Digest{h: h}
}

func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Sum returns the hex-encoded digest.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// SumReader digests everything r yields.
func SumReader(r io.Reader) (string, error) {
	d := NewDigest()
	if _, err := io.Copy(d, r); err != nil {
		return "", err
	}
	return d.Sum(), nil
}

// SumBytes digests b.
func SumBytes(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}
