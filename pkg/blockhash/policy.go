// Package blockhash implements the block-hashing and hashmap-construction
// algorithm that turns a byte stream into an ordered sequence of
// content-addressed blocks, and the inverse rehash used by the
// downloader's resume path.
//
// The algorithm is deliberately stateless and deterministic: the same
// bytes under the same ContainerPolicy always produce the same digests
// in the same order, on any platform (property 1 in the spec's testable
// properties).
package blockhash

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/apyrgio/kamaki/pkg/kamakierr"
)

// ContainerPolicy pins the blocksize and hash algorithm for one transfer.
// It is immutable for the duration of that transfer: a transfer must not
// straddle a policy change.
type ContainerPolicy struct {
	// BlockSize is the fixed size, in bytes, of every block except
	// possibly the last.
	BlockSize int64

	// BlockHash names the digest algorithm, e.g. "sha256".
	BlockHash string

	// Quota is the container's storage quota in bytes, informational
	// only — not used by the hashing algorithm.
	Quota int64
}

// Validate checks that the policy has the fields the hashing algorithm
// requires, returning ErrPolicy wrapped in a TransferError otherwise.
func (p ContainerPolicy) Validate() error {
	if p.BlockSize <= 0 {
		return kamakierr.New("policy", "", fmt.Errorf("%w: missing or non-positive blocksize", kamakierr.ErrPolicy))
	}
	if _, err := newHasher(p.BlockHash); err != nil {
		return kamakierr.New("policy", "", err)
	}
	return nil
}

// newHasher returns a fresh hash.Hash for the named algorithm.
func newHasher(name string) (hash.Hash, error) {
	switch name {
	case "sha256", "":
		if name == "" {
			return nil, fmt.Errorf("%w: missing blockhash algorithm", kamakierr.ErrPolicy)
		}
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported blockhash algorithm %q", kamakierr.ErrPolicy, name)
	}
}

// EmptyDigest returns the hash of the empty string under the policy's
// algorithm — the digest recorded for a zero-length object's single
// hashed block.
func (p ContainerPolicy) EmptyDigest() (string, error) {
	h, err := newHasher(p.BlockHash)
	if err != nil {
		return "", kamakierr.New("policy", "", err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
