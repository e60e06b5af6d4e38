package crypto

import (
	"crypto/sha256"
	"hash"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
	"golang.org/x/xerrors"
)

// HashAlgorithm identifies a digest scheme. The width of the digests produced
// by a scheme is given by Size.
type HashAlgorithm int

const (
	Sha256 HashAlgorithm = iota
	Sha3_256
	Blake2s256
	Blake3
	// Blake2b160 produces 20-byte digests.
	Blake2b160
)

var algorithmNames = map[HashAlgorithm]string{
	Sha256:     "sha256",
	Sha3_256:   "sha3-256",
	Blake2s256: "blake2s-256",
	Blake3:     "blake3",
	Blake2b160: "blake2b-160",
}

// String implements fmt.Stringer. It returns the name of the algorithm.
func (a HashAlgorithm) String() string {
	name, found := algorithmNames[a]
	if !found {
		return "unknown"
	}

	return name
}

// Size returns the number of bytes of a digest, or zero if the algorithm is
// unknown.
func (a HashAlgorithm) Size() int {
	switch a {
	case Sha256, Sha3_256, Blake2s256, Blake3:
		return 32
	case Blake2b160:
		return 20
	default:
		return 0
	}
}

// ParseHashAlgorithm returns the algorithm matching the name.
func ParseHashAlgorithm(name string) (HashAlgorithm, error) {
	for alg, n := range algorithmNames {
		if n == name {
			return alg, nil
		}
	}

	return 0, xerrors.Errorf("unknown hash algorithm '%s'", name)
}

// hashFactory is a hash factory that is using one of the supported algorithms.
//
// - implements crypto.HashFactory
type hashFactory struct {
	hashType HashAlgorithm
}

// NewHashFactory returns a new instance of the factory.
func NewHashFactory(a HashAlgorithm) hashFactory {
	return hashFactory{a}
}

// New implements crypto.HashFactory. It returns a new Hash instance.
func (f hashFactory) New() hash.Hash {
	switch f.hashType {
	case Sha256:
		return sha256.New()
	case Sha3_256:
		return sha3.New256()
	case Blake2s256:
		// The error is only returned for a key larger than 32 bytes.
		h, _ := blake2s.New256(nil)
		return h
	case Blake3:
		return blake3.New()
	case Blake2b160:
		h, _ := blake2b.New(20, nil)
		return h
	default:
		panic("unknown hash type")
	}
}
