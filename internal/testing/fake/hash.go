package fake

import (
	"hash"

	"go.dedis.ch/merk/crypto"
)

// Hash is a fake implementation of the hash.Hash interface. Written data is
// recorded in the call tracker when it is set.
//
// - implements hash.Hash
type Hash struct {
	hash.Hash

	Call *Call
	err  error
	sum  []byte
}

// NewBadHash returns a fake hash that returns an error when writing.
func NewBadHash() *Hash {
	return &Hash{err: fakeErr}
}

// NewHashWithSum returns a fake hash that always returns the given sum.
func NewHashWithSum(sum []byte) *Hash {
	return &Hash{sum: sum}
}

// Write implements hash.Hash. It returns an error if configured to.
func (h *Hash) Write(data []byte) (int, error) {
	if h.Call != nil {
		h.Call.Add(data)
	}

	return 0, h.err
}

// Size implements hash.Hash. It returns the size of the sum.
func (h *Hash) Size() int {
	return len(h.sum)
}

// Sum implements hash.Hash. It returns the sum if set or an empty slice.
func (h *Hash) Sum([]byte) []byte {
	if h.sum == nil {
		return []byte{}
	}

	return append([]byte{}, h.sum...)
}

// Reset implements hash.Hash.
func (h *Hash) Reset() {}

// HashFactory is a fake implementation of a hash factory.
//
// - implements crypto.HashFactory
type HashFactory struct {
	hash *Hash
}

// NewHashFactory returns a fake hash factory that always returns the given
// hash.
func NewHashFactory(h *Hash) HashFactory {
	return HashFactory{hash: h}
}

// New implements crypto.HashFactory. It returns the fake hash.
func (f HashFactory) New() hash.Hash {
	return f.hash
}

var _ crypto.HashFactory = HashFactory{}
