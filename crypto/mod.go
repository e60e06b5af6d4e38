// Package crypto defines the hash primitives used to authenticate the store.
package crypto

import "hash"

// HashFactory is an interface to produce a hash digest.
type HashFactory interface {
	New() hash.Hash
}

// RandGenerator is the interface of a random source.
type RandGenerator interface {
	Read([]byte) (int, error)
}
