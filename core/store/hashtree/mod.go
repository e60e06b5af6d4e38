// Package hashtree defines the specialization of the store as a Merkle tree. It
// allows the creation of proofs to demonstrate if a key/value pair is stored in
// the tree, or if it is not, and the transfer of the tree in chunks.
package hashtree

import (
	"go.dedis.ch/merk/core/store"
	"go.dedis.ch/merk/serde"
)

// Tree is a specialization of a store. It uses the Merkle data structure to
// create a root hash that represents the state of the tree and can be used to
// create proof of inclusion/proof of absence.
type Tree interface {
	store.Readable

	// GetRoot returns the root hash of this tree.
	GetRoot() []byte

	// Prove returns a proof for the value or the absence of every key that
	// can be verified against the root of the tree.
	Prove(keys ...[]byte) (serde.Message, error)

	// Stage must create a writable tree from the current one that will be
	// passed to the callback, then return it.
	Stage(func(store.Snapshot) error) (StagingTree, error)
}

// StagingTree is a tree with modifications that are not yet written to the
// disk.
type StagingTree interface {
	Tree

	// WithTx returns a tree that will use the transaction to access the
	// database.
	WithTx(store.Transaction) StagingTree

	// Commit writes the tree to the disk.
	Commit() error
}

// Export is a frozen view of a tree split in chunks.
type Export interface {
	// Len returns the number of chunks.
	Len() int

	// Chunk returns the data of the chunk at the given index.
	Chunk(index int) ([]byte, error)
}

// Exporter is implemented by the trees that can be transferred in chunks.
type Exporter interface {
	// Export splits the current tree at the given depth.
	Export(chunkDepth uint16) (Export, error)
}

// Importer rebuilds a tree out of the chunks of an export.
type Importer interface {
	// Process verifies and writes the next chunk.
	Process(chunk []byte) error

	// Remaining returns the number of chunks that are still expected, or
	// false if it cannot be known yet.
	Remaining() (int, bool)
}
