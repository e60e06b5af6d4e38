// Package binprefix implements the hash tree interface by following the merkle
// binary prefix tree algorithm.
//
// https://www.usenix.org/system/files/conference/usenixsecurity15/sec15-paper-melara.pdf
//
// The merkle tree is stored in-memory until it reaches a certain threshold of
// depth where it will write the nodes in disk. The leaf are always stored in
// disk because of the value it holds.
//
//	                     Interior (Root)
//	                       /        \
//	                    0 /          \ 1
//	                     /            \
//	                  Interior       Interior
//	                   /    \          /   \
//	                0 /      \ 1    0 /     \ 1
//	                 /        \      /       \
//	            DiskNode  Interior  Empty    Interior
//	                       /   \              /    \
//	-------------------------------------------------------------- Memory Depth
//	                   0 /       \ 1      0 /        \ 1
//	                    /         \        /          \
//	                DiskNode  DiskNode  DiskNode   DiskNode
//
// The drawing above demonstrates an example of a tree. Here the memory depth is
// set at 3 which means that every node after this level will be a disk node. It
// will be loaded to its in-memory type when traversing the tree. The node at
// prefix 00 is an example of a leaf node which is a disk node even above the
// memory depth level.
//
// The shape of the tree only depends on its content: a deletion that leaves a
// single leaf under an interior node moves the leaf up. Two trees with the same
// pairs, nonce and hash algorithm have the same root.
package binprefix

import (
	"math/big"
	"sync"

	"go.dedis.ch/merk/core/store"
	"go.dedis.ch/merk/core/store/hashtree"
	"go.dedis.ch/merk/core/store/kv"
	"go.dedis.ch/merk/crypto"
	"go.dedis.ch/merk/serde"
	"golang.org/x/xerrors"
)

// Version is the version of the format of chunks and proofs.
const Version uint16 = 1

var (
	// ErrInvalidChunk is returned when a chunk cannot be imported.
	ErrInvalidChunk = xerrors.New("invalid chunk")

	// ErrMalformedProof is returned when a proof cannot be decoded or when it
	// does not describe a valid tree.
	ErrMalformedProof = xerrors.New("malformed proof")

	// ErrProofMismatch is returned when the root of a proof differs from the
	// expected one.
	ErrProofMismatch = xerrors.New("proof does not match the root")

	// ErrProofIncomplete is returned when a key leads to a part of the tree
	// that the proof does not include.
	ErrProofIncomplete = xerrors.New("proof is incomplete")
)

type template struct {
	bucket   []byte
	alg      crypto.HashAlgorithm
	memDepth int
}

func newTemplate(opts ...TreeOption) template {
	tmpl := template{
		bucket:   []byte("hashtree"),
		alg:      crypto.Sha256,
		memDepth: -1,
	}

	for _, opt := range opts {
		opt(&tmpl)
	}

	return tmpl
}

func (tmpl template) newTree(nonce Nonce) *Tree {
	tree := NewTree(nonce, crypto.NewHashFactory(tmpl.alg))

	if tmpl.memDepth >= 0 && tmpl.memDepth < tree.maxDepth {
		tree.memDepth = tmpl.memDepth
	}

	return tree
}

// TreeOption is the type of option to create a tree.
type TreeOption func(*template)

// WithHashAlgorithm sets the hash algorithm of the tree. The default is
// SHA-256.
func WithHashAlgorithm(alg crypto.HashAlgorithm) TreeOption {
	return func(tmpl *template) {
		tmpl.alg = alg
	}
}

// WithMemDepth sets the depth beyond which the nodes are kept on the disk
// only. By default, only the leaves are kept on the disk.
func WithMemDepth(depth int) TreeOption {
	return func(tmpl *template) {
		tmpl.memDepth = depth
	}
}

// MerkleTree is an implementation of a Merkle prefix binary tree. Keys are
// hashed to a path of fixed length so that only the longest unique prefix
// along the path can be a leaf node.
//
// The leafs of the tree will be stored on the disk when committing the tree.
// Modifications on a staged tree are done in-memory.
//
// - implements hashtree.Tree
// - implements hashtree.Exporter
type MerkleTree struct {
	sync.Mutex

	tree   *Tree
	db     kv.DB
	tx     store.Transaction
	bucket []byte
	alg    crypto.HashAlgorithm
}

// NewMerkleTree creates a new Merkle tree-based storage.
func NewMerkleTree(db kv.DB, nonce Nonce, opts ...TreeOption) *MerkleTree {
	tmpl := newTemplate(opts...)

	return &MerkleTree{
		tree:   tmpl.newTree(nonce),
		db:     db,
		bucket: tmpl.bucket,
		alg:    tmpl.alg,
	}
}

// Load tries to read the bucket and scan it for existing nodes and populate
// the tree with them.
func (t *MerkleTree) Load() error {
	t.Lock()
	defer t.Unlock()

	return t.doView(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(t.bucket)

		err := t.tree.FillFromBucket(bucket)
		if err != nil {
			return xerrors.Errorf("failed to load: %v", err)
		}

		err = t.tree.CalculateRoot(bucket)
		if err != nil {
			return xerrors.Errorf("while updating: %v", err)
		}

		return nil
	})
}

// Get implements store.Readable. It returns the value associated with the key
// if it exists, otherwise it returns nil.
func (t *MerkleTree) Get(key []byte) ([]byte, error) {
	var value []byte

	err := t.view(func(tree *Tree, b kv.Bucket) error {
		var err error
		value, err = tree.Search(key, b)

		return err
	})

	if err != nil {
		return nil, xerrors.Errorf("couldn't search key: %v", err)
	}

	return value, nil
}

// GetRoot implements hashtree.Tree. It returns the root hash of the tree.
func (t *MerkleTree) GetRoot() []byte {
	t.Lock()
	defer t.Unlock()

	return t.tree.root.GetHash()
}

// GetNonce returns the nonce of the tree.
func (t *MerkleTree) GetNonce() Nonce {
	return t.tree.GetNonce()
}

// GetAlgorithm returns the hash algorithm of the tree.
func (t *MerkleTree) GetAlgorithm() crypto.HashAlgorithm {
	return t.alg
}

// Prove implements hashtree.Tree. It returns a proof of the values of the keys
// that can be verified with VerifyProof.
func (t *MerkleTree) Prove(keys ...[]byte) (serde.Message, error) {
	paths := make([]*big.Int, len(keys))

	for i, key := range keys {
		path, err := t.tree.makePath(key)
		if err != nil {
			return nil, err
		}

		paths[i] = path
	}

	var nodes []WireNodeJSON

	err := t.view(func(tree *Tree, b kv.Bucket) error {
		return tree.proveNode(tree.root, big.NewInt(0), paths, b, &nodes)
	})
	if err != nil {
		return nil, xerrors.Errorf("couldn't prove keys: %v", err)
	}

	proof := Proof{
		version: Version,
		scheme:  t.alg.String(),
		nonce:   t.tree.nonce,
		nodes:   nodes,
	}

	return proof, nil
}

// Export implements hashtree.Exporter. It returns the chunks of the tree where
// the first one holds the nodes down to the chunk depth.
func (t *MerkleTree) Export(chunkDepth uint16) (hashtree.Export, error) {
	if int(chunkDepth) >= t.tree.maxDepth {
		return nil, xerrors.Errorf("chunk depth %d must be lower than %d",
			chunkDepth, t.tree.maxDepth)
	}

	var nodes []WireNodeJSON
	var stubs []stubRef

	err := t.view(func(tree *Tree, b kv.Bucket) error {
		return tree.exportTrunk(tree.root, big.NewInt(0), chunkDepth, b, &nodes, &stubs)
	})
	if err != nil {
		return nil, xerrors.Errorf("couldn't export tree: %v", err)
	}

	exp := &Export{
		tree: t,
		trunk: Chunk{
			index: 0,
			header: &chunkHeader{
				version:    Version,
				scheme:     t.alg.String(),
				nonce:      t.tree.nonce,
				chunkDepth: chunkDepth,
				stubs:      len(stubs),
			},
			nodes: nodes,
		},
		stubs: stubs,
	}

	return exp, nil
}

// Stage implements hashtree.Tree. It executes the callback over a clone of the
// current tree and return the clone with the root calculated.
func (t *MerkleTree) Stage(fn func(store.Snapshot) error) (hashtree.StagingTree, error) {
	clone := t.clone()

	err := t.doUpdate(func(tx kv.WritableTx) error {
		b, err := tx.GetBucketOrCreate(t.bucket)
		if err != nil {
			return xerrors.Errorf("read bucket failed: %v", err)
		}

		err = fn(writableMerkleTree{
			MerkleTree: clone,
			bucket:     b,
		})

		if err != nil {
			return xerrors.Errorf("callback failed: %v", err)
		}

		err = clone.tree.CalculateRoot(b)
		if err != nil {
			return xerrors.Errorf("couldn't update tree: %v", err)
		}

		return nil
	})

	return clone, err
}

// Commit implements hashtree.StagingTree. It writes the leaf nodes to the disk
// and a trade-off of other nodes.
func (t *MerkleTree) Commit() error {
	t.Lock()
	defer t.Unlock()

	err := t.doUpdate(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(t.bucket)
		if err != nil {
			return xerrors.Errorf("read bucket failed: %v", err)
		}

		return t.tree.Persist(bucket)
	})

	if err != nil {
		return xerrors.Errorf("failed to persist tree: %v", err)
	}

	return nil
}

// WithTx implements hashtree.StagingTree. It returns a tree that will share the
// same underlying data but it will perform operations on the database through
// the transaction.
func (t *MerkleTree) WithTx(tx store.Transaction) hashtree.StagingTree {
	return &MerkleTree{
		tree:   t.tree,
		db:     t.db,
		tx:     tx,
		bucket: t.bucket,
		alg:    t.alg,
	}
}

func (t *MerkleTree) clone() *MerkleTree {
	return &MerkleTree{
		tree:   t.tree.Clone(),
		db:     t.db,
		tx:     t.tx,
		bucket: t.bucket,
		alg:    t.alg,
	}
}

// view runs the function with the tree and its bucket, which is nil when the
// tree has never been committed.
func (t *MerkleTree) view(fn func(*Tree, kv.Bucket) error) error {
	t.Lock()
	defer t.Unlock()

	return t.doView(func(tx kv.ReadableTx) error {
		return fn(t.tree, tx.GetBucket(t.bucket))
	})
}

func (t *MerkleTree) doUpdate(fn func(kv.WritableTx) error) error {
	if t.tx != nil {
		tx, ok := t.tx.(kv.WritableTx)
		if !ok {
			return xerrors.Errorf("transaction '%T' is not writable", t.tx)
		}

		return fn(tx)
	}

	return t.db.Update(fn)
}

func (t *MerkleTree) doView(fn func(kv.ReadableTx) error) error {
	if t.tx != nil {
		tx, ok := t.tx.(kv.ReadableTx)
		if !ok {
			return xerrors.Errorf("transaction '%T' is not readable", t.tx)
		}

		return fn(tx)
	}

	return t.db.View(fn)
}

// WritableMerkleTree is a wrapper around the merkle tree implementation so that
// it can be written into but the tree is not updated at every operation.
//
// - implements store.Snapshot
type writableMerkleTree struct {
	*MerkleTree

	bucket kv.Bucket
}

// Get implements store.Readable. It reads the pending state of the tree.
func (t writableMerkleTree) Get(key []byte) ([]byte, error) {
	t.Lock()
	defer t.Unlock()

	value, err := t.tree.Search(key, t.bucket)
	if err != nil {
		return nil, xerrors.Errorf("couldn't search key: %v", err)
	}

	return value, nil
}

// Set implements store.Writable. It adds or updates the key in the internal
// tree.
func (t writableMerkleTree) Set(key, value []byte) error {
	t.Lock()
	defer t.Unlock()

	err := t.tree.Insert(key, value, t.bucket)
	if err != nil {
		return xerrors.Errorf("couldn't insert pair: %v", err)
	}

	return nil
}

// Delete implements store.Writable. It removes the key from the tree.
func (t writableMerkleTree) Delete(key []byte) error {
	t.Lock()
	defer t.Unlock()

	err := t.tree.Delete(key, t.bucket)
	if err != nil {
		return xerrors.Errorf("couldn't delete key: %v", err)
	}

	return nil
}
