package binprefix

import (
	"math/big"

	"go.dedis.ch/merk/core/store/kv"
	"go.dedis.ch/merk/crypto"
	"go.dedis.ch/merk/serde"
	"golang.org/x/xerrors"
)

// DiskNode is an implementation of a tree node which is stored on the
// disk.
//
// - implements binprefix.TreeNode
type DiskNode struct {
	depth   uint16
	hash    []byte
	context serde.Context
	factory serde.Factory
}

// NewDiskNode creates a new disk node.
func NewDiskNode(depth uint16, hash []byte, ctx serde.Context, factory serde.Factory) *DiskNode {
	return &DiskNode{
		depth:   depth,
		hash:    hash,
		context: ctx,
		factory: factory,
	}
}

// GetHash implements binprefix.TreeNode. It returns the hash of the disk node
// if it is set, otherwise it returns nil.
func (n *DiskNode) GetHash() []byte {
	return n.hash
}

// GetType implements binprefix.TreeNode. It returns the disk node type.
func (n *DiskNode) GetType() byte {
	return diskNodeType
}

// GetDepth implements binprefix.TreeNode. It returns the depth of the node.
func (n *DiskNode) GetDepth() uint16 {
	return n.depth
}

// Search implements binprefix.TreeNode. It loads the disk node and then search
// for the key.
func (n *DiskNode) Search(path *big.Int, key []byte, bucket kv.Bucket) ([]byte, error) {
	if bucket == nil {
		return nil, xerrors.New("bucket is nil")
	}

	node, err := n.load(path, bucket)
	if err != nil {
		return nil, xerrors.Errorf("failed to load node: %v", err)
	}

	value, err := node.Search(path, key, bucket)
	if err != nil {
		// No wrapping to prevent very long error message from recursive calls.
		return nil, err
	}

	return value, nil
}

// Insert implements binprefix.TreeNode. It loads the node and inserts the
// key/value pair using in-memory operations. The whole path to the key will be
// loaded and kept in-memory until the tree is persisted.
func (n *DiskNode) Insert(path *big.Int, key, value []byte, bucket kv.Bucket) (TreeNode, error) {
	node, err := n.load(path, bucket)
	if err != nil {
		return nil, xerrors.Errorf("failed to load node: %v", err)
	}

	next, err := node.Insert(path, key, value, bucket)
	if err != nil {
		// No wrapping to prevent very long error message from recursive calls.
		return nil, err
	}

	return next, nil
}

// Delete implements binprefix.TreeNode. It loads the node and deletes the key
// if it exists. The whole path to the key is loaded in-memory until the tree is
// persisted.
func (n *DiskNode) Delete(path *big.Int, key []byte, bucket kv.Bucket) (TreeNode, error) {
	node, err := n.load(path, bucket)
	if err != nil {
		return nil, xerrors.Errorf("failed to load node: %v", err)
	}

	next, err := node.Delete(path, key, bucket)
	if err != nil {
		return nil, err
	}

	return next, nil
}

// Prepare implements binprefix.TreeNode. It loads the node to read its hash if
// it is not known yet.
func (n *DiskNode) Prepare(nonce []byte, prefix *big.Int,
	bucket kv.Bucket, fac crypto.HashFactory) ([]byte, error) {

	if len(n.hash) > 0 {
		// Hash is already calculated so we can skip and return.
		return n.hash, nil
	}

	if bucket == nil {
		return nil, xerrors.New("bucket is nil")
	}

	node, err := n.load(prefix, bucket)
	if err != nil {
		return nil, xerrors.Errorf("failed to load node: %v", err)
	}

	digest, err := node.Prepare(nonce, prefix, bucket, fac)
	if err != nil {
		// No wrapping to prevent very long error message from recursive calls.
		return nil, err
	}

	n.hash = digest

	return digest, nil
}

// Clone implements binprefix.TreeNode. It clones the disk node but both the old
// and the new will read the same bucket.
func (n *DiskNode) Clone() TreeNode {
	return NewDiskNode(n.depth, n.hash, n.context, n.factory)
}

// Serialize implements serde.Message. It always returns an error as a disk node
// cannot be serialized.
func (n *DiskNode) Serialize(ctx serde.Context) ([]byte, error) {
	return nil, xerrors.New("not implemented")
}

func (n *DiskNode) load(index *big.Int, bucket kv.Bucket) (TreeNode, error) {
	key := n.prepareKey(index)

	data := bucket.Get(key)
	if len(data) == 0 {
		return nil, xerrors.Errorf("prefix %b (depth %d) not in database", index, n.depth)
	}

	msg, err := n.factory.Deserialize(n.context, data)
	if err != nil {
		return nil, xerrors.Errorf("failed to deserialize: %v", err)
	}

	node, ok := msg.(TreeNode)
	if !ok {
		return nil, xerrors.Errorf("invalid node of type '%T'", msg)
	}

	return node, nil
}

func (n *DiskNode) store(index *big.Int, node TreeNode, b kv.Bucket) error {
	data, err := node.Serialize(n.context)
	if err != nil {
		return xerrors.Errorf("failed to serialize: %v", err)
	}

	key := n.prepareKey(index)

	err = b.Set(key, data)
	if err != nil {
		return xerrors.Errorf("failed to set key: %v", err)
	}

	return nil
}

// cleanSubtree removes the records of the node at the given depth and prefix,
// and the records of every node below it.
func (n *DiskNode) cleanSubtree(depth uint16, index *big.Int, b kv.Bucket) error {
	prefix := n.prepareKey(index)
	if len(prefix) > 0 {
		// It needs to scan a bitwise prefix thus it removes the last byte.
		prefix = prefix[:len(prefix)-1]
	}

	var stale [][]byte

	// The database can scan over prefix at the *byte* level but the node keys
	// are bitwise so it manually compares the bits of the last byte of the
	// prefix. The highest bit of a key is the depth marker, which discards the
	// ancestors sharing the same bytes.
	err := b.Scan(prefix, func(k, _ []byte) error {
		key := new(big.Int)
		key.SetBytes(reverse(k))

		if key.BitLen()-1 < int(depth) {
			return nil
		}

		for i := len(prefix) * 8; i < int(depth); i++ {
			if key.Bit(i) != index.Bit(i) {
				return nil
			}
		}

		stale = append(stale, append([]byte{}, k...))

		return nil
	})
	if err != nil {
		return xerrors.Errorf("failed to scan: %v", err)
	}

	for _, key := range stale {
		err = b.Delete(key)
		if err != nil {
			return xerrors.Errorf("failed to delete: %v", err)
		}
	}

	return nil
}

func (n *DiskNode) prepareKey(index *big.Int) []byte {
	// First fill the prefix until the depth bit which will create a unique key
	// for the node...
	prefix := makePrefix(index, n.depth)

	// ... but we set the bit at _depth_ to one to differentiate prefixes that
	// end with 0s.
	prefix.SetBit(prefix, int(n.depth), 1)

	return reverse(prefix.Bytes())
}

func reverse(buffer []byte) []byte {
	buffer = append([]byte{}, buffer...)
	for i, j := 0, len(buffer)-1; i < j; i, j = i+1, j-1 {
		buffer[i], buffer[j] = buffer[j], buffer[i]
	}

	return buffer
}
