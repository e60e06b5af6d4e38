package binprefix

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/big"

	"go.dedis.ch/merk/core/store/kv"
	"go.dedis.ch/merk/crypto"
	"go.dedis.ch/merk/serde"
	"go.dedis.ch/merk/serde/json"
	"go.dedis.ch/merk/serde/registry"
	"golang.org/x/xerrors"
)

func init() {
	nodeFormats.Register(serde.FormatJSON, nodeFormat{})
}

// Nonce is the type of the tree nonce.
type Nonce [8]byte

const (
	// DepthLength is the length in bytes of the binary representation of the
	// depth.
	DepthLength = 2

	// KeyLength is the length in bytes of the binary representation of the
	// length of a leaf key.
	KeyLength = 4
)

const (
	emptyNodeType byte = iota
	interiorNodeType
	leafNodeType
	diskNodeType
)

var nodeFormats = registry.NewSimpleRegistry()

// TreeNode is the interface for the different types of nodes that a Merkle tree
// could have. Nodes are addressed by the path of a key, which is the digest of
// the key.
type TreeNode interface {
	serde.Message

	GetHash() []byte

	GetType() byte

	GetDepth() uint16

	Search(path *big.Int, key []byte, bucket kv.Bucket) ([]byte, error)

	Insert(path *big.Int, key, value []byte, bucket kv.Bucket) (TreeNode, error)

	Delete(path *big.Int, key []byte, bucket kv.Bucket) (TreeNode, error)

	Prepare(nonce []byte, prefix *big.Int, bucket kv.Bucket, fac crypto.HashFactory) ([]byte, error)

	Clone() TreeNode
}

// Tree is an implementation of a Merkle binary prefix tree. Keys are hashed
// to produce a path of fixed length, so that a leaf sits at the depth of the
// shortest prefix that is unique to its path.
//
// Mutable operations on the tree don't update the hash root. It can be done
// after a batch of operations or a single one by using the CalculateRoot
// function.
type Tree struct {
	nonce    Nonce
	maxDepth int
	memDepth int
	root     TreeNode
	fac      crypto.HashFactory
	context  serde.Context
	factory  serde.Factory
}

// NewTree creates a new empty tree. The depth of the tree is bounded by the
// size of the digests of the hash factory.
func NewTree(nonce Nonce, fac crypto.HashFactory) *Tree {
	maxDepth := fac.New().Size() * 8

	return &Tree{
		nonce:    nonce,
		maxDepth: maxDepth,
		memDepth: maxDepth,
		root:     NewEmptyNode(0, big.NewInt(0)),
		fac:      fac,
		factory:  NodeFactory{},
		context:  json.NewContext(),
	}
}

// GetNonce returns the nonce of the tree.
func (t *Tree) GetNonce() Nonce {
	return t.nonce
}

// FillFromBucket scans the bucket for the nodes that are direct children of
// the in-memory part of the tree, and it recreates the interior nodes down to
// them. Deeper nodes are reached through their parent when needed.
func (t *Tree) FillFromBucket(bucket kv.Bucket) error {
	t.root = NewEmptyNode(0, big.NewInt(0))

	if bucket == nil {
		return nil
	}

	err := bucket.Scan([]byte{}, func(key, value []byte) error {
		msg, err := t.factory.Deserialize(t.context, value)
		if err != nil {
			return xerrors.Errorf("tree node malformed: %v", err)
		}

		var diskNode *DiskNode
		var prefix *big.Int

		switch node := msg.(type) {
		case *InteriorNode:
			diskNode = NewDiskNode(node.depth, node.hash, t.context, t.factory)
			prefix = node.prefix
		case *EmptyNode:
			diskNode = NewDiskNode(node.depth, node.hash, t.context, t.factory)
			prefix = node.prefix
		case *LeafNode:
			diskNode = NewDiskNode(node.depth, node.hash, t.context, t.factory)
			prefix = node.path
		default:
			return xerrors.Errorf("unexpected node '%T'", msg)
		}

		if int(diskNode.depth) > t.memDepth+1 {
			return nil
		}

		t.root = t.restore(t.root, prefix, diskNode)

		return nil
	})

	if err != nil {
		return xerrors.Errorf("while scanning: %v", err)
	}

	return nil
}

// restore is a recursive function that will append the node to the tree by
// recreating the interior nodes from the root to its natural position defined
// by the prefix.
func (t *Tree) restore(curr TreeNode, prefix *big.Int, node *DiskNode) TreeNode {
	var interior *InteriorNode

	switch n := curr.(type) {
	case *InteriorNode:
		if n.depth >= node.depth {
			return curr
		}

		interior = n
	case *EmptyNode:
		if node.depth == n.depth {
			return node
		}

		interior = NewInteriorNode(n.depth, n.prefix)
		interior.persisted = true
	default:
		return curr
	}

	if prefix.Bit(int(interior.depth)) == 0 {
		interior.left = t.restore(interior.left, prefix, node)
	} else {
		interior.right = t.restore(interior.right, prefix, node)
	}

	return interior
}

// Search returns the value associated to the key if it exists, otherwise nil.
// Nodes loaded from the disk are not kept in the tree.
func (t *Tree) Search(key []byte, b kv.Bucket) ([]byte, error) {
	path, err := t.makePath(key)
	if err != nil {
		return nil, err
	}

	value, err := t.root.Search(path, key, b)
	if err != nil {
		return nil, xerrors.Errorf("failed to search: %v", err)
	}

	return value, nil
}

// Insert inserts the key in the tree. The value is stored as a copy so that an
// empty value and a missing value are never confused.
func (t *Tree) Insert(key, value []byte, b kv.Bucket) error {
	path, err := t.makePath(key)
	if err != nil {
		return err
	}

	t.root, err = t.root.Insert(path, copyBytes(key), copyBytes(value), b)
	if err != nil {
		return xerrors.Errorf("failed to insert: %v", err)
	}

	return nil
}

// Delete removes a key from the tree.
func (t *Tree) Delete(key []byte, b kv.Bucket) error {
	path, err := t.makePath(key)
	if err != nil {
		return err
	}

	t.root, err = t.root.Delete(path, key, b)
	if err != nil {
		return xerrors.Errorf("failed to delete: %v", err)
	}

	return nil
}

// CalculateRoot updates the hashes of the tree.
func (t *Tree) CalculateRoot(b kv.Bucket) error {
	prefix := new(big.Int)

	_, err := t.root.Prepare(t.nonce[:], prefix, b, t.fac)
	if err != nil {
		return xerrors.Errorf("failed to prepare: %v", err)
	}

	return nil
}

// Persist writes the modified parts of the tree to the bucket. Leaves are
// always moved to the disk, as well as any node deeper than the memory depth.
// Records left behind by previous versions of the modified subtrees are
// removed.
func (t *Tree) Persist(b kv.Bucket) error {
	root, err := t.persist(t.root, b)
	if err != nil {
		return err
	}

	t.root = root

	return nil
}

func (t *Tree) persist(n TreeNode, b kv.Bucket) (TreeNode, error) {
	switch node := n.(type) {
	case *LeafNode:
		err := t.toDisk(node.depth, node.path, node, b, true, true)
		if err != nil {
			return nil, err
		}

		return NewDiskNode(node.depth, node.GetHash(), t.context, t.factory), nil
	case *EmptyNode:
		onDisk := int(node.depth) > t.memDepth

		err := t.toDisk(node.depth, node.prefix, node, b, true, onDisk)
		if err != nil {
			return nil, err
		}

		if onDisk {
			return NewDiskNode(node.depth, node.GetHash(), t.context, t.factory), nil
		}

		return node, nil
	case *InteriorNode:
		if node.persisted {
			return node, nil
		}

		var err error
		node.left, err = t.persist(node.left, b)
		if err != nil {
			// No wrapping to prevent long error message from recursive calls.
			return nil, err
		}

		node.right, err = t.persist(node.right, b)
		if err != nil {
			return nil, err
		}

		if int(node.depth) > t.memDepth {
			err = t.toDisk(node.depth, node.prefix, node, b, false, true)
			if err != nil {
				return nil, err
			}

			return NewDiskNode(node.depth, node.GetHash(), t.context, t.factory), nil
		}

		// The slot of an in-memory interior node might still hold the record
		// of the leaf that was split.
		disknode := NewDiskNode(node.depth, nil, t.context, t.factory)

		err = b.Delete(disknode.prepareKey(node.prefix))
		if err != nil {
			return nil, xerrors.Errorf("failed to delete stale node: %v", err)
		}

		node.persisted = true

		return node, nil
	default:
		return n, nil
	}
}

func (t *Tree) toDisk(depth uint16, prefix *big.Int, node TreeNode, b kv.Bucket, clean, store bool) error {
	disknode := NewDiskNode(depth, nil, t.context, t.factory)

	if clean {
		err := disknode.cleanSubtree(depth, prefix, b)
		if err != nil {
			return xerrors.Errorf("failed to clean subtree: %v", err)
		}
	}

	if store {
		err := disknode.store(prefix, node, b)
		if err != nil {
			return xerrors.Errorf("failed to store node: %v", err)
		}
	}

	return nil
}

// Clone returns a deep copy of the in-memory part of the tree.
func (t *Tree) Clone() *Tree {
	return &Tree{
		nonce:    t.nonce,
		maxDepth: t.maxDepth,
		memDepth: t.memDepth,
		root:     t.root.Clone(),
		fac:      t.fac,
		context:  t.context,
		factory:  t.factory,
	}
}

// resolve returns the in-memory version of the node, loading it from the
// bucket if necessary. The tree is not modified.
func (t *Tree) resolve(node TreeNode, prefix *big.Int, b kv.Bucket) (TreeNode, error) {
	diskn, ok := node.(*DiskNode)
	if !ok {
		return node, nil
	}

	if b == nil {
		return nil, xerrors.New("bucket is nil")
	}

	return diskn.load(prefix, b)
}

func (t *Tree) makePath(key []byte) (*big.Int, error) {
	path, err := makePath(t.fac, key)
	if err != nil {
		return nil, xerrors.Errorf("failed to hash key: %v", err)
	}

	return path, nil
}

// EmptyNode is leaf node with no value.
//
// - implements binprefix.TreeNode
type EmptyNode struct {
	depth  uint16
	prefix *big.Int
	hash   []byte
}

// NewEmptyNode creates a new empty node.
func NewEmptyNode(depth uint16, prefix *big.Int) *EmptyNode {
	return NewEmptyNodeWithDigest(depth, prefix, nil)
}

// NewEmptyNodeWithDigest creates a new empty node with its digest.
func NewEmptyNodeWithDigest(depth uint16, prefix *big.Int, hash []byte) *EmptyNode {
	return &EmptyNode{
		depth:  depth,
		prefix: prefix,
		hash:   hash,
	}
}

// GetHash implements binprefix.TreeNode. It returns the hash of the node.
func (n *EmptyNode) GetHash() []byte {
	return append([]byte{}, n.hash...)
}

// GetType implements binprefix.TreeNode. It returns the empty node type.
func (n *EmptyNode) GetType() byte {
	return emptyNodeType
}

// GetDepth implements binprefix.TreeNode. It returns the depth of the node.
func (n *EmptyNode) GetDepth() uint16 {
	return n.depth
}

// GetPrefix returns the prefix of the node.
func (n *EmptyNode) GetPrefix() *big.Int {
	return n.prefix
}

// Search implements binprefix.TreeNode. It always return a empty value.
func (n *EmptyNode) Search(path *big.Int, key []byte, b kv.Bucket) ([]byte, error) {
	return nil, nil
}

// Insert implements binprefix.TreeNode. It replaces the empty node by a leaf
// node that contains the key and the value.
func (n *EmptyNode) Insert(path *big.Int, key, value []byte, b kv.Bucket) (TreeNode, error) {
	return NewLeafNode(n.depth, path, key, value), nil
}

// Delete implements binprefix.TreeNode. It ignores the delete as an empty node
// already means the key is missing.
func (n *EmptyNode) Delete(path *big.Int, key []byte, b kv.Bucket) (TreeNode, error) {
	return n, nil
}

// Prepare implements binprefix.TreeNode. It updates the hash of the node if not
// already set and returns the digest.
func (n *EmptyNode) Prepare(nonce []byte,
	prefix *big.Int, b kv.Bucket, fac crypto.HashFactory) ([]byte, error) {

	if len(n.hash) > 0 {
		// Hash is already calculated so we can skip and return.
		return n.hash, nil
	}

	h := fac.New()

	data := make([]byte, 1+len(nonce)+bilen(prefix)+DepthLength)
	cursor := 1
	data[0] = emptyNodeType
	copy(data[cursor:], nonce)
	cursor += len(nonce)
	copy(data[cursor:], prefix.Bytes())
	cursor += bilen(prefix)
	copy(data[cursor:], int2buffer(n.depth))

	_, err := h.Write(data)
	if err != nil {
		return nil, xerrors.Errorf("empty node failed: %v", err)
	}

	n.hash = h.Sum(nil)

	return n.GetHash(), nil
}

// Clone implements binprefix.TreeNode. It returns a deep copy of the empty
// node.
func (n *EmptyNode) Clone() TreeNode {
	return NewEmptyNodeWithDigest(n.depth, n.prefix, n.hash)
}

// Serialize implements serde.Message. It returns the JSON data of the empty
// node.
func (n *EmptyNode) Serialize(ctx serde.Context) ([]byte, error) {
	format := nodeFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, n)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode empty node: %v", err)
	}

	return data, nil
}

// InteriorNode is a node with two children.
//
// - implements binprefix.TreeNode
type InteriorNode struct {
	hash   []byte
	depth  uint16
	prefix *big.Int
	left   TreeNode
	right  TreeNode

	// persisted is true when the subtree has not changed since it has been
	// written to the disk.
	persisted bool
}

// NewInteriorNode creates a new interior node with two empty nodes as children.
func NewInteriorNode(depth uint16, prefix *big.Int) *InteriorNode {
	return NewInteriorNodeWithChildren(
		depth,
		prefix,
		nil,
		NewEmptyNode(depth+1, new(big.Int).SetBit(prefix, int(depth), 0)),
		NewEmptyNode(depth+1, new(big.Int).SetBit(prefix, int(depth), 1)),
	)
}

// NewInteriorNodeWithChildren creates a new interior node with the two given
// children.
func NewInteriorNodeWithChildren(depth uint16, prefix *big.Int, hash []byte, left, right TreeNode) *InteriorNode {
	return &InteriorNode{
		depth:  depth,
		prefix: prefix,
		hash:   hash,
		left:   left,
		right:  right,
	}
}

// GetHash implements binprefix.TreeNode. It returns the hash of the node.
func (n *InteriorNode) GetHash() []byte {
	return append([]byte{}, n.hash...)
}

// GetType implements binprefix.TreeNode. It returns the interior node type.
func (n *InteriorNode) GetType() byte {
	return interiorNodeType
}

// GetDepth implements binprefix.TreeNode. It returns the depth of the node.
func (n *InteriorNode) GetDepth() uint16 {
	return n.depth
}

// GetPrefix returns the prefix of the node.
func (n *InteriorNode) GetPrefix() *big.Int {
	return n.prefix
}

// Search implements binprefix.TreeNode. It recursively search for the value in
// the correct child.
func (n *InteriorNode) Search(path *big.Int, key []byte, b kv.Bucket) ([]byte, error) {
	if path.Bit(int(n.depth)) == 0 {
		return n.left.Search(path, key, b)
	}

	return n.right.Search(path, key, b)
}

// Insert implements binprefix.TreeNode. It inserts the key/value pair to the
// right path.
func (n *InteriorNode) Insert(path *big.Int, key, value []byte, b kv.Bucket) (TreeNode, error) {
	var err error
	if path.Bit(int(n.depth)) == 0 {
		n.left, err = n.left.Insert(path, key, value, b)
	} else {
		n.right, err = n.right.Insert(path, key, value, b)
	}

	// Reset the hash as the subtree will change and thus invalidate this
	// current value.
	n.hash = nil
	n.persisted = false

	return n, err
}

// Delete implements binprefix.TreeNode. It deletes the leaf node associated to
// the key if it exists. An interior node left with a single leaf is replaced
// by the leaf so that the shape of the tree only depends on its content.
func (n *InteriorNode) Delete(path *big.Int, key []byte, b kv.Bucket) (TreeNode, error) {
	var err error

	// Depending on the path to follow, it will delete the key from the correct
	// path and it will load the first node of the opposite path if it is a disk
	// node so that the type can be compared. Errors are not wrapper to prevent
	// very long error message.
	if path.Bit(int(n.depth)) == 0 {
		n.left, err = n.left.Delete(path, key, b)
		if err != nil {
			return nil, err
		}

		n.right, err = n.load(n.right, path, 1, b)
		if err != nil {
			return nil, err
		}
	} else {
		n.right, err = n.right.Delete(path, key, b)
		if err != nil {
			return nil, err
		}

		n.left, err = n.load(n.left, path, 0, b)
		if err != nil {
			return nil, err
		}
	}

	n.hash = nil
	n.persisted = false

	left, right := n.left.GetType(), n.right.GetType()

	switch {
	case left == emptyNodeType && right == emptyNodeType:
		return NewEmptyNode(n.depth, n.prefix), nil
	case left == leafNodeType && right == emptyNodeType:
		return n.left.(*LeafNode).moveTo(n.depth), nil
	case left == emptyNodeType && right == leafNodeType:
		return n.right.(*LeafNode).moveTo(n.depth), nil
	}

	return n, nil
}

func (n *InteriorNode) load(node TreeNode, path *big.Int, bit uint, b kv.Bucket) (TreeNode, error) {
	diskn, ok := node.(*DiskNode)
	if !ok {
		return node, nil
	}

	node, err := diskn.load(new(big.Int).SetBit(path, int(n.depth), bit), b)
	if err != nil {
		return nil, xerrors.Errorf("failed to load node: %v", err)
	}

	return node, nil
}

// Prepare implements binprefix.TreeNode. It updates the hash of the node if not
// already set and returns the digest.
func (n *InteriorNode) Prepare(nonce []byte,
	prefix *big.Int, b kv.Bucket, fac crypto.HashFactory) ([]byte, error) {

	if len(n.hash) > 0 {
		// Hash is already calculated so we can skip and return.
		return n.hash, nil
	}

	h := fac.New()

	left, err := n.left.Prepare(nonce, new(big.Int).SetBit(prefix, int(n.depth), 0), b, fac)
	if err != nil {
		// No wrapping to prevent recursive calls to create huge error messages.
		return nil, err
	}

	right, err := n.right.Prepare(nonce, new(big.Int).SetBit(prefix, int(n.depth), 1), b, fac)
	if err != nil {
		// No wrapping to prevent recursive calls to create huge error messages.
		return nil, err
	}

	data := make([]byte, 0, 1+len(left)+len(right))
	data = append(data, interiorNodeType)
	data = append(data, left...)
	data = append(data, right...)

	_, err = h.Write(data)
	if err != nil {
		return nil, xerrors.Errorf("interior node failed: %v", err)
	}

	n.hash = h.Sum(nil)

	return n.GetHash(), nil
}

// Clone implements binprefix.TreeNode. It returns a deep copy of the interior
// node.
func (n *InteriorNode) Clone() TreeNode {
	return &InteriorNode{
		hash:      n.hash,
		depth:     n.depth,
		prefix:    n.prefix,
		left:      n.left.Clone(),
		right:     n.right.Clone(),
		persisted: n.persisted,
	}
}

// Serialize implements serde.Message. It returns the JSON data of the interior
// node.
func (n *InteriorNode) Serialize(ctx serde.Context) ([]byte, error) {
	format := nodeFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, n)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode interior node: %v", err)
	}

	return data, nil
}

// LeafNode is a leaf node with a key, its path and a value.
//
// - implements binprefix.TreeNode
type LeafNode struct {
	hash  []byte
	depth uint16
	path  *big.Int
	key   []byte
	value []byte
}

// NewLeafNode creates a new leaf node.
func NewLeafNode(depth uint16, path *big.Int, key, value []byte) *LeafNode {
	return NewLeafNodeWithDigest(depth, path, key, value, nil)
}

// NewLeafNodeWithDigest creates a new leaf node with its digest.
func NewLeafNodeWithDigest(depth uint16, path *big.Int, key, value, hash []byte) *LeafNode {
	if value == nil {
		value = []byte{}
	}

	return &LeafNode{
		hash:  hash,
		depth: depth,
		path:  path,
		key:   key,
		value: value,
	}
}

// GetHash implements binprefix.TreeNode. It returns the hash of the node.
func (n *LeafNode) GetHash() []byte {
	return append([]byte{}, n.hash...)
}

// GetDepth implements binprefix.TreeNode. It returns the depth of the node.
func (n *LeafNode) GetDepth() uint16 {
	return n.depth
}

// GetPath returns the path of the leaf node.
func (n *LeafNode) GetPath() *big.Int {
	return n.path
}

// GetKey returns the key of the leaf node.
func (n *LeafNode) GetKey() []byte {
	return n.key
}

// GetValue returns the value of the leaf node. It is never nil.
func (n *LeafNode) GetValue() []byte {
	return n.value
}

// GetType implements binprefix.TreeNode. It returns the leaf node type.
func (n *LeafNode) GetType() byte {
	return leafNodeType
}

// Search implements binprefix.TreeNode. It returns the value if the key
// matches.
func (n *LeafNode) Search(path *big.Int, key []byte, b kv.Bucket) ([]byte, error) {
	if bytes.Equal(n.key, key) {
		return append([]byte{}, n.value...), nil
	}

	return nil, nil
}

// Insert implements binprefix.TreeNode. It replaces the leaf node by an
// interior node that contains both the current pair and the new one to insert.
func (n *LeafNode) Insert(path *big.Int, key, value []byte, b kv.Bucket) (TreeNode, error) {
	if n.path.Cmp(path) == 0 {
		if !bytes.Equal(n.key, key) {
			return nil, xerrors.Errorf("keys %#x and %#x have the same path", n.key, key)
		}

		return NewLeafNode(n.depth, n.path, n.key, value), nil
	}

	node := NewInteriorNode(n.depth, makePrefix(path, n.depth))

	// As the node is freshly created, the operations are in-memory and thus it
	// doesn't trigger any error.
	node.Insert(n.path, n.key, n.value, b)
	node.Insert(path, key, value, b)

	return node, nil
}

// Delete implements binprefix.TreeNode. It removes the leaf if the key matches.
func (n *LeafNode) Delete(path *big.Int, key []byte, b kv.Bucket) (TreeNode, error) {
	if bytes.Equal(n.key, key) {
		return NewEmptyNode(n.depth, makePrefix(n.path, n.depth)), nil
	}

	return n, nil
}

// Prepare implements binprefix.TreeNode. It updates the hash of the node if not
// already set and returns the digest.
func (n *LeafNode) Prepare(nonce []byte,
	prefix *big.Int, b kv.Bucket, fac crypto.HashFactory) ([]byte, error) {

	if len(n.hash) > 0 {
		// Hash is already calculated so we can skip and return.
		return n.hash, nil
	}

	h := fac.New()

	size := 1 + len(nonce) + DepthLength + bilen(prefix) + KeyLength + len(n.key) + len(n.value)

	data := make([]byte, size)
	data[0] = leafNodeType
	cursor := 1
	copy(data[cursor:], nonce)
	cursor += len(nonce)
	copy(data[cursor:], int2buffer(n.depth))
	cursor += DepthLength
	copy(data[cursor:], prefix.Bytes())
	cursor += bilen(prefix)
	binary.LittleEndian.PutUint32(data[cursor:], uint32(len(n.key)))
	cursor += KeyLength
	copy(data[cursor:], n.key)
	cursor += len(n.key)
	copy(data[cursor:], n.value)

	_, err := h.Write(data)
	if err != nil {
		return nil, xerrors.Errorf("leaf node failed: %v", err)
	}

	n.hash = h.Sum(nil)

	return n.GetHash(), nil
}

// Clone implements binprefix.TreeNode. It returns a copy of the leaf node.
func (n *LeafNode) Clone() TreeNode {
	return NewLeafNodeWithDigest(n.depth, n.path, n.key, n.value, n.hash)
}

// Serialize implements serde.Message. It returns the JSON data of the leaf
// node.
func (n *LeafNode) Serialize(ctx serde.Context) ([]byte, error) {
	format := nodeFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, n)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode leaf node: %v", err)
	}

	return data, nil
}

// moveTo returns a copy of the leaf at a different depth. The hash is reset
// as it depends on the position.
func (n *LeafNode) moveTo(depth uint16) *LeafNode {
	return NewLeafNode(depth, n.path, n.key, n.value)
}

// NodeKey is the key for the node factory.
type NodeKey struct{}

// NodeFactory is the factory to deserialize tree nodes.
//
// - implements serde.Factory
type NodeFactory struct{}

// Deserialize implements serde.Factory. It populates the tree node associated
// to the data if appropriate, otherwise it returns an error.
func (f NodeFactory) Deserialize(ctx serde.Context, data []byte) (serde.Message, error) {
	format := nodeFormats.Get(ctx.GetFormat())

	ctx = serde.WithFactory(ctx, NodeKey{}, f)

	msg, err := format.Decode(ctx, data)
	if err != nil {
		return nil, xerrors.Errorf("format failed: %v", err)
	}

	return msg, nil
}

func int2buffer(depth uint16) []byte {
	buffer := make([]byte, DepthLength)
	binary.LittleEndian.PutUint16(buffer, depth)

	return buffer
}

// makePath returns the path of the key in a tree using the hash factory.
func makePath(fac crypto.HashFactory, key []byte) (*big.Int, error) {
	h := fac.New()

	_, err := h.Write(key)
	if err != nil {
		return nil, err
	}

	return new(big.Int).SetBytes(h.Sum(nil)), nil
}

// makePrefix returns the first depth bits of the path.
func makePrefix(path *big.Int, depth uint16) *big.Int {
	prefix := new(big.Int)
	for i := 0; i < int(depth); i++ {
		prefix.SetBit(prefix, i, path.Bit(i))
	}

	return prefix
}

// hasPrefix returns true when the first depth bits of the path and the prefix
// are equal.
func hasPrefix(path, prefix *big.Int, depth uint16) bool {
	for i := 0; i < int(depth); i++ {
		if path.Bit(i) != prefix.Bit(i) {
			return false
		}
	}

	return true
}

func copyBytes(buffer []byte) []byte {
	return append([]byte{}, buffer...)
}

func bilen(n *big.Int) int {
	return int(math.Ceil(float64(n.BitLen()) / 8.0))
}
