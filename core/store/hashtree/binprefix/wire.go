package binprefix

import (
	"math/big"

	"go.dedis.ch/merk/core/store/kv"
	"go.dedis.ch/merk/crypto"
	"go.dedis.ch/merk/serde"
	"golang.org/x/xerrors"
)

// anyDepth allows stubs at any depth when reading wire nodes.
const anyDepth = -1

func wireInterior(depth uint16) WireNodeJSON {
	return WireNodeJSON{Type: interiorNodeType, Depth: depth}
}

func wireStub(depth uint16, digest []byte) WireNodeJSON {
	return WireNodeJSON{Type: diskNodeType, Depth: depth, Digest: digest}
}

func wireNode(node TreeNode) WireNodeJSON {
	switch n := node.(type) {
	case *LeafNode:
		return WireNodeJSON{Type: leafNodeType, Depth: n.depth, Key: n.key, Value: n.value}
	case *InteriorNode:
		return wireInterior(n.depth)
	default:
		return WireNodeJSON{Type: emptyNodeType, Depth: node.GetDepth()}
	}
}

// digestOf returns the digest of the node, which requires to load a disk node
// when the digest is not known yet.
func (t *Tree) digestOf(node TreeNode, prefix *big.Int, b kv.Bucket) ([]byte, error) {
	digest := node.GetHash()
	if len(digest) > 0 {
		return digest, nil
	}

	resolved, err := t.resolve(node, prefix, b)
	if err != nil {
		return nil, xerrors.Errorf("failed to resolve: %v", err)
	}

	digest = resolved.GetHash()
	if len(digest) == 0 {
		return nil, xerrors.Errorf("missing digest at depth %d", node.GetDepth())
	}

	return digest, nil
}

// wireReader rebuilds a partial tree out of a pre-order list of wire nodes and
// computes the digests along the way. Stubs become interior nodes with a known
// digest and children stored on the disk.
type wireReader struct {
	nodes   []WireNodeJSON
	pos     int
	nonce   []byte
	fac     crypto.HashFactory
	size    int
	context serde.Context
	factory serde.Factory

	// maxDepth is the depth that interior nodes cannot reach.
	maxDepth int
	// stubDepth is the only depth where stubs are accepted, or anyDepth.
	stubDepth int
	noStubs   bool

	stubs []*InteriorNode
}

func (t *Tree) newWireReader(nodes []WireNodeJSON) *wireReader {
	return &wireReader{
		nodes:     nodes,
		nonce:     t.nonce[:],
		fac:       t.fac,
		size:      t.maxDepth / 8,
		context:   t.context,
		factory:   t.factory,
		maxDepth:  t.maxDepth,
		stubDepth: anyDepth,
	}
}

// readAll reads the subtree at the given position and makes sure no node is
// left behind.
func (r *wireReader) readAll(depth uint16, prefix *big.Int) (TreeNode, error) {
	node, err := r.read(depth, prefix)
	if err != nil {
		return nil, err
	}

	if r.pos != len(r.nodes) {
		return nil, xerrors.Errorf("%d trailing nodes", len(r.nodes)-r.pos)
	}

	return node, nil
}

func (r *wireReader) read(depth uint16, prefix *big.Int) (TreeNode, error) {
	if r.pos >= len(r.nodes) {
		return nil, xerrors.New("missing nodes")
	}

	wn := r.nodes[r.pos]
	r.pos++

	if wn.Depth != depth {
		return nil, xerrors.Errorf("node at depth %d but expected %d", wn.Depth, depth)
	}

	var node TreeNode

	switch wn.Type {
	case emptyNodeType:
		node = NewEmptyNode(depth, prefix)
	case leafNodeType:
		path, err := makePath(r.fac, wn.Key)
		if err != nil {
			return nil, xerrors.Errorf("failed to hash key: %v", err)
		}

		if !hasPrefix(path, prefix, depth) {
			return nil, xerrors.Errorf("leaf %#x is out of its prefix", wn.Key)
		}

		node = NewLeafNode(depth, path, wn.Key, wn.Value)
	case interiorNodeType:
		if int(depth) >= r.maxDepth {
			return nil, xerrors.Errorf("interior node beyond depth %d", r.maxDepth)
		}

		if r.stubDepth != anyDepth && int(depth) >= r.stubDepth {
			return nil, xerrors.Errorf("interior node instead of stub at depth %d", depth)
		}

		left, err := r.read(depth+1, new(big.Int).SetBit(prefix, int(depth), 0))
		if err != nil {
			// No wrapping to prevent long error message from recursive calls.
			return nil, err
		}

		right, err := r.read(depth+1, new(big.Int).SetBit(prefix, int(depth), 1))
		if err != nil {
			return nil, err
		}

		node = NewInteriorNodeWithChildren(depth, prefix, nil, left, right)
	case diskNodeType:
		if r.noStubs || (r.stubDepth != anyDepth && int(depth) != r.stubDepth) {
			return nil, xerrors.Errorf("unexpected stub at depth %d", depth)
		}

		if len(wn.Digest) != r.size {
			return nil, xerrors.Errorf("stub digest of length %d instead of %d",
				len(wn.Digest), r.size)
		}

		stub := NewInteriorNodeWithChildren(depth, prefix, wn.Digest,
			NewDiskNode(depth+1, nil, r.context, r.factory),
			NewDiskNode(depth+1, nil, r.context, r.factory))

		r.stubs = append(r.stubs, stub)

		return stub, nil
	default:
		return nil, xerrors.Errorf("unknown node type %d", wn.Type)
	}

	_, err := node.Prepare(r.nonce, prefix, nil, r.fac)
	if err != nil {
		return nil, xerrors.Errorf("failed to prepare: %v", err)
	}

	return node, nil
}
