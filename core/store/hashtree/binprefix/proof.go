package binprefix

import (
	"bytes"
	"math/big"

	"go.dedis.ch/merk/core/store/kv"
	"go.dedis.ch/merk/crypto"
	"go.dedis.ch/merk/serde"
	"go.dedis.ch/merk/serde/json"
	"go.dedis.ch/merk/serde/registry"
	"golang.org/x/xerrors"
)

var proofFormats = registry.NewSimpleRegistry()

func init() {
	proofFormats.Register(serde.FormatJSON, proofFormat{})
}

// Proof is a partial tree that contains the paths to a set of keys. The
// subtrees outside of those paths are replaced by stubs carrying their digest,
// so that the root can be recomputed.
//
// - implements serde.Message
type Proof struct {
	version uint16
	scheme  string
	nonce   Nonce
	nodes   []WireNodeJSON
}

// Serialize implements serde.Message. It returns the serialized data of the
// proof.
func (p Proof) Serialize(ctx serde.Context) ([]byte, error) {
	format := proofFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, p)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode proof: %v", err)
	}

	return data, nil
}

// ProofFactory is the factory to deserialize proofs.
//
// - implements serde.Factory
type ProofFactory struct{}

// Deserialize implements serde.Factory. It populates the proof from the data if
// appropriate, otherwise it returns an error.
func (f ProofFactory) Deserialize(ctx serde.Context, data []byte) (serde.Message, error) {
	format := proofFormats.Get(ctx.GetFormat())

	msg, err := format.Decode(ctx, data)
	if err != nil {
		return nil, xerrors.Errorf("format failed: %v", err)
	}

	return msg, nil
}

// proveNode appends the node in pre-order if one of the paths goes through it,
// otherwise only a stub with its digest.
func (t *Tree) proveNode(node TreeNode, prefix *big.Int, paths []*big.Int,
	b kv.Bucket, nodes *[]WireNodeJSON) error {

	if len(paths) == 0 {
		digest, err := t.digestOf(node, prefix, b)
		if err != nil {
			return err
		}

		*nodes = append(*nodes, wireStub(node.GetDepth(), digest))

		return nil
	}

	resolved, err := t.resolve(node, prefix, b)
	if err != nil {
		return xerrors.Errorf("failed to resolve: %v", err)
	}

	*nodes = append(*nodes, wireNode(resolved))

	interior, ok := resolved.(*InteriorNode)
	if !ok {
		return nil
	}

	var left, right []*big.Int
	for _, path := range paths {
		if path.Bit(int(interior.depth)) == 0 {
			left = append(left, path)
		} else {
			right = append(right, path)
		}
	}

	err = t.proveNode(interior.left, new(big.Int).SetBit(prefix, int(interior.depth), 0), left, b, nodes)
	if err != nil {
		return err
	}

	return t.proveNode(interior.right, new(big.Int).SetBit(prefix, int(interior.depth), 1), right, b, nodes)
}

// VerifyProof verifies that the proof is valid for the root and it returns the
// value of each key, or nil for a key proven to be absent. The map is indexed
// by the string conversion of the keys.
func VerifyProof(data, root []byte, keys [][]byte, alg crypto.HashAlgorithm) (map[string][]byte, error) {
	if alg.Size() == 0 {
		return nil, xerrors.Errorf("unknown hash algorithm %d: %w", alg, ErrMalformedProof)
	}

	if len(root) != alg.Size() {
		return nil, xerrors.Errorf("root of length %d while %s digests are %d bytes: %w",
			len(root), alg, alg.Size(), ErrMalformedProof)
	}

	msg, err := ProofFactory{}.Deserialize(json.NewContext(), data)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode: %v: %w", err, ErrMalformedProof)
	}

	proof, ok := msg.(Proof)
	if !ok {
		return nil, xerrors.Errorf("invalid message of type '%T': %w", msg, ErrMalformedProof)
	}

	if proof.version != Version {
		return nil, xerrors.Errorf("unsupported version %d: %w", proof.version, ErrMalformedProof)
	}

	if proof.scheme != alg.String() {
		return nil, xerrors.Errorf("scheme '%s' while expecting '%s': %w",
			proof.scheme, alg, ErrMalformedProof)
	}

	tree := NewTree(proof.nonce, crypto.NewHashFactory(alg))

	node, err := tree.newWireReader(proof.nodes).readAll(0, big.NewInt(0))
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrMalformedProof)
	}

	if !bytes.Equal(node.GetHash(), root) {
		return nil, xerrors.Errorf("root %#x while expecting %#x: %w",
			node.GetHash(), root, ErrProofMismatch)
	}

	values := make(map[string][]byte, len(keys))

	for _, key := range keys {
		path, err := tree.makePath(key)
		if err != nil {
			return nil, err
		}

		value, err := lookup(node, path, key)
		if err != nil {
			return nil, xerrors.Errorf("key %#x: %w", key, err)
		}

		values[string(key)] = value
	}

	return values, nil
}

// lookup follows the path inside a partial tree. It fails when the path leads
// to a part of the tree that is not in the proof.
func lookup(node TreeNode, path *big.Int, key []byte) ([]byte, error) {
	for {
		switch n := node.(type) {
		case *InteriorNode:
			if path.Bit(int(n.depth)) == 0 {
				node = n.left
			} else {
				node = n.right
			}
		case *LeafNode:
			if bytes.Equal(n.key, key) {
				return n.value, nil
			}

			return nil, nil
		case *EmptyNode:
			return nil, nil
		default:
			return nil, ErrProofIncomplete
		}
	}
}
