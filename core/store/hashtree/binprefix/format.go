package binprefix

import (
	"math/big"

	"go.dedis.ch/merk/serde"
	"golang.org/x/xerrors"
)

// LeafNodeJSON is the JSON representation of a leaf node.
type LeafNodeJSON struct {
	Digest []byte
	Depth  uint16
	Path   []byte
	Key    []byte
	Value  []byte
}

// InteriorNodeJSON is the JSON representation of an interior node.
type InteriorNodeJSON struct {
	Digest []byte
	Depth  uint16
	Prefix []byte
}

// EmptyNodeJSON is the JSON representation of an empty node.
type EmptyNodeJSON struct {
	Digest []byte
	Depth  uint16
	Prefix []byte
}

// NodeJSON is the wrapper around the different types of a tree node.
type NodeJSON struct {
	Leaf     *LeafNodeJSON     `json:",omitempty"`
	Interior *InteriorNodeJSON `json:",omitempty"`
	Empty    *EmptyNodeJSON    `json:",omitempty"`
}

// WireNodeJSON is the JSON representation of a node inside a chunk or a proof.
// Nodes are listed in pre-order, so that the children of an interior node are
// the two subtrees that follow it. A stub only carries the digest of a subtree
// that is not expanded.
type WireNodeJSON struct {
	Type   byte
	Depth  uint16
	Key    []byte `json:",omitempty"`
	Value  []byte `json:",omitempty"`
	Digest []byte `json:",omitempty"`
}

// ChunkHeaderJSON is the JSON representation of the header of the first chunk.
type ChunkHeaderJSON struct {
	Version    uint16
	Scheme     string
	Nonce      []byte
	ChunkDepth uint16
	Stubs      int
}

// ChunkJSON is the JSON representation of a chunk.
type ChunkJSON struct {
	Index  int
	Header *ChunkHeaderJSON `json:",omitempty"`
	Nodes  []WireNodeJSON
}

// ProofJSON is the JSON representation of a proof.
type ProofJSON struct {
	Version uint16
	Scheme  string
	Nonce   []byte
	Nodes   []WireNodeJSON
}

type nodeFormat struct{}

func (f nodeFormat) Encode(ctx serde.Context, msg serde.Message) ([]byte, error) {
	var m NodeJSON

	switch node := msg.(type) {
	case *LeafNode:
		leaf := LeafNodeJSON{
			Digest: node.GetHash(),
			Depth:  node.GetDepth(),
			Path:   node.GetPath().Bytes(),
			Key:    node.GetKey(),
			Value:  node.GetValue(),
		}

		m = NodeJSON{Leaf: &leaf}
	case *EmptyNode:
		empty := EmptyNodeJSON{
			Digest: node.GetHash(),
			Depth:  node.depth,
			Prefix: node.prefix.Bytes(),
		}

		m = NodeJSON{Empty: &empty}
	case *InteriorNode:
		inter := InteriorNodeJSON{
			Digest: node.GetHash(),
			Depth:  node.depth,
			Prefix: node.prefix.Bytes(),
		}

		m = NodeJSON{Interior: &inter}
	default:
		return nil, xerrors.Errorf("unsupported message '%T'", msg)
	}

	data, err := ctx.Marshal(m)
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal: %v", err)
	}

	return data, nil
}

func (f nodeFormat) Decode(ctx serde.Context, data []byte) (serde.Message, error) {
	m := NodeJSON{}
	err := ctx.Unmarshal(data, &m)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal: %v", err)
	}

	if m.Leaf != nil {
		path := new(big.Int)
		path.SetBytes(m.Leaf.Path)

		node := NewLeafNodeWithDigest(m.Leaf.Depth, path, m.Leaf.Key, m.Leaf.Value, m.Leaf.Digest)

		return node, nil
	}

	if m.Empty != nil {
		prefix := new(big.Int)
		prefix.SetBytes(m.Empty.Prefix)

		node := &EmptyNode{
			hash:   m.Empty.Digest,
			depth:  m.Empty.Depth,
			prefix: prefix,
		}

		return node, nil
	}

	if m.Interior != nil {
		factory := ctx.GetFactory(NodeKey{})

		prefix := new(big.Int)
		prefix.SetBytes(m.Interior.Prefix)

		node := &InteriorNode{
			hash:      m.Interior.Digest,
			depth:     m.Interior.Depth,
			prefix:    prefix,
			left:      NewDiskNode(m.Interior.Depth+1, nil, ctx, factory),
			right:     NewDiskNode(m.Interior.Depth+1, nil, ctx, factory),
			persisted: true,
		}

		return node, nil
	}

	return nil, xerrors.New("message is empty")
}

type chunkFormat struct{}

func (f chunkFormat) Encode(ctx serde.Context, msg serde.Message) ([]byte, error) {
	chunk, ok := msg.(Chunk)
	if !ok {
		return nil, xerrors.Errorf("unsupported message '%T'", msg)
	}

	m := ChunkJSON{
		Index: chunk.index,
		Nodes: chunk.nodes,
	}

	if chunk.header != nil {
		m.Header = &ChunkHeaderJSON{
			Version:    chunk.header.version,
			Scheme:     chunk.header.scheme,
			Nonce:      chunk.header.nonce[:],
			ChunkDepth: chunk.header.chunkDepth,
			Stubs:      chunk.header.stubs,
		}
	}

	data, err := ctx.Marshal(m)
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal: %v", err)
	}

	return data, nil
}

func (f chunkFormat) Decode(ctx serde.Context, data []byte) (serde.Message, error) {
	m := ChunkJSON{}
	err := ctx.Unmarshal(data, &m)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal: %v", err)
	}

	chunk := Chunk{
		index: m.Index,
		nodes: m.Nodes,
	}

	if m.Header != nil {
		if len(m.Header.Nonce) != len(Nonce{}) {
			return nil, xerrors.Errorf("invalid nonce length %d", len(m.Header.Nonce))
		}

		chunk.header = &chunkHeader{
			version:    m.Header.Version,
			scheme:     m.Header.Scheme,
			chunkDepth: m.Header.ChunkDepth,
			stubs:      m.Header.Stubs,
		}

		copy(chunk.header.nonce[:], m.Header.Nonce)
	}

	return chunk, nil
}

type proofFormat struct{}

func (f proofFormat) Encode(ctx serde.Context, msg serde.Message) ([]byte, error) {
	proof, ok := msg.(Proof)
	if !ok {
		return nil, xerrors.Errorf("unsupported message '%T'", msg)
	}

	m := ProofJSON{
		Version: proof.version,
		Scheme:  proof.scheme,
		Nonce:   proof.nonce[:],
		Nodes:   proof.nodes,
	}

	data, err := ctx.Marshal(m)
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal: %v", err)
	}

	return data, nil
}

func (f proofFormat) Decode(ctx serde.Context, data []byte) (serde.Message, error) {
	m := ProofJSON{}
	err := ctx.Unmarshal(data, &m)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal: %v", err)
	}

	if len(m.Nonce) != len(Nonce{}) {
		return nil, xerrors.Errorf("invalid nonce length %d", len(m.Nonce))
	}

	proof := Proof{
		version: m.Version,
		scheme:  m.Scheme,
		nodes:   m.Nodes,
	}

	copy(proof.nonce[:], m.Nonce)

	return proof, nil
}
