package binprefix

import (
	"bytes"
	"math/big"

	"github.com/klauspost/compress/zstd"
	"go.dedis.ch/merk/core/store/kv"
	"go.dedis.ch/merk/serde"
	"go.dedis.ch/merk/serde/json"
	"go.dedis.ch/merk/serde/registry"
	"golang.org/x/xerrors"
)

// maxChunkSize is the maximum size of a decompressed chunk.
const maxChunkSize = 1 << 30

var (
	chunkFormats = registry.NewSimpleRegistry()

	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxChunkSize))
)

func init() {
	chunkFormats.Register(serde.FormatJSON, chunkFormat{})
}

type chunkHeader struct {
	version    uint16
	scheme     string
	nonce      Nonce
	chunkDepth uint16
	stubs      int
}

// Chunk is a piece of an export of the tree. The first chunk holds the top of
// the tree down to the chunk depth, where the interior nodes are replaced by
// stubs. Every other chunk holds the subtree of one stub.
//
// - implements serde.Message
type Chunk struct {
	index  int
	header *chunkHeader
	nodes  []WireNodeJSON
}

// GetIndex returns the index of the chunk.
func (c Chunk) GetIndex() int {
	return c.index
}

// Serialize implements serde.Message. It returns the serialized data of the
// chunk.
func (c Chunk) Serialize(ctx serde.Context) ([]byte, error) {
	format := chunkFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, c)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode chunk: %v", err)
	}

	return data, nil
}

// ChunkFactory is the factory to deserialize chunks.
//
// - implements serde.Factory
type ChunkFactory struct{}

// Deserialize implements serde.Factory. It populates the chunk from the data if
// appropriate, otherwise it returns an error.
func (f ChunkFactory) Deserialize(ctx serde.Context, data []byte) (serde.Message, error) {
	format := chunkFormats.Get(ctx.GetFormat())

	msg, err := format.Decode(ctx, data)
	if err != nil {
		return nil, xerrors.Errorf("format failed: %v", err)
	}

	return msg, nil
}

// stubRef is a subtree of the export referenced by a stub of the first chunk.
type stubRef struct {
	node   TreeNode
	prefix *big.Int
}

// Export is a snapshot of the tree split into chunks. It must not be used
// after the tree it comes from has been modified.
//
// - implements hashtree.Export
type Export struct {
	tree  *MerkleTree
	trunk Chunk
	stubs []stubRef
}

// Len implements hashtree.Export. It returns the number of chunks.
func (e *Export) Len() int {
	return 1 + len(e.stubs)
}

// Chunk implements hashtree.Export. It returns the compressed data of the chunk
// at the given index.
func (e *Export) Chunk(index int) ([]byte, error) {
	if index < 0 || index >= e.Len() {
		return nil, xerrors.Errorf("index %d out of range [0, %d)", index, e.Len())
	}

	chunk := e.trunk

	if index > 0 {
		ref := e.stubs[index-1]

		var nodes []WireNodeJSON

		err := e.tree.view(func(tree *Tree, b kv.Bucket) error {
			return tree.exportSubtree(ref.node, ref.prefix, b, &nodes)
		})
		if err != nil {
			return nil, xerrors.Errorf("failed to export subtree: %v", err)
		}

		chunk = Chunk{index: index, nodes: nodes}
	}

	data, err := encodeChunk(chunk)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode chunk: %v", err)
	}

	return data, nil
}

// exportTrunk appends the nodes down to the chunk depth and remembers the
// subtrees replaced by stubs.
func (t *Tree) exportTrunk(node TreeNode, prefix *big.Int, depth uint16,
	b kv.Bucket, nodes *[]WireNodeJSON, stubs *[]stubRef) error {

	resolved, err := t.resolve(node, prefix, b)
	if err != nil {
		return xerrors.Errorf("failed to resolve: %v", err)
	}

	interior, ok := resolved.(*InteriorNode)
	if !ok {
		*nodes = append(*nodes, wireNode(resolved))
		return nil
	}

	if interior.depth >= depth {
		digest, err := t.digestOf(node, prefix, b)
		if err != nil {
			return err
		}

		*nodes = append(*nodes, wireStub(interior.depth, digest))
		*stubs = append(*stubs, stubRef{node: node, prefix: prefix})

		return nil
	}

	*nodes = append(*nodes, wireInterior(interior.depth))

	err = t.exportTrunk(interior.left, new(big.Int).SetBit(prefix, int(interior.depth), 0),
		depth, b, nodes, stubs)
	if err != nil {
		return err
	}

	return t.exportTrunk(interior.right, new(big.Int).SetBit(prefix, int(interior.depth), 1),
		depth, b, nodes, stubs)
}

// exportSubtree appends every node of the subtree in pre-order.
func (t *Tree) exportSubtree(node TreeNode, prefix *big.Int, b kv.Bucket, nodes *[]WireNodeJSON) error {
	resolved, err := t.resolve(node, prefix, b)
	if err != nil {
		return xerrors.Errorf("failed to resolve: %v", err)
	}

	*nodes = append(*nodes, wireNode(resolved))

	interior, ok := resolved.(*InteriorNode)
	if !ok {
		return nil
	}

	err = t.exportSubtree(interior.left, new(big.Int).SetBit(prefix, int(interior.depth), 0), b, nodes)
	if err != nil {
		return err
	}

	return t.exportSubtree(interior.right, new(big.Int).SetBit(prefix, int(interior.depth), 1), b, nodes)
}

// Importer rebuilds a tree out of the chunks of an export. Every chunk is
// verified against the expected root before its nodes are written to the
// database.
//
// - implements hashtree.Importer
type Importer struct {
	db    kv.DB
	tmpl  template
	root  []byte
	count int

	tree  *Tree
	next  int
	stubs []*InteriorNode
}

// NewImporter creates an importer that expects the given number of chunks for
// a tree with the given root.
func NewImporter(db kv.DB, root []byte, count int, opts ...TreeOption) *Importer {
	return &Importer{
		db:    db,
		tmpl:  newTemplate(opts...),
		root:  root,
		count: count,
	}
}

// GetNonce returns the nonce of the imported tree, or false if the first chunk
// has not been processed yet.
func (imp *Importer) GetNonce() (Nonce, bool) {
	if imp.tree == nil {
		return Nonce{}, false
	}

	return imp.tree.nonce, true
}

// Remaining implements hashtree.Importer. It returns the number of chunks that
// are still expected, or false when it is not known yet.
func (imp *Importer) Remaining() (int, bool) {
	if imp.tree == nil {
		return 0, false
	}

	return len(imp.stubs) + 1 - imp.next, true
}

// Process implements hashtree.Importer. It verifies the chunk and writes its
// nodes to the database. Any inconsistency is reported as ErrInvalidChunk.
func (imp *Importer) Process(data []byte) error {
	if imp.tree != nil && imp.next > len(imp.stubs) {
		return xerrors.Errorf("no more chunks expected: %w", ErrInvalidChunk)
	}

	chunk, err := decodeChunk(data)
	if err != nil {
		return xerrors.Errorf("%v: %w", err, ErrInvalidChunk)
	}

	if chunk.index != imp.next {
		return xerrors.Errorf("chunk %d while expecting %d: %w", chunk.index, imp.next, ErrInvalidChunk)
	}

	if imp.next == 0 {
		err = imp.processTrunk(chunk)
	} else {
		err = imp.processSubtree(chunk)
	}

	if err != nil {
		return err
	}

	imp.next++

	return nil
}

func (imp *Importer) processTrunk(chunk Chunk) error {
	hdr := chunk.header
	if hdr == nil {
		return xerrors.Errorf("missing header: %w", ErrInvalidChunk)
	}

	if hdr.version != Version {
		return xerrors.Errorf("unsupported version %d: %w", hdr.version, ErrInvalidChunk)
	}

	if hdr.scheme != imp.tmpl.alg.String() {
		return xerrors.Errorf("scheme '%s' while expecting '%s': %w",
			hdr.scheme, imp.tmpl.alg, ErrInvalidChunk)
	}

	if hdr.stubs != imp.count-1 {
		return xerrors.Errorf("%d chunks while expecting %d: %w",
			hdr.stubs+1, imp.count, ErrInvalidChunk)
	}

	tree := imp.tmpl.newTree(hdr.nonce)

	if int(hdr.chunkDepth) >= tree.maxDepth {
		return xerrors.Errorf("chunk depth %d too deep: %w", hdr.chunkDepth, ErrInvalidChunk)
	}

	reader := tree.newWireReader(chunk.nodes)
	reader.stubDepth = int(hdr.chunkDepth)

	root, err := reader.readAll(0, big.NewInt(0))
	if err != nil {
		return xerrors.Errorf("malformed trunk: %v: %w", err, ErrInvalidChunk)
	}

	if !bytes.Equal(root.GetHash(), imp.root) {
		return xerrors.Errorf("root %#x while expecting %#x: %w",
			root.GetHash(), imp.root, ErrInvalidChunk)
	}

	if len(reader.stubs) != hdr.stubs {
		return xerrors.Errorf("%d stubs while expecting %d: %w",
			len(reader.stubs), hdr.stubs, ErrInvalidChunk)
	}

	err = imp.write(tree, root)
	if err != nil {
		return err
	}

	imp.tree = tree
	imp.stubs = reader.stubs

	return nil
}

func (imp *Importer) processSubtree(chunk Chunk) error {
	if chunk.header != nil {
		return xerrors.Errorf("unexpected header: %w", ErrInvalidChunk)
	}

	stub := imp.stubs[imp.next-1]

	reader := imp.tree.newWireReader(chunk.nodes)
	reader.noStubs = true

	node, err := reader.readAll(stub.depth, stub.prefix)
	if err != nil {
		return xerrors.Errorf("malformed subtree: %v: %w", err, ErrInvalidChunk)
	}

	if !bytes.Equal(node.GetHash(), stub.hash) {
		return xerrors.Errorf("subtree %#x while expecting %#x: %w",
			node.GetHash(), stub.hash, ErrInvalidChunk)
	}

	return imp.write(imp.tree, node)
}

func (imp *Importer) write(tree *Tree, node TreeNode) error {
	err := imp.db.Update(func(tx kv.WritableTx) error {
		b, err := tx.GetBucketOrCreate(imp.tmpl.bucket)
		if err != nil {
			return xerrors.Errorf("read bucket failed: %v", err)
		}

		_, err = tree.persist(node, b)
		return err
	})
	if err != nil {
		return xerrors.Errorf("failed to write nodes: %v", err)
	}

	return nil
}

func encodeChunk(chunk Chunk) ([]byte, error) {
	data, err := chunk.Serialize(json.NewContext())
	if err != nil {
		return nil, err
	}

	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func decodeChunk(data []byte) (Chunk, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return Chunk{}, xerrors.Errorf("failed to decompress: %v", err)
	}

	msg, err := ChunkFactory{}.Deserialize(json.NewContext(), raw)
	if err != nil {
		return Chunk{}, xerrors.Errorf("failed to deserialize: %v", err)
	}

	chunk, ok := msg.(Chunk)
	if !ok {
		return Chunk{}, xerrors.Errorf("invalid message of type '%T'", msg)
	}

	return chunk, nil
}
