package merkdb

import (
	"github.com/rs/zerolog"
	"go.dedis.ch/merk"
	"go.dedis.ch/merk/core/store/hashtree/binprefix"
	"go.dedis.ch/merk/crypto"
	"golang.org/x/xerrors"
)

// DefaultChunkDepth is the depth of the first chunk of an export. It produces
// up to 256 subtree chunks.
const DefaultChunkDepth uint16 = 8

// Backend is the name of a key/value database engine.
type Backend string

const (
	// BoltBackend stores the database in a single bbolt file.
	BoltBackend Backend = "bolt"

	// LevelDBBackend stores the database in a goleveldb directory.
	LevelDBBackend Backend = "leveldb"
)

// ParseBackend returns the backend matching the name. An empty name is the
// default backend.
func ParseBackend(name string) (Backend, error) {
	switch Backend(name) {
	case "", BoltBackend:
		return BoltBackend, nil
	case LevelDBBackend:
		return LevelDBBackend, nil
	default:
		return "", xerrors.Errorf("unknown backend '%s'", name)
	}
}

type options struct {
	alg        crypto.HashAlgorithm
	algSet     bool
	nonce      binprefix.Nonce
	nonceSet   bool
	random     bool
	randGen    crypto.RandGenerator
	chunkDepth uint16
	memDepth   int
	backend    Backend
	logger     zerolog.Logger
}

func newOptions(opts []Option) options {
	o := options{
		alg:        crypto.Sha256,
		chunkDepth: DefaultChunkDepth,
		memDepth:   -1,
		backend:    BoltBackend,
		logger:     merk.Logger,
		randGen:    crypto.CryptographicRandomGenerator{},
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// makeNonce returns the nonce of a new store.
func (o options) makeNonce() (binprefix.Nonce, error) {
	if !o.random || o.nonceSet {
		return o.nonce, nil
	}

	var nonce binprefix.Nonce

	_, err := o.randGen.Read(nonce[:])
	if err != nil {
		return nonce, xerrors.Errorf("failed to generate nonce: %v", err)
	}

	return nonce, nil
}

// Option is the type of option to open a store, a restorer or to verify a
// proof.
type Option func(*options)

// WithHashAlgorithm sets the digest scheme of the store. The default is
// SHA-256.
func WithHashAlgorithm(alg crypto.HashAlgorithm) Option {
	return func(o *options) {
		o.alg = alg
		o.algSet = true
	}
}

// WithNonce sets the nonce of the tree of a new store. The default is a zero
// nonce.
func WithNonce(nonce binprefix.Nonce) Option {
	return func(o *options) {
		o.nonce = nonce
		o.nonceSet = true
	}
}

// WithRandomNonce generates a random nonce when a new store is created.
func WithRandomNonce() Option {
	return func(o *options) {
		o.random = true
	}
}

// WithChunkDepth sets the depth of the first chunk of the exports.
func WithChunkDepth(depth uint16) Option {
	return func(o *options) {
		o.chunkDepth = depth
	}
}

// WithMemDepth sets the depth beyond which the nodes of the tree are only kept
// on the disk. It only applies to a new store.
func WithMemDepth(depth int) Option {
	return func(o *options) {
		o.memDepth = depth
	}
}

// WithBackend sets the engine of a new store. The engine of an existing store
// is detected from its path.
func WithBackend(backend Backend) Option {
	return func(o *options) {
		o.backend = backend
	}
}

// WithLogger sets the logger of the store.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
