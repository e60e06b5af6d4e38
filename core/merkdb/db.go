// Package merkdb implements an authenticated key/value store on top of the
// Merkle binary prefix tree.
//
// A store is accessed through a DB handle that serializes every operation with
// an exclusive lock. Writes are staged in a Batch and applied atomically. The
// committed state can be proven to a third party, or exported as a sequence of
// chunks that a Restorer verifies and turns into a new store with the same
// root.
package merkdb

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
	"go.dedis.ch/merk/core/store"
	"go.dedis.ch/merk/core/store/hashtree"
	"go.dedis.ch/merk/core/store/hashtree/binprefix"
	"go.dedis.ch/merk/core/store/kv"
	"go.dedis.ch/merk/core/store/kv/ldb"
	"go.dedis.ch/merk/serde/json"
	"golang.org/x/xerrors"
)

type state int

const (
	stateOpen state = iota
	stateClosed
	stateDestroyed
	statePoisoned
)

// DB is a handle to a store. Every operation takes the exclusive lock of the
// handle, including the reads, as the tree loads its nodes lazily.
type DB struct {
	sync.Mutex

	path       string
	backend    Backend
	state      state
	kv         kv.DB
	tree       *binprefix.MerkleTree
	meta       meta
	chunkDepth uint16
	logger     zerolog.Logger

	// generation is incremented at every commit so that an export built
	// before can be detected as stale.
	generation uint64
	export     hashtree.Export
	exportGen  uint64
}

// Open opens the store at the given path, or creates it if the path does not
// exist.
func Open(path string, opts ...Option) (*DB, error) {
	return open(path, true, newOptions(opts))
}

// Load opens the store at the given path. It fails if the path is not an
// existing store.
func Load(path string, opts ...Option) (*DB, error) {
	return open(path, false, newOptions(opts))
}

func open(path string, create bool, o options) (*DB, error) {
	if o.alg.Size() == 0 {
		return nil, xerrors.Errorf("unknown scheme %d: %w", o.alg, ErrOpen)
	}

	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.IsDir() {
			o.backend = LevelDBBackend
		} else {
			o.backend = BoltBackend
		}
	case os.IsNotExist(err) && create:
	default:
		return nil, xerrors.Errorf("%v: %w", err, ErrOpen)
	}

	kvdb, err := openBackend(path, o.backend)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrOpen)
	}

	db, err := newDB(path, kvdb, create, o)
	if err != nil {
		kvdb.Close()
		return nil, xerrors.Errorf("%v: %w", err, ErrOpen)
	}

	db.logger.Info().
		Str("backend", string(db.backend)).
		Str("scheme", db.meta.alg.String()).
		Hex("root", db.tree.GetRoot()).
		Msg("store opened")

	return db, nil
}

func newDB(path string, kvdb kv.DB, create bool, o options) (*DB, error) {
	m, found, err := readMeta(kvdb)
	if err != nil {
		return nil, err
	}

	if !found {
		if !create {
			return nil, xerrors.Errorf("'%s' is not a store", path)
		}

		nonce, err := o.makeNonce()
		if err != nil {
			return nil, err
		}

		m = meta{alg: o.alg, nonce: nonce, memDepth: o.memDepth}

		err = writeMeta(kvdb, m)
		if err != nil {
			return nil, err
		}
	}

	if o.algSet && o.alg != m.alg {
		return nil, xerrors.Errorf("scheme '%s' while store uses '%s'", o.alg, m.alg)
	}

	if o.nonceSet && o.nonce != m.nonce {
		return nil, xerrors.Errorf("nonce %#x while store uses %#x", o.nonce, m.nonce)
	}

	tree := binprefix.NewMerkleTree(kvdb, m.nonce, m.treeOptions()...)

	err = tree.Load()
	if err != nil {
		return nil, xerrors.Errorf("failed to load tree: %v", err)
	}

	db := &DB{
		path:       path,
		backend:    o.backend,
		state:      stateOpen,
		kv:         kvdb,
		tree:       tree,
		meta:       m,
		chunkDepth: o.chunkDepth,
		logger:     o.logger.With().Str("path", path).Logger(),
	}

	return db, nil
}

func openBackend(path string, backend Backend) (kv.DB, error) {
	switch backend {
	case BoltBackend:
		return kv.New(path)
	case LevelDBBackend:
		return ldb.New(path)
	default:
		return nil, xerrors.Errorf("unknown backend '%s'", backend)
	}
}

// GetPath returns the path of the store.
func (db *DB) GetPath() string {
	return db.path
}

// Get returns the value associated with the key, and false if the key does not
// exist. An empty value is returned as a non-nil empty slice.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	var value []byte

	err := db.acquire(func() error {
		var err error
		value, err = db.tree.Get(key)

		return err
	})

	if err != nil {
		return nil, false, xerrors.Errorf("couldn't read key: %w", err)
	}

	return value, value != nil, nil
}

// RootHash returns the root of the committed state. Its length is the size of
// the digests of the hash algorithm of the store.
func (db *DB) RootHash() ([]byte, error) {
	var root []byte

	err := db.acquire(func() error {
		root = db.tree.GetRoot()
		return nil
	})

	if err != nil {
		return nil, err
	}

	return root, nil
}

// Prove returns a proof of the values of the keys in the committed state. The
// proof can be verified with VerifyProof.
func (db *DB) Prove(keys ...[]byte) ([]byte, error) {
	var data []byte

	err := db.acquire(func() error {
		proof, err := db.tree.Prove(keys...)
		if err != nil {
			return err
		}

		data, err = proof.Serialize(json.NewContext())
		if err != nil {
			return xerrors.Errorf("failed to serialize proof: %v", err)
		}

		return nil
	})

	if err != nil {
		return nil, xerrors.Errorf("couldn't prove keys: %w", err)
	}

	promProofs.WithLabelValues("prove").Inc()

	return data, nil
}

// Batch returns a new batch bound to the store.
func (db *DB) Batch() (*Batch, error) {
	err := db.acquire(func() error { return nil })
	if err != nil {
		return nil, err
	}

	return newBatch(db), nil
}

// Chunks returns the producer of the chunks of the committed state. The
// producer follows the commits of the store.
func (db *DB) Chunks() (*ChunkProducer, error) {
	err := db.acquire(func() error { return nil })
	if err != nil {
		return nil, err
	}

	return &ChunkProducer{db: db}, nil
}

// Flush writes the committed state to the disk.
func (db *DB) Flush() error {
	return db.acquire(func() error {
		err := db.kv.Sync()
		if err != nil {
			return xerrors.Errorf("%v: %w", err, ErrIO)
		}

		return nil
	})
}

// Checkpoint writes a copy of the committed state to the path, which can then
// be opened as an independent store.
func (db *DB) Checkpoint(path string) error {
	return db.acquire(func() error {
		err := db.kv.Checkpoint(path)
		if err != nil {
			return xerrors.Errorf("%v: %w", err, ErrIO)
		}

		db.logger.Info().Str("checkpoint", path).Msg("checkpoint created")

		return nil
	})
}

// Close flushes and closes the store. The handle cannot be used afterwards.
func (db *DB) Close() error {
	return db.acquire(func() error {
		err := db.release()
		if err != nil {
			return err
		}

		db.state = stateClosed
		db.logger.Info().Msg("store closed")

		return nil
	})
}

// Destroy closes the store and deletes its data from the disk. The handle
// cannot be used afterwards.
func (db *DB) Destroy() error {
	return db.acquire(func() error {
		// The data is removed even if the database fails to close properly.
		closeErr := db.release()

		db.state = stateDestroyed

		err := os.RemoveAll(db.path)
		if err != nil {
			return xerrors.Errorf("failed to remove: %v: %w", err, ErrIO)
		}

		if closeErr != nil {
			return closeErr
		}

		db.logger.Info().Msg("store destroyed")

		return nil
	})
}

func (db *DB) release() error {
	db.export = nil

	syncErr := db.kv.Sync()

	err := db.kv.Close()
	if err == nil {
		err = syncErr
	}

	if err != nil {
		db.state = stateClosed
		return xerrors.Errorf("failed to close: %v: %w", err, ErrIO)
	}

	return nil
}

// commit applies the operations in a single transaction. The tree and the
// cached export are replaced only when the transaction commits.
func (db *DB) commit(keys []string, ops map[string][]byte) error {
	return db.acquire(func() error {
		return db.kv.Update(func(tx kv.WritableTx) error {
			staged, err := db.tree.WithTx(tx).Stage(func(snap store.Snapshot) error {
				for _, key := range keys {
					value := ops[key]

					var err error
					if value == nil {
						err = snap.Delete([]byte(key))
					} else {
						err = snap.Set([]byte(key), value)
					}

					if err != nil {
						return err
					}
				}

				return nil
			})
			if err != nil {
				return xerrors.Errorf("%v: %w", err, ErrApply)
			}

			err = staged.Commit()
			if err != nil {
				return xerrors.Errorf("%v: %w", err, ErrIO)
			}

			tx.OnCommit(func() {
				db.tree = staged.WithTx(nil).(*binprefix.MerkleTree)
				db.generation++
				db.export = nil
			})

			return nil
		})
	})
}

// acquire runs the function while holding the lock of a store that is open. A
// panic during the function poisons the store.
func (db *DB) acquire(fn func() error) (err error) {
	db.Lock()
	defer db.Unlock()

	switch db.state {
	case stateOpen:
	case statePoisoned:
		return ErrLockFailure
	default:
		return ErrStoreClosed
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		db.state = statePoisoned
		db.logger.Error().Interface("panic", r).Msg("store poisoned")

		err = xerrors.Errorf("panic while holding the lock: %v: %w", r, ErrLockFailure)
	}()

	return fn()
}
