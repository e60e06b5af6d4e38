// Package ldb implements the key/value database abstraction on top of
// goleveldb (https://github.com/syndtr/goleveldb).
//
// LevelDB has a single key space, so buckets are emulated by table spaces: the
// keys of a bucket are prefixed with the length and the name of the bucket,
// and a marker key records that the bucket exists.
package ldb

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.dedis.ch/merk/core/store/kv"
	"golang.org/x/xerrors"
)

const (
	markerSpace byte = 'M'
	dataSpace   byte = 'D'

	// checkpointBatchSize is the number of records written per batch when
	// copying the database.
	checkpointBatchSize = 1000
)

// reader is the common interface of a leveldb snapshot and a transaction.
type reader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

// writer is the writing side of a leveldb transaction.
type writer interface {
	Put(key, value []byte, wo *opt.WriteOptions) error
	Delete(key []byte, wo *opt.WriteOptions) error
}

// levelDB is an adapter of the KV store using goleveldb.
//
// - implements kv.DB
type levelDB struct {
	db *leveldb.DB
}

// New opens the database at the given path, or creates it.
func New(path string) (kv.DB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to open db: %v", err)
	}

	return levelDB{db: db}, nil
}

// View implements kv.DB. It executes the read-only transaction on a snapshot of
// the database.
func (ldb levelDB) View(fn func(kv.ReadableTx) error) error {
	snap, err := ldb.db.GetSnapshot()
	if err != nil {
		return xerrors.Errorf("failed to get snapshot: %v", err)
	}

	defer snap.Release()

	return fn(&levelTx{r: snap})
}

// Update implements kv.DB. It executes the writable transaction and commits it
// only if the callback succeeds.
func (ldb levelDB) Update(fn func(kv.WritableTx) error) error {
	tr, err := ldb.db.OpenTransaction()
	if err != nil {
		return xerrors.Errorf("failed to open transaction: %v", err)
	}

	tx := &levelTx{r: tr, w: tr}

	err = fn(tx)
	if err != nil {
		tr.Discard()
		return err
	}

	err = tr.Commit()
	if err != nil {
		return xerrors.Errorf("failed to commit: %v", err)
	}

	for _, cb := range tx.callbacks {
		cb()
	}

	return nil
}

// Sync implements kv.DB. Transactions write their tables when they commit, so
// the call only reports whether the database is still usable.
func (ldb levelDB) Sync() error {
	err := ldb.db.Write(new(leveldb.Batch), &opt.WriteOptions{Sync: true})
	if err != nil {
		return xerrors.Errorf("failed to sync: %v", err)
	}

	return nil
}

// Checkpoint implements kv.DB. It copies every record of a snapshot into a new
// database at the given path.
func (ldb levelDB) Checkpoint(path string) error {
	snap, err := ldb.db.GetSnapshot()
	if err != nil {
		return xerrors.Errorf("failed to get snapshot: %v", err)
	}

	defer snap.Release()

	target, err := leveldb.OpenFile(path, &opt.Options{ErrorIfExist: true})
	if err != nil {
		return xerrors.Errorf("failed to create checkpoint: %v", err)
	}

	iter := snap.NewIterator(nil, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)

	for iter.Next() {
		batch.Put(iter.Key(), iter.Value())

		if batch.Len() >= checkpointBatchSize {
			err = target.Write(batch, nil)
			if err != nil {
				target.Close()
				return xerrors.Errorf("failed to write checkpoint: %v", err)
			}

			batch.Reset()
		}
	}

	err = iter.Error()
	if err == nil {
		err = target.Write(batch, &opt.WriteOptions{Sync: true})
	}

	if err != nil {
		target.Close()
		return xerrors.Errorf("failed to write checkpoint: %v", err)
	}

	return target.Close()
}

// Close implements kv.DB. It closes the database.
func (ldb levelDB) Close() error {
	return ldb.db.Close()
}

// levelTx is a transaction over either a snapshot (read-only) or a leveldb
// transaction.
//
// - implements kv.ReadableTx
// - implements kv.WritableTx
type levelTx struct {
	r         reader
	w         writer
	callbacks []func()
}

// GetBucket implements kv.ReadableTx. It returns the bucket if its marker is
// found, otherwise nil.
func (tx *levelTx) GetBucket(name []byte) kv.Bucket {
	_, err := tx.r.Get(markerKey(name), nil)
	if err != nil {
		return nil
	}

	return levelBucket{prefix: bucketPrefix(name), r: tx.r, w: tx.w}
}

// GetBucketOrCreate implements kv.WritableTx. It writes the marker of the
// bucket if it does not exist yet.
func (tx *levelTx) GetBucketOrCreate(name []byte) (kv.Bucket, error) {
	if len(name) == 0 {
		return nil, xerrors.New("failed to create bucket: bucket name required")
	}

	if tx.w == nil {
		return nil, xerrors.New("failed to create bucket: read-only transaction")
	}

	bucket := tx.GetBucket(name)
	if bucket != nil {
		return bucket, nil
	}

	err := tx.w.Put(markerKey(name), []byte{}, nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to create bucket: %v", err)
	}

	return levelBucket{prefix: bucketPrefix(name), r: tx.r, w: tx.w}, nil
}

// OnCommit implements store.Transaction. The callbacks are executed in order
// after a successful commit.
func (tx *levelTx) OnCommit(fn func()) {
	tx.callbacks = append(tx.callbacks, fn)
}

// levelBucket is a table space of the database.
//
// - implements kv.Bucket
type levelBucket struct {
	prefix []byte
	r      reader
	w      writer
}

// Get implements kv.Bucket. It returns the value of the key, or nil if it does
// not exist.
func (b levelBucket) Get(key []byte) []byte {
	value, err := b.r.Get(b.key(key), nil)
	if err != nil {
		return nil
	}

	return value
}

// Set implements kv.Bucket. It sets the value of the key.
func (b levelBucket) Set(key, value []byte) error {
	if b.w == nil {
		return xerrors.New("read-only transaction")
	}

	return b.w.Put(b.key(key), value, nil)
}

// Delete implements kv.Bucket. It deletes the key.
func (b levelBucket) Delete(key []byte) error {
	if b.w == nil {
		return xerrors.New("read-only transaction")
	}

	return b.w.Delete(b.key(key), nil)
}

// ForEach implements kv.Bucket. It iterates over the bucket in key order.
func (b levelBucket) ForEach(fn func(k, v []byte) error) error {
	return b.iterate(nil, fn)
}

// Scan implements kv.Bucket. It iterates over the keys matching the prefix.
func (b levelBucket) Scan(prefix []byte, fn func(k, v []byte) error) error {
	err := b.iterate(prefix, fn)
	if err != nil {
		return xerrors.Errorf("callback failed: %v", err)
	}

	return nil
}

func (b levelBucket) iterate(prefix []byte, fn func(k, v []byte) error) error {
	iter := b.r.NewIterator(util.BytesPrefix(b.key(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		err := fn(iter.Key()[len(b.prefix):], iter.Value())
		if err != nil {
			return err
		}
	}

	return iter.Error()
}

func (b levelBucket) key(key []byte) []byte {
	k := make([]byte, 0, len(b.prefix)+len(key))
	k = append(k, b.prefix...)

	return append(k, key...)
}

func markerKey(name []byte) []byte {
	return append([]byte{markerSpace}, name...)
}

func bucketPrefix(name []byte) []byte {
	prefix := make([]byte, 1, 1+binary.MaxVarintLen64+len(name))
	prefix[0] = dataSpace
	prefix = binary.AppendUvarint(prefix, uint64(len(name)))

	return append(prefix, name...)
}
