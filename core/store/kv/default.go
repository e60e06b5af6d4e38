package kv

import (
	"bytes"
	"os"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// lockTimeout is the time to wait for the file lock held by another process
// before failing to open.
const lockTimeout = time.Second

// boltDB is an adapter of the KV store using bbolt. Commits are not synced to
// the disk until Sync is called.
//
// - implements kv.DB
type boltDB struct {
	bolt *bbolt.DB
}

// New opens the database at the given path, or creates it.
func New(path string) (DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: lockTimeout,
		NoSync:  true,
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to open db: %v", err)
	}

	bdb := boltDB{
		bolt: db,
	}

	return bdb, nil
}

// View implements kv.DB. It executes the read-only transaction in the context
// of the database.
func (db boltDB) View(fn func(ReadableTx) error) error {
	return db.bolt.View(func(txn *bbolt.Tx) error {
		return fn(boltTx{tx: txn})
	})
}

// Update implements kv.DB. It executes the writable transaction in the context
// of the database. The transaction is rolled back if the callback fails.
func (db boltDB) Update(fn func(WritableTx) error) error {
	return db.bolt.Update(func(txn *bbolt.Tx) error {
		return fn(boltTx{tx: txn})
	})
}

// Sync implements kv.DB. It fsyncs the database file.
func (db boltDB) Sync() error {
	err := db.bolt.Sync()
	if err != nil {
		return xerrors.Errorf("failed to sync: %v", err)
	}

	return nil
}

// Checkpoint implements kv.DB. It copies the database file from a read-only
// transaction so that the copy is consistent.
func (db boltDB) Checkpoint(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return xerrors.Errorf("checkpoint path '%s' already exists", path)
	}

	err = db.bolt.View(func(txn *bbolt.Tx) error {
		return txn.CopyFile(path, 0600)
	})
	if err != nil {
		return xerrors.Errorf("failed to copy: %v", err)
	}

	return nil
}

// Close implements kv.DB. It closes the database. Any view or update call will
// result in an error after this function is called.
func (db boltDB) Close() error {
	return db.bolt.Close()
}

// boltTx is the adapter of a bbolt transaction to the kv transactions.
//
// - implements kv.ReadableTx
// - implements kv.WritableTx
type boltTx struct {
	tx *bbolt.Tx
}

// GetBucket implements kv.ReadableTx. It returns the bucket with the given name
// or nil if it does not exist.
func (t boltTx) GetBucket(name []byte) Bucket {
	bucket := t.tx.Bucket(name)
	if bucket == nil {
		return nil
	}

	return boltBucket{bucket: bucket}
}

// GetBucketOrCreate implements kv.WritableTx. It returns the bucket with the
// given name or creates it if it does not exist.
func (t boltTx) GetBucketOrCreate(name []byte) (Bucket, error) {
	bucket, err := t.tx.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, xerrors.Errorf("failed to create bucket: %v", err)
	}

	return boltBucket{bucket: bucket}, nil
}

// OnCommit implements store.Transaction. It registers a callback that is called
// after the transaction is successfully committed.
func (t boltTx) OnCommit(fn func()) {
	t.tx.OnCommit(fn)
}

// boltBucket is the adapter of a bbolt bucket to the kv.Bucket interface.
//
// - implements kv.Bucket
type boltBucket struct {
	bucket *bbolt.Bucket
}

// Get implements kv.Bucket. It returns the value associated to the key.
func (txn boltBucket) Get(key []byte) []byte {
	return txn.bucket.Get(key)
}

// Set implements kv.Bucket. It sets the provided key to the value.
func (txn boltBucket) Set(key, value []byte) error {
	return txn.bucket.Put(key, value)
}

// Delete implements kv.Bucket. It deletes the key from the bucket.
func (txn boltBucket) Delete(key []byte) error {
	return txn.bucket.Delete(key)
}

// ForEach implements kv.Bucket. It iterates over the whole bucket.
func (txn boltBucket) ForEach(fn func(k, v []byte) error) error {
	return txn.bucket.ForEach(fn)
}

// Scan implements kv.Bucket. It iterates over the keys matching the prefix.
func (txn boltBucket) Scan(prefix []byte, fn func(k, v []byte) error) error {
	cursor := txn.bucket.Cursor()

	for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
		err := fn(k, v)
		if err != nil {
			return xerrors.Errorf("callback failed: %v", err)
		}
	}

	return nil
}
