package merkdb

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/merk/core/store/hashtree/binprefix"
	"go.dedis.ch/merk/core/store/kv"
	"go.dedis.ch/merk/crypto"
	"go.dedis.ch/merk/internal/testing/fake"
	"golang.org/x/xerrors"
)

func TestDB_Open(t *testing.T) {
	logger, check := fake.CheckLog("store opened")

	path := filepath.Join(t.TempDir(), "db")

	db, err := Open(path, WithLogger(logger))
	require.NoError(t, err)
	require.Equal(t, path, db.GetPath())
	require.Equal(t, BoltBackend, db.backend)
	require.Equal(t, crypto.Sha256, db.meta.alg)
	require.Equal(t, binprefix.Nonce{}, db.meta.nonce)
	require.Equal(t, -1, db.meta.memDepth)
	check(t)

	root, err := db.RootHash()
	require.NoError(t, err)
	require.Len(t, root, 32)

	require.NoError(t, db.Close())

	// The metadata of the store prevails over the options.
	db, err = Open(path, WithMemDepth(4), WithBackend(LevelDBBackend))
	require.NoError(t, err)
	require.Equal(t, BoltBackend, db.backend)
	require.Equal(t, -1, db.meta.memDepth)
	require.NoError(t, db.Close())

	_, err = Open(path, WithHashAlgorithm(crypto.Blake3))
	require.True(t, xerrors.Is(err, ErrOpen))
	require.EqualError(t, err, "scheme 'blake3' while store uses 'sha256': cannot open store")

	_, err = Open(path, WithNonce(binprefix.Nonce{1}))
	require.True(t, xerrors.Is(err, ErrOpen))

	_, err = Open(filepath.Join(t.TempDir(), "unknown", "db"))
	require.True(t, xerrors.Is(err, ErrOpen))

	_, err = Open(filepath.Join(t.TempDir(), "db"), WithBackend("unknown"))
	require.EqualError(t, err, "unknown backend 'unknown': cannot open store")

	path = filepath.Join(t.TempDir(), "db")

	_, err = Open(path, WithHashAlgorithm(crypto.HashAlgorithm(42)))
	require.EqualError(t, err, "unknown scheme 42: cannot open store")

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestDB_Open_LevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	db, err := Open(path, WithBackend(LevelDBBackend), WithHashAlgorithm(crypto.Blake2b160))
	require.NoError(t, err)

	commit(t, db, "a", "1", "b", "2")
	root := rootOf(t, db)
	require.Len(t, root, 20)

	require.NoError(t, db.Close())

	db, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, LevelDBBackend, db.backend)
	require.Equal(t, crypto.Blake2b160, db.meta.alg)
	require.Equal(t, root, rootOf(t, db))
	requireValue(t, db, "b", "2")

	require.NoError(t, db.Close())
}

func TestDB_Open_RandomNonce(t *testing.T) {
	db1 := makeDB(t, WithRandomNonce())
	db2 := makeDB(t, WithRandomNonce())
	require.NotEqual(t, db1.meta.nonce, db2.meta.nonce)

	commit(t, db1, "a", "1")
	commit(t, db2, "a", "1")
	require.NotEqual(t, rootOf(t, db1), rootOf(t, db2))

	db3 := makeDB(t, WithRandomNonce(), WithNonce(binprefix.Nonce{2}))
	require.Equal(t, binprefix.Nonce{2}, db3.meta.nonce)
}

func TestDB_Load(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "db"))
	require.True(t, xerrors.Is(err, ErrOpen))

	path := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0600))

	_, err = Load(path)
	require.True(t, xerrors.Is(err, ErrOpen))

	// A database without metadata is not a store.
	path = filepath.Join(dir, "bolt")
	kvdb, err := kv.New(path)
	require.NoError(t, err)
	require.NoError(t, kvdb.Close())

	_, err = Load(path)
	require.EqualError(t, err, "'"+path+"' is not a store: cannot open store")

	path = filepath.Join(dir, "store")
	db, err := Open(path, WithNonce(binprefix.Nonce{1}), WithMemDepth(3))
	require.NoError(t, err)

	commitN(t, db, 100)
	root := rootOf(t, db)
	require.NoError(t, db.Close())

	db, err = Load(path, WithNonce(binprefix.Nonce{1}))
	require.NoError(t, err)
	require.Equal(t, 3, db.meta.memDepth)
	require.Equal(t, root, rootOf(t, db))
	require.NoError(t, db.Close())
}

func TestDB_Load_CorruptedMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	kvdb, err := kv.New(path)
	require.NoError(t, err)

	err = kvdb.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(metaBucket)
		require.NoError(t, err)

		return bucket.Set(schemeKey, []byte("md5"))
	})
	require.NoError(t, err)
	require.NoError(t, kvdb.Close())

	_, err = Load(path)
	require.EqualError(t, err,
		"failed to read metadata: unknown hash algorithm 'md5': cannot open store")
}

func TestDB_Get(t *testing.T) {
	db := makeDB(t)

	commit(t, db, "a", "1", "empty", "")

	requireValue(t, db, "a", "1")

	value, found, err := db.Get([]byte("empty"))
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, value)
	require.Empty(t, value)

	value, found, err = db.Get([]byte("unknown"))
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, value)
}

func TestDB_Prove(t *testing.T) {
	db := makeDB(t)

	commit(t, db, "a", "1", "b", "2")

	proof, err := db.Prove([]byte("a"), []byte("b"), []byte("c"))
	require.NoError(t, err)

	values, err := VerifyProof(proof, rootOf(t, db), keysOf("a", "b", "c"))
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": nil}, values)

	// A staged batch is not visible in the proofs.
	batch, err := db.Batch()
	require.NoError(t, err)
	require.NoError(t, batch.Put([]byte("a"), []byte("2")))

	proof, err = db.Prove([]byte("a"))
	require.NoError(t, err)

	values, err = VerifyProof(proof, rootOf(t, db), keysOf("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), values["a"])
}

func TestDB_FlushAndCheckpoint(t *testing.T) {
	db := makeDB(t)

	commitN(t, db, 50)

	require.NoError(t, db.Flush())

	path := filepath.Join(t.TempDir(), "checkpoint")
	require.NoError(t, db.Checkpoint(path))

	err := db.Checkpoint(path)
	require.True(t, xerrors.Is(err, ErrIO))

	copied, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, rootOf(t, db), rootOf(t, copied))
	requireValue(t, copied, "key7", "value7")

	// The copy is independent.
	commit(t, db, "key7", "updated")
	requireValue(t, copied, "key7", "value7")

	require.NoError(t, copied.Close())
}

func TestDB_Close(t *testing.T) {
	logger, check := fake.CheckLog("store closed")

	db, err := Open(filepath.Join(t.TempDir(), "db"), WithLogger(logger))
	require.NoError(t, err)

	batch, err := db.Batch()
	require.NoError(t, err)
	require.NoError(t, batch.Put([]byte("a"), []byte("1")))

	producer, err := db.Chunks()
	require.NoError(t, err)

	require.NoError(t, db.Close())
	check(t)

	requireClosed(t, db)

	err = batch.Commit()
	require.True(t, xerrors.Is(err, ErrStoreClosed))

	_, err = producer.Len()
	require.True(t, xerrors.Is(err, ErrStoreClosed))

	// The data is kept.
	db, err = Load(db.GetPath())
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestDB_Destroy(t *testing.T) {
	for _, backend := range []Backend{BoltBackend, LevelDBBackend} {
		t.Run(string(backend), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "db")

			db, err := Open(path, WithBackend(backend))
			require.NoError(t, err)

			commit(t, db, "a", "1")

			require.NoError(t, db.Destroy())
			requireClosed(t, db)

			_, err = os.Stat(path)
			require.True(t, os.IsNotExist(err))

			_, err = Load(path)
			require.True(t, xerrors.Is(err, ErrOpen))
		})
	}
}

func TestDB_Poisoned(t *testing.T) {
	logger, check := fake.CheckLog("store poisoned")

	db, err := Open(filepath.Join(t.TempDir(), "db"), WithLogger(logger))
	require.NoError(t, err)

	err = db.acquire(func() error {
		panic("oops")
	})
	require.EqualError(t, err, "panic while holding the lock: oops: store lock is poisoned")
	check(t)

	_, _, err = db.Get([]byte("a"))
	require.True(t, xerrors.Is(err, ErrLockFailure))

	_, err = db.RootHash()
	require.Equal(t, ErrLockFailure, err)

	_, err = db.Batch()
	require.Equal(t, ErrLockFailure, err)

	require.Equal(t, ErrLockFailure, db.Close())

	// The lock is released so that the store can be closed.
	require.NoError(t, db.kv.Close())
}

func TestDB_Meta(t *testing.T) {
	kvdb, err := kv.New(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)

	defer kvdb.Close()

	_, found, err := readMeta(kvdb)
	require.NoError(t, err)
	require.False(t, found)

	m := meta{alg: crypto.Blake2b160, nonce: binprefix.Nonce{1, 2}, memDepth: 12}
	require.NoError(t, writeMeta(kvdb, m))

	read, found, err := readMeta(kvdb)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, m, read)

	m.memDepth = -1
	require.NoError(t, writeMeta(kvdb, m))

	read, _, err = readMeta(kvdb)
	require.NoError(t, err)
	require.Equal(t, -1, read.memDepth)

	err = kvdb.Update(func(tx kv.WritableTx) error {
		return tx.GetBucket(metaBucket).Set(nonceKey, []byte{1})
	})
	require.NoError(t, err)

	_, _, err = readMeta(kvdb)
	require.EqualError(t, err, "failed to read metadata: invalid nonce length 1")

	err = kvdb.Update(func(tx kv.WritableTx) error {
		bucket := tx.GetBucket(metaBucket)
		require.NoError(t, bucket.Set(nonceKey, make([]byte, 8)))

		return bucket.Delete(memDepthKey)
	})
	require.NoError(t, err)

	_, _, err = readMeta(kvdb)
	require.EqualError(t, err, "failed to read metadata: invalid memory depth length 0")
}

func TestParseBackend(t *testing.T) {
	backend, err := ParseBackend("")
	require.NoError(t, err)
	require.Equal(t, BoltBackend, backend)

	backend, err = ParseBackend("leveldb")
	require.NoError(t, err)
	require.Equal(t, LevelDBBackend, backend)

	_, err = ParseBackend("rocksdb")
	require.EqualError(t, err, "unknown backend 'rocksdb'")
}

func TestOptions_MakeNonce(t *testing.T) {
	o := newOptions(nil)
	o.randGen = badRand{}

	// The random source is only used when asked for.
	nonce, err := o.makeNonce()
	require.NoError(t, err)
	require.Equal(t, binprefix.Nonce{}, nonce)

	o.random = true

	_, err = o.makeNonce()
	require.EqualError(t, err, fake.Err("failed to generate nonce"))
}

// -----------------------------------------------------------------------------
// Utility functions

func makeDB(t *testing.T, opts ...Option) *DB {
	db, err := Open(filepath.Join(t.TempDir(), "db"), opts...)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

// commit applies the pairs of key and value in a single batch.
func commit(t *testing.T, db *DB, pairs ...string) {
	batch, err := db.Batch()
	require.NoError(t, err)

	for i := 0; i+1 < len(pairs); i += 2 {
		require.NoError(t, batch.Put([]byte(pairs[i]), []byte(pairs[i+1])))
	}

	require.NoError(t, batch.Commit())
}

// commitN inserts the keys "key<i>" with the values "value<i>".
func commitN(t *testing.T, db *DB, n int) {
	pairs := make([]string, 0, 2*n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, keyOf(i), valueOf(i))
	}

	commit(t, db, pairs...)
}

func rootOf(t *testing.T, db *DB) []byte {
	root, err := db.RootHash()
	require.NoError(t, err)

	return root
}

func requireValue(t *testing.T, db *DB, key, expected string) {
	value, found, err := db.Get([]byte(key))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, expected, string(value))
}

func requireClosed(t *testing.T, db *DB) {
	_, _, err := db.Get([]byte("a"))
	require.True(t, xerrors.Is(err, ErrStoreClosed))

	_, err = db.RootHash()
	require.Equal(t, ErrStoreClosed, err)

	_, err = db.Batch()
	require.Equal(t, ErrStoreClosed, err)

	_, err = db.Chunks()
	require.Equal(t, ErrStoreClosed, err)

	_, err = db.Prove([]byte("a"))
	require.True(t, xerrors.Is(err, ErrStoreClosed))

	require.Equal(t, ErrStoreClosed, db.Flush())
	require.Equal(t, ErrStoreClosed, db.Checkpoint(filepath.Join(os.TempDir(), "never")))
	require.Equal(t, ErrStoreClosed, db.Close())
	require.Equal(t, ErrStoreClosed, db.Destroy())
}

func keysOf(keys ...string) [][]byte {
	res := make([][]byte, len(keys))
	for i, key := range keys {
		res[i] = []byte(key)
	}

	return res
}

func keyOf(i int) string {
	return "key" + strconv.Itoa(i)
}

func valueOf(i int) string {
	return "value" + strconv.Itoa(i)
}

type badRand struct{}

func (badRand) Read([]byte) (int, error) {
	return 0, fake.GetError()
}
