package merkdb

import (
	"math/rand"
	"sync"
	"testing"
	"testing/quick"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/merk/core/store/kv"
	"go.dedis.ch/merk/internal/testing/fake"
	"golang.org/x/xerrors"
)

func TestBatch_PutAndDelete(t *testing.T) {
	db := makeDB(t)

	commit(t, db, "a", "1", "b", "2", "c", "3")

	batch, err := db.Batch()
	require.NoError(t, err)

	require.NoError(t, batch.Put([]byte("a"), []byte("10")))
	require.NoError(t, batch.Delete([]byte("a")))
	require.NoError(t, batch.Delete([]byte("b")))
	require.NoError(t, batch.Put([]byte("b"), []byte("20")))
	require.NoError(t, batch.Delete([]byte("c")))
	require.NoError(t, batch.Put([]byte("d"), nil))
	require.Equal(t, 4, batch.Len())

	// Nothing is visible until the commit.
	requireValue(t, db, "a", "1")

	require.NoError(t, batch.Commit())

	_, found, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, found)

	requireValue(t, db, "b", "20")

	_, found, err = db.Get([]byte("c"))
	require.NoError(t, err)
	require.False(t, found)

	requireValue(t, db, "d", "")
}

func TestBatch_PutCopiesValue(t *testing.T) {
	db := makeDB(t)

	batch, err := db.Batch()
	require.NoError(t, err)

	value := []byte("1")
	require.NoError(t, batch.Put([]byte("a"), value))
	value[0] = '2'

	require.NoError(t, batch.Commit())

	requireValue(t, db, "a", "1")
}

func TestBatch_AlreadyCommitted(t *testing.T) {
	db := makeDB(t)

	batch, err := db.Batch()
	require.NoError(t, err)
	require.NoError(t, batch.Put([]byte("a"), []byte("1")))
	require.NoError(t, batch.Commit())

	require.Equal(t, ErrBatchAlreadyCommitted, batch.Put([]byte("a"), []byte("2")))
	require.Equal(t, ErrBatchAlreadyCommitted, batch.Delete([]byte("a")))
	require.Equal(t, ErrBatchAlreadyCommitted, batch.Commit())

	requireValue(t, db, "a", "1")
}

func TestBatch_Commit_Empty(t *testing.T) {
	db := makeDB(t)

	commitN(t, db, 20)
	root := rootOf(t, db)

	batch, err := db.Batch()
	require.NoError(t, err)
	require.NoError(t, batch.Commit())

	require.Equal(t, root, rootOf(t, db))

	// Deleting an unknown key does not change the root either.
	batch, err = db.Batch()
	require.NoError(t, err)
	require.NoError(t, batch.Delete([]byte("unknown")))
	require.NoError(t, batch.Commit())

	require.Equal(t, root, rootOf(t, db))
}

func TestBatch_Commit_OrderIndependent(t *testing.T) {
	f := func(seed int64) bool {
		ops := makeOperations(seed, 50)

		db1 := makeDB(t)
		db2 := makeDB(t)

		// The first store receives the operations in order, the second one in
		// reverse order but only the last operation of each key.
		batch1, err := db1.Batch()
		require.NoError(t, err)

		final := map[string]*string{}
		for _, op := range ops {
			applyOperation(t, batch1, op)
			final[op.key] = op.value
		}

		batch2, err := db2.Batch()
		require.NoError(t, err)

		for i := len(ops) - 1; i >= 0; i-- {
			op := ops[i]
			if value, found := final[op.key]; found {
				applyOperation(t, batch2, operation{key: op.key, value: value})
				delete(final, op.key)
			}
		}

		require.NoError(t, batch1.Commit())
		require.NoError(t, batch2.Commit())

		for _, op := range ops {
			value1, found1, err := db1.Get([]byte(op.key))
			require.NoError(t, err)

			value2, found2, err := db2.Get([]byte(op.key))
			require.NoError(t, err)

			require.Equal(t, found1, found2)
			require.Equal(t, value1, value2)
		}

		return assertEqualRoots(t, db1, db2)
	}

	err := quick.Check(f, &quick.Config{MaxCount: 10})
	require.NoError(t, err)
}

func TestBatch_Commit_Metrics(t *testing.T) {
	logger, count := fake.CountLog("batch committed")

	db := makeDB(t, WithLogger(logger))

	commits := testutil.ToFloat64(promCommits)

	commitN(t, db, 3)
	commitN(t, db, 5)

	require.Equal(t, commits+2, testutil.ToFloat64(promCommits))
	require.Equal(t, 2, count())
}

func TestBatch_Commit_Rollback(t *testing.T) {
	db := makeDB(t)

	commit(t, db, "a", "1")
	root := rootOf(t, db)

	producer, err := db.Chunks()
	require.NoError(t, err)

	_, err = producer.Len()
	require.NoError(t, err)

	export := db.export

	db.kv = badUpdateDB{DB: db.kv}

	batch, err := db.Batch()
	require.NoError(t, err)
	require.NoError(t, batch.Put([]byte("a"), []byte("2")))

	err = batch.Commit()
	require.EqualError(t, err, fake.Err("couldn't commit batch"))

	require.Equal(t, root, rootOf(t, db))
	requireValue(t, db, "a", "1")
	require.Same(t, export, db.export)
	require.Equal(t, uint64(1), db.generation)
}

func TestBatch_Commit_Closed(t *testing.T) {
	db := makeDB(t)

	batch, err := db.Batch()
	require.NoError(t, err)

	require.NoError(t, db.Close())

	err = batch.Commit()
	require.True(t, xerrors.Is(err, ErrStoreClosed))

	// The batch is consumed by the attempt.
	require.Equal(t, ErrBatchAlreadyCommitted, batch.Commit())
}

func TestBatch_Commit_Concurrent(t *testing.T) {
	db := makeDB(t, WithChunkDepth(2))

	producer, err := db.Chunks()
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 40)

	for i := 0; i < 20; i++ {
		wg.Add(2)

		go func(i int) {
			defer wg.Done()

			batch, err := db.Batch()
			if err == nil {
				err = batch.Put([]byte(keyOf(i)), []byte(valueOf(i)))
			}
			if err == nil {
				err = batch.Commit()
			}

			errs <- err
		}(i)

		go func() {
			defer wg.Done()

			_, err := producer.Chunk(0)
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	for i := 0; i < 20; i++ {
		requireValue(t, db, keyOf(i), valueOf(i))
	}

	// The export follows the last commit.
	reference := makeDB(t, WithChunkDepth(2))
	commitN(t, reference, 20)

	require.Equal(t, exportAll(t, reference), exportAll(t, db))
}

// -----------------------------------------------------------------------------
// Utility functions

type operation struct {
	key   string
	value *string
}

func makeOperations(seed int64, n int) []operation {
	rnd := rand.New(rand.NewSource(seed))

	ops := make([]operation, n)
	for i := range ops {
		ops[i].key = keyOf(rnd.Intn(n / 2))

		if rnd.Intn(3) > 0 {
			value := valueOf(rnd.Int())
			ops[i].value = &value
		}
	}

	return ops
}

func applyOperation(t *testing.T, batch *Batch, op operation) {
	if op.value == nil {
		require.NoError(t, batch.Delete([]byte(op.key)))
	} else {
		require.NoError(t, batch.Put([]byte(op.key), []byte(*op.value)))
	}
}

// badUpdateDB runs the transactions but always rolls them back.
type badUpdateDB struct {
	kv.DB
}

func (db badUpdateDB) Update(fn func(kv.WritableTx) error) error {
	return db.DB.Update(func(tx kv.WritableTx) error {
		err := fn(tx)
		if err != nil {
			return err
		}

		return fake.GetError()
	})
}

func assertEqualRoots(t *testing.T, db1, db2 *DB) bool {
	return string(rootOf(t, db1)) == string(rootOf(t, db2))
}
