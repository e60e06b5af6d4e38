package merkdb

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestChunkProducer_Len(t *testing.T) {
	db := makeDB(t, WithChunkDepth(2))

	producer, err := db.Chunks()
	require.NoError(t, err)

	// The empty tree has a single chunk.
	n, err := producer.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	commitN(t, db, 200)

	n, err = producer.Len()
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestChunkProducer_Chunk(t *testing.T) {
	db := makeDB(t, WithChunkDepth(1))

	commitN(t, db, 20)

	producer, err := db.Chunks()
	require.NoError(t, err)

	n, err := producer.Len()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	served := testutil.ToFloat64(promChunks)

	for i := 0; i < n; i++ {
		data, err := producer.Chunk(i)
		require.NoError(t, err)
		require.NotEmpty(t, data)

		// Chunks can be fetched again.
		again, err := producer.Chunk(i)
		require.NoError(t, err)
		require.Equal(t, data, again)
	}

	require.Equal(t, served+float64(2*n), testutil.ToFloat64(promChunks))

	_, err = producer.Chunk(n)
	require.True(t, xerrors.Is(err, ErrChunkIndexOutOfRange))
	require.EqualError(t, err,
		"couldn't produce chunk: index 3 not in [0, 3): chunk index out of range")

	_, err = producer.Chunk(-1)
	require.True(t, xerrors.Is(err, ErrChunkIndexOutOfRange))
}

func TestChunkProducer_Invalidation(t *testing.T) {
	db := makeDB(t, WithChunkDepth(4))

	commitN(t, db, 3)

	producer, err := db.Chunks()
	require.NoError(t, err)

	before, err := producer.Len()
	require.NoError(t, err)

	first, err := producer.Chunk(0)
	require.NoError(t, err)

	export := db.export
	require.NotNil(t, export)

	commitN(t, db, 500)

	// The commit drops the export of the previous state.
	require.Nil(t, db.export)

	after, err := producer.Len()
	require.NoError(t, err)
	require.Greater(t, after, before)
	require.Equal(t, 17, after)

	second, err := producer.Chunk(0)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	require.NotSame(t, export, db.export)

	// A stale export is also detected with the generation.
	db.export = export
	db.exportGen = db.generation - 1

	n, err := producer.Len()
	require.NoError(t, err)
	require.Equal(t, after, n)
}

func TestChunkProducer_SameContentSameChunks(t *testing.T) {
	db1 := makeDB(t)
	db2 := makeDB(t)

	commitN(t, db1, 100)

	for i := 99; i >= 0; i -= 10 {
		pairs := []string{}
		for j := i; j > i-10; j-- {
			pairs = append(pairs, keyOf(j), valueOf(j))
		}

		commit(t, db2, pairs...)
	}

	chunks1 := exportAll(t, db1)
	chunks2 := exportAll(t, db2)
	require.Equal(t, chunks1, chunks2)
}

// -----------------------------------------------------------------------------
// Utility functions

func exportAll(t *testing.T, db *DB) [][]byte {
	producer, err := db.Chunks()
	require.NoError(t, err)

	n, err := producer.Len()
	require.NoError(t, err)

	chunks := make([][]byte, n)
	for i := range chunks {
		chunks[i], err = producer.Chunk(i)
		require.NoError(t, err)
	}

	return chunks
}
