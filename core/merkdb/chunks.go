package merkdb

import (
	"go.dedis.ch/merk/core/store/hashtree"
	"golang.org/x/xerrors"
)

// ChunkProducer splits the committed state of a store into chunks. The first
// chunk holds the top of the tree and every other chunk one of its subtrees.
//
// The export of the tree is built on the first use and kept until a batch is
// committed, after which it is built again for the new state.
type ChunkProducer struct {
	db *DB
}

// Len returns the number of chunks of the committed state.
func (p *ChunkProducer) Len() (int, error) {
	var n int

	err := p.db.acquire(func() error {
		exp, err := p.db.currentExport()
		if err != nil {
			return err
		}

		n = exp.Len()

		return nil
	})

	if err != nil {
		return 0, xerrors.Errorf("couldn't count chunks: %w", err)
	}

	return n, nil
}

// Chunk returns the chunk at the index of the committed state.
func (p *ChunkProducer) Chunk(index int) ([]byte, error) {
	var data []byte

	err := p.db.acquire(func() error {
		exp, err := p.db.currentExport()
		if err != nil {
			return err
		}

		if index < 0 || index >= exp.Len() {
			return xerrors.Errorf("index %d not in [0, %d): %w",
				index, exp.Len(), ErrChunkIndexOutOfRange)
		}

		data, err = exp.Chunk(index)
		return err
	})

	if err != nil {
		return nil, xerrors.Errorf("couldn't produce chunk: %w", err)
	}

	promChunks.Inc()

	return data, nil
}

// currentExport returns the export of the committed state. The caller must
// hold the lock.
func (db *DB) currentExport() (hashtree.Export, error) {
	if db.export != nil && db.exportGen == db.generation {
		return db.export, nil
	}

	exp, err := db.tree.Export(db.chunkDepth)
	if err != nil {
		return nil, err
	}

	db.export = exp
	db.exportGen = db.generation

	db.logger.Debug().
		Int("chunks", exp.Len()).
		Uint64("generation", db.generation).
		Msg("export built")

	return exp, nil
}
