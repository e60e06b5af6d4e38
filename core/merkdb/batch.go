package merkdb

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"
)

// Batch stages the writes to a store so that they are applied atomically. A
// batch can be committed only once.
type Batch struct {
	sync.Mutex

	db *DB

	// ops maps a key to its new value, or nil for a deletion.
	ops      map[string][]byte
	consumed bool
}

func newBatch(db *DB) *Batch {
	return &Batch{
		db:  db,
		ops: make(map[string][]byte),
	}
}

// Len returns the number of keys staged in the batch.
func (b *Batch) Len() int {
	b.Lock()
	defer b.Unlock()

	return len(b.ops)
}

// Put stages the value for the key. It replaces any operation staged for the
// same key.
func (b *Batch) Put(key, value []byte) error {
	b.Lock()
	defer b.Unlock()

	if b.consumed {
		return ErrBatchAlreadyCommitted
	}

	b.ops[string(key)] = append([]byte{}, value...)

	return nil
}

// Delete stages the removal of the key. It replaces any operation staged for
// the same key.
func (b *Batch) Delete(key []byte) error {
	b.Lock()
	defer b.Unlock()

	if b.consumed {
		return ErrBatchAlreadyCommitted
	}

	b.ops[string(key)] = nil

	return nil
}

// Commit applies the staged operations in the order of the keys. Either every
// operation is applied or none. The batch cannot be used afterwards, even when
// the commit fails.
func (b *Batch) Commit() error {
	b.Lock()
	defer b.Unlock()

	if b.consumed {
		return ErrBatchAlreadyCommitted
	}

	b.consumed = true

	keys := maps.Keys(b.ops)
	slices.Sort(keys)

	err := b.db.commit(keys, b.ops)
	if err != nil {
		return xerrors.Errorf("couldn't commit batch: %w", err)
	}

	promCommits.Inc()
	promBatchSize.Observe(float64(len(keys)))

	b.db.logger.Debug().Int("operations", len(keys)).Msg("batch committed")

	return nil
}
