package merkdb

import (
	"bytes"
	"os"
	"sync"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/merk/core/store/hashtree/binprefix"
	"go.dedis.ch/merk/core/store/kv"
	"golang.org/x/xerrors"
)

// Restorer builds a new store out of the chunks of another one. Each chunk is
// verified against the expected root before being written, and the store is
// only published when its root matches after a reload from the disk.
//
// A restorer is finalized once, and aborted as soon as a chunk is rejected, in
// which case the partial store is deleted.
type Restorer struct {
	sync.Mutex

	path     string
	root     []byte
	opts     options
	kv       kv.DB
	importer *binprefix.Importer
	done      bool
	finalized bool
	logger   zerolog.Logger
}

// NewRestorer starts the restore of a store at the path. It expects the given
// number of chunks of a store with the given root. The path must not exist.
func NewRestorer(path string, root []byte, count int, opts ...Option) (*Restorer, error) {
	o := newOptions(opts)

	if o.alg.Size() == 0 {
		return nil, xerrors.Errorf("unknown scheme %d: %w", o.alg, ErrOpen)
	}

	if len(root) != o.alg.Size() {
		return nil, xerrors.Errorf("root of length %d while %s digests are %d bytes: %w",
			len(root), o.alg, o.alg.Size(), ErrOpen)
	}

	if count < 1 {
		return nil, xerrors.Errorf("invalid number of chunks %d: %w", count, ErrOpen)
	}

	_, err := os.Stat(path)
	if err == nil {
		return nil, xerrors.Errorf("path '%s' already exists: %w", path, ErrOpen)
	}

	kvdb, err := openBackend(path, o.backend)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrOpen)
	}

	logger := o.logger.With().
		Str("path", path).
		Str("session", xid.New().String()).
		Logger()

	r := &Restorer{
		path: path,
		root: append([]byte{}, root...),
		opts: o,
		kv:   kvdb,
		importer: binprefix.NewImporter(kvdb, root, count,
			binprefix.WithHashAlgorithm(o.alg), binprefix.WithMemDepth(o.memDepth)),
		logger: logger,
	}

	logger.Info().Hex("root", root).Int("chunks", count).Msg("restore started")

	return r, nil
}

// RemainingChunks returns the number of chunks that are still expected, or
// false when it cannot be known until the first chunk is processed. An aborted
// or failed restore has no count.
func (r *Restorer) RemainingChunks() (int, bool) {
	r.Lock()
	defer r.Unlock()

	if r.done {
		return 0, r.finalized
	}

	return r.importer.Remaining()
}

// ProcessChunk verifies and writes the next chunk. A rejected chunk aborts the
// restore.
func (r *Restorer) ProcessChunk(data []byte) error {
	r.Lock()
	defer r.Unlock()

	if r.done {
		return ErrAlreadyFinalized
	}

	err := r.importer.Process(data)
	if err != nil {
		promRestoreChunks.WithLabelValues("rejected").Inc()

		r.logger.Warn().Err(err).Msg("chunk rejected")
		r.abort()

		return xerrors.Errorf("restore aborted: %w", err)
	}

	promRestoreChunks.WithLabelValues("accepted").Inc()

	return nil
}

// Finalize checks that every chunk has been processed, and it returns the
// restored store once its root is verified. The restore can be finalized again
// after ErrRestoreIncomplete only.
func (r *Restorer) Finalize() (*DB, error) {
	r.Lock()
	defer r.Unlock()

	if r.done {
		return nil, ErrAlreadyFinalized
	}

	remaining, known := r.importer.Remaining()
	if !known {
		return nil, xerrors.Errorf("first chunk missing: %w", ErrRestoreIncomplete)
	}

	if remaining > 0 {
		return nil, xerrors.Errorf("%d chunks missing: %w", remaining, ErrRestoreIncomplete)
	}

	r.done = true

	nonce, _ := r.importer.GetNonce()

	err := writeMeta(r.kv, meta{alg: r.opts.alg, nonce: nonce, memDepth: r.opts.memDepth})
	if err == nil {
		err = r.kv.Sync()
	}

	closeErr := r.kv.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		r.remove()
		return nil, xerrors.Errorf("failed to write store: %v: %w", err, ErrIO)
	}

	db, err := open(r.path, false, r.opts)
	if err != nil {
		r.remove()
		return nil, xerrors.Errorf("failed to open restored store: %w", err)
	}

	root := db.tree.GetRoot()

	if !bytes.Equal(root, r.root) {
		db.Destroy()

		r.logger.Error().Hex("root", root).Msg("restore failed")

		return nil, xerrors.Errorf("root %#x while expecting %#x: %w", root, r.root, ErrRootHashMismatch)
	}

	r.finalized = true

	r.logger.Info().Msg("restore finalized")

	return db, nil
}

// Abort stops the restore and deletes the partial store. It does nothing once
// the restore is finalized or aborted.
func (r *Restorer) Abort() {
	r.Lock()
	defer r.Unlock()

	if r.done {
		return
	}

	r.logger.Info().Msg("restore aborted")
	r.abort()
}

func (r *Restorer) abort() {
	r.done = true

	err := r.kv.Close()
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to close")
	}

	r.remove()
}

func (r *Restorer) remove() {
	err := os.RemoveAll(r.path)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to remove")
	}
}
