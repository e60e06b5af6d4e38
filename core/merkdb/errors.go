package merkdb

import (
	"go.dedis.ch/merk/core/store/hashtree/binprefix"
	"golang.org/x/xerrors"
)

var (
	// ErrOpen is returned when the path cannot be opened as a store.
	ErrOpen = xerrors.New("cannot open store")

	// ErrStoreClosed is returned by any operation on a closed or destroyed
	// store.
	ErrStoreClosed = xerrors.New("store is closed")

	// ErrLockFailure is returned when the store has been poisoned by a panic
	// that happened while the lock was held. The store is not usable anymore.
	ErrLockFailure = xerrors.New("store lock is poisoned")

	// ErrBatchAlreadyCommitted is returned when a batch is used after a commit,
	// successful or not.
	ErrBatchAlreadyCommitted = xerrors.New("batch already committed")

	// ErrApply is returned when the tree rejects the operations of a batch.
	ErrApply = xerrors.New("batch rejected")

	// ErrIO is returned when a durability operation fails.
	ErrIO = xerrors.New("i/o failure")

	// ErrChunkIndexOutOfRange is returned when a chunk does not exist in the
	// current snapshot.
	ErrChunkIndexOutOfRange = xerrors.New("chunk index out of range")

	// ErrInvalidChunk is returned when a chunk fails the structural or the hash
	// verification of a restore.
	ErrInvalidChunk = binprefix.ErrInvalidChunk

	// ErrAlreadyFinalized is returned by a restorer that is finalized or
	// aborted.
	ErrAlreadyFinalized = xerrors.New("restore already finalized")

	// ErrRestoreIncomplete is returned when a restore is finalized while chunks
	// are missing.
	ErrRestoreIncomplete = xerrors.New("restore is incomplete")

	// ErrRootHashMismatch is returned when a restored store does not have the
	// expected root.
	ErrRootHashMismatch = xerrors.New("root hash mismatch")

	// ErrProofHashMismatch is returned when a proof does not hash to the
	// expected root.
	ErrProofHashMismatch = binprefix.ErrProofMismatch

	// ErrProofIncomplete is returned when a proof does not cover a queried key.
	ErrProofIncomplete = binprefix.ErrProofIncomplete

	// ErrInvalidProofFormat is returned when a proof cannot be decoded, or when
	// it does not match the digest scheme.
	ErrInvalidProofFormat = binprefix.ErrMalformedProof
)
