package merkdb

import (
	"encoding/binary"

	"go.dedis.ch/merk/core/store/hashtree/binprefix"
	"go.dedis.ch/merk/core/store/kv"
	"go.dedis.ch/merk/crypto"
	"golang.org/x/xerrors"
)

var (
	metaBucket  = []byte("meta")
	schemeKey   = []byte("scheme")
	nonceKey    = []byte("nonce")
	memDepthKey = []byte("memdepth")
)

// meta is the description of the tree of a store. It is written once when the
// store is created.
type meta struct {
	alg      crypto.HashAlgorithm
	nonce    binprefix.Nonce
	memDepth int
}

func (m meta) treeOptions() []binprefix.TreeOption {
	return []binprefix.TreeOption{
		binprefix.WithHashAlgorithm(m.alg),
		binprefix.WithMemDepth(m.memDepth),
	}
}

// readMeta returns the description of the tree, or false if the database is
// not a store.
func readMeta(db kv.DB) (meta, bool, error) {
	var m meta
	var found bool

	err := db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(metaBucket)
		if bucket == nil {
			return nil
		}

		found = true

		alg, err := crypto.ParseHashAlgorithm(string(bucket.Get(schemeKey)))
		if err != nil {
			return err
		}

		nonce := bucket.Get(nonceKey)
		if len(nonce) != len(m.nonce) {
			return xerrors.Errorf("invalid nonce length %d", len(nonce))
		}

		depth := bucket.Get(memDepthKey)
		if len(depth) != 4 {
			return xerrors.Errorf("invalid memory depth length %d", len(depth))
		}

		m.alg = alg
		copy(m.nonce[:], nonce)
		m.memDepth = int(int32(binary.BigEndian.Uint32(depth)))

		return nil
	})

	if err != nil {
		return m, found, xerrors.Errorf("failed to read metadata: %v", err)
	}

	return m, found, nil
}

func writeMeta(db kv.DB, m meta) error {
	err := db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(metaBucket)
		if err != nil {
			return err
		}

		depth := make([]byte, 4)
		binary.BigEndian.PutUint32(depth, uint32(int32(m.memDepth)))

		err = bucket.Set(schemeKey, []byte(m.alg.String()))
		if err != nil {
			return err
		}

		err = bucket.Set(nonceKey, m.nonce[:])
		if err != nil {
			return err
		}

		return bucket.Set(memDepthKey, depth)
	})

	if err != nil {
		return xerrors.Errorf("failed to write metadata: %v", err)
	}

	return nil
}
