package merkdb

import (
	"go.dedis.ch/merk/core/store/hashtree/binprefix"
)

// VerifyProof verifies the proof against the root and returns the value of
// each key, indexed by the string conversion of the key. A nil value proves
// that the key is absent. The hash algorithm is set with WithHashAlgorithm and
// must be the one of the store that produced the proof.
func VerifyProof(proof, root []byte, keys [][]byte, opts ...Option) (map[string][]byte, error) {
	o := newOptions(opts)

	values, err := binprefix.VerifyProof(proof, root, keys, o.alg)
	if err != nil {
		promProofs.WithLabelValues("rejected").Inc()
		return nil, err
	}

	promProofs.WithLabelValues("verified").Inc()

	return values, nil
}
