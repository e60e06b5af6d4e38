package binprefix

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/merk/core/store"
	"go.dedis.ch/merk/crypto"
	"go.dedis.ch/merk/internal/testing/fake"
	"go.dedis.ch/merk/serde/json"
	"golang.org/x/xerrors"
)

func TestVerifyProof_Values(t *testing.T) {
	tree := makeTree(t, 100, WithMemDepth(2))

	next, err := tree.Stage(func(snap store.Snapshot) error {
		return snap.Set([]byte("empty"), []byte{})
	})
	require.NoError(t, err)
	require.NoError(t, next.Commit())

	tree = next.(*MerkleTree)

	keys := [][]byte{[]byte("key1"), []byte("key99"), []byte("empty"), []byte("unknown")}

	values := proveAndVerify(t, tree, keys...)
	require.Len(t, values, 4)
	require.Equal(t, []byte("value1"), values["key1"])
	require.Equal(t, []byte("value99"), values["key99"])
	require.NotNil(t, values["empty"])
	require.Empty(t, values["empty"])
	require.Nil(t, values["unknown"])
}

func TestVerifyProof_NoKeys(t *testing.T) {
	tree := makeTree(t, 10)

	values := proveAndVerify(t, tree)
	require.Empty(t, values)
}

func TestVerifyProof_EmptyTree(t *testing.T) {
	tree := makeTree(t, 0, WithHashAlgorithm(crypto.Blake2b160))

	values := proveAndVerify(t, tree, []byte("A"))
	require.Contains(t, values, "A")
	require.Nil(t, values["A"])
}

func TestVerifyProof_Mismatch(t *testing.T) {
	tree := makeTree(t, 10)
	other := makeTree(t, 11)

	data := makeProof(t, tree, []byte("key1"))

	_, err := VerifyProof(data, other.GetRoot(), [][]byte{[]byte("key1")}, crypto.Sha256)
	require.True(t, xerrors.Is(err, ErrProofMismatch))

	proof := decodeProof(t, data)
	for i, node := range proof.nodes {
		if node.Type == leafNodeType {
			proof.nodes[i].Value = []byte("tampered")
		}
	}

	data, err = proof.Serialize(json.NewContext())
	require.NoError(t, err)

	_, err = VerifyProof(data, tree.GetRoot(), [][]byte{[]byte("key1")}, crypto.Sha256)
	require.True(t, xerrors.Is(err, ErrProofMismatch))
}

func TestVerifyProof_Incomplete(t *testing.T) {
	tree := makeTree(t, 2)

	// With two keys, the leaf of one is a stub in the proof of the other.
	data := makeProof(t, tree, []byte("key0"))

	values, err := VerifyProof(data, tree.GetRoot(), [][]byte{[]byte("key0")}, crypto.Sha256)
	require.NoError(t, err)
	require.Equal(t, []byte("value0"), values["key0"])

	_, err = VerifyProof(data, tree.GetRoot(), [][]byte{[]byte("key1")}, crypto.Sha256)
	require.True(t, xerrors.Is(err, ErrProofIncomplete))
	require.EqualError(t, err, "key 0x6b657931: proof is incomplete")
}

func TestVerifyProof_Malformed(t *testing.T) {
	tree := makeTree(t, 10)
	data := makeProof(t, tree, []byte("key1"))
	keys := [][]byte{[]byte("key1")}

	_, err := VerifyProof(data, tree.GetRoot(), keys, crypto.HashAlgorithm(99))
	require.EqualError(t, err, "unknown hash algorithm 99: malformed proof")

	_, err = VerifyProof(data, tree.GetRoot()[:20], keys, crypto.Sha256)
	require.EqualError(t, err, "root of length 20 while sha256 digests are 32 bytes: malformed proof")

	_, err = VerifyProof([]byte("garbage"), tree.GetRoot(), keys, crypto.Sha256)
	require.True(t, xerrors.Is(err, ErrMalformedProof))

	_, err = VerifyProof(data, tree.GetRoot(), keys, crypto.Blake3)
	require.EqualError(t, err, "scheme 'sha256' while expecting 'blake3': malformed proof")

	proof := decodeProof(t, data)
	proof.version = 3

	_, err = VerifyProof(encodeProof(t, proof), tree.GetRoot(), keys, crypto.Sha256)
	require.EqualError(t, err, "unsupported version 3: malformed proof")

	proof = decodeProof(t, data)
	proof.nodes = proof.nodes[:len(proof.nodes)-1]

	_, err = VerifyProof(encodeProof(t, proof), tree.GetRoot(), keys, crypto.Sha256)
	require.EqualError(t, err, "missing nodes: malformed proof")
}

func TestProof_Serialize(t *testing.T) {
	proof := Proof{version: Version, scheme: "sha256", nonce: Nonce{1}}

	data, err := proof.Serialize(json.NewContext())
	require.NoError(t, err)
	require.Equal(t, `{"Version":1,"Scheme":"sha256","Nonce":"AQAAAAAAAAA=","Nodes":null}`, string(data))

	_, err = proof.Serialize(fake.NewContextWithFormat(fake.BadFormat))
	require.EqualError(t, err, fake.Err("failed to encode proof"))
}

func TestProofFactory_Deserialize(t *testing.T) {
	msg, err := ProofFactory{}.Deserialize(json.NewContext(),
		[]byte(`{"Version":1,"Scheme":"sha256","Nonce":"AQAAAAAAAAA="}`))
	require.NoError(t, err)
	require.Equal(t, Proof{version: 1, scheme: "sha256", nonce: Nonce{1}}, msg)

	_, err = ProofFactory{}.Deserialize(json.NewContext(), []byte(`{"Nonce":"AQ=="}`))
	require.EqualError(t, err, "format failed: invalid nonce length 1")

	_, err = ProofFactory{}.Deserialize(fake.NewContextWithFormat(fake.BadFormat), nil)
	require.EqualError(t, err, fake.Err("format failed"))
}

// -----------------------------------------------------------------------------
// Utility functions

func makeProof(t *testing.T, tree *MerkleTree, keys ...[]byte) []byte {
	proof, err := tree.Prove(keys...)
	require.NoError(t, err)

	data, err := proof.Serialize(json.NewContext())
	require.NoError(t, err)

	return data
}

func decodeProof(t *testing.T, data []byte) Proof {
	msg, err := ProofFactory{}.Deserialize(json.NewContext(), data)
	require.NoError(t, err)

	return msg.(Proof)
}

func encodeProof(t *testing.T, proof Proof) []byte {
	data, err := proof.Serialize(json.NewContext())
	require.NoError(t, err)

	return data
}
