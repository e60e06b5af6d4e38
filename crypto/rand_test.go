package crypto

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/require"
)

func TestCryptographicRandomGenerator_Read(t *testing.T) {
	var gen RandGenerator = CryptographicRandomGenerator{}

	f := func(size uint8) bool {
		buffer := make([]byte, size)

		n, err := gen.Read(buffer)

		return err == nil && n == int(size)
	}

	require.NoError(t, quick.Check(f, nil))
}

func TestCryptographicRandomGenerator_Nonces(t *testing.T) {
	gen := CryptographicRandomGenerator{}

	var first, second [8]byte

	_, err := gen.Read(first[:])
	require.NoError(t, err)

	_, err = gen.Read(second[:])
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}
