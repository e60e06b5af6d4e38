package crypto

import "crypto/rand"

// CryptographicRandomGenerator reads from the random source of the operating
// system. Stores draw their tree nonce from it.
//
// - implements crypto.RandGenerator
type CryptographicRandomGenerator struct{}

// Read implements crypto.RandGenerator. The buffer is always filled unless an
// error is returned.
func (CryptographicRandomGenerator) Read(buffer []byte) (int, error) {
	return rand.Read(buffer)
}
