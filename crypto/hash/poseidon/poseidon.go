// Package poseidon hashes arbitrary numbers of field elements, strings and
// byte slices with the iden3 Poseidon implementation.
package poseidon

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// chunkSize keeps every chunk of a byte input below the field modulus.
const chunkSize = 31

// MultiPoseidon hashes any number of inputs by hashing chunks of 16 and
// recursively hashing the chunk hashes.
func MultiPoseidon(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}
	if len(inputs) <= 16 {
		return poseidon.Hash(inputs)
	}
	hashes := make([]*big.Int, 0, (len(inputs)+15)/16)
	for i := 0; i < len(inputs); i += 16 {
		h, err := poseidon.Hash(inputs[i:min(i+16, len(inputs))])
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return MultiPoseidon(hashes...)
}

// HashBytes maps data to a field element. The length is hashed together
// with the 31-byte chunks so that inputs differing only in trailing zeros
// do not collide.
func HashBytes(data []byte) (*big.Int, error) {
	inputs := []*big.Int{big.NewInt(int64(len(data)))}
	for i := 0; i < len(data); i += chunkSize {
		inputs = append(inputs, new(big.Int).SetBytes(data[i:min(i+chunkSize, len(data))]))
	}
	return MultiPoseidon(inputs...)
}

// HashString is HashBytes over the UTF-8 bytes of s.
func HashString(s string) (*big.Int, error) {
	return HashBytes([]byte(s))
}
