// Package crypto holds field helpers shared by the hashing, signature and
// credential packages.
package crypto

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
)

// FieldElementSize is the size in bytes of a serialized BN254 scalar.
const FieldElementSize = 32

// SNARKField returns the BN254 scalar field modulus, the field Poseidon and
// the groth16 circuits work in.
func SNARKField() *big.Int {
	return ecc.BN254.ScalarField()
}

// BigToFF reduces iv into the given field. Values already inside the field
// are returned as is.
func BigToFF(field, iv *big.Int) *big.Int {
	if iv.Sign() >= 0 && iv.Cmp(field) < 0 {
		return iv
	}
	return new(big.Int).Mod(iv, field)
}

// PadTo32 left pads b with zeros to FieldElementSize bytes, truncating the
// leading bytes if it is longer.
func PadTo32(b []byte) []byte {
	if len(b) >= FieldElementSize {
		return b[len(b)-FieldElementSize:]
	}
	out := make([]byte, FieldElementSize)
	copy(out[FieldElementSize-len(b):], b)
	return out
}
