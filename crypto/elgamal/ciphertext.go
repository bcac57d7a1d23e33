package elgamal

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/arbo"
	"github.com/vocdoni/davinci-ticketvote/crypto/ecc"
)

const (
	sizeCoord = 32
	sizePoint = 2 * sizeCoord
	// SizeCiphertext is the serialized size of a Ciphertext.
	SizeCiphertext = 2 * sizePoint
)

// Ciphertext is an ElGamal pair. The zero value is not usable, create it
// with NewCiphertext.
type Ciphertext struct {
	C1 ecc.Point
	C2 ecc.Point
}

// NewCiphertext returns (O, O), the encryption of zero with k = 0 and the
// additive identity.
func NewCiphertext(curve ecc.Point) *Ciphertext {
	return &Ciphertext{C1: curve.New(), C2: curve.New()}
}

// Encrypt sets z to the encryption of msg and returns the k used.
func (z *Ciphertext) Encrypt(msg *big.Int, publicKey ecc.Point) (*big.Int, error) {
	k, err := RandK(publicKey)
	if err != nil {
		return nil, err
	}
	z.C1, z.C2 = EncryptWithK(publicKey, msg, k)
	return k, nil
}

// Add sets z = x + y component-wise and returns z.
func (z *Ciphertext) Add(x, y *Ciphertext) *Ciphertext {
	c1, c2 := x.C1.New(), x.C2.New()
	c1.Add(x.C1, y.C1)
	c2.Add(x.C2, y.C2)
	z.C1, z.C2 = c1, c2
	return z
}

// Equal reports whether both ciphertexts have the same points.
func (z *Ciphertext) Equal(other *Ciphertext) bool {
	return z.C1.Equal(other.C1) && z.C2.Equal(other.C2)
}

// Serialize returns C1.X, C1.Y, C2.X, C2.Y as 32-byte little-endian values.
func (z *Ciphertext) Serialize() []byte {
	out := make([]byte, 0, SizeCiphertext)
	for _, p := range []ecc.Point{z.C1, z.C2} {
		x, y := p.Point()
		out = append(out, arbo.BigIntToBytes(sizeCoord, x)...)
		out = append(out, arbo.BigIntToBytes(sizeCoord, y)...)
	}
	return out
}

// Deserialize parses the Serialize encoding. Both points must be in the
// prime order subgroup of curve.
func (z *Ciphertext) Deserialize(curve ecc.Point, data []byte) error {
	if len(data) != SizeCiphertext {
		return fmt.Errorf("invalid ciphertext length: got %d bytes, expected %d", len(data), SizeCiphertext)
	}
	points := make([]ecc.Point, 2)
	for i := range points {
		off := i * sizePoint
		x := arbo.BytesToBigInt(data[off : off+sizeCoord])
		y := arbo.BytesToBigInt(data[off+sizeCoord : off+sizePoint])
		p := curve.New()
		if err := p.SetPoint(x, y); err != nil {
			return fmt.Errorf("invalid C%d: %w", i+1, err)
		}
		points[i] = p
	}
	z.C1, z.C2 = points[0], points[1]
	return nil
}

func (z *Ciphertext) String() string {
	return fmt.Sprintf("{C1: %s, C2: %s}", z.C1, z.C2)
}
