// Package elgamal implements exponential ElGamal on top of ecc.Point. A
// message m is encoded as m*G, which makes ciphertexts additively
// homomorphic and limits decryption to small messages.
package elgamal

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/davinci-ticketvote/crypto/ecc"
)

// ErrNotFound is returned when a message has no discrete log within the
// decryption bound.
var ErrNotFound = errors.New("discrete log not found")

// RandK returns a random non-zero scalar of the curve order.
func RandK(curve ecc.Point) (*big.Int, error) {
	order := curve.Order()
	for {
		k, err := rand.Int(rand.Reader, order)
		if err != nil {
			return nil, fmt.Errorf("failed to generate random k: %w", err)
		}
		if k.Sign() != 0 {
			return k, nil
		}
	}
}

// GenerateKey creates a key pair on the curve of the given point.
func GenerateKey(curve ecc.Point) (publicKey ecc.Point, privateKey *big.Int, err error) {
	d, err := RandK(curve)
	if err != nil {
		return nil, nil, err
	}
	publicKey = curve.New()
	publicKey.ScalarBaseMult(d)
	return publicKey, d, nil
}

// EncryptWithK returns C1 = k*G and C2 = m*G + k*P.
func EncryptWithK(publicKey ecc.Point, msg, k *big.Int) (c1, c2 ecc.Point) {
	c1 = publicKey.New()
	c1.ScalarBaseMult(k)
	s := publicKey.New()
	s.ScalarMult(publicKey, k)
	m := publicKey.New()
	m.ScalarBaseMult(msg)
	c2 = publicKey.New()
	c2.Add(m, s)
	return c1, c2
}

// Encrypt encrypts msg with fresh randomness.
func Encrypt(publicKey ecc.Point, msg *big.Int) (c1, c2 ecc.Point, err error) {
	k, err := RandK(publicKey)
	if err != nil {
		return nil, nil, err
	}
	c1, c2 = EncryptWithK(publicKey, msg, k)
	return c1, c2, nil
}

// Decrypt computes M = C2 - d*C1 and solves M = m*G for m in [0, maxMessage].
func Decrypt(privateKey *big.Int, c1, c2 ecc.Point, maxMessage uint64) (uint64, error) {
	if privateKey == nil || privateKey.Sign() <= 0 {
		return 0, fmt.Errorf("empty or negative private key")
	}
	shared := c1.New()
	shared.ScalarMult(c1, privateKey)
	shared.Neg(shared)
	m := c2.New()
	m.Add(c2, shared)

	g := c2.New()
	g.SetGenerator()
	return BabyStepGiantStep(m, g, maxMessage)
}

// BabyStepGiantStep returns x in [0, max] such that beta = x*alpha.
func BabyStepGiantStep(beta, alpha ecc.Point, max uint64) (uint64, error) {
	if beta.IsZero() {
		return 0, nil
	}
	// steps = ceil(sqrt(max + 1)), so steps*steps covers [0, max]
	bound := new(big.Int).SetUint64(max)
	bound.Add(bound, big.NewInt(1))
	sq := new(big.Int).Sqrt(bound)
	if new(big.Int).Mul(sq, sq).Cmp(bound) < 0 {
		sq.Add(sq, big.NewInt(1))
	}
	steps := sq.Uint64()

	table := make(map[string]uint64, steps)
	baby := alpha.New()
	for j := range steps {
		table[string(baby.Marshal())] = j
		baby.Add(baby, alpha)
	}

	stride := alpha.New()
	stride.ScalarMult(alpha, sq)
	stride.Neg(stride)

	giant := beta.New()
	giant.Set(beta)
	for i := range steps {
		if j, ok := table[string(giant.Marshal())]; ok {
			if x := i*steps + j; x <= max {
				return x, nil
			}
			break
		}
		giant.Add(giant, stride)
	}
	return 0, fmt.Errorf("%w in [0, %d]", ErrNotFound, max)
}
