// Package paillier is the Paillier backend. Plaintexts live in Z_N, so sums
// never need a discrete log to decrypt.
package paillier

import (
	"crypto/rand"
	"fmt"
	"io"
	"math"
	"math/big"

	"github.com/cronokirby/saferith"
	"github.com/fxamacker/cbor/v2"
	"github.com/taurusgroup/multi-party-sig/pkg/paillier"
)

const (
	// Name identifies the scheme in keys and ciphertexts.
	Name = "paillier"
	// DefaultBits is the modulus size used when none is configured.
	DefaultBits = 2048
	// MinBits is the smallest accepted modulus length.
	MinBits = 256
)

var one = big.NewInt(1)

// Scheme implements the backend. Bits is the size of the generated modulus.
type Scheme struct {
	Bits int
}

// secretKey is the CBOR layout of a serialized private key. N is rebuilt
// from the primes.
type secretKey struct {
	P []byte `cbor:"1,keyasint"`
	Q []byte `cbor:"2,keyasint"`
}

func (Scheme) Name() string { return Name }

// MaxPlaintext is (N-1)/2 capped at the int64 range. Larger values would
// decrypt as negative numbers.
func (Scheme) MaxPlaintext(pub []byte) uint64 {
	n, err := modulus(pub)
	if err != nil {
		return 0
	}
	limit := new(big.Int).Sub(n, one)
	limit.Rsh(limit, 1)
	if limit.Cmp(big.NewInt(math.MaxInt64)) > 0 {
		return math.MaxInt64
	}
	return limit.Uint64()
}

func (s Scheme) GenerateKey(random io.Reader) (pub, sec []byte, err error) {
	bits := s.Bits
	if bits == 0 {
		bits = DefaultBits
	}
	if bits < MinBits {
		return nil, nil, fmt.Errorf("key size of %d bits below the minimum %d", bits, MinBits)
	}
	if random == nil {
		random = rand.Reader
	}
	var p, q *big.Int
	for {
		if p, err = rand.Prime(random, bits/2); err != nil {
			return nil, nil, err
		}
		if q, err = rand.Prime(random, bits/2); err != nil {
			return nil, nil, err
		}
		n := new(big.Int).Mul(p, q)
		if p.Cmp(q) != 0 && n.BitLen() >= MinBits {
			break
		}
	}
	sec, err = cbor.Marshal(&secretKey{P: p.Bytes(), Q: q.Bytes()})
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Mul(p, q).Bytes(), sec, nil
}

func (Scheme) CheckPublicKey(pub []byte) error {
	_, err := modulus(pub)
	return err
}

func (s Scheme) Encrypt(pub []byte, value uint64) ([]byte, error) {
	pk, err := publicKey(pub)
	if err != nil {
		return nil, err
	}
	if value > s.MaxPlaintext(pub) {
		return nil, fmt.Errorf("value %d above the plaintext bound", value)
	}
	m := new(saferith.Int).SetNat(new(saferith.Nat).SetUint64(value))
	ct, _ := pk.Enc(m)
	return ct.MarshalBinary()
}

// Zero returns the ciphertext 1, the neutral element of the ciphertext
// multiplication that implements addition.
func (Scheme) Zero(_ []byte) ([]byte, error) {
	return one.Bytes(), nil
}

func (Scheme) CheckCiphertext(pub []byte, data []byte) error {
	pk, err := publicKey(pub)
	if err != nil {
		return err
	}
	_, err = ciphertext(pk, data)
	return err
}

func (Scheme) Add(pub []byte, a, b []byte) ([]byte, error) {
	pk, err := publicKey(pub)
	if err != nil {
		return nil, err
	}
	x, err := ciphertext(pk, a)
	if err != nil {
		return nil, err
	}
	y, err := ciphertext(pk, b)
	if err != nil {
		return nil, err
	}
	return x.Add(pk, y).MarshalBinary()
}

// Decrypt rebuilds the key from its primes. Plaintexts that decode as
// negative or above max report ok=false.
func (Scheme) Decrypt(sec, data []byte, max uint64) (uint64, bool, error) {
	sk, err := secret(sec)
	if err != nil {
		return 0, false, err
	}
	ct, err := ciphertext(sk.PublicKey, data)
	if err != nil {
		return 0, false, err
	}
	plain, err := sk.Dec(ct)
	if err != nil {
		return 0, false, err
	}
	if plain.IsNegative() == 1 {
		return 0, false, nil
	}
	m := plain.Abs().Big()
	if !m.IsUint64() || m.Uint64() > max {
		return 0, false, nil
	}
	return m.Uint64(), true, nil
}

func nat(b []byte) *saferith.Nat {
	return new(saferith.Nat).SetBytes(b)
}

func modulus(pub []byte) (*big.Int, error) {
	n := new(big.Int).SetBytes(pub)
	if n.BitLen() < MinBits || n.Bit(0) == 0 {
		return nil, fmt.Errorf("invalid paillier modulus")
	}
	return n, nil
}

func publicKey(pub []byte) (*paillier.PublicKey, error) {
	if _, err := modulus(pub); err != nil {
		return nil, err
	}
	return paillier.NewPublicKey(saferith.ModulusFromBytes(pub)), nil
}

func secret(sec []byte) (*paillier.SecretKey, error) {
	var raw secretKey
	if err := cbor.Unmarshal(sec, &raw); err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	p, q := new(big.Int).SetBytes(raw.P), new(big.Int).SetBytes(raw.Q)
	if p.Cmp(q) == 0 || !p.ProbablyPrime(20) || !q.ProbablyPrime(20) {
		return nil, fmt.Errorf("invalid secret key primes")
	}
	if new(big.Int).Mul(p, q).BitLen() < MinBits {
		return nil, fmt.Errorf("secret key modulus below %d bits", MinBits)
	}
	return paillier.NewSecretKeyFromPrimes(nat(raw.P), nat(raw.Q)), nil
}

// ciphertext decodes data and requires 0 < c < N^2 with c coprime to N.
func ciphertext(pk *paillier.PublicKey, data []byte) (*paillier.Ciphertext, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty ciphertext")
	}
	ct := new(paillier.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if !pk.ValidateCiphertexts(ct) {
		return nil, fmt.Errorf("ciphertext out of range or not invertible")
	}
	return ct, nil
}
