// Package elgamalbjj is the exponential ElGamal backend over BabyJubJub.
// Keys and ciphertexts are handled as their serialized bytes.
package elgamalbjj

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/vocdoni/davinci-ticketvote/crypto"
	"github.com/vocdoni/davinci-ticketvote/crypto/ecc"
	"github.com/vocdoni/davinci-ticketvote/crypto/ecc/bjj"
	"github.com/vocdoni/davinci-ticketvote/crypto/elgamal"
)

const (
	// Name identifies the scheme in keys and ciphertexts.
	Name = "elgamal-bjj"
	// MaxPlaintext bounds every encrypted value and every decrypted sum, so
	// the baby step table stays at 2^16 entries.
	MaxPlaintext = 1<<32 - 1
)

// Scheme implements the backend. It holds no state.
type Scheme struct{}

func (Scheme) Name() string { return Name }

func (Scheme) MaxPlaintext(_ []byte) uint64 { return MaxPlaintext }

// GenerateKey returns a compressed public point and a 32-byte big-endian
// secret scalar. The randomness source is crypto/rand.
func (Scheme) GenerateKey(_ io.Reader) (pub, sec []byte, err error) {
	pk, d, err := elgamal.GenerateKey(bjj.New())
	if err != nil {
		return nil, nil, err
	}
	return pk.Marshal(), crypto.PadTo32(d.Bytes()), nil
}

func (Scheme) CheckPublicKey(pub []byte) error {
	_, err := publicKey(pub)
	return err
}

func (Scheme) Encrypt(pub []byte, value uint64) ([]byte, error) {
	pk, err := publicKey(pub)
	if err != nil {
		return nil, err
	}
	ct := elgamal.NewCiphertext(pk)
	if _, err := ct.Encrypt(new(big.Int).SetUint64(value), pk); err != nil {
		return nil, err
	}
	return ct.Serialize(), nil
}

// Zero returns (O, O).
func (Scheme) Zero(_ []byte) ([]byte, error) {
	return elgamal.NewCiphertext(bjj.New()).Serialize(), nil
}

func (Scheme) CheckCiphertext(_ []byte, data []byte) error {
	_, err := ciphertext(data)
	return err
}

func (Scheme) Add(_ []byte, a, b []byte) ([]byte, error) {
	x, err := ciphertext(a)
	if err != nil {
		return nil, err
	}
	y, err := ciphertext(b)
	if err != nil {
		return nil, err
	}
	return elgamal.NewCiphertext(bjj.New()).Add(x, y).Serialize(), nil
}

// Decrypt reports ok=false when the message has no discrete log in
// [0, max].
func (Scheme) Decrypt(sec, data []byte, max uint64) (uint64, bool, error) {
	if len(sec) != crypto.FieldElementSize {
		return 0, false, fmt.Errorf("invalid secret key length %d", len(sec))
	}
	if max > MaxPlaintext {
		return 0, false, nil
	}
	ct, err := ciphertext(data)
	if err != nil {
		return 0, false, err
	}
	v, err := elgamal.Decrypt(new(big.Int).SetBytes(sec), ct.C1, ct.C2, max)
	if errors.Is(err, elgamal.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func publicKey(pub []byte) (ecc.Point, error) {
	pk := bjj.New()
	if err := pk.Unmarshal(pub); err != nil {
		return nil, err
	}
	if pk.IsZero() {
		return nil, fmt.Errorf("public key is the identity")
	}
	return pk, nil
}

func ciphertext(data []byte) (*elgamal.Ciphertext, error) {
	ct := elgamal.NewCiphertext(bjj.New())
	if err := ct.Deserialize(bjj.New(), data); err != nil {
		return nil, err
	}
	return ct, nil
}
