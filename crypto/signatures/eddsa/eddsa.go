// Package eddsa wraps iden3's BabyJubJub EdDSA-Poseidon signatures with
// compressed byte encodings for keys and signatures.
package eddsa

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/vocdoni/davinci-ticketvote/crypto"
	"github.com/vocdoni/davinci-ticketvote/types"
)

const (
	// PublicKeyLength is the size of a compressed public key.
	PublicKeyLength = 32
	// SignatureLength is the size of a compressed signature.
	SignatureLength = 64
)

// Signer holds a BabyJubJub private key.
type Signer struct {
	privKey babyjub.PrivateKey
}

// NewSigner returns a signer with a random key.
func NewSigner() *Signer {
	return &Signer{privKey: babyjub.NewRandPrivKey()}
}

// NewSignerFromSeed derives the private key as sha256(seed).
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("seed cannot be empty")
	}
	return &Signer{privKey: babyjub.PrivateKey(sha256.Sum256(seed))}, nil
}

// PublicKey returns the compressed public key.
func (s *Signer) PublicKey() types.HexBytes {
	comp := s.privKey.Public().Compress()
	return comp[:]
}

// Sign signs a field element. msg is reduced into the BN254 scalar field.
func (s *Signer) Sign(msg *big.Int) types.HexBytes {
	sig := s.privKey.SignPoseidon(crypto.BigToFF(crypto.SNARKField(), msg))
	comp := sig.Compress()
	return comp[:]
}

// PublicKeyFromBytes decompresses a public key.
func PublicKeyFromBytes(data []byte) (*babyjub.PublicKey, error) {
	if len(data) != PublicKeyLength {
		return nil, fmt.Errorf("invalid public key length %d", len(data))
	}
	var comp babyjub.PublicKeyComp
	copy(comp[:], data)
	pub, err := comp.Decompress()
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return pub, nil
}

// SignatureFromBytes decompresses a signature.
func SignatureFromBytes(data []byte) (*babyjub.Signature, error) {
	if len(data) != SignatureLength {
		return nil, fmt.Errorf("invalid signature length %d", len(data))
	}
	var comp babyjub.SignatureComp
	copy(comp[:], data)
	sig, err := comp.Decompress()
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	return sig, nil
}

// Verify checks a compressed signature over msg.
func Verify(pub *babyjub.PublicKey, msg *big.Int, signature []byte) error {
	sig, err := SignatureFromBytes(signature)
	if err != nil {
		return err
	}
	if !pub.VerifyPoseidon(crypto.BigToFF(crypto.SNARKField(), msg), sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}
