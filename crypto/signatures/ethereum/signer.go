// Package ethereum signs and verifies secp256k1 personal messages, the
// format used by ticket issuers identified by an Ethereum address.
package ethereum

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/davinci-ticketvote/types"
)

const (
	// SignatureLength is the size of a R || S || V signature.
	SignatureLength = ethcrypto.SignatureLength
	// SigningPrefix is prepended to every message before hashing.
	SigningPrefix = "\u0019Ethereum Signed Message:\n"
)

// Signer is a secp256k1 private key.
type Signer ecdsa.PrivateKey

// NewSigner generates a random signer.
func NewSigner() (*Signer, error) {
	s, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("could not generate key: %w", err)
	}
	return (*Signer)(s), nil
}

// NewSignerFromHex loads a hex encoded private key.
func NewSignerFromHex(hexKey string) (*Signer, error) {
	s, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("could not load key: %w", err)
	}
	return (*Signer)(s), nil
}

// NewSignerFromSeed derives a deterministic signer from keccak256(seed).
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	s, err := ethcrypto.ToECDSA(ethcrypto.Keccak256(seed))
	if err != nil {
		return nil, fmt.Errorf("could not derive key: %w", err)
	}
	return (*Signer)(s), nil
}

// Address returns the Ethereum address of the signer.
func (s *Signer) Address() common.Address {
	return ethcrypto.PubkeyToAddress(s.PublicKey)
}

// HexPrivateKey returns the raw private key.
func (s *Signer) HexPrivateKey() types.HexBytes {
	return ethcrypto.FromECDSA((*ecdsa.PrivateKey)(s))
}

// Sign signs msg as an Ethereum personal message. The returned signature is
// R || S || V with V in {0, 1}.
func (s *Signer) Sign(msg []byte) (types.HexBytes, error) {
	sig, err := ethcrypto.Sign(HashMessage(msg), (*ecdsa.PrivateKey)(s))
	if err != nil {
		return nil, fmt.Errorf("could not sign message: %w", err)
	}
	return sig, nil
}

// Verify checks that signature was produced over msg by the key of
// expected. V may be encoded as {0, 1} or {27, 28}.
func Verify(msg, signature []byte, expected common.Address) error {
	addr, err := AddrFromSignature(msg, signature)
	if err != nil {
		return err
	}
	if !bytes.Equal(addr.Bytes(), expected.Bytes()) {
		return fmt.Errorf("signature from %s, expected %s", addr.Hex(), expected.Hex())
	}
	return nil
}

// AddrFromSignature recovers the signer address of a personal message.
func AddrFromSignature(msg, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}
	sig := bytes.Clone(signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", signature[64])
	}
	pubKey, err := ethcrypto.SigToPub(HashMessage(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("sigToPub: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pubKey), nil
}

// HashMessage returns keccak256(prefix || len(data) || data).
func HashMessage(data []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s%d%s", SigningPrefix, len(data), data)
	return ethcrypto.Keccak256(buf.Bytes())
}
