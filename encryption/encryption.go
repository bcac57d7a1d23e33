// Package encryption abstracts the additively homomorphic encryption used
// for ballots. Keys and ciphertexts are scheme tagged envelopes, and every
// ciphertext carries the fingerprint of the public key it was produced
// under, so values from different keys are never combined.
package encryption

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/vocdoni/davinci-ticketvote/encryption/elgamalbjj"
	"github.com/vocdoni/davinci-ticketvote/encryption/paillier"
	"github.com/vocdoni/davinci-ticketvote/types"
)

var (
	// ErrKeyMismatch is returned when combining ciphertexts that were not
	// produced under the same public key, or using a key of another scheme.
	ErrKeyMismatch = errors.New("key mismatch")
	// ErrOutOfRange is returned when a plaintext is outside the scheme's
	// plaintext domain.
	ErrOutOfRange = errors.New("value out of range")
	// ErrMalformedKey is returned when a key cannot be decoded.
	ErrMalformedKey = errors.New("malformed key")
	// ErrMalformedCiphertext is returned when a ciphertext cannot be decoded.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	// ErrUnknownScheme is returned for scheme names not in the registry.
	ErrUnknownScheme = errors.New("unknown encryption scheme")
)

// Backend is the byte level contract of a homomorphic scheme. Envelope and
// provenance checks are done by this package before calling it. Decrypt
// returns ok=false when the plaintext is not in [0, max], and an error only
// when the key or the ciphertext cannot be decoded.
type Backend interface {
	Name() string
	GenerateKey(random io.Reader) (pub, sec []byte, err error)
	CheckPublicKey(pub []byte) error
	MaxPlaintext(pub []byte) uint64
	Encrypt(pub []byte, value uint64) ([]byte, error)
	Zero(pub []byte) ([]byte, error)
	CheckCiphertext(pub, data []byte) error
	Add(pub, a, b []byte) ([]byte, error)
	Decrypt(sec, data []byte, max uint64) (v uint64, ok bool, err error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Backend{}
)

func init() {
	Register(elgamalbjj.Scheme{})
	Register(paillier.Scheme{Bits: paillier.DefaultBits})
}

// Register adds or replaces a backend.
func Register(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b.Name()] = b
}

// Lookup returns the backend registered under name.
func Lookup(name string) (Backend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
	return b, nil
}

// Schemes returns the registered scheme names, sorted.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PublicKey is freely distributed to voters.
type PublicKey struct {
	Scheme string         `json:"scheme" cbor:"1,keyasint"`
	Data   types.HexBytes `json:"data" cbor:"2,keyasint"`
}

// ID returns the key fingerprint sha256(scheme || 0x00 || data).
func (pk *PublicKey) ID() types.HexBytes {
	h := sha256.New()
	h.Write([]byte(pk.Scheme))
	h.Write([]byte{0})
	h.Write(pk.Data)
	return h.Sum(nil)
}

// Bytes returns the CBOR encoding served by the key distribution endpoint.
func (pk *PublicKey) Bytes() ([]byte, error) {
	return cbor.Marshal(pk)
}

// PublicKeyFromBytes decodes and validates a serialized public key.
func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	pk := &PublicKey{}
	if err := cbor.Unmarshal(data, pk); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	backend, err := Lookup(pk.Scheme)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if err := backend.CheckPublicKey(pk.Data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return pk, nil
}

// LoadPublicKey reads a serialized public key from source.
func LoadPublicKey(source io.Reader) (*PublicKey, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(source, 1<<16)); err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return PublicKeyFromBytes(buf.Bytes())
}

// SecretKey is held only by the tally authority.
type SecretKey struct {
	Scheme string         `json:"scheme" cbor:"1,keyasint"`
	KeyID  types.HexBytes `json:"keyId" cbor:"2,keyasint"`
	Data   types.HexBytes `json:"data" cbor:"3,keyasint"`
}

// Ciphertext is an encrypted integer tagged with its key fingerprint.
type Ciphertext struct {
	Scheme string         `json:"scheme" cbor:"1,keyasint"`
	KeyID  types.HexBytes `json:"keyId" cbor:"2,keyasint"`
	Data   types.HexBytes `json:"data" cbor:"3,keyasint"`
}

// Equal reports whether both ciphertexts are byte identical.
func (c *Ciphertext) Equal(other *Ciphertext) bool {
	return c.Scheme == other.Scheme && c.KeyID.Equal(other.KeyID) && c.Data.Equal(other.Data)
}

// Ballot holds one ciphertext per election option.
type Ballot []*Ciphertext

// Digest is the sha256 of a length prefixed encoding of every ciphertext.
func (b Ballot) Digest() []byte {
	h := sha256.New()
	var n [4]byte
	write := func(p []byte) {
		binary.BigEndian.PutUint32(n[:], uint32(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	h.Write(n[:])
	for _, c := range b {
		if c == nil {
			write(nil)
			continue
		}
		write([]byte(c.Scheme))
		write(c.KeyID)
		write(c.Data)
	}
	return h.Sum(nil)
}

// GenerateKey creates a key pair for the named scheme using crypto/rand.
func GenerateKey(scheme string) (*PublicKey, *SecretKey, error) {
	backend, err := Lookup(scheme)
	if err != nil {
		return nil, nil, err
	}
	return GenerateKeyWith(backend)
}

// GenerateKeyWith creates a key pair with a configured backend, such as a
// Paillier scheme with a custom key size.
func GenerateKeyWith(backend Backend) (*PublicKey, *SecretKey, error) {
	pub, sec, err := backend.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate %s key: %w", backend.Name(), err)
	}
	pk := &PublicKey{Scheme: backend.Name(), Data: pub}
	return pk, &SecretKey{Scheme: pk.Scheme, KeyID: pk.ID(), Data: sec}, nil
}

func backendFor(pk *PublicKey) (Backend, error) {
	if pk == nil {
		return nil, fmt.Errorf("%w: nil public key", ErrMalformedKey)
	}
	return Lookup(pk.Scheme)
}

// MaxPlaintext returns the largest value the key can encrypt.
func MaxPlaintext(pk *PublicKey) (uint64, error) {
	backend, err := backendFor(pk)
	if err != nil {
		return 0, err
	}
	return backend.MaxPlaintext(pk.Data), nil
}

// Encrypt encrypts value under pk. Values above the scheme bound fail with
// ErrOutOfRange.
func Encrypt(value uint64, pk *PublicKey) (*Ciphertext, error) {
	backend, err := backendFor(pk)
	if err != nil {
		return nil, err
	}
	if max := backend.MaxPlaintext(pk.Data); value > max {
		return nil, fmt.Errorf("%w: %d above %d", ErrOutOfRange, value, max)
	}
	data, err := backend.Encrypt(pk.Data, value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return &Ciphertext{Scheme: pk.Scheme, KeyID: pk.ID(), Data: data}, nil
}

// Zero returns the additive identity under pk.
func Zero(pk *PublicKey) (*Ciphertext, error) {
	backend, err := backendFor(pk)
	if err != nil {
		return nil, err
	}
	data, err := backend.Zero(pk.Data)
	if err != nil {
		return nil, err
	}
	return &Ciphertext{Scheme: pk.Scheme, KeyID: pk.ID(), Data: data}, nil
}

// CheckProvenance fails with ErrKeyMismatch unless c was produced under pk.
func CheckProvenance(c *Ciphertext, pk *PublicKey) error {
	if c == nil {
		return fmt.Errorf("%w: nil ciphertext", ErrMalformedCiphertext)
	}
	if c.Scheme != pk.Scheme {
		return fmt.Errorf("%w: ciphertext scheme %q, key scheme %q", ErrKeyMismatch, c.Scheme, pk.Scheme)
	}
	if !c.KeyID.Equal(pk.ID()) {
		return fmt.Errorf("%w: ciphertext key %s, expected %s", ErrKeyMismatch, c.KeyID, pk.ID())
	}
	return nil
}

// Check validates provenance and decoding of c without decrypting it.
func Check(c *Ciphertext, pk *PublicKey) error {
	if err := CheckProvenance(c, pk); err != nil {
		return err
	}
	backend, err := backendFor(pk)
	if err != nil {
		return err
	}
	if err := backend.CheckCiphertext(pk.Data, c.Data); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return nil
}

// Add returns a ciphertext of the sum of a and b. Both must have been
// produced under pk, otherwise ErrKeyMismatch is returned.
func Add(pk *PublicKey, a, b *Ciphertext) (*Ciphertext, error) {
	if err := CheckProvenance(a, pk); err != nil {
		return nil, err
	}
	if err := CheckProvenance(b, pk); err != nil {
		return nil, err
	}
	backend, err := backendFor(pk)
	if err != nil {
		return nil, err
	}
	data, err := backend.Add(pk.Data, a.Data, b.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return &Ciphertext{Scheme: pk.Scheme, KeyID: a.KeyID, Data: data}, nil
}

// Decrypt recovers the plaintext of c. Failing to find a plaintext in
// [0, max] is reported as ErrOutOfRange, and an undecodable key or
// ciphertext as ErrMalformedCiphertext.
func Decrypt(c *Ciphertext, sk *SecretKey, max uint64) (uint64, error) {
	if sk == nil {
		return 0, fmt.Errorf("%w: nil secret key", ErrMalformedKey)
	}
	if c == nil {
		return 0, fmt.Errorf("%w: nil ciphertext", ErrMalformedCiphertext)
	}
	if c.Scheme != sk.Scheme || !c.KeyID.Equal(sk.KeyID) {
		return 0, fmt.Errorf("%w: ciphertext not produced under the secret key's public key", ErrKeyMismatch)
	}
	backend, err := Lookup(sk.Scheme)
	if err != nil {
		return 0, err
	}
	v, ok, err := backend.Decrypt(sk.Data, c.Data, max)
	if err != nil {
		return 0, fmt.Errorf("%w: could not decrypt: %v", ErrMalformedCiphertext, err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: no plaintext in [0, %d]", ErrOutOfRange, max)
	}
	return v, nil
}
