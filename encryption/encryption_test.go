package encryption

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/davinci-ticketvote/encryption/elgamalbjj"
	"github.com/vocdoni/davinci-ticketvote/encryption/paillier"
)

// testBackends keeps Paillier keys small so the suite stays fast.
var testBackends = []Backend{
	elgamalbjj.Scheme{},
	paillier.Scheme{Bits: 256},
}

func forEachScheme(t *testing.T, fn func(c *qt.C, pk *PublicKey, sk *SecretKey)) {
	for _, backend := range testBackends {
		t.Run(backend.Name(), func(t *testing.T) {
			c := qt.New(t)
			pk, sk, err := GenerateKeyWith(backend)
			c.Assert(err, qt.IsNil)
			fn(c, pk, sk)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	forEachScheme(t, func(c *qt.C, pk *PublicKey, sk *SecretKey) {
		for _, v := range []uint64{0, 1, 7, 255, 65536} {
			ct, err := Encrypt(v, pk)
			c.Assert(err, qt.IsNil)
			c.Assert(Check(ct, pk), qt.IsNil)
			got, err := Decrypt(ct, sk, 1<<20)
			c.Assert(err, qt.IsNil)
			c.Assert(got, qt.Equals, v)
		}

		zero, err := Zero(pk)
		c.Assert(err, qt.IsNil)
		got, err := Decrypt(zero, sk, 10)
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, uint64(0))

		big, err := Encrypt(11, pk)
		c.Assert(err, qt.IsNil)
		_, err = Decrypt(big, sk, 10)
		c.Assert(err, qt.ErrorIs, ErrOutOfRange)
	})
}

func TestEncryptOutOfRange(t *testing.T) {
	c := qt.New(t)
	pk, _, err := GenerateKey(elgamalbjj.Name)
	c.Assert(err, qt.IsNil)

	max, err := MaxPlaintext(pk)
	c.Assert(err, qt.IsNil)
	c.Assert(max, qt.Equals, uint64(elgamalbjj.MaxPlaintext))

	_, err = Encrypt(max+1, pk)
	c.Assert(err, qt.ErrorIs, ErrOutOfRange)
}

func TestFoldIsOrderIndependent(t *testing.T) {
	forEachScheme(t, func(c *qt.C, pk *PublicKey, sk *SecretKey) {
		values := []uint64{5, 10, 0, 3, 12}
		cts := make([]*Ciphertext, len(values))
		for i, v := range values {
			var err error
			cts[i], err = Encrypt(v, pk)
			c.Assert(err, qt.IsNil)
		}
		fold := func(order []int) *Ciphertext {
			acc, err := Zero(pk)
			c.Assert(err, qt.IsNil)
			for _, i := range order {
				acc, err = Add(pk, acc, cts[i])
				c.Assert(err, qt.IsNil)
			}
			return acc
		}
		forward := fold([]int{0, 1, 2, 3, 4})
		reversed := fold([]int{4, 3, 2, 1, 0})
		shuffled := fold([]int{2, 0, 4, 1, 3})
		c.Assert(forward.Equal(reversed), qt.IsTrue)
		c.Assert(forward.Equal(shuffled), qt.IsTrue)

		sum, err := Decrypt(forward, sk, 100)
		c.Assert(err, qt.IsNil)
		c.Assert(sum, qt.Equals, uint64(30))
	})
}

func TestKeyMismatch(t *testing.T) {
	c := qt.New(t)
	pk1, sk1, err := GenerateKey(elgamalbjj.Name)
	c.Assert(err, qt.IsNil)
	pk2, _, err := GenerateKey(elgamalbjj.Name)
	c.Assert(err, qt.IsNil)
	pk3, _, err := GenerateKeyWith(paillier.Scheme{Bits: 256})
	c.Assert(err, qt.IsNil)

	a, err := Encrypt(1, pk1)
	c.Assert(err, qt.IsNil)
	b, err := Encrypt(2, pk2)
	c.Assert(err, qt.IsNil)
	p, err := Encrypt(3, pk3)
	c.Assert(err, qt.IsNil)

	_, err = Add(pk1, a, b)
	c.Assert(err, qt.ErrorIs, ErrKeyMismatch)
	_, err = Add(pk2, a, b)
	c.Assert(err, qt.ErrorIs, ErrKeyMismatch)
	_, err = Add(pk1, a, p)
	c.Assert(err, qt.ErrorIs, ErrKeyMismatch)
	c.Assert(Check(b, pk1), qt.ErrorIs, ErrKeyMismatch)
	_, err = Decrypt(b, sk1, 10)
	c.Assert(err, qt.ErrorIs, ErrKeyMismatch)

	// relabeling a foreign ciphertext is caught when it does not decode
	forged := &Ciphertext{Scheme: a.Scheme, KeyID: a.KeyID, Data: []byte{1, 2, 3}}
	c.Assert(Check(forged, pk1), qt.ErrorIs, ErrMalformedCiphertext)
	_, err = Add(pk1, a, forged)
	c.Assert(err, qt.ErrorIs, ErrMalformedCiphertext)
}

func TestSecretKeyRoundTrip(t *testing.T) {
	forEachScheme(t, func(c *qt.C, pk *PublicKey, sk *SecretKey) {
		acc, err := Zero(pk)
		c.Assert(err, qt.IsNil)
		for _, v := range []uint64{4, 9, 30} {
			ct, err := Encrypt(v, pk)
			c.Assert(err, qt.IsNil)
			acc, err = Add(pk, acc, ct)
			c.Assert(err, qt.IsNil)
		}

		// the key is stored and read back as the node does across restarts
		data, err := cbor.Marshal(sk)
		c.Assert(err, qt.IsNil)
		restored := &SecretKey{}
		c.Assert(cbor.Unmarshal(data, restored), qt.IsNil)
		c.Assert(restored.KeyID, qt.DeepEquals, pk.ID())

		got, err := Decrypt(acc, restored, 100)
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, uint64(43))
	})
}

func TestDecryptMalformed(t *testing.T) {
	forEachScheme(t, func(c *qt.C, pk *PublicKey, sk *SecretKey) {
		ct, err := Encrypt(3, pk)
		c.Assert(err, qt.IsNil)

		badKey := &SecretKey{Scheme: sk.Scheme, KeyID: sk.KeyID, Data: []byte{1, 2, 3}}
		_, err = Decrypt(ct, badKey, 10)
		c.Assert(err, qt.ErrorIs, ErrMalformedCiphertext)
		c.Assert(errors.Is(err, ErrOutOfRange), qt.IsFalse)

		badCiphertext := &Ciphertext{Scheme: ct.Scheme, KeyID: ct.KeyID, Data: []byte{}}
		_, err = Decrypt(badCiphertext, sk, 10)
		c.Assert(err, qt.ErrorIs, ErrMalformedCiphertext)

		got, err := Decrypt(ct, sk, 10)
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, uint64(3))
	})
}

func TestPublicKeyEncoding(t *testing.T) {
	forEachScheme(t, func(c *qt.C, pk *PublicKey, _ *SecretKey) {
		data, err := pk.Bytes()
		c.Assert(err, qt.IsNil)

		decoded, err := LoadPublicKey(bytes.NewReader(data))
		c.Assert(err, qt.IsNil)
		c.Assert(decoded.ID(), qt.DeepEquals, pk.ID())

		_, err = PublicKeyFromBytes(data[:len(data)-3])
		c.Assert(errors.Is(err, ErrMalformedKey), qt.IsTrue)

		tampered := &PublicKey{Scheme: pk.Scheme, Data: []byte{0x02}}
		data, err = tampered.Bytes()
		c.Assert(err, qt.IsNil)
		_, err = PublicKeyFromBytes(data)
		c.Assert(err, qt.ErrorIs, ErrMalformedKey)
	})

	unknown := &PublicKey{Scheme: "rsa", Data: []byte{1}}
	data, err := unknown.Bytes()
	qt.Assert(t, err, qt.IsNil)
	_, err = PublicKeyFromBytes(data)
	qt.Assert(t, err, qt.ErrorIs, ErrMalformedKey)
}

func TestBallotDigest(t *testing.T) {
	c := qt.New(t)
	pk, _, err := GenerateKey(elgamalbjj.Name)
	c.Assert(err, qt.IsNil)
	a, err := Encrypt(1, pk)
	c.Assert(err, qt.IsNil)
	b, err := Encrypt(1, pk)
	c.Assert(err, qt.IsNil)

	c.Assert(Ballot{a, b}.Digest(), qt.DeepEquals, Ballot{a, b}.Digest())
	c.Assert(Ballot{a, b}.Digest(), qt.Not(qt.DeepEquals), Ballot{b, a}.Digest())
	c.Assert(Ballot{a}.Digest(), qt.Not(qt.DeepEquals), Ballot{a, b}.Digest())
	c.Assert(Schemes(), qt.DeepEquals, []string{elgamalbjj.Name, paillier.Name})
}
