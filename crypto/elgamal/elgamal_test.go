package elgamal

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/davinci-ticketvote/crypto/ecc/bjj"
)

func TestEncryptDecrypt(t *testing.T) {
	c := qt.New(t)
	pub, priv, err := GenerateKey(bjj.New())
	c.Assert(err, qt.IsNil)

	for _, msg := range []uint64{0, 1, 42, 999, 1000} {
		c1, c2, err := Encrypt(pub, new(big.Int).SetUint64(msg))
		c.Assert(err, qt.IsNil)
		got, err := Decrypt(priv, c1, c2, 1000)
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, msg)
	}

	c1, c2, err := Encrypt(pub, big.NewInt(1001))
	c.Assert(err, qt.IsNil)
	_, err = Decrypt(priv, c1, c2, 1000)
	c.Assert(err, qt.ErrorMatches, `discrete log not found in \[0, 1000\]`)
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}

func TestHomomorphicAdd(t *testing.T) {
	c := qt.New(t)
	pub, priv, err := GenerateKey(bjj.New())
	c.Assert(err, qt.IsNil)

	acc := NewCiphertext(pub)
	for _, v := range []int64{5, 10, 0, 27} {
		ct := NewCiphertext(pub)
		_, err := ct.Encrypt(big.NewInt(v), pub)
		c.Assert(err, qt.IsNil)
		acc.Add(acc, ct)
	}
	sum, err := Decrypt(priv, acc.C1, acc.C2, 100)
	c.Assert(err, qt.IsNil)
	c.Assert(sum, qt.Equals, uint64(42))
}

func TestCiphertextSerialization(t *testing.T) {
	c := qt.New(t)
	pub, _, err := GenerateKey(bjj.New())
	c.Assert(err, qt.IsNil)

	ct := NewCiphertext(pub)
	_, err = ct.Encrypt(big.NewInt(3), pub)
	c.Assert(err, qt.IsNil)

	data := ct.Serialize()
	c.Assert(data, qt.HasLen, SizeCiphertext)

	decoded := NewCiphertext(pub)
	c.Assert(decoded.Deserialize(pub, data), qt.IsNil)
	c.Assert(decoded.Equal(ct), qt.IsTrue)

	c.Assert(decoded.Deserialize(pub, data[:10]), qt.ErrorMatches, "invalid ciphertext length.*")
	data[0] ^= 0x01
	c.Assert(decoded.Deserialize(pub, data), qt.ErrorMatches, "invalid C1.*")
}

func TestBabyStepGiantStepBounds(t *testing.T) {
	c := qt.New(t)
	g := bjj.New()
	g.SetGenerator()

	for _, tc := range []struct{ x, max uint64 }{{0, 1}, {1, 1}, {15, 15}, {16, 16}, {65535, 1 << 20}} {
		beta := bjj.New()
		beta.ScalarBaseMult(new(big.Int).SetUint64(tc.x))
		got, err := BabyStepGiantStep(beta, g, tc.max)
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, tc.x)
	}
}
