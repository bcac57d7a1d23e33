package ethereum

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestSignVerify(t *testing.T) {
	c := qt.New(t)
	signer, err := NewSignerFromSeed([]byte("issuer"))
	c.Assert(err, qt.IsNil)

	msg := []byte("ticket claim")
	sig, err := signer.Sign(msg)
	c.Assert(err, qt.IsNil)
	c.Assert(sig, qt.HasLen, SignatureLength)
	c.Assert(Verify(msg, sig, signer.Address()), qt.IsNil)

	// legacy V encoding
	legacy := append([]byte{}, sig...)
	legacy[64] += 27
	c.Assert(Verify(msg, legacy, signer.Address()), qt.IsNil)

	other, err := NewSigner()
	c.Assert(err, qt.IsNil)
	c.Assert(Verify(msg, sig, other.Address()), qt.ErrorMatches, "signature from .*, expected .*")
	c.Assert(Verify([]byte("other claim"), sig, signer.Address()), qt.Not(qt.IsNil))
	c.Assert(Verify(msg, sig[:10], signer.Address()), qt.ErrorMatches, "invalid signature length 10")

	again, err := NewSignerFromHex(signer.HexPrivateKey().Hex())
	c.Assert(err, qt.IsNil)
	c.Assert(again.Address(), qt.Equals, signer.Address())
}
