package eddsa

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestSignVerify(t *testing.T) {
	c := qt.New(t)
	signer, err := NewSignerFromSeed([]byte("holder"))
	c.Assert(err, qt.IsNil)

	pub, err := PublicKeyFromBytes(signer.PublicKey())
	c.Assert(err, qt.IsNil)

	msg := big.NewInt(424242)
	sig := signer.Sign(msg)
	c.Assert(sig, qt.HasLen, SignatureLength)
	c.Assert(Verify(pub, msg, sig), qt.IsNil)
	c.Assert(Verify(pub, big.NewInt(1), sig), qt.ErrorMatches, "signature verification failed")

	other := NewSigner()
	otherPub, err := PublicKeyFromBytes(other.PublicKey())
	c.Assert(err, qt.IsNil)
	c.Assert(Verify(otherPub, msg, sig), qt.ErrorMatches, "signature verification failed")

	c.Assert(Verify(pub, msg, sig[:63]), qt.ErrorMatches, "invalid signature length 63")
	_, err = PublicKeyFromBytes([]byte{1, 2, 3})
	c.Assert(err, qt.ErrorMatches, "invalid public key length 3")

	_, err = NewSignerFromSeed(nil)
	c.Assert(err, qt.ErrorMatches, "seed cannot be empty")
}
