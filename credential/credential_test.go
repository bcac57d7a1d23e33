package credential

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/davinci-ticketvote/encryption"
	"github.com/vocdoni/davinci-ticketvote/types"
)

const testElection = "devcon-8-budget"

func testClaim(holder *Holder, ticketID string) *TicketClaim {
	return &TicketClaim{
		TicketID:      ticketID,
		EventID:       "devcon-8",
		ProductID:     "general-admission",
		AttendeeEmail: "alice@example.org",
		HolderKey:     holder.PublicKey(),
	}
}

func testVerifier(c *qt.C, typ Type, trusted ...string) *Verifier {
	v, err := NewVerifier(Rules{
		ElectionID:     testElection,
		Type:           typ,
		TrustedIssuers: trusted,
		EventIDs:       []string{"devcon-8"},
		ProductIDs:     []string{"general-admission", "speaker"},
	})
	c.Assert(err, qt.IsNil)
	return v
}

func electionWatermark(c *qt.C) *big.Int {
	wm, err := WatermarkFor(testElection, WatermarkElection, nil)
	c.Assert(err, qt.IsNil)
	return wm
}

func TestTicketCredentials(t *testing.T) {
	eddsaIssuer, err := NewEdDSAIssuer([]byte("issuer"))
	qt.Assert(t, err, qt.IsNil)
	ecdsaIssuer, err := NewECDSAIssuer([]byte("issuer"))
	qt.Assert(t, err, qt.IsNil)

	for _, issuer := range []Issuer{eddsaIssuer, ecdsaIssuer} {
		t.Run(string(issuer.Type()), func(t *testing.T) {
			c := qt.New(t)
			v := testVerifier(c, issuer.Type(), issuer.KeyID())
			wm := electionWatermark(c)
			holder := NewHolder()
			ticket, err := issuer.Issue(testClaim(holder, "ticket-1"))
			c.Assert(err, qt.IsNil)

			cred, err := holder.Present(ticket, wm, true)
			c.Assert(err, qt.IsNil)
			attrs, err := v.Verify(context.Background(), cred, wm)
			c.Assert(err, qt.IsNil)
			c.Assert(attrs.EventID, qt.Equals, "devcon-8")
			c.Assert(attrs.AttendeeEmail, qt.Equals, "alice@example.org")
			c.Assert(attrs.IssuerKeyID, qt.Equals, issuer.KeyID())

			// the redacted presentation keeps the issuer signature valid and
			// yields the same nullifier
			redacted, err := holder.Present(ticket, wm, false)
			c.Assert(err, qt.IsNil)
			c.Assert(redacted.Claim.AttendeeEmail, qt.Equals, "")
			attrs2, err := v.Verify(context.Background(), redacted, wm)
			c.Assert(err, qt.IsNil)
			c.Assert(attrs2.AttendeeEmail, qt.Equals, "")
			c.Assert(attrs2.AttendeeCommitment.Cmp(attrs.AttendeeCommitment), qt.Equals, 0)
			c.Assert(attrs2.Nullifier, qt.Equals, attrs.Nullifier)

			// the holder can derive the nullifier without the verifier
			claimed, err := ClaimedNullifier(testElection, redacted)
			c.Assert(err, qt.IsNil)
			c.Assert(claimed, qt.Equals, attrs.Nullifier)

			// the credential survives its JSON encoding
			data, err := json.Marshal(cred)
			c.Assert(err, qt.IsNil)
			decoded := &EligibilityCredential{}
			c.Assert(json.Unmarshal(data, decoded), qt.IsNil)
			_, err = v.Verify(context.Background(), decoded, wm)
			c.Assert(err, qt.IsNil)
		})
	}
}

func TestVerifyFailureKinds(t *testing.T) {
	c := qt.New(t)
	issuer, err := NewEdDSAIssuer([]byte("trusted"))
	c.Assert(err, qt.IsNil)
	rogue, err := NewEdDSAIssuer([]byte("rogue"))
	c.Assert(err, qt.IsNil)
	v := testVerifier(c, TypeTicketEdDSA, issuer.KeyID())
	wm := electionWatermark(c)
	holder := NewHolder()

	present := func(iss Issuer, claim *TicketClaim, watermark *big.Int) *EligibilityCredential {
		ticket, err := iss.Issue(claim)
		c.Assert(err, qt.IsNil)
		cred, err := holder.Present(ticket, watermark, true)
		c.Assert(err, qt.IsNil)
		return cred
	}

	valid := present(issuer, testClaim(holder, "t-1"), wm)

	c.Run("malformed", func(c *qt.C) {
		_, err := v.Verify(context.Background(), nil, wm)
		c.Assert(err, qt.ErrorIs, ErrMalformed)

		noClaim := *valid
		noClaim.Claim = nil
		_, err = v.Verify(context.Background(), &noClaim, wm)
		c.Assert(err, qt.ErrorIs, ErrMalformed)

		shortKey := *valid
		shortKey.IssuerKey = valid.IssuerKey[:16]
		_, err = v.Verify(context.Background(), &shortKey, wm)
		c.Assert(err, qt.ErrorIs, ErrMalformed)

		wrongType := *valid
		wrongType.Type = TypeTicketECDSA
		_, err = v.Verify(context.Background(), &wrongType, wm)
		c.Assert(err, qt.ErrorIs, ErrMalformed)

		mismatched := *valid
		claim := *valid.Claim
		claim.AttendeeCommitment = types.NewBigInt(big.NewInt(42))
		mismatched.Claim = &claim
		_, err = v.Verify(context.Background(), &mismatched, wm)
		c.Assert(err, qt.ErrorIs, ErrMalformed)
	})

	c.Run("bad signature", func(c *qt.C) {
		// changing the event breaks the issuer signature, which is reported
		// before eligibility
		tampered := *valid
		claim := *valid.Claim
		claim.EventID = "other-event"
		tampered.Claim = &claim
		_, err := v.Verify(context.Background(), &tampered, wm)
		c.Assert(err, qt.ErrorIs, ErrBadSignature)

		// the holder signed another watermark than the one stated
		forged := *valid
		forged.Watermark = types.NewBigInt(big.NewInt(7))
		_, err = v.Verify(context.Background(), &forged, wm)
		c.Assert(err, qt.ErrorIs, ErrBadSignature)

		// a ticket presented by someone not holding its key
		thief := NewHolder()
		ticket, err := issuer.Issue(testClaim(holder, "t-2"))
		c.Assert(err, qt.IsNil)
		stolen, err := thief.Present(ticket, wm, true)
		c.Assert(err, qt.IsNil)
		_, err = v.Verify(context.Background(), stolen, wm)
		c.Assert(err, qt.ErrorIs, ErrBadSignature)
	})

	c.Run("issuer not trusted", func(c *qt.C) {
		_, err := v.Verify(context.Background(), present(rogue, testClaim(holder, "t-3"), wm), wm)
		c.Assert(err, qt.ErrorIs, ErrIssuerNotTrusted)
	})

	c.Run("ineligible ticket", func(c *qt.C) {
		claim := testClaim(holder, "t-4")
		claim.EventID = "ethcc"
		_, err := v.Verify(context.Background(), present(issuer, claim, wm), wm)
		c.Assert(err, qt.ErrorIs, ErrIneligibleTicket)

		claim = testClaim(holder, "t-5")
		claim.ProductID = "volunteer"
		_, err = v.Verify(context.Background(), present(issuer, claim, wm), wm)
		c.Assert(err, qt.ErrorIs, ErrIneligibleTicket)
	})

	c.Run("watermark mismatch", func(c *qt.C) {
		other, err := WatermarkFor("another-election", WatermarkElection, nil)
		c.Assert(err, qt.IsNil)
		_, err = v.Verify(context.Background(), present(issuer, testClaim(holder, "t-6"), other), wm)
		c.Assert(err, qt.ErrorIs, ErrWatermarkMismatch)
	})

	c.Run("all wrap ErrInvalidProof", func(c *qt.C) {
		for _, err := range []error{ErrMalformed, ErrBadSignature, ErrIssuerNotTrusted, ErrIneligibleTicket, ErrWatermarkMismatch} {
			c.Assert(err, qt.ErrorIs, ErrInvalidProof)
		}
	})

	c.Run("cancelled", func(c *qt.C) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := v.Verify(ctx, valid, wm)
		c.Assert(err, qt.ErrorIs, context.Canceled)
	})
}

func TestNullifier(t *testing.T) {
	c := qt.New(t)
	seed := big.NewInt(1234)
	n1, err := NullifierFor("e1", seed)
	c.Assert(err, qt.IsNil)
	n2, err := NullifierFor("e1", big.NewInt(1234))
	c.Assert(err, qt.IsNil)
	n3, err := NullifierFor("e2", seed)
	c.Assert(err, qt.IsNil)
	c.Assert(n1, qt.Equals, n2)
	c.Assert(n1, qt.Not(qt.Equals), n3)

	parsed, err := NullifierFromHex(n1.String())
	c.Assert(err, qt.IsNil)
	c.Assert(parsed, qt.Equals, n1)
	_, err = NullifierFromHex("0x1234")
	c.Assert(err, qt.IsNotNil)

	data, err := json.Marshal(map[string]Nullifier{"n": n1})
	c.Assert(err, qt.IsNil)
	var decoded map[string]Nullifier
	c.Assert(json.Unmarshal(data, &decoded), qt.IsNil)
	c.Assert(decoded["n"], qt.Equals, n1)
}

func TestWatermark(t *testing.T) {
	c := qt.New(t)
	pk, _, err := encryption.GenerateKey("elgamal-bjj")
	c.Assert(err, qt.IsNil)
	a, err := encryption.Encrypt(1, pk)
	c.Assert(err, qt.IsNil)
	b, err := encryption.Encrypt(1, pk)
	c.Assert(err, qt.IsNil)

	e1, err := WatermarkFor("e1", WatermarkElection, encryption.Ballot{a})
	c.Assert(err, qt.IsNil)
	e2, err := WatermarkFor("e1", WatermarkElection, encryption.Ballot{b})
	c.Assert(err, qt.IsNil)
	c.Assert(e1.Cmp(e2), qt.Equals, 0)

	b1, err := WatermarkFor("e1", WatermarkBallot, encryption.Ballot{a})
	c.Assert(err, qt.IsNil)
	b2, err := WatermarkFor("e1", WatermarkBallot, encryption.Ballot{b})
	c.Assert(err, qt.IsNil)
	c.Assert(b1.Cmp(b2), qt.Not(qt.Equals), 0)
	c.Assert(b1.Cmp(e1), qt.Not(qt.Equals), 0)

	_, err = WatermarkFor("e1", WatermarkBallot, nil)
	c.Assert(err, qt.IsNotNil)
	_, err = WatermarkFor("e1", "session", nil)
	c.Assert(err, qt.IsNotNil)
}

func TestNormalizeKeyID(t *testing.T) {
	c := qt.New(t)
	issuer, err := NewECDSAIssuer(nil)
	c.Assert(err, qt.IsNil)
	upper := "ecdsa:" + issuer.signer.Address().Hex()
	normalized, err := NormalizeKeyID(upper)
	c.Assert(err, qt.IsNil)
	c.Assert(normalized, qt.Equals, issuer.KeyID())

	_, err = NormalizeKeyID("rsa:abcd")
	c.Assert(err, qt.IsNotNil)
	_, err = NormalizeKeyID("ecdsa:0x1234")
	c.Assert(err, qt.IsNotNil)
	id, err := NormalizeKeyID("groth16:0012")
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, "groth16:12")
}
