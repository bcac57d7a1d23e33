package credential

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/davinci-ticketvote/crypto/signatures/eddsa"
	"github.com/vocdoni/davinci-ticketvote/crypto/signatures/ethereum"
	"github.com/vocdoni/davinci-ticketvote/types"
)

// Ticket is an issued claim, kept by the holder until it is presented.
type Ticket struct {
	Type            Type           `json:"type"`
	Claim           *TicketClaim   `json:"claim"`
	IssuerKey       types.HexBytes `json:"issuerKey"`
	IssuerSignature types.HexBytes `json:"issuerSignature"`
}

// Issuer signs ticket claims. Real issuers run outside the engine; these
// implementations serve development setups and tests.
type Issuer interface {
	Type() Type
	KeyID() string
	Issue(claim *TicketClaim) (*Ticket, error)
}

// EdDSAIssuer signs claims with a BabyJubJub key.
type EdDSAIssuer struct {
	signer *eddsa.Signer
}

// NewEdDSAIssuer derives an issuer key from seed, or a random one when seed
// is empty.
func NewEdDSAIssuer(seed []byte) (*EdDSAIssuer, error) {
	if len(seed) == 0 {
		return &EdDSAIssuer{signer: eddsa.NewSigner()}, nil
	}
	signer, err := eddsa.NewSignerFromSeed(seed)
	if err != nil {
		return nil, err
	}
	return &EdDSAIssuer{signer: signer}, nil
}

func (i *EdDSAIssuer) Type() Type { return TypeTicketEdDSA }

func (i *EdDSAIssuer) KeyID() string { return EdDSAKeyID(i.signer.PublicKey()) }

func (i *EdDSAIssuer) Issue(claim *TicketClaim) (*Ticket, error) {
	h, err := claim.Hash()
	if err != nil {
		return nil, err
	}
	return &Ticket{
		Type:            TypeTicketEdDSA,
		Claim:           claim,
		IssuerKey:       i.signer.PublicKey(),
		IssuerSignature: i.signer.Sign(h),
	}, nil
}

// ECDSAIssuer signs claims as Ethereum personal messages.
type ECDSAIssuer struct {
	signer *ethereum.Signer
}

// NewECDSAIssuer derives an issuer key from seed, or a random one when seed
// is empty.
func NewECDSAIssuer(seed []byte) (*ECDSAIssuer, error) {
	var (
		signer *ethereum.Signer
		err    error
	)
	if len(seed) == 0 {
		signer, err = ethereum.NewSigner()
	} else {
		signer, err = ethereum.NewSignerFromSeed(seed)
	}
	if err != nil {
		return nil, err
	}
	return &ECDSAIssuer{signer: signer}, nil
}

func (i *ECDSAIssuer) Type() Type { return TypeTicketECDSA }

func (i *ECDSAIssuer) KeyID() string { return ECDSAKeyID(i.signer.Address().Bytes()) }

func (i *ECDSAIssuer) Issue(claim *TicketClaim) (*Ticket, error) {
	h, err := claim.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := i.signer.Sign(ClaimMessage(h))
	if err != nil {
		return nil, err
	}
	return &Ticket{
		Type:            TypeTicketECDSA,
		Claim:           claim,
		IssuerKey:       i.signer.Address().Bytes(),
		IssuerSignature: sig,
	}, nil
}

// Holder owns the BabyJubJub key a ticket is bound to.
type Holder struct {
	signer *eddsa.Signer
}

// NewHolder returns a holder with a random key.
func NewHolder() *Holder {
	return &Holder{signer: eddsa.NewSigner()}
}

// NewHolderFromSeed derives the holder key from seed.
func NewHolderFromSeed(seed []byte) (*Holder, error) {
	signer, err := eddsa.NewSignerFromSeed(seed)
	if err != nil {
		return nil, err
	}
	return &Holder{signer: signer}, nil
}

// PublicKey is the value issuers put in TicketClaim.HolderKey.
func (h *Holder) PublicKey() types.HexBytes {
	return h.signer.PublicKey()
}

// Present binds t to watermark. With discloseEmail false only the attendee
// commitment is revealed.
func (h *Holder) Present(t *Ticket, watermark *big.Int, discloseEmail bool) (*EligibilityCredential, error) {
	if t == nil || t.Claim == nil {
		return nil, fmt.Errorf("empty ticket")
	}
	if watermark == nil {
		return nil, fmt.Errorf("missing watermark")
	}
	claim := t.Claim
	if !discloseEmail {
		var err error
		if claim, err = claim.Redacted(); err != nil {
			return nil, err
		}
	}
	return &EligibilityCredential{
		Type:            t.Type,
		Claim:           claim,
		IssuerKey:       t.IssuerKey,
		IssuerSignature: t.IssuerSignature,
		Watermark:       types.NewBigInt(watermark),
		HolderSignature: h.signer.Sign(watermark),
	}, nil
}
