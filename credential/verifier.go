package credential

import (
	"context"
	"fmt"
	"math/big"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/vocdoni/davinci-ticketvote/crypto"
	"github.com/vocdoni/davinci-ticketvote/crypto/hash/poseidon"
	"github.com/vocdoni/davinci-ticketvote/crypto/signatures/eddsa"
	"github.com/vocdoni/davinci-ticketvote/crypto/signatures/ethereum"
)

// Rules are the eligibility rules of one election.
type Rules struct {
	ElectionID     string
	Type           Type
	TrustedIssuers []string
	EventIDs       []string
	// ProductIDs restricts eligible products. Empty accepts every product of
	// an eligible event.
	ProductIDs []string
	// VerifyingKey is required for groth16 credentials.
	VerifyingKey groth16.VerifyingKey
}

// Verifier checks credentials against the rules of one election. It is safe
// for concurrent use.
type Verifier struct {
	electionID string
	typ        Type
	trusted    map[string]struct{}
	// events and products map the attribute hash to the attribute id.
	events   map[string]string
	products map[string]string
	vk       groth16.VerifyingKey
}

// AttributeHash is the field element an event or product id is committed
// as in a groth16 credential.
func AttributeHash(id string) (*big.Int, error) {
	return poseidon.HashString(id)
}

// NewVerifier builds a verifier from rules.
func NewVerifier(rules Rules) (*Verifier, error) {
	if rules.ElectionID == "" {
		return nil, fmt.Errorf("missing election id")
	}
	if !rules.Type.Valid() {
		return nil, fmt.Errorf("unknown credential type %q", rules.Type)
	}
	if len(rules.EventIDs) == 0 {
		return nil, fmt.Errorf("at least one eligible event is required")
	}
	if rules.Type == TypeGroth16 && rules.VerifyingKey == nil {
		return nil, fmt.Errorf("%s credentials require a verifying key", rules.Type)
	}
	v := &Verifier{
		electionID: rules.ElectionID,
		typ:        rules.Type,
		trusted:    make(map[string]struct{}, len(rules.TrustedIssuers)),
		events:     make(map[string]string, len(rules.EventIDs)),
		products:   make(map[string]string, len(rules.ProductIDs)),
		vk:         rules.VerifyingKey,
	}
	for _, id := range rules.TrustedIssuers {
		normalized, err := NormalizeKeyID(id)
		if err != nil {
			return nil, fmt.Errorf("trusted issuer: %w", err)
		}
		v.trusted[normalized] = struct{}{}
	}
	index := func(dst map[string]string, ids []string) error {
		for _, id := range ids {
			h, err := AttributeHash(id)
			if err != nil {
				return err
			}
			dst[h.String()] = id
		}
		return nil
	}
	if err := index(v.events, rules.EventIDs); err != nil {
		return nil, err
	}
	if err := index(v.products, rules.ProductIDs); err != nil {
		return nil, err
	}
	return v, nil
}

// Type returns the credential type accepted by the verifier.
func (v *Verifier) Type() Type {
	return v.typ
}

// Verify checks cred and returns its attributes. Failures wrap one of
// ErrMalformed, ErrBadSignature, ErrIssuerNotTrusted, ErrIneligibleTicket
// or ErrWatermarkMismatch, checked in that order.
func (v *Verifier) Verify(ctx context.Context, cred *EligibilityCredential, expectedWatermark *big.Int) (*ClaimedAttributes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: empty credential", ErrMalformed)
	}
	if expectedWatermark == nil {
		return nil, fmt.Errorf("missing expected watermark")
	}
	if cred.Type != v.typ {
		return nil, fmt.Errorf("%w: credential type %q, election accepts %q", ErrMalformed, cred.Type, v.typ)
	}
	switch cred.Type {
	case TypeTicketEdDSA, TypeTicketECDSA:
		return v.verifyTicket(cred, expectedWatermark)
	default:
		return v.verifyGroth16(cred, expectedWatermark)
	}
}

// ticket is a decoded ticket credential.
type ticket struct {
	claimHash *big.Int
	holder    *babyjub.PublicKey
	watermark *big.Int
	keyID     string
	verify    func() error
}

func (v *Verifier) decodeTicket(cred *EligibilityCredential) (*ticket, error) {
	if cred.Claim == nil {
		return nil, fmt.Errorf("%w: missing claim", ErrMalformed)
	}
	claimHash, err := cred.Claim.Hash()
	if err != nil {
		return nil, err
	}
	holder, err := eddsa.PublicKeyFromBytes(cred.Claim.HolderKey)
	if err != nil {
		return nil, fmt.Errorf("%w: holder key: %v", ErrMalformed, err)
	}
	if cred.Watermark == nil {
		return nil, fmt.Errorf("%w: missing watermark", ErrMalformed)
	}
	if _, err := eddsa.SignatureFromBytes(cred.HolderSignature); err != nil {
		return nil, fmt.Errorf("%w: holder signature: %v", ErrMalformed, err)
	}
	t := &ticket{claimHash: claimHash, holder: holder, watermark: cred.Watermark.MathBigInt()}

	switch cred.Type {
	case TypeTicketEdDSA:
		issuer, err := eddsa.PublicKeyFromBytes(cred.IssuerKey)
		if err != nil {
			return nil, fmt.Errorf("%w: issuer key: %v", ErrMalformed, err)
		}
		if _, err := eddsa.SignatureFromBytes(cred.IssuerSignature); err != nil {
			return nil, fmt.Errorf("%w: issuer signature: %v", ErrMalformed, err)
		}
		t.keyID = EdDSAKeyID(cred.IssuerKey)
		t.verify = func() error {
			return eddsa.Verify(issuer, claimHash, cred.IssuerSignature)
		}
	default:
		if len(cred.IssuerKey) != common.AddressLength {
			return nil, fmt.Errorf("%w: issuer address has %d bytes", ErrMalformed, len(cred.IssuerKey))
		}
		if len(cred.IssuerSignature) != ethereum.SignatureLength {
			return nil, fmt.Errorf("%w: issuer signature has %d bytes", ErrMalformed, len(cred.IssuerSignature))
		}
		addr := common.BytesToAddress(cred.IssuerKey)
		t.keyID = ECDSAKeyID(addr.Bytes())
		t.verify = func() error {
			return ethereum.Verify(ClaimMessage(claimHash), cred.IssuerSignature, addr)
		}
	}
	return t, nil
}

// ClaimMessage is the personal message a secp256k1 issuer signs.
func ClaimMessage(claimHash *big.Int) []byte {
	return crypto.PadTo32(claimHash.Bytes())
}

func (v *Verifier) verifyTicket(cred *EligibilityCredential, expectedWatermark *big.Int) (*ClaimedAttributes, error) {
	t, err := v.decodeTicket(cred)
	if err != nil {
		return nil, err
	}
	if err := t.verify(); err != nil {
		return nil, fmt.Errorf("%w: issuer: %v", ErrBadSignature, err)
	}
	if err := eddsa.Verify(t.holder, t.watermark, cred.HolderSignature); err != nil {
		return nil, fmt.Errorf("%w: holder: %v", ErrBadSignature, err)
	}
	if _, ok := v.trusted[t.keyID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrIssuerNotTrusted, t.keyID)
	}
	if err := v.checkEligible(cred.Claim.EventID, cred.Claim.ProductID); err != nil {
		return nil, err
	}
	if t.watermark.Cmp(expectedWatermark) != 0 {
		return nil, fmt.Errorf("%w: credential bound to %s", ErrWatermarkMismatch, t.watermark)
	}
	seed, err := TicketSeed(cred.Claim.TicketID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	nullifier, err := NullifierFor(v.electionID, seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	commitment, err := cred.Claim.commitment()
	if err != nil {
		return nil, err
	}
	return &ClaimedAttributes{
		Type:               cred.Type,
		IssuerKeyID:        t.keyID,
		EventID:            cred.Claim.EventID,
		ProductID:          cred.Claim.ProductID,
		AttendeeEmail:      cred.Claim.AttendeeEmail,
		AttendeeCommitment: commitment,
		Nullifier:          nullifier,
	}, nil
}

func (v *Verifier) checkEligible(eventID, productID string) error {
	eh, err := AttributeHash(eventID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ph, err := AttributeHash(productID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	_, _, err = v.eligible(eh, ph)
	return err
}

// eligible resolves attribute hashes to ids, failing with
// ErrIneligibleTicket when they are not part of the eligibility set.
func (v *Verifier) eligible(eventHash, productHash *big.Int) (eventID, productID string, err error) {
	eventID, ok := v.events[eventHash.String()]
	if !ok {
		return "", "", fmt.Errorf("%w: event not eligible", ErrIneligibleTicket)
	}
	if len(v.products) == 0 {
		return eventID, "", nil
	}
	productID, ok = v.products[productHash.String()]
	if !ok {
		return "", "", fmt.Errorf("%w: product not eligible", ErrIneligibleTicket)
	}
	return eventID, productID, nil
}

func (v *Verifier) verifyGroth16(cred *EligibilityCredential, expectedWatermark *big.Int) (*ClaimedAttributes, error) {
	proof, in, err := decodeGroth16(cred)
	if err != nil {
		return nil, err
	}
	if err := verifyGroth16(v.vk, proof, in); err != nil {
		return nil, err
	}
	keyID := Groth16KeyID(in.issuerKeyHash)
	if _, ok := v.trusted[keyID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrIssuerNotTrusted, keyID)
	}
	eventID, productID, err := v.eligible(in.eventHash, in.productHash)
	if err != nil {
		return nil, err
	}
	if in.watermark.Cmp(expectedWatermark) != 0 {
		return nil, fmt.Errorf("%w: credential bound to %s", ErrWatermarkMismatch, in.watermark)
	}
	nullifier, err := NullifierFor(v.electionID, in.nullifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &ClaimedAttributes{
		Type:        cred.Type,
		IssuerKeyID: keyID,
		EventID:     eventID,
		ProductID:   productID,
		Nullifier:   nullifier,
	}, nil
}
