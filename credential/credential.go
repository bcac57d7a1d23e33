// Package credential verifies eligibility credentials: proofs that a voter
// holds a ticket of an eligible event, issued by a trusted issuer, bound to
// the current voting interaction and to a single-use nullifier.
//
// Verification is pure. The same Verifier runs in the voter session as an
// advisory check and in the sequencer as the authoritative one.
package credential

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/vocdoni/davinci-ticketvote/crypto"
	"github.com/vocdoni/davinci-ticketvote/crypto/hash/poseidon"
	"github.com/vocdoni/davinci-ticketvote/types"
)

// Type selects the proof system of a credential.
type Type string

const (
	// TypeTicketEdDSA is a ticket claim signed by a BabyJubJub issuer.
	TypeTicketEdDSA Type = "ticket-eddsa-bjj"
	// TypeTicketECDSA is a ticket claim signed by a secp256k1 issuer.
	TypeTicketECDSA Type = "ticket-ecdsa-secp256k1"
	// TypeGroth16 is a zero-knowledge proof over BN254.
	TypeGroth16 Type = "groth16-bn254"
)

// Types lists the supported credential types.
var Types = []Type{TypeTicketEdDSA, TypeTicketECDSA, TypeGroth16}

// Valid reports whether t is a supported credential type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidProof is the parent of every verification failure.
	ErrInvalidProof = errors.New("invalid credential")
	// ErrMalformed is returned when the credential does not decode to the
	// schema of its type.
	ErrMalformed = fmt.Errorf("%w: malformed", ErrInvalidProof)
	// ErrBadSignature is returned when a signature or the proof does not
	// verify.
	ErrBadSignature = fmt.Errorf("%w: bad signature", ErrInvalidProof)
	// ErrIssuerNotTrusted is returned when the issuer key is not trusted by
	// the election.
	ErrIssuerNotTrusted = fmt.Errorf("%w: issuer not trusted", ErrInvalidProof)
	// ErrIneligibleTicket is returned when the event or product is not part
	// of the election's eligibility set.
	ErrIneligibleTicket = fmt.Errorf("%w: ineligible ticket", ErrInvalidProof)
	// ErrWatermarkMismatch is returned when the credential is bound to a
	// different interaction.
	ErrWatermarkMismatch = fmt.Errorf("%w: watermark mismatch", ErrInvalidProof)
)

// TicketClaim is the statement an issuer signs for a ticket holder. Either
// the attendee email is disclosed, or only its commitment.
type TicketClaim struct {
	TicketID           string         `json:"ticketId"`
	EventID            string         `json:"eventId"`
	ProductID          string         `json:"productId"`
	AttendeeEmail      string         `json:"attendeeEmail,omitempty"`
	AttendeeCommitment *types.BigInt  `json:"attendeeCommitment,omitempty"`
	HolderKey          types.HexBytes `json:"holderKey"`
}

// EligibilityCredential is the proof object submitted with a ballot.
// Ticket types fill Claim, IssuerKey, IssuerSignature and HolderSignature;
// groth16 fills Proof and PublicInputs.
type EligibilityCredential struct {
	Type            Type            `json:"type"`
	Claim           *TicketClaim    `json:"claim,omitempty"`
	IssuerKey       types.HexBytes  `json:"issuerKey,omitempty"`
	IssuerSignature types.HexBytes  `json:"issuerSignature,omitempty"`
	Watermark       *types.BigInt   `json:"watermark,omitempty"`
	HolderSignature types.HexBytes  `json:"holderSignature,omitempty"`
	Proof           types.HexBytes  `json:"proof,omitempty"`
	PublicInputs    []*types.BigInt `json:"publicInputs,omitempty"`
}

// ClaimedAttributes are the facts established by a valid credential.
type ClaimedAttributes struct {
	Type               Type      `json:"type"`
	IssuerKeyID        string    `json:"issuerKeyId"`
	EventID            string    `json:"eventId"`
	ProductID          string    `json:"productId"`
	AttendeeEmail      string    `json:"attendeeEmail,omitempty"`
	AttendeeCommitment *big.Int  `json:"-"`
	Nullifier          Nullifier `json:"nullifier"`
}

// Key id prefixes used in the trusted issuer sets.
const (
	keyIDEdDSA   = "eddsa:"
	keyIDECDSA   = "ecdsa:"
	keyIDGroth16 = "groth16:"
)

// EdDSAKeyID returns the trusted issuer id of a compressed BabyJubJub key.
func EdDSAKeyID(pub []byte) string {
	return keyIDEdDSA + types.HexBytes(pub).Hex()
}

// ECDSAKeyID returns the trusted issuer id of a 20-byte address.
func ECDSAKeyID(addr []byte) string {
	return keyIDECDSA + types.HexBytes(addr).String()
}

// Groth16KeyID returns the trusted issuer id of an issuer key hash, the
// third public input of a groth16 credential.
func Groth16KeyID(issuerKeyHash *big.Int) string {
	return keyIDGroth16 + issuerKeyHash.String()
}

// NormalizeKeyID lowercases hex key ids so that configured and computed ids
// compare equal.
func NormalizeKeyID(id string) (string, error) {
	id = strings.TrimSpace(id)
	switch {
	case strings.HasPrefix(id, keyIDEdDSA):
		key, err := types.HexStringToHexBytes(strings.TrimPrefix(id, keyIDEdDSA))
		if err != nil {
			return "", err
		}
		return EdDSAKeyID(key), nil
	case strings.HasPrefix(id, keyIDECDSA):
		addr, err := types.HexStringToHexBytes(strings.TrimPrefix(id, keyIDECDSA))
		if err != nil {
			return "", err
		}
		if len(addr) != 20 {
			return "", fmt.Errorf("invalid address length %d", len(addr))
		}
		return ECDSAKeyID(addr), nil
	case strings.HasPrefix(id, keyIDGroth16):
		h, ok := new(big.Int).SetString(strings.TrimPrefix(id, keyIDGroth16), 10)
		if !ok {
			return "", fmt.Errorf("invalid issuer key hash in %q", id)
		}
		return Groth16KeyID(h), nil
	}
	return "", fmt.Errorf("unknown issuer key id format %q", id)
}

// EmailCommitment is the commitment stored in a claim instead of the email.
func EmailCommitment(email string) (*big.Int, error) {
	return poseidon.HashString(strings.ToLower(strings.TrimSpace(email)))
}

// commitment returns the attendee commitment of the claim. When the email is
// disclosed the commitment is recomputed and must match the stated one.
func (c *TicketClaim) commitment() (*big.Int, error) {
	if c.AttendeeEmail == "" {
		if c.AttendeeCommitment == nil {
			return nil, fmt.Errorf("%w: claim has neither attendee email nor commitment", ErrMalformed)
		}
		commitment := c.AttendeeCommitment.MathBigInt()
		if commitment.Sign() < 0 || commitment.Cmp(crypto.SNARKField()) >= 0 {
			return nil, fmt.Errorf("%w: attendee commitment outside the field", ErrMalformed)
		}
		return commitment, nil
	}
	commitment, err := EmailCommitment(c.AttendeeEmail)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.AttendeeCommitment != nil && c.AttendeeCommitment.MathBigInt().Cmp(commitment) != 0 {
		return nil, fmt.Errorf("%w: attendee email does not match its commitment", ErrMalformed)
	}
	return commitment, nil
}

// Hash returns the Poseidon hash the issuer signs. It commits to the email
// commitment, so a redacted claim keeps a valid issuer signature.
func (c *TicketClaim) Hash() (*big.Int, error) {
	if c.TicketID == "" || c.EventID == "" || c.ProductID == "" {
		return nil, fmt.Errorf("%w: claim requires ticketId, eventId and productId", ErrMalformed)
	}
	commitment, err := c.commitment()
	if err != nil {
		return nil, err
	}
	inputs := []*big.Int{commitment}
	for _, s := range []string{c.TicketID, c.EventID, c.ProductID} {
		h, err := poseidon.HashString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		inputs = append(inputs, h)
	}
	holder, err := poseidon.HashBytes(c.HolderKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return poseidon.MultiPoseidon(append(inputs, holder)...)
}

// Redacted returns a copy of the claim that discloses only the attendee
// commitment.
func (c *TicketClaim) Redacted() (*TicketClaim, error) {
	commitment, err := c.commitment()
	if err != nil {
		return nil, err
	}
	redacted := *c
	redacted.AttendeeEmail = ""
	redacted.AttendeeCommitment = types.NewBigInt(commitment)
	return &redacted, nil
}
