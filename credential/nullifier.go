package credential

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/vocdoni/davinci-ticketvote/crypto"
	"github.com/vocdoni/davinci-ticketvote/crypto/hash/poseidon"
	"github.com/vocdoni/davinci-ticketvote/encryption"
	"github.com/vocdoni/davinci-ticketvote/types"
)

// NullifierSize is the size of an encoded nullifier.
const NullifierSize = crypto.FieldElementSize

// nullifierTag separates nullifiers from other Poseidon outputs ("nulf").
var nullifierTag = big.NewInt(0x6e756c66)

// Nullifier identifies a credential instance within one election. It is a
// big-endian BN254 field element.
type Nullifier [NullifierSize]byte

// NullifierFor derives the nullifier of seed for electionID.
func NullifierFor(electionID string, seed *big.Int) (Nullifier, error) {
	if seed == nil {
		return Nullifier{}, fmt.Errorf("nil nullifier seed")
	}
	eid, err := poseidon.HashString(electionID)
	if err != nil {
		return Nullifier{}, err
	}
	h, err := poseidon.MultiPoseidon(nullifierTag, crypto.BigToFF(crypto.SNARKField(), seed), eid)
	if err != nil {
		return Nullifier{}, err
	}
	var n Nullifier
	h.FillBytes(n[:])
	return n, nil
}

// TicketSeed is the nullifier seed of a ticket credential.
func TicketSeed(ticketID string) (*big.Int, error) {
	return poseidon.HashString(ticketID)
}

// ClaimedNullifier returns the nullifier cred spends in electionID. The
// credential is not verified.
func ClaimedNullifier(electionID string, cred *EligibilityCredential) (Nullifier, error) {
	if cred == nil {
		return Nullifier{}, fmt.Errorf("%w: empty credential", ErrMalformed)
	}
	switch cred.Type {
	case TypeTicketEdDSA, TypeTicketECDSA:
		if cred.Claim == nil {
			return Nullifier{}, fmt.Errorf("%w: missing claim", ErrMalformed)
		}
		seed, err := TicketSeed(cred.Claim.TicketID)
		if err != nil {
			return Nullifier{}, err
		}
		return NullifierFor(electionID, seed)
	case TypeGroth16:
		_, in, err := decodeGroth16(cred)
		if err != nil {
			return Nullifier{}, err
		}
		return NullifierFor(electionID, in.nullifier)
	default:
		return Nullifier{}, fmt.Errorf("%w: unknown credential type %q", ErrMalformed, cred.Type)
	}
}

// NullifierFromHex parses the text encoding of a nullifier.
func NullifierFromHex(s string) (Nullifier, error) {
	b, err := types.HexStringToHexBytes(s)
	if err != nil {
		return Nullifier{}, err
	}
	if len(b) != NullifierSize {
		return Nullifier{}, fmt.Errorf("invalid nullifier length %d", len(b))
	}
	var n Nullifier
	copy(n[:], b)
	return n, nil
}

// Bytes returns a copy of the nullifier bytes.
func (n Nullifier) Bytes() []byte {
	return append([]byte(nil), n[:]...)
}

// BigInt returns the field element view of the nullifier.
func (n Nullifier) BigInt() *big.Int {
	return new(big.Int).SetBytes(n[:])
}

func (n Nullifier) String() string {
	return "0x" + hex.EncodeToString(n[:])
}

func (n Nullifier) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *Nullifier) UnmarshalText(data []byte) error {
	parsed, err := NullifierFromHex(string(data))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// WatermarkMode selects what a credential is bound to.
type WatermarkMode string

const (
	// WatermarkElection binds a credential to the election.
	WatermarkElection WatermarkMode = "election"
	// WatermarkBallot binds a credential to the election and to one ballot,
	// so a relayed proof cannot carry a different ballot.
	WatermarkBallot WatermarkMode = "ballot"
)

// Valid reports whether m is a known mode.
func (m WatermarkMode) Valid() bool {
	return m == WatermarkElection || m == WatermarkBallot
}

// WatermarkFor derives the watermark a credential must carry when
// submitting ballot to electionID. ballot is ignored in election mode.
func WatermarkFor(electionID string, mode WatermarkMode, ballot encryption.Ballot) (*big.Int, error) {
	eid, err := poseidon.HashString(electionID)
	if err != nil {
		return nil, err
	}
	switch mode {
	case WatermarkElection:
		return poseidon.MultiPoseidon(eid)
	case WatermarkBallot:
		if len(ballot) == 0 {
			return nil, fmt.Errorf("ballot watermark requires a ballot")
		}
		digest, err := poseidon.HashBytes(ballot.Digest())
		if err != nil {
			return nil, err
		}
		return poseidon.MultiPoseidon(eid, digest)
	default:
		return nil, fmt.Errorf("unknown watermark mode %q", mode)
	}
}
