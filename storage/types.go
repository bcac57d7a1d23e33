package storage

import (
	"time"

	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/encryption"
	"github.com/vocdoni/davinci-ticketvote/types"
)

// ElectionStatus is the lifecycle state of an election.
type ElectionStatus string

const (
	// ElectionStatusOpen accepts ballots.
	ElectionStatusOpen ElectionStatus = "open"
	// ElectionStatusClosed is frozen. No more folds are applied.
	ElectionStatusClosed ElectionStatus = "closed"
	// ElectionStatusTallied has a stored result and no secret key.
	ElectionStatusTallied ElectionStatus = "tallied"
)

// Election is the persisted state of an election. The immutable definition
// lives in the election configuration.
type Election struct {
	ID         string         `json:"id" cbor:"1,keyasint"`
	Status     ElectionStatus `json:"status" cbor:"2,keyasint"`
	NumOptions int            `json:"numOptions" cbor:"3,keyasint"`
	Scheme     string         `json:"scheme" cbor:"4,keyasint"`
	KeyID      types.HexBytes `json:"keyId" cbor:"5,keyasint"`
	OpenedAt   time.Time      `json:"openedAt" cbor:"6,keyasint"`
	ClosedAt   time.Time      `json:"closedAt,omitzero" cbor:"7,keyasint,omitempty"`
}

// EncryptionKeys holds the key pair of an election. SecretKey is nil once
// the key has been retired.
type EncryptionKeys struct {
	PublicKey *encryption.PublicKey `cbor:"1,keyasint"`
	SecretKey *encryption.SecretKey `cbor:"2,keyasint,omitempty"`
}

// SpentRecord is the ledger entry of a nullifier.
type SpentRecord struct {
	Spent     bool      `json:"spent" cbor:"1,keyasint"`
	Timestamp time.Time `json:"timestamp" cbor:"2,keyasint"`
}

// Accumulator is the running encrypted tally of an election, one
// ciphertext per option.
type Accumulator struct {
	ElectionID  string                   `json:"electionId" cbor:"1,keyasint"`
	Ciphertexts []*encryption.Ciphertext `json:"ciphertexts" cbor:"2,keyasint"`
	Ballots     uint64                   `json:"ballots" cbor:"3,keyasint"`
}

// Clone returns a copy that shares no slices with a.
func (a *Accumulator) Clone() *Accumulator {
	out := &Accumulator{ElectionID: a.ElectionID, Ballots: a.Ballots}
	out.Ciphertexts = make([]*encryption.Ciphertext, len(a.Ciphertexts))
	for i, c := range a.Ciphertexts {
		cc := *c
		out.Ciphertexts[i] = &cc
	}
	return out
}

// FoldFunc computes the next accumulator from the current one. It must not
// modify its argument.
type FoldFunc func(current *Accumulator) (*Accumulator, error)

// Result is the decrypted tally of a closed election.
type Result struct {
	ElectionID string    `json:"electionId" cbor:"1,keyasint"`
	Options    []string  `json:"options" cbor:"2,keyasint"`
	Tally      []uint64  `json:"tally" cbor:"3,keyasint"`
	Ballots    uint64    `json:"ballots" cbor:"4,keyasint"`
	ClosedAt   time.Time `json:"closedAt" cbor:"5,keyasint"`
	CID        string    `json:"cid" cbor:"6,keyasint"`
}

// ledgerKey is the nl/ key of a nullifier.
func ledgerKey(electionID string, nullifier credential.Nullifier) []byte {
	key := make([]byte, 0, len(electionID)+1+credential.NullifierSize)
	key = append(key, electionID...)
	key = append(key, '/')
	return append(key, nullifier[:]...)
}
