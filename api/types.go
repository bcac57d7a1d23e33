package api

import (
	"time"

	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/encryption"
)

// Vote is the body of a ballot submission: one ciphertext per option and
// the eligibility credential bound to it.
type Vote struct {
	ElectionID string                            `json:"electionId"`
	Votes      encryption.Ballot                 `json:"votes"`
	Proof      *credential.EligibilityCredential `json:"proof"`
}

// VerifyProofRequest asks for a stand-alone credential check. Votes is only
// needed for elections in ballot watermark mode.
type VerifyProofRequest struct {
	ElectionID string                            `json:"electionId"`
	Proof      *credential.EligibilityCredential `json:"proof"`
	Votes      encryption.Ballot                 `json:"votes,omitempty"`
}

// VerifyProofResponse is the outcome of a credential check. A rejected
// credential is not an HTTP error.
type VerifyProofResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
	Kind     string `json:"kind,omitempty"`
}

// ElectionList is the list of elections served by the node.
type ElectionList struct {
	Elections []string `json:"elections"`
}

// NullifierStatus is the ledger state of a nullifier.
type NullifierStatus struct {
	ElectionID string               `json:"electionId"`
	Nullifier  credential.Nullifier `json:"nullifier"`
	Spent      bool                 `json:"spent"`
	Timestamp  time.Time            `json:"timestamp,omitzero"`
}
