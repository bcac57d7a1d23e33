package api

import (
	"errors"
	"net/http"

	"github.com/vocdoni/davinci-ticketvote/credential"
)

// newVote admits a ballot into the election tally.
// POST /votes
func (a *API) newVote(w http.ResponseWriter, r *http.Request) {
	vote := &Vote{}
	if !decodeJSONBody(w, r, vote) {
		return
	}
	if vote.ElectionID == "" {
		ErrMalformedBody.With("missing electionId").Write(w)
		return
	}
	receipt, err := a.seq.Submit(r.Context(), vote.ElectionID, vote.Proof, vote.Votes)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	httpWriteJSON(w, receipt)
}

// verifyProof checks a credential against the election rules without
// spending it.
// POST /proofs/verify
func (a *API) verifyProof(w http.ResponseWriter, r *http.Request) {
	req := &VerifyProofRequest{}
	if !decodeJSONBody(w, r, req) {
		return
	}
	if req.ElectionID == "" {
		ErrMalformedBody.With("missing electionId").Write(w)
		return
	}
	_, err := a.seq.VerifyProof(r.Context(), req.ElectionID, req.Proof, req.Votes)
	if err == nil {
		httpWriteJSON(w, &VerifyProofResponse{Verified: true, Message: "credential verified"})
		return
	}
	if !errors.Is(err, credential.ErrInvalidProof) {
		ErrorFor(err).Write(w)
		return
	}
	httpWriteJSON(w, &VerifyProofResponse{Message: err.Error(), Kind: ErrorFor(err).Kind})
}
