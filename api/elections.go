package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/storage"
)

// elections lists the elections served by the node.
// GET /elections
func (a *API) elections(w http.ResponseWriter, r *http.Request) {
	httpWriteJSON(w, &ElectionList{Elections: a.seq.Elections()})
}

// election returns the public information of an election.
// GET /elections/{electionId}
func (a *API) election(w http.ResponseWriter, r *http.Request) {
	info, err := a.seq.ElectionInfo(chi.URLParam(r, ElectionURLParam))
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	httpWriteJSON(w, info)
}

// encryptionKey returns the CBOR envelope of the election public key.
// GET /elections/{electionId}/encryptionKey
func (a *API) encryptionKey(w http.ResponseWriter, r *http.Request) {
	pk, err := a.seq.PublicKey(chi.URLParam(r, ElectionURLParam))
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	data, err := pk.Bytes()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteBinary(w, data)
}

// nullifierStatus reports whether a nullifier was spent.
// GET /elections/{electionId}/nullifiers/{nullifier}
func (a *API) nullifierStatus(w http.ResponseWriter, r *http.Request) {
	electionID := chi.URLParam(r, ElectionURLParam)
	nullifier, err := credential.NullifierFromHex(chi.URLParam(r, NullifierURLParam))
	if err != nil {
		ErrMalformedNullifier.WithErr(err).Write(w)
		return
	}
	status := &NullifierStatus{ElectionID: electionID, Nullifier: nullifier}
	record, err := a.seq.IsSpent(electionID, nullifier)
	switch {
	case err == nil:
		status.Spent = record.Spent
		status.Timestamp = record.Timestamp
	case errors.Is(err, storage.ErrNotFound):
	default:
		ErrorFor(err).Write(w)
		return
	}
	httpWriteJSON(w, status)
}

// results returns the result of a tallied election.
// GET /elections/{electionId}/results
func (a *API) results(w http.ResponseWriter, r *http.Request) {
	electionID := chi.URLParam(r, ElectionURLParam)
	if _, err := a.seq.Election(electionID); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	res, err := a.stg.Result(electionID)
	if errors.Is(err, storage.ErrNotFound) {
		ErrResultNotFound.Write(w)
		return
	}
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	httpWriteJSON(w, res)
}

// closeElection freezes an election and decrypts its tally.
// POST /elections/{electionId}/close
func (a *API) closeElection(w http.ResponseWriter, r *http.Request) {
	res, err := a.tallier.CloseAndDecrypt(r.Context(), chi.URLParam(r, ElectionURLParam))
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	httpWriteJSON(w, res)
}
