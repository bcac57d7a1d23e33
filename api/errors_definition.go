//nolint:lll
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/encryption"
	"github.com/vocdoni/davinci-ticketvote/finalizer"
	"github.com/vocdoni/davinci-ticketvote/sequencer"
	"github.com/vocdoni/davinci-ticketvote/storage"
)

// Error codes in the 40001-49999 range are the user's fault and return HTTP
// Status 400, 403, 404 or 409. Codes in the 50001-59999 range are the
// server's fault and return HTTP Status 500 or 503.
//
// NEVER change any of the current error codes or kinds, clients match on
// them. Only append new errors after the current last 4XXXX or 5XXXX.
var (
	ErrResourceNotFound    = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Kind: "request.not-found", Err: fmt.Errorf("resource not found")}
	ErrMalformedBody       = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Kind: "request.malformed-body", Err: fmt.Errorf("malformed JSON body")}
	ErrUnauthorized        = Error{Code: 40005, HTTPstatus: http.StatusForbidden, Kind: "request.unauthorized", Err: fmt.Errorf("unauthorized")}
	ErrMalformedNullifier  = Error{Code: 40006, HTTPstatus: http.StatusBadRequest, Kind: "request.malformed-nullifier", Err: fmt.Errorf("malformed nullifier")}
	ErrElectionNotFound    = Error{Code: 40007, HTTPstatus: http.StatusNotFound, Kind: "election.not-found", Err: sequencer.ErrElectionNotFound}
	ErrResultNotFound      = Error{Code: 40008, HTTPstatus: http.StatusNotFound, Kind: "election.no-result", Err: fmt.Errorf("election has no result yet")}
	ErrElectionTallied     = Error{Code: 40009, HTTPstatus: http.StatusConflict, Kind: "election.already-tallied", Err: finalizer.ErrAlreadyTallied}
	ErrProofMalformed      = Error{Code: 40010, HTTPstatus: http.StatusBadRequest, Kind: "proof.malformed", Err: credential.ErrMalformed}
	ErrProofBadSignature   = Error{Code: 40011, HTTPstatus: http.StatusBadRequest, Kind: "proof.bad-signature", Err: credential.ErrBadSignature}
	ErrProofIssuer         = Error{Code: 40012, HTTPstatus: http.StatusBadRequest, Kind: "proof.issuer-not-trusted", Err: credential.ErrIssuerNotTrusted}
	ErrProofIneligible     = Error{Code: 40013, HTTPstatus: http.StatusBadRequest, Kind: "proof.ineligible-ticket", Err: credential.ErrIneligibleTicket}
	ErrProofWatermark      = Error{Code: 40014, HTTPstatus: http.StatusBadRequest, Kind: "proof.watermark-mismatch", Err: credential.ErrWatermarkMismatch}
	ErrProofInvalid        = Error{Code: 40015, HTTPstatus: http.StatusBadRequest, Kind: "proof.invalid", Err: credential.ErrInvalidProof}
	ErrVoteDuplicate       = Error{Code: 40020, HTTPstatus: http.StatusConflict, Kind: "vote.duplicate", Err: sequencer.ErrDuplicateVote}
	ErrVoteMalformedBallot = Error{Code: 40021, HTTPstatus: http.StatusBadRequest, Kind: "vote.malformed-ballot", Err: sequencer.ErrMalformedBallot}
	ErrVoteKeyMismatch     = Error{Code: 40022, HTTPstatus: http.StatusBadRequest, Kind: "vote.key-mismatch", Err: encryption.ErrKeyMismatch}
	ErrVoteOutOfRange      = Error{Code: 40023, HTTPstatus: http.StatusBadRequest, Kind: "vote.out-of-range", Err: encryption.ErrOutOfRange}
	ErrVoteElectionClosed  = Error{Code: 40024, HTTPstatus: http.StatusBadRequest, Kind: "vote.election-closed", Err: sequencer.ErrElectionClosed}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Kind: "server.marshal", Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Kind: "server.internal", Err: fmt.Errorf("internal server error")}
	ErrRequestCancelled           = Error{Code: 50003, HTTPstatus: http.StatusServiceUnavailable, Kind: "server.cancelled", Err: fmt.Errorf("request cancelled")}
	ErrStorageUnavailable         = Error{Code: 50010, HTTPstatus: http.StatusServiceUnavailable, Kind: "storage.unavailable", Err: storage.ErrStorageUnavailable}
	ErrStorageCorrupt             = Error{Code: 50011, HTTPstatus: http.StatusInternalServerError, Kind: "storage.corrupt", Err: storage.ErrStorageCorrupt}
)

// domainErrors maps the domain sentinels to their API errors. The credential
// kinds precede ErrProofInvalid, their common parent.
var domainErrors = []Error{
	ErrProofMalformed,
	ErrProofBadSignature,
	ErrProofIssuer,
	ErrProofIneligible,
	ErrProofWatermark,
	ErrProofInvalid,
	ErrVoteDuplicate,
	ErrVoteMalformedBallot,
	ErrVoteKeyMismatch,
	ErrVoteOutOfRange,
	ErrVoteElectionClosed,
	ErrElectionNotFound,
	ErrElectionTallied,
	ErrStorageUnavailable,
	ErrStorageCorrupt,
}

// ErrorFor returns the API error of a domain error. Errors without a
// mapping are internal server errors.
func ErrorFor(err error) Error {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	for _, candidate := range domainErrors {
		if errors.Is(err, candidate.Err) {
			return Error{Err: err, Code: candidate.Code, HTTPstatus: candidate.HTTPstatus, Kind: candidate.Kind}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrRequestCancelled.WithErr(err)
	}
	return ErrGenericInternalServerError.WithErr(err)
}

// SentinelFor returns the domain sentinel of an API error kind, or nil if
// the kind has none.
func SentinelFor(kind string) error {
	for _, candidate := range domainErrors {
		if candidate.Kind == kind {
			return candidate.Err
		}
	}
	return nil
}
