package client

import (
	"context"
	"net/http"

	"github.com/vocdoni/davinci-ticketvote/api"
	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/encryption"
	"github.com/vocdoni/davinci-ticketvote/sequencer"
	"github.com/vocdoni/davinci-ticketvote/storage"
)

func electionPath(endpoint, electionID string) string {
	return api.EndpointWithParam(endpoint, api.ElectionURLParam, electionID)
}

// Elections lists the elections served by the node.
func (c *HTTPclient) Elections(ctx context.Context) ([]string, error) {
	list := &api.ElectionList{}
	if err := c.call(ctx, HTTPGET, nil, list, api.ElectionsEndpoint); err != nil {
		return nil, err
	}
	return list.Elections, nil
}

// Election returns the public information of an election.
func (c *HTTPclient) Election(ctx context.Context, electionID string) (*sequencer.ElectionInfo, error) {
	info := &sequencer.ElectionInfo{}
	if err := c.call(ctx, HTTPGET, nil, info, electionPath(api.ElectionEndpoint, electionID)); err != nil {
		return nil, err
	}
	return info, nil
}

// EncryptionKey fetches and decodes the public key of an election.
func (c *HTTPclient) EncryptionKey(ctx context.Context, electionID string) (*encryption.PublicKey, error) {
	data, status, err := c.Request(ctx, HTTPGET, nil, nil, electionPath(api.ElectionKeyEndpoint, electionID))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, replyError(status, data)
	}
	return encryption.PublicKeyFromBytes(data)
}

// SubmitVote sends a ballot and returns its receipt. The request is sent
// once: a transport error leaves the outcome unknown and is reported as
// ErrUnreachable.
func (c *HTTPclient) SubmitVote(ctx context.Context, vote *api.Vote) (*sequencer.Receipt, error) {
	receipt := &sequencer.Receipt{}
	if err := c.callWith(ctx, 1, HTTPPOST, vote, receipt, api.VotesEndpoint); err != nil {
		return nil, err
	}
	return receipt, nil
}

// VerifyProof asks the node to check a credential without voting.
func (c *HTTPclient) VerifyProof(ctx context.Context, req *api.VerifyProofRequest) (*api.VerifyProofResponse, error) {
	res := &api.VerifyProofResponse{}
	if err := c.call(ctx, HTTPPOST, req, res, api.VerifyProofEndpoint); err != nil {
		return nil, err
	}
	return res, nil
}

// NullifierStatus returns the ledger state of a nullifier.
func (c *HTTPclient) NullifierStatus(ctx context.Context, electionID string, nullifier credential.Nullifier) (*api.NullifierStatus, error) {
	endpoint := electionPath(api.ElectionNullifierEndpoint, electionID)
	endpoint = api.EndpointWithParam(endpoint, api.NullifierURLParam, nullifier.String())
	status := &api.NullifierStatus{}
	if err := c.call(ctx, HTTPGET, nil, status, endpoint); err != nil {
		return nil, err
	}
	return status, nil
}

// CloseElection closes and tallies an election. It needs the admin token
// set with SetAuthToken.
func (c *HTTPclient) CloseElection(ctx context.Context, electionID string) (*storage.Result, error) {
	res := &storage.Result{}
	if err := c.call(ctx, HTTPPOST, nil, res, electionPath(api.ElectionCloseEndpoint, electionID)); err != nil {
		return nil, err
	}
	return res, nil
}

// Results returns the result of a tallied election.
func (c *HTTPclient) Results(ctx context.Context, electionID string) (*storage.Result, error) {
	res := &storage.Result{}
	if err := c.call(ctx, HTTPGET, nil, res, electionPath(api.ElectionResultsEndpoint, electionID)); err != nil {
		return nil, err
	}
	return res, nil
}
