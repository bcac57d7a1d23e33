package api

import (
	"fmt"
	"net/url"
	"strings"
)

// Route constants for the API endpoints

const (
	// Health endpoints
	PingEndpoint = "/ping" // Health check endpoint

	// Election endpoints
	ElectionURLParam          = "electionId"                                                 // URL parameter for election ID
	NullifierURLParam         = "nullifier"                                                  // URL parameter for a nullifier
	ElectionsEndpoint         = "/elections"                                                 // GET: List elections
	ElectionEndpoint          = ElectionsEndpoint + "/{" + ElectionURLParam + "}"            // GET: Election info
	ElectionKeyEndpoint       = ElectionEndpoint + "/encryptionKey"                          // GET: Serialized election public key
	ElectionNullifierEndpoint = ElectionEndpoint + "/nullifiers/{" + NullifierURLParam + "}" // GET: Nullifier spent status
	ElectionCloseEndpoint     = ElectionEndpoint + "/close"                                  // POST: Close and tally (admin)
	ElectionResultsEndpoint   = ElectionEndpoint + "/results"                                // GET: Election result

	// Vote endpoints
	VotesEndpoint = "/votes" // POST: Submit a vote

	// Proof endpoints
	VerifyProofEndpoint = "/proofs/verify" // POST: Verify a credential without voting
)

// EndpointWithParam creates an endpoint URL by replacing the parameter
// placeholder with the actual value. Used to build fully qualified
// endpoint URLs.
func EndpointWithParam(path, key, param string) string {
	rawKey := fmt.Sprintf("{%s}", key)

	// Always try to replace the placeholder, even if it's after the '?'
	if strings.Contains(path, rawKey) {
		return strings.Replace(path, rawKey, url.PathEscape(param), 1)
	}

	// Fallback: add as query param
	escapedKey := url.QueryEscape(key)
	escapedVal := url.QueryEscape(param)

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return fmt.Sprintf("%s%s%s=%s", path, sep, escapedKey, escapedVal)
}

// LogExcludedPrefixes defines URL prefixes to exclude from request logging
var LogExcludedPrefixes = []string{
	PingEndpoint,
}

// LogBodyExcludedPrefixes defines URL prefixes whose request bodies are
// never logged, since they carry credentials.
var LogBodyExcludedPrefixes = []string{
	VotesEndpoint,
	VerifyProofEndpoint,
}
