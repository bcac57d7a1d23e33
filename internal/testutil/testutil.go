// Package testutil builds elections, tickets and ballots for tests.
package testutil

import (
	"fmt"
	"net"
	"testing"

	"github.com/vocdoni/davinci-ticketvote/config"
	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/db/metadb"
	"github.com/vocdoni/davinci-ticketvote/encryption"
	"github.com/vocdoni/davinci-ticketvote/storage"
)

const (
	EventID   = "devcon-8"
	ProductID = "general-admission"
	MaxValue  = 10
	MaxVoters = 200
)

// Options are the options of the elections built by Election.
var Options = []string{"workshops", "parties", "grants"}

// NewStorage returns a storage on a temporary database closed when the
// test ends.
func NewStorage(tb testing.TB) *storage.Storage {
	return storage.New(metadb.NewTest(tb))
}

// NewIssuer returns an EdDSA ticket issuer with a key derived from seed.
func NewIssuer(tb testing.TB, seed string) *credential.EdDSAIssuer {
	issuer, err := credential.NewEdDSAIssuer([]byte(seed))
	if err != nil {
		tb.Fatal(err)
	}
	return issuer
}

// Election returns an open ended election trusting the given issuers.
func Election(id string, issuers ...credential.Issuer) *config.Election {
	e := &config.Election{
		ID:        id,
		Title:     "Budget allocation " + id,
		Options:   append([]string(nil), Options...),
		EventIDs:  []string{EventID},
		MaxValue:  MaxValue,
		MaxVoters: MaxVoters,
	}
	for _, issuer := range issuers {
		e.TrustedIssuers = append(e.TrustedIssuers, issuer.KeyID())
		e.CredentialType = issuer.Type()
	}
	return e
}

// Voter is a ticket holder.
type Voter struct {
	Holder *credential.Holder
	Ticket *credential.Ticket
}

// NewVoter issues ticketID for the test event to a new holder.
func NewVoter(tb testing.TB, issuer credential.Issuer, ticketID string) *Voter {
	holder := credential.NewHolder()
	ticket, err := issuer.Issue(&credential.TicketClaim{
		TicketID:      ticketID,
		EventID:       EventID,
		ProductID:     ProductID,
		AttendeeEmail: fmt.Sprintf("%s@example.org", ticketID),
		HolderKey:     holder.PublicKey(),
	})
	if err != nil {
		tb.Fatal(err)
	}
	return &Voter{Holder: holder, Ticket: ticket}
}

// Credential presents the voter ticket bound to the election watermark.
func (v *Voter) Credential(tb testing.TB, e *config.Election, ballot encryption.Ballot) *credential.EligibilityCredential {
	mode := e.WatermarkMode
	if mode == "" {
		mode = credential.WatermarkElection
	}
	wm, err := credential.WatermarkFor(e.ID, mode, ballot)
	if err != nil {
		tb.Fatal(err)
	}
	cred, err := v.Holder.Present(v.Ticket, wm, false)
	if err != nil {
		tb.Fatal(err)
	}
	return cred
}

// Nullifier returns the nullifier the voter ticket spends in an election.
func (v *Voter) Nullifier(tb testing.TB, electionID string) credential.Nullifier {
	seed, err := credential.TicketSeed(v.Ticket.Claim.TicketID)
	if err != nil {
		tb.Fatal(err)
	}
	n, err := credential.NullifierFor(electionID, seed)
	if err != nil {
		tb.Fatal(err)
	}
	return n
}

// Ballot encrypts one value per option.
func Ballot(tb testing.TB, pk *encryption.PublicKey, votes ...uint64) encryption.Ballot {
	ballot := make(encryption.Ballot, len(votes))
	for i, v := range votes {
		ct, err := encryption.Encrypt(v, pk)
		if err != nil {
			tb.Fatal(err)
		}
		ballot[i] = ct
	}
	return ballot
}

// FreePort returns a TCP port free at the time of the call.
func FreePort(tb testing.TB) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatal(err)
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}
