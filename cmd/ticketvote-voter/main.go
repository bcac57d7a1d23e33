package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/vocdoni/davinci-ticketvote/api"
	"github.com/vocdoni/davinci-ticketvote/api/client"
	"github.com/vocdoni/davinci-ticketvote/config"
	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/db"
	"github.com/vocdoni/davinci-ticketvote/db/metadb"
	"github.com/vocdoni/davinci-ticketvote/log"
	"github.com/vocdoni/davinci-ticketvote/sequencer"
	"github.com/vocdoni/davinci-ticketvote/service"
	"github.com/vocdoni/davinci-ticketvote/storage"
	"github.com/vocdoni/davinci-ticketvote/voter"
)

const (
	defaultLocalHost = "127.0.0.1"
	defaultLocalPort = 8080
	demoEventID      = "demo-event"
	demoProductID    = "general-admission"
	localAdminToken  = "local-admin"
)

func main() {
	// define cli flags
	var (
		endpoint    = flag.String("endpoint", "", "node API endpoint, a local node is started if empty")
		localPort   = flag.Int("localPort", defaultLocalPort, "API port of the local node")
		electionID  = flag.StringP("election", "e", "demo", "election to vote in")
		issuerSeed  = flag.String("issuerSeed", "ticketvote-demo-issuer", "seed of the demo ticket issuer key")
		voteCount   = flag.IntP("voteCount", "n", 10, "number of votes to cast")
		adminToken  = flag.String("adminToken", "", "admin token of the node, used to close and tally the election")
		testTimeout = flag.Duration("timeout", 5*time.Minute, "timeout for the whole run")
		logLevel    = flag.String("logLevel", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()
	log.Init(*logLevel, "stdout", nil)

	ctx, cancel := context.WithTimeout(context.Background(), *testTimeout)
	defer cancel()

	issuer, err := credential.NewEdDSAIssuer([]byte(*issuerSeed))
	if err != nil {
		log.Fatal(err)
	}
	log.Infow("demo ticket issuer", "keyId", issuer.KeyID())

	// If no endpoint is provided, start a local node trusting the demo issuer
	if *endpoint == "" {
		log.Infow("no node endpoint provided, starting a local one...")
		local, err := startLocalNode(ctx, issuer, *electionID, *localPort)
		if err != nil {
			log.Fatal(err)
		}
		defer local.stop()
		*endpoint = fmt.Sprintf("http://%s:%d", defaultLocalHost, *localPort)
		if *adminToken == "" {
			*adminToken = localAdminToken
		}
		log.Infow("local node started", "endpoint", *endpoint)
	}

	cli, err := waitForNode(ctx, *endpoint)
	if err != nil {
		log.Fatal(err)
	}
	session, err := voter.New(cli)
	if err != nil {
		log.Fatal(err)
	}
	info, err := session.Election(ctx, *electionID)
	if err != nil {
		log.Fatal(err)
	}
	if !slices.Contains(info.TrustedIssuers, issuer.KeyID()) {
		log.Warnw("the demo issuer is not trusted by the election, votes will be rejected",
			"election", info.ID, "issuer", issuer.KeyID())
	}
	log.Infow("voting", "election", info.ID, "options", info.Options, "maxValue", info.MaxValue, "votes", *voteCount)

	// Cast the votes, tracking the expected tally
	expected := make([]uint64, len(info.Options))
	var first voter.Prover
	for i := range *voteCount {
		prove, err := newTicket(issuer, info)
		if err != nil {
			log.Fatal(err)
		}
		votes := make([]uint64, len(info.Options))
		for j := range votes {
			votes[j] = rand.Uint64N(info.MaxValue + 1)
		}
		receipt, err := session.CastVote(ctx, info.ID, votes, prove)
		if err != nil {
			log.Fatalf("vote %d rejected: %v", i, err)
		}
		for j, v := range votes {
			expected[j] += v
		}
		if first == nil {
			first = prove
		}
		log.Infow("vote admitted", "n", i, "receipt", receipt.ReceiptID, "nullifier", receipt.Nullifier.String())
	}

	// Reusing a ticket must be rejected
	if first != nil {
		zero := make([]uint64, len(info.Options))
		if _, err := session.CastVote(ctx, info.ID, zero, first); !errors.Is(err, sequencer.ErrDuplicateVote) {
			log.Fatalf("expected a duplicate vote error, got %v", err)
		}
		log.Infow("reused ticket rejected as expected")
	}

	if *adminToken == "" {
		log.Infow("no admin token, leaving the election open", "expected", expected)
		return
	}
	cli.SetAuthToken(*adminToken)
	res, err := cli.CloseElection(ctx, info.ID)
	if err != nil {
		log.Fatal(err)
	}
	if !slices.Equal(res.Tally, expected) {
		log.Fatalf("tally mismatch: got %v, expected %v", res.Tally, expected)
	}
	log.Infow("election tallied", "tally", res.Tally, "ballots", res.Ballots, "cid", res.CID)
}

// newTicket issues a fresh ticket for the election to a new holder.
func newTicket(issuer credential.Issuer, info *sequencer.ElectionInfo) (voter.Prover, error) {
	if len(info.EventIDs) == 0 {
		return nil, fmt.Errorf("election %s has no eligible event", info.ID)
	}
	productID := demoProductID
	if len(info.ProductIDs) > 0 {
		productID = info.ProductIDs[0]
	}
	ticketID := uuid.NewString()
	holder := credential.NewHolder()
	ticket, err := issuer.Issue(&credential.TicketClaim{
		TicketID:      ticketID,
		EventID:       info.EventIDs[0],
		ProductID:     productID,
		AttendeeEmail: ticketID + "@example.org",
		HolderKey:     holder.PublicKey(),
	})
	if err != nil {
		return nil, err
	}
	return voter.TicketProver(holder, ticket, false), nil
}

// waitForNode pings the node until it answers.
func waitForNode(ctx context.Context, endpoint string) (*client.HTTPclient, error) {
	cli, err := client.NewWithoutPing(endpoint)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	for {
		_, status, err := cli.Request(pingCtx, http.MethodGet, nil, nil, api.PingEndpoint)
		if err == nil && status == http.StatusOK {
			return cli, nil
		}
		log.Warnw("failed to ping node", "status", status, "error", err)
		select {
		case <-pingCtx.Done():
			return nil, fmt.Errorf("ping timeout: %w", pingCtx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}

// localNode is an in-memory node serving one demo election.
type localNode struct {
	stg       *storage.Storage
	sequencer *service.SequencerService
	finalizer *service.FinalizerService
	api       *service.APIService
}

func startLocalNode(ctx context.Context, issuer credential.Issuer, electionID string, port int) (*localNode, error) {
	database, err := metadb.New(db.TypeInMem, "")
	if err != nil {
		return nil, err
	}
	n := &localNode{stg: storage.New(database)}
	election := &config.Election{
		ID:             electionID,
		Title:          "Demo election",
		Options:        []string{"workshops", "parties", "grants"},
		EventIDs:       []string{demoEventID},
		TrustedIssuers: []string{issuer.KeyID()},
		CredentialType: issuer.Type(),
		MaxValue:       10,
		MaxVoters:      10000,
	}
	if err := election.Validate(); err != nil {
		return nil, err
	}
	if n.sequencer, err = service.NewSequencer(n.stg, 0, []*config.Election{election}); err != nil {
		return nil, err
	}
	if err := n.sequencer.Start(ctx); err != nil {
		return nil, err
	}
	n.finalizer = service.NewFinalizer(n.sequencer.Sequencer, 0, service.LogPublisher{})
	if err := n.finalizer.Start(ctx); err != nil {
		return nil, err
	}
	n.api = service.NewAPI(n.sequencer.Sequencer, defaultLocalHost, port, true)
	n.api.SetAdmin(n.finalizer, localAdminToken)
	if err := n.api.Start(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *localNode) stop() {
	n.api.Stop()
	n.finalizer.Stop()
	n.sequencer.Stop()
	n.stg.Close()
}
