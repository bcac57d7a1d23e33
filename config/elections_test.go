package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/encryption"
)

const testIssuer = "eddsa:0A1B2C"

const electionsYAML = `
elections:
  - id: devcon-budget
    title: Devcon budget
    options: [workshops, parties, grants]
    eventIds: [devcon-8]
    productIds: [general, speaker]
    trustedIssuers: ["eddsa:0A1B2C"]
    maxValue: 10
    maxVoters: 1000
    watermarkMode: ballot
    start: "2026-11-01T09:00:00Z"
    end: "2026-11-04T18:00:00Z"
  - id: side-event
    options: ["yes", "no"]
    eventIds: [side]
    trustedIssuers: ["ecdsa:0x00000000000000000000000000000000000000AA"]
    credentialType: ticket-ecdsa-secp256k1
    scheme: paillier
    paillierBits: 512
    maxVoters: 50
`

func writeFile(c *qt.C, name, content string) string {
	path := filepath.Join(c.TempDir(), name)
	c.Assert(os.WriteFile(path, []byte(content), 0o600), qt.IsNil)
	return path
}

func TestLoadElections(t *testing.T) {
	c := qt.New(t)
	elections, err := LoadElections(writeFile(c, "elections.yaml", electionsYAML))
	c.Assert(err, qt.IsNil)
	c.Assert(elections, qt.HasLen, 2)

	e := elections[0]
	c.Assert(e.ID, qt.Equals, "devcon-budget")
	c.Assert(e.Options, qt.DeepEquals, []string{"workshops", "parties", "grants"})
	c.Assert(e.ProductIDs, qt.DeepEquals, []string{"general", "speaker"})
	c.Assert(e.TrustedIssuers, qt.DeepEquals, []string{"eddsa:0a1b2c"})
	c.Assert(e.CredentialType, qt.Equals, credential.TypeTicketEdDSA)
	c.Assert(e.Scheme, qt.Equals, DefaultScheme)
	c.Assert(e.MaxValue, qt.Equals, uint64(10))
	c.Assert(e.MaxTally(), qt.Equals, uint64(10000))
	c.Assert(e.WatermarkMode, qt.Equals, credential.WatermarkBallot)
	c.Assert(e.End.Sub(e.Start).Hours(), qt.Equals, float64(81))

	p := elections[1]
	c.Assert(p.CredentialType, qt.Equals, credential.TypeTicketECDSA)
	c.Assert(p.MaxValue, qt.Equals, uint64(DefaultMaxValue))
	c.Assert(p.WatermarkMode, qt.Equals, credential.WatermarkElection)
	c.Assert(p.TrustedIssuers[0], qt.Equals, "ecdsa:0x00000000000000000000000000000000000000aa")
	backend, err := p.Backend()
	c.Assert(err, qt.IsNil)
	c.Assert(backend.Name(), qt.Equals, "paillier")
}

func valid() *Election {
	return &Election{
		ID:             "e1",
		Options:        []string{"a", "b"},
		EventIDs:       []string{"ev"},
		TrustedIssuers: []string{testIssuer},
		MaxVoters:      10,
	}
}

func TestValidate(t *testing.T) {
	c := qt.New(t)
	c.Assert(valid().Validate(), qt.IsNil)

	for name, mutate := range map[string]func(*Election){
		"bad id":           func(e *Election) { e.ID = "a/b" },
		"no options":       func(e *Election) { e.Options = nil },
		"no events":        func(e *Election) { e.EventIDs = nil },
		"no issuers":       func(e *Election) { e.TrustedIssuers = nil },
		"bad issuer":       func(e *Election) { e.TrustedIssuers = []string{"rsa:00"} },
		"bad type":         func(e *Election) { e.CredentialType = "passport" },
		"groth16 no vk":    func(e *Election) { e.CredentialType = credential.TypeGroth16 },
		"bad scheme":       func(e *Election) { e.Scheme = "rsa" },
		"small paillier":   func(e *Election) { e.Scheme = "paillier"; e.PaillierBits = 64 },
		"no voters":        func(e *Election) { e.MaxVoters = 0 },
		"overflow":         func(e *Election) { e.MaxValue = math.MaxUint64; e.MaxVoters = 2 },
		"bad watermark":    func(e *Election) { e.WatermarkMode = "session" },
		"bad date":         func(e *Election) { e.StartDate = "tomorrow" },
		"end before start": func(e *Election) { e.StartDate = "2026-01-02T00:00:00Z"; e.EndDate = "2026-01-01T00:00:00Z" },
	} {
		e := valid()
		mutate(e)
		c.Check(e.Validate(), qt.IsNotNil, qt.Commentf(name))
	}

	// products right at the uint64 limit are accepted
	e := valid()
	e.MaxValue = math.MaxUint64
	e.MaxVoters = 1
	c.Assert(e.Validate(), qt.IsNil)
	e.MaxVoters = 2
	c.Assert(e.Validate(), qt.ErrorMatches, ".*maxValue\\*maxVoters overflows")
}

func TestCheckCapacity(t *testing.T) {
	c := qt.New(t)
	pk, _, err := encryption.GenerateKey("elgamal-bjj")
	c.Assert(err, qt.IsNil)

	e := valid()
	c.Assert(e.Validate(), qt.IsNil)
	c.Assert(e.CheckCapacity(pk), qt.IsNil)

	e.MaxValue = 1 << 20
	e.MaxVoters = 1 << 20
	c.Assert(e.CheckCapacity(pk), qt.ErrorIs, encryption.ErrOutOfRange)
}

func TestLoadElectionsErrors(t *testing.T) {
	c := qt.New(t)
	_, err := LoadElections(filepath.Join(c.TempDir(), "missing.yaml"))
	c.Assert(err, qt.IsNotNil)

	_, err = LoadElections(writeFile(c, "empty.yaml", "elections: []\n"))
	c.Assert(err, qt.ErrorMatches, "no elections defined.*")

	dup := `
elections:
  - {id: x, options: [a], eventIds: [e], trustedIssuers: ["eddsa:00"], maxVoters: 1}
  - {id: x, options: [a], eventIds: [e], trustedIssuers: ["eddsa:00"], maxVoters: 1}
`
	_, err = LoadElections(writeFile(c, "dup.yaml", dup))
	c.Assert(err, qt.ErrorMatches, `duplicate election id "x"`)
}
