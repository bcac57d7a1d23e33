// Package config loads the election definitions served by a node. The file
// is read once at startup and is immutable afterwards.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/spf13/viper"
	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/encryption"
	"github.com/vocdoni/davinci-ticketvote/encryption/elgamalbjj"
	"github.com/vocdoni/davinci-ticketvote/encryption/paillier"
)

const (
	// DefaultScheme is used when an election does not name one.
	DefaultScheme = elgamalbjj.Name
	// DefaultMaxValue is the largest vote per option when not configured.
	DefaultMaxValue = 1
)

var electionIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Election is the definition of one election.
type Election struct {
	ID               string                   `mapstructure:"id" json:"id"`
	Title            string                   `mapstructure:"title" json:"title"`
	Options          []string                 `mapstructure:"options" json:"options"`
	EventIDs         []string                 `mapstructure:"eventIds" json:"eventIds"`
	ProductIDs       []string                 `mapstructure:"productIds" json:"productIds,omitempty"`
	TrustedIssuers   []string                 `mapstructure:"trustedIssuers" json:"trustedIssuers"`
	CredentialType   credential.Type          `mapstructure:"credentialType" json:"credentialType"`
	VerifyingKeyFile string                   `mapstructure:"verifyingKeyFile" json:"-"`
	Scheme           string                   `mapstructure:"scheme" json:"scheme"`
	PaillierBits     int                      `mapstructure:"paillierBits" json:"paillierBits,omitempty"`
	MaxValue         uint64                   `mapstructure:"maxValue" json:"maxValue"`
	MaxVoters        uint64                   `mapstructure:"maxVoters" json:"maxVoters"`
	WatermarkMode    credential.WatermarkMode `mapstructure:"watermarkMode" json:"watermarkMode"`
	// StartDate and EndDate are RFC 3339 timestamps. Both are optional.
	StartDate string `mapstructure:"start" json:"-"`
	EndDate   string `mapstructure:"end" json:"-"`

	Start time.Time `mapstructure:"-" json:"start,omitzero"`
	End   time.Time `mapstructure:"-" json:"end,omitzero"`
}

// Validate fills defaults and checks the definition. It does not check the
// capacity against the key, which needs the generated public key.
func (e *Election) Validate() error {
	if !electionIDRe.MatchString(e.ID) {
		return fmt.Errorf("invalid election id %q", e.ID)
	}
	if len(e.Options) == 0 {
		return fmt.Errorf("election %s: at least one option is required", e.ID)
	}
	if len(e.EventIDs) == 0 {
		return fmt.Errorf("election %s: at least one eligible event is required", e.ID)
	}
	if len(e.TrustedIssuers) == 0 {
		return fmt.Errorf("election %s: at least one trusted issuer is required", e.ID)
	}
	for i, id := range e.TrustedIssuers {
		normalized, err := credential.NormalizeKeyID(id)
		if err != nil {
			return fmt.Errorf("election %s: trusted issuer %d: %w", e.ID, i, err)
		}
		e.TrustedIssuers[i] = normalized
	}
	if e.CredentialType == "" {
		e.CredentialType = credential.TypeTicketEdDSA
	}
	if !e.CredentialType.Valid() {
		return fmt.Errorf("election %s: unknown credential type %q", e.ID, e.CredentialType)
	}
	if e.CredentialType == credential.TypeGroth16 && e.VerifyingKeyFile == "" {
		return fmt.Errorf("election %s: %s credentials require verifyingKeyFile", e.ID, e.CredentialType)
	}
	if e.Scheme == "" {
		e.Scheme = DefaultScheme
	}
	if _, err := encryption.Lookup(e.Scheme); err != nil {
		return fmt.Errorf("election %s: %w", e.ID, err)
	}
	if e.Scheme == paillier.Name && e.PaillierBits != 0 && e.PaillierBits < paillier.MinBits {
		return fmt.Errorf("election %s: paillier keys need at least %d bits", e.ID, paillier.MinBits)
	}
	if e.MaxValue == 0 {
		e.MaxValue = DefaultMaxValue
	}
	if e.MaxVoters == 0 {
		return fmt.Errorf("election %s: maxVoters is required", e.ID)
	}
	if !e.tally().IsUint64() {
		return fmt.Errorf("election %s: maxValue*maxVoters overflows", e.ID)
	}
	if e.WatermarkMode == "" {
		e.WatermarkMode = credential.WatermarkElection
	}
	if !e.WatermarkMode.Valid() {
		return fmt.Errorf("election %s: unknown watermark mode %q", e.ID, e.WatermarkMode)
	}
	var err error
	if e.Start, err = parseDate(e.StartDate); err != nil {
		return fmt.Errorf("election %s: start: %w", e.ID, err)
	}
	if e.End, err = parseDate(e.EndDate); err != nil {
		return fmt.Errorf("election %s: end: %w", e.ID, err)
	}
	if !e.Start.IsZero() && !e.End.IsZero() && !e.End.After(e.Start) {
		return fmt.Errorf("election %s: end must be after start", e.ID)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, strings.TrimSpace(s))
}

// MaxTally is the largest value an option total can reach.
func (e *Election) MaxTally() uint64 {
	return e.MaxValue * e.MaxVoters
}

// tally is MaxValue*MaxVoters without wrapping.
func (e *Election) tally() *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(e.MaxValue), uint256.NewInt(e.MaxVoters))
}

// CheckCapacity fails with encryption.ErrOutOfRange when the largest
// possible option total does not fit the plaintext domain of pk.
func (e *Election) CheckCapacity(pk *encryption.PublicKey) error {
	maxPlaintext, err := encryption.MaxPlaintext(pk)
	if err != nil {
		return err
	}
	if e.tally().Gt(uint256.NewInt(maxPlaintext)) {
		return fmt.Errorf("%w: election %s: maxValue*maxVoters exceeds the %s plaintext bound %d",
			encryption.ErrOutOfRange, e.ID, pk.Scheme, maxPlaintext)
	}
	return nil
}

// Backend returns the encryption backend configured for the election.
func (e *Election) Backend() (encryption.Backend, error) {
	if e.Scheme == paillier.Name && e.PaillierBits != 0 {
		return paillier.Scheme{Bits: e.PaillierBits}, nil
	}
	return encryption.Lookup(e.Scheme)
}

// Rules returns the credential rules of the election, loading the verifying
// key when needed.
func (e *Election) Rules() (credential.Rules, error) {
	rules := credential.Rules{
		ElectionID:     e.ID,
		Type:           e.CredentialType,
		TrustedIssuers: e.TrustedIssuers,
		EventIDs:       e.EventIDs,
		ProductIDs:     e.ProductIDs,
	}
	if e.CredentialType == credential.TypeGroth16 {
		vk, err := credential.LoadVerifyingKey(e.VerifyingKeyFile)
		if err != nil {
			return rules, fmt.Errorf("election %s: %w", e.ID, err)
		}
		rules.VerifyingKey = vk
	}
	return rules, nil
}

type electionsFile struct {
	Elections []*Election `mapstructure:"elections"`
}

// LoadElections reads and validates the election definitions in path. The
// format is taken from the file extension (yaml, json or toml). Relative
// verifying key paths are resolved against the file directory.
func LoadElections(path string) ([]*Election, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("elections file: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read elections file: %w", err)
	}
	file := &electionsFile{}
	if err := v.Unmarshal(file); err != nil {
		return nil, fmt.Errorf("decode elections file: %w", err)
	}
	if len(file.Elections) == 0 {
		return nil, fmt.Errorf("no elections defined in %s", path)
	}
	seen := make(map[string]struct{}, len(file.Elections))
	for _, e := range file.Elections {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[e.ID]; ok {
			return nil, fmt.Errorf("duplicate election id %q", e.ID)
		}
		seen[e.ID] = struct{}{}
		if e.VerifyingKeyFile != "" && !filepath.IsAbs(e.VerifyingKeyFile) {
			e.VerifyingKeyFile = filepath.Join(filepath.Dir(path), e.VerifyingKeyFile)
		}
	}
	return file.Elections, nil
}
