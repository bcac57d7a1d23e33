package storage

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ArtifactEncoding defines the encoding formats for artifacts.
type ArtifactEncoding int

const (
	// ArtifactEncodingCBOR is the deterministic CBOR format used on disk.
	ArtifactEncodingCBOR ArtifactEncoding = iota
	// ArtifactEncodingJSON is the format used for published results.
	ArtifactEncodingJSON
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	var err error
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(fmt.Sprintf("cbor encoder: %v", err))
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(fmt.Sprintf("cbor decoder: %v", err))
	}
}

// EncodeArtifact encodes an artifact, in CBOR unless another supported
// encoding is given.
func EncodeArtifact(a any, encoding ...ArtifactEncoding) ([]byte, error) {
	if len(encoding) == 0 || encoding[0] == ArtifactEncodingCBOR {
		data, err := encMode.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode artifact: %w", err)
		}
		return data, nil
	}
	if encoding[0] == ArtifactEncodingJSON {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode artifact: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("unknown artifact encoding: %d", encoding[0])
}

// DecodeArtifact decodes an artifact, in CBOR unless another supported
// encoding is given.
func DecodeArtifact(data []byte, out any, encoding ...ArtifactEncoding) error {
	if len(encoding) == 0 || encoding[0] == ArtifactEncodingCBOR {
		return decMode.Unmarshal(data, out)
	}
	if encoding[0] == ArtifactEncodingJSON {
		return json.Unmarshal(data, out)
	}
	return fmt.Errorf("unknown artifact encoding: %d", encoding[0])
}
