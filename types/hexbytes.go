package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// HexBytes is a []byte that encodes as a 0x-prefixed hex string in JSON
// and text formats.
type HexBytes []byte

// HexStringToHexBytes decodes a hex string with or without the 0x prefix.
func HexStringToHexBytes(s string) (HexBytes, error) {
	b, err := hex.DecodeString(trim0x(s))
	if err != nil {
		return nil, fmt.Errorf("invalid hex string %q: %w", s, err)
	}
	return b, nil
}

// Hex returns the hex encoding without prefix.
func (b HexBytes) Hex() string {
	return hex.EncodeToString(b)
}

func (b HexBytes) String() string {
	return "0x" + b.Hex()
}

// LeftPad returns a copy of b left padded with zeros up to n bytes.
func (b HexBytes) LeftPad(n int) HexBytes {
	if len(b) >= n {
		return bytes.Clone(b)
	}
	out := make(HexBytes, n)
	copy(out[n-len(b):], b)
	return out
}

func (b HexBytes) Equal(other HexBytes) bool {
	return bytes.Equal(b, other)
}

func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *HexBytes) UnmarshalText(data []byte) error {
	decoded, err := hex.DecodeString(trim0x(string(data)))
	if err != nil {
		return fmt.Errorf("invalid hex string: %w", err)
	}
	*b = decoded
	return nil
}

func trim0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
