package types

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// BigInt is a big.Int that marshals as a decimal string in JSON and CBOR,
// so field elements survive clients without arbitrary precision numbers.
type BigInt big.Int

// NewBigInt wraps x. The value is copied.
func NewBigInt(x *big.Int) *BigInt {
	return (*BigInt)(new(big.Int).Set(x))
}

// MathBigInt returns the math/big view of i.
func (i *BigInt) MathBigInt() *big.Int {
	return (*big.Int)(i)
}

func (i *BigInt) String() string {
	if i == nil {
		return "0"
	}
	return i.MathBigInt().String()
}

// Equal reports whether both values are equal, treating nil as distinct
// from zero.
func (i *BigInt) Equal(j *BigInt) bool {
	if i == nil || j == nil {
		return (i == nil) == (j == nil)
	}
	return i.MathBigInt().Cmp(j.MathBigInt()) == 0
}

func (i *BigInt) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *BigInt) UnmarshalText(data []byte) error {
	if i == nil {
		return fmt.Errorf("cannot unmarshal into nil BigInt")
	}
	if _, ok := i.MathBigInt().SetString(string(data), 10); !ok {
		return fmt.Errorf("invalid decimal number %q", data)
	}
	return nil
}

// UnmarshalJSON accepts both quoted and bare numbers.
func (i *BigInt) UnmarshalJSON(data []byte) error {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	return i.UnmarshalText(data)
}

func (i *BigInt) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(i.String())
}

func (i *BigInt) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	return i.UnmarshalText([]byte(s))
}
