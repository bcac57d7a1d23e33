// Package ecc defines the elliptic curve point abstraction the ElGamal
// scheme is written against.
package ecc

import "math/big"

// Point is a mutable point of a prime order group. Methods that take
// operands store the result in the receiver.
type Point interface {
	// New returns the identity of the same curve.
	New() Point
	// Order returns the order of the prime subgroup.
	Order() *big.Int
	Add(a, b Point)
	ScalarMult(p Point, scalar *big.Int)
	ScalarBaseMult(scalar *big.Int)
	Neg(p Point)
	Set(p Point)
	SetZero()
	SetGenerator()
	Equal(p Point) bool
	IsZero() bool
	// Marshal returns the compressed encoding of the point.
	Marshal() []byte
	// Unmarshal decodes a compressed point and checks it belongs to the
	// prime subgroup.
	Unmarshal(data []byte) error
	// Point returns the affine coordinates.
	Point() (x, y *big.Int)
	// SetPoint sets the affine coordinates, failing if the point is not in
	// the prime subgroup.
	SetPoint(x, y *big.Int) error
	String() string
	Type() string
}
