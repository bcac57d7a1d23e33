// Package bjj implements ecc.Point for BabyJubJub using gnark-crypto's
// twisted Edwards arithmetic over the BN254 scalar field.
package bjj

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/vocdoni/davinci-ticketvote/crypto/ecc"
)

// CurveType identifies the curve in serialized keys.
const CurveType = "bjj_gnark"

var params = twistededwards.GetEdwardsCurve()

// BJJ is a BabyJubJub point in affine coordinates.
type BJJ struct {
	inner twistededwards.PointAffine
}

var _ ecc.Point = (*BJJ)(nil)

// New returns the identity point (0, 1).
func New() ecc.Point {
	p := &BJJ{}
	p.SetZero()
	return p
}

func (g *BJJ) New() ecc.Point {
	return New()
}

func (g *BJJ) Order() *big.Int {
	return new(big.Int).Set(&params.Order)
}

func (g *BJJ) Type() string {
	return CurveType
}

func (g *BJJ) Add(a, b ecc.Point) {
	g.inner.Add(&a.(*BJJ).inner, &b.(*BJJ).inner)
}

func (g *BJJ) ScalarMult(p ecc.Point, scalar *big.Int) {
	s := new(big.Int).Mod(scalar, &params.Order)
	g.inner.ScalarMultiplication(&p.(*BJJ).inner, s)
}

func (g *BJJ) ScalarBaseMult(scalar *big.Int) {
	s := new(big.Int).Mod(scalar, &params.Order)
	g.inner.ScalarMultiplication(&params.Base, s)
}

func (g *BJJ) Neg(p ecc.Point) {
	g.inner.Neg(&p.(*BJJ).inner)
}

func (g *BJJ) Set(p ecc.Point) {
	g.inner.Set(&p.(*BJJ).inner)
}

func (g *BJJ) SetZero() {
	g.inner.X.SetZero()
	g.inner.Y.SetOne()
}

func (g *BJJ) SetGenerator() {
	g.inner.Set(&params.Base)
}

func (g *BJJ) Equal(p ecc.Point) bool {
	other, ok := p.(*BJJ)
	return ok && g.inner.Equal(&other.inner)
}

func (g *BJJ) IsZero() bool {
	return g.inner.IsZero()
}

func (g *BJJ) Marshal() []byte {
	return g.inner.Marshal()
}

func (g *BJJ) Unmarshal(data []byte) error {
	var p twistededwards.PointAffine
	if err := p.Unmarshal(data); err != nil {
		return fmt.Errorf("invalid point encoding: %w", err)
	}
	if err := checkSubgroup(&p); err != nil {
		return err
	}
	g.inner = p
	return nil
}

func (g *BJJ) Point() (*big.Int, *big.Int) {
	x, y := new(big.Int), new(big.Int)
	g.inner.X.BigInt(x)
	g.inner.Y.BigInt(y)
	return x, y
}

func (g *BJJ) SetPoint(x, y *big.Int) error {
	if x.Sign() < 0 || y.Sign() < 0 || x.Cmp(fr.Modulus()) >= 0 || y.Cmp(fr.Modulus()) >= 0 {
		return fmt.Errorf("coordinate out of the base field")
	}
	var p twistededwards.PointAffine
	p.X.SetBigInt(x)
	p.Y.SetBigInt(y)
	if err := checkSubgroup(&p); err != nil {
		return err
	}
	g.inner = p
	return nil
}

func (g *BJJ) String() string {
	x, y := g.Point()
	return fmt.Sprintf("(%s, %s)", x, y)
}

// checkSubgroup rejects points off the curve or outside the prime order
// subgroup.
func checkSubgroup(p *twistededwards.PointAffine) error {
	if !p.IsOnCurve() {
		return fmt.Errorf("point is not on the curve")
	}
	var q twistededwards.PointAffine
	q.ScalarMultiplication(p, &params.Order)
	if !q.IsZero() {
		return fmt.Errorf("point is not in the prime order subgroup")
	}
	return nil
}
