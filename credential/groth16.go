package credential

import (
	"bytes"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/davinci-ticketvote/crypto"
)

// Groth16PublicInputs is the number of public inputs of a groth16
// credential circuit.
const Groth16PublicInputs = 5

// Groth16Public is the public section every credential circuit must declare,
// in this order, before any other public variable.
type Groth16Public struct {
	EventHash     frontend.Variable `gnark:",public"`
	ProductHash   frontend.Variable `gnark:",public"`
	IssuerKeyHash frontend.Variable `gnark:",public"`
	Watermark     frontend.Variable `gnark:",public"`
	Nullifier     frontend.Variable `gnark:",public"`
}

// Define is empty, the struct is only used to lay out public witnesses.
func (*Groth16Public) Define(frontend.API) error { return nil }

// ReadVerifyingKey decodes a gnark BN254 groth16 verifying key.
func ReadVerifyingKey(r io.Reader) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("read verifying key: %w", err)
	}
	return vk, nil
}

// LoadVerifyingKey reads a verifying key file.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open verifying key: %w", err)
	}
	defer func() { _ = fd.Close() }()
	return ReadVerifyingKey(fd)
}

// groth16Inputs are the decoded public inputs of a credential.
type groth16Inputs struct {
	eventHash, productHash, issuerKeyHash, watermark, nullifier *big.Int
}

func decodeGroth16(cred *EligibilityCredential) (groth16.Proof, *groth16Inputs, error) {
	if len(cred.PublicInputs) != Groth16PublicInputs {
		return nil, nil, fmt.Errorf("%w: expected %d public inputs, got %d",
			ErrMalformed, Groth16PublicInputs, len(cred.PublicInputs))
	}
	values := make([]*big.Int, Groth16PublicInputs)
	for i, in := range cred.PublicInputs {
		if in == nil {
			return nil, nil, fmt.Errorf("%w: public input %d is empty", ErrMalformed, i)
		}
		v := in.MathBigInt()
		if v.Sign() < 0 || v.Cmp(crypto.SNARKField()) >= 0 {
			return nil, nil, fmt.Errorf("%w: public input %d outside the field", ErrMalformed, i)
		}
		values[i] = v
	}
	if len(cred.Proof) == 0 {
		return nil, nil, fmt.Errorf("%w: missing proof", ErrMalformed)
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(cred.Proof)); err != nil {
		return nil, nil, fmt.Errorf("%w: cannot decode proof: %v", ErrMalformed, err)
	}
	return proof, &groth16Inputs{
		eventHash:     values[0],
		productHash:   values[1],
		issuerKeyHash: values[2],
		watermark:     values[3],
		nullifier:     values[4],
	}, nil
}

func verifyGroth16(vk groth16.VerifyingKey, proof groth16.Proof, in *groth16Inputs) error {
	assignment := &Groth16Public{
		EventHash:     in.eventHash,
		ProductHash:   in.productHash,
		IssuerKeyHash: in.issuerKeyHash,
		Watermark:     in.watermark,
		Nullifier:     in.nullifier,
	}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: cannot build public witness: %v", ErrMalformed, err)
	}
	if err := groth16.Verify(proof, vk, publicWitness); err != nil {
		return fmt.Errorf("%w: proof does not verify: %v", ErrBadSignature, err)
	}
	return nil
}
