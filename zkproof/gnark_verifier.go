package zkproof

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/holiman/uint256"
)

// GnarkVerifier is the production verification backend: Groth16 over BN254
// via gnark, keyed with the verifying key of the externally compiled
// matching circuit. The circuit itself is out of scope; this backend only
// checks proofs against public inputs.
type GnarkVerifier struct {
	vk groth16.VerifyingKey
}

// NewGnarkVerifier parses a serialized BN254 Groth16 verifying key.
func NewGnarkVerifier(vkBytes []byte) (*GnarkVerifier, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return nil, fmt.Errorf("zkproof: parse verifying key: %w", err)
	}
	return &GnarkVerifier{vk: vk}, nil
}

// NewGnarkVerifierFromKey wraps an in-memory verifying key, typically one
// produced by a test circuit's trusted setup.
func NewGnarkVerifierFromKey(vk groth16.VerifyingKey) *GnarkVerifier {
	return &GnarkVerifier{vk: vk}
}

// Name identifies the backend.
func (v *GnarkVerifier) Name() string { return "gnark-groth16-bn254" }

// Verify parses the proof, builds a public witness from the scalar vector
// and runs pairing verification. A well-formed but invalid proof yields
// (false, nil); malformed inputs yield an error.
func (v *GnarkVerifier) Verify(proofBytes []byte, publicInputs []*uint256.Int) (bool, error) {
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return false, fmt.Errorf("zkproof: parse proof: %w", err)
	}

	w, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return false, fmt.Errorf("zkproof: new witness: %w", err)
	}
	vals := make(chan any, len(publicInputs))
	for _, in := range publicInputs {
		vals <- in.ToBig()
	}
	close(vals)
	if err := w.Fill(len(publicInputs), 0, vals); err != nil {
		return false, fmt.Errorf("zkproof: fill witness: %w", err)
	}

	if err := groth16.Verify(proof, v.vk, w); err != nil {
		// Pairing mismatch: the proof is simply invalid.
		return false, nil
	}
	return true, nil
}
